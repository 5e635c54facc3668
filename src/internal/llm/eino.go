package llm

import (
	"context"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"nudge/src/internal/config"
)

// Eino drives an OpenAI-compatible endpoint through eino's ChatModel.
type Eino struct {
	name string
	cm   model.ToolCallingChatModel
}

func NewEino(ctx context.Context, prov config.ProviderConfig, modelName string, timeout time.Duration) (*Eino, error) {
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: prov.BaseURL,
		APIKey:  prov.APIKey,
		Model:   modelName,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return &Eino{name: modelName, cm: cm}, nil
}

// NewEinoWithModel wraps an existing chat model.
func NewEinoWithModel(name string, cm model.ToolCallingChatModel) *Eino {
	return &Eino{name: name, cm: cm}
}

func (e *Eino) Name() string { return e.name }

func (e *Eino) Generate(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, *Usage, error) {
	cm := e.cm
	if len(tools) > 0 {
		bound, err := e.cm.WithTools(tools)
		if err != nil {
			return nil, nil, err
		}
		cm = bound
	}
	resp, err := cm.Generate(ctx, msgs)
	if err != nil {
		return nil, nil, err
	}
	if resp == nil {
		return nil, nil, ErrEmptyResponse
	}
	var usage *Usage
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		usage = &Usage{
			PromptTokens:     resp.ResponseMeta.Usage.PromptTokens,
			CompletionTokens: resp.ResponseMeta.Usage.CompletionTokens,
			TotalTokens:      resp.ResponseMeta.Usage.TotalTokens,
		}
	}
	return resp, usage, nil
}
