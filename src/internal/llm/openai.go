package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	goopenai "github.com/sashabaranov/go-openai"

	"nudge/src/internal/config"
)

// OpenAI speaks the chat-completions API directly with function tools.
type OpenAI struct {
	model  string
	client *goopenai.Client
}

func NewOpenAI(prov config.ProviderConfig, modelName string, timeout time.Duration) *OpenAI {
	cfg := goopenai.DefaultConfig(prov.APIKey)
	if prov.BaseURL != "" {
		cfg.BaseURL = prov.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAI{model: modelName, client: goopenai.NewClientWithConfig(cfg)}
}

func (o *OpenAI) Name() string { return o.model }

func (o *OpenAI) Generate(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, *Usage, error) {
	req := goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: toOpenAIMessages(msgs),
	}
	for _, ti := range tools {
		t, err := toOpenAITool(ti)
		if err != nil {
			return nil, nil, err
		}
		req.Tools = append(req.Tools, t)
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, nil, ErrEmptyResponse
	}
	usage := &Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return fromOpenAIMessage(resp.Choices[0].Message), usage, nil
}

func toOpenAITool(ti *schema.ToolInfo) (goopenai.Tool, error) {
	params := json.RawMessage(`{"type":"object","properties":{}}`)
	if ti.ParamsOneOf != nil {
		js, err := ti.ParamsOneOf.ToJSONSchema()
		if err != nil {
			return goopenai.Tool{}, fmt.Errorf("tool %s schema: %w", ti.Name, err)
		}
		raw, err := json.Marshal(js)
		if err != nil {
			return goopenai.Tool{}, fmt.Errorf("tool %s schema: %w", ti.Name, err)
		}
		params = raw
	}
	return goopenai.Tool{
		Type: goopenai.ToolTypeFunction,
		Function: &goopenai.FunctionDefinition{
			Name:        ti.Name,
			Description: ti.Desc,
			Parameters:  params,
		},
	}, nil
}

func toOpenAIMessages(msgs []*schema.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := goopenai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func fromOpenAIMessage(m goopenai.ChatCompletionMessage) *schema.Message {
	msg := &schema.Message{Role: schema.Assistant, Content: m.Content}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return msg
}
