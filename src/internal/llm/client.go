package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"nudge/src/internal/config"
)

var ErrEmptyResponse = errors.New("model returned an empty response")

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Backend is one language-model round trip: transcript and tool catalog in,
// either a final answer or tool calls out.
type Backend interface {
	Name() string
	Generate(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, *Usage, error)
}

// Fallback tries each backend in order and returns the first success.
type Fallback struct {
	backends []Backend
}

func NewFallback(backends ...Backend) *Fallback {
	return &Fallback{backends: backends}
}

func (f *Fallback) Name() string {
	names := make([]string, 0, len(f.backends))
	for _, b := range f.backends {
		names = append(names, b.Name())
	}
	return strings.Join(names, ",")
}

func (f *Fallback) Generate(ctx context.Context, msgs []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, *Usage, error) {
	if len(f.backends) == 0 {
		return nil, nil, errors.New("no language model configured")
	}
	var lastErr error
	for _, b := range f.backends {
		slog.Debug("attempting LLM", "model", b.Name())
		msg, usage, err := b.Generate(ctx, msgs, tools)
		if err == nil {
			return msg, usage, nil
		}
		lastErr = fmt.Errorf("model %s failed: %w", b.Name(), err)
		slog.Warn("LLM failed", "model", b.Name(), "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, nil, fmt.Errorf("all models failed: %w", lastErr)
}

// NewFromConfig builds the primary model followed by its fallbacks using the
// configured engine.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Backend, error) {
	selections := append([]string{cfg.Agents.Defaults.Model.Primary}, cfg.Agents.Defaults.Model.Fallbacks...)
	var backends []Backend
	for _, sel := range selections {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		prov, modelName, err := cfg.ResolveModel(sel)
		if err != nil {
			slog.Warn("skipping model", "model", sel, "error", err)
			continue
		}
		var b Backend
		switch strings.ToLower(cfg.Agents.Defaults.Engine) {
		case config.EngineOpenAI:
			b = NewOpenAI(prov, modelName, cfg.Agents.ModelTimeout)
		default:
			b, err = NewEino(ctx, prov, modelName, cfg.Agents.ModelTimeout)
		}
		if err != nil {
			slog.Warn("failed to initialize model", "model", sel, "error", err)
			continue
		}
		backends = append(backends, b)
	}
	switch len(backends) {
	case 0:
		return nil, fmt.Errorf("no usable model: primary=%q fallbacks=%v", cfg.Agents.Defaults.Model.Primary, cfg.Agents.Defaults.Model.Fallbacks)
	case 1:
		return backends[0], nil
	}
	return NewFallback(backends...), nil
}
