package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
)

// newSlogHandler logs component execution to slog and, when progress is set,
// reports model activity to it.
func newSlogHandler(progress func(string)) callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			slog.Debug("Eino Component Start",
				"name", info.Name,
				"type", info.Type,
				"component", info.Component)
			if progress != nil && info.Component == components.ComponentOfChatModel {
				progress(fmt.Sprintf("[Thought: %s started]", info.Name))
			}
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			slog.Debug("Eino Component End",
				"name", info.Name,
				"type", info.Type,
				"component", info.Component)
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			slog.Error("Eino Component Error",
				"name", info.Name,
				"type", info.Type,
				"component", info.Component,
				"error", err)
			if progress != nil {
				progress(fmt.Sprintf("[Error in %s: %v]", info.Name, err))
			}
			return ctx
		}).
		Build()
}
