package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"

	"nudge/src/internal/llm"
)

type Options struct {
	MaxIterations int
	HistoryWindow int
	ModelTimeout  time.Duration
	ToolTimeout   time.Duration
	Debug         bool
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 5
	}
	if o.ModelTimeout <= 0 {
		o.ModelTimeout = 60 * time.Second
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = 30 * time.Second
	}
	return o
}

// Orchestrator runs the bounded model/tool loop: ask the model, run the
// tools it requests in order, feed the results back, until it answers or
// the iteration limit is hit.
type Orchestrator struct {
	backend llm.Backend
	tools   ToolExecutor
	opts    Options
}

func NewOrchestrator(backend llm.Backend, tools ToolExecutor, opts Options) *Orchestrator {
	return &Orchestrator{backend: backend, tools: tools, opts: opts.withDefaults()}
}

func (o *Orchestrator) Respond(ctx context.Context, turn Turn) (res *Result, err error) {
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{Name: "Orchestrator"}, newSlogHandler(turn.Progress))
	ctx = callbacks.OnStart(ctx, turn.Prompt)
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
		} else {
			callbacks.OnEnd(ctx, res.Answer)
		}
	}()

	msgs := make([]*schema.Message, 0, len(turn.History)+2)
	msgs = append(msgs, schema.SystemMessage(turn.System))
	msgs = append(msgs, o.window(turn.History)...)
	msgs = append(msgs, schema.UserMessage(turn.Prompt))

	res = &Result{}
	toolInfos := o.tools.Tools()

	for res.Iterations < o.opts.MaxIterations {
		res.Iterations++
		reply, usage, genErr := o.generate(ctx, msgs, toolInfos)
		if genErr != nil {
			slog.Warn("model call failed", "owner", turn.OwnerID, "iteration", res.Iterations, "error", genErr)
			res.Answer = FallbackBackend
			res.Transcript = msgs
			return res, fmt.Errorf("%w: %v", ErrBackend, genErr)
		}
		res.Usage.Add(usage)

		if len(reply.ToolCalls) == 0 {
			msgs = append(msgs, reply)
			res.Answer = reply.Content
			res.Transcript = msgs
			return res, nil
		}

		msgs = append(msgs, reply)
		for _, call := range reply.ToolCalls {
			out := o.runTool(ctx, turn, call)
			msgs = append(msgs, schema.ToolMessage(out, call.ID))
			res.ToolCalls++
		}
		if o.opts.Debug {
			slog.Info("tool round finished", "owner", turn.OwnerID, "iteration", res.Iterations, "calls", len(reply.ToolCalls))
		}
	}

	slog.Warn("iteration limit reached", "owner", turn.OwnerID, "limit", o.opts.MaxIterations, "tool_calls", res.ToolCalls)
	res.Answer = FallbackApology
	res.Transcript = msgs
	return res, ErrIterationCap
}

// window keeps the most recent HistoryWindow entries, starting at a user
// message; zero keeps none.
func (o *Orchestrator) window(history []*schema.Message) []*schema.Message {
	n := o.opts.HistoryWindow
	if n <= 0 {
		return nil
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	// Never open on an answer whose prompt was cut off.
	for len(history) > 0 && history[0].Role != schema.User {
		history = history[1:]
	}
	return history
}

type generation struct {
	msg   *schema.Message
	usage *llm.Usage
	err   error
}

func (o *Orchestrator) generate(ctx context.Context, msgs []*schema.Message, toolInfos []*schema.ToolInfo) (*schema.Message, *llm.Usage, error) {
	g, err := within(ctx, o.opts.ModelTimeout, func(ctx context.Context) generation {
		msg, usage, err := o.backend.Generate(ctx, msgs, toolInfos)
		return generation{msg, usage, err}
	})
	switch {
	case err != nil:
		return nil, nil, fmt.Errorf("no response within %s: %w", o.opts.ModelTimeout, err)
	case g.err != nil:
		return nil, nil, g.err
	case g.msg == nil:
		return nil, nil, llm.ErrEmptyResponse
	case len(g.msg.ToolCalls) == 0 && strings.TrimSpace(g.msg.Content) == "":
		return nil, nil, llm.ErrEmptyResponse
	}
	return g.msg, g.usage, nil
}

// runTool executes one call on the loop's goroutine under ToolTimeout. Tools
// are never abandoned: the next call starts only after this one returned, so
// whatever the tool committed is reflected in its result.
func (o *Orchestrator) runTool(ctx context.Context, turn Turn, call schema.ToolCall) (out string) {
	name := call.Function.Name
	if turn.Progress != nil {
		turn.Progress(fmt.Sprintf("[Tool: %s]", name))
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.ToolTimeout)
	defer cancel()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", name, "panic", r)
			out = fmt.Sprintf("Error: %s failed unexpectedly", name)
		}
	}()

	out = o.tools.Execute(ctx, turn.OwnerID, name, call.Function.Arguments)
	if ctx.Err() == nil {
		slog.Debug("tool executed", "tool", name, "owner", turn.OwnerID, "duration", time.Since(start))
		return out
	}
	if strings.HasPrefix(out, "Error:") {
		slog.Warn("tool timed out", "tool", name, "owner", turn.OwnerID, "timeout", o.opts.ToolTimeout, "error", ctx.Err())
		return fmt.Sprintf("Error: %s did not finish within %s", name, o.opts.ToolTimeout)
	}
	// Finished late but succeeded; report what actually happened.
	slog.Warn("tool overran its deadline", "tool", name, "owner", turn.OwnerID, "timeout", o.opts.ToolTimeout, "duration", time.Since(start))
	return out
}

// within runs fn under a deadline and stops waiting when it passes, even if
// fn ignores its context. Only for calls without side effects.
func within[T any](ctx context.Context, d time.Duration, fn func(context.Context) T) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	done := make(chan T, 1)
	go func() { done <- fn(ctx) }()
	select {
	case v := <-done:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
