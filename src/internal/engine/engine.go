package engine

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"

	"nudge/src/internal/llm"
)

var (
	ErrIterationCap = errors.New("tool iteration limit reached")
	ErrBackend      = errors.New("language model backend failed")
)

// Texts returned as the answer when a turn cannot produce one.
const (
	FallbackApology = "I'm sorry, I couldn't finish that request. Could you try again, maybe with a little more detail?"
	FallbackBackend = "I'm having trouble thinking right now. Please try again in a moment."
)

// Engine answers one conversational turn.
//
// Implementations do not touch session state; the caller records the
// exchange and accounts tokens.
type Engine interface {
	Respond(ctx context.Context, turn Turn) (*Result, error)
}

// ToolExecutor is the tool catalog plus the means to run it.
type ToolExecutor interface {
	Tools() []*schema.ToolInfo
	Execute(ctx context.Context, ownerID, name, arguments string) string
}

type Turn struct {
	OwnerID string
	System  string
	History []*schema.Message
	Prompt  string
	// Progress, when set, receives short status lines while the turn runs.
	Progress func(string)
}

type Result struct {
	Answer     string
	Iterations int
	ToolCalls  int
	Usage      llm.Usage
	Transcript []*schema.Message
}
