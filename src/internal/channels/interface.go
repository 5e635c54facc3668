package channels

import (
	"context"
	"slices"
)

// ChatFunc runs one conversation turn for an inbound message and returns the reply.
type ChatFunc func(ctx context.Context, sender, prompt string) (string, error)

type Channel interface {
	Name() string
	Status() map[string]any
	Enroll(ctx context.Context) error
	ListDevices(ctx context.Context) ([]string, error)
	Send(ctx context.Context, target string, msg string) error
}

// admit applies the block/allow lists to a message. ids are the identities
// the message can be attributed to (sender, channel). Blocked ids win; an
// empty allowlist admits everyone not blocked.
func admit(allow, block []string, ids ...string) bool {
	for _, id := range ids {
		if slices.Contains(block, id) {
			return false
		}
	}
	if len(allow) == 0 {
		return true
	}
	for _, id := range ids {
		if slices.Contains(allow, id) {
			return true
		}
	}
	return false
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
