package reminders

import (
	"context"
	"log/slog"
	"sync"
)

// Broadcaster turns "owner X changed" signals into snapshot streams. Stores
// embed it and call Notify after each committed write.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// Notify wakes every subscriber of the owner. Signals coalesce.
func (b *Broadcaster) Notify(ownerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ownerID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Stream emits list(ownerID) immediately and after every Notify for the owner
// until ctx is done. The subscriber is registered before the first list so a
// write racing with it still triggers a refresh.
func (b *Broadcaster) Stream(ctx context.Context, ownerID string, list func(context.Context) ([]Task, error)) (<-chan []Task, error) {
	signal := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[string]map[chan struct{}]struct{})
	}
	if b.subs[ownerID] == nil {
		b.subs[ownerID] = make(map[chan struct{}]struct{})
	}
	b.subs[ownerID][signal] = struct{}{}
	b.mu.Unlock()

	first, err := list(ctx)
	if err != nil {
		b.unsubscribe(ownerID, signal)
		return nil, err
	}

	out := make(chan []Task, 1)
	out <- first
	go func() {
		defer close(out)
		defer b.unsubscribe(ownerID, signal)
		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
			}
			tasks, err := list(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("snapshot refresh failed", "owner", ownerID, "error", err)
				}
				continue
			}
			select {
			case out <- tasks:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Broadcaster) unsubscribe(ownerID string, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[ownerID], ch)
	if len(b.subs[ownerID]) == 0 {
		delete(b.subs, ownerID)
	}
}
