package calendar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Local keeps events in memory. It can update and delete but not search.
type Local struct {
	mu     sync.RWMutex
	events map[string]Event
}

func NewLocal() *Local {
	return &Local{events: make(map[string]Event)}
}

func (l *Local) Name() string { return "local" }

func (l *Local) Create(_ context.Context, in EventInput) (Event, error) {
	ev := Event{
		ID:       uuid.New().String()[:8],
		Title:    in.Title,
		Notes:    in.Notes,
		Location: in.Location,
		Start:    in.Start,
		End:      in.End,
	}
	l.mu.Lock()
	l.events[ev.ID] = ev
	l.mu.Unlock()
	return ev, nil
}

func (l *Local) Upcoming(_ context.Context, from, to time.Time) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, ev := range l.events {
		if ev.End.After(from) && ev.Start.Before(to) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (l *Local) Update(_ context.Context, id string, p EventPatch) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.events[id]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	p.apply(&ev)
	l.events[id] = ev
	return ev, nil
}

func (l *Local) Delete(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.events[id]; !ok {
		return ErrEventNotFound
	}
	delete(l.events, id)
	return nil
}
