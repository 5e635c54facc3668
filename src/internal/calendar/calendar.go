package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotConfigured = errors.New("no calendar is configured")
	ErrEventNotFound = errors.New("calendar event not found")
)

type Event struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Notes    string    `json:"notes,omitempty"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"all_day,omitempty"`
}

type EventInput struct {
	Title    string
	Notes    string
	Location string
	Start    time.Time
	End      time.Time
}

// EventPatch carries the fields to change; nil means keep.
type EventPatch struct {
	Title    *string
	Notes    *string
	Location *string
	Start    *time.Time
	End      *time.Time
}

func (p EventPatch) apply(e *Event) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Notes != nil {
		e.Notes = *p.Notes
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.Start != nil {
		e.Start = *p.Start
	}
	if p.End != nil {
		e.End = *p.End
	}
}

// Provider is the minimum every calendar backend supports.
type Provider interface {
	Name() string
	Create(ctx context.Context, in EventInput) (Event, error)
	Upcoming(ctx context.Context, from, to time.Time) ([]Event, error)
}

// Updater, Deleter and Searcher are optional provider capabilities.
type Updater interface {
	Update(ctx context.Context, id string, p EventPatch) (Event, error)
}

type Deleter interface {
	Delete(ctx context.Context, id string) error
}

type Searcher interface {
	Search(ctx context.Context, query string, from, to time.Time) ([]Event, error)
}

// Adapter fronts a provider. Missing optional capabilities degrade to
// empty results or no-ops; a missing provider is ErrNotConfigured.
type Adapter struct {
	p   Provider
	now func() time.Time
}

func NewAdapter(p Provider) *Adapter {
	return &Adapter{p: p, now: time.Now}
}

func (a *Adapter) Configured() bool { return a.p != nil }

func (a *Adapter) ProviderName() string {
	if a.p == nil {
		return "none"
	}
	return a.p.Name()
}

func (a *Adapter) CreateEvent(ctx context.Context, in EventInput) (Event, error) {
	if a.p == nil {
		return Event{}, ErrNotConfigured
	}
	if in.End.IsZero() {
		in.End = in.Start.Add(time.Hour)
	}
	if in.End.Before(in.Start) {
		return Event{}, fmt.Errorf("event ends (%s) before it starts (%s)", in.End.Format(time.RFC3339), in.Start.Format(time.RFC3339))
	}
	return a.p.Create(ctx, in)
}

// FetchUpcoming lists events starting within the next days days.
func (a *Adapter) FetchUpcoming(ctx context.Context, days int) ([]Event, error) {
	if a.p == nil {
		return nil, ErrNotConfigured
	}
	from := a.now()
	return a.p.Upcoming(ctx, from, from.AddDate(0, 0, days))
}

// UpdateEvent returns nil, nil when the provider cannot update events.
func (a *Adapter) UpdateEvent(ctx context.Context, id string, p EventPatch) (*Event, error) {
	if a.p == nil {
		return nil, ErrNotConfigured
	}
	u, ok := a.p.(Updater)
	if !ok {
		return nil, nil
	}
	ev, err := u.Update(ctx, id, p)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// DeleteEvent reports false without error when the provider cannot delete.
func (a *Adapter) DeleteEvent(ctx context.Context, id string) (bool, error) {
	if a.p == nil {
		return false, ErrNotConfigured
	}
	d, ok := a.p.(Deleter)
	if !ok {
		return false, nil
	}
	if err := d.Delete(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// SearchEvents returns no events when the provider cannot search.
func (a *Adapter) SearchEvents(ctx context.Context, query string, days int) ([]Event, error) {
	if a.p == nil {
		return nil, ErrNotConfigured
	}
	s, ok := a.p.(Searcher)
	if !ok {
		return nil, nil
	}
	from := a.now()
	return s.Search(ctx, query, from, from.AddDate(0, 0, days))
}

// Format renders events compactly for the model.
func Format(events []Event, loc *time.Location) string {
	if len(events) == 0 {
		return "No events found."
	}
	events = append([]Event(nil), events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	var b strings.Builder
	for _, e := range events {
		start := e.Start.In(loc)
		if e.AllDay {
			fmt.Fprintf(&b, "- [%s] %s (all day %s)", e.ID, e.Title, start.Format("Mon Jan 2"))
		} else {
			fmt.Fprintf(&b, "- [%s] %s: %s - %s", e.ID, e.Title, start.Format("Mon Jan 2 15:04"), e.End.In(loc).Format("15:04"))
		}
		if e.Location != "" {
			b.WriteString(" @ " + e.Location)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
