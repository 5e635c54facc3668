package reminders

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrInvalidInterval = errors.New("invalid recurrence interval")
	ErrNoDueDate       = errors.New("recurring task has no due date")
	ErrInvalidTask     = errors.New("invalid task")
)

// Store persists tasks. Implementations assign IDs on Create and return
// ErrNotFound from Get, Update and Delete for unknown IDs.
type Store interface {
	Create(ctx context.Context, t Task) (string, error)
	Update(ctx context.Context, id string, p Patch) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Task, error)
	List(ctx context.Context, ownerID string) ([]Task, error)
	ListAll(ctx context.Context) ([]Task, error)
	// Subscribe yields the owner's full task list now and again after every
	// write that affects the owner. The channel closes when ctx is done.
	Subscribe(ctx context.Context, ownerID string) (<-chan []Task, error)
}

// Alert is a pending notification for a task.
type Alert struct {
	TaskID   string    `json:"task_id"`
	OwnerID  string    `json:"owner_id"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	FireAt   time.Time `json:"fire_at"`
	Priority Priority  `json:"priority"`
}

// Scheduler delivers one alert per task id at its fire time.
type Scheduler interface {
	Schedule(ctx context.Context, a Alert) error
	Cancel(ctx context.Context, taskID string) error
}

// NoopScheduler drops every request.
type NoopScheduler struct{}

func (NoopScheduler) Schedule(context.Context, Alert) error { return nil }
func (NoopScheduler) Cancel(context.Context, string) error  { return nil }
