package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Service applies the task lifecycle on top of a Store and keeps the
// Scheduler in step with it.
type Service struct {
	store     Store
	scheduler Scheduler
	loc       *time.Location
	now       func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone used for recurrence arithmetic and alert text.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewService(store Store, scheduler Scheduler, opts ...Option) *Service {
	if scheduler == nil {
		scheduler = NoopScheduler{}
	}
	s := &Service{store: store, scheduler: scheduler, loc: time.Local, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Now() time.Time { return s.now() }

func (s *Service) Location() *time.Location { return s.loc }

func (r Recurrence) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Interval, validation.When(r.Enabled, validation.Required, validation.In(Daily, Weekly, Monthly))),
	)
}

func validateTask(t *Task) error {
	err := validation.ValidateStruct(t,
		validation.Field(&t.OwnerID, validation.Required),
		validation.Field(&t.Title, validation.Required),
		validation.Field(&t.Priority, validation.In(PriorityHigh, PriorityMedium, PriorityLow, PriorityNone)),
		validation.Field(&t.Category, validation.In(CategorySchool, CategoryWork, CategoryPersonal, CategoryHealth,
			CategoryFinance, CategorySocial, CategoryErrands, CategoryOther)),
		validation.Field(&t.Recurrence),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	return nil
}

// Create stores a new task and schedules its alert.
func (s *Service) Create(ctx context.Context, t Task) (Task, error) {
	t = t.Clone()
	t.Title = strings.TrimSpace(t.Title)
	if t.Priority == "" {
		t.Priority = PriorityNone
	}
	if t.Category == "" {
		t.Category = CategoryOther
	}
	if err := validateTask(&t); err != nil {
		return Task{}, err
	}
	t.CreatedAt = s.now()

	id, err := s.store.Create(ctx, t)
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	t.ID = id
	slog.Info("task created", "task_id", id, "owner", t.OwnerID, "source", t.Source)
	s.reschedule(ctx, t)
	return t, nil
}

// Get returns the task if it belongs to ownerID.
func (s *Service) Get(ctx context.Context, ownerID, id string) (Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if t.OwnerID != ownerID {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (s *Service) List(ctx context.Context, ownerID string) ([]Task, error) {
	return s.store.List(ctx, ownerID)
}

// Views derives every view for the owner as of now.
func (s *Service) Views(ctx context.Context, ownerID string) (Views, error) {
	tasks, err := s.store.List(ctx, ownerID)
	if err != nil {
		return Views{}, err
	}
	return BuildViews(tasks, s.now()), nil
}

// Watch maps the store subscription onto views computed at delivery time.
func (s *Service) Watch(ctx context.Context, ownerID string) (<-chan Views, error) {
	snapshots, err := s.store.Subscribe(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make(chan Views)
	go func() {
		defer close(out)
		for tasks := range snapshots {
			select {
			case out <- BuildViews(tasks, s.now()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Complete marks the task done and cancels its alert. For a recurring task
// the successor is created and returned; a recurrence that cannot be
// computed is logged and leaves the completion in place.
func (s *Service) Complete(ctx context.Context, ownerID, id string) (*Task, error) {
	t, err := s.Get(ctx, ownerID, id)
	if err != nil {
		s.cancel(ctx, id)
		return nil, err
	}
	if t.Completed {
		return nil, nil
	}
	done := true
	if err := s.store.Update(ctx, id, Patch{Completed: &done}); err != nil {
		s.cancel(ctx, id)
		return nil, err
	}
	s.cancel(ctx, id)

	if !t.Recurring() {
		return nil, nil
	}
	src := t.Clone()
	if src.Due != nil {
		local := src.Due.In(s.loc)
		src.Due = &local
	}
	succ, err := NextOccurrence(src, t.Recurrence.Interval, s.now())
	if err != nil {
		slog.Warn("recurrence skipped", "task_id", id, "error", err)
		return nil, nil
	}
	succID, err := s.store.Create(ctx, succ)
	if err != nil {
		return nil, fmt.Errorf("create successor: %w", err)
	}
	succ.ID = succID
	slog.Info("recurring task advanced", "task_id", id, "successor_id", succID, "due", succ.Due)
	s.reschedule(ctx, succ)
	return &succ, nil
}

// Uncomplete reopens a task and reschedules it if it is still ahead.
func (s *Service) Uncomplete(ctx context.Context, ownerID, id string) (Task, error) {
	open := false
	return s.setFlag(ctx, ownerID, id, Patch{Completed: &open})
}

func (s *Service) Archive(ctx context.Context, ownerID, id string) (Task, error) {
	archived := true
	return s.setFlag(ctx, ownerID, id, Patch{Archived: &archived})
}

func (s *Service) Unarchive(ctx context.Context, ownerID, id string) (Task, error) {
	archived := false
	return s.setFlag(ctx, ownerID, id, Patch{Archived: &archived})
}

func (s *Service) setFlag(ctx context.Context, ownerID, id string, p Patch) (Task, error) {
	t, err := s.Get(ctx, ownerID, id)
	if err != nil {
		s.cancel(ctx, id)
		return Task{}, err
	}
	if err := s.store.Update(ctx, id, p); err != nil {
		s.cancel(ctx, id)
		return Task{}, err
	}
	p.Apply(&t)
	s.reschedule(ctx, t)
	return t, nil
}

// Update edits task fields. Completion and archive changes are routed
// through their dedicated transitions so recurrence and alerts stay correct.
func (s *Service) Update(ctx context.Context, ownerID, id string, p Patch) (Task, error) {
	t, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return Task{}, err
	}
	completed, archived := p.Completed, p.Archived
	p.Completed, p.Archived = nil, nil

	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		p.Title = &title
	}
	next := t.Clone()
	p.Apply(&next)
	if err := validateTask(&next); err != nil {
		return Task{}, err
	}

	if err := s.store.Update(ctx, id, p); err != nil {
		s.cancel(ctx, id)
		return Task{}, err
	}
	if p.TouchesSchedule() {
		s.reschedule(ctx, next)
	}

	if completed != nil && *completed != next.Completed {
		if *completed {
			if _, err := s.Complete(ctx, ownerID, id); err != nil {
				return Task{}, err
			}
		} else if _, err := s.Uncomplete(ctx, ownerID, id); err != nil {
			return Task{}, err
		}
	}
	if archived != nil && *archived != next.Archived {
		if _, err := s.setFlag(ctx, ownerID, id, Patch{Archived: archived}); err != nil {
			return Task{}, err
		}
	}
	if completed == nil && archived == nil {
		return next, nil
	}
	return s.Get(ctx, ownerID, id)
}

// Delete removes the task and its alert. Deleting a task that is already
// gone succeeds.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	defer s.cancel(ctx, id)
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	slog.Info("task deleted", "task_id", id, "owner", ownerID)
	return nil
}

// Rehydrate schedules alerts for every active task still ahead, used after
// a restart since the scheduler keeps no state of its own.
func (s *Service) Rehydrate(ctx context.Context) (int, error) {
	tasks, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if s.reschedule(ctx, t) {
			n++
		}
	}
	return n, nil
}

func (s *Service) cancel(ctx context.Context, id string) {
	if err := s.scheduler.Cancel(ctx, id); err != nil {
		slog.Warn("cancel alert failed", "task_id", id, "error", err)
	}
}

// reschedule cancels any pending alert for the task and schedules a new one
// when the task is active with a due date in the future.
func (s *Service) reschedule(ctx context.Context, t Task) bool {
	s.cancel(ctx, t.ID)
	if !t.IsActive() || t.Due == nil || !t.Due.After(s.now()) {
		return false
	}
	if err := s.scheduler.Schedule(ctx, s.alertFor(t)); err != nil {
		slog.Warn("schedule alert failed", "task_id", t.ID, "error", err)
		return false
	}
	return true
}

func (s *Service) alertFor(t Task) Alert {
	body := t.Notes
	if body == "" {
		body = "Due " + t.Due.In(s.loc).Format("Mon Jan 2, 15:04")
	}
	return Alert{
		TaskID:   t.ID,
		OwnerID:  t.OwnerID,
		Title:    t.Title,
		Body:     body,
		FireAt:   *t.Due,
		Priority: t.Priority,
	}
}
