package cron

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"nudge/src/internal/reminders"
)

// NotifyFunc receives an alert when it fires.
type NotifyFunc func(ctx context.Context, a reminders.Alert)

// once fires a single time at the given instant.
type once time.Time

func (o once) Next(t time.Time) time.Time {
	at := time.Time(o)
	if at.After(t) {
		return at
	}
	return time.Time{}
}

type pending struct {
	entry cron.EntryID
	alert reminders.Alert
}

// AlertManager is a reminders.Scheduler on robfig/cron. Each task id owns at
// most one entry; scheduling an id that is already pending replaces it.
type AlertManager struct {
	c        *cron.Cron
	notifyFn NotifyFunc
	jobs     map[string]pending
	mu       sync.RWMutex
	now      func() time.Time
}

var _ reminders.Scheduler = (*AlertManager)(nil)

func NewAlertManager(notifyFn NotifyFunc) *AlertManager {
	return &AlertManager{
		c:        cron.New(),
		notifyFn: notifyFn,
		jobs:     make(map[string]pending),
		now:      time.Now,
	}
}

func (m *AlertManager) Start() {
	m.c.Start()
}

// Stop halts the scheduler and waits for running deliveries.
func (m *AlertManager) Stop() {
	<-m.c.Stop().Done()
}

func (m *AlertManager) Schedule(_ context.Context, a reminders.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// If already exists, remove it first
	m.removeLocked(a.TaskID)

	if !a.FireAt.After(m.now()) {
		slog.Debug("alert not scheduled, fire time passed", "task_id", a.TaskID, "fire_at", a.FireAt)
		return nil
	}

	entryID := m.c.Schedule(once(a.FireAt), cron.FuncJob(func() {
		m.fire(a)
	}))
	m.jobs[a.TaskID] = pending{entry: entryID, alert: a}
	slog.Debug("alert scheduled", "task_id", a.TaskID, "fire_at", a.FireAt)
	return nil
}

func (m *AlertManager) Cancel(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(taskID)
	return nil
}

func (m *AlertManager) removeLocked(taskID string) {
	if p, ok := m.jobs[taskID]; ok {
		m.c.Remove(p.entry)
		delete(m.jobs, taskID)
	}
}

// Pending lists alerts that have not fired yet, soonest first.
func (m *AlertManager) Pending() []reminders.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]reminders.Alert, 0, len(m.jobs))
	for _, p := range m.jobs {
		out = append(out, p.alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

func (m *AlertManager) fire(a reminders.Alert) {
	m.mu.Lock()
	// A reschedule may have replaced this entry between firing and locking.
	if p, ok := m.jobs[a.TaskID]; ok && p.alert.FireAt.Equal(a.FireAt) {
		m.c.Remove(p.entry)
		delete(m.jobs, a.TaskID)
	}
	m.mu.Unlock()

	slog.Info("alert firing", "task_id", a.TaskID, "owner", a.OwnerID, "title", a.Title)
	if m.notifyFn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m.notifyFn(ctx, a)
}
