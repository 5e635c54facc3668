package cron

import (
	"context"
	"testing"
	"time"

	"nudge/src/internal/reminders"
)

func TestOnceSchedule(t *testing.T) {
	at := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	s := once(at)
	if got := s.Next(at.Add(-time.Minute)); !got.Equal(at) {
		t.Errorf("Next before = %v", got)
	}
	if got := s.Next(at); !got.IsZero() {
		t.Errorf("Next at fire time = %v, want zero", got)
	}
}

func TestScheduleReplacesAndCancels(t *testing.T) {
	m := NewAlertManager(nil)
	ctx := context.Background()
	fire := time.Now().Add(time.Hour)

	if err := m.Schedule(ctx, reminders.Alert{TaskID: "t1", FireAt: fire}); err != nil {
		t.Fatal(err)
	}
	if err := m.Schedule(ctx, reminders.Alert{TaskID: "t1", FireAt: fire.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := m.Schedule(ctx, reminders.Alert{TaskID: "t2", FireAt: fire}); err != nil {
		t.Fatal(err)
	}

	p := m.Pending()
	if len(p) != 2 {
		t.Fatalf("pending = %d, want 2", len(p))
	}
	if p[0].TaskID != "t2" || !p[1].FireAt.Equal(fire.Add(time.Hour)) {
		t.Errorf("pending = %+v", p)
	}
	if n := len(m.c.Entries()); n != 2 {
		t.Errorf("cron entries = %d, want 2", n)
	}

	_ = m.Cancel(ctx, "t1")
	_ = m.Cancel(ctx, "t1")
	if n := len(m.Pending()); n != 1 {
		t.Errorf("pending after cancel = %d", n)
	}
}

func TestPastAlertIgnored(t *testing.T) {
	m := NewAlertManager(nil)
	if err := m.Schedule(context.Background(), reminders.Alert{TaskID: "old", FireAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if len(m.Pending()) != 0 {
		t.Error("past alert should not be pending")
	}
}

func TestAlertFires(t *testing.T) {
	got := make(chan reminders.Alert, 1)
	m := NewAlertManager(func(_ context.Context, a reminders.Alert) { got <- a })
	m.Start()
	defer m.Stop()

	fireAt := time.Now().Add(500 * time.Millisecond)
	if err := m.Schedule(context.Background(), reminders.Alert{TaskID: "soon", Title: "stretch", FireAt: fireAt}); err != nil {
		t.Fatal(err)
	}

	select {
	case a := <-got:
		if a.TaskID != "soon" || a.Title != "stretch" {
			t.Errorf("alert = %+v", a)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("alert did not fire")
	}
	if len(m.Pending()) != 0 {
		t.Error("fired alert still pending")
	}
}
