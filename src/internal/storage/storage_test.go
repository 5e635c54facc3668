package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nudge/src/internal/reminders"
)

func TestBootstrapSoul(t *testing.T) {
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	created, err := st.BootstrapSoul("")
	if err != nil || !created {
		t.Fatalf("BootstrapSoul = %v, %v", created, err)
	}
	soul, err := st.GetSoul()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(soul, "Nudge") {
		t.Errorf("unexpected soul %q", soul)
	}

	if err := st.SaveSoul("custom persona\n"); err != nil {
		t.Fatal(err)
	}
	created, err = st.BootstrapSoul("")
	if err != nil || created {
		t.Fatalf("second BootstrapSoul = %v, %v", created, err)
	}
	if soul, _ := st.GetSoul(); soul != "custom persona" {
		t.Errorf("soul = %q", soul)
	}
}

func TestBootstrapSoulFromTemplate(t *testing.T) {
	dir := t.TempDir()
	tpl := filepath.Join(dir, "tpl.md")
	if err := os.WriteFile(tpl, []byte("template persona"), 0644); err != nil {
		t.Fatal(err)
	}
	st, err := New(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.BootstrapSoul(tpl); err != nil {
		t.Fatal(err)
	}
	if soul, _ := st.GetSoul(); soul != "template persona" {
		t.Errorf("soul = %q", soul)
	}
	other, err := New(filepath.Join(dir, "other"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.BootstrapSoul(filepath.Join(dir, "missing.md")); err == nil {
		t.Error("expected error for missing template")
	}
}

func TestStateRoundTrip(t *testing.T) {
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	var missing map[string]int
	if err := st.LoadState("nothing", &missing); err != nil {
		t.Fatalf("missing state should not error: %v", err)
	}

	in := map[string]int{"a": 1, "b": 2}
	if err := st.SaveState("counts", in); err != nil {
		t.Fatal(err)
	}
	var out map[string]int
	if err := st.LoadState("counts", &out); err != nil {
		t.Fatal(err)
	}
	if out["a"] != 1 || out["b"] != 2 {
		t.Errorf("state = %v", out)
	}
}

func openTestStore(t *testing.T) *TaskStore {
	t.Helper()
	ts, err := OpenTaskStore("sqlite", filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("OpenTaskStore: %v", err)
	}
	t.Cleanup(func() { ts.Close() })
	return ts
}

func TestTaskStoreCRUD(t *testing.T) {
	ctx := context.Background()
	ts := openTestStore(t)

	due := time.Date(2025, 12, 25, 10, 0, 0, 0, time.UTC)
	created := time.Date(2025, 12, 1, 8, 0, 0, 0, time.FixedZone("CET", 3600))
	id, err := ts.Create(ctx, reminders.Task{
		OwnerID:    "u1",
		Title:      "wrap presents",
		Due:        &due,
		Priority:   reminders.PriorityHigh,
		Category:   reminders.CategoryPersonal,
		Recurrence: &reminders.Recurrence{Enabled: true, Interval: reminders.Monthly},
		CreatedAt:  created,
		Source:     "test",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := ts.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Due.Equal(due) || !got.CreatedAt.Equal(created) {
		t.Errorf("times not preserved: due=%v created=%v", got.Due, got.CreatedAt)
	}
	if got.Recurrence == nil || got.Recurrence.Interval != reminders.Monthly || !got.Recurrence.Enabled {
		t.Errorf("recurrence = %+v", got.Recurrence)
	}
	if got.Completed || got.Priority != reminders.PriorityHigh || got.Source != "test" {
		t.Errorf("unexpected task %+v", got)
	}

	done := true
	if err := ts.Update(ctx, id, reminders.Patch{Completed: &done, ClearDue: true}); err != nil {
		t.Fatal(err)
	}
	got, _ = ts.Get(ctx, id)
	if !got.Completed || got.Due != nil {
		t.Errorf("patch not applied: %+v", got)
	}

	if err := ts.Update(ctx, "missing", reminders.Patch{}); err != reminders.ErrNotFound {
		t.Errorf("Update missing = %v", err)
	}
	if err := ts.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := ts.Delete(ctx, id); err != reminders.ErrNotFound {
		t.Errorf("second Delete = %v", err)
	}
	if _, err := ts.Get(ctx, id); err != reminders.ErrNotFound {
		t.Errorf("Get deleted = %v", err)
	}
}

func TestTaskStoreOwnerIsolationAndOrder(t *testing.T) {
	ctx := context.Background()
	ts := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, owner := range []string{"u1", "u2", "u1"} {
		_, err := ts.Create(ctx, reminders.Task{OwnerID: owner, Title: owner + "-" + string(rune('a'+i)), CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		if err != nil {
			t.Fatal(err)
		}
	}

	u1, err := ts.List(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(u1) != 2 || u1[0].Title != "u1-a" || u1[1].Title != "u1-c" {
		t.Errorf("u1 list = %+v", u1)
	}
	all, _ := ts.ListAll(ctx)
	if len(all) != 3 {
		t.Errorf("ListAll len = %d", len(all))
	}
}

func TestTaskStoreSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := openTestStore(t)

	snaps, err := ts.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if first := <-snaps; len(first) != 0 {
		t.Fatalf("first snapshot = %v", first)
	}

	if _, err := ts.Create(ctx, reminders.Task{OwnerID: "u2", Title: "other owner"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Create(ctx, reminders.Task{OwnerID: "u1", Title: "mine"}); err != nil {
		t.Fatal(err)
	}

	select {
	case snap := <-snaps:
		if len(snap) != 1 || snap[0].Title != "mine" {
			t.Errorf("snapshot = %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after write")
	}
}

func TestSQLiteDSN(t *testing.T) {
	const opts = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	cases := map[string]string{
		"/data/reminders.db":             "/data/reminders.db?" + opts,
		"file:reminders.db?cache=shared": "file:reminders.db?cache=shared&" + opts,
		"file:reminders.db?":             "file:reminders.db?" + opts,
		"file:reminders.db?mode=rwc&":    "file:reminders.db?mode=rwc&" + opts,
	}
	for in, want := range cases {
		if got := sqliteDSN(in); got != want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpenTaskStoreWithQueryDSN(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "reminders.db") + "?cache=shared"
	ts, err := OpenTaskStore("sqlite", dsn)
	if err != nil {
		t.Fatalf("open with query dsn: %v", err)
	}
	defer ts.Close()

	id, err := ts.Create(context.Background(), reminders.Task{OwnerID: "u1", Title: "check", CreatedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Get(context.Background(), id); err != nil {
		t.Fatalf("get after create: %v", err)
	}
}
