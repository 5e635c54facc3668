package reminders

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextOccurrenceWeekly(t *testing.T) {
	due := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	rec := &Recurrence{Enabled: true, Interval: Weekly}
	task := Task{ID: "a", Title: "review", Due: &due, Completed: true, Recurrence: rec, Priority: PriorityHigh, CreatedAt: due.Add(-time.Hour)}

	succ, err := NextOccurrence(task, Weekly, now)
	require.NoError(t, err)
	assert.True(t, succ.Due.Equal(time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC)))
	assert.False(t, succ.Completed)
	assert.Empty(t, succ.ID)
	assert.Equal(t, now, succ.CreatedAt)
	assert.Equal(t, *rec, *succ.Recurrence)
	assert.Equal(t, PriorityHigh, succ.Priority)
	assert.True(t, task.Due.Equal(due), "source untouched")
}

func TestNextOccurrenceCalendarAware(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	cases := []struct {
		name     string
		due      time.Time
		interval Interval
		want     time.Time
	}{
		{"daily across DST", time.Date(2025, 3, 8, 9, 0, 0, 0, ny), Daily, time.Date(2025, 3, 9, 9, 0, 0, 0, ny)},
		{"monthly clamps", time.Date(2025, 1, 31, 8, 0, 0, 0, time.UTC), Monthly, time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC)},
		{"monthly leap", time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC), Monthly, time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC)},
		{"monthly year end", time.Date(2025, 12, 15, 8, 0, 0, 0, time.UTC), Monthly, time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			due := tc.due
			succ, err := NextOccurrence(Task{Due: &due}, tc.interval, now)
			require.NoError(t, err)
			assert.True(t, succ.Due.Equal(tc.want), "got %v want %v", succ.Due, tc.want)
		})
	}
}

func TestNextOccurrenceFailures(t *testing.T) {
	due := now
	_, err := NextOccurrence(Task{Due: &due}, "yearly", now)
	assert.True(t, errors.Is(err, ErrInvalidInterval))

	_, err = NextOccurrence(Task{}, Daily, now)
	assert.ErrorIs(t, err, ErrNoDueDate)
}
