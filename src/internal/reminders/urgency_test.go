package reminders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestScoreScenarios(t *testing.T) {
	overdue := Task{Priority: PriorityHigh, Due: at(-2 * time.Hour)}
	soon := Task{Priority: PriorityHigh, Due: at(10 * time.Hour)}

	assert.InDelta(t, 198, Score(overdue, now), 1e-9)
	assert.InDelta(t, 300, Score(soon, now), 1e-9)
	assert.Less(t, Score(overdue, now), Score(soon, now))
}

func TestScoreBands(t *testing.T) {
	cases := []struct {
		name string
		task Task
		want float64
	}{
		{"no due none", Task{Priority: PriorityNone}, 1000},
		{"no due low", Task{Priority: PriorityLow}, 900},
		{"no due medium", Task{Priority: PriorityMedium}, 800},
		{"unknown priority ranks as none", Task{Priority: "urgent"}, 1000},
		{"due now", Task{Priority: PriorityNone, Due: at(0)}, 600},
		{"within 72h", Task{Priority: PriorityNone, Due: at(24 * time.Hour)}, 700},
		{"within week", Task{Priority: PriorityNone, Due: at(72 * time.Hour)}, 800},
		{"beyond week", Task{Priority: PriorityNone, Due: at(168 * time.Hour)}, 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Score(tc.task, now), 1e-9)
		})
	}
}

func TestNoDueIsNeverUrgent(t *testing.T) {
	for _, p := range []Priority{PriorityHigh, PriorityMedium, PriorityLow, PriorityNone} {
		task := Task{Priority: p}
		assert.False(t, IsOverdue(task, now))
		assert.False(t, IsDueSoon(task, now))
		assert.InDelta(t, 1000-float64(3-p.Rank())*100, Score(task, now), 1e-9)
	}
}

func TestOverdueMonotonic(t *testing.T) {
	prev := Score(Task{Priority: PriorityMedium, Due: at(-time.Minute)}, now)
	for h := 1; h <= 500; h += 7 {
		s := Score(Task{Priority: PriorityMedium, Due: at(-time.Duration(h) * time.Hour)}, now)
		require.Less(t, s, prev, "hours overdue %d", h)
		prev = s
	}
}

func TestDueSoonBoundaries(t *testing.T) {
	assert.False(t, IsDueSoon(Task{Due: at(0)}, now))
	assert.True(t, IsDueSoon(Task{Due: at(time.Minute)}, now))
	assert.True(t, IsDueSoon(Task{Due: at(24 * time.Hour)}, now))
	assert.False(t, IsDueSoon(Task{Due: at(24*time.Hour + time.Second)}, now))
	assert.True(t, IsOverdue(Task{Due: at(-time.Second)}, now))
	assert.False(t, IsOverdue(Task{Due: at(0)}, now))
}
