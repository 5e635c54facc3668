package reminders

import (
	"math"
	"time"
)

const baseScore = 1000.0

// HoursUntilDue returns the signed number of hours from now until the task is
// due. ok is false when the task has no due date.
func HoursUntilDue(t Task, now time.Time) (hours float64, ok bool) {
	if t.Due == nil {
		return 0, false
	}
	return t.Due.Sub(now).Hours(), true
}

// Score ranks a task by urgency; lower is more urgent. It depends only on
// priority, due date and now, and is never stored.
func Score(t Task, now time.Time) float64 {
	score := baseScore - float64(3-t.Priority.Rank())*100

	h, ok := HoursUntilDue(t, now)
	if !ok {
		return score
	}
	switch {
	case h < 0:
		score -= 500 + math.Abs(h)
	case h < 24:
		score -= 400
	case h < 72:
		score -= 300
	case h < 168:
		score -= 200
	}
	return score
}

// IsOverdue reports whether the due date has passed.
func IsOverdue(t Task, now time.Time) bool {
	h, ok := HoursUntilDue(t, now)
	return ok && h < 0
}

// IsDueSoon reports whether the task falls due within the next 24 hours.
func IsDueSoon(t Task, now time.Time) bool {
	h, ok := HoursUntilDue(t, now)
	return ok && h > 0 && h <= 24
}
