package reminders

import (
	"fmt"
	"time"
)

// NextOccurrence builds the successor of a completed recurring task. The due
// date advances by one calendar unit from the current due date, in the due
// date's own location.
func NextOccurrence(t Task, interval Interval, now time.Time) (Task, error) {
	if !interval.Valid() {
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	if t.Due == nil {
		return Task{}, ErrNoDueDate
	}

	var next time.Time
	switch interval {
	case Daily:
		next = t.Due.AddDate(0, 0, 1)
	case Weekly:
		next = t.Due.AddDate(0, 0, 7)
	case Monthly:
		next = addMonth(*t.Due)
	}

	succ := t.Clone()
	succ.ID = ""
	succ.Due = &next
	succ.Completed = false
	succ.CreatedAt = now
	return succ, nil
}

// addMonth moves to the same day next month, clamping to the month's last day
// so Jan 31 becomes Feb 28 (or 29) instead of rolling into March.
func addMonth(t time.Time) time.Time {
	y, m, d := t.Date()
	firstOfNext := time.Date(y, m+1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := firstOfNext.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
