package reminders

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
	PriorityNone   Priority = "none"
)

// Rank orders priorities from most (0) to least (3) important. Unknown
// values rank as none.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow, PriorityNone:
		return true
	}
	return false
}

type Category string

const (
	CategorySchool   Category = "school"
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryHealth   Category = "health"
	CategoryFinance  Category = "finance"
	CategorySocial   Category = "social"
	CategoryErrands  Category = "errands"
	CategoryOther    Category = "other"
)

var Categories = []Category{
	CategorySchool, CategoryWork, CategoryPersonal, CategoryHealth,
	CategoryFinance, CategorySocial, CategoryErrands, CategoryOther,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Title is the human readable category name, "Other" for unknown values.
func (c Category) Title() string {
	if !c.Valid() {
		return "Other"
	}
	s := string(c)
	return strings.ToUpper(s[:1]) + s[1:]
}

type Interval string

const (
	Daily   Interval = "daily"
	Weekly  Interval = "weekly"
	Monthly Interval = "monthly"
)

func (i Interval) Valid() bool {
	return i == Daily || i == Weekly || i == Monthly
}

type Recurrence struct {
	Enabled  bool     `json:"enabled"`
	Interval Interval `json:"interval"`
}

// Task is a reminder owned by a single user. ID is assigned by the Store.
type Task struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Title       string      `json:"title"`
	Notes       string      `json:"notes,omitempty"`
	Due         *time.Time  `json:"due,omitempty"`
	Completed   bool        `json:"completed"`
	Archived    bool        `json:"archived"`
	Priority    Priority    `json:"priority"`
	Category    Category    `json:"category"`
	Subcategory string      `json:"subcategory,omitempty"`
	Recurrence  *Recurrence `json:"recurrence,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Source      string      `json:"source,omitempty"`
}

// IsActive reports whether the task shows up in the active views.
func (t Task) IsActive() bool {
	return !t.Completed && !t.Archived
}

// Recurring reports whether completing the task should produce a successor.
func (t Task) Recurring() bool {
	return t.Recurrence != nil && t.Recurrence.Enabled
}

// Clone returns a deep copy so callers can mutate pointer fields freely.
func (t Task) Clone() Task {
	c := t
	if t.Due != nil {
		due := *t.Due
		c.Due = &due
	}
	if t.Recurrence != nil {
		r := *t.Recurrence
		c.Recurrence = &r
	}
	return c
}

// Patch is a partial update. Nil fields are left untouched; ClearDue and
// ClearRecurrence remove the respective values.
type Patch struct {
	Title           *string     `json:"title,omitempty"`
	Notes           *string     `json:"notes,omitempty"`
	Due             *time.Time  `json:"due,omitempty"`
	ClearDue        bool        `json:"clear_due,omitempty"`
	Completed       *bool       `json:"completed,omitempty"`
	Archived        *bool       `json:"archived,omitempty"`
	Priority        *Priority   `json:"priority,omitempty"`
	Category        *Category   `json:"category,omitempty"`
	Subcategory     *string     `json:"subcategory,omitempty"`
	Recurrence      *Recurrence `json:"recurrence,omitempty"`
	ClearRecurrence bool        `json:"clear_recurrence,omitempty"`
}

// Apply writes the patch onto t.
func (p Patch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.ClearDue {
		t.Due = nil
	} else if p.Due != nil {
		due := *p.Due
		t.Due = &due
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Archived != nil {
		t.Archived = *p.Archived
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Subcategory != nil {
		t.Subcategory = *p.Subcategory
	}
	if p.ClearRecurrence {
		t.Recurrence = nil
	} else if p.Recurrence != nil {
		r := *p.Recurrence
		t.Recurrence = &r
	}
}

// TouchesSchedule reports whether applying the patch can change when (or
// whether) the task's alert should fire.
func (p Patch) TouchesSchedule() bool {
	return p.Title != nil || p.Due != nil || p.ClearDue || p.Completed != nil || p.Archived != nil || p.Priority != nil
}
