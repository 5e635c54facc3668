package reminders

import (
	"sort"
	"time"
)

// Group is one (Category, Subcategory) partition of the active tasks.
type Group struct {
	Category    Category `json:"category"`
	Subcategory string   `json:"subcategory,omitempty"`
	Name        string   `json:"name"`
	Tasks       []Task   `json:"tasks"`
}

// Views is every derived list for one owner at one instant.
type Views struct {
	Now       time.Time `json:"now"`
	Active    []Task    `json:"active"`
	Overdue   []Task    `json:"overdue"`
	DueSoon   []Task    `json:"due_soon"`
	Completed []Task    `json:"completed"`
	Archived  []Task    `json:"archived"`
	Groups    []Group   `json:"groups"`
}

// BuildViews derives all views from a snapshot. The input is not modified.
func BuildViews(tasks []Task, now time.Time) Views {
	return Views{
		Now:       now,
		Active:    Active(tasks, now),
		Overdue:   Overdue(tasks, now),
		DueSoon:   DueSoon(tasks, now),
		Completed: CompletedTasks(tasks),
		Archived:  ArchivedTasks(tasks),
		Groups:    GroupByCategory(tasks, now),
	}
}

func filter(tasks []Task, keep func(Task) bool) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func sortByUrgency(tasks []Task, now time.Time) {
	sort.SliceStable(tasks, func(i, j int) bool {
		si, sj := Score(tasks[i], now), Score(tasks[j], now)
		if si != sj {
			return si < sj
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// Active returns incomplete, unarchived tasks, most urgent first.
func Active(tasks []Task, now time.Time) []Task {
	out := filter(tasks, Task.IsActive)
	sortByUrgency(out, now)
	return out
}

func Overdue(tasks []Task, now time.Time) []Task {
	return filter(Active(tasks, now), func(t Task) bool { return IsOverdue(t, now) })
}

func DueSoon(tasks []Task, now time.Time) []Task {
	return filter(Active(tasks, now), func(t Task) bool { return IsDueSoon(t, now) })
}

func CompletedTasks(tasks []Task) []Task {
	return filter(tasks, func(t Task) bool { return t.Completed && !t.Archived })
}

func ArchivedTasks(tasks []Task) []Task {
	return filter(tasks, func(t Task) bool { return t.Archived })
}

func groupName(c Category, sub string) string {
	if sub != "" {
		return sub
	}
	return c.Title()
}

type groupKey struct {
	category    Category
	subcategory string
}

// GroupByCategory partitions the active tasks by (Category, Subcategory).
// School groups come first, the rest are ordered by display name.
func GroupByCategory(tasks []Task, now time.Time) []Group {
	index := make(map[groupKey]int)
	var groups []Group
	for _, t := range Active(tasks, now) {
		key := groupKey{t.Category, t.Subcategory}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{
				Category:    t.Category,
				Subcategory: t.Subcategory,
				Name:        groupName(t.Category, t.Subcategory),
			})
		}
		// Active is already sorted, so appending keeps each group ordered.
		groups[i].Tasks = append(groups[i].Tasks, t)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		si, sj := groups[i].Category == CategorySchool, groups[j].Category == CategorySchool
		if si != sj {
			return si
		}
		if groups[i].Name != groups[j].Name {
			return groups[i].Name < groups[j].Name
		}
		if groups[i].Category != groups[j].Category {
			return groups[i].Category < groups[j].Category
		}
		return groups[i].Subcategory < groups[j].Subcategory
	})
	return groups
}
