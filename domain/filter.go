package domain

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// TaskFilter narrows a task list. Empty fields match everything; every
// non-empty field must match.
type TaskFilter struct {
	Statuses   []TaskStatus `json:"statuses,omitempty"`
	Types      []TaskType   `json:"types,omitempty"`
	Priorities []Priority   `json:"priorities,omitempty"`
	Tags       []string     `json:"tags,omitempty"`
	ProjectID  string       `json:"projectId,omitempty"`
	Query      string       `json:"query,omitempty"`
}

// Empty reports whether the filter matches every task.
func (f TaskFilter) Empty() bool {
	return len(f.Statuses) == 0 && len(f.Types) == 0 && len(f.Priorities) == 0 &&
		len(f.Tags) == 0 && f.ProjectID == "" && strings.TrimSpace(f.Query) == ""
}

// Match reports whether t satisfies the filter.
func (f TaskFilter) Match(t Task) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, t.Type) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, t.Priority) {
		return false
	}
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	for _, tag := range f.Tags {
		if !slices.ContainsFunc(t.Tags, func(v string) bool { return strings.EqualFold(v, tag) }) {
			return false
		}
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(t.Title), q) &&
			!strings.Contains(strings.ToLower(t.Description), q) &&
			!slices.ContainsFunc(t.Tags, func(v string) bool { return strings.Contains(strings.ToLower(v), q) }) {
			return false
		}
	}
	return true
}

// FilterTasks returns the tasks matching f in their original order.
func FilterTasks(tasks []Task, f TaskFilter) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// TaskSortField names a sortable task attribute.
type TaskSortField string

const (
	SortCreatedAt TaskSortField = "created_at"
	SortUpdatedAt TaskSortField = "updated_at"
	SortDueDate   TaskSortField = "due_date"
	SortPriority  TaskSortField = "priority"
	SortTitle     TaskSortField = "title"
)

func (f TaskSortField) Valid() bool {
	switch f {
	case SortCreatedAt, SortUpdatedAt, SortDueDate, SortPriority, SortTitle:
		return true
	}
	return false
}

// TaskSort describes an ordering. The zero value keeps input order.
type TaskSort struct {
	Field TaskSortField `json:"field,omitempty"`
	Desc  bool          `json:"desc,omitempty"`
}

// SortTasks returns a sorted copy of tasks. The sort is stable. Tasks without a
// due date sort after dated ones regardless of direction.
func SortTasks(tasks []Task, s TaskSort) []Task {
	out := slices.Clone(tasks)
	if !s.Field.Valid() {
		return out
	}
	dir := 1
	if s.Desc {
		dir = -1
	}
	slices.SortStableFunc(out, func(a, b Task) int {
		switch s.Field {
		case SortUpdatedAt:
			return dir * a.UpdatedAt.Compare(b.UpdatedAt)
		case SortDueDate:
			switch {
			case a.DueDate == nil && b.DueDate == nil:
				return 0
			case a.DueDate == nil:
				return 1
			case b.DueDate == nil:
				return -1
			}
			return dir * a.DueDate.Compare(*b.DueDate)
		case SortPriority:
			return dir * cmp.Compare(a.Priority.Rank(), b.Priority.Rank())
		case SortTitle:
			return dir * strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		default:
			return dir * a.CreatedAt.Compare(b.CreatedAt)
		}
	})
	return out
}

// DueToday returns open tasks due on or before the end of now's day, the
// dashboard's "today" view.
func DueToday(tasks []Task, now time.Time) []Task {
	y, m, d := now.Date()
	endOfDay := time.Date(y, m, d, 23, 59, 59, int(time.Second-1), now.Location())
	out := []Task{}
	for _, t := range tasks {
		if t.Status == StatusDone || t.DueDate == nil {
			continue
		}
		if !t.DueDate.After(endOfDay) {
			out = append(out, t)
		}
	}
	return out
}
