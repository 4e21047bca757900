package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus is the workflow stage of a task. It decides which board column
// the task belongs to.
type TaskStatus string

const (
	StatusTodo   TaskStatus = "todo"
	StatusDoing  TaskStatus = "doing"
	StatusReview TaskStatus = "review"
	StatusDone   TaskStatus = "done"
)

// TaskStatuses lists every status in workflow order.
var TaskStatuses = []TaskStatus{StatusTodo, StatusDoing, StatusReview, StatusDone}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusReview, StatusDone:
		return true
	}
	return false
}

// ParseTaskStatus validates a raw status value.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	s := TaskStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// NormalizeStatus maps unknown or empty values to todo so every task lands in
// exactly one column.
func NormalizeStatus(raw string) TaskStatus {
	s, err := ParseTaskStatus(raw)
	if err != nil {
		return StatusTodo
	}
	return s
}

type TaskType string

const (
	TypeCode   TaskType = "code"
	TypeReview TaskType = "review"
	TypePrompt TaskType = "prompt"
	TypeDoc    TaskType = "doc"
)

func (t TaskType) Valid() bool {
	switch t {
	case TypeCode, TypeReview, TypePrompt, TypeDoc:
		return true
	}
	return false
}

func ParseTaskType(raw string) (TaskType, error) {
	t := TaskType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: task type %q", ErrValidation, raw)
	}
	return t, nil
}

type Priority string

const (
	PriorityLow  Priority = "low"
	PriorityMed  Priority = "med"
	PriorityHigh Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMed, PriorityHigh:
		return true
	}
	return false
}

// Rank orders priorities from low (1) to high (3). Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMed:
		return 2
	case PriorityHigh:
		return 3
	}
	return 0
}

func ParsePriority(raw string) (Priority, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "medium" {
		v = string(PriorityMed)
	}
	p := Priority(v)
	if !p.Valid() {
		return "", fmt.Errorf("%w: priority %q", ErrValidation, raw)
	}
	return p, nil
}

// Task represents a single board item.
type Task struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Type           TaskType   `json:"type"`
	Status         TaskStatus `json:"status"`
	Priority       Priority   `json:"priority"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	ProjectID      string     `json:"projectId,omitempty"`
	EstimatedHours *float64   `json:"estimatedHours,omitempty"`
	ActualHours    *float64   `json:"actualHours,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.EstimatedHours != nil {
		v := *t.EstimatedHours
		c.EstimatedHours = &v
	}
	if t.ActualHours != nil {
		v := *t.ActualHours
		c.ActualHours = &v
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	return c
}

// Validate checks the fields required for a task to be stored.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: task id is required", ErrValidation)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: task title is required", ErrValidation)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: task type %q", ErrValidation, t.Type)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", ErrValidation, t.Priority)
	}
	if t.EstimatedHours != nil && *t.EstimatedHours < 0 {
		return fmt.Errorf("%w: estimated hours must not be negative", ErrValidation)
	}
	if t.ActualHours != nil && *t.ActualHours < 0 {
		return fmt.Errorf("%w: actual hours must not be negative", ErrValidation)
	}
	return nil
}

// IndexTasks maps task IDs to their position in tasks.
func IndexTasks(tasks []Task) map[string]int {
	idx := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if _, dup := idx[t.ID]; !dup {
			idx[t.ID] = i
		}
	}
	return idx
}

// FindTask returns the task with the given id.
func FindTask(tasks []Task, id string) (Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}
