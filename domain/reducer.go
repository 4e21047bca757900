package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// TaskCreatedData is the payload of a task-created command.
type TaskCreatedData struct {
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Type           TaskType   `json:"type,omitempty"`
	Status         TaskStatus `json:"status,omitempty"`
	Priority       Priority   `json:"priority,omitempty"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	ProjectID      string     `json:"projectId,omitempty"`
	EstimatedHours *float64   `json:"estimatedHours,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
}

// TaskUpdatedData carries a partial task update. Nil fields are left untouched.
type TaskUpdatedData struct {
	Title          *string     `json:"title,omitempty"`
	Description    *string     `json:"description,omitempty"`
	Type           *TaskType   `json:"type,omitempty"`
	Status         *TaskStatus `json:"status,omitempty"`
	Priority       *Priority   `json:"priority,omitempty"`
	DueDate        *time.Time  `json:"dueDate,omitempty"`
	ClearDueDate   bool        `json:"clearDueDate,omitempty"`
	ProjectID      *string     `json:"projectId,omitempty"`
	EstimatedHours *float64    `json:"estimatedHours,omitempty"`
	ActualHours    *float64    `json:"actualHours,omitempty"`
	Tags           *[]string   `json:"tags,omitempty"`
}

func (d TaskUpdatedData) empty() bool {
	return d.Title == nil && d.Description == nil && d.Type == nil && d.Status == nil &&
		d.Priority == nil && d.DueDate == nil && !d.ClearDueDate && d.ProjectID == nil &&
		d.EstimatedHours == nil && d.ActualHours == nil && d.Tags == nil
}

// TaskMovedData is the payload of a task-moved command.
type TaskMovedData struct {
	Status TaskStatus `json:"status"`
}

// MoveTask is the single definition of what a status change does to a task.
// It returns the updated copy and whether anything changed. Moving a task to
// its current status, or to an unknown status, changes nothing.
func MoveTask(t Task, to TaskStatus, now time.Time) (Task, bool) {
	if !to.Valid() || t.Status == to {
		return t, false
	}
	next := t.Clone()
	next.Status = to
	next.UpdatedAt = now.UTC()
	return next, true
}

// ApplyToTask applies a task command to the current state of a task. current
// is nil when the task does not exist yet. The returned task is nil when the
// command deletes it. current is never modified.
func ApplyToTask(current *Task, cmd Command, now time.Time) (*Task, error) {
	if cmd.EntityType != "" && cmd.EntityType != EntityTask {
		return nil, fmt.Errorf("%w: entity type %q is not a task", ErrValidation, cmd.EntityType)
	}
	if strings.TrimSpace(cmd.EntityID) == "" {
		return nil, fmt.Errorf("%w: command has no entity id", ErrValidation)
	}
	switch cmd.Type {
	case TaskCreated:
		if current != nil {
			return nil, fmt.Errorf("%w: task %s already exists", ErrValidation, cmd.EntityID)
		}
		var data TaskCreatedData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: task-created data: %v", ErrValidation, err)
		}
		t := newTaskFromData(cmd.EntityID, data, now)
		if err := t.Validate(); err != nil {
			return nil, err
		}
		return &t, nil
	case TaskUpdated:
		if current == nil {
			return nil, fmt.Errorf("task %s: %w", cmd.EntityID, ErrNotFound)
		}
		var data TaskUpdatedData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: task-updated data: %v", ErrValidation, err)
		}
		if data.empty() {
			return nil, fmt.Errorf("%w: task %s update had no fields", ErrValidation, cmd.EntityID)
		}
		t := applyTaskUpdate(*current, data, now)
		if err := t.Validate(); err != nil {
			return nil, err
		}
		return &t, nil
	case TaskMoved:
		if current == nil {
			return nil, fmt.Errorf("task %s: %w", cmd.EntityID, ErrNotFound)
		}
		var data TaskMovedData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: task-moved data: %v", ErrValidation, err)
		}
		if !data.Status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, data.Status)
		}
		t, _ := MoveTask(*current, data.Status, now)
		return &t, nil
	case TaskDeleted:
		if current == nil {
			return nil, fmt.Errorf("task %s: %w", cmd.EntityID, ErrNotFound)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown task command %s", ErrValidation, cmd.Type)
	}
}

// Reduce applies a task command to an owned task list and returns the new
// list. New tasks are appended; deleted tasks are removed. tasks is not
// modified.
func Reduce(tasks []Task, cmd Command, now time.Time) ([]Task, error) {
	idx := -1
	for i := range tasks {
		if tasks[i].ID == cmd.EntityID {
			idx = i
			break
		}
	}
	var current *Task
	if idx >= 0 {
		c := tasks[idx]
		current = &c
	}
	next, err := ApplyToTask(current, cmd, now)
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(tasks)+1)
	switch {
	case idx < 0:
		out = append(out, tasks...)
		out = append(out, *next)
	case next == nil:
		out = append(out, tasks[:idx]...)
		out = append(out, tasks[idx+1:]...)
	default:
		out = append(out, tasks...)
		out[idx] = *next
	}
	return out, nil
}

func newTaskFromData(id string, data TaskCreatedData, now time.Time) Task {
	now = now.UTC()
	t := Task{
		ID:             id,
		Title:          strings.TrimSpace(data.Title),
		Description:    data.Description,
		Type:           data.Type,
		Status:         data.Status,
		Priority:       data.Priority,
		DueDate:        data.DueDate,
		ProjectID:      data.ProjectID,
		EstimatedHours: data.EstimatedHours,
		Tags:           data.Tags,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.Type == "" {
		t.Type = TypeCode
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMed
	}
	return t.Clone()
}

func applyTaskUpdate(current Task, data TaskUpdatedData, now time.Time) Task {
	t := current.Clone()
	if data.Title != nil {
		t.Title = strings.TrimSpace(*data.Title)
	}
	if data.Description != nil {
		t.Description = *data.Description
	}
	if data.Type != nil {
		t.Type = *data.Type
	}
	if data.Priority != nil {
		t.Priority = *data.Priority
	}
	if data.ClearDueDate {
		t.DueDate = nil
	} else if data.DueDate != nil {
		d := *data.DueDate
		t.DueDate = &d
	}
	if data.ProjectID != nil {
		t.ProjectID = *data.ProjectID
	}
	if data.EstimatedHours != nil {
		v := *data.EstimatedHours
		t.EstimatedHours = &v
	}
	if data.ActualHours != nil {
		v := *data.ActualHours
		t.ActualHours = &v
	}
	if data.Tags != nil {
		t.Tags = append([]string(nil), (*data.Tags)...)
	}
	t.UpdatedAt = now.UTC()
	if data.Status != nil {
		t, _ = MoveTask(t, *data.Status, now)
		if !data.Status.Valid() {
			t.Status = *data.Status
		}
	}
	return t
}
