package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

type ProjectStatus string

const (
	ProjectIdea   ProjectStatus = "idea"
	ProjectActive ProjectStatus = "active"
	ProjectOnHold ProjectStatus = "on-hold"
	ProjectDone   ProjectStatus = "done"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectIdea, ProjectActive, ProjectOnHold, ProjectDone:
		return true
	}
	return false
}

// Project groups tasks under a repository or initiative.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	RepoURL     string        `json:"repoUrl,omitempty"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// ProjectStats summarises the tasks of one project.
type ProjectStats struct {
	ProjectID string             `json:"projectId"`
	Total     int                `json:"total"`
	Done      int                `json:"done"`
	ByStatus  map[TaskStatus]int `json:"byStatus"`
}

// Progress is the share of done tasks in percent, rounded down.
func (s ProjectStats) Progress() int {
	if s.Total == 0 {
		return 0
	}
	return s.Done * 100 / s.Total
}

// ComputeProjectStats counts tasks per project. Tasks without a project are
// ignored.
func ComputeProjectStats(tasks []Task) map[string]ProjectStats {
	out := map[string]ProjectStats{}
	for _, t := range tasks {
		if t.ProjectID == "" {
			continue
		}
		st, ok := out[t.ProjectID]
		if !ok {
			st = ProjectStats{ProjectID: t.ProjectID, ByStatus: map[TaskStatus]int{}}
		}
		st.Total++
		st.ByStatus[t.Status]++
		if t.Status == StatusDone {
			st.Done++
		}
		out[t.ProjectID] = st
	}
	return out
}

type ProjectData struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	RepoURL     *string        `json:"repoUrl,omitempty"`
	Status      *ProjectStatus `json:"status,omitempty"`
}

// ApplyToProject applies a project command. current is nil for unknown
// projects; a nil result means the project was deleted.
func ApplyToProject(current *Project, cmd Command, now time.Time) (*Project, error) {
	if strings.TrimSpace(cmd.EntityID) == "" {
		return nil, fmt.Errorf("%w: command has no entity id", ErrValidation)
	}
	now = now.UTC()
	switch cmd.Type {
	case ProjectCreated, ProjectUpdated:
		var data ProjectData
		if err := sonic.Unmarshal(cmd.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %s data: %v", ErrValidation, cmd.Type, err)
		}
		var p Project
		if cmd.Type == ProjectCreated {
			if current != nil {
				return nil, fmt.Errorf("%w: project %s already exists", ErrValidation, cmd.EntityID)
			}
			p = Project{ID: cmd.EntityID, Status: ProjectIdea, CreatedAt: now}
		} else {
			if current == nil {
				return nil, fmt.Errorf("project %s: %w", cmd.EntityID, ErrNotFound)
			}
			p = *current
		}
		if data.Name != nil {
			p.Name = strings.TrimSpace(*data.Name)
		}
		if data.Description != nil {
			p.Description = *data.Description
		}
		if data.RepoURL != nil {
			p.RepoURL = *data.RepoURL
		}
		if data.Status != nil {
			p.Status = *data.Status
		}
		p.UpdatedAt = now
		if p.Name == "" {
			return nil, fmt.Errorf("%w: project name is required", ErrValidation)
		}
		if !p.Status.Valid() {
			return nil, fmt.Errorf("%w: project status %q", ErrValidation, p.Status)
		}
		return &p, nil
	case ProjectDeleted:
		if current == nil {
			return nil, fmt.Errorf("project %s: %w", cmd.EntityID, ErrNotFound)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown project command %s", ErrValidation, cmd.Type)
	}
}
