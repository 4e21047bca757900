package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"devflow/domain"
)

func decodeTask(r row) (domain.Task, error) {
	var t domain.Task
	if err := json.Unmarshal(r.Data, &t); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s: %w", r.RowKey, err)
	}
	if t.ID == "" {
		t.ID = r.RowKey
	}
	t.Status = domain.NormalizeStatus(string(t.Status))
	return t, nil
}

// FetchTasks returns one page of the user's tasks in creation order. An empty
// continuationToken starts at the beginning; limit <= 0 uses the configured
// page size. The returned token is empty on the last page.
func (s *Storage) FetchTasks(ctx context.Context, userID, continuationToken string, limit int) ([]domain.Task, string, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	after := ""
	if continuationToken != "" {
		pk, rk, err := decodeContinuationToken(continuationToken)
		if err != nil {
			return nil, "", err
		}
		if pk != userID {
			return nil, "", invalidTokenError{reason: "issued for another partition"}
		}
		after = rk
	}
	rows, err := s.tables.list(ctx, s.names.tasks, userID, after, limit+1)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		next = encodeContinuationToken(userID, rows[limit-1].RowKey)
	}
	tasks := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		t, err := decodeTask(r)
		if err != nil {
			return nil, "", err
		}
		tasks = append(tasks, t)
	}
	return tasks, next, nil
}

// FetchAllTasks returns every task of the user in creation order.
func (s *Storage) FetchAllTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := s.tables.list(ctx, s.names.tasks, userID, "", 0)
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		t, err := decodeTask(r)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// GetTask retrieves a task if present.
func (s *Storage) GetTask(ctx context.Context, userID, id string) (*Versioned[domain.Task], error) {
	r, err := s.tables.get(ctx, s.names.tasks, userID, id)
	if err != nil || r == nil {
		return nil, err
	}
	t, err := decodeTask(*r)
	if err != nil {
		return nil, err
	}
	return &Versioned[domain.Task]{Value: t, ETag: r.ETag, Stamp: r.Stamp}, nil
}

// SaveTask writes a task stamped with the command timestamp. An empty etag
// creates the row.
func (s *Storage) SaveTask(ctx context.Context, userID string, t domain.Task, stamp int64, etag string) error {
	return saveVersioned(ctx, s.tables, s.names.tasks, userID, t.ID, t, stamp, etag)
}

// DeleteTask removes a task. Deleting a missing task is not an error.
func (s *Storage) DeleteTask(ctx context.Context, userID, id string) error {
	err := s.tables.remove(ctx, s.names.tasks, userID, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// FetchProjects returns the user's projects in creation order.
func (s *Storage) FetchProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	return listDocs[domain.Project](ctx, s.tables, s.names.projects, userID)
}

func (s *Storage) GetProject(ctx context.Context, userID, id string) (*Versioned[domain.Project], error) {
	return getVersioned[domain.Project](ctx, s.tables, s.names.projects, userID, id)
}

func (s *Storage) SaveProject(ctx context.Context, userID string, p domain.Project, stamp int64, etag string) error {
	return saveVersioned(ctx, s.tables, s.names.projects, userID, p.ID, p, stamp, etag)
}

func (s *Storage) DeleteProject(ctx context.Context, userID, id string) error {
	err := s.tables.remove(ctx, s.names.projects, userID, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// FetchSettings returns the user's settings, or the defaults if none were
// saved.
func (s *Storage) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	v, err := s.GetSettings(ctx, userID)
	if err != nil {
		return domain.Settings{}, err
	}
	if v == nil {
		return domain.DefaultSettings(), nil
	}
	return v.Value, nil
}

// GetSettings returns the stored settings row or nil.
func (s *Storage) GetSettings(ctx context.Context, userID string) (*Versioned[domain.Settings], error) {
	return getVersioned[domain.Settings](ctx, s.tables, s.names.settings, userID, userID)
}

func (s *Storage) SaveSettings(ctx context.Context, userID string, settings domain.Settings, stamp int64, etag string) error {
	return saveVersioned(ctx, s.tables, s.names.settings, userID, userID, settings, stamp, etag)
}
