package applier

import (
	"context"

	"devflow/domain"
)

func (a *Applier) applyTask(ctx context.Context, userID string, cmd domain.Command) error {
	v, err := a.st.GetTask(ctx, userID, cmd.EntityID)
	if err != nil {
		return err
	}
	var current *domain.Task
	etag := ""
	if v != nil {
		if cmd.Timestamp <= v.Stamp {
			return a.stale("task", userID, cmd, v.Stamp)
		}
		current, etag = &v.Value, v.ETag
	}
	next, err := domain.ApplyToTask(current, cmd, commandTime(cmd))
	if err != nil {
		return err
	}
	if next == nil {
		return a.st.DeleteTask(ctx, userID, cmd.EntityID)
	}
	return a.st.SaveTask(ctx, userID, *next, cmd.Timestamp, etag)
}

func (a *Applier) applyProject(ctx context.Context, userID string, cmd domain.Command) error {
	v, err := a.st.GetProject(ctx, userID, cmd.EntityID)
	if err != nil {
		return err
	}
	var current *domain.Project
	etag := ""
	if v != nil {
		if cmd.Timestamp <= v.Stamp {
			return a.stale("project", userID, cmd, v.Stamp)
		}
		current, etag = &v.Value, v.ETag
	}
	next, err := domain.ApplyToProject(current, cmd, commandTime(cmd))
	if err != nil {
		return err
	}
	if next == nil {
		return a.st.DeleteProject(ctx, userID, cmd.EntityID)
	}
	return a.st.SaveProject(ctx, userID, *next, cmd.Timestamp, etag)
}
