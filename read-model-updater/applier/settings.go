package applier

import (
	"context"

	"devflow/domain"
)

// applySettings merges a settings update into the stored settings, starting
// from the defaults for users who never saved any.
func (a *Applier) applySettings(ctx context.Context, userID string, cmd domain.Command) error {
	v, err := a.st.GetSettings(ctx, userID)
	if err != nil {
		return err
	}
	current := domain.DefaultSettings()
	etag := ""
	if v != nil {
		if cmd.Timestamp <= v.Stamp {
			return a.stale("settings", userID, cmd, v.Stamp)
		}
		current, etag = v.Value, v.ETag
	}
	next, err := domain.ApplySettings(current, cmd)
	if err != nil {
		return err
	}
	return a.st.SaveSettings(ctx, userID, next, cmd.Timestamp, etag)
}
