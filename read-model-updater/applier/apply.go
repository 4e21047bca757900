// Package applier folds queued commands into the read model.
package applier

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"devflow/domain"
	"devflow/storage"
)

// Store is the read model the applier writes to.
type Store interface {
	GetTask(ctx context.Context, userID, id string) (*storage.Versioned[domain.Task], error)
	SaveTask(ctx context.Context, userID string, t domain.Task, stamp int64, etag string) error
	DeleteTask(ctx context.Context, userID, id string) error
	GetProject(ctx context.Context, userID, id string) (*storage.Versioned[domain.Project], error)
	SaveProject(ctx context.Context, userID string, p domain.Project, stamp int64, etag string) error
	DeleteProject(ctx context.Context, userID, id string) error
	GetSettings(ctx context.Context, userID string) (*storage.Versioned[domain.Settings], error)
	SaveSettings(ctx context.Context, userID string, settings domain.Settings, stamp int64, etag string) error
}

const defaultMaxAttempts = 5

// Applier applies commands with optimistic concurrency: every write carries
// the ETag it read, and a conflicting write re-reads and tries again.
type Applier struct {
	st          Store
	log         *log.Logger
	maxAttempts int
}

func New(st Store, logger *log.Logger) *Applier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Applier{st: st, log: logger, maxAttempts: defaultMaxAttempts}
}

// Apply applies one command for the envelope's user. Commands not newer than
// the stored entity fail with domain.ErrStaleCommand; a redelivered command
// therefore never applies twice.
func (a *Applier) Apply(ctx context.Context, env domain.CommandEnvelope) error {
	if env.UserID == "" {
		return fmt.Errorf("%w: envelope has no user", domain.ErrValidation)
	}
	cmd := env.Command
	switch cmd.EntityType {
	case domain.EntityTask:
		return a.retry(ctx, func() error { return a.applyTask(ctx, env.UserID, cmd) })
	case domain.EntityProject:
		return a.retry(ctx, func() error { return a.applyProject(ctx, env.UserID, cmd) })
	case domain.EntitySettings:
		return a.retry(ctx, func() error { return a.applySettings(ctx, env.UserID, cmd) })
	}
	return fmt.Errorf("%w: unknown entity type %q", domain.ErrValidation, cmd.EntityType)
}

func (a *Applier) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if err = fn(); !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// commandTime is the instant a command was accepted. Timestamps are unix
// nanoseconds assigned by the API.
func commandTime(cmd domain.Command) time.Time {
	if cmd.Timestamp <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(0, cmd.Timestamp).UTC()
}

func (a *Applier) stale(kind, userID string, cmd domain.Command, current int64) error {
	a.log.WithFields(log.Fields{
		"user":    userID,
		kind:      cmd.EntityID,
		"type":    cmd.Type,
		"ts":      cmd.Timestamp,
		"current": current,
	}).Warn("stale command")
	return fmt.Errorf("%s %s: %w", kind, cmd.EntityID, domain.ErrStaleCommand)
}
