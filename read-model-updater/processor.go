package main

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"devflow/domain"
	"devflow/storage"
)

// maxDeliveries bounds how often a failing message is retried before it is
// dropped.
const maxDeliveries = 5

type commandQueue interface {
	Dequeue(ctx context.Context) (*storage.QueueMessage, error)
	Delete(ctx context.Context, id, receipt string) error
}

type commandApplier interface {
	Apply(ctx context.Context, env domain.CommandEnvelope) error
}

type cacheRefresher interface {
	Refresh(ctx context.Context, userID string) error
}

type processor struct {
	queue   commandQueue
	applier commandApplier
	cache   cacheRefresher
	redis   *redis.Client
	log     *log.Logger
	idle    time.Duration
}

// permanent reports errors that no retry can fix. A missing target is not
// one of them: the command may have overtaken the create it depends on, so it
// stays on the queue until the create is applied or maxDeliveries runs out.
// The stale guard keeps the redelivered command from applying twice.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrStaleCommand) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInvalidStatus)
}

// run applies queued commands one at a time, in queue order, until ctx ends.
func (p *processor) run(ctx context.Context) {
	for ctx.Err() == nil {
		handled, err := p.next(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.WithError(err).Error("receive command")
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.idle):
		}
	}
}

// next processes one message. It reports false when the queue was empty.
func (p *processor) next(ctx context.Context) (bool, error) {
	msg, err := p.queue.Dequeue(ctx)
	if err != nil || msg == nil {
		return false, err
	}
	entry := p.log.WithField("message", msg.ID)

	var env domain.CommandEnvelope
	if err := sonic.UnmarshalString(msg.Body, &env); err != nil {
		entry.WithError(err).Error("malformed command; dropping")
		return true, p.queue.Delete(ctx, msg.ID, msg.Receipt)
	}
	entry = entry.WithFields(log.Fields{
		"user":   env.UserID,
		"entity": env.Command.EntityType,
		"id":     env.Command.EntityID,
		"type":   env.Command.Type,
	})

	if err := p.process(ctx, env); err != nil {
		switch {
		case permanent(err):
			entry.WithError(err).Warn("command rejected; dropping")
		case msg.DequeueCount >= maxDeliveries:
			entry.WithError(err).Errorf("command failed %d times; dropping", msg.DequeueCount)
		case errors.Is(err, domain.ErrNotFound):
			entry.WithError(err).Info("target not applied yet; will retry")
			return true, nil
		default:
			entry.WithError(err).Warn("command failed; will retry")
			return true, nil
		}
	}
	return true, p.queue.Delete(ctx, msg.ID, msg.Receipt)
}

// process applies the command, refreshes the cached board and announces the
// change to stream subscribers.
func (p *processor) process(ctx context.Context, env domain.CommandEnvelope) error {
	if err := p.applier.Apply(ctx, env); err != nil {
		return err
	}
	if p.cache != nil {
		if err := p.cache.Refresh(ctx, env.UserID); err != nil {
			p.log.WithError(err).WithField("user", env.UserID).Warn("refresh cache")
		}
	}
	if p.redis != nil {
		if err := p.redis.Publish(ctx, storage.UpdatesChannel, env.UserID).Err(); err != nil {
			p.log.Errorf("Unable to publish update for %s to %s", env.UserID, storage.UpdatesChannel)
		}
	}
	return nil
}
