package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"devflow/domain"
)

// finalizeCommands stamps commands with consecutive timestamps and makes the
// idempotency key the command ID. Commands without a key get the base36 form
// of their timestamp. It returns the keys in command order.
func finalizeCommands(cmds []domain.Command) []string {
	keys := make([]string, len(cmds))
	start := nextTimestampRange(len(cmds))
	for i := range cmds {
		ts := start + int64(i)
		if cmds[i].IdempotencyKey == "" {
			cmds[i].IdempotencyKey = strconv.FormatInt(ts, 36)
		}
		cmds[i].ID = cmds[i].IdempotencyKey
		cmds[i].Timestamp = ts
		keys[i] = cmds[i].IdempotencyKey
	}
	return keys
}

func validateCommands(cmds []domain.Command) error {
	if len(cmds) == 0 {
		return fmt.Errorf("%w: no commands", domain.ErrValidation)
	}
	for i, cmd := range cmds {
		switch cmd.EntityType {
		case domain.EntityTask, domain.EntityProject, domain.EntitySettings:
		default:
			return fmt.Errorf("%w: command %d: unknown entity type %q", domain.ErrValidation, i, cmd.EntityType)
		}
		if strings.TrimSpace(cmd.Type) == "" {
			return fmt.Errorf("%w: command %d: type is required", domain.ErrValidation, i)
		}
		if cmd.EntityType != domain.EntitySettings && strings.TrimSpace(cmd.EntityID) == "" {
			return fmt.Errorf("%w: command %d: entityId is required", domain.ErrValidation, i)
		}
	}
	return nil
}

// dispatchCommands finalizes cmds, drops the ones whose idempotency key was
// already claimed for the same entity and hands the rest to the worker pool. Without a running pool
// the commands are enqueued inline. The returned keys cover every command,
// duplicates included.
func dispatchCommands(ctx context.Context, store CommandStore, deduper Deduper, logger *log.Logger, userID string, cmds []domain.Command) ([]string, error) {
	keys := finalizeCommands(cmds)

	fresh := cmds
	var added []domain.Command
	if deduper != nil {
		results, err := deduper.Claim(ctx, userID, cmds)
		if err != nil {
			for i, ok := range results {
				if ok {
					added = append(added, cmds[i])
				}
			}
			releaseClaims(deduper, userID, added, logger)
			return nil, fmt.Errorf("dedupe: %w", err)
		}
		fresh = make([]domain.Command, 0, len(cmds))
		for i, ok := range results {
			if ok {
				fresh = append(fresh, cmds[i])
			}
		}
		added = fresh
	}
	if len(fresh) == 0 {
		return keys, nil
	}

	job := enqueueJob{userID: userID, cmds: fresh, added: added}
	if poolRunning() {
		if tryEnqueueJob(job) {
			return keys, nil
		}
		if logger != nil {
			logger.WithField("user", userID).Warn("enqueue lane saturated; rejecting commands")
		}
		releaseClaims(deduper, userID, added, logger)
		return nil, errEnqueueBusy
	}

	timeout := enqueueTimeout
	if timeout <= 0 {
		timeout = defaultInlineTimeout
	}
	enqueueCtx, cancel := context.WithTimeout(bg, timeout)
	err := store.EnqueueCommands(enqueueCtx, userID, fresh)
	cancel()
	if err != nil {
		releaseClaims(deduper, userID, added, logger)
		return nil, fmt.Errorf("enqueue inline: %w", err)
	}
	return keys, nil
}
