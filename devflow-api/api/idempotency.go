package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"devflow/domain"
)

// dedupeKeyPrefix separates idempotency claims from the board cache entries
// kept under the same user prefix.
const dedupeKeyPrefix = "dk"

// dedupeKey scopes a command's idempotency key to the entity it targets:
// user:dk:<entityType>:<entityId>:<key>. Clients that number keys per task
// therefore never collide across tasks. Settings have a single entity per
// user and no entity ID.
func dedupeKey(userID string, cmd domain.Command) string {
	entityID := cmd.EntityID
	if entityID == "" {
		entityID = "-"
	}
	return userID + ":" + dedupeKeyPrefix + ":" + cmd.EntityType + ":" + entityID + ":" + cmd.IdempotencyKey
}

// RedisDeduper records claimed idempotency keys in Redis so every API
// instance drops a command another instance already accepted. The claim value
// is the command type, which is what operators look for when a key is reused.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper whose claims expire after ttl.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// Release forgets the claim for cmd so a failed enqueue can be retried with
// the same key.
func (r *RedisDeduper) Release(ctx context.Context, userID string, cmd domain.Command) error {
	return r.client.Del(ctx, dedupeKey(userID, cmd)).Err()
}

// Claim sets a claim for every command in one pipeline and reports which
// were new. On error the slice holds what was claimed before the failure so
// the caller can release it.
func (r *RedisDeduper) Claim(ctx context.Context, userID string, cmds []domain.Command) ([]bool, error) {
	if len(cmds) == 0 {
		return nil, nil
	}

	results := make([]bool, len(cmds))
	replies, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, cmd := range cmds {
			pipe.SetNX(ctx, dedupeKey(userID, cmd), cmd.Type, r.ttl)
		}
		return nil
	})
	if err != nil {
		return results, err
	}
	if len(replies) != len(cmds) {
		return results, fmt.Errorf("deduper pipeline mismatch: expected %d results, got %d", len(cmds), len(replies))
	}
	for i, reply := range replies {
		boolCmd, ok := reply.(*redis.BoolCmd)
		if !ok {
			return results, fmt.Errorf("unexpected redis response type %T", reply)
		}
		val, cmdErr := boolCmd.Result()
		if cmdErr != nil {
			return results, cmdErr
		}
		results[i] = val
	}
	return results, nil
}
