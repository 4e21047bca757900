package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"devflow/domain"
)

type backend interface {
	FetchAllTasks(ctx context.Context, userID string) ([]domain.Task, error)
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error
}

// Cache wraps a Storage instance with Redis-backed caching for board reads.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

const cachePayloadVersion = 1

type cachedTasks struct {
	Version  int           `json:"version"`
	CachedAt time.Time     `json:"cachedAt"`
	Tasks    []domain.Task `json:"tasks"`
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
		now:   time.Now,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) FetchAllTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, userID); ok {
		return tasks, nil
	}

	tasks, err := c.base.FetchAllTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, userID, tasks)
	return tasks, nil
}

func (c *Cache) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	if settings, ok := c.loadSettingsFromCache(ctx, userID); ok {
		return settings, nil
	}

	settings, err := c.base.FetchSettings(ctx, userID)
	if err != nil {
		return domain.Settings{}, err
	}

	c.storeSettings(ctx, userID, settings)
	return settings, nil
}

func (c *Cache) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	if err := c.base.EnqueueCommands(ctx, userID, cmds); err != nil {
		return err
	}

	c.evict(ctx, userID)
	return nil
}

// Refresh reloads the user's board data from the base store into Redis.
// Failures leave the entries evicted so the next read goes to the store.
func (c *Cache) Refresh(ctx context.Context, userID string) error {
	c.evict(ctx, userID)
	tasks, err := c.base.FetchAllTasks(ctx, userID)
	if err != nil {
		return err
	}
	settings, err := c.base.FetchSettings(ctx, userID)
	if err != nil {
		return err
	}
	c.storeTasks(ctx, userID, tasks)
	c.storeSettings(ctx, userID, settings)
	return nil
}

func (c *Cache) loadTasksFromCache(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, TasksCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, TasksCacheKey(userID)).Err()
		}
		return nil, false
	}
	var payload cachedTasks
	if err := json.Unmarshal(data, &payload); err != nil || payload.Version != cachePayloadVersion {
		_ = c.redis.Del(ctx, TasksCacheKey(userID)).Err()
		return nil, false
	}
	if payload.Tasks == nil {
		payload.Tasks = []domain.Task{}
	}
	return payload.Tasks, true
}

func (c *Cache) loadSettingsFromCache(ctx context.Context, userID string) (domain.Settings, bool) {
	if c.redis == nil {
		return domain.Settings{}, false
	}
	data, err := c.redis.Get(ctx, SettingsCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, SettingsCacheKey(userID)).Err()
		}
		return domain.Settings{}, false
	}
	var settings domain.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		_ = c.redis.Del(ctx, SettingsCacheKey(userID)).Err()
		return domain.Settings{}, false
	}
	return settings, true
}

func (c *Cache) storeTasks(ctx context.Context, userID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(cachedTasks{Version: cachePayloadVersion, CachedAt: c.now().UTC(), Tasks: tasks})
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, TasksCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) storeSettings(ctx context.Context, userID string, settings domain.Settings) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, SettingsCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, TasksCacheKey(userID), SettingsCacheKey(userID)).Result()
}

// TasksCacheKey is the Redis key holding a user's cached task list.
func TasksCacheKey(userID string) string {
	return userID + ":ts"
}

// SettingsCacheKey is the Redis key holding a user's cached settings.
func SettingsCacheKey(userID string) string {
	return userID + ":us"
}
