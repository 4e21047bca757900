package storage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by FromEnv.
const (
	EnvBackend          = "STORAGE_BACKEND"
	EnvConnectionString = "STORAGE_CONNECTION_STRING"
	EnvSQLitePath       = "SQLITE_PATH"
	EnvTablePrefix      = "TABLE_PREFIX"
	EnvCommandQueue     = "COMMAND_QUEUE"
	EnvPageSize         = "TASKS_PAGE_SIZE"
	EnvQueueConcurrency = "STORAGE_QUEUE_CONCURRENCY"
	EnvVisibility       = "QUEUE_VISIBILITY_TIMEOUT"
)

// DefaultSQLitePath is used when STORAGE_BACKEND is sqlite and no path is set.
const DefaultSQLitePath = "devflow.db"

// ConfigFromEnv reads table and queue settings from the environment.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		TablePrefix:  os.Getenv(EnvTablePrefix),
		CommandQueue: os.Getenv(EnvCommandQueue),
	}
	var err error
	if cfg.PageSize, err = positiveEnv(EnvPageSize); err != nil {
		return Config{}, err
	}
	if cfg.QueueConcurrency, err = positiveEnv(EnvQueueConcurrency); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(EnvVisibility); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q must be a positive duration", EnvVisibility, v)
		}
		cfg.VisibilityTimeout = d
	}
	return cfg, nil
}

func positiveEnv(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q must be a positive integer", key, v)
	}
	return n, nil
}

// FromEnv opens the storage backend selected by STORAGE_BACKEND: "azure"
// (the default) or "sqlite".
func FromEnv() (*Storage, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	switch backend := strings.ToLower(os.Getenv(EnvBackend)); backend {
	case "sqlite":
		path := os.Getenv(EnvSQLitePath)
		if path == "" {
			path = DefaultSQLitePath
		}
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return NewSQLite(db, cfg), nil
	case "", "azure":
		connStr := os.Getenv(EnvConnectionString)
		if connStr == "" {
			return nil, fmt.Errorf("missing %s", EnvConnectionString)
		}
		return New(connStr, cfg)
	default:
		return nil, fmt.Errorf("unknown %s %q", EnvBackend, backend)
	}
}
