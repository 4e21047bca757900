package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"devflow/read-model-updater/applier"
	"devflow/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()
	logger.SetLevel(log.GetLevel())
	logger.Info("Read-Model Updater Service starting")

	store, err := storage.FromEnv()
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	p := &processor{
		queue:   store,
		applier: applier.New(store, logger),
		log:     logger,
		idle:    envDuration("QUEUE_IDLE_INTERVAL", time.Second),
	}
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc := redis.NewClient(storage.RedisOptions(redisConn))
		defer rc.Close()
		p.redis = rc
		p.cache = storage.NewCache(store, rc, envDuration("CACHE_TTL", 10*time.Minute))
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; board updates will not be published")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	p.run(ctx)
	logger.Info("Read-Model Updater Service stopped")
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %q", key, v)
	}
	return d
}
