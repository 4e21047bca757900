package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"devflow/assistant"
	"devflow/auth"
	"devflow/devflow-api/api"
	"devflow/llm"
	"devflow/repoimport"
	"devflow/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()
	logger.SetLevel(log.GetLevel())

	store := openStorage()
	deps := api.Deps{Store: store, Logger: logger}

	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc := redis.NewClient(storage.RedisOptions(redisConn))
		deps.Store = storage.NewCache(store, rc, envDuration("CACHE_TTL", 10*time.Minute))
		deps.Deduper = api.NewRedisDeduper(rc, envDuration("DEDUPER_TTL", 24*time.Hour))
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; running without cache and deduplication")
	}

	deps.Auth = newAuth()

	if svc := newAssistant(store, logger); svc != nil {
		deps.Assistant = svc
	}

	defaultGitHubToken := os.Getenv("GITHUB_TOKEN")
	deps.Importer = func(token string) api.RepoImporter {
		if token == "" {
			token = defaultGitHubToken
		}
		return repoimport.NewImporter(repoimport.NewClient(token), logger)
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(api.DecompressRequests())

	api.Register(e, deps)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

func openStorage() *storage.Storage {
	store, err := storage.FromEnv()
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	return store
}

func newAuth() *auth.Auth {
	a, err := auth.FromEnv()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	return a
}

// newAssistant returns nil when no model provider is configured.
func newAssistant(store *storage.Storage, logger *log.Logger) *assistant.Service {
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		logger.Warn("LLM_API_KEY not set; AI routes disabled")
		return nil
	}
	model, err := llm.New(context.Background(), os.Getenv("LLM_PROVIDER"), apiKey, os.Getenv("LLM_MODEL"))
	if err != nil {
		log.Fatalf("llm: %v", err)
	}
	prompts, err := llm.DefaultCatalogue()
	if err != nil {
		log.Fatalf("prompt catalogue: %v", err)
	}
	return assistant.New(store, model, prompts, logger)
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
