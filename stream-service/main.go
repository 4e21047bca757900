package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"devflow/auth"
	"devflow/storage"
	"devflow/stream-service/api"
	"devflow/stream-service/subscription"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()
	logger.SetLevel(log.GetLevel())

	store, err := storage.FromEnv()
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	a, err := auth.FromEnv()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing REDIS_CONNECTION_STRING")
	}
	rc := redis.NewClient(storage.RedisOptions(redisConn))
	defer rc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := subscription.NewHub()
	go hub.Listen(ctx, logger, rc, storage.UpdatesChannel)

	deps := api.Deps{
		Store:  storage.NewCache(store, rc, 10*time.Minute),
		Auth:   a,
		Hub:    hub,
		Logger: logger,
	}
	if v := os.Getenv("STREAM_HEARTBEAT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid STREAM_HEARTBEAT: %q", v)
		}
		deps.Heartbeat = d
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, deps)

	listenAddr := ":9000"
	if val, ok := os.LookupEnv("STREAM_SERVICE_PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()
	if err := e.Start(listenAddr); err != nil && ctx.Err() == nil {
		e.Logger.Fatal(err)
	}
}
