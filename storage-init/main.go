package main

import (
	"context"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"devflow/storage"
)

type provisioner interface {
	CreateAll(ctx context.Context) error
	TableNames() []string
}

// provision creates every table and the command queue, retrying while the
// storage account is still coming up.
func provision(ctx context.Context, p provisioner, logger *log.Logger, attempts int, wait time.Duration) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = p.CreateAll(ctx); err == nil {
			logger.WithField("tables", p.TableNames()).Info("storage init complete")
			return nil
		}
		logger.WithError(err).Warnf("storage init attempt %d/%d failed", i, attempts)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()
	logger.Info("storage init starting")

	store, err := storage.FromEnv()
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	attempts := 5
	if v := os.Getenv("STORAGE_INIT_ATTEMPTS"); v != "" {
		if attempts, err = strconv.Atoi(v); err != nil || attempts <= 0 {
			log.Fatalf("invalid STORAGE_INIT_ATTEMPTS: %q", v)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := provision(ctx, store, logger, attempts, 2*time.Second); err != nil {
		log.Fatalf("storage init: %v", err)
	}
}
