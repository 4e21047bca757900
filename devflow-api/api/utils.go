package api

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var (
	lastTimestamp int64
)

// nextTimestampRange reserves count consecutive command timestamps and
// returns the first. Timestamps are unix nanoseconds, strictly increasing
// across calls. A count below one reserves nothing and returns 0.
func nextTimestampRange(count int) int64 {
	if count <= 0 {
		return 0
	}
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		end := now + int64(count) - 1
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, end) {
			return now
		}
	}
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}
