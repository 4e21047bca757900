// Package subscription fans board update notices out to connected streams.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Hub tracks the open streams of each user.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[chan struct{}]struct{})}
}

// Add registers a stream for userID. The returned channel receives a value
// whenever the user's board changes; notices that arrive while one is pending
// are coalesced.
func (h *Hub) Add(userID string) chan struct{} {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.clients[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Remove(userID string, ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[userID]
	delete(set, ch)
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

// Notify wakes every stream of userID.
func (h *Hub) Notify(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients[userID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Clients returns the number of open streams for userID.
func (h *Hub) Clients(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// Listen forwards update notices published on channel until ctx is done.
// Each message carries the ID of the user whose board changed. The
// subscription is re-established if Redis drops it.
func (h *Hub) Listen(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				if msg.Payload == "" {
					logger.Warnf("Received empty update in %s channel - ignoring it", channel)
					continue
				}
				h.Notify(msg.Payload)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
