package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"devflow/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	inFlight int
	max      int
	count    int
	failAt   int
	sleep    time.Duration
	bodies   []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failAt: -1, sleep: 1 * time.Millisecond}
}

func (f *fakeQueue) enqueue(ctx context.Context, body string) error {
	f.mu.Lock()
	idx := f.count
	f.count++
	f.inFlight++
	if f.inFlight > f.max {
		f.max = f.inFlight
	}
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()

	if f.sleep > 0 {
		select {
		case <-time.After(f.sleep):
		case <-ctx.Done():
			f.mu.Lock()
			f.inFlight--
			f.mu.Unlock()
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.failAt >= 0 && idx == f.failAt {
		return errors.New("enqueue failure")
	}
	return nil
}

func (f *fakeQueue) dequeue(context.Context) (*QueueMessage, error) { return nil, nil }
func (f *fakeQueue) remove(context.Context, string, string) error   { return nil }
func (f *fakeQueue) create(context.Context) error                   { return nil }

func timestampedCommands(n int) []domain.Command {
	cmds := make([]domain.Command, n)
	for i := range cmds {
		cmds[i] = domain.Command{
			ID:         strconv.Itoa(i + 1),
			EntityType: domain.EntityTask,
			EntityID:   "t1",
			Type:       domain.TaskUpdated,
			Timestamp:  int64(i + 1),
		}
	}
	return cmds
}

func decodeTimestamps(t *testing.T, bodies []string) []int64 {
	t.Helper()
	out := make([]int64, 0, len(bodies))
	for _, b := range bodies {
		var env domain.CommandEnvelope
		if err := json.Unmarshal([]byte(b), &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		out = append(out, env.Command.Timestamp)
	}
	return out
}

func TestEnqueueCommandsKeepsBatchOrder(t *testing.T) {
	fq := newFakeQueue()
	store := &Storage{
		queue:            fq,
		queueConcurrency: 8,
	}
	cmds := timestampedCommands(40)

	if err := store.EnqueueCommands(context.Background(), "user", cmds); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if fq.max != 1 {
		t.Fatalf("expected one send in flight at a time, observed %d", fq.max)
	}
	for i, ts := range decodeTimestamps(t, fq.bodies) {
		if ts != int64(i+1) {
			t.Fatalf("batch reordered at %d: %v", i, decodeTimestamps(t, fq.bodies))
		}
	}
}

func TestEnqueueCommandsStopsAtFirstFailure(t *testing.T) {
	fq := newFakeQueue()
	fq.failAt = 2
	store := &Storage{
		queue:            fq,
		queueConcurrency: 3,
	}

	err := store.EnqueueCommands(context.Background(), "user", timestampedCommands(6))
	if err == nil {
		t.Fatal("expected error")
	}
	if fq.count != 3 {
		t.Fatalf("expected sends to stop after the failing command, got %d sends", fq.count)
	}
}

func TestSQLiteQueueDeliversBatchInOrder(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := NewSQLite(db, Config{QueueConcurrency: 8})
	ctx := context.Background()

	if err := store.EnqueueCommands(ctx, "user", timestampedCommands(40)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var bodies []string
	for {
		msg, err := store.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if msg == nil {
			break
		}
		bodies = append(bodies, msg.Body)
	}
	got := decodeTimestamps(t, bodies)
	if len(got) != 40 {
		t.Fatalf("expected 40 messages, got %d", len(got))
	}
	for i, ts := range got {
		if ts != int64(i+1) {
			t.Fatalf("queue order differs from batch order: %v", got)
		}
	}
}

func TestEnqueueCommandsWrapsEnvelope(t *testing.T) {
	fq := newFakeQueue()
	store := &Storage{queue: fq, queueConcurrency: 1}
	cmd, err := domain.NewCommand(domain.EntityTask, "t1", domain.TaskMoved, domain.TaskMovedData{Status: domain.StatusDone})
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	if err := store.EnqueueCommands(context.Background(), "user-9", []domain.Command{cmd}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(fq.bodies) != 1 {
		t.Fatalf("expected one message, got %d", len(fq.bodies))
	}
	var env domain.CommandEnvelope
	if err := json.Unmarshal([]byte(fq.bodies[0]), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.UserID != "user-9" || env.Command.EntityID != "t1" || string(env.Command.Data) != `{"status":"done"}` {
		t.Fatalf("unexpected envelope: %s", fq.bodies[0])
	}
}
