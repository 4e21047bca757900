package main

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"devflow/domain"
	"devflow/read-model-updater/applier"
	"devflow/storage"
)

type fakeQueue struct {
	msgs    []*storage.QueueMessage
	deleted []string
	err     error
}

func (q *fakeQueue) Dequeue(context.Context) (*storage.QueueMessage, error) {
	if q.err != nil {
		return nil, q.err
	}
	if len(q.msgs) == 0 {
		return nil, nil
	}
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	return m, nil
}

func (q *fakeQueue) Delete(_ context.Context, id, _ string) error {
	q.deleted = append(q.deleted, id)
	return nil
}

type fakeApplier struct {
	err     error
	applied []domain.CommandEnvelope
}

func (f *fakeApplier) Apply(_ context.Context, env domain.CommandEnvelope) error {
	f.applied = append(f.applied, env)
	return f.err
}

type fakeCache struct{ refreshed []string }

func (f *fakeCache) Refresh(_ context.Context, userID string) error {
	f.refreshed = append(f.refreshed, userID)
	return nil
}

func message(id, body string, deliveries int64) *storage.QueueMessage {
	return &storage.QueueMessage{ID: id, Receipt: "r-" + id, Body: body, DequeueCount: deliveries}
}

const movedBody = `{"userId":"u1","command":{"idempotencyKey":"k1","entityType":"task","entityId":"t1","type":"task-moved","data":{"status":"done"},"timestamp":10}}`

func newTestProcessor(q commandQueue, a commandApplier) *processor {
	logger, _ := test.NewNullLogger()
	return &processor{queue: q, applier: a, log: logger, idle: time.Millisecond}
}

func subscribe(t *testing.T, rc *redis.Client) <-chan string {
	t.Helper()
	ctx := context.Background()
	sub := rc.Subscribe(ctx, storage.UpdatesChannel)
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	out := make(chan string, 4)
	go func() {
		for msg := range sub.Channel() {
			out <- msg.Payload
		}
	}()
	return out
}

func TestProcessorAppliesRefreshesAndPublishes(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()
	updates := subscribe(t, rc)

	q := &fakeQueue{msgs: []*storage.QueueMessage{message("m1", movedBody, 1)}}
	a := &fakeApplier{}
	cache := &fakeCache{}
	p := newTestProcessor(q, a)
	p.cache = cache
	p.redis = rc

	handled, err := p.next(context.Background())
	if err != nil || !handled {
		t.Fatalf("next: handled=%v err=%v", handled, err)
	}
	if len(a.applied) != 1 || a.applied[0].Command.Type != domain.TaskMoved || a.applied[0].UserID != "u1" {
		t.Fatalf("unexpected applied commands %+v", a.applied)
	}
	if len(cache.refreshed) != 1 || cache.refreshed[0] != "u1" {
		t.Fatalf("expected cache refresh for u1, got %v", cache.refreshed)
	}
	if len(q.deleted) != 1 || q.deleted[0] != "m1" {
		t.Fatalf("expected message deleted, got %v", q.deleted)
	}
	select {
	case user := <-updates:
		if user != "u1" {
			t.Fatalf("unexpected update payload %q", user)
		}
	case <-time.After(time.Second):
		t.Fatalf("no update published")
	}
}

func TestProcessorEmptyQueue(t *testing.T) {
	p := newTestProcessor(&fakeQueue{}, &fakeApplier{})
	handled, err := p.next(context.Background())
	if handled || err != nil {
		t.Fatalf("expected idle, got handled=%v err=%v", handled, err)
	}
}

func TestProcessorErrorHandling(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		deliveries int64
		applyErr   error
		wantDelete bool
	}{
		{"malformed", "{not json", 1, nil, true},
		{"stale", movedBody, 1, domain.ErrStaleCommand, true},
		{"validation", movedBody, 1, domain.ErrValidation, true},
		{"not found retried", movedBody, 1, domain.ErrNotFound, false},
		{"not found exhausted", movedBody, maxDeliveries, domain.ErrNotFound, true},
		{"transient retried", movedBody, 1, errors.New("table unavailable"), false},
		{"transient exhausted", movedBody, maxDeliveries, errors.New("table unavailable"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := &fakeQueue{msgs: []*storage.QueueMessage{message("m1", tc.body, tc.deliveries)}}
			cache := &fakeCache{}
			p := newTestProcessor(q, &fakeApplier{err: tc.applyErr})
			p.cache = cache
			if _, err := p.next(context.Background()); err != nil {
				t.Fatalf("next: %v", err)
			}
			if deleted := len(q.deleted) == 1; deleted != tc.wantDelete {
				t.Fatalf("deleted=%v, want %v", deleted, tc.wantDelete)
			}
			if len(cache.refreshed) != 0 {
				t.Fatalf("failed commands must not refresh the cache")
			}
		})
	}
}

func TestProcessorRunStopsOnCancel(t *testing.T) {
	q := &fakeQueue{err: errors.New("queue down")}
	p := newTestProcessor(q, &fakeApplier{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestProcessorEndToEndSQLite(t *testing.T) {
	db, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	store := storage.NewSQLite(db, storage.Config{QueueConcurrency: 8})
	ctx := context.Background()
	if err := store.CreateAll(ctx); err != nil {
		t.Fatalf("create all: %v", err)
	}

	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	created, _ := domain.NewCommand(domain.EntityTask, "t1", domain.TaskCreated, domain.TaskCreatedData{Title: "Ship board"})
	created.Timestamp = 1
	title := "Ship the board"
	renamed, _ := domain.NewCommand(domain.EntityTask, "t1", domain.TaskUpdated, domain.TaskUpdatedData{Title: &title})
	renamed.Timestamp = 2
	moved, _ := domain.NewCommand(domain.EntityTask, "t1", domain.TaskMoved, domain.TaskMovedData{Status: domain.StatusDoing})
	moved.Timestamp = 3
	if err := store.EnqueueCommands(ctx, "u1", []domain.Command{created, renamed, moved}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	logger, _ := test.NewNullLogger()
	cache := storage.NewCache(store, rc, time.Minute)
	p := &processor{queue: store, applier: applier.New(store, logger), cache: cache, redis: rc, log: logger, idle: time.Millisecond}
	for i := 0; i < 3; i++ {
		if handled, err := p.next(ctx); err != nil || !handled {
			t.Fatalf("message %d: handled=%v err=%v", i, handled, err)
		}
	}
	if handled, _ := p.next(ctx); handled {
		t.Fatalf("queue should be drained")
	}

	tasks, err := cache.FetchAllTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != domain.StatusDoing || tasks[0].Title != title {
		t.Fatalf("every command of the batch should be applied, got %+v", tasks)
	}
	if !m.Exists(storage.TasksCacheKey("u1")) {
		t.Fatalf("expected refreshed cache entry")
	}
}

func TestProcessorRedeliversCommandThatOvertookCreate(t *testing.T) {
	db, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	const visibility = 20 * time.Millisecond
	store := storage.NewSQLite(db, storage.Config{VisibilityTimeout: visibility})
	ctx := context.Background()

	moved, _ := domain.NewCommand(domain.EntityTask, "t1", domain.TaskMoved, domain.TaskMovedData{Status: domain.StatusDone})
	moved.Timestamp = 20
	created, _ := domain.NewCommand(domain.EntityTask, "t1", domain.TaskCreated, domain.TaskCreatedData{Title: "Write docs"})
	created.Timestamp = 10
	// Two requests handled by different API replicas can reach the queue in
	// the opposite order of their timestamps.
	for _, cmd := range []domain.Command{moved, created} {
		if err := store.EnqueueCommands(ctx, "u1", []domain.Command{cmd}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	logger, _ := test.NewNullLogger()
	p := &processor{queue: store, applier: applier.New(store, logger), log: logger, idle: time.Millisecond}

	// The move finds no task and stays on the queue; the create is applied.
	for i := 0; i < 2; i++ {
		if handled, err := p.next(ctx); err != nil || !handled {
			t.Fatalf("message %d: handled=%v err=%v", i, handled, err)
		}
	}
	v, err := store.GetTask(ctx, "u1", "t1")
	if err != nil || v == nil {
		t.Fatalf("expected created task, got %v %v", v, err)
	}
	if v.Value.Status != domain.StatusTodo {
		t.Fatalf("move must not be applied before the create, status %s", v.Value.Status)
	}

	time.Sleep(2 * visibility)
	if handled, err := p.next(ctx); err != nil || !handled {
		t.Fatalf("redelivery: handled=%v err=%v", handled, err)
	}
	v, err = store.GetTask(ctx, "u1", "t1")
	if err != nil || v == nil {
		t.Fatalf("get task: %v %v", v, err)
	}
	if v.Value.Status != domain.StatusDone {
		t.Fatalf("redelivered move was lost: status %s", v.Value.Status)
	}
	if handled, _ := p.next(ctx); handled {
		t.Fatalf("queue should be drained")
	}
}
