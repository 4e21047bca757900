package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"devflow/domain"
	"devflow/read-model-updater/applier"
	"devflow/storage"
)

// The scenarios run the write path end to end in process: commands are
// posted to the API, enqueued on a SQLite queue, folded into the read model
// by the applier and read back through the API.

func newScenarioStore(t *testing.T) *storage.Storage {
	t.Helper()
	db, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := storage.NewSQLite(db, storage.Config{QueueConcurrency: 1})
	if err := store.CreateAll(context.Background()); err != nil {
		t.Fatalf("create all: %v", err)
	}
	return store
}

// drain applies every queued command and returns how many were taken off the
// queue.
func drain(t *testing.T, store *storage.Storage) int {
	t.Helper()
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	a := applier.New(store, logger)
	n := 0
	for {
		msg, err := store.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if msg == nil {
			return n
		}
		n++
		var env domain.CommandEnvelope
		if err := sonic.UnmarshalString(msg.Body, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if err := a.Apply(ctx, env); err != nil && !errors.Is(err, domain.ErrStaleCommand) {
			t.Fatalf("apply %s: %v", env.Command.Type, err)
		}
		if err := store.Delete(ctx, msg.ID, msg.Receipt); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
}

func post(t *testing.T, h echo.HandlerFunc, target, body string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(newRequest(http.MethodPost, target, body), rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	if err := h(c); err != nil {
		t.Fatalf("%s: %v", target, err)
	}
	return rec
}

func fetchBoard(t *testing.T, store *storage.Storage) boardResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(newRequest(http.MethodGet, "/api/board", ""), rec)
	if err := getBoard(store, mockAuth{}, log.New())(c); err != nil {
		t.Fatalf("board: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("board: status %d: %s", rec.Code, rec.Body.String())
	}
	var b boardResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	return b
}

func TestScenarioCreateEditMoveTask(t *testing.T) {
	resetCommandSenderForTests()
	t.Cleanup(resetCommandSenderForTests)

	store := newScenarioStore(t)
	logger := log.New()
	commands := postCommands(store, mockAuth{}, nil, logger)

	rec := post(t, commands, "/api/commands", `[{"entityType":"task","entityId":"task-1","type":"task-created","data":{"title":"Write parser","type":"code","priority":"high"}}]`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body.String())
	}
	rec = post(t, commands, "/api/commands", `[{"entityType":"task","entityId":"task-1","type":"task-updated","data":{"title":"Write the parser"}}]`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("edit: status %d", rec.Code)
	}
	if n := drain(t, store); n != 2 {
		t.Fatalf("expected 2 queued commands, got %d", n)
	}

	board := fetchBoard(t, store)
	todo, _ := board.Column(domain.StatusTodo)
	if todo.Count != 1 || todo.Tasks[0].Title != "Write the parser" {
		t.Fatalf("unexpected todo column %+v", todo)
	}

	rec = post(t, moveTask(store, mockAuth{}, nil, logger, clock), "/api/tasks/task-1/move", `{"target":{"kind":"column","id":"done"}}`, "id", "task-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("move: status %d: %s", rec.Code, rec.Body.String())
	}
	var moved moveResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &moved); err != nil {
		t.Fatalf("decode move: %v", err)
	}
	if !moved.Changed || moved.Status != domain.StatusDone {
		t.Fatalf("unexpected move response %+v", moved)
	}
	drain(t, store)

	board = fetchBoard(t, store)
	done, _ := board.Column(domain.StatusDone)
	if done.Count != 1 || done.Tasks[0].ID != "task-1" {
		t.Fatalf("expected task in done column, got %+v", board)
	}
	if todo, _ := board.Column(domain.StatusTodo); todo.Count != 0 || todo.AddAction == nil {
		t.Fatalf("expected empty todo column with add action, got %+v", todo)
	}
}

func TestScenarioIdempotencyAndOrdering(t *testing.T) {
	resetCommandSenderForTests()
	t.Cleanup(resetCommandSenderForTests)

	store := newScenarioStore(t)
	deduper := &memDeduper{}
	commands := postCommands(store, mockAuth{}, deduper, log.New())

	create := `[{"idempotencyKey":"dk-1","entityType":"task","entityId":"task-1","type":"task-created","data":{"title":"first"}}]`
	post(t, commands, "/api/commands", create)
	post(t, commands, "/api/commands", create)
	for _, title := range []string{"a", "b", "c"} {
		post(t, commands, "/api/commands", `[{"entityType":"task","entityId":"task-1","type":"task-updated","data":{"title":"`+title+`"}}]`)
	}
	if n := drain(t, store); n != 4 {
		t.Fatalf("expected duplicate create to be dropped, %d commands queued", n)
	}

	tasks, err := store.FetchAllTasks(context.Background(), "user")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "c" {
		t.Fatalf("expected single task titled c, got %+v", tasks)
	}
}

func TestScenarioSettingsChangeLayout(t *testing.T) {
	resetCommandSenderForTests()
	t.Cleanup(resetCommandSenderForTests)

	store := newScenarioStore(t)
	commands := postCommands(store, mockAuth{}, nil, log.New())
	post(t, commands, "/api/commands", `[{"entityType":"task","entityId":"t1","type":"task-created","data":{"title":"Review PR","status":"review"}}]`)
	post(t, commands, "/api/commands", `[{"entityType":"user-settings","type":"settings-updated","data":{"boardLayout":"three"}}]`)
	drain(t, store)

	board := fetchBoard(t, store)
	if board.Layout != domain.LayoutThreeColumns || len(board.Columns) != 3 {
		t.Fatalf("expected three column layout, got %+v", board)
	}
	if len(board.Unplaced) != 1 || board.Unplaced[0].ID != "t1" || board.Total != 1 {
		t.Fatalf("expected review task to be unplaced, got %+v", board)
	}
}
