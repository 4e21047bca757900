package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devflow/domain"
)

type memStore struct {
	tasks    []domain.Task
	settings domain.Settings
	sent     []domain.Command
	err      error
}

func (m *memStore) FetchAllTasks(context.Context, string) ([]domain.Task, error) {
	return m.tasks, m.err
}

func (m *memStore) FetchSettings(context.Context, string) (domain.Settings, error) {
	return m.settings, m.err
}

func (m *memStore) EnqueueCommands(_ context.Context, _ string, cmds []domain.Command) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, cmds...)
	return nil
}

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestServer(store *memStore) *server.MCPServer {
	return NewServer(&Board{Store: store, UserID: "u1", Now: func() time.Time { return now }}, "test")
}

func call(t *testing.T, s *server.MCPServer, tool string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	h := s.GetTool(tool)
	require.NotNil(t, h, "tool %s not registered", tool)
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args
	res, err := h.Handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func sampleStore() *memStore {
	return &memStore{
		settings: domain.DefaultSettings(),
		tasks: []domain.Task{
			{ID: "t1", Title: "Write parser", Type: domain.TypeCode, Status: domain.StatusTodo, Priority: domain.PriorityHigh, Tags: []string{"backend"}},
			{ID: "t2", Title: "Review PR", Type: domain.TypeReview, Status: domain.StatusReview, Priority: domain.PriorityMed},
			{ID: "t3", Title: "Docs", Type: domain.TypeDoc, Status: domain.StatusDone, Priority: domain.PriorityLow},
		},
	}
}

func TestListBoard(t *testing.T) {
	s := newTestServer(sampleStore())

	res := call(t, s, "list_board", map[string]any{})
	require.False(t, res.IsError, text(t, res))
	var board boardView
	require.NoError(t, sonic.UnmarshalString(text(t, res), &board))
	assert.Equal(t, domain.LayoutFourColumns, board.Layout)
	assert.Len(t, board.Columns, 4)
	assert.Equal(t, 3, board.Total)
	doing, ok := board.Column(domain.StatusDoing)
	require.True(t, ok)
	assert.NotNil(t, doing.AddAction)

	res = call(t, s, "list_board", map[string]any{"layout": "three"})
	require.NoError(t, sonic.UnmarshalString(text(t, res), &board))
	assert.Len(t, board.Columns, 3)
	require.Len(t, board.Unplaced, 1)
	assert.Equal(t, "t2", board.Unplaced[0].ID)

	res = call(t, s, "list_board", map[string]any{"layout": "five"})
	assert.True(t, res.IsError)
}

func TestListTasksFilters(t *testing.T) {
	s := newTestServer(sampleStore())

	res := call(t, s, "list_tasks", map[string]any{"status": "todo,review", "sort": "title"})
	require.False(t, res.IsError, text(t, res))
	var tasks []domain.Task
	require.NoError(t, sonic.UnmarshalString(text(t, res), &tasks))
	require.Len(t, tasks, 2)
	assert.Equal(t, "t2", tasks[0].ID)
	assert.Equal(t, "t1", tasks[1].ID)

	res = call(t, s, "list_tasks", map[string]any{"query": "BACKEND"})
	require.NoError(t, sonic.UnmarshalString(text(t, res), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)

	for _, args := range []map[string]any{{"status": "blocked"}, {"type": "epic"}, {"priority": "urgent"}, {"sort": "size"}} {
		assert.True(t, call(t, s, "list_tasks", args).IsError, "%v", args)
	}
}

func TestMoveTask(t *testing.T) {
	store := sampleStore()
	s := newTestServer(store)

	res := call(t, s, "move_task", map[string]any{"task_id": "t1", "status": "doing"})
	require.False(t, res.IsError, text(t, res))
	var out writeResult
	require.NoError(t, sonic.UnmarshalString(text(t, res), &out))
	assert.True(t, out.Changed)
	require.NotNil(t, out.Task)
	assert.Equal(t, domain.StatusDoing, out.Task.Status)
	require.Len(t, store.sent, 1)
	sent := store.sent[0]
	assert.Equal(t, domain.TaskMoved, sent.Type)
	assert.Equal(t, "t1", sent.EntityID)
	assert.Equal(t, out.IdempotencyKey, sent.IdempotencyKey)
	assert.Equal(t, now.UnixNano(), sent.Timestamp)

	res = call(t, s, "move_task", map[string]any{"task_id": "t1", "onto_task_id": "t3"})
	require.NoError(t, sonic.UnmarshalString(text(t, res), &out))
	assert.True(t, out.Changed)
	assert.Equal(t, domain.StatusDone, out.Task.Status)
	assert.Len(t, store.sent, 2)
}

func TestMoveTaskNoOpsAndErrors(t *testing.T) {
	store := sampleStore()
	s := newTestServer(store)

	res := call(t, s, "move_task", map[string]any{"task_id": "t1", "status": "todo"})
	var out writeResult
	require.NoError(t, sonic.UnmarshalString(text(t, res), &out))
	assert.False(t, out.Changed)

	res = call(t, s, "move_task", map[string]any{"task_id": "t1", "onto_task_id": "t1"})
	require.NoError(t, sonic.UnmarshalString(text(t, res), &out))
	assert.False(t, out.Changed)
	assert.Empty(t, store.sent)

	assert.True(t, call(t, s, "move_task", map[string]any{"task_id": "missing", "status": "done"}).IsError)
	assert.True(t, call(t, s, "move_task", map[string]any{"task_id": "t1"}).IsError)
	assert.True(t, call(t, s, "move_task", map[string]any{"task_id": "t1", "status": "done", "onto_task_id": "t3"}).IsError)
}

func TestCreateTask(t *testing.T) {
	store := sampleStore()
	s := newTestServer(store)

	res := call(t, s, "create_task", map[string]any{
		"title":    "Add SSE heartbeat",
		"type":     "code",
		"priority": "high",
		"due_date": "2024-05-11",
		"tags":     "stream, backend",
	})
	require.False(t, res.IsError, text(t, res))
	var out writeResult
	require.NoError(t, sonic.UnmarshalString(text(t, res), &out))
	require.NotNil(t, out.Task)
	assert.Equal(t, domain.StatusTodo, out.Task.Status)
	assert.Equal(t, []string{"stream", "backend"}, out.Task.Tags)
	require.NotNil(t, out.Task.DueDate)
	assert.Equal(t, 11, out.Task.DueDate.Day())
	require.Len(t, store.sent, 1)
	assert.Equal(t, domain.TaskCreated, store.sent[0].Type)
	assert.Equal(t, out.Task.ID, store.sent[0].EntityID)

	assert.True(t, call(t, s, "create_task", map[string]any{"title": "  "}).IsError)
	assert.True(t, call(t, s, "create_task", map[string]any{"title": "x", "status": "blocked"}).IsError)
	assert.True(t, call(t, s, "create_task", map[string]any{"title": "x", "due_date": "tomorrow"}).IsError)
	assert.Len(t, store.sent, 1)
}

func TestStoreErrorsBecomeToolErrors(t *testing.T) {
	store := sampleStore()
	store.err = errors.New("table down")
	s := newTestServer(store)

	for _, tool := range []string{"list_board", "list_tasks"} {
		res := call(t, s, tool, map[string]any{})
		assert.True(t, res.IsError, tool)
		assert.Contains(t, text(t, res), "table down")
	}
}
