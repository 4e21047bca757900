// Package mcp exposes a user's board to MCP clients over stdio.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"devflow/domain"
)

// Store is the slice of storage the tools need. Writes go through the
// command queue like any other client's.
type Store interface {
	FetchAllTasks(ctx context.Context, userID string) ([]domain.Task, error)
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error
}

// Board serves the tools for one user.
type Board struct {
	Store  Store
	UserID string
	Now    func() time.Time
}

func (b *Board) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// NewServer creates the MCP server for a user's board.
func NewServer(b *Board, version string) *server.MCPServer {
	s := server.NewMCPServer("DevFlow", version)

	s.AddTool(mcp.NewTool("list_board",
		mcp.WithDescription("Show the kanban board: one column per status with its tasks."),
		mcp.WithString("layout", mcp.Description("Column layout (four|three). Defaults to the user's setting.")),
	), b.listBoard)

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks with optional filters."),
		mcp.WithString("status", mcp.Description("Comma separated statuses (todo,doing,review,done)")),
		mcp.WithString("type", mcp.Description("Comma separated types (code,review,prompt,doc)")),
		mcp.WithString("priority", mcp.Description("Comma separated priorities (low,med,high)")),
		mcp.WithString("query", mcp.Description("Text to search in titles, descriptions and tags")),
		mcp.WithString("sort", mcp.Description("created_at|updated_at|due_date|priority|title")),
		mcp.WithBoolean("desc", mcp.Description("Sort descending")),
	), b.listTasks)

	s.AddTool(mcp.NewTool("move_task",
		mcp.WithDescription("Move a task to another column, or onto another task to take its status."),
		mcp.WithString("task_id", mcp.Description("Task to move"), mcp.Required()),
		mcp.WithString("status", mcp.Description("Target column status")),
		mcp.WithString("onto_task_id", mcp.Description("Task the card is dropped onto")),
	), b.moveTask)

	s.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Create a task."),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("type", mcp.Description("code|review|prompt|doc (default code)")),
		mcp.WithString("priority", mcp.Description("low|med|high (default med)")),
		mcp.WithString("status", mcp.Description("Initial status (default todo)")),
		mcp.WithString("due_date", mcp.Description("Due date, YYYY-MM-DD or RFC 3339")),
		mcp.WithString("project_id", mcp.Description("Project the task belongs to")),
		mcp.WithString("tags", mcp.Description("Comma separated tags")),
	), b.createTask)

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type boardView struct {
	Layout domain.BoardLayout `json:"layout"`
	domain.Board
	Total int `json:"total"`
}

func (b *Board) listBoard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	settings, err := b.Store.FetchSettings(ctx, b.UserID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if raw := mcp.ParseString(request, "layout", ""); raw != "" {
		layout := domain.BoardLayout(strings.ToLower(raw))
		if !layout.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown layout %q", raw)), nil
		}
		settings.BoardLayout = layout
	}
	if !settings.BoardLayout.Valid() {
		settings.BoardLayout = domain.LayoutFourColumns
	}
	tasks, err := b.Store.FetchAllTasks(ctx, b.UserID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	board := domain.ProjectColumns(tasks, settings.Columns())
	return jsonResult(boardView{Layout: settings.BoardLayout, Board: board, Total: board.Total()})
}

func parseFilter(request mcp.CallToolRequest) (domain.TaskFilter, domain.TaskSort, error) {
	var f domain.TaskFilter
	for _, raw := range splitList(mcp.ParseString(request, "status", "")) {
		s, err := domain.ParseTaskStatus(raw)
		if err != nil {
			return f, domain.TaskSort{}, err
		}
		f.Statuses = append(f.Statuses, s)
	}
	for _, raw := range splitList(mcp.ParseString(request, "type", "")) {
		t := domain.TaskType(strings.ToLower(raw))
		if !t.Valid() {
			return f, domain.TaskSort{}, fmt.Errorf("%w: type %q", domain.ErrValidation, raw)
		}
		f.Types = append(f.Types, t)
	}
	for _, raw := range splitList(mcp.ParseString(request, "priority", "")) {
		p := domain.Priority(strings.ToLower(raw))
		if !p.Valid() {
			return f, domain.TaskSort{}, fmt.Errorf("%w: priority %q", domain.ErrValidation, raw)
		}
		f.Priorities = append(f.Priorities, p)
	}
	f.Query = mcp.ParseString(request, "query", "")
	sort := domain.TaskSort{
		Field: domain.TaskSortField(mcp.ParseString(request, "sort", "")),
		Desc:  mcp.ParseBoolean(request, "desc", false),
	}
	if sort.Field != "" && !sort.Field.Valid() {
		return f, sort, fmt.Errorf("%w: sort %q", domain.ErrValidation, sort.Field)
	}
	return f, sort, nil
}

func (b *Board) listTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter, sort, err := parseFilter(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tasks, err := b.Store.FetchAllTasks(ctx, b.UserID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(domain.SortTasks(domain.FilterTasks(tasks, filter), sort))
}

type writeResult struct {
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
	Changed        bool         `json:"changed"`
	Task           *domain.Task `json:"task,omitempty"`
}

// enqueue stamps cmd and sends it. The returned task is the projected state
// once the read model has applied it.
func (b *Board) enqueue(ctx context.Context, cmd domain.Command, current *domain.Task) (writeResult, error) {
	now := b.now()
	cmd.IdempotencyKey = domain.NewID()
	cmd.ID = cmd.IdempotencyKey
	cmd.Timestamp = now.UnixNano()
	next, err := domain.ApplyToTask(current, cmd, now)
	if err != nil {
		return writeResult{}, err
	}
	if err := b.Store.EnqueueCommands(ctx, b.UserID, []domain.Command{cmd}); err != nil {
		return writeResult{}, err
	}
	return writeResult{IdempotencyKey: cmd.IdempotencyKey, Changed: true, Task: next}, nil
}

func (b *Board) moveTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	status := mcp.ParseString(request, "status", "")
	onto := mcp.ParseString(request, "onto_task_id", "")
	var target domain.DropTarget
	switch {
	case status != "" && onto != "":
		return mcp.NewToolResultError("give either status or onto_task_id, not both"), nil
	case status != "":
		target = domain.ColumnTarget(domain.TaskStatus(strings.ToLower(status)))
	case onto != "":
		target = domain.TaskTarget(onto)
	default:
		return mcp.NewToolResultError("status or onto_task_id is required"), nil
	}

	tasks, err := b.Store.FetchAllTasks(ctx, b.UserID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	settings, err := b.Store.FetchSettings(ctx, b.UserID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dragged, ok := domain.FindTask(tasks, taskID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("task %q not found", taskID)), nil
	}
	to, changed := domain.ResolveDrop(tasks, settings.Columns(), dragged, target)
	if !changed {
		return jsonResult(writeResult{Task: &dragged})
	}
	cmd, err := domain.NewCommand(domain.EntityTask, dragged.ID, domain.TaskMoved, domain.TaskMovedData{Status: to})
	if err != nil {
		return nil, err
	}
	res, err := b.enqueue(ctx, cmd, &dragged)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func parseDue(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: due_date %q", domain.ErrValidation, raw)
}

func (b *Board) createTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	due, err := parseDue(mcp.ParseString(request, "due_date", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data := domain.TaskCreatedData{
		Title:       mcp.ParseString(request, "title", ""),
		Description: mcp.ParseString(request, "description", ""),
		Type:        domain.TaskType(strings.ToLower(mcp.ParseString(request, "type", ""))),
		Status:      domain.TaskStatus(strings.ToLower(mcp.ParseString(request, "status", ""))),
		Priority:    domain.Priority(strings.ToLower(mcp.ParseString(request, "priority", ""))),
		DueDate:     due,
		ProjectID:   mcp.ParseString(request, "project_id", ""),
		Tags:        splitList(mcp.ParseString(request, "tags", "")),
	}
	cmd, err := domain.NewCommand(domain.EntityTask, domain.NewID(), domain.TaskCreated, data)
	if err != nil {
		return nil, err
	}
	res, err := b.enqueue(ctx, cmd, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create task: %v", err)), nil
	}
	return jsonResult(res)
}
