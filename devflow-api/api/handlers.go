package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"devflow/domain"
)

// Deps are the collaborators the routes are wired with. Assistant and
// Importer may be nil, which disables the AI and import routes.
type Deps struct {
	Store     Storage
	Auth      Authenticator
	Deduper   Deduper
	Assistant Assistant
	Importer  ImporterFactory
	Logger    *log.Logger
	Now       func() time.Time
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	store, auth, logger := d.Store, d.Auth, d.Logger

	e.GET("/healthz", healthz())

	e.GET("/api/board", getBoard(store, auth, logger))
	e.GET("/api/tasks", getTasks(store, auth, logger))
	e.GET("/api/tasks/today", getTasksToday(store, auth, d.Now))
	e.POST("/api/tasks/:id/move", moveTask(store, auth, d.Deduper, logger, d.Now))
	e.GET("/api/settings", getSettings(store, auth))
	e.POST("/api/commands", postCommands(store, auth, d.Deduper, logger))
	e.GET("/api/projects", getProjects(store, auth))

	e.GET("/api/snippets", getSnippets(store, auth))
	e.POST("/api/snippets", postSnippet(store, auth, d.Now))
	e.DELETE("/api/snippets/:id", deleteSnippet(store, auth, logger))
	e.GET("/api/reviews", getReviews(store, auth))
	e.POST("/api/reviews", postReview(store, auth, d.Now))
	e.PATCH("/api/reviews/:id", patchReview(store, auth, logger, d.Now))
	e.GET("/api/prompts", getPrompts(store, auth))
	e.GET("/api/prompt-templates", getTemplates(store, auth))
	e.POST("/api/prompt-templates", postTemplate(store, auth, d.Now))
	e.POST("/api/prompt-templates/:id/render", renderTemplate(store, auth, logger))

	e.GET("/api/analytics", getAnalytics(store, auth, d.Now))
	e.POST("/api/analytics/completions", postCompletion(store, auth, d.Now))
	e.GET("/api/goals", getGoals(store, auth, d.Now))
	e.POST("/api/goals", postGoal(store, auth, d.Now))

	e.POST("/api/ai/chat", postChat(d.Assistant, auth, logger))
	e.POST("/api/ai/suggestions", postSuggestion(d.Assistant, auth, logger))
	e.GET("/api/ai/suggestions", getSuggestions(store, auth))
	e.POST("/api/ai/estimates", postEstimate(d.Assistant, auth, logger))
	e.POST("/api/ai/insights", postInsights(d.Assistant, auth, logger))
	e.GET("/api/ai/insights", getInsights(store, auth, d.Now))

	e.POST("/api/import/github", postImport(d.Importer, store, auth, logger, d.Now))

	initCommandSender(store, d.Deduper, logger)
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// boardColumns resolves the columns to project: the user's settings, with the
// layout optionally overridden by the request.
func boardColumns(settings domain.Settings, layoutParam string) (domain.BoardLayout, []domain.StatusDefinition, error) {
	if layoutParam != "" {
		layout := domain.BoardLayout(strings.ToLower(strings.TrimSpace(layoutParam)))
		if !layout.Valid() {
			return "", nil, fmt.Errorf("%w: unknown layout %q", domain.ErrValidation, layoutParam)
		}
		settings.BoardLayout = layout
	}
	if !settings.BoardLayout.Valid() {
		settings.BoardLayout = domain.LayoutFourColumns
	}
	return settings.BoardLayout, settings.Columns(), nil
}

func getBoard(store BoardStore, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, "/api/board")
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := authenticate(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		fetchStart := time.Now()
		tasks, fetchErr := store.FetchAllTasks(ctx, userID)
		var settings domain.Settings
		if fetchErr == nil {
			settings, fetchErr = store.FetchSettings(ctx, userID)
		}
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			err = writeError(c, logger, fetchErr)
			return err
		}

		layout, columns, layoutErr := boardColumns(settings, c.QueryParam("layout"))
		if layoutErr != nil {
			metrics.SetErrorStage("invalid_layout")
			return c.String(http.StatusBadRequest, layoutErr.Error())
		}
		board := domain.ProjectColumns(tasks, columns)
		metrics.SetItemsReturned(board.Total())

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, boardResponse{Layout: layout, Board: board, Total: board.Total()})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

// parseTaskQuery reads the filter and sort query parameters of /api/tasks.
func parseTaskQuery(c echo.Context) (domain.TaskFilter, domain.TaskSort, error) {
	var f domain.TaskFilter
	for _, raw := range listParam(c, "status") {
		s, err := domain.ParseTaskStatus(raw)
		if err != nil {
			return f, domain.TaskSort{}, err
		}
		f.Statuses = append(f.Statuses, s)
	}
	for _, raw := range listParam(c, "type") {
		t, err := domain.ParseTaskType(raw)
		if err != nil {
			return f, domain.TaskSort{}, err
		}
		f.Types = append(f.Types, t)
	}
	for _, raw := range listParam(c, "priority") {
		p, err := domain.ParsePriority(raw)
		if err != nil {
			return f, domain.TaskSort{}, err
		}
		f.Priorities = append(f.Priorities, p)
	}
	f.Tags = listParam(c, "tag")
	f.ProjectID = strings.TrimSpace(c.QueryParam("projectId"))
	f.Query = c.QueryParam("q")

	var s domain.TaskSort
	if raw := strings.TrimSpace(c.QueryParam("sort")); raw != "" {
		s.Field = domain.TaskSortField(strings.ToLower(raw))
		if !s.Field.Valid() {
			return f, s, fmt.Errorf("%w: unknown sort field %q", domain.ErrValidation, raw)
		}
	}
	switch order := strings.ToLower(strings.TrimSpace(c.QueryParam("order"))); order {
	case "", "asc":
	case "desc":
		s.Desc = true
	default:
		return f, s, fmt.Errorf("%w: unknown order %q", domain.ErrValidation, order)
	}
	return f, s, nil
}

func getTasks(store BoardStore, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, "/api/tasks")
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := authenticate(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}
		pageToken := c.QueryParam("pageToken")
		metrics.SetPageTokenProvided(pageToken != "")

		pageSizeParam := strings.TrimSpace(c.QueryParam("pageSize"))
		pageSize := 0
		if pageSizeParam != "" {
			var parseErr error
			pageSize, parseErr = strconv.Atoi(pageSizeParam)
			if parseErr != nil || pageSize <= 0 {
				metrics.SetErrorStage("invalid_page_size")
				err = c.String(http.StatusBadRequest, "invalid page size")
				return err
			}
		}

		filter, order, queryErr := parseTaskQuery(c)
		if queryErr != nil {
			metrics.SetErrorStage("invalid_query")
			err = c.String(http.StatusBadRequest, queryErr.Error())
			return err
		}

		var resp tasksResponse
		fetchStart := time.Now()
		if filter.Empty() && order.Field == "" {
			resp.Tasks, resp.NextPageToken, err = store.FetchTasks(ctx, userID, pageToken, pageSize)
		} else if pageToken != "" {
			metrics.SetErrorStage("invalid_page_token")
			return c.String(http.StatusBadRequest, "page tokens cannot be combined with filters")
		} else {
			var all []domain.Task
			all, err = store.FetchAllTasks(ctx, userID)
			if err == nil {
				resp.Tasks = domain.SortTasks(domain.FilterTasks(all, filter), order)
				if pageSize > 0 && len(resp.Tasks) > pageSize {
					resp.Tasks = resp.Tasks[:pageSize]
				}
			}
		}
		metrics.ObserveFetch(time.Since(fetchStart))
		if err != nil {
			fetchErr := err
			var invalidTokenErr InvalidContinuationTokenError
			if errors.As(fetchErr, &invalidTokenErr) {
				metrics.SetErrorStage("invalid_page_token")
				err = c.String(http.StatusBadRequest, "invalid page token")
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		if resp.Tasks == nil {
			resp.Tasks = []domain.Task{}
		}
		metrics.SetItemsReturned(len(resp.Tasks))
		metrics.SetHasNextPage(resp.NextPageToken != "")

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getTasksToday(store BoardStore, auth Authenticator, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		tasks, err := store.FetchAllTasks(c.Request().Context(), userID)
		if err != nil {
			return writeError(c, nil, err)
		}
		return c.JSON(http.StatusOK, tasksResponse{Tasks: domain.DueToday(tasks, now())})
	}
}

func getSettings(store BoardStore, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		settings, err := store.FetchSettings(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, settings)
	}
}

func getProjects(store BoardStore, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		projects, err := store.FetchProjects(ctx, userID)
		if err != nil {
			return writeError(c, nil, err)
		}
		tasks, err := store.FetchAllTasks(ctx, userID)
		if err != nil {
			return writeError(c, nil, err)
		}
		stats := domain.ComputeProjectStats(tasks)
		out := make([]projectView, 0, len(projects))
		for _, p := range projects {
			st, ok := stats[p.ID]
			if !ok {
				st = domain.ProjectStats{ProjectID: p.ID, ByStatus: map[domain.TaskStatus]int{}}
			}
			out = append(out, projectView{Project: p, Stats: st, Progress: st.Progress()})
		}
		return c.JSON(http.StatusOK, out)
	}
}

func postCommands(store CommandStore, auth Authenticator, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		cmds := make([]domain.Command, 0, 4)
		if err := decodeBody(c, postCommandMaxSize, &cmds); err != nil {
			return bodyError(c, err)
		}
		if err := validateCommands(cmds); err != nil {
			return c.JSON(http.StatusBadRequest, postCommandResponse{Error: err.Error()})
		}

		keys, err := dispatchCommands(c.Request().Context(), store, deduper, logger, userID, cmds)
		if errors.Is(err, errEnqueueBusy) {
			return c.JSON(http.StatusServiceUnavailable, postCommandResponse{Error: err.Error()})
		}
		if err != nil {
			if logger != nil {
				logger.WithError(err).WithField("user", userID).Error("failed to enqueue commands")
			}
			return c.JSON(http.StatusInternalServerError, postCommandResponse{Error: "failed to enqueue commands"})
		}
		return c.JSON(http.StatusAccepted, postCommandResponse{IdempotencyKeys: keys})
	}
}

// moveTask turns a drop on the board into a task-moved command. Drops that
// resolve to the task's current status, or to nothing, change nothing and
// enqueue nothing.
func moveTask(store BoardStore, auth Authenticator, deduper Deduper, logger *log.Logger, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, "/api/tasks/:id/move")
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := authenticate(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}
		var req moveRequest
		if decodeErr := decodeBody(c, postCommandMaxSize, &req); decodeErr != nil {
			metrics.SetErrorStage("invalid_body")
			return bodyError(c, decodeErr)
		}

		fetchStart := time.Now()
		tasks, fetchErr := store.FetchAllTasks(ctx, userID)
		var settings domain.Settings
		if fetchErr == nil {
			settings, fetchErr = store.FetchSettings(ctx, userID)
		}
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			err = writeError(c, logger, fetchErr)
			return err
		}
		dragged, ok := domain.FindTask(tasks, c.Param("id"))
		if !ok {
			metrics.SetErrorStage("not_found")
			return c.String(http.StatusNotFound, "task not found")
		}

		to, changed := domain.ResolveDrop(tasks, settings.Columns(), dragged, req.Target)
		if !changed {
			metrics.SetItemsReturned(len(tasks))
			return c.JSON(http.StatusOK, moveResponse{Changed: false, Status: dragged.Status, Tasks: tasks})
		}

		cmd, cmdErr := domain.NewCommand(domain.EntityTask, dragged.ID, domain.TaskMoved, domain.TaskMovedData{Status: to})
		if cmdErr != nil {
			metrics.SetErrorStage("command")
			err = writeError(c, logger, cmdErr)
			return err
		}
		cmds := []domain.Command{cmd}
		enqueueStart := time.Now()
		keys, enqueueErr := dispatchCommands(ctx, store, deduper, logger, userID, cmds)
		metrics.ObserveEnqueue(time.Since(enqueueStart))
		if errors.Is(enqueueErr, errEnqueueBusy) {
			metrics.SetErrorStage("enqueue_busy")
			return c.String(http.StatusServiceUnavailable, enqueueErr.Error())
		}
		if enqueueErr != nil {
			metrics.SetErrorStage("enqueue")
			if logger != nil {
				logger.WithError(enqueueErr).WithField("user", userID).Error("failed to enqueue move")
			}
			return c.String(http.StatusInternalServerError, "failed to enqueue commands")
		}
		next, reduceErr := domain.Reduce(tasks, cmds[0], now())
		if reduceErr != nil {
			metrics.SetErrorStage("reduce")
			err = writeError(c, logger, reduceErr)
			return err
		}
		metrics.SetItemsReturned(len(next))

		encodeStart := time.Now()
		err = c.JSON(http.StatusAccepted, moveResponse{Changed: true, Status: to, IdempotencyKey: keys[0], Tasks: next})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}
