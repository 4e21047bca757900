package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"devflow/domain"
)

// refreshGoals measures every goal against the completions it covers.
func refreshGoals(goals []domain.UserGoal, completions []domain.TaskAnalytics, now time.Time) []domain.UserGoal {
	out := make([]domain.UserGoal, 0, len(goals))
	for _, g := range goals {
		out = append(out, g.Progress(domain.GoalValue(g, completions), now))
	}
	return out
}

func getAnalytics(store AnalyticsStore, auth Authenticator, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		tasks, err := store.FetchAllTasks(ctx, userID)
		if err != nil {
			return writeError(c, nil, err)
		}
		completions, err := store.FetchAnalytics(ctx, userID)
		if err != nil {
			return writeError(c, nil, err)
		}
		goals, err := store.FetchGoals(ctx, userID)
		if err != nil {
			return writeError(c, nil, err)
		}
		at := now()
		r := domain.ParseTimeRange(c.QueryParam("range"))
		if completions == nil {
			completions = []domain.TaskAnalytics{}
		}
		return c.JSON(http.StatusOK, analyticsResponse{
			Metrics:     domain.ComputeMetrics(tasks, completions, r, at),
			Completions: completions,
			Goals:       refreshGoals(goals, completions, at),
		})
	}
}

func postCompletion(store AnalyticsStore, auth Authenticator, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req completionRequest
		if err := decodeBody(c, postCommandMaxSize, &req); err != nil {
			return bodyError(c, err)
		}
		row, err := domain.NewCompletion(domain.NewID(), req.TaskID, req.ActualHours, req.EstimatedHours, now())
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		if err := store.SaveAnalytics(c.Request().Context(), userID, row); err != nil {
			return writeError(c, nil, err)
		}
		return c.JSON(http.StatusCreated, row)
	}
}

func getGoals(store AnalyticsStore, auth Authenticator, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		goals, err := store.FetchGoals(ctx, userID)
		if err != nil {
			return writeError(c, nil, err)
		}
		completions, err := store.FetchAnalytics(ctx, userID)
		if err != nil {
			return writeError(c, nil, err)
		}
		return c.JSON(http.StatusOK, refreshGoals(goals, completions, now()))
	}
}

func postGoal(store AnalyticsStore, auth Authenticator, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req goalRequest
		if err := decodeBody(c, postCommandMaxSize, &req); err != nil {
			return bodyError(c, err)
		}
		g, err := domain.NewGoal(domain.NewID(), req.GoalType, req.TargetValue, req.PeriodDays, now())
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		if err := store.SaveGoal(c.Request().Context(), userID, g); err != nil {
			return writeError(c, nil, err)
		}
		return c.JSON(http.StatusCreated, g)
	}
}
