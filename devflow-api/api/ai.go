package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"devflow/assistant"
	"devflow/domain"
)

// assistantHandler decodes a request body of type Req, runs the assistant and
// replies with its result. A nil assistant answers 503.
func assistantHandler[Req any, Res any](
	svc Assistant,
	auth Authenticator,
	logger *log.Logger,
	run func(c echo.Context, svc Assistant, userID string, req Req) (Res, error),
) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if svc == nil {
			return c.String(http.StatusServiceUnavailable, errNoAssistant.Error())
		}
		var req Req
		if err := decodeBody(c, postCommandMaxSize, &req); err != nil {
			return bodyError(c, err)
		}
		res, err := run(c, svc, userID, req)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func postChat(svc Assistant, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return assistantHandler(svc, auth, logger, func(c echo.Context, svc Assistant, userID string, req assistant.ChatRequest) (assistant.ChatResult, error) {
		return svc.Chat(c.Request().Context(), userID, req)
	})
}

func postSuggestion(svc Assistant, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return assistantHandler(svc, auth, logger, func(c echo.Context, svc Assistant, userID string, req assistant.SuggestRequest) (assistant.SuggestResult, error) {
		return svc.Suggest(c.Request().Context(), userID, req)
	})
}

func postEstimate(svc Assistant, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return assistantHandler(svc, auth, logger, func(c echo.Context, svc Assistant, userID string, req assistant.EstimateRequest) (assistant.EstimateResult, error) {
		return svc.Estimate(c.Request().Context(), userID, req)
	})
}

func postInsights(svc Assistant, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return assistantHandler(svc, auth, logger, func(c echo.Context, svc Assistant, userID string, req insightsRequest) (assistant.InsightsResult, error) {
		return svc.Insights(c.Request().Context(), userID, req.TimeRange)
	})
}

func getSuggestions(store AnalyticsStore, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		out, err := store.FetchSuggestions(c.Request().Context(), userID, c.QueryParam("taskId"))
		if err != nil {
			return writeError(c, nil, err)
		}
		if out == nil {
			out = []domain.TaskSuggestion{}
		}
		return c.JSON(http.StatusOK, out)
	}
}

func getInsights(store AnalyticsStore, auth Authenticator, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		out, err := store.FetchInsights(c.Request().Context(), userID, now())
		if err != nil {
			return writeError(c, nil, err)
		}
		if out == nil {
			out = []domain.ProductivityInsight{}
		}
		return c.JSON(http.StatusOK, out)
	}
}
