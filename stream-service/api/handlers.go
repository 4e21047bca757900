package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"devflow/domain"
	"devflow/stream-service/subscription"
)

type Storage interface {
	FetchAllTasks(ctx context.Context, userID string) ([]domain.Task, error)
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
}

type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

const defaultHeartbeat = 25 * time.Second

// Deps are the collaborators of the stream endpoints.
type Deps struct {
	Store  Storage
	Auth   Authenticator
	Hub    *subscription.Hub
	Logger *log.Logger
	// Heartbeat is the interval of keep-alive comments on idle streams.
	Heartbeat time.Duration
}

// boardEvent is the payload of a "board" server-sent event.
type boardEvent struct {
	Layout domain.BoardLayout `json:"layout"`
	domain.Board
	Total int `json:"total"`
}

// Register wires up stream endpoints on the given Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Heartbeat <= 0 {
		d.Heartbeat = defaultHeartbeat
	}
	if d.Hub == nil {
		d.Hub = subscription.NewHub()
	}
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/stream", streamBoard(d))
}

func loadBoard(ctx context.Context, store Storage, userID string) ([]byte, error) {
	settings, err := store.FetchSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	tasks, err := store.FetchAllTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !settings.BoardLayout.Valid() {
		settings.BoardLayout = domain.LayoutFourColumns
	}
	board := domain.ProjectColumns(tasks, settings.Columns())
	return sonic.Marshal(boardEvent{Layout: settings.BoardLayout, Board: board, Total: board.Total()})
}

// streamBoard sends the caller's board as server-sent events: once on connect
// and again each time the read model announces a change for the user.
// EventSource clients cannot set headers, so ?token= is accepted as well.
func streamBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID, err := d.Auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		w := c.Response()
		flusher, ok := w.Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		w.Header().Set(echo.HeaderContentType, "text/event-stream")
		w.Header().Set(echo.HeaderCacheControl, "no-cache")
		w.Header().Set(echo.HeaderConnection, "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		ctx := c.Request().Context()
		updates := d.Hub.Add(userID)
		defer d.Hub.Remove(userID, updates)
		entry := d.Logger.WithField("user", userID)
		entry.Debug("stream opened")

		heartbeat := time.NewTicker(d.Heartbeat)
		defer heartbeat.Stop()
		for {
			data, err := loadBoard(ctx, d.Store, userID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				entry.WithError(err).Error("load board")
				_ = writeEvent(w, "error", []byte(`{"error":"board unavailable"}`))
			} else if err := writeEvent(w, "board", data); err != nil {
				return nil
			}
			flusher.Flush()

		wait:
			for {
				select {
				case <-ctx.Done():
					entry.Debug("stream closed")
					return nil
				case <-updates:
					break wait
				case <-heartbeat.C:
					if _, err := w.Write([]byte(": ping\n\n")); err != nil {
						return nil
					}
					flusher.Flush()
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data []byte) error {
	buf := make([]byte, 0, len(data)+len(event)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, event...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err := w.Write(buf)
	return err
}
