package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"devflow/assistant"
	"devflow/domain"
	"devflow/llm"
)

var errNoAssistant = errors.New("AI assistant is not configured")

func authenticate(c echo.Context, auth Authenticator) (string, error) {
	return auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

// decodeBody reads a JSON body of at most limit bytes. Unknown fields are
// rejected, and a body past the limit yields errBodyTooLarge.
func decodeBody(c echo.Context, limit int64, v any) error {
	src := c.Request().Body
	body := &limitedBody{r: src, remaining: limit}
	dec := sonic.ConfigStd.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if overLimit(body, src) {
			return errBodyTooLarge
		}
		return err
	}
	return nil
}

// statusFor maps domain and upstream errors to a response status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, llm.ErrNotConfigured), errors.Is(err, errNoAssistant), errors.Is(err, errEnqueueBusy):
		return http.StatusServiceUnavailable
	case assistant.IsUpstream(err):
		return http.StatusBadGateway
	}
	var invalidTokenErr InvalidContinuationTokenError
	if errors.As(err, &invalidTokenErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(c echo.Context, logger *log.Logger, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.WithError(err).WithFields(log.Fields{
			"route":  c.Path(),
			"status": status,
		}).Error("request failed")
	}
	return c.String(status, err.Error())
}

// listParam collects a query parameter given repeatedly or comma separated.
func listParam(c echo.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryParams()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
