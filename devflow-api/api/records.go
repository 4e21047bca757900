package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"devflow/domain"
)

// parseTimeParam accepts RFC 3339 timestamps or plain dates.
func parseTimeParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid time %q", domain.ErrValidation, raw)
}

func parseSnippetQuery(c echo.Context) (domain.SnippetFilter, domain.SnippetSort, error) {
	f := domain.SnippetFilter{
		Search:   c.QueryParam("search"),
		Language: strings.TrimSpace(c.QueryParam("language")),
		TaskID:   strings.TrimSpace(c.QueryParam("taskId")),
	}
	var err error
	if f.From, err = parseTimeParam(c.QueryParam("from")); err != nil {
		return f, domain.SnippetSort{}, err
	}
	if f.To, err = parseTimeParam(c.QueryParam("to")); err != nil {
		return f, domain.SnippetSort{}, err
	}

	s := domain.DefaultSnippetSort
	if raw := strings.ToLower(strings.TrimSpace(c.QueryParam("sort"))); raw != "" {
		switch field := domain.SnippetSortField(raw); field {
		case domain.SnippetSortCreatedAt, domain.SnippetSortFilePath, domain.SnippetSortLanguage:
			s = domain.SnippetSort{Field: field}
		default:
			return f, s, fmt.Errorf("%w: unknown sort field %q", domain.ErrValidation, raw)
		}
	}
	switch order := strings.ToLower(strings.TrimSpace(c.QueryParam("order"))); order {
	case "":
	case "asc":
		s.Desc = false
	case "desc":
		s.Desc = true
	default:
		return f, s, fmt.Errorf("%w: unknown order %q", domain.ErrValidation, order)
	}
	return f, s, nil
}

func getSnippets(store RecordStore, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		filter, order, err := parseSnippetQuery(c)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		snippets, err := store.FetchSnippets(c.Request().Context(), userID)
		if err != nil {
			return writeError(c, nil, err)
		}
		return c.JSON(http.StatusOK, domain.FilterSnippets(snippets, filter, order))
	}
}

func postSnippet(store RecordStore, auth Authenticator, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req snippetRequest
		if err := decodeBody(c, recordMaxSize, &req); err != nil {
			return bodyError(c, err)
		}
		sn := domain.Snippet{
			ID:        domain.NewID(),
			FilePath:  strings.TrimSpace(req.FilePath),
			CodeText:  req.CodeText,
			CommitSHA: req.CommitSHA,
			TaskID:    req.TaskID,
			Language:  req.Language,
			CreatedAt: now().UTC(),
		}
		if sn.Language == "" {
			sn.Language = domain.LanguageForPath(sn.FilePath)
		}
		if err := sn.Validate(); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		if err := store.SaveSnippet(c.Request().Context(), userID, sn); err != nil {
			return writeError(c, nil, err)
		}
		return c.JSON(http.StatusCreated, sn)
	}
}

func deleteSnippet(store RecordStore, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := store.DeleteSnippet(c.Request().Context(), userID, c.Param("id")); err != nil {
			return writeError(c, logger, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getReviews(store RecordStore, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		reviews, err := store.FetchReviews(c.Request().Context(), userID)
		if err != nil {
			return writeError(c, nil, err)
		}
		if status := domain.ReviewStatus(c.QueryParam("status")); status != "" {
			out := reviews[:0]
			for _, r := range reviews {
				if r.Status == status {
					out = append(out, r)
				}
			}
			reviews = out
		}
		if reviews == nil {
			reviews = []domain.Review{}
		}
		return c.JSON(http.StatusOK, reviews)
	}
}

func postReview(store RecordStore, auth Authenticator, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req reviewRequest
		if err := decodeBody(c, postCommandMaxSize, &req); err != nil {
			return bodyError(c, err)
		}
		at := now().UTC()
		r := domain.Review{
			ID:        domain.NewID(),
			PRURL:     strings.TrimSpace(req.PRURL),
			Notes:     req.Notes,
			Status:    req.Status,
			Reviewer:  req.Reviewer,
			TaskID:    req.TaskID,
			CreatedAt: at,
			UpdatedAt: at,
		}
		if r.Status == "" {
			r.Status = domain.ReviewOpen
		}
		if err := r.Validate(); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		if err := store.SaveReview(c.Request().Context(), userID, r); err != nil {
			return writeError(c, nil, err)
		}
		return c.JSON(http.StatusCreated, r)
	}
}

func patchReview(store RecordStore, auth Authenticator, logger *log.Logger, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var upd domain.ReviewUpdate
		if err := decodeBody(c, postCommandMaxSize, &upd); err != nil {
			return bodyError(c, err)
		}
		current, err := store.GetReview(ctx, userID, c.Param("id"))
		if err != nil {
			return writeError(c, logger, err)
		}
		if current == nil {
			return c.String(http.StatusNotFound, "review not found")
		}
		next, err := upd.Apply(*current, now())
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		if err := store.SaveReview(ctx, userID, next); err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, next)
	}
}

func getPrompts(store RecordStore, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		prompts, err := store.FetchPrompts(c.Request().Context(), userID)
		if err != nil {
			return writeError(c, nil, err)
		}
		if taskID := c.QueryParam("taskId"); taskID != "" {
			out := prompts[:0]
			for _, p := range prompts {
				if p.TaskID == taskID {
					out = append(out, p)
				}
			}
			prompts = out
		}
		if prompts == nil {
			prompts = []domain.Prompt{}
		}
		return c.JSON(http.StatusOK, prompts)
	}
}

func getTemplates(store RecordStore, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		templates, err := store.FetchTemplates(c.Request().Context(), userID)
		if err != nil {
			return writeError(c, nil, err)
		}
		if category := c.QueryParam("category"); category != "" {
			out := templates[:0]
			for _, t := range templates {
				if strings.EqualFold(t.Category, category) {
					out = append(out, t)
				}
			}
			templates = out
		}
		if templates == nil {
			templates = []domain.PromptTemplate{}
		}
		return c.JSON(http.StatusOK, templates)
	}
}

func postTemplate(store RecordStore, auth Authenticator, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req templateRequest
		if err := decodeBody(c, postCommandMaxSize, &req); err != nil {
			return bodyError(c, err)
		}
		t := domain.PromptTemplate{
			ID:           domain.NewID(),
			Name:         strings.TrimSpace(req.Name),
			Description:  req.Description,
			Category:     req.Category,
			TemplateText: req.TemplateText,
			Variables:    domain.TemplateVariables(req.TemplateText),
			IsPublic:     req.IsPublic,
			CreatedAt:    now().UTC(),
		}
		if err := t.Validate(); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		if err := store.SaveTemplate(c.Request().Context(), userID, t); err != nil {
			return writeError(c, nil, err)
		}
		return c.JSON(http.StatusCreated, t)
	}
}

// renderTemplate fills a template's placeholders and counts the use.
func renderTemplate(store RecordStore, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req renderRequest
		if err := decodeBody(c, postCommandMaxSize, &req); err != nil {
			return bodyError(c, err)
		}
		t, err := store.GetTemplate(ctx, userID, c.Param("id"))
		if err != nil {
			return writeError(c, logger, err)
		}
		if t == nil {
			return c.String(http.StatusNotFound, "template not found")
		}
		text, err := t.Render(req.Variables)
		if err != nil {
			var missing *domain.MissingVariablesError
			if errors.As(err, &missing) {
				return c.String(http.StatusBadRequest, err.Error())
			}
			return writeError(c, logger, err)
		}
		if err := store.IncrementTemplateUsage(ctx, userID, t.ID); err != nil && logger != nil {
			logger.WithError(err).WithField("template", t.ID).Warn("failed to count template usage")
		}
		return c.JSON(http.StatusOK, renderResponse{Text: text})
	}
}
