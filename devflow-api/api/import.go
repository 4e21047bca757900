package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"devflow/domain"
	"devflow/repoimport"
)

func importStatus(err error) int {
	switch {
	case errors.Is(err, repoimport.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, repoimport.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repoimport.ErrUnauthorized), errors.Is(err, repoimport.ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusBadGateway
}

// postImport pulls a GitHub repository's source files and, unless disabled,
// stores them as snippets.
func postImport(importers ImporterFactory, store RecordStore, auth Authenticator, logger *log.Logger, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authenticate(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if importers == nil {
			return c.String(http.StatusServiceUnavailable, "repository import is not configured")
		}
		var req importRequest
		if err := decodeBody(c, postCommandMaxSize, &req); err != nil {
			return bodyError(c, err)
		}
		if strings.TrimSpace(req.RepoURL) == "" {
			return c.String(http.StatusBadRequest, "repoUrl is required")
		}

		res, err := importers(req.GitHubToken).Import(ctx, req.RepoURL)
		if err != nil {
			status := importStatus(err)
			if status == http.StatusBadGateway && logger != nil {
				logger.WithError(err).WithField("repo", req.RepoURL).Error("repository import failed")
			}
			return c.String(status, err.Error())
		}

		at := now().UTC()
		snippets := res.Snippets(domain.NewID, at)
		resp := importResponse{
			Repository: res.Repo.Owner + "/" + res.Repo.Name,
			CommitSHA:  res.CommitSHA,
			Files:      len(res.Files),
			Skipped:    res.Skipped,
			Issues:     make([]importedIssue, 0, len(res.Issues)),
			Snippets:   snippets,
			ImportedAt: at,
		}
		for _, is := range res.Issues {
			resp.Issues = append(resp.Issues, importedIssue{Number: is.Number, Title: is.Title, State: is.State, URL: is.HTMLURL})
		}
		if req.Save == nil || *req.Save {
			if err := store.SaveSnippets(ctx, userID, snippets); err != nil {
				return writeError(c, logger, err)
			}
			resp.Saved = len(snippets)
		}
		return c.JSON(http.StatusOK, resp)
	}
}
