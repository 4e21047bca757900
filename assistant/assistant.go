// Package assistant implements the LLM-backed helpers: chat, task
// suggestions, estimates and productivity insights.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"devflow/domain"
	"devflow/llm"
	"devflow/storage"
)

// Store is the persistence the assistant reads context from and records
// results in.
type Store interface {
	GetTask(ctx context.Context, userID, id string) (*storage.Versioned[domain.Task], error)
	FetchAllTasks(ctx context.Context, userID string) ([]domain.Task, error)
	FetchAnalytics(ctx context.Context, userID string) ([]domain.TaskAnalytics, error)
	SavePrompt(ctx context.Context, userID string, p domain.Prompt) error
	IncrementTemplateUsage(ctx context.Context, userID, id string) error
	SaveSuggestion(ctx context.Context, userID string, s domain.TaskSuggestion) error
	SaveInsights(ctx context.Context, userID string, insights []domain.ProductivityInsight) error
}

// Service runs the assistant functions for one model.
type Service struct {
	store   Store
	model   llm.Completer
	prompts *llm.Catalogue
	log     *log.Logger
	now     func() time.Time
	newID   func() string
}

func New(store Store, model llm.Completer, prompts *llm.Catalogue, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		store:   store,
		model:   model,
		prompts: prompts,
		log:     logger,
		now:     time.Now,
		newID:   domain.NewID,
	}
}

// IsUpstream reports whether err came from the model provider rather than
// from the request or storage.
func IsUpstream(err error) bool {
	var upstream *llm.UpstreamError
	return errors.As(err, &upstream) || errors.Is(err, llm.ErrNotConfigured)
}

func (s *Service) complete(ctx context.Context, function string, data any) (llm.Response, error) {
	req, err := s.prompts.Request(function, data)
	if err != nil {
		return llm.Response{}, err
	}
	resp, err := s.model.Complete(ctx, req)
	if err != nil {
		return llm.Response{}, fmt.Errorf("%s: %w", function, err)
	}
	return resp, nil
}

func (s *Service) loadTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	v, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	t := v.Value
	return &t, nil
}
