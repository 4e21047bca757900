package assistant

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"devflow/domain"
)

type SuggestRequest struct {
	TaskID string `json:"taskId"`
	Kind   string `json:"suggestionType"`
}

type SuggestResult struct {
	SuggestionID string            `json:"suggestionId,omitempty"`
	Suggestion   domain.Suggestion `json:"suggestion"`
	Confidence   float64           `json:"confidenceScore"`
}

// Suggest asks the model for help with a task: a breakdown, a priority
// review, development subtasks or surrounding context.
func (s *Service) Suggest(ctx context.Context, userID string, req SuggestRequest) (SuggestResult, error) {
	kind, err := domain.ParseSuggestionKind(req.Kind)
	if err != nil {
		return SuggestResult{}, err
	}
	if req.TaskID == "" {
		return SuggestResult{}, fmt.Errorf("%w: taskId is required", domain.ErrValidation)
	}
	task, err := s.loadTask(ctx, userID, req.TaskID)
	if err != nil {
		return SuggestResult{}, err
	}
	if task == nil {
		return SuggestResult{}, fmt.Errorf("%w: task %s", domain.ErrNotFound, req.TaskID)
	}

	due := ""
	if task.DueDate != nil {
		due = task.DueDate.UTC().Format("2006-01-02")
	}
	resp, err := s.complete(ctx, "suggest."+string(kind), map[string]any{"Task": task, "DueDate": due})
	if err != nil {
		return SuggestResult{}, err
	}

	result := SuggestResult{
		Suggestion: domain.DecodeSuggestion(kind, resp.Text),
		Confidence: domain.SuggestionConfidence(len(resp.Text)),
	}
	record := domain.TaskSuggestion{
		ID:              s.newID(),
		TaskID:          task.ID,
		Suggestion:      result.Suggestion,
		ConfidenceScore: result.Confidence,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.SaveSuggestion(ctx, userID, record); err != nil {
		s.log.WithError(err).WithFields(log.Fields{"user": userID, "task": task.ID}).Error("failed to save suggestion")
	} else {
		result.SuggestionID = record.ID
	}
	return result, nil
}
