package assistant

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"devflow/domain"
)

// historyLimit is how many recent completions feed an estimate.
const historyLimit = 20

// TaskDraft describes the task to estimate. It need not be saved yet.
type TaskDraft struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Type           string   `json:"type,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	EstimatedHours *float64 `json:"estimatedHours,omitempty"`
}

type EstimateRequest struct {
	Kind string    `json:"estimationType"`
	Task TaskDraft `json:"taskData"`
}

type EstimateResult struct {
	Estimation        domain.Estimation     `json:"estimation"`
	Kind              domain.EstimationKind `json:"type"`
	HistoricalContext int                   `json:"historicalContext"`
}

// Estimate predicts effort, categorisation or a deadline for a task draft,
// using the user's recent completions as context.
func (s *Service) Estimate(ctx context.Context, userID string, req EstimateRequest) (EstimateResult, error) {
	kind, err := domain.ParseEstimationKind(req.Kind)
	if err != nil {
		return EstimateResult{}, err
	}
	if strings.TrimSpace(req.Task.Title) == "" {
		return EstimateResult{}, fmt.Errorf("%w: task title is required", domain.ErrValidation)
	}

	history, err := s.store.FetchAnalytics(ctx, userID)
	if err != nil {
		return EstimateResult{}, err
	}
	if len(history) > historyLimit {
		history = history[:historyLimit]
	}

	estimated := ""
	if req.Task.EstimatedHours != nil {
		estimated = strconv.FormatFloat(*req.Task.EstimatedHours, 'f', -1, 64)
	}
	resp, err := s.complete(ctx, "estimate."+string(kind), map[string]any{
		"Task":           req.Task,
		"History":        historyContext(kind, history),
		"EstimatedHours": estimated,
	})
	if err != nil {
		return EstimateResult{}, err
	}
	return EstimateResult{
		Estimation:        domain.DecodeEstimation(kind, resp.Text),
		Kind:              kind,
		HistoricalContext: len(history),
	}, nil
}

func historyContext(kind domain.EstimationKind, history []domain.TaskAnalytics) string {
	switch kind {
	case domain.EstimateDeadline:
		if len(history) == 0 {
			return "No workload history available"
		}
		perWeek := int(math.Ceil(float64(len(history)) / 4))
		return fmt.Sprintf("User typically handles %d tasks per week", perWeek)
	case domain.EstimateTime:
		if len(history) == 0 {
			return "No historical data available"
		}
		return fmt.Sprintf("User has completed %d similar tasks with average efficiency of %.2f", len(history), domain.AverageEfficiency(history))
	}
	return ""
}
