package assistant

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"devflow/domain"
)

// recentCompletions is how many completions are listed in the prompt.
const recentCompletions = 10

type InsightsResult struct {
	Metrics     domain.Metrics               `json:"metrics"`
	Analysis    domain.ProductivityAnalysis  `json:"insights"`
	Stored      []domain.ProductivityInsight `json:"stored"`
	GeneratedAt time.Time                    `json:"generatedAt"`
}

type completionLine struct {
	Title      string
	Type       string
	Estimated  string
	Actual     string
	Efficiency string
}

// Insights analyses the user's productivity over the time range and stores
// the resulting insights for a week.
func (s *Service) Insights(ctx context.Context, userID, timeRange string) (InsightsResult, error) {
	now := s.now().UTC()
	r := domain.ParseTimeRange(timeRange)

	tasks, err := s.store.FetchAllTasks(ctx, userID)
	if err != nil {
		return InsightsResult{}, err
	}
	completions, err := s.store.FetchAnalytics(ctx, userID)
	if err != nil {
		return InsightsResult{}, err
	}
	metrics := domain.ComputeMetrics(tasks, completions, r, now)

	metricsJSON, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return InsightsResult{}, err
	}
	resp, err := s.complete(ctx, "insights", map[string]any{
		"Metrics": string(metricsJSON),
		"Recent":  recentLines(tasks, completions, r.Start(now), now),
	})
	if err != nil {
		return InsightsResult{}, err
	}

	analysis := domain.DecodeProductivityAnalysis(resp.Text)
	stored := analysis.Insights(now)
	for i := range stored {
		stored[i].ID = s.newID()
	}
	if err := s.store.SaveInsights(ctx, userID, stored); err != nil {
		s.log.WithError(err).WithField("user", userID).Error("failed to save productivity insights")
	}
	return InsightsResult{Metrics: metrics, Analysis: analysis, Stored: stored, GeneratedAt: now}, nil
}

// recentLines lists the latest completions inside the window, oldest first.
func recentLines(tasks []domain.Task, completions []domain.TaskAnalytics, start, now time.Time) []completionLine {
	inWindow := make([]domain.TaskAnalytics, 0, len(completions))
	for _, a := range completions {
		if a.CompletionDate != nil && !a.CompletionDate.Before(start) && !a.CompletionDate.After(now) {
			inWindow = append(inWindow, a)
		}
	}
	sort.SliceStable(inWindow, func(i, j int) bool {
		return inWindow[i].CompletionDate.Before(*inWindow[j].CompletionDate)
	})
	if len(inWindow) > recentCompletions {
		inWindow = inWindow[len(inWindow)-recentCompletions:]
	}

	byID := domain.IndexTasks(tasks)
	lines := make([]completionLine, 0, len(inWindow))
	for _, a := range inWindow {
		line := completionLine{
			Title:      "Task",
			Estimated:  hours(a.EstimatedHours),
			Actual:     hours(a.ActualHours),
			Efficiency: strconv.FormatFloat(a.EfficiencyScore, 'f', -1, 64),
		}
		if i, ok := byID[a.TaskID]; ok {
			line.Title = tasks[i].Title
			line.Type = string(tasks[i].Type)
		}
		lines = append(lines, line)
	}
	return lines
}

func hours(v *float64) string {
	if v == nil {
		return "?"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
