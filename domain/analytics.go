package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultComplexity is recorded for completions whose complexity is unknown.
const DefaultComplexity = 3

// TaskAnalytics records how a completed task went.
type TaskAnalytics struct {
	ID              string     `json:"id"`
	TaskID          string     `json:"taskId"`
	EstimatedHours  *float64   `json:"estimatedHours,omitempty"`
	ActualHours     *float64   `json:"actualHours,omitempty"`
	CompletionDate  *time.Time `json:"completionDate,omitempty"`
	EfficiencyScore float64    `json:"efficiencyScore"`
	ComplexityScore int        `json:"complexityScore"`
}

// Efficiency compares estimated and actual hours. Finishing faster than
// estimated scores above 1, capped at 2. Missing or non-positive inputs score 1.
func Efficiency(estimated, actual *float64) float64 {
	if estimated == nil || actual == nil || *estimated <= 0 || *actual <= 0 {
		return 1
	}
	return math.Min(2, *estimated / *actual)
}

// NewCompletion builds the analytics row recorded when a task is finished.
func NewCompletion(id, taskID string, actual float64, estimated *float64, at time.Time) (TaskAnalytics, error) {
	if strings.TrimSpace(taskID) == "" {
		return TaskAnalytics{}, fmt.Errorf("%w: task id is required", ErrValidation)
	}
	if actual < 0 {
		return TaskAnalytics{}, fmt.Errorf("%w: actual hours must not be negative", ErrValidation)
	}
	at = at.UTC()
	a := TaskAnalytics{
		ID:              id,
		TaskID:          taskID,
		ActualHours:     &actual,
		CompletionDate:  &at,
		ComplexityScore: DefaultComplexity,
	}
	if estimated != nil {
		v := *estimated
		a.EstimatedHours = &v
	}
	a.EfficiencyScore = Efficiency(a.EstimatedHours, a.ActualHours)
	return a, nil
}

// TimeRange is a look-back window for productivity metrics.
type TimeRange string

const (
	Range7Days  TimeRange = "7_days"
	Range30Days TimeRange = "30_days"
	Range90Days TimeRange = "90_days"
)

// ParseTimeRange accepts the known ranges and falls back to 30 days.
func ParseTimeRange(raw string) TimeRange {
	switch r := TimeRange(strings.TrimSpace(raw)); r {
	case Range7Days, Range30Days, Range90Days:
		return r
	}
	return Range30Days
}

func (r TimeRange) Days() int {
	switch r {
	case Range7Days:
		return 7
	case Range90Days:
		return 90
	}
	return 30
}

// Start returns the beginning of the window that ends at now.
func (r TimeRange) Start(now time.Time) time.Time {
	return now.AddDate(0, 0, -r.Days())
}

// Metrics summarises productivity over a time range.
type Metrics struct {
	TimeRange           TimeRange        `json:"timeRange"`
	TotalTasks          int              `json:"totalTasks"`
	CompletedTasks      int              `json:"completedTasks"`
	CompletionRate      int              `json:"completionRate"`
	AvgEfficiency       float64          `json:"avgEfficiency"`
	TotalEstimatedHours float64          `json:"totalEstimatedHours"`
	TotalActualHours    float64          `json:"totalActualHours"`
	TasksByType         map[TaskType]int `json:"tasksByType"`
	TasksByPriority     map[Priority]int `json:"tasksByPriority"`
	// WeeklyTrend counts completions per week, oldest first, over the last four weeks.
	WeeklyTrend []int `json:"weeklyTrend"`
}

// ComputeMetrics derives metrics from the tasks created and the completions
// recorded inside the window ending at now. Inputs outside the window are
// ignored.
func ComputeMetrics(tasks []Task, completions []TaskAnalytics, r TimeRange, now time.Time) Metrics {
	start := r.Start(now)
	m := Metrics{
		TimeRange:       r,
		TasksByType:     map[TaskType]int{},
		TasksByPriority: map[Priority]int{},
		WeeklyTrend:     make([]int, 4),
	}
	for _, t := range tasks {
		if t.CreatedAt.Before(start) || t.CreatedAt.After(now) {
			continue
		}
		m.TotalTasks++
		m.TasksByType[t.Type]++
		m.TasksByPriority[t.Priority]++
	}
	var effSum, est, act float64
	for _, a := range completions {
		if a.CompletionDate == nil || a.CompletionDate.Before(start) || a.CompletionDate.After(now) {
			continue
		}
		m.CompletedTasks++
		eff := a.EfficiencyScore
		if eff == 0 {
			eff = 1
		}
		effSum += eff
		if a.EstimatedHours != nil {
			est += *a.EstimatedHours
		}
		if a.ActualHours != nil {
			act += *a.ActualHours
		}
		weeksAgo := int(now.Sub(*a.CompletionDate) / (7 * 24 * time.Hour))
		if weeksAgo < len(m.WeeklyTrend) {
			m.WeeklyTrend[len(m.WeeklyTrend)-1-weeksAgo]++
		}
	}
	if m.TotalTasks > 0 {
		m.CompletionRate = int(math.Round(float64(m.CompletedTasks) / float64(m.TotalTasks) * 100))
	}
	m.AvgEfficiency = 1
	if m.CompletedTasks > 0 {
		m.AvgEfficiency = math.Round(effSum/float64(m.CompletedTasks)*100) / 100
	}
	m.TotalEstimatedHours = math.Round(est*10) / 10
	m.TotalActualHours = math.Round(act*10) / 10
	return m
}

// AverageEfficiency is the mean efficiency of the given rows, 1 when empty.
func AverageEfficiency(rows []TaskAnalytics) float64 {
	if len(rows) == 0 {
		return 1
	}
	var sum float64
	for _, a := range rows {
		eff := a.EfficiencyScore
		if eff == 0 {
			eff = 1
		}
		sum += eff
	}
	return sum / float64(len(rows))
}

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalExpired   GoalStatus = "expired"
)

// DefaultGoalPeriodDays is the goal length used when none is given.
const DefaultGoalPeriodDays = 7

// UserGoal is a productivity target over a period.
type UserGoal struct {
	ID           string     `json:"id"`
	GoalType     string     `json:"goalType"`
	TargetValue  float64    `json:"targetValue"`
	CurrentValue float64    `json:"currentValue"`
	PeriodStart  time.Time  `json:"periodStart"`
	PeriodEnd    time.Time  `json:"periodEnd"`
	Status       GoalStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// NewGoal starts an active goal at now lasting periodDays.
func NewGoal(id, goalType string, target float64, periodDays int, now time.Time) (UserGoal, error) {
	if strings.TrimSpace(goalType) == "" {
		return UserGoal{}, fmt.Errorf("%w: goal type is required", ErrValidation)
	}
	if target <= 0 {
		return UserGoal{}, fmt.Errorf("%w: goal target must be positive", ErrValidation)
	}
	if periodDays <= 0 {
		periodDays = DefaultGoalPeriodDays
	}
	now = now.UTC()
	return UserGoal{
		ID:          id,
		GoalType:    goalType,
		TargetValue: target,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 0, periodDays),
		Status:      GoalActive,
		CreatedAt:   now,
	}, nil
}

// Progress returns the goal with its current value and status refreshed.
func (g UserGoal) Progress(current float64, now time.Time) UserGoal {
	g.CurrentValue = current
	switch {
	case current >= g.TargetValue:
		g.Status = GoalCompleted
	case now.After(g.PeriodEnd):
		g.Status = GoalExpired
	default:
		g.Status = GoalActive
	}
	return g
}

// Goal types with a measured current value.
const (
	GoalTasksCompleted = "tasks_completed"
	GoalHoursWorked    = "hours_worked"
	GoalEfficiency     = "efficiency"
)

// GoalValue measures a goal against the completions inside its period.
// Goal types that are not measured keep their stored value.
func GoalValue(g UserGoal, completions []TaskAnalytics) float64 {
	var in []TaskAnalytics
	for _, c := range completions {
		if c.CompletionDate == nil || c.CompletionDate.Before(g.PeriodStart) || c.CompletionDate.After(g.PeriodEnd) {
			continue
		}
		in = append(in, c)
	}
	switch g.GoalType {
	case GoalTasksCompleted:
		return float64(len(in))
	case GoalHoursWorked:
		var sum float64
		for _, c := range in {
			if c.ActualHours != nil {
				sum += *c.ActualHours
			}
		}
		return sum
	case GoalEfficiency:
		return AverageEfficiency(in)
	}
	return g.CurrentValue
}
