package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// StringList decodes either a JSON string or an array of strings. Model output
// is not consistent about which one it returns.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	var many []string
	if err := json.Unmarshal(b, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	if one == "" {
		*l = nil
		return nil
	}
	*l = StringList{one}
	return nil
}

// Number decodes a JSON number or a numeric string.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = Number(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	var parsed float64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &parsed); err != nil {
		return fmt.Errorf("number %q: %w", s, err)
	}
	*n = Number(parsed)
	return nil
}

// ExtractJSON strips markdown code fences that models like to wrap JSON in.
func ExtractJSON(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

func decodeObject(text string, v any) error {
	body := ExtractJSON(text)
	if !strings.HasPrefix(body, "{") {
		return fmt.Errorf("response is not a JSON object")
	}
	return json.Unmarshal([]byte(body), v)
}

// SuggestionKind names the kind of help requested for a task.
type SuggestionKind string

const (
	SuggestBreakdown SuggestionKind = "breakdown"
	SuggestPriority  SuggestionKind = "priority"
	SuggestSubtasks  SuggestionKind = "subtasks"
	SuggestContext   SuggestionKind = "context"
)

func ParseSuggestionKind(raw string) (SuggestionKind, error) {
	switch k := SuggestionKind(strings.TrimSpace(raw)); k {
	case SuggestBreakdown, SuggestPriority, SuggestSubtasks, SuggestContext:
		return k, nil
	}
	return "", fmt.Errorf("%w: invalid suggestion type %q", ErrValidation, raw)
}

type Subtask struct {
	Title                   string     `json:"title"`
	Description             string     `json:"description,omitempty"`
	Priority                string     `json:"priority,omitempty"`
	EstimatedHours          Number     `json:"estimated_hours,omitempty"`
	TechnicalConsiderations StringList `json:"technical_considerations,omitempty"`
}

type PriorityAdvice struct {
	SuggestedPriority string `json:"suggested_priority"`
	Reasoning         string `json:"reasoning,omitempty"`
}

type ContextAdvice struct {
	ContextInsights   StringList `json:"context_insights,omitempty"`
	PotentialBlockers StringList `json:"potential_blockers,omitempty"`
	Suggestions       StringList `json:"suggestions,omitempty"`
}

// Suggestion is a decoded task suggestion. Exactly one payload field is set
// for the Kind, or Raw holds the model output when it could not be decoded.
type Suggestion struct {
	Kind     SuggestionKind  `json:"kind"`
	Subtasks []Subtask       `json:"subtasks,omitempty"`
	Priority *PriorityAdvice `json:"priority,omitempty"`
	Context  *ContextAdvice  `json:"context,omitempty"`
	Raw      string          `json:"rawResponse,omitempty"`
}

// Decoded reports whether the model output was understood.
func (s Suggestion) Decoded() bool { return s.Raw == "" }

// DecodeSuggestion turns model output into a typed suggestion. Output that does
// not match the expected shape is kept verbatim in Raw.
func DecodeSuggestion(kind SuggestionKind, text string) Suggestion {
	out := Suggestion{Kind: kind}
	switch kind {
	case SuggestBreakdown, SuggestSubtasks:
		var body struct {
			Subtasks []Subtask `json:"subtasks"`
		}
		if err := decodeObject(text, &body); err != nil || len(body.Subtasks) == 0 {
			out.Raw = text
			return out
		}
		out.Subtasks = body.Subtasks
	case SuggestPriority:
		var body PriorityAdvice
		if err := decodeObject(text, &body); err != nil || body.SuggestedPriority == "" {
			out.Raw = text
			return out
		}
		out.Priority = &body
	case SuggestContext:
		var body ContextAdvice
		if err := decodeObject(text, &body); err != nil ||
			(len(body.ContextInsights) == 0 && len(body.PotentialBlockers) == 0 && len(body.Suggestions) == 0) {
			out.Raw = text
			return out
		}
		out.Context = &body
	default:
		out.Raw = text
	}
	return out
}

// SuggestionConfidence scores a response by its length, between 0.5 and 0.95.
func SuggestionConfidence(responseLen int) float64 {
	score := float64(responseLen)/500*0.8 + 0.2
	return math.Min(0.95, math.Max(0.5, score))
}

// TaskSuggestion is a stored suggestion.
type TaskSuggestion struct {
	ID              string     `json:"id"`
	TaskID          string     `json:"taskId"`
	Suggestion      Suggestion `json:"suggestion"`
	ConfidenceScore float64    `json:"confidenceScore"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// EstimationKind names a kind of estimate.
type EstimationKind string

const (
	EstimateTime     EstimationKind = "time_estimate"
	EstimateCategory EstimationKind = "category_suggestion"
	EstimateDeadline EstimationKind = "deadline_prediction"
)

func ParseEstimationKind(raw string) (EstimationKind, error) {
	switch k := EstimationKind(strings.TrimSpace(raw)); k {
	case EstimateTime, EstimateCategory, EstimateDeadline:
		return k, nil
	}
	return "", fmt.Errorf("%w: invalid estimation type %q", ErrValidation, raw)
}

type TimeEstimate struct {
	EstimatedHours  Number `json:"estimated_hours"`
	ConfidenceScore Number `json:"confidence_score,omitempty"`
	ComplexityScore Number `json:"complexity_score,omitempty"`
	Reasoning       string `json:"reasoning,omitempty"`
}

type CategoryEstimate struct {
	SuggestedType     string     `json:"suggested_type,omitempty"`
	SuggestedPriority string     `json:"suggested_priority,omitempty"`
	Tags              StringList `json:"tags,omitempty"`
	Reasoning         string     `json:"reasoning,omitempty"`
}

type DeadlineEstimate struct {
	SuggestedDeadline string `json:"suggested_deadline"`
	WorkloadImpact    string `json:"workload_impact,omitempty"`
	Reasoning         string `json:"reasoning,omitempty"`
}

// Estimation is a decoded estimate; Raw is set when decoding failed.
type Estimation struct {
	Kind     EstimationKind    `json:"kind"`
	Time     *TimeEstimate     `json:"time,omitempty"`
	Category *CategoryEstimate `json:"category,omitempty"`
	Deadline *DeadlineEstimate `json:"deadline,omitempty"`
	Raw      string            `json:"rawResponse,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func DecodeEstimation(kind EstimationKind, text string) Estimation {
	out := Estimation{Kind: kind}
	fail := func() Estimation {
		out.Raw = text
		out.Error = "Failed to parse JSON"
		return out
	}
	switch kind {
	case EstimateTime:
		var body TimeEstimate
		if err := decodeObject(text, &body); err != nil || body.EstimatedHours <= 0 {
			return fail()
		}
		out.Time = &body
	case EstimateCategory:
		var body CategoryEstimate
		if err := decodeObject(text, &body); err != nil || (body.SuggestedType == "" && body.SuggestedPriority == "" && len(body.Tags) == 0) {
			return fail()
		}
		out.Category = &body
	case EstimateDeadline:
		var body DeadlineEstimate
		if err := decodeObject(text, &body); err != nil || body.SuggestedDeadline == "" {
			return fail()
		}
		out.Deadline = &body
	default:
		return fail()
	}
	return out
}

type GoalSuggestion struct {
	Type   string `json:"type"`
	Target Number `json:"target"`
	Reason string `json:"reason,omitempty"`
}

// ProductivityAnalysis is the model's reading of a user's metrics.
type ProductivityAnalysis struct {
	EfficiencyTrend          string           `json:"efficiency_trend,omitempty"`
	PeakProductivityPatterns string           `json:"peak_productivity_patterns,omitempty"`
	Bottlenecks              StringList       `json:"bottlenecks,omitempty"`
	Recommendations          StringList       `json:"recommendations,omitempty"`
	GoalSuggestions          []GoalSuggestion `json:"goal_suggestions,omitempty"`
	Summary                  string           `json:"insights_summary,omitempty"`
	Error                    string           `json:"error,omitempty"`
}

// DefaultRecommendations are offered when the analysis could not be decoded.
var DefaultRecommendations = []string{"Review task estimation accuracy", "Track time more consistently"}

// DecodeProductivityAnalysis decodes model output. Unstructured output becomes
// the summary together with the default recommendations.
func DecodeProductivityAnalysis(text string) ProductivityAnalysis {
	var a ProductivityAnalysis
	if err := decodeObject(text, &a); err != nil {
		return ProductivityAnalysis{
			Summary:         text,
			Recommendations: append(StringList(nil), DefaultRecommendations...),
			Error:           "Failed to parse structured insights",
		}
	}
	return a
}

// InsightKind names a stored productivity insight.
type InsightKind string

const (
	InsightEfficiencyTrend InsightKind = "efficiency_trend"
	InsightPeakHours       InsightKind = "peak_hours"
	InsightTaskPatterns    InsightKind = "task_patterns"
	InsightRecommendations InsightKind = "recommendations"
)

const (
	// InsightConfidence is the confidence recorded for generated insights.
	InsightConfidence = 0.8
	// InsightTTL is how long a generated insight stays relevant.
	InsightTTL = 7 * 24 * time.Hour
)

// ProductivityInsight is one stored insight. Text holds single valued
// insights, Items list valued ones.
type ProductivityInsight struct {
	ID              string      `json:"id"`
	Kind            InsightKind `json:"kind"`
	Text            string      `json:"text,omitempty"`
	Items           []string    `json:"items,omitempty"`
	ConfidenceScore float64     `json:"confidenceScore"`
	CreatedAt       time.Time   `json:"createdAt"`
	ExpiresAt       time.Time   `json:"expiresAt"`
}

// Expired reports whether the insight is past its expiry at now.
func (i ProductivityInsight) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// Insights splits an analysis into the insight rows worth storing. Kinds with
// no content are skipped. IDs are left empty.
func (a ProductivityAnalysis) Insights(now time.Time) []ProductivityInsight {
	now = now.UTC()
	base := ProductivityInsight{ConfidenceScore: InsightConfidence, CreatedAt: now, ExpiresAt: now.Add(InsightTTL)}
	var out []ProductivityInsight
	add := func(kind InsightKind, text string, items []string) {
		if strings.TrimSpace(text) == "" && len(items) == 0 {
			return
		}
		in := base
		in.Kind = kind
		in.Text = text
		in.Items = items
		out = append(out, in)
	}
	add(InsightEfficiencyTrend, a.EfficiencyTrend, nil)
	add(InsightPeakHours, a.PeakProductivityPatterns, nil)
	add(InsightTaskPatterns, "", a.Bottlenecks)
	add(InsightRecommendations, "", a.Recommendations)
	return out
}
