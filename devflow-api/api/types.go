package api

import (
	"context"
	"time"

	"devflow/assistant"
	"devflow/domain"
	"devflow/repoimport"
)

// BoardStore serves the board, task and settings reads and accepts commands.
type BoardStore interface {
	FetchTasks(ctx context.Context, userID, continuationToken string, limit int) ([]domain.Task, string, error)
	FetchAllTasks(ctx context.Context, userID string) ([]domain.Task, error)
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	FetchProjects(ctx context.Context, userID string) ([]domain.Project, error)
	EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error
}

// RecordStore persists the user's snippets, reviews, prompts and templates.
type RecordStore interface {
	FetchSnippets(ctx context.Context, userID string) ([]domain.Snippet, error)
	SaveSnippet(ctx context.Context, userID string, sn domain.Snippet) error
	SaveSnippets(ctx context.Context, userID string, snippets []domain.Snippet) error
	DeleteSnippet(ctx context.Context, userID, id string) error
	FetchReviews(ctx context.Context, userID string) ([]domain.Review, error)
	GetReview(ctx context.Context, userID, id string) (*domain.Review, error)
	SaveReview(ctx context.Context, userID string, r domain.Review) error
	FetchPrompts(ctx context.Context, userID string) ([]domain.Prompt, error)
	FetchTemplates(ctx context.Context, userID string) ([]domain.PromptTemplate, error)
	GetTemplate(ctx context.Context, userID, id string) (*domain.PromptTemplate, error)
	SaveTemplate(ctx context.Context, userID string, t domain.PromptTemplate) error
	IncrementTemplateUsage(ctx context.Context, userID, id string) error
}

// AnalyticsStore persists completions, goals and what the assistant produced.
type AnalyticsStore interface {
	FetchAllTasks(ctx context.Context, userID string) ([]domain.Task, error)
	FetchAnalytics(ctx context.Context, userID string) ([]domain.TaskAnalytics, error)
	SaveAnalytics(ctx context.Context, userID string, a domain.TaskAnalytics) error
	FetchGoals(ctx context.Context, userID string) ([]domain.UserGoal, error)
	SaveGoal(ctx context.Context, userID string, g domain.UserGoal) error
	FetchSuggestions(ctx context.Context, userID, taskID string) ([]domain.TaskSuggestion, error)
	FetchInsights(ctx context.Context, userID string, now time.Time) ([]domain.ProductivityInsight, error)
}

// Storage is everything the API reads and writes.
type Storage interface {
	BoardStore
	RecordStore
	AnalyticsStore
}

// InvalidContinuationTokenError is returned when a supplied pagination token is malformed or expired.
type InvalidContinuationTokenError interface {
	error
	InvalidContinuationToken()
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper claims command idempotency keys so a retried command is enqueued
// once.
type Deduper interface {
	// Claim records each command's key against its entity and reports which
	// commands were not seen before.
	Claim(ctx context.Context, userID string, cmds []domain.Command) ([]bool, error)
	// Release drops a claim, used when downstream processing fails.
	Release(ctx context.Context, userID string, cmd domain.Command) error
}

// Assistant runs the LLM backed helpers.
type Assistant interface {
	Chat(ctx context.Context, userID string, req assistant.ChatRequest) (assistant.ChatResult, error)
	Suggest(ctx context.Context, userID string, req assistant.SuggestRequest) (assistant.SuggestResult, error)
	Estimate(ctx context.Context, userID string, req assistant.EstimateRequest) (assistant.EstimateResult, error)
	Insights(ctx context.Context, userID, timeRange string) (assistant.InsightsResult, error)
}

// RepoImporter imports a repository by URL.
type RepoImporter interface {
	Import(ctx context.Context, repoURL string) (*repoimport.Result, error)
}

// ImporterFactory builds an importer authenticated with the given GitHub token.
type ImporterFactory func(githubToken string) RepoImporter
