package api

import (
	"time"

	"devflow/domain"
)

const (
	postCommandMaxSize = 64 * 1024 // 64 KiB
	recordMaxSize      = 2 << 20   // 2 MiB, snippets carry whole files
)

// /POST /api/commands response body
type postCommandResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys,omitempty"`
	Error           string   `json:"error,omitempty"`
}

type tasksResponse struct {
	Tasks         []domain.Task `json:"tasks"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

type boardResponse struct {
	Layout domain.BoardLayout `json:"layout"`
	domain.Board
	Total int `json:"total"`
}

type moveRequest struct {
	Target domain.DropTarget `json:"target"`
}

type moveResponse struct {
	Changed        bool              `json:"changed"`
	Status         domain.TaskStatus `json:"status"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Tasks          []domain.Task     `json:"tasks"`
}

type projectView struct {
	domain.Project
	Stats    domain.ProjectStats `json:"stats"`
	Progress int                 `json:"progress"`
}

type snippetRequest struct {
	FilePath  string `json:"filePath"`
	CodeText  string `json:"codeText"`
	CommitSHA string `json:"commitSha,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	Language  string `json:"language,omitempty"`
}

type reviewRequest struct {
	PRURL    string              `json:"prUrl"`
	Notes    string              `json:"notes,omitempty"`
	Status   domain.ReviewStatus `json:"status,omitempty"`
	Reviewer string              `json:"reviewer,omitempty"`
	TaskID   string              `json:"taskId,omitempty"`
}

type templateRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
	TemplateText string `json:"templateText"`
	IsPublic     bool   `json:"isPublic"`
}

type renderRequest struct {
	Variables map[string]string `json:"variables"`
}

type renderResponse struct {
	Text string `json:"text"`
}

type analyticsResponse struct {
	Metrics     domain.Metrics         `json:"metrics"`
	Completions []domain.TaskAnalytics `json:"completions"`
	Goals       []domain.UserGoal      `json:"goals"`
}

type completionRequest struct {
	TaskID         string   `json:"taskId"`
	ActualHours    float64  `json:"actualHours"`
	EstimatedHours *float64 `json:"estimatedHours,omitempty"`
}

type goalRequest struct {
	GoalType    string  `json:"goalType"`
	TargetValue float64 `json:"targetValue"`
	PeriodDays  int     `json:"periodDays,omitempty"`
}

type insightsRequest struct {
	TimeRange string `json:"timeRange,omitempty"`
}

type importRequest struct {
	RepoURL     string `json:"repoUrl"`
	GitHubToken string `json:"githubToken,omitempty"`
	// Save stores the imported files as snippets. Defaults to true.
	Save *bool `json:"save,omitempty"`
}

type importResponse struct {
	Repository string           `json:"repository"`
	CommitSHA  string           `json:"commitSha,omitempty"`
	Files      int              `json:"files"`
	Skipped    []string         `json:"skipped,omitempty"`
	Issues     []importedIssue  `json:"issues"`
	Snippets   []domain.Snippet `json:"snippets,omitempty"`
	Saved      int              `json:"saved"`
	ImportedAt time.Time        `json:"importedAt"`
}

type importedIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	URL    string `json:"url,omitempty"`
}
