package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"devflow/assistant"
	"devflow/domain"
	"devflow/llm"
	"devflow/repoimport"
)

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// memRecords is an in-memory RecordStore and AnalyticsStore.
type memRecords struct {
	mu          sync.Mutex
	tasks       []domain.Task
	snippets    []domain.Snippet
	reviews     map[string]domain.Review
	prompts     []domain.Prompt
	templates   map[string]domain.PromptTemplate
	usage       map[string]int
	analytics   []domain.TaskAnalytics
	goals       []domain.UserGoal
	suggestions []domain.TaskSuggestion
	insights    []domain.ProductivityInsight
	saveErr     error
}

func newMemRecords() *memRecords {
	return &memRecords{
		reviews:   map[string]domain.Review{},
		templates: map[string]domain.PromptTemplate{},
		usage:     map[string]int{},
	}
}

func (m *memRecords) FetchSnippets(context.Context, string) ([]domain.Snippet, error) {
	return append([]domain.Snippet(nil), m.snippets...), nil
}

func (m *memRecords) SaveSnippet(_ context.Context, _ string, sn domain.Snippet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snippets = append(m.snippets, sn)
	return nil
}

func (m *memRecords) SaveSnippets(_ context.Context, _ string, sns []domain.Snippet) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snippets = append(m.snippets, sns...)
	return nil
}

func (m *memRecords) DeleteSnippet(_ context.Context, _ string, id string) error {
	for i, sn := range m.snippets {
		if sn.ID == id {
			m.snippets = append(m.snippets[:i], m.snippets[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memRecords) FetchReviews(context.Context, string) ([]domain.Review, error) {
	out := make([]domain.Review, 0, len(m.reviews))
	for _, r := range m.reviews {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRecords) GetReview(_ context.Context, _ string, id string) (*domain.Review, error) {
	r, ok := m.reviews[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memRecords) SaveReview(_ context.Context, _ string, r domain.Review) error {
	m.reviews[r.ID] = r
	return nil
}

func (m *memRecords) FetchPrompts(context.Context, string) ([]domain.Prompt, error) {
	return append([]domain.Prompt(nil), m.prompts...), nil
}

func (m *memRecords) FetchTemplates(context.Context, string) ([]domain.PromptTemplate, error) {
	out := make([]domain.PromptTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t)
	}
	return out, nil
}

func (m *memRecords) GetTemplate(_ context.Context, _ string, id string) (*domain.PromptTemplate, error) {
	t, ok := m.templates[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memRecords) SaveTemplate(_ context.Context, _ string, t domain.PromptTemplate) error {
	m.templates[t.ID] = t
	return nil
}

func (m *memRecords) IncrementTemplateUsage(_ context.Context, _ string, id string) error {
	m.usage[id]++
	return nil
}

func (m *memRecords) FetchAllTasks(context.Context, string) ([]domain.Task, error) {
	return m.tasks, nil
}

func (m *memRecords) FetchAnalytics(context.Context, string) ([]domain.TaskAnalytics, error) {
	return m.analytics, nil
}

func (m *memRecords) SaveAnalytics(_ context.Context, _ string, a domain.TaskAnalytics) error {
	m.analytics = append(m.analytics, a)
	return nil
}

func (m *memRecords) FetchGoals(context.Context, string) ([]domain.UserGoal, error) {
	return m.goals, nil
}

func (m *memRecords) SaveGoal(_ context.Context, _ string, g domain.UserGoal) error {
	m.goals = append(m.goals, g)
	return nil
}

func (m *memRecords) FetchSuggestions(_ context.Context, _ string, taskID string) ([]domain.TaskSuggestion, error) {
	var out []domain.TaskSuggestion
	for _, s := range m.suggestions {
		if taskID == "" || s.TaskID == taskID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memRecords) FetchInsights(_ context.Context, _ string, now time.Time) ([]domain.ProductivityInsight, error) {
	var out []domain.ProductivityInsight
	for _, in := range m.insights {
		if !in.Expired(now) {
			out = append(out, in)
		}
	}
	return out, nil
}

func serve(t *testing.T, h echo.HandlerFunc, method, target, body string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(method, target, body), rec)
	if len(params) > 0 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	if err := h(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return rec
}

func TestPostSnippetInfersLanguage(t *testing.T) {
	store := newMemRecords()
	rec := serve(t, postSnippet(store, mockAuth{}, clock), http.MethodPost, "/api/snippets", `{"filePath":"cmd/main.go","codeText":"package main"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.snippets) != 1 || store.snippets[0].Language != "Go" || !store.snippets[0].CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected snippet: %#v", store.snippets)
	}

	rec = serve(t, postSnippet(store, mockAuth{}, clock), http.MethodPost, "/api/snippets", `{"filePath":"a.go","codeText":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty code got %d", rec.Code)
	}
}

func TestGetSnippetsFilters(t *testing.T) {
	store := newMemRecords()
	store.snippets = []domain.Snippet{
		{ID: "s1", FilePath: "main.go", CodeText: "package main", Language: "Go", CreatedAt: fixedNow.Add(-time.Hour)},
		{ID: "s2", FilePath: "app.py", CodeText: "print()", Language: "Python", CreatedAt: fixedNow},
		{ID: "s3", FilePath: "util.go", CodeText: "package util", Language: "Go", CreatedAt: fixedNow.Add(-2 * time.Hour)},
	}
	rec := serve(t, getSnippets(store, mockAuth{}), http.MethodGet, "/api/snippets?language=go&sort=file_path", "")
	var out []domain.Snippet
	if err := sonic.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(out) != 2 || out[0].ID != "s1" || out[1].ID != "s3" {
		t.Fatalf("unexpected snippets: %#v", out)
	}

	rec = serve(t, getSnippets(store, mockAuth{}), http.MethodGet, "/api/snippets?from=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad date got %d", rec.Code)
	}
}

func TestDeleteSnippetMissing(t *testing.T) {
	rec := serve(t, deleteSnippet(newMemRecords(), mockAuth{}, log.New()), http.MethodDelete, "/api/snippets/x", "", "id", "x")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}

func TestReviewLifecycle(t *testing.T) {
	store := newMemRecords()
	rec := serve(t, postReview(store, mockAuth{}, clock), http.MethodPost, "/api/reviews", `{"prUrl":"https://github.com/o/r/pull/1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Review
	if err := sonic.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if created.Status != domain.ReviewOpen {
		t.Fatalf("expected default open status, got %q", created.Status)
	}

	rec = serve(t, patchReview(store, mockAuth{}, log.New(), clock), http.MethodPatch, "/api/reviews/"+created.ID, `{"status":"merged"}`, "id", created.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if store.reviews[created.ID].Status != domain.ReviewMerged {
		t.Fatalf("expected merged review, got %#v", store.reviews[created.ID])
	}

	rec = serve(t, patchReview(store, mockAuth{}, log.New(), clock), http.MethodPatch, "/api/reviews/"+created.ID, `{"status":"lost"}`, "id", created.ID)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown status got %d", rec.Code)
	}
	rec = serve(t, patchReview(store, mockAuth{}, log.New(), clock), http.MethodPatch, "/api/reviews/nope", `{"notes":"x"}`, "id", "nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
	rec = serve(t, postReview(store, mockAuth{}, clock), http.MethodPost, "/api/reviews", `{"prUrl":"not a url"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad url got %d", rec.Code)
	}
}

func TestTemplateCreateAndRender(t *testing.T) {
	store := newMemRecords()
	rec := serve(t, postTemplate(store, mockAuth{}, clock), http.MethodPost, "/api/prompt-templates",
		`{"name":"Review","templateText":"Review {{lang}} code in {{file}}","isPublic":false}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var tmpl domain.PromptTemplate
	if err := sonic.Unmarshal(rec.Body.Bytes(), &tmpl); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(tmpl.Variables) != 2 || tmpl.Variables[0] != "lang" || tmpl.Variables[1] != "file" {
		t.Fatalf("unexpected variables: %v", tmpl.Variables)
	}

	render := renderTemplate(store, mockAuth{}, log.New())
	rec = serve(t, render, http.MethodPost, "/", `{"variables":{"lang":"Go","file":"main.go"}}`, "id", tmpl.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var out renderResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if out.Text != "Review Go code in main.go" {
		t.Fatalf("unexpected render: %q", out.Text)
	}
	if store.usage[tmpl.ID] != 1 {
		t.Fatalf("expected usage to be counted once, got %d", store.usage[tmpl.ID])
	}

	rec = serve(t, render, http.MethodPost, "/", `{"variables":{"lang":"Go"}}`, "id", tmpl.ID)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for missing variables got %d", rec.Code)
	}
	if store.usage[tmpl.ID] != 1 {
		t.Fatalf("failed renders must not count as usage")
	}
	rec = serve(t, render, http.MethodPost, "/", `{"variables":{}}`, "id", "missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}

func TestAnalyticsAndGoals(t *testing.T) {
	store := newMemRecords()
	rec := serve(t, postCompletion(store, mockAuth{}, clock), http.MethodPost, "/api/analytics/completions", `{"taskId":"t1","actualHours":2,"estimatedHours":4}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.analytics) != 1 || store.analytics[0].EfficiencyScore != 2 {
		t.Fatalf("unexpected analytics rows: %#v", store.analytics)
	}

	goal, err := domain.NewGoal("g1", domain.GoalTasksCompleted, 1, 7, fixedNow.Add(-time.Hour))
	if err != nil {
		t.Fatalf("goal: %v", err)
	}
	store.goals = []domain.UserGoal{goal}

	rec = serve(t, getAnalytics(store, mockAuth{}, clock), http.MethodGet, "/api/analytics?range=7_days", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var resp analyticsResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Completions) != 1 {
		t.Fatalf("expected one completion, got %d", len(resp.Completions))
	}
	if len(resp.Goals) != 1 || resp.Goals[0].Status != domain.GoalCompleted || resp.Goals[0].CurrentValue != 1 {
		t.Fatalf("expected goal to be completed, got %#v", resp.Goals)
	}

	rec = serve(t, postGoal(store, mockAuth{}, clock), http.MethodPost, "/api/goals", `{"goalType":"hours_worked","targetValue":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for zero target got %d", rec.Code)
	}
	rec = serve(t, postCompletion(store, mockAuth{}, clock), http.MethodPost, "/api/analytics/completions", `{"actualHours":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without task id got %d", rec.Code)
	}
}

type fakeAssistant struct {
	chatErr error
	chat    assistant.ChatRequest
}

func (f *fakeAssistant) Chat(_ context.Context, _ string, req assistant.ChatRequest) (assistant.ChatResult, error) {
	f.chat = req
	if f.chatErr != nil {
		return assistant.ChatResult{}, f.chatErr
	}
	return assistant.ChatResult{Response: "hello", TokensUsed: 3, PromptID: "p1"}, nil
}

func (f *fakeAssistant) Suggest(context.Context, string, assistant.SuggestRequest) (assistant.SuggestResult, error) {
	return assistant.SuggestResult{}, domain.ErrNotFound
}

func (f *fakeAssistant) Estimate(context.Context, string, assistant.EstimateRequest) (assistant.EstimateResult, error) {
	return assistant.EstimateResult{}, nil
}

func (f *fakeAssistant) Insights(context.Context, string, string) (assistant.InsightsResult, error) {
	return assistant.InsightsResult{}, nil
}

func TestAssistantRoutes(t *testing.T) {
	svc := &fakeAssistant{}
	rec := serve(t, postChat(svc, mockAuth{}, log.New()), http.MethodPost, "/api/ai/chat", `{"prompt":"hi","taskId":"t1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.chat.Prompt != "hi" || svc.chat.TaskID != "t1" {
		t.Fatalf("request not forwarded: %#v", svc.chat)
	}

	rec = serve(t, postSuggestion(svc, mockAuth{}, log.New()), http.MethodPost, "/api/ai/suggestions", `{"taskId":"x","suggestionType":"breakdown"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}

	svc.chatErr = &llm.UpstreamError{StatusCode: 500, Body: "boom"}
	rec = serve(t, postChat(svc, mockAuth{}, log.New()), http.MethodPost, "/api/ai/chat", `{"prompt":"hi"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502 got %d", rec.Code)
	}

	svc.chatErr = llm.ErrNotConfigured
	rec = serve(t, postChat(svc, mockAuth{}, log.New()), http.MethodPost, "/api/ai/chat", `{"prompt":"hi"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got %d", rec.Code)
	}

	rec = serve(t, postChat(nil, mockAuth{}, log.New()), http.MethodPost, "/api/ai/chat", `{"prompt":"hi"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without assistant got %d", rec.Code)
	}
}

func TestGetInsightsSkipsExpired(t *testing.T) {
	store := newMemRecords()
	store.insights = []domain.ProductivityInsight{
		{ID: "old", ExpiresAt: fixedNow.Add(-time.Hour)},
		{ID: "live", ExpiresAt: fixedNow.Add(time.Hour)},
	}
	rec := serve(t, getInsights(store, mockAuth{}, clock), http.MethodGet, "/api/ai/insights", "")
	var out []domain.ProductivityInsight
	if err := sonic.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(out) != 1 || out[0].ID != "live" {
		t.Fatalf("unexpected insights: %#v", out)
	}
}

type fakeImporter struct {
	token string
	res   *repoimport.Result
	err   error
}

func (f *fakeImporter) Import(context.Context, string) (*repoimport.Result, error) {
	return f.res, f.err
}

func TestPostImport(t *testing.T) {
	imp := &fakeImporter{res: &repoimport.Result{
		Repo:      repoimport.Repo{Owner: "octo", Name: "demo"},
		CommitSHA: "abc123",
		Files:     []repoimport.File{{Path: "main.go", Language: "Go", Content: "package main"}},
		Issues:    []repoimport.Issue{{Number: 7, Title: "Bug", State: "open"}},
	}}
	factory := func(token string) RepoImporter {
		imp.token = token
		return imp
	}
	store := newMemRecords()

	rec := serve(t, postImport(factory, store, mockAuth{}, log.New(), clock), http.MethodPost, "/api/import/github",
		`{"repoUrl":"https://github.com/octo/demo","githubToken":"ghp"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp importResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Repository != "octo/demo" || resp.Files != 1 || resp.Saved != 1 || len(resp.Issues) != 1 {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if imp.token != "ghp" {
		t.Fatalf("expected request token to reach the importer, got %q", imp.token)
	}
	if len(store.snippets) != 1 || store.snippets[0].CommitSHA != "abc123" {
		t.Fatalf("unexpected stored snippets: %#v", store.snippets)
	}

	rec = serve(t, postImport(factory, store, mockAuth{}, log.New(), clock), http.MethodPost, "/api/import/github",
		`{"repoUrl":"https://github.com/octo/demo","save":false}`)
	if rec.Code != http.StatusOK || len(store.snippets) != 1 {
		t.Fatalf("save=false must not store snippets, status %d, stored %d", rec.Code, len(store.snippets))
	}
}

func TestPostImportErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{repoimport.ErrInvalidURL, http.StatusBadRequest},
		{&repoimport.APIError{StatusCode: 404}, http.StatusNotFound},
		{&repoimport.APIError{StatusCode: 401}, http.StatusForbidden},
		{errors.New("network down"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		factory := func(string) RepoImporter { return &fakeImporter{err: tc.err} }
		rec := serve(t, postImport(factory, newMemRecords(), mockAuth{}, log.New(), clock), http.MethodPost, "/api/import/github", `{"repoUrl":"x"}`)
		if rec.Code != tc.want {
			t.Fatalf("%v: expected status %d got %d", tc.err, tc.want, rec.Code)
		}
	}
}
