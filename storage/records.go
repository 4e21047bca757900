package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"devflow/domain"
)

// publicPartition holds copies of templates their owners shared.
const publicPartition = "public"

const maxUsageRetries = 5

func (s *Storage) FetchSnippets(ctx context.Context, userID string) ([]domain.Snippet, error) {
	return listDocs[domain.Snippet](ctx, s.tables, s.names.snippets, userID)
}

func (s *Storage) GetSnippet(ctx context.Context, userID, id string) (*domain.Snippet, error) {
	return getDoc[domain.Snippet](ctx, s.tables, s.names.snippets, userID, id)
}

func (s *Storage) SaveSnippet(ctx context.Context, userID string, sn domain.Snippet) error {
	return putDoc(ctx, s.tables, s.names.snippets, userID, sn.ID, sn)
}

// SaveSnippets writes a batch of snippets with bounded parallelism.
func (s *Storage) SaveSnippets(ctx context.Context, userID string, snippets []domain.Snippet) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.queueConcurrency)
	for _, sn := range snippets {
		g.Go(func() error {
			return s.SaveSnippet(gctx, userID, sn)
		})
	}
	return g.Wait()
}

// DeleteSnippet removes a snippet. Missing snippets report domain.ErrNotFound.
func (s *Storage) DeleteSnippet(ctx context.Context, userID, id string) error {
	return s.tables.remove(ctx, s.names.snippets, userID, id)
}

func (s *Storage) FetchPrompts(ctx context.Context, userID string) ([]domain.Prompt, error) {
	return listDocs[domain.Prompt](ctx, s.tables, s.names.prompts, userID)
}

func (s *Storage) SavePrompt(ctx context.Context, userID string, p domain.Prompt) error {
	return putDoc(ctx, s.tables, s.names.prompts, userID, p.ID, p)
}

// FetchTemplates returns the user's templates followed by public templates
// owned by others.
func (s *Storage) FetchTemplates(ctx context.Context, userID string) ([]domain.PromptTemplate, error) {
	own, err := listDocs[domain.PromptTemplate](ctx, s.tables, s.names.templates, userID)
	if err != nil {
		return nil, err
	}
	shared, err := listDocs[domain.PromptTemplate](ctx, s.tables, s.names.templates, publicPartition)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(own))
	for _, t := range own {
		seen[t.ID] = struct{}{}
	}
	for _, t := range shared {
		if _, ok := seen[t.ID]; !ok {
			own = append(own, t)
		}
	}
	return own, nil
}

// GetTemplate looks a template up in the user's partition, then among public
// templates.
func (s *Storage) GetTemplate(ctx context.Context, userID, id string) (*domain.PromptTemplate, error) {
	v, _, err := s.getTemplate(ctx, userID, id)
	if err != nil || v == nil {
		return nil, err
	}
	return &v.Value, nil
}

// getTemplate also returns the partition the template was found in.
func (s *Storage) getTemplate(ctx context.Context, userID, id string) (*Versioned[domain.PromptTemplate], string, error) {
	for _, pk := range []string{userID, publicPartition} {
		v, err := getVersioned[domain.PromptTemplate](ctx, s.tables, s.names.templates, pk, id)
		if err != nil || v != nil {
			return v, pk, err
		}
	}
	return nil, "", nil
}

// SaveTemplate stores a template and keeps its public copy in sync.
func (s *Storage) SaveTemplate(ctx context.Context, userID string, t domain.PromptTemplate) error {
	if err := putDoc(ctx, s.tables, s.names.templates, userID, t.ID, t); err != nil {
		return err
	}
	if t.IsPublic {
		return putDoc(ctx, s.tables, s.names.templates, publicPartition, t.ID, t)
	}
	err := s.tables.remove(ctx, s.names.templates, publicPartition, t.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// IncrementTemplateUsage bumps the usage counter of a template, retrying on
// concurrent updates.
func (s *Storage) IncrementTemplateUsage(ctx context.Context, userID, id string) error {
	for attempt := 0; attempt < maxUsageRetries; attempt++ {
		v, pk, err := s.getTemplate(ctx, userID, id)
		if err != nil {
			return err
		}
		if v == nil {
			return domain.ErrNotFound
		}
		t := v.Value
		t.UsageCount++
		err = saveVersioned(ctx, s.tables, s.names.templates, pk, id, t, v.Stamp, v.ETag)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			continue
		}
		if err != nil {
			return err
		}
		if pk == userID && t.IsPublic {
			return putDoc(ctx, s.tables, s.names.templates, publicPartition, id, t)
		}
		return nil
	}
	return domain.ErrConcurrencyConflict
}

func (s *Storage) FetchReviews(ctx context.Context, userID string) ([]domain.Review, error) {
	return listDocs[domain.Review](ctx, s.tables, s.names.reviews, userID)
}

func (s *Storage) GetReview(ctx context.Context, userID, id string) (*domain.Review, error) {
	return getDoc[domain.Review](ctx, s.tables, s.names.reviews, userID, id)
}

func (s *Storage) SaveReview(ctx context.Context, userID string, r domain.Review) error {
	return putDoc(ctx, s.tables, s.names.reviews, userID, r.ID, r)
}

// FetchAnalytics returns the user's completion records, newest completion
// first.
func (s *Storage) FetchAnalytics(ctx context.Context, userID string) ([]domain.TaskAnalytics, error) {
	rows, err := listDocs[domain.TaskAnalytics](ctx, s.tables, s.names.analytics, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].CompletionDate, rows[j].CompletionDate
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
	return rows, nil
}

func (s *Storage) SaveAnalytics(ctx context.Context, userID string, a domain.TaskAnalytics) error {
	return putDoc(ctx, s.tables, s.names.analytics, userID, a.ID, a)
}

func (s *Storage) FetchGoals(ctx context.Context, userID string) ([]domain.UserGoal, error) {
	return listDocs[domain.UserGoal](ctx, s.tables, s.names.goals, userID)
}

func (s *Storage) SaveGoal(ctx context.Context, userID string, g domain.UserGoal) error {
	return putDoc(ctx, s.tables, s.names.goals, userID, g.ID, g)
}

func (s *Storage) SaveSuggestion(ctx context.Context, userID string, sg domain.TaskSuggestion) error {
	return putDoc(ctx, s.tables, s.names.suggestions, userID, sg.ID, sg)
}

// FetchSuggestions returns the suggestions recorded for a task. An empty
// taskID returns all of them.
func (s *Storage) FetchSuggestions(ctx context.Context, userID, taskID string) ([]domain.TaskSuggestion, error) {
	all, err := listDocs[domain.TaskSuggestion](ctx, s.tables, s.names.suggestions, userID)
	if err != nil || taskID == "" {
		return all, err
	}
	out := all[:0]
	for _, sg := range all {
		if sg.TaskID == taskID {
			out = append(out, sg)
		}
	}
	return out, nil
}

func (s *Storage) SaveInsights(ctx context.Context, userID string, insights []domain.ProductivityInsight) error {
	for _, in := range insights {
		if err := putDoc(ctx, s.tables, s.names.insights, userID, in.ID, in); err != nil {
			return err
		}
	}
	return nil
}

// FetchInsights returns the insights that have not expired at now. Expired
// rows are removed on the way.
func (s *Storage) FetchInsights(ctx context.Context, userID string, now time.Time) ([]domain.ProductivityInsight, error) {
	all, err := listDocs[domain.ProductivityInsight](ctx, s.tables, s.names.insights, userID)
	if err != nil {
		return nil, err
	}
	live := make([]domain.ProductivityInsight, 0, len(all))
	for _, in := range all {
		if in.Expired(now) {
			if err := s.tables.remove(ctx, s.names.insights, userID, in.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			continue
		}
		live = append(live, in)
	}
	return live, nil
}
