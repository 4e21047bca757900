package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type ReviewStatus string

const (
	ReviewOpen             ReviewStatus = "open"
	ReviewChangesRequested ReviewStatus = "changes-requested"
	ReviewMerged           ReviewStatus = "merged"
)

func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewOpen, ReviewChangesRequested, ReviewMerged:
		return true
	}
	return false
}

// Review tracks a pull request the user is reviewing or authored.
type Review struct {
	ID        string       `json:"id"`
	PRURL     string       `json:"prUrl"`
	Notes     string       `json:"notes,omitempty"`
	Status    ReviewStatus `json:"status"`
	Reviewer  string       `json:"reviewer,omitempty"`
	TaskID    string       `json:"taskId,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func (r Review) Validate() error {
	u, err := url.Parse(strings.TrimSpace(r.PRURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: review needs an http(s) pull request url", ErrValidation)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: review status %q", ErrValidation, r.Status)
	}
	return nil
}

// ReviewUpdate is a partial review change.
type ReviewUpdate struct {
	Notes    *string       `json:"notes,omitempty"`
	Status   *ReviewStatus `json:"status,omitempty"`
	Reviewer *string       `json:"reviewer,omitempty"`
}

// Apply returns r with the update applied.
func (u ReviewUpdate) Apply(r Review, now time.Time) (Review, error) {
	if u.Notes != nil {
		r.Notes = *u.Notes
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.Reviewer != nil {
		r.Reviewer = *u.Reviewer
	}
	r.UpdatedAt = now.UTC()
	return r, r.Validate()
}
