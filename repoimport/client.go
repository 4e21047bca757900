// Package repoimport pulls source files and issues from a GitHub repository
// so they can be kept as snippets.
package repoimport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.github.com"
	userAgent      = "DevFlow-Importer"
	maxErrorBody   = 1024
)

var (
	ErrInvalidURL   = errors.New("invalid GitHub URL")
	ErrUnauthorized = errors.New("GitHub token is invalid or expired")
	ErrForbidden    = errors.New("API rate limit exceeded or access denied")
	ErrNotFound     = errors.New("repository not found or is private")
)

var repoPattern = regexp.MustCompile(`github\.com/([^/]+)/([^/?#]+)`)

// Repo identifies a repository by owner and name.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// ParseRepoURL extracts the owner and repository from a github.com URL. A
// trailing .git is dropped.
func ParseRepoURL(raw string) (Repo, error) {
	m := repoPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	name := strings.TrimSuffix(m[2], ".git")
	if name == "" {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return Repo{Owner: m[1], Name: name}, nil
}

// APIError is a non-success answer from the GitHub API. It matches
// ErrUnauthorized, ErrForbidden and ErrNotFound through errors.Is.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if sentinel := e.sentinel(); sentinel != nil {
		return sentinel.Error()
	}
	return fmt.Sprintf("GitHub API error: %s", e.Status)
}

func (e *APIError) Is(target error) bool {
	return target != nil && target == e.sentinel()
}

func (e *APIError) sentinel() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// Client talks to the GitHub REST API.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

type Option func(*Client)

// WithBaseURL points the client at another API root, such as a GitHub
// Enterprise server or a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client. An empty token makes anonymous requests.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: DefaultBaseURL,
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// escapePath escapes each segment of a repository path.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

type Metadata struct {
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
	Private       bool   `json:"private"`
}

func (c *Client) Metadata(ctx context.Context, r Repo) (Metadata, error) {
	var m Metadata
	err := c.getJSON(ctx, "/repos/"+r.Owner+"/"+r.Name, nil, &m)
	return m, err
}

// HeadCommit returns the SHA of the tip of ref.
func (c *Client) HeadCommit(ctx context.Context, r Repo, ref string) (string, error) {
	var body struct {
		SHA string `json:"sha"`
	}
	if err := c.getJSON(ctx, "/repos/"+r.Owner+"/"+r.Name+"/commits/"+url.PathEscape(ref), nil, &body); err != nil {
		return "", err
	}
	return body.SHA, nil
}

// Entry is one item of a directory listing.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	SHA  string `json:"sha"`
}

func (c *Client) ListDir(ctx context.Context, r Repo, dir string) ([]Entry, error) {
	var entries []Entry
	err := c.getJSON(ctx, "/repos/"+r.Owner+"/"+r.Name+"/contents/"+escapePath(dir), nil, &entries)
	return entries, err
}

// FileContent returns the decoded content of a file. ok is false when the API
// did not return base64 content, as happens for submodules and large blobs.
func (c *Client) FileContent(ctx context.Context, r Repo, p string) (content []byte, ok bool, err error) {
	var body struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := c.getJSON(ctx, "/repos/"+r.Owner+"/"+r.Name+"/contents/"+escapePath(p), nil, &body); err != nil {
		return nil, false, err
	}
	if body.Content == "" || body.Encoding != "base64" {
		return nil, false, nil
	}
	data, err := decodeBase64(body.Content)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", p, err)
	}
	return data, true, nil
}

// Issue is a repository issue or pull request.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (c *Client) Issues(ctx context.Context, r Repo) ([]Issue, error) {
	var issues []Issue
	q := url.Values{"state": {"all"}, "per_page": {"100"}}
	err := c.getJSON(ctx, "/repos/"+r.Owner+"/"+r.Name+"/issues", q, &issues)
	return issues, err
}
