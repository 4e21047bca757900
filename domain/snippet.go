package domain

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"time"
)

// Snippet is a piece of code saved by the user, optionally linked to a task.
type Snippet struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"filePath"`
	CodeText  string    `json:"codeText"`
	CommitSHA string    `json:"commitSha,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s Snippet) Validate() error {
	if strings.TrimSpace(s.FilePath) == "" {
		return fmt.Errorf("%w: snippet file path is required", ErrValidation)
	}
	if s.CodeText == "" {
		return fmt.Errorf("%w: snippet code is required", ErrValidation)
	}
	return nil
}

var languages = map[string]string{
	"js":    "JavaScript",
	"jsx":   "JavaScript React",
	"ts":    "TypeScript",
	"tsx":   "TypeScript React",
	"py":    "Python",
	"java":  "Java",
	"cpp":   "C++",
	"c":     "C",
	"cs":    "C#",
	"php":   "PHP",
	"rb":    "Ruby",
	"go":    "Go",
	"rs":    "Rust",
	"kt":    "Kotlin",
	"scala": "Scala",
	"swift": "Swift",
	"css":   "CSS",
	"scss":  "SCSS",
	"html":  "HTML",
	"xml":   "XML",
	"json":  "JSON",
	"yml":   "YAML",
	"yaml":  "YAML",
	"md":    "Markdown",
	"sql":   "SQL",
	"sh":    "Shell",
	"bash":  "Bash",
}

// LanguageForPath infers a display language from a file extension.
func LanguageForPath(p string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	if lang, ok := languages[ext]; ok {
		return lang
	}
	return "Text"
}

// SnippetFilter narrows a snippet list. Zero fields match everything.
type SnippetFilter struct {
	Search   string     `json:"search,omitempty"`
	Language string     `json:"language,omitempty"`
	TaskID   string     `json:"taskId,omitempty"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
}

func (f SnippetFilter) Match(s Snippet) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(s.FilePath), q) && !strings.Contains(strings.ToLower(s.CodeText), q) {
			return false
		}
	}
	if f.Language != "" {
		lang := s.Language
		if lang == "" {
			lang = LanguageForPath(s.FilePath)
		}
		if !strings.EqualFold(lang, f.Language) {
			return false
		}
	}
	if f.TaskID != "" && s.TaskID != f.TaskID {
		return false
	}
	if f.From != nil && s.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && s.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// SnippetSortField names a sortable snippet attribute.
type SnippetSortField string

const (
	SnippetSortCreatedAt SnippetSortField = "created_at"
	SnippetSortFilePath  SnippetSortField = "file_path"
	SnippetSortLanguage  SnippetSortField = "language"
)

type SnippetSort struct {
	Field SnippetSortField `json:"field,omitempty"`
	Desc  bool             `json:"desc,omitempty"`
}

// DefaultSnippetSort lists newest snippets first.
var DefaultSnippetSort = SnippetSort{Field: SnippetSortCreatedAt, Desc: true}

// FilterSnippets filters and sorts snippets into a new slice.
func FilterSnippets(snippets []Snippet, f SnippetFilter, s SnippetSort) []Snippet {
	out := make([]Snippet, 0, len(snippets))
	for _, sn := range snippets {
		if f.Match(sn) {
			out = append(out, sn)
		}
	}
	dir := 1
	if s.Desc {
		dir = -1
	}
	slices.SortStableFunc(out, func(a, b Snippet) int {
		switch s.Field {
		case SnippetSortFilePath:
			return dir * strings.Compare(a.FilePath, b.FilePath)
		case SnippetSortLanguage:
			return dir * strings.Compare(a.Language, b.Language)
		default:
			return dir * a.CreatedAt.Compare(b.CreatedAt)
		}
	})
	return out
}
