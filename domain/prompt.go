package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Prompt is a saved exchange with the language model.
type Prompt struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	PromptText   string    `json:"promptText"`
	ResponseText string    `json:"responseText,omitempty"`
	TaskID       string    `json:"taskId,omitempty"`
	TemplateID   string    `json:"templateId,omitempty"`
	Context      string    `json:"context,omitempty"`
	TokensUsed   int       `json:"tokensUsed,omitempty"`
	ModelUsed    string    `json:"modelUsed,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

const promptTitleLimit = 100

// PromptTitle derives a title from the prompt text: the first 100 characters,
// with an ellipsis when the text is longer.
func PromptTitle(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= promptTitleLimit {
		return text
	}
	r := []rune(text)
	return string(r[:promptTitleLimit]) + "..."
}

// PromptTemplate is a reusable prompt with {{variable}} placeholders.
type PromptTemplate struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Category     string    `json:"category,omitempty"`
	TemplateText string    `json:"templateText"`
	Variables    []string  `json:"variables,omitempty"`
	IsPublic     bool      `json:"isPublic"`
	UsageCount   int       `json:"usageCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// TemplateVariables lists the distinct placeholder names in text, in order of
// first appearance.
func TemplateVariables(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func (p PromptTemplate) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if strings.TrimSpace(p.TemplateText) == "" {
		return fmt.Errorf("%w: template text is required", ErrValidation)
	}
	return nil
}

// MissingVariablesError lists placeholders that had no value when rendering.
type MissingVariablesError struct {
	Names []string
}

func (e *MissingVariablesError) Error() string {
	return "missing template variables: " + strings.Join(e.Names, ", ")
}

// Render substitutes every placeholder with its value from vars.
func (p PromptTemplate) Render(vars map[string]string) (string, error) {
	missing := map[string]bool{}
	out := placeholderRe.ReplaceAllStringFunc(p.TemplateText, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			missing[name] = true
			return m
		}
		return v
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", &MissingVariablesError{Names: names}
	}
	return out, nil
}
