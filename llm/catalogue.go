package llm

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// ErrUnknownFunction is returned for a name missing from the catalogue.
var ErrUnknownFunction = errors.New("llm: unknown prompt function")

// Function is one catalogue entry: a system prompt, a user prompt template
// and sampling settings.
type Function struct {
	System      string  `yaml:"system"`
	User        string  `yaml:"user"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	tmpl *template.Template
}

// Catalogue holds the prompts of every assistant function.
type Catalogue struct {
	Model     string               `yaml:"model"`
	Functions map[string]*Function `yaml:"functions"`
}

// DefaultCatalogue parses the embedded prompts.yaml.
func DefaultCatalogue() (*Catalogue, error) {
	return ParseCatalogue(defaultPrompts)
}

// ParseCatalogue decodes a YAML catalogue and compiles its templates.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse prompt catalogue: %w", err)
	}
	if len(c.Functions) == 0 {
		return nil, errors.New("prompt catalogue has no functions")
	}
	for name, fn := range c.Functions {
		if fn == nil || strings.TrimSpace(fn.System) == "" || strings.TrimSpace(fn.User) == "" {
			return nil, fmt.Errorf("prompt %s: system and user prompts are required", name)
		}
		if fn.Temperature < 0 || fn.Temperature > 2 {
			return nil, fmt.Errorf("prompt %s: temperature %v out of range", name, fn.Temperature)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(fn.User)
		if err != nil {
			return nil, fmt.Errorf("prompt %s: %w", name, err)
		}
		fn.tmpl = tmpl
	}
	return &c, nil
}

// Names lists the catalogue entries in sorted order.
func (c *Catalogue) Names() []string {
	names := make([]string, 0, len(c.Functions))
	for n := range c.Functions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Request renders the named function's user prompt with data.
func (c *Catalogue) Request(name string, data any) (Request, error) {
	fn, ok := c.Functions[name]
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	var sb strings.Builder
	if err := fn.tmpl.Execute(&sb, data); err != nil {
		return Request{}, fmt.Errorf("render prompt %s: %w", name, err)
	}
	return Request{
		System:      fn.System,
		Prompt:      sb.String(),
		Temperature: fn.Temperature,
		MaxTokens:   fn.MaxTokens,
	}, nil
}
