// Package llm talks to hosted chat completion models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured is returned when a provider has no API key.
var ErrNotConfigured = errors.New("llm: api key not configured")

// Request is a single completion call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Response is the model output of one call.
type Response struct {
	Text       string
	TokensUsed int
	Model      string
}

// Completer sends one request to a model. Implementations do not retry.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (Response, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// UpstreamError reports a failed call to the model provider.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s API error: %v", e.Provider, e.Err)
	}
	return e.Provider + " API error: " + e.Body
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Providers accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// New builds the completer for provider. An empty model selects the
// provider default.
func New(ctx context.Context, provider, apiKey, model string) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderOpenAI:
		cfg := DefaultOpenAIConfig(apiKey)
		if model != "" {
			cfg.Model = model
		}
		return NewOpenAI(cfg), nil
	case ProviderGemini:
		return NewGemini(ctx, apiKey, model)
	}
	return nil, fmt.Errorf("llm: unknown provider %q", provider)
}

const maxErrorBody = 2048

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
