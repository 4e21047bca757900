package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type promptTask struct {
	Title       string
	Description string
	Type        string
	Priority    string
}

func TestDefaultCatalogue_HasEveryFunction(t *testing.T) {
	c, err := DefaultCatalogue()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", c.Model)
	assert.Equal(t, []string{
		"chat",
		"estimate.category_suggestion",
		"estimate.deadline_prediction",
		"estimate.time_estimate",
		"insights",
		"suggest.breakdown",
		"suggest.context",
		"suggest.priority",
		"suggest.subtasks",
	}, c.Names())
}

func TestCatalogue_RenderBreakdown(t *testing.T) {
	c, err := DefaultCatalogue()
	require.NoError(t, err)

	req, err := c.Request("suggest.breakdown", map[string]any{
		"Task": promptTask{Title: "Ship login", Type: "code", Priority: "high"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Break down this task: \"Ship login\"\nDescription: No description\nType: code\nPriority: high", req.Prompt)
	assert.Equal(t, 0.3, req.Temperature)
	assert.Equal(t, 1500, req.MaxTokens)
	assert.Contains(t, req.System, "estimated_hours")
}

func TestCatalogue_RenderChat(t *testing.T) {
	c, err := DefaultCatalogue()
	require.NoError(t, err)

	plain, err := c.Request("chat", map[string]any{"Task": nil, "Prompt": "How do I name this?", "Context": ""})
	require.NoError(t, err)
	assert.Equal(t, "How do I name this?", plain.Prompt)

	withTask, err := c.Request("chat", map[string]any{
		"Task":    &promptTask{Title: "Fix cache", Type: "code", Priority: "med", Description: "stale reads"},
		"Prompt":  "Where to start?",
		"Context": "redis 7",
	})
	require.NoError(t, err)
	assert.Equal(t, "Context: Working on task \"Fix cache\" (code, priority: med)\nTask description: stale reads\n\nUser prompt: Where to start?\n\nAdditional context: redis 7", withTask.Prompt)
	assert.Equal(t, 0.7, withTask.Temperature)
}

func TestCatalogue_Errors(t *testing.T) {
	c, err := DefaultCatalogue()
	require.NoError(t, err)

	_, err = c.Request("summarise", nil)
	assert.ErrorIs(t, err, ErrUnknownFunction)

	_, err = ParseCatalogue([]byte("functions:\n  x:\n    system: hi\n"))
	assert.Error(t, err)

	_, err = ParseCatalogue([]byte("functions:\n  x:\n    system: hi\n    user: \"{{ .Broken \"\n"))
	assert.Error(t, err)
}
