package assistant

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"devflow/domain"
)

type ChatRequest struct {
	Prompt     string `json:"prompt"`
	TaskID     string `json:"taskId,omitempty"`
	TemplateID string `json:"templateId,omitempty"`
	Context    string `json:"context,omitempty"`
}

type ChatResult struct {
	Response   string `json:"response"`
	TokensUsed int    `json:"tokensUsed"`
	PromptID   string `json:"promptId,omitempty"`
}

// Chat answers a free form prompt. When the prompt is linked to a task the
// task is described to the model first. The exchange is recorded as a Prompt;
// a failure to record it is logged and the answer is still returned.
func (s *Service) Chat(ctx context.Context, userID string, req ChatRequest) (ChatResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return ChatResult{}, fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}
	var task *domain.Task
	if req.TaskID != "" {
		t, err := s.loadTask(ctx, userID, req.TaskID)
		if err != nil {
			return ChatResult{}, err
		}
		task = t
	}

	resp, err := s.complete(ctx, "chat", map[string]any{
		"Task":    task,
		"Prompt":  req.Prompt,
		"Context": req.Context,
	})
	if err != nil {
		return ChatResult{}, err
	}

	prompt := domain.Prompt{
		ID:           s.newID(),
		Title:        domain.PromptTitle(req.Prompt),
		PromptText:   req.Prompt,
		ResponseText: resp.Text,
		TemplateID:   req.TemplateID,
		Context:      req.Context,
		TokensUsed:   resp.TokensUsed,
		ModelUsed:    resp.Model,
		CreatedAt:    s.now().UTC(),
	}
	if task != nil {
		prompt.TaskID = task.ID
	}
	result := ChatResult{Response: resp.Text, TokensUsed: resp.TokensUsed}
	if err := s.store.SavePrompt(ctx, userID, prompt); err != nil {
		s.log.WithError(err).WithField("user", userID).Error("failed to save prompt")
	} else {
		result.PromptID = prompt.ID
	}
	if req.TemplateID != "" {
		if err := s.store.IncrementTemplateUsage(ctx, userID, req.TemplateID); err != nil {
			s.log.WithError(err).WithFields(log.Fields{"user": userID, "template": req.TemplateID}).Warn("failed to count template usage")
		}
	}
	return result, nil
}
