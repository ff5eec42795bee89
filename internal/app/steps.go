/**
 * @description
 * Step handlers for the workflow engine. Each handler runs to completion
 * before the next step begins and returns the data to merge into the
 * execution's data bag; a returned error fails the whole execution.
 */

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/verdantnursery/marketing-service/internal/domain"
)

// Notifier is the email collaborator contract. Send renders the named
// template for the recipient and returns the provider's message id.
type Notifier interface {
	Send(ctx context.Context, template, recipient string, data map[string]any) (string, error)
}

// emailTemplates is the closed set SEND_EMAIL steps may dispatch to.
var emailTemplates = map[string]string{
	"welcome":        "welcome",
	"abandoned-cart": "abandoned-cart",
	"re-engagement":  "re-engagement",
}

// executeStep dispatches on the step's typed config variant. The unknown
// type case is unrepresentable here: DecodeStepConfig already rejected it.
func (e *WorkflowEngine) executeStep(ctx context.Context, exec *domain.Execution, step domain.Step) (map[string]any, error) {
	switch cfg := step.Config.(type) {
	case domain.EmailStepConfig:
		return e.handleSendEmail(ctx, exec, cfg)
	case domain.WaitStepConfig:
		// Delay handling happens before dispatch; the step itself is a no-op.
		return nil, nil
	case domain.ConditionStepConfig:
		return e.handleCondition(exec, cfg)
	case domain.UpdateContactStepConfig:
		return e.handleUpdateContact(ctx, exec, cfg)
	case domain.AddTagStepConfig:
		return e.handleAddTag(ctx, exec, cfg)
	case domain.WebhookStepConfig:
		return e.handleWebhook(ctx, exec, cfg)
	case domain.SocialPostStepConfig:
		return e.handleSocialPost(ctx, exec, cfg)
	case domain.InternalNoteStepConfig:
		e.logger.Info("workflow note", "execution_id", exec.ID, "note", cfg.Note)
		return map[string]any{"note": cfg.Note}, nil
	default:
		return nil, fmt.Errorf("unhandled step type %q", step.Type)
	}
}

func (e *WorkflowEngine) handleSendEmail(ctx context.Context, exec *domain.Execution, cfg domain.EmailStepConfig) (map[string]any, error) {
	email, _ := exec.Data["email"].(string)
	if email == "" {
		email = exec.Email
	}
	if email == "" {
		return nil, fmt.Errorf("no email address available")
	}
	template, ok := emailTemplates[cfg.EmailType]
	if !ok {
		return nil, fmt.Errorf("unknown email type %q", cfg.EmailType)
	}

	messageID, err := e.notifier.Send(ctx, template, email, exec.Data)
	if err != nil {
		return nil, fmt.Errorf("email send failed: %w", err)
	}
	return map[string]any{
		"message_id":    messageID,
		"email_sent_at": e.now().Format(time.RFC3339),
	}, nil
}

// handleCondition treats a false condition as a step failure, which stops
// the workflow. There is no else-branch; the downstream steps simply never
// run. This mirrors long-standing behavior the campaign authors rely on.
func (e *WorkflowEngine) handleCondition(exec *domain.Execution, cfg domain.ConditionStepConfig) (map[string]any, error) {
	ok, err := e.evaluator.Evaluate(cfg, exec.Data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("condition not met")
	}
	return map[string]any{"condition_passed": true}, nil
}

func (e *WorkflowEngine) handleUpdateContact(ctx context.Context, exec *domain.Execution, cfg domain.UpdateContactStepConfig) (map[string]any, error) {
	if exec.Email == "" {
		return nil, fmt.Errorf("update contact requires an email")
	}
	if len(cfg.Updates) == 0 {
		return nil, fmt.Errorf("update contact requires an updates payload")
	}
	if err := e.contacts.UpdateContactFields(ctx, exec.Email, cfg.Updates); err != nil {
		return nil, fmt.Errorf("contact update failed: %w", err)
	}
	return map[string]any{"contact_updated": true}, nil
}

func (e *WorkflowEngine) handleAddTag(ctx context.Context, exec *domain.Execution, cfg domain.AddTagStepConfig) (map[string]any, error) {
	if exec.Email == "" {
		return nil, fmt.Errorf("add tag requires an email")
	}
	if cfg.Tag == "" {
		return nil, fmt.Errorf("add tag requires a tag")
	}
	if err := e.contacts.AddContactTag(ctx, exec.Email, cfg.Tag); err != nil {
		return nil, fmt.Errorf("tagging failed: %w", err)
	}
	return map[string]any{"tag_added": cfg.Tag}, nil
}

func (e *WorkflowEngine) handleWebhook(ctx context.Context, exec *domain.Execution, cfg domain.WebhookStepConfig) (map[string]any, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook requires a url")
	}
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(exec.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data bag: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return map[string]any{"webhook_status": resp.StatusCode}, nil
}

// handleSocialPost does not post anything itself; it writes a scheduled
// post row for the external publisher to pick up.
func (e *WorkflowEngine) handleSocialPost(ctx context.Context, exec *domain.Execution, cfg domain.SocialPostStepConfig) (map[string]any, error) {
	if cfg.Platform == "" || cfg.Content == "" {
		return nil, fmt.Errorf("social post requires a platform and content")
	}

	post := &domain.ScheduledPost{
		ID:          uuid.New(),
		Platform:    cfg.Platform,
		Content:     interpolate(cfg.Content, exec.Data),
		MediaURL:    cfg.MediaURL,
		Hashtags:    cfg.Hashtags,
		ScheduledAt: e.now(),
		Status:      "scheduled",
	}
	if err := e.wfRepo.CreateScheduledPost(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to schedule social post: %w", err)
	}
	return map[string]any{"scheduled_post_id": post.ID.String()}, nil
}

// interpolate substitutes {{field}} placeholders with values from the data bag.
func interpolate(content string, data map[string]any) string {
	for key, value := range data {
		placeholder := "{{" + key + "}}"
		if strings.Contains(content, placeholder) {
			content = strings.ReplaceAll(content, placeholder, toString(value))
		}
	}
	return content
}
