// Package slack posts noteworthy event outcomes (emergency triages,
// processing failures) to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/steward/internal/dispatch"
)

const (
	maxDetailLen = 2000
	httpTimeout  = 10 * time.Second
)

// Notifier sends outcome records to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a
// no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Notify posts an outcome record to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, rec *dispatch.Record) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(rec)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(rec *dispatch.Record) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(rec),
			{"type": "divider"},
			fieldsBlock(rec),
			detailBlock(rec),
		},
	}
}

func headerBlock(rec *dispatch.Record) map[string]any {
	var text string
	switch {
	case rec.Outcome == dispatch.OutcomeFailed:
		text = fmt.Sprintf(":x: Event processing failed (%s)", rec.Topic)
	default:
		text = fmt.Sprintf(":rotating_light: Emergency ticket triaged: %s", rec.TicketID)
	}

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(rec *dispatch.Record) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": "*Tenant:*\n" + rec.TenantID},
		{"type": "mrkdwn", "text": "*Ticket:*\n" + rec.TicketID},
		{"type": "mrkdwn", "text": "*Event:*\n" + rec.EventID},
		{"type": "mrkdwn", "text": "*Stage:*\n" + string(rec.Stage)},
	}
	if rec.Category != "" {
		fields = append(fields,
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Category:*\n%s (P%d)", rec.Category, rec.Priority)},
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Confidence:*\n%.2f", rec.Confidence)},
		)
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func detailBlock(rec *dispatch.Record) map[string]any {
	detail := rec.Detail
	if detail == "" {
		detail = "(no detail)"
	}
	if len(detail) > maxDetailLen {
		detail = detail[:maxDetailLen] + "..."
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": detail,
		},
	}
}
