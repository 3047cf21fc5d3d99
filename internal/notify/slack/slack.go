// Package slack posts operator notifications for failed alert routes to a
// Slack incoming webhook.
package slack

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/pager/internal/routing"
)

const (
	maxReasonLen = 1500
	httpTimeout  = 10 * time.Second
)

// Notifier sends routing failures to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *resty.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, NotifyFailure is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	client := resty.New().
		SetTimeout(httpTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Notifier{
		webhookURL: webhookURL,
		client:     client,
		logger:     logger,
	}
}

// NotifyFailure posts a failed route to the configured webhook.
func (n *Notifier) NotifyFailure(ctx context.Context, f *routing.Failure) error {
	if n.webhookURL == "" {
		return nil
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(buildMessage(f)).
		Post(n.webhookURL)
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	if resp.IsError() {
		body := resp.String()
		if len(body) > 512 {
			body = body[:512]
		}
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode(), body)
	}

	n.logger.Info(ctx, "operator notified", "message_id", f.MessageID, "outcome", f.Outcome)
	return nil
}

func buildMessage(f *routing.Failure) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("Alert %s was not delivered (%s)", f.MessageID, f.Outcome),
		"blocks": []map[string]any{
			headerBlock(f),
			fieldsBlock(f),
			reasonBlock(f),
			contextBlock(f),
		},
	}
}

func headerBlock(f *routing.Failure) map[string]any {
	title := "Alert dispatch failed"
	if f.Outcome == routing.OutcomeChannelMisconfigured {
		title = "Contact channel misconfigured"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": "\U0001f534 " + title,
		},
	}
}

func fieldsBlock(f *routing.Failure) map[string]any {
	channel := string(f.Channel)
	if channel == "" {
		channel = "-"
	}
	dest := f.Destination
	if dest == "" {
		dest = "-"
	}
	field := func(k, v string) map[string]any {
		return map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*%s:* %s", k, v)}
	}
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			field("Message", f.MessageID),
			field("Contact", f.ContactID),
			field("Priority", f.Priority),
			field("Channel", channel),
			field("Destination", dest),
			field("Outcome", string(f.Outcome)),
		},
	}
}

func reasonBlock(f *routing.Failure) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reason*\n```%s```", truncate(f.Reason, maxReasonLen)),
		},
	}
}

func contextBlock(f *routing.Failure) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("pager • %s", f.At.UTC().Format("2006-01-02 15:04:05 UTC")),
			},
		},
	}
}

// truncate caps s at limit bytes, cutting on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
