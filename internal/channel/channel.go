// Package channel implements the outbound senders (email, chat webhook,
// generic webhook) and the env-backed secret resolver for target keys.
//
// Senders make exactly one attempt and return a classified error on failure;
// retries belong to the caller.
package channel

import (
	"context"
)

const (
	Email   = "email"
	Slack   = "slack"
	Webhook = "webhook"
)

type EmailMessage struct {
	To      []string
	CC      []string
	Subject string
	// Body is markdown; drivers that support HTML render it.
	Body string
}

// Receipt is what a provider returned for an accepted message.
type Receipt struct {
	ID string `json:"id,omitempty"`
}

type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) (Receipt, error)
}

type SlackPoster interface {
	PostSlack(ctx context.Context, webhookURL, text string) error
}

type WebhookPoster interface {
	PostWebhook(ctx context.Context, url string, payload any) error
}

// Senders groups the three channels.
type Senders struct {
	Email   EmailSender
	Slack   SlackPoster
	Webhook WebhookPoster
}
