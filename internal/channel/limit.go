package channel

import (
	"context"

	"golang.org/x/time/rate"

	"digestfanout/internal/retry"
)

// RateLimited wraps s so each channel sends at most perSec messages per
// second (burst perSec). perSec <= 0 returns s unchanged.
func RateLimited(s Senders, perSec int) Senders {
	if perSec <= 0 {
		return s
	}
	newLim := func() *rate.Limiter { return rate.NewLimiter(rate.Limit(perSec), perSec) }
	out := s
	if s.Email != nil {
		out.Email = limitedEmail{next: s.Email, lim: newLim()}
	}
	if s.Slack != nil {
		out.Slack = limitedSlack{next: s.Slack, lim: newLim()}
	}
	if s.Webhook != nil {
		out.Webhook = limitedWebhook{next: s.Webhook, lim: newLim()}
	}
	return out
}

func wait(ctx context.Context, lim *rate.Limiter) error {
	if err := lim.Wait(ctx); err != nil {
		return retry.Classify(err)
	}
	return nil
}

type limitedEmail struct {
	next EmailSender
	lim  *rate.Limiter
}

func (l limitedEmail) SendEmail(ctx context.Context, msg EmailMessage) (Receipt, error) {
	if err := wait(ctx, l.lim); err != nil {
		return Receipt{}, err
	}
	return l.next.SendEmail(ctx, msg)
}

type limitedSlack struct {
	next SlackPoster
	lim  *rate.Limiter
}

func (l limitedSlack) PostSlack(ctx context.Context, url, text string) error {
	if err := wait(ctx, l.lim); err != nil {
		return err
	}
	return l.next.PostSlack(ctx, url, text)
}

type limitedWebhook struct {
	next WebhookPoster
	lim  *rate.Limiter
}

func (l limitedWebhook) PostWebhook(ctx context.Context, url string, payload any) error {
	if err := wait(ctx, l.lim); err != nil {
		return err
	}
	return l.next.PostWebhook(ctx, url, payload)
}
