package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"digestfanout/internal/retry"
)

// HTTPPoster posts chat and generic webhooks. Each call carries its own
// timeout; a timeout surfaces as a timeout-kind error.
type HTTPPoster struct {
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPPoster(timeout time.Duration) *HTTPPoster {
	return &HTTPPoster{Client: &http.Client{}, Timeout: timeout}
}

func (p *HTTPPoster) PostSlack(ctx context.Context, webhookURL, text string) error {
	return p.post(ctx, webhookURL, map[string]string{"text": text})
}

func (p *HTTPPoster) PostWebhook(ctx context.Context, url string, payload any) error {
	return p.post(ctx, url, payload)
}

func (p *HTTPPoster) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.NoRetry(fmt.Errorf("encode payload: %w", err))
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.NoRetry(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return retry.Classify(err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = resp.Status
		}
		return retry.HTTPError(resp.StatusCode, msg)
	}
	return nil
}
