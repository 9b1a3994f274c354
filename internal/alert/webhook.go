// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package alert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// WebhookNotifier POSTs alerts as JSON to a configured endpoint. A token
// bucket caps the delivery rate; alerts beyond it are rejected rather than
// queued, keeping a flood of findings from hammering the receiver.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
}

// WebhookOptions configures a WebhookNotifier.
type WebhookOptions struct {
	URL           string
	Headers       map[string]string
	Timeout       time.Duration
	RatePerMinute int
}

// NewWebhookNotifier builds a webhook notifier.
func NewWebhookNotifier(opts WebhookOptions) *WebhookNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 60
	}
	return &WebhookNotifier{
		url:     opts.URL,
		headers: opts.Headers,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60.0), opts.RatePerMinute),
	}
}

// Name identifies this notifier in logs and metrics.
func (n *WebhookNotifier) Name() string { return "webhook" }

// Notify delivers one alert, or reports why it could not.
func (n *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	if !n.limiter.Allow() {
		return fmt.Errorf("webhook rate limit exceeded")
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
