// Package adapters delivers published events to external consumers and
// translates inbound notifications back onto the bus.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/internal/config"
	"github.com/mood-agency/funny-sub004/internal/errkind"
)

// Webhook posts events to one configured HTTP target.
type Webhook struct {
	cfg    config.WebhookConfig
	client *http.Client
}

// NewWebhook builds the adapter for one webhook target. The configured
// timeout bounds each delivery attempt.
func NewWebhook(cfg config.WebhookConfig) *Webhook {
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout()},
	}
}

// Name identifies the adapter in DLQ paths and logs.
func (w *Webhook) Name() string { return "webhook:" + w.cfg.URL }

// Matches reports whether the event type passes the filter list. An
// empty list delivers everything; entries may be doublestar globs, so
// "pipeline.*" covers the whole pipeline family.
func (w *Webhook) Matches(t bus.EventType) bool {
	if len(w.cfg.Events) == 0 {
		return true
	}
	for _, pattern := range w.cfg.Events {
		if pattern == string(t) {
			return true
		}
		if ok, err := doublestar.Match(pattern, string(t)); err == nil && ok {
			return true
		}
	}
	return false
}

// Deliver posts the event as a JSON body. A transport error or non-2xx
// status is a failed delivery; callers route those to the DLQ.
func (w *Webhook) Deliver(ctx context.Context, ev bus.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errkind.E(errkind.Validation, "webhook.deliver", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return errkind.E(errkind.Validation, "webhook.deliver", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Secret != "" {
		req.Header.Set("X-Webhook-Secret", w.cfg.Secret)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return errkind.E(errkind.Transient, "webhook.deliver", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errkind.Errorf(errkind.Transient, "webhook.deliver",
			"%s returned %d", w.cfg.URL, resp.StatusCode)
	}
	return nil
}
