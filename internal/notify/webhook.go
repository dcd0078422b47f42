// Package notify delivers tracker events to external systems: an HTTP
// webhook and an MQTT broker. Both implement stalker.Sink.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/unifi-toolkit/internal/httpkit"
	"github.com/nugget/unifi-toolkit/internal/stalker"
)

const webhookTimeout = 10 * time.Second

// Webhook POSTs each event as JSON to a fixed URL.
type Webhook struct {
	url    string
	hc     *http.Client
	logger *slog.Logger
}

// NewWebhook creates a webhook sink for url.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url: url,
		hc: httpkit.NewClient(
			httpkit.WithTimeout(webhookTimeout),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// Publish delivers one event. Non-2xx responses are errors.
func (w *Webhook) Publish(ctx context.Context, ev stalker.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.hc.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver %s event: %w", ev.Type, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: deliver %s event: unexpected status %d", ev.Type, resp.StatusCode)
	}

	w.logger.Debug("webhook delivered", "type", ev.Type, "mac", ev.MAC)
	return nil
}
