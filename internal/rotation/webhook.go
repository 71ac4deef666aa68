package rotation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// RotationEvent is the payload delivered to a record's webhook after rotation.
type RotationEvent struct {
	OldProxyID string    `json:"old_proxy_id"`
	NewProxyID string    `json:"new_proxy_id"`
	Provider   string    `json:"provider"`
	RotatedAt  time.Time `json:"rotated_at"`
}

// Notifier delivers rotation events. Delivery is best effort; implementations
// must not return errors into the rotation path.
type Notifier interface {
	NotifyRotated(ctx context.Context, webhookURL string, event RotationEvent)
}

// WebhookNotifier POSTs rotation events as JSON.
type WebhookNotifier struct {
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier with a bounded timeout.
func NewWebhookNotifier(timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
	}
}

// NotifyRotated POSTs the event to webhookURL. Failures are logged and
// swallowed; the rotation is authoritative regardless of delivery.
func (n *WebhookNotifier) NotifyRotated(ctx context.Context, webhookURL string, event RotationEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("marshaling rotation webhook payload")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("building rotation webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("provider", event.Provider).Msg("rotation webhook delivery failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Warn().Int("status", resp.StatusCode).Str("provider", event.Provider).Msg("rotation webhook rejected")
	}
}
