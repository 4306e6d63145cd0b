package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Sender delivers one event to an external destination.
type Sender interface {
	Send(ctx context.Context, event Event) error
}

// WebhookConfig configures the webhook sender.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// WebhookSender posts events as JSON to a configured webhook URL.
type WebhookSender struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(config WebhookConfig) *WebhookSender {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &WebhookSender{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Send posts the event to the webhook URL.
func (s *WebhookSender) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Unique per attempt so receivers can deduplicate.
	req.Header.Set("X-Delivery-ID", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}
