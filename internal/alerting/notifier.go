package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Message is one operator alert. Content doubles as the de-duplication key.
type Message struct {
	Text string
}

// Notifier delivers operator alerts. Delivery is fire-and-forget: a failing
// sink must never fail the underlying business operation.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Nop discards alerts. Used when alerting is disabled.
type Nop struct{}

// Notify drops the message.
func (Nop) Notify(context.Context, Message) error { return nil }

// SlackNotifier posts messages to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	logger     zerolog.Logger
}

// NewSlackNotifier constructs a Slack webhook notifier.
func NewSlackNotifier(webhookURL string, timeout time.Duration, logger zerolog.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SlackNotifier{
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_slack").Logger(),
		webhookURL: webhookURL,
	}
}

// Notify posts the message text to the webhook.
func (n *SlackNotifier) Notify(ctx context.Context, msg Message) error {
	payload := map[string]string{"text": msg.Text}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack status %d", resp.StatusCode)
	}

	n.logger.Info().Msg("alert dispatched")
	return nil
}

var _ Notifier = (*SlackNotifier)(nil)
