package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CooldownNotifier drops alerts whose exact content was already sent inside
// the cooldown window, so repeated identical failures do not spam the sink.
type CooldownNotifier struct {
	inner    Notifier
	cooldown time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewCooldownNotifier wraps a notifier with content-keyed rate limiting.
func NewCooldownNotifier(inner Notifier, cooldown time.Duration, logger zerolog.Logger) *CooldownNotifier {
	return &CooldownNotifier{
		cooldown: cooldown,
		inner:    inner,
		lastSent: make(map[string]time.Time),
		logger:   logger.With().Str("component", "alert_cooldown").Logger(),
		now:      time.Now,
	}
}

// Notify forwards the message unless its content is still cooling down.
// A suppressed message is not an error.
func (n *CooldownNotifier) Notify(ctx context.Context, msg Message) error {
	now := n.now()

	n.mu.Lock()
	if sent, ok := n.lastSent[msg.Text]; ok && now.Sub(sent) < n.cooldown {
		n.mu.Unlock()
		n.logger.Debug().Msg("identical alert suppressed by cooldown")
		return nil
	}
	n.lastSent[msg.Text] = now
	n.mu.Unlock()

	if err := n.inner.Notify(ctx, msg); err != nil {
		// Delivery failed; forget the content so the next occurrence is
		// attempted again.
		n.mu.Lock()
		delete(n.lastSent, msg.Text)
		n.mu.Unlock()
		return err
	}
	return nil
}

var _ Notifier = (*CooldownNotifier)(nil)
