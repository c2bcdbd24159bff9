package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingNotifier struct {
	sent []Message
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, msg Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestCooldownSuppressesIdenticalContent(t *testing.T) {
	inner := &recordingNotifier{}
	notifier := NewCooldownNotifier(inner, time.Hour, zerolog.Nop())

	now := time.Unix(1000, 0)
	notifier.now = func() time.Time { return now }

	msg := Message{Text: "something broke"}
	if err := notifier.Notify(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := notifier.Notify(context.Background(), msg); err != nil {
		t.Fatalf("suppressed send must not error: %v", err)
	}
	if len(inner.sent) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(inner.sent))
	}

	// Past the window the same content goes through again.
	now = now.Add(time.Hour)
	if err := notifier.Notify(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inner.sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(inner.sent))
	}
}

func TestCooldownAllowsDistinctContent(t *testing.T) {
	inner := &recordingNotifier{}
	notifier := NewCooldownNotifier(inner, time.Hour, zerolog.Nop())

	_ = notifier.Notify(context.Background(), Message{Text: "account a stuck"})
	_ = notifier.Notify(context.Background(), Message{Text: "account b stuck"})
	if len(inner.sent) != 2 {
		t.Fatalf("distinct content must not be suppressed, got %d deliveries", len(inner.sent))
	}
}

func TestCooldownForgetsFailedDelivery(t *testing.T) {
	inner := &recordingNotifier{err: errors.New("webhook down")}
	notifier := NewCooldownNotifier(inner, time.Hour, zerolog.Nop())

	msg := Message{Text: "something broke"}
	if err := notifier.Notify(context.Background(), msg); err == nil {
		t.Fatal("delivery failure must surface")
	}

	inner.err = nil
	if err := notifier.Notify(context.Background(), msg); err != nil {
		t.Fatalf("retry after failure must go through: %v", err)
	}
	if len(inner.sent) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(inner.sent))
	}
}
