package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func TestLoopRunsImmediatelyThenOnInterval(t *testing.T) {
	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	loop := New(Options{Name: "test", Interval: 20 * time.Millisecond, RunImmediately: true}, noopLogger())
	go func() {
		defer close(done)
		_ = loop.Run(ctx, func(context.Context, time.Time) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not reach three ticks in time")
	}
	if got := ticks.Load(); got < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", got)
	}
}

func TestLoopSurvivesFailingTicks(t *testing.T) {
	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	loop := New(Options{Name: "test", Interval: 10 * time.Millisecond}, noopLogger())
	go func() {
		defer close(done)
		_ = loop.Run(ctx, func(context.Context, time.Time) error {
			if ticks.Add(1) >= 2 {
				cancel()
			}
			return errors.New("tick failed")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped retrying after a failing tick")
	}
}

func TestLoopStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := New(Options{Name: "test", Interval: time.Hour, StartupDelay: time.Hour}, noopLogger())
	err := loop.Run(ctx, func(context.Context, time.Time) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
