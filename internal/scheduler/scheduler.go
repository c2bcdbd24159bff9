package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune loop behaviour.
type Options struct {
	Name string
	// Interval between ticks.
	Interval time.Duration
	// RunImmediately fires one tick before the first interval elapses.
	RunImmediately bool
	StartupDelay   time.Duration
}

// Loop drives one worker on a cancellable timer. Each worker owns its own
// Loop; loops never share state.
type Loop struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Loop instance.
func New(opts Options, logger zerolog.Logger) *Loop {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Loop{
		logger: logger.With().Str("component", "scheduler").Str("worker", opts.Name).Logger(),
		opts:   opts,
	}
}

// Run blocks, invoking the tick function at each interval until ctx is
// cancelled. A failing tick is logged and retried on the next interval.
func (l *Loop) Run(ctx context.Context, tick TickFunc) error {
	if l.opts.StartupDelay > 0 {
		timer := time.NewTimer(l.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if l.opts.RunImmediately {
		l.execute(ctx, tick)
	}

	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.execute(ctx, tick)
		}
	}
}

func (l *Loop) execute(ctx context.Context, tick TickFunc) {
	now := time.Now().UTC()
	l.logger.Debug().Time("tick", now).Msg("executing scheduled tick")
	if err := tick(ctx, now); err != nil {
		l.logger.Error().Err(err).Time("tick", now).Msg("tick execution failed")
	}
}
