package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vortex-ramp/internal/storage"
)

// Processor re-drives one ramp through its phase graph.
type Processor interface {
	Process(ctx context.Context, rampID string) error
}

// RecoveryWorker re-triggers ramps that stopped advancing, typically after a
// crash or a provider outage. Only started ramps qualify: a ramp without
// presigned transactions is still waiting for its client.
type RecoveryWorker struct {
	ramps     storage.RampStateStore
	processor Processor
	idle      time.Duration
	logger    zerolog.Logger
}

// NewRecoveryWorker builds the recovery sweep. idle is how long a ramp must
// sit without an update before it is picked up.
func NewRecoveryWorker(ramps storage.RampStateStore, processor Processor, idle time.Duration, logger zerolog.Logger) *RecoveryWorker {
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	return &RecoveryWorker{
		idle:      idle,
		logger:    logger.With().Str("component", "recovery").Logger(),
		processor: processor,
		ramps:     ramps,
	}
}

// Run performs one recovery sweep. Ramps are processed one at a time; the
// executor's compare-and-swap makes overlap with live traffic harmless.
func (w *RecoveryWorker) Run(ctx context.Context, now time.Time) error {
	stale, err := w.ramps.ListStaleActive(ctx, now.Add(-w.idle))
	if err != nil {
		return fmt.Errorf("list stale ramps: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	w.logger.Info().Int("count", len(stale)).Msg("re-driving stalled ramps")

	var lastErr error
	for _, ramp := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.processor.Process(ctx, ramp.ID); err != nil {
			w.logger.Warn().Err(err).Str("ramp_id", ramp.ID).Msg("recovery attempt failed")
			lastErr = err
		}
	}
	return lastErr
}
