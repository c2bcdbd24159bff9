package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vortex-ramp/internal/model"
)

// CleanupStore is the storage slice the cleanup sweep needs.
type CleanupStore interface {
	ListCompletedBefore(ctx context.Context, before time.Time) ([]*model.RampState, error)
	MergeRampState(ctx context.Context, id string, patch map[string]any) error
}

// CleanupWorker marks long-completed ramps as post-processed so operator
// views and later sweeps can skip them. Ramps are never hard-deleted; the
// saga record is the audit trail.
type CleanupWorker struct {
	store     CleanupStore
	retention time.Duration
	logger    zerolog.Logger
}

// NewCleanupWorker builds the cleanup sweep. retention is how long a
// completed ramp stays untouched before it is marked.
func NewCleanupWorker(store CleanupStore, retention time.Duration, logger zerolog.Logger) *CleanupWorker {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &CleanupWorker{
		logger:    logger.With().Str("component", "cleanup").Logger(),
		retention: retention,
		store:     store,
	}
}

// Run performs one cleanup sweep.
func (w *CleanupWorker) Run(ctx context.Context, now time.Time) error {
	completed, err := w.store.ListCompletedBefore(ctx, now.Add(-w.retention))
	if err != nil {
		return fmt.Errorf("list completed ramps: %w", err)
	}

	var lastErr error
	for _, ramp := range completed {
		patch := map[string]any{model.StateKeyCleanup: true}
		if err := w.store.MergeRampState(ctx, ramp.ID, patch); err != nil {
			w.logger.Warn().Err(err).Str("ramp_id", ramp.ID).Msg("failed to mark ramp cleaned up")
			lastErr = err
		}
	}
	if len(completed) > 0 {
		w.logger.Info().Int("count", len(completed)).Msg("cleanup sweep finished")
	}
	return lastErr
}
