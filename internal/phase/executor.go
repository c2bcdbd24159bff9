package phase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vortex-ramp/internal/model"
	"vortex-ramp/internal/storage"
)

const (
	defaultMaxRetries  = 8
	defaultBackoffBase = time.Second
)

// ExecutorOptions tune the retry policy of the phase executor.
type ExecutorOptions struct {
	// MaxRetries bounds consecutive recoverable failures per Process call.
	MaxRetries int
	// BackoffBase is the first retry delay; each retry doubles it.
	BackoffBase time.Duration
}

// Executor drives ramps through their phase graph. Correctness does not
// depend on single ownership of a ramp: every transition goes through the
// store's compare-and-swap, so a racing executor loses cleanly. The
// in-process lock in Process only avoids wasted duplicate work.
type Executor struct {
	registry *Registry
	ramps    storage.RampStateStore
	quotes   storage.QuoteStore
	logger   zerolog.Logger

	maxRetries  int
	backoffBase time.Duration

	mu     sync.Mutex
	active map[string]struct{}
}

// NewExecutor builds a phase executor.
func NewExecutor(registry *Registry, ramps storage.RampStateStore, quotes storage.QuoteStore, logger zerolog.Logger, opts ExecutorOptions) *Executor {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	return &Executor{
		registry:    registry,
		ramps:       ramps,
		quotes:      quotes,
		logger:      logger.With().Str("component", "phase_executor").Logger(),
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		active:      make(map[string]struct{}),
	}
}

// Advance executes at most one phase transition for a ramp. It returns the
// ramp after the attempt and whether a transition was committed. A waiting
// handler (external event not in yet) returns (ramp, false, nil). A
// recoverable handler failure leaves the phase unchanged and surfaces the
// error; an unrecoverable one moves the ramp to failed first.
func (e *Executor) Advance(ctx context.Context, rampID string) (*model.RampState, bool, error) {
	ramp, err := e.ramps.GetRampState(ctx, rampID)
	if err != nil {
		return nil, false, fmt.Errorf("load ramp %s: %w", rampID, err)
	}
	if ramp.CurrentPhase.IsTerminal() {
		return ramp, false, nil
	}

	handler, ok := e.registry.Handler(ramp.Type, ramp.CurrentPhase)
	if !ok {
		return ramp, false, fmt.Errorf("no handler for %s ramp in phase %s", ramp.Type, ramp.CurrentPhase)
	}

	quote, err := e.quotes.GetQuote(ctx, ramp.QuoteID)
	if err != nil {
		return ramp, false, Recoverable("load quote %s: %v", ramp.QuoteID, err)
	}

	next, execErr := handler.Execute(ctx, ramp, quote)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded) {
			return ramp, false, execErr
		}
		e.recordError(ctx, ramp, execErr)
		if IsRecoverable(execErr) {
			return ramp, false, execErr
		}
		e.failRamp(ctx, ramp, execErr)
		return ramp, false, execErr
	}

	if next == ramp.CurrentPhase {
		return ramp, false, nil
	}

	if err := e.ramps.UpdateRampPhase(ctx, ramp.ID, ramp.CurrentPhase, next); err != nil {
		if errors.Is(err, storage.ErrStalePhase) {
			// Another executor won the transition. Nothing to redo.
			return ramp, false, err
		}
		return ramp, false, Recoverable("commit transition %s -> %s: %v", ramp.CurrentPhase, next, err)
	}

	e.logger.Info().
		Str("ramp_id", ramp.ID).
		Str("from", string(ramp.CurrentPhase)).
		Str("to", string(next)).
		Msg("phase transition")

	ramp.CurrentPhase = next
	ramp.PhaseHistory = append(ramp.PhaseHistory, model.PhaseHistoryEntry{Phase: next, Timestamp: time.Now().UTC()})
	return ramp, true, nil
}

// Process drives a ramp until it parks: terminal phase, waiting on an
// external event, or out of retries. Concurrent calls for the same ramp
// collapse into one.
func (e *Executor) Process(ctx context.Context, rampID string) error {
	if !e.acquire(rampID) {
		return nil
	}
	defer e.release(rampID)

	attempt := 0
	for {
		ramp, advanced, err := e.Advance(ctx, rampID)
		switch {
		case err == nil:
			attempt = 0
		case errors.Is(err, storage.ErrStalePhase):
			return nil
		case IsRecoverable(err):
			attempt++
			if attempt > e.maxRetries {
				e.logger.Error().Err(err).Str("ramp_id", rampID).Int("attempts", attempt).
					Msg("giving up on ramp until next recovery sweep")
				return err
			}
			delay := e.backoffBase << (attempt - 1)
			e.logger.Warn().Err(err).Str("ramp_id", rampID).Dur("retry_in", delay).Msg("recoverable phase failure")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		default:
			return err
		}

		if !advanced || ramp.CurrentPhase.IsTerminal() {
			return nil
		}
	}
}

func (e *Executor) recordError(ctx context.Context, ramp *model.RampState, execErr error) {
	entry := model.ErrorLogEntry{
		Phase:       ramp.CurrentPhase,
		Timestamp:   time.Now().UTC(),
		Error:       execErr.Error(),
		Recoverable: IsRecoverable(execErr),
	}
	if err := e.ramps.AppendErrorLog(ctx, ramp.ID, entry); err != nil {
		e.logger.Warn().Err(err).Str("ramp_id", ramp.ID).Msg("failed to append error log")
	}
}

func (e *Executor) failRamp(ctx context.Context, ramp *model.RampState, cause error) {
	patch := map[string]any{model.StateKeyFailureReason: cause.Error()}
	if err := e.ramps.MergeRampState(ctx, ramp.ID, patch); err != nil {
		e.logger.Warn().Err(err).Str("ramp_id", ramp.ID).Msg("failed to persist failure reason")
	}
	if err := e.ramps.UpdateRampPhase(ctx, ramp.ID, ramp.CurrentPhase, model.PhaseFailed); err != nil {
		if !errors.Is(err, storage.ErrStalePhase) {
			e.logger.Error().Err(err).Str("ramp_id", ramp.ID).Msg("failed to mark ramp failed")
		}
		return
	}
	e.logger.Error().Err(cause).Str("ramp_id", ramp.ID).Str("phase", string(ramp.CurrentPhase)).Msg("ramp failed")
	ramp.CurrentPhase = model.PhaseFailed
}

func (e *Executor) acquire(rampID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.active[rampID]; busy {
		return false
	}
	e.active[rampID] = struct{}{}
	return true
}

func (e *Executor) release(rampID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, rampID)
}
