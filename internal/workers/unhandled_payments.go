package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vortex-ramp/internal/alerting"
	"vortex-ramp/internal/model"
	"vortex-ramp/internal/provider"
	"vortex-ramp/internal/storage"
)

// UnhandledPaymentsOptions tune the reconciliation windows.
type UnhandledPaymentsOptions struct {
	// GraceWindow excludes freshly created ramps whose payment may simply
	// not have cleared yet.
	GraceWindow time.Duration
	// AbandonHorizon is how far back the sweep looks before a ramp is
	// considered abandoned for good.
	AbandonHorizon time.Duration
	// AlertWindow caps alerts to one per provider account per window.
	AlertWindow time.Duration
}

// UnhandledPaymentsWorker finds ramps that received money but never
// progressed: stuck in their initial phase past the grace window, or failed,
// with a paid provider ticket attached. One batched ticket lookup per
// provider account per sweep.
//
// The durable per-ramp alert flag is what prevents duplicate alerts across
// restarts; the in-memory sets only save provider calls within one process
// lifetime.
type UnhandledPaymentsWorker struct {
	ramps    storage.RampStateStore
	tickets  provider.PaidTicketSource
	notifier alerting.Notifier
	logger   zerolog.Logger
	opts     UnhandledPaymentsOptions

	mu      sync.Mutex
	visited map[string]struct{}
	alerted map[string]time.Time
}

// NewUnhandledPaymentsWorker builds the reconciliation worker.
func NewUnhandledPaymentsWorker(ramps storage.RampStateStore, tickets provider.PaidTicketSource, notifier alerting.Notifier, opts UnhandledPaymentsOptions, logger zerolog.Logger) *UnhandledPaymentsWorker {
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = 10 * time.Minute
	}
	if opts.AbandonHorizon <= 0 {
		opts.AbandonHorizon = 72 * time.Hour
	}
	if opts.AlertWindow <= 0 {
		opts.AlertWindow = 24 * time.Hour
	}
	return &UnhandledPaymentsWorker{
		alerted:  make(map[string]time.Time),
		logger:   logger.With().Str("component", "unhandled_payments").Logger(),
		notifier: notifier,
		opts:     opts,
		ramps:    ramps,
		tickets:  tickets,
		visited:  make(map[string]struct{}),
	}
}

// Run performs one reconciliation sweep.
func (w *UnhandledPaymentsWorker) Run(ctx context.Context, now time.Time) error {
	horizonStart := now.Add(-w.opts.AbandonHorizon)

	staleInitial, err := w.ramps.ListRampStatesByPhase(ctx, model.PhaseInitial, horizonStart, now.Add(-w.opts.GraceWindow))
	if err != nil {
		return fmt.Errorf("list stale initial ramps: %w", err)
	}
	failed, err := w.ramps.ListRampStatesByPhase(ctx, model.PhaseFailed, horizonStart, now)
	if err != nil {
		return fmt.Errorf("list failed ramps: %w", err)
	}

	groups := make(map[string][]*model.RampState)
	for _, ramp := range append(staleInitial, failed...) {
		if w.seen(ramp.ID) || ramp.StateBool(model.StateKeyAlertSent) {
			continue
		}
		accountID := ramp.StateString(model.StateKeyAccountID)
		ticketID := ramp.StateString(model.StateKeyTicketID)
		if accountID == "" || ticketID == "" {
			continue
		}
		groups[accountID] = append(groups[accountID], ramp)
	}

	var lastErr error
	for accountID, candidates := range groups {
		tickets, ticketsErr := w.tickets.PaidTickets(ctx, accountID)
		if ticketsErr != nil {
			w.logger.Warn().Err(ticketsErr).Str("account_id", accountID).Msg("ticket lookup failed, will retry next sweep")
			lastErr = ticketsErr
			continue
		}
		paid := make(map[string]bool, len(tickets))
		for _, ticket := range tickets {
			if ticket.Status == model.TicketPaid {
				paid[ticket.ID] = true
			}
		}

		var unhandled []*model.RampState
		for _, ramp := range candidates {
			if paid[ramp.StateString(model.StateKeyTicketID)] {
				unhandled = append(unhandled, ramp)
			}
		}
		if len(unhandled) == 0 {
			continue
		}

		if w.shouldAlert(accountID, now) {
			msg := alerting.Message{
				Text: fmt.Sprintf("unhandled payment: provider account %s has %d paid ticket(s) on ramps that never progressed", accountID, len(unhandled)),
			}
			if notifyErr := w.notifier.Notify(ctx, msg); notifyErr != nil {
				// Keep the ramps queued so the next sweep retries the alert.
				w.logger.Warn().Err(notifyErr).Str("account_id", accountID).Msg("alert delivery failed")
				lastErr = notifyErr
				continue
			}
			w.recordAlert(accountID, now)
		}
		w.markHandled(ctx, unhandled)
	}
	return lastErr
}

func (w *UnhandledPaymentsWorker) markHandled(ctx context.Context, ramps []*model.RampState) {
	for _, ramp := range ramps {
		patch := map[string]any{model.StateKeyAlertSent: true}
		if err := w.ramps.MergeRampState(ctx, ramp.ID, patch); err != nil {
			w.logger.Warn().Err(err).Str("ramp_id", ramp.ID).Msg("failed to persist alert flag")
			continue
		}
		w.mu.Lock()
		w.visited[ramp.ID] = struct{}{}
		w.mu.Unlock()
	}
}

func (w *UnhandledPaymentsWorker) seen(rampID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.visited[rampID]
	return ok
}

func (w *UnhandledPaymentsWorker) shouldAlert(accountID string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.alerted[accountID]
	return !ok || now.Sub(last) >= w.opts.AlertWindow
}

func (w *UnhandledPaymentsWorker) recordAlert(accountID string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.alerted[accountID] = now
}
