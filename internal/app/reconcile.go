package app

import (
	"context"
	"time"

	"vortex-ramp/internal/workers"
)

// Reconcile runs one unhandled-payments sweep immediately, outside the
// scheduled cadence. Useful after a provider incident.
func (a *App) Reconcile(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	workersCfg := a.Config.Workers
	worker := workers.NewUnhandledPaymentsWorker(store, a.newProvider(), a.newNotifier(), workers.UnhandledPaymentsOptions{
		GraceWindow:    workersCfg.GraceWindow,
		AbandonHorizon: workersCfg.AbandonHorizon,
		AlertWindow:    workersCfg.AlertWindow,
	}, a.Logger)

	if err := worker.Run(ctx, time.Now().UTC()); err != nil {
		return err
	}
	a.Logger.Info().Msg("reconciliation sweep finished")
	return nil
}
