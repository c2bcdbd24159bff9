package app

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vortex-ramp/internal/alerting"
	"vortex-ramp/internal/config"
	"vortex-ramp/internal/fees"
	"vortex-ramp/internal/ledger"
	"vortex-ramp/internal/model"
	"vortex-ramp/internal/phase"
	"vortex-ramp/internal/provider"
	"vortex-ramp/internal/ramp"
	"vortex-ramp/internal/scheduler"
	"vortex-ramp/internal/storage"
	"vortex-ramp/internal/version"
	"vortex-ramp/internal/workers"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newLedgers() *ledger.Registry {
	registry := ledger.NewRegistry()
	for name, chain := range a.Config.Chains {
		client := ledger.NewEVMClient(ledger.EVMOptions{
			Network:        model.Network(name),
			RPCURL:         chain.RPCURL,
			RequestTimeout: chain.RequestTimeout,
			ConfirmTimeout: chain.ConfirmTimeout,
		}, a.Logger)
		registry.Register(model.Network(name), client)
	}
	return registry
}

func (a *App) newProvider() *provider.Client {
	cfg := a.Config.Provider
	return provider.NewClient(provider.Options{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		RequestTimeout: cfg.RequestTimeout,
		RatePerSecond:  cfg.RatePerSecond,
		MaxRetries:     cfg.MaxRetries,
		UserAgent:      cfg.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return alerting.Nop{}
	}
	var sink alerting.Notifier = alerting.Nop{}
	if a.Config.Alerting.Slack.Enabled {
		sink = alerting.NewSlackNotifier(a.Config.Alerting.Slack.WebhookURL, 10*time.Second, a.Logger)
	}
	return alerting.NewCooldownNotifier(sink, a.Config.Alerting.Cooldown, a.Logger)
}

func (a *App) chainParams() map[model.Network]fees.ChainParams {
	params := make(map[model.Network]fees.ChainParams, len(a.Config.Chains))
	for name, chain := range a.Config.Chains {
		params[model.Network(name)] = fees.ChainParams{
			SettlementAsset:    chain.SettlementAsset,
			SettlementDecimals: chain.SettlementDecimals,
			BuybackToken:       chain.BuybackToken,
			SwapRouter:         chain.SwapRouter,
			Multicall:          chain.Multicall,
		}
	}
	return params
}

// newService wires the full ramp surface over an open store. The returned
// executor doubles as the processor for the recovery worker.
func (a *App) newService(store *storage.Store) (*ramp.Service, *phase.Executor) {
	ledgers := a.newLedgers()
	nonces := ledger.NewNonceManager(ledgers)
	signer := ledger.NewRemoteSigner(a.Config.Signer.BaseURL, a.Config.Signer.RequestTimeout)
	providerClient := a.newProvider()

	registry := phase.NewRegistry(phase.Deps{
		Ledgers:          ledgers,
		Nonces:           nonces,
		Signer:           signer,
		Provider:         providerClient,
		Subsidy:          store,
		CollectorAddress: a.Config.Fees.CollectorAddress,
		EphemeralFunding: decimal.NewFromFloat(a.Config.Fees.EphemeralFunding),
		Logger:           a.Logger,
	})
	executor := phase.NewExecutor(registry, store, store, a.Logger, phase.ExecutorOptions{})

	resolver := fees.NewResolver(store, a.Logger)
	svc := ramp.NewService(store, store, store, resolver, nonces, executor, ramp.Options{
		Chains:           a.chainParams(),
		CollectorAddress: a.Config.Fees.CollectorAddress,
		StartWindow:      a.Config.Fees.StartWindow,
	}, a.Logger)
	return svc, executor
}

// Run starts the orchestration service: the ramp surface plus the recovery,
// reconciliation, and cleanup loops. Blocks until a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	_, executor := a.newService(store)
	notifier := a.newNotifier()
	workersCfg := a.Config.Workers

	recovery := workers.NewRecoveryWorker(store, executor, workersCfg.RecoveryIdle, a.Logger)
	unhandled := workers.NewUnhandledPaymentsWorker(store, a.newProvider(), notifier, workers.UnhandledPaymentsOptions{
		GraceWindow:    workersCfg.GraceWindow,
		AbandonHorizon: workersCfg.AbandonHorizon,
		AlertWindow:    workersCfg.AlertWindow,
	}, a.Logger)
	cleanup := workers.NewCleanupWorker(store, workersCfg.CleanupRetention, a.Logger)

	loops := []struct {
		opts scheduler.Options
		tick scheduler.TickFunc
	}{
		{scheduler.Options{Name: "recovery", Interval: workersCfg.RecoveryInterval, RunImmediately: true}, recovery.Run},
		{scheduler.Options{Name: "unhandled_payments", Interval: workersCfg.UnhandledInterval}, unhandled.Run},
		{scheduler.Options{Name: "cleanup", Interval: workersCfg.CleanupInterval}, cleanup.Run},
	}

	a.Logger.Info().Str("build", version.String()).Int("chains", len(a.Config.Chains)).
		Msg("starting ramp orchestration service")

	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func(opts scheduler.Options, tick scheduler.TickFunc) {
			defer wg.Done()
			if err := scheduler.New(opts, a.Logger).Run(ctx, tick); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Str("worker", opts.Name).Msg("worker loop terminated")
			}
		}(loop.opts, loop.tick)
	}
	wg.Wait()

	a.Logger.Info().Msg("ramp orchestration service stopped")
	return nil
}

// ExportOptions hold parameters for exporting ramp history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
