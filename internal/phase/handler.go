package phase

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vortex-ramp/internal/ledger"
	"vortex-ramp/internal/model"
	"vortex-ramp/internal/provider"
	"vortex-ramp/internal/storage"
)

// Handler executes the work of a single phase and names the phase that
// follows on success. Returning the current phase with a nil error means
// the handler is waiting on an external event and no transition happens.
type Handler interface {
	Phase() model.Phase
	Execute(ctx context.Context, ramp *model.RampState, quote *model.Quote) (model.Phase, error)
}

// ProviderAPI is the slice of the payment provider handlers depend on.
type ProviderAPI interface {
	PaidTickets(ctx context.Context, accountID string) ([]model.Ticket, error)
	KycStatus(ctx context.Context, accountID string) (provider.KycStatus, error)
}

// Deps carries the shared collaborators handlers are built from.
type Deps struct {
	Ledgers  *ledger.Registry
	Nonces   *ledger.NonceManager
	Signer   ledger.Signer
	Provider ProviderAPI
	Subsidy  storage.SubsidyStore

	// CollectorAddress is the server account that funds ephemeral
	// accounts and signs the fee distribution leg.
	CollectorAddress string

	// EphemeralFunding is the native-unit top-up granted to an
	// ephemeral account so it can pay for its own transactions.
	EphemeralFunding decimal.Decimal

	Logger zerolog.Logger
}
