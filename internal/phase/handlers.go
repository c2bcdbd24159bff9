package phase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vortex-ramp/internal/ledger"
	"vortex-ramp/internal/model"
	"vortex-ramp/internal/storage"
)

const kycRejected = "REJECTED"

// awaitPaymentHandler holds an onramp in its initial phase until the payment
// provider confirms the fiat pay-in ticket.
type awaitPaymentHandler struct {
	provider ProviderAPI
	next     model.Phase
}

func newAwaitPaymentHandler(deps Deps, next model.Phase) *awaitPaymentHandler {
	return &awaitPaymentHandler{provider: deps.Provider, next: next}
}

func (h *awaitPaymentHandler) Phase() model.Phase { return model.PhaseInitial }

func (h *awaitPaymentHandler) Execute(ctx context.Context, ramp *model.RampState, quote *model.Quote) (model.Phase, error) {
	accountID := ramp.StateString(model.StateKeyAccountID)
	ticketID := ramp.StateString(model.StateKeyTicketID)
	if accountID == "" || ticketID == "" {
		return "", Unrecoverable("ramp %s started without provider account or ticket reference", ramp.ID)
	}

	kyc, err := h.provider.KycStatus(ctx, accountID)
	if err != nil {
		return "", Recoverable("kyc status for account %s: %v", accountID, err)
	}
	if strings.EqualFold(kyc.IdentityStatus, kycRejected) {
		return "", Unrecoverable("kyc rejected for account %s", accountID)
	}

	tickets, err := h.provider.PaidTickets(ctx, accountID)
	if err != nil {
		return "", Recoverable("paid tickets for account %s: %v", accountID, err)
	}
	for _, ticket := range tickets {
		if ticket.ID == ticketID && ticket.Status == model.TicketPaid {
			return h.next, nil
		}
	}

	// Payment not in yet, stay put until the next trigger.
	return ramp.CurrentPhase, nil
}

// awaitDepositHandler holds an offramp in its initial phase until the user's
// crypto lands on the ephemeral account.
type awaitDepositHandler struct {
	ledgers *ledger.Registry
	next    model.Phase
}

func newAwaitDepositHandler(deps Deps, next model.Phase) *awaitDepositHandler {
	return &awaitDepositHandler{ledgers: deps.Ledgers, next: next}
}

func (h *awaitDepositHandler) Phase() model.Phase { return model.PhaseInitial }

func (h *awaitDepositHandler) Execute(ctx context.Context, ramp *model.RampState, quote *model.Quote) (model.Phase, error) {
	address := ramp.StateString(model.StateKeyEphemeralAddress)
	if address == "" {
		return "", Unrecoverable("ramp %s started without an ephemeral account", ramp.ID)
	}

	client, err := h.ledgers.Get(ramp.From)
	if err != nil {
		return "", Unrecoverable("deposit network: %v", err)
	}
	balance, err := client.Balance(ctx, address)
	if err != nil {
		return "", Recoverable("balance of %s on %s: %v", address, ramp.From, err)
	}
	if balance.IsPositive() {
		return h.next, nil
	}
	return ramp.CurrentPhase, nil
}

// fundEphemeralHandler tops up the ephemeral account with native gas money
// from the fee collector. The on-chain balance is the idempotency record: a
// retry after a crash re-checks it instead of funding twice.
type fundEphemeralHandler struct {
	ledgers   *ledger.Registry
	nonces    *ledger.NonceManager
	signer    ledger.Signer
	subsidies storage.SubsidyStore
	collector string
	funding   decimal.Decimal
	logger    zerolog.Logger
	next      model.Phase
}

func newFundEphemeralHandler(deps Deps, next model.Phase) *fundEphemeralHandler {
	return &fundEphemeralHandler{
		ledgers:   deps.Ledgers,
		nonces:    deps.Nonces,
		signer:    deps.Signer,
		subsidies: deps.Subsidy,
		collector: deps.CollectorAddress,
		funding:   deps.EphemeralFunding,
		logger:    deps.Logger,
		next:      next,
	}
}

func (h *fundEphemeralHandler) Phase() model.Phase { return model.PhaseFundEphemeral }

func (h *fundEphemeralHandler) Execute(ctx context.Context, ramp *model.RampState, quote *model.Quote) (model.Phase, error) {
	address := ramp.StateString(model.StateKeyEphemeralAddress)
	if address == "" {
		return "", Unrecoverable("ramp %s has no ephemeral account to fund", ramp.ID)
	}
	network := quote.SettlementNetwork()

	client, err := h.ledgers.Get(network)
	if err != nil {
		return "", Unrecoverable("settlement network: %v", err)
	}
	balance, err := client.Balance(ctx, address)
	if err != nil {
		return "", Recoverable("balance of %s on %s: %v", address, network, err)
	}
	if balance.GreaterThanOrEqual(h.funding) {
		return h.next, nil
	}

	nonce, err := h.nonces.Next(ctx, network, h.collector)
	if err != nil {
		return "", Recoverable("reserve collector nonce on %s: %v", network, err)
	}
	unsigned := model.UnsignedTx{
		Network: network,
		Phase:   model.PhaseFundEphemeral,
		Signer:  h.collector,
		Nonce:   nonce,
		Meta: map[string]string{
			"to":     address,
			"amount": h.funding.String(),
		},
	}
	signed, err := h.signer.SignTransaction(ctx, unsigned)
	if err != nil {
		h.nonces.Reset(network, h.collector)
		return "", Recoverable("sign funding tx: %v", err)
	}
	hash, err := client.SubmitTransaction(ctx, signed)
	if err != nil {
		h.nonces.Reset(network, h.collector)
		return "", Recoverable("submit funding tx: %v", err)
	}
	if err := client.ConfirmTransaction(ctx, hash); err != nil {
		if errors.Is(err, ledger.ErrTxReverted) {
			return "", Unrecoverable("funding tx %s reverted", hash)
		}
		return "", Recoverable("confirm funding tx %s: %v", hash, err)
	}

	// Book-keeping only. The balance check above keeps funding idempotent
	// even when this insert is lost.
	subsidy := model.Subsidy{
		RampID:          ramp.ID,
		Phase:           model.PhaseFundEphemeral,
		Amount:          h.funding,
		Token:           "native",
		PayerAccount:    h.collector,
		TransactionHash: hash,
		PaymentDate:     time.Now().UTC(),
	}
	if err := h.subsidies.InsertSubsidy(ctx, subsidy); err != nil {
		h.logger.Warn().Err(err).Str("ramp_id", ramp.ID).Msg("failed to record funding subsidy")
	}

	return h.next, nil
}

// distributeFeesHandler submits the server-signed fee distribution batch.
// The collector's chain nonce is the idempotency record: a nonce past the
// transaction's means it already landed.
type distributeFeesHandler struct {
	ledgers *ledger.Registry
	signer  ledger.Signer
	next    model.Phase
}

func newDistributeFeesHandler(deps Deps, next model.Phase) *distributeFeesHandler {
	return &distributeFeesHandler{ledgers: deps.Ledgers, signer: deps.Signer, next: next}
}

func (h *distributeFeesHandler) Phase() model.Phase { return model.PhaseDistributeFees }

func (h *distributeFeesHandler) Execute(ctx context.Context, ramp *model.RampState, quote *model.Quote) (model.Phase, error) {
	tx, ok := ramp.FindUnsignedTx(model.PhaseDistributeFees)
	if !ok {
		// Zero-fee ramp, nothing to distribute.
		return h.next, nil
	}

	client, err := h.ledgers.Get(tx.Network)
	if err != nil {
		return "", Unrecoverable("fee network: %v", err)
	}
	chainNonce, err := client.AccountNonce(ctx, tx.Signer)
	if err != nil {
		return "", Recoverable("collector nonce on %s: %v", tx.Network, err)
	}
	if chainNonce > tx.Nonce {
		return h.next, nil
	}

	signed, err := h.signer.SignTransaction(ctx, tx)
	if err != nil {
		return "", Recoverable("sign fee distribution: %v", err)
	}
	hash, err := client.SubmitTransaction(ctx, signed)
	if err != nil {
		return "", Recoverable("submit fee distribution: %v", err)
	}
	if err := client.ConfirmTransaction(ctx, hash); err != nil {
		if errors.Is(err, ledger.ErrTxReverted) {
			return "", Unrecoverable("fee distribution %s reverted", hash)
		}
		return "", Recoverable("confirm fee distribution %s: %v", hash, err)
	}
	return h.next, nil
}

// submitPresignedHandler broadcasts a client-signed transaction stored on the
// ramp for this phase (swap and onramp payout). The ephemeral signer's chain
// nonce doubles as the idempotency record.
type submitPresignedHandler struct {
	ledgers *ledger.Registry
	phase   model.Phase
	next    model.Phase
}

func newSubmitPresignedHandler(deps Deps, phase, next model.Phase) *submitPresignedHandler {
	return &submitPresignedHandler{ledgers: deps.Ledgers, phase: phase, next: next}
}

func (h *submitPresignedHandler) Phase() model.Phase { return h.phase }

func (h *submitPresignedHandler) Execute(ctx context.Context, ramp *model.RampState, quote *model.Quote) (model.Phase, error) {
	tx, ok := ramp.FindPresignedTx(h.phase)
	if !ok {
		return "", Unrecoverable("ramp %s has no presigned transaction for phase %s", ramp.ID, h.phase)
	}

	client, err := h.ledgers.Get(tx.Network)
	if err != nil {
		return "", Unrecoverable("network for phase %s: %v", h.phase, err)
	}
	chainNonce, err := client.AccountNonce(ctx, tx.Signer)
	if err != nil {
		return "", Recoverable("nonce of %s on %s: %v", tx.Signer, tx.Network, err)
	}
	if chainNonce > tx.Nonce {
		return h.next, nil
	}

	hash, err := client.SubmitTransaction(ctx, tx)
	if err != nil {
		return "", Recoverable("submit %s tx: %v", h.phase, err)
	}
	if err := client.ConfirmTransaction(ctx, hash); err != nil {
		if errors.Is(err, ledger.ErrTxReverted) {
			return "", Unrecoverable("%s tx %s reverted", h.phase, hash)
		}
		return "", Recoverable("confirm %s tx %s: %v", h.phase, hash, err)
	}
	return h.next, nil
}

// settleHandler holds an offramp until the payment provider confirms the
// fiat payout ticket.
type settleHandler struct {
	provider ProviderAPI
	next     model.Phase
}

func newSettleHandler(deps Deps, next model.Phase) *settleHandler {
	return &settleHandler{provider: deps.Provider, next: next}
}

func (h *settleHandler) Phase() model.Phase { return model.PhaseSettle }

func (h *settleHandler) Execute(ctx context.Context, ramp *model.RampState, quote *model.Quote) (model.Phase, error) {
	accountID := ramp.StateString(model.StateKeyAccountID)
	ticketID := ramp.StateString(model.StateKeyPayoutTicket)
	if accountID == "" || ticketID == "" {
		return "", Unrecoverable("ramp %s reached settlement without a payout ticket reference", ramp.ID)
	}

	tickets, err := h.provider.PaidTickets(ctx, accountID)
	if err != nil {
		return "", Recoverable("payout tickets for account %s: %v", accountID, err)
	}
	for _, ticket := range tickets {
		if ticket.ID == ticketID && ticket.Status == model.TicketPaid {
			return h.next, nil
		}
	}
	return ramp.CurrentPhase, nil
}
