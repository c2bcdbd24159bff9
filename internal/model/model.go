package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RampDirection distinguishes fiat->crypto (BUY) from crypto->fiat (SELL).
type RampDirection string

const (
	RampBuy  RampDirection = "BUY"
	RampSell RampDirection = "SELL"
)

// Network identifies a ledger a transaction settles on.
type Network string

const (
	NetworkEthereum  Network = "ethereum"
	NetworkPolygon   Network = "polygon"
	NetworkArbitrum  Network = "arbitrum"
	NetworkAvalanche Network = "avalanche"
)

// Phase is one step in a ramp's server-driven execution graph.
type Phase string

const (
	PhaseInitial        Phase = "initial"
	PhaseFundEphemeral  Phase = "fundEphemeral"
	PhaseDistributeFees Phase = "distributeFees"
	PhaseSwap           Phase = "swap"
	PhasePayout         Phase = "payout"
	PhaseSettle         Phase = "settle"
	PhaseComplete       Phase = "complete"
	PhaseFailed         Phase = "failed"
)

// IsTerminal reports whether the phase ends the saga.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// QuoteStatus tracks the lifecycle of a priced offer.
type QuoteStatus string

const (
	QuotePending  QuoteStatus = "pending"
	QuoteConsumed QuoteStatus = "consumed"
	QuoteExpired  QuoteStatus = "expired"
)

// FeeBreakdown carries the fee legs of a quote, denominated in USD. Amounts
// are fixed at quote time; execution converts them to raw chain units but
// never recomputes them from a live price.
type FeeBreakdown struct {
	NetworkUSD       decimal.Decimal `json:"networkUsd"`
	PlatformUSD      decimal.Decimal `json:"platformUsd"`
	PartnerMarkupUSD decimal.Decimal `json:"partnerMarkupUsd"`
	// BuybackPercent is the share of the platform fee routed through a DEX
	// swap into the platform's native token, 0-100.
	BuybackPercent decimal.Decimal `json:"buybackPercent"`
}

// Quote is an immutable priced offer created upstream of the saga.
type Quote struct {
	ID             string
	RampType       RampDirection
	From           Network
	To             Network
	InputAmount    decimal.Decimal
	InputCurrency  string
	OutputAmount   decimal.Decimal
	OutputCurrency string
	Fees           FeeBreakdown
	PartnerID      *string
	Status         QuoteStatus
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SettlementNetwork returns the chain fee distribution settles on: the
// source side for offramps, the destination side for onramps.
func (q *Quote) SettlementNetwork() Network {
	if q.RampType == RampSell {
		return q.From
	}
	return q.To
}

// Partner is a named fee/discount policy bundle. Several rows may share a
// name, one per ramp direction; lookups key on (name, rampType, isActive).
type Partner struct {
	ID              string
	Name            string
	RampType        RampDirection
	DiscountRate    decimal.Decimal
	MarkupRate      decimal.Decimal
	PayoutAddresses map[Network]string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PayoutAddress returns the partner's payout address for a chain, if any.
func (p *Partner) PayoutAddress(network Network) (string, bool) {
	if p == nil || p.PayoutAddresses == nil {
		return "", false
	}
	addr, ok := p.PayoutAddresses[network]
	if !ok || addr == "" {
		return "", false
	}
	return addr, true
}

// UnsignedTx is a server-authored transaction artifact awaiting a signature.
// Nonce is server-assigned, monotonic per (signer, network).
type UnsignedTx struct {
	Network Network           `json:"network"`
	Phase   Phase             `json:"phase"`
	Signer  string            `json:"signer"`
	Nonce   uint64            `json:"nonce"`
	TxData  string            `json:"txData"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// PresignedTx is a transaction signed client-side before submission. It
// shares the UnsignedTx shape; TxData holds the signed payload.
type PresignedTx = UnsignedTx

// SigningAccount is a client-generated ephemeral account for one ramp.
type SigningAccount struct {
	Network Network `json:"network"`
	Address string  `json:"address"`
}

// PhaseHistoryEntry records one transition of the saga.
type PhaseHistoryEntry struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorLogEntry preserves the full internal failure reason for operator
// diagnosis, independent of what is surfaced externally.
type ErrorLogEntry struct {
	Phase       Phase     `json:"phase"`
	Timestamp   time.Time `json:"timestamp"`
	Error       string    `json:"error"`
	Recoverable bool      `json:"recoverable"`
}

// RampState is the persisted saga instance. State is an append-merged JSON
// document of phase-local facts; handlers write only the fields they own.
type RampState struct {
	ID           string
	QuoteID      string
	Type         RampDirection
	From         Network
	To           Network
	CurrentPhase Phase
	UnsignedTxs  []UnsignedTx
	PresignedTxs []PresignedTx
	State        map[string]any
	PhaseHistory []PhaseHistoryEntry
	ErrorLogs    []ErrorLogEntry
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Well-known keys inside RampState.State.
const (
	StateKeyAccountID        = "providerAccountId"
	StateKeyTicketID         = "payinTicketId"
	StateKeyPayoutTicket     = "payoutTicketId"
	StateKeyAlertSent        = "unhandledPaymentAlertSent"
	StateKeyFailureReason    = "failureReason"
	StateKeyEphemeralAddress = "ephemeralAddress"
	StateKeyDestination      = "destinationAddress"
	StateKeyCleanup          = "postCompleteCleanup"
)

// StateString reads a string field from the saga state document.
func (r *RampState) StateString(key string) string {
	if r.State == nil {
		return ""
	}
	if v, ok := r.State[key].(string); ok {
		return v
	}
	return ""
}

// StateBool reads a boolean field from the saga state document.
func (r *RampState) StateBool(key string) bool {
	if r.State == nil {
		return false
	}
	v, _ := r.State[key].(bool)
	return v
}

// FindPresignedTx returns the client-signed transaction for a phase, if
// present.
func (r *RampState) FindPresignedTx(phase Phase) (PresignedTx, bool) {
	for _, tx := range r.PresignedTxs {
		if tx.Phase == phase {
			return tx, true
		}
	}
	return PresignedTx{}, false
}

// FindUnsignedTx returns the server-authored transaction for a phase, if
// present.
func (r *RampState) FindUnsignedTx(phase Phase) (UnsignedTx, bool) {
	for _, tx := range r.UnsignedTxs {
		if tx.Phase == phase {
			return tx, true
		}
	}
	return UnsignedTx{}, false
}

// Subsidy is a disbursed top-up recorded against a ramp.
type Subsidy struct {
	ID              int64
	RampID          string
	Phase           Phase
	Amount          decimal.Decimal
	Token           string
	PayerAccount    string
	TransactionHash string
	PaymentDate     time.Time
	CreatedAt       time.Time
}

// Ticket is a provider pay-in ticket as returned by the KYC/payment
// provider.
type Ticket struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// TicketPaid is the provider status for confirmed received funds.
const TicketPaid = "PAID"
