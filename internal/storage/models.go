package storage

import (
	"context"
	"errors"
	"time"

	"vortex-ramp/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrConflict indicates a uniqueness violation, e.g. a second ramp
	// registration for the same quote.
	ErrConflict = errors.New("storage: conflict")
	// ErrStalePhase indicates a compare-and-swap phase update lost the race:
	// the persisted phase no longer matches the expected one.
	ErrStalePhase = errors.New("storage: stale phase")
	// ErrQuoteUnavailable indicates the quote is consumed, expired, or gone.
	ErrQuoteUnavailable = errors.New("storage: quote unavailable")
)

// QuoteStore defines read/consume access to priced offers.
type QuoteStore interface {
	GetQuote(ctx context.Context, id string) (*model.Quote, error)
	// ConsumeQuote atomically flips a pending, unexpired quote to consumed.
	ConsumeQuote(ctx context.Context, id string) error
}

// PartnerStore defines lookup access to partner fee/discount policies.
// Both lookups return active rows only.
type PartnerStore interface {
	GetPartnerByID(ctx context.Context, id string, rampType model.RampDirection) (*model.Partner, error)
	GetPartnerByName(ctx context.Context, name string, rampType model.RampDirection) (*model.Partner, error)
}

// RampStateStore defines persistence for saga instances. Updates merge into
// the state document; nothing hard-deletes a ramp.
type RampStateStore interface {
	CreateRampState(ctx context.Context, state *model.RampState) error
	GetRampState(ctx context.Context, id string) (*model.RampState, error)
	// UpdateRampPhase transitions currentPhase only if the stored phase
	// still equals from; a losing racer gets ErrStalePhase.
	UpdateRampPhase(ctx context.Context, id string, from, to model.Phase) error
	// MergeRampState merges patch into the state JSON document, preserving
	// fields the patch does not mention.
	MergeRampState(ctx context.Context, id string, patch map[string]any) error
	SetPresignedTxs(ctx context.Context, id string, txs []model.PresignedTx) error
	AppendErrorLog(ctx context.Context, id string, entry model.ErrorLogEntry) error
	ListRampStatesByPhase(ctx context.Context, phase model.Phase, newerThan, olderThan time.Time) ([]*model.RampState, error)
	ListStaleActive(ctx context.Context, updatedBefore time.Time) ([]*model.RampState, error)
}

// RampHistoryStore provides read access for operator tooling.
type RampHistoryStore interface {
	ListRecentRamps(ctx context.Context, limit int) ([]*model.RampState, error)
	ListRampsBetween(ctx context.Context, from, to time.Time) ([]*model.RampState, error)
	ListCompletedBefore(ctx context.Context, before time.Time) ([]*model.RampState, error)
}

// SubsidyStore records disbursed top-ups against a ramp.
type SubsidyStore interface {
	InsertSubsidy(ctx context.Context, subsidy model.Subsidy) error
}
