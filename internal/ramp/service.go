package ramp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vortex-ramp/internal/fees"
	"vortex-ramp/internal/ledger"
	"vortex-ramp/internal/model"
	"vortex-ramp/internal/storage"
)

var (
	// ErrValidation marks requests rejected at the boundary. They never
	// touch the saga.
	ErrValidation = errors.New("ramp: invalid request")
	// ErrNotFound marks an unknown ramp id.
	ErrNotFound = errors.New("ramp: not found")
	// ErrConflict marks operations against a ramp in the wrong phase, a
	// quote already taken, or an expired start window.
	ErrConflict = errors.New("ramp: conflict")
)

// PublicStatus is the simplified projection shown to polling clients. Full
// phase and error detail stays internal.
type PublicStatus string

const (
	StatusPending    PublicStatus = "pending"
	StatusProcessing PublicStatus = "processing"
	StatusComplete   PublicStatus = "complete"
	StatusFailed     PublicStatus = "failed"
)

// RegisterRequest opens a new ramp against a pending quote.
type RegisterRequest struct {
	QuoteID         string
	SigningAccounts []model.SigningAccount
	// AdditionalData is merged into the saga state document. The provider
	// account and ticket references arrive here.
	AdditionalData map[string]any
}

// UpdateRequest attaches client-signed transactions to a registered ramp.
type UpdateRequest struct {
	RampID         string
	PresignedTxs   []model.PresignedTx
	AdditionalData map[string]any
}

// StatusView is the poll response for one ramp.
type StatusView struct {
	RampID    string
	QuoteID   string
	Status    PublicStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Processor re-drives one ramp through its phase graph.
type Processor interface {
	Process(ctx context.Context, rampID string) error
}

// Service is the exposed ramp surface: register, update, start, poll,
// cancel. It owns quote consumption and server-side transaction authoring;
// phase execution is delegated to the processor.
type Service struct {
	quotes      storage.QuoteStore
	ramps       storage.RampStateStore
	history     storage.RampHistoryStore
	resolver    *fees.Resolver
	nonces      *ledger.NonceManager
	processor   Processor
	chains      map[model.Network]fees.ChainParams
	collector   string
	startWindow time.Duration
	logger      zerolog.Logger
}

// Options parameterise the ramp service.
type Options struct {
	Chains           map[model.Network]fees.ChainParams
	CollectorAddress string
	// StartWindow bounds the time between registration and start.
	StartWindow time.Duration
}

// NewService builds the ramp service.
func NewService(quotes storage.QuoteStore, ramps storage.RampStateStore, history storage.RampHistoryStore, resolver *fees.Resolver, nonces *ledger.NonceManager, processor Processor, opts Options, logger zerolog.Logger) *Service {
	if opts.StartWindow <= 0 {
		opts.StartWindow = 30 * time.Minute
	}
	return &Service{
		chains:      opts.Chains,
		collector:   opts.CollectorAddress,
		history:     history,
		logger:      logger.With().Str("component", "ramp_service").Logger(),
		nonces:      nonces,
		processor:   processor,
		quotes:      quotes,
		ramps:       ramps,
		resolver:    resolver,
		startWindow: opts.StartWindow,
	}
}

// RegisterRamp consumes a pending quote and creates the saga in its initial
// phase, returning the server-authored unsigned transactions the client must
// sign. A quote can only ever back one ramp.
func (s *Service) RegisterRamp(ctx context.Context, req RegisterRequest) (*model.RampState, error) {
	if req.QuoteID == "" {
		return nil, fmt.Errorf("%w: quote id required", ErrValidation)
	}

	quote, err := s.quotes.GetQuote(ctx, req.QuoteID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: quote %s not found", ErrValidation, req.QuoteID)
		}
		return nil, fmt.Errorf("load quote: %w", err)
	}

	settlement := quote.SettlementNetwork()
	ephemeral := signingAddress(req.SigningAccounts, settlement)
	if ephemeral == "" {
		return nil, fmt.Errorf("%w: no signing account for %s", ErrValidation, settlement)
	}

	if err := s.quotes.ConsumeQuote(ctx, req.QuoteID); err != nil {
		if errors.Is(err, storage.ErrQuoteUnavailable) {
			return nil, fmt.Errorf("%w: quote %s is consumed or expired", ErrConflict, req.QuoteID)
		}
		return nil, fmt.Errorf("consume quote: %w", err)
	}

	unsigned, err := s.buildUnsignedTxs(ctx, quote, ephemeral)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	state := make(map[string]any, len(req.AdditionalData)+1)
	for key, value := range req.AdditionalData {
		state[key] = value
	}
	state[model.StateKeyEphemeralAddress] = ephemeral

	rampState := &model.RampState{
		ID:           uuid.NewString(),
		QuoteID:      quote.ID,
		Type:         quote.RampType,
		From:         quote.From,
		To:           quote.To,
		CurrentPhase: model.PhaseInitial,
		UnsignedTxs:  unsigned,
		State:        state,
		PhaseHistory: []model.PhaseHistoryEntry{{Phase: model.PhaseInitial, Timestamp: now}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.ramps.CreateRampState(ctx, rampState); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: quote %s already has a ramp", ErrConflict, quote.ID)
		}
		return nil, fmt.Errorf("create ramp: %w", err)
	}

	s.logger.Info().Str("ramp_id", rampState.ID).Str("quote_id", quote.ID).
		Str("type", string(quote.RampType)).Msg("ramp registered")
	return rampState, nil
}

// UpdateRamp attaches presigned transactions and extra client metadata to a
// ramp still in its initial phase. Presigned transactions merge-replace by
// (phase, network, signer); metadata merges into the state document.
func (s *Service) UpdateRamp(ctx context.Context, req UpdateRequest) (*model.RampState, error) {
	rampState, err := s.getRamp(ctx, req.RampID)
	if err != nil {
		return nil, err
	}
	if rampState.CurrentPhase != model.PhaseInitial {
		return nil, fmt.Errorf("%w: ramp %s is in phase %s", ErrConflict, rampState.ID, rampState.CurrentPhase)
	}

	if len(req.PresignedTxs) > 0 {
		merged, err := mergePresigned(rampState, req.PresignedTxs)
		if err != nil {
			return nil, err
		}
		if err := s.ramps.SetPresignedTxs(ctx, rampState.ID, merged); err != nil {
			return nil, fmt.Errorf("store presigned txs: %w", err)
		}
		rampState.PresignedTxs = merged
	}

	if len(req.AdditionalData) > 0 {
		if err := s.ramps.MergeRampState(ctx, rampState.ID, req.AdditionalData); err != nil {
			return nil, fmt.Errorf("merge ramp state: %w", err)
		}
		for key, value := range req.AdditionalData {
			if rampState.State == nil {
				rampState.State = make(map[string]any)
			}
			rampState.State[key] = value
		}
	}

	return rampState, nil
}

// StartRamp begins phase execution. It fails when client-signed transactions
// are missing or when the registration-to-start window has elapsed; an
// expired ramp is cancelled rather than left dangling.
func (s *Service) StartRamp(ctx context.Context, rampID string) (*model.RampState, error) {
	rampState, err := s.getRamp(ctx, rampID)
	if err != nil {
		return nil, err
	}
	if rampState.CurrentPhase != model.PhaseInitial {
		return nil, fmt.Errorf("%w: ramp %s is in phase %s", ErrConflict, rampState.ID, rampState.CurrentPhase)
	}

	if time.Since(rampState.CreatedAt) > s.startWindow {
		s.cancel(ctx, rampState, "start window expired")
		return nil, fmt.Errorf("%w: ramp %s start window expired", ErrConflict, rampState.ID)
	}

	for _, unsigned := range rampState.UnsignedTxs {
		if unsigned.Signer == s.collector {
			continue
		}
		if _, ok := rampState.FindPresignedTx(unsigned.Phase); !ok {
			return nil, fmt.Errorf("%w: missing presigned transaction for phase %s", ErrValidation, unsigned.Phase)
		}
	}

	// The request thread only triggers execution; phase work continues in
	// the background and survives the HTTP request.
	go func() {
		if err := s.processor.Process(context.Background(), rampState.ID); err != nil {
			s.logger.Warn().Err(err).Str("ramp_id", rampState.ID).Msg("background processing parked with error")
		}
	}()

	s.logger.Info().Str("ramp_id", rampState.ID).Msg("ramp started")
	return rampState, nil
}

// CancelRamp cancels a ramp that has not left its initial phase. The cancel
// is itself a compare-and-swap transition, so a racing start wins or loses
// cleanly.
func (s *Service) CancelRamp(ctx context.Context, rampID string) error {
	rampState, err := s.getRamp(ctx, rampID)
	if err != nil {
		return err
	}
	if rampState.CurrentPhase != model.PhaseInitial {
		return fmt.Errorf("%w: ramp %s is in phase %s", ErrConflict, rampState.ID, rampState.CurrentPhase)
	}
	if !s.cancel(ctx, rampState, "cancelled by client") {
		return fmt.Errorf("%w: ramp %s advanced concurrently", ErrConflict, rampState.ID)
	}
	return nil
}

// GetRampStatus returns the public projection for one ramp.
func (s *Service) GetRampStatus(ctx context.Context, rampID string) (*StatusView, error) {
	rampState, err := s.getRamp(ctx, rampID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		RampID:    rampState.ID,
		QuoteID:   rampState.QuoteID,
		Status:    ProjectStatus(rampState.CurrentPhase),
		CreatedAt: rampState.CreatedAt,
		UpdatedAt: rampState.UpdatedAt,
	}, nil
}

// RecentRamps lists the latest ramps for operator tooling.
func (s *Service) RecentRamps(ctx context.Context, limit int) ([]*model.RampState, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.history.ListRecentRamps(ctx, limit)
}

// RampsBetween lists ramps created inside a window, for export.
func (s *Service) RampsBetween(ctx context.Context, from, to time.Time) ([]*model.RampState, error) {
	return s.history.ListRampsBetween(ctx, from, to)
}

// ProjectStatus maps an internal phase to the public status.
func ProjectStatus(phase model.Phase) PublicStatus {
	switch phase {
	case model.PhaseInitial:
		return StatusPending
	case model.PhaseComplete:
		return StatusComplete
	case model.PhaseFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

func (s *Service) getRamp(ctx context.Context, rampID string) (*model.RampState, error) {
	if rampID == "" {
		return nil, fmt.Errorf("%w: ramp id required", ErrValidation)
	}
	rampState, err := s.ramps.GetRampState(ctx, rampID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rampID)
		}
		return nil, fmt.Errorf("load ramp: %w", err)
	}
	return rampState, nil
}

func (s *Service) cancel(ctx context.Context, rampState *model.RampState, reason string) bool {
	patch := map[string]any{model.StateKeyFailureReason: reason}
	if err := s.ramps.MergeRampState(ctx, rampState.ID, patch); err != nil {
		s.logger.Warn().Err(err).Str("ramp_id", rampState.ID).Msg("failed to persist cancel reason")
	}
	if err := s.ramps.UpdateRampPhase(ctx, rampState.ID, model.PhaseInitial, model.PhaseFailed); err != nil {
		if errors.Is(err, storage.ErrStalePhase) {
			return false
		}
		s.logger.Error().Err(err).Str("ramp_id", rampState.ID).Msg("failed to cancel ramp")
		return false
	}
	s.releaseCollectorNonce(rampState)
	s.logger.Info().Str("ramp_id", rampState.ID).Str("reason", reason).Msg("ramp cancelled")
	rampState.CurrentPhase = model.PhaseFailed
	return true
}

// releaseCollectorNonce drops the cached collector counter when a cancelled
// ramp still holds a reserved fee-distribution nonce. The next assignment
// re-seeds from the chain and hands the dead nonce out again.
func (s *Service) releaseCollectorNonce(rampState *model.RampState) {
	tx, ok := rampState.FindUnsignedTx(model.PhaseDistributeFees)
	if !ok || tx.Signer != s.collector {
		return
	}
	s.nonces.Reset(tx.Network, tx.Signer)
	s.logger.Info().Str("ramp_id", rampState.ID).Uint64("nonce", tx.Nonce).
		Str("network", string(tx.Network)).Msg("released reserved collector nonce")
}

func signingAddress(accounts []model.SigningAccount, network model.Network) string {
	for _, account := range accounts {
		if account.Network == network {
			return account.Address
		}
	}
	return ""
}
