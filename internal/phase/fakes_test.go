package phase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vortex-ramp/internal/ledger"
	"vortex-ramp/internal/model"
	"vortex-ramp/internal/provider"
	"vortex-ramp/internal/storage"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

type fakeRampStore struct {
	mu           sync.Mutex
	ramps        map[string]*model.RampState
	transitions  int
	beforeUpdate func()
}

func newFakeRampStore(states ...*model.RampState) *fakeRampStore {
	store := &fakeRampStore{ramps: make(map[string]*model.RampState)}
	for _, state := range states {
		store.ramps[state.ID] = state
	}
	return store
}

func (f *fakeRampStore) CreateRampState(_ context.Context, state *model.RampState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.ramps {
		if existing.QuoteID == state.QuoteID {
			return storage.ErrConflict
		}
	}
	f.ramps[state.ID] = state
	return nil
}

func (f *fakeRampStore) GetRampState(_ context.Context, id string) (*model.RampState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.ramps[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyState(state), nil
}

func (f *fakeRampStore) UpdateRampPhase(_ context.Context, id string, from, to model.Phase) error {
	if f.beforeUpdate != nil {
		hook := f.beforeUpdate
		f.beforeUpdate = nil
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.ramps[id]
	if !ok {
		return storage.ErrNotFound
	}
	if state.CurrentPhase != from {
		return storage.ErrStalePhase
	}
	state.CurrentPhase = to
	state.PhaseHistory = append(state.PhaseHistory, model.PhaseHistoryEntry{Phase: to, Timestamp: time.Now().UTC()})
	state.UpdatedAt = time.Now().UTC()
	f.transitions++
	return nil
}

func (f *fakeRampStore) MergeRampState(_ context.Context, id string, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.ramps[id]
	if !ok {
		return storage.ErrNotFound
	}
	if state.State == nil {
		state.State = make(map[string]any)
	}
	for key, value := range patch {
		state.State[key] = value
	}
	return nil
}

func (f *fakeRampStore) SetPresignedTxs(_ context.Context, id string, txs []model.PresignedTx) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.ramps[id]
	if !ok {
		return storage.ErrNotFound
	}
	state.PresignedTxs = txs
	return nil
}

func (f *fakeRampStore) AppendErrorLog(_ context.Context, id string, entry model.ErrorLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.ramps[id]
	if !ok {
		return storage.ErrNotFound
	}
	state.ErrorLogs = append(state.ErrorLogs, entry)
	return nil
}

func (f *fakeRampStore) ListRampStatesByPhase(_ context.Context, phase model.Phase, newerThan, olderThan time.Time) ([]*model.RampState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.RampState
	for _, state := range f.ramps {
		if state.CurrentPhase == phase && state.CreatedAt.After(newerThan) && state.CreatedAt.Before(olderThan) {
			out = append(out, copyState(state))
		}
	}
	return out, nil
}

func (f *fakeRampStore) ListStaleActive(_ context.Context, updatedBefore time.Time) ([]*model.RampState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.RampState
	for _, state := range f.ramps {
		if !state.CurrentPhase.IsTerminal() && state.UpdatedAt.Before(updatedBefore) && len(state.PresignedTxs) > 0 {
			out = append(out, copyState(state))
		}
	}
	return out, nil
}

func (f *fakeRampStore) get(id string) *model.RampState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyState(f.ramps[id])
}

func (f *fakeRampStore) forcePhase(id string, phase model.Phase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ramps[id].CurrentPhase = phase
}

func copyState(state *model.RampState) *model.RampState {
	if state == nil {
		return nil
	}
	clone := *state
	clone.UnsignedTxs = append([]model.UnsignedTx(nil), state.UnsignedTxs...)
	clone.PresignedTxs = append([]model.PresignedTx(nil), state.PresignedTxs...)
	clone.PhaseHistory = append([]model.PhaseHistoryEntry(nil), state.PhaseHistory...)
	clone.ErrorLogs = append([]model.ErrorLogEntry(nil), state.ErrorLogs...)
	clone.State = make(map[string]any, len(state.State))
	for key, value := range state.State {
		clone.State[key] = value
	}
	return &clone
}

type fakeQuoteStore struct {
	quotes map[string]*model.Quote
}

func (f *fakeQuoteStore) GetQuote(_ context.Context, id string) (*model.Quote, error) {
	quote, ok := f.quotes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return quote, nil
}

func (f *fakeQuoteStore) ConsumeQuote(_ context.Context, id string) error {
	if _, ok := f.quotes[id]; !ok {
		return storage.ErrQuoteUnavailable
	}
	return nil
}

type fakeProvider struct {
	mu        sync.Mutex
	kyc       string
	tickets   []model.Ticket
	errs      []error
	kycErr    error
	callCount int
}

func (f *fakeProvider) PaidTickets(context.Context, string) ([]model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.tickets, nil
}

func (f *fakeProvider) KycStatus(context.Context, string) (provider.KycStatus, error) {
	if f.kycErr != nil {
		return provider.KycStatus{}, f.kycErr
	}
	status := f.kyc
	if status == "" {
		status = "APPROVED"
	}
	return provider.KycStatus{IdentityStatus: status}, nil
}

type fakeLedgerClient struct {
	mu         sync.Mutex
	balance    decimal.Decimal
	nonce      uint64
	nonceErr   error
	submitErr  error
	confirmErr error
	balanceErr error
	submitted  []model.PresignedTx
}

func (f *fakeLedgerClient) SubmitTransaction(_ context.Context, tx model.PresignedTx) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, tx)
	return "0xhash", nil
}

func (f *fakeLedgerClient) ConfirmTransaction(context.Context, string) error {
	return f.confirmErr
}

func (f *fakeLedgerClient) AccountNonce(context.Context, string) (uint64, error) {
	if f.nonceErr != nil {
		return 0, f.nonceErr
	}
	return f.nonce, nil
}

func (f *fakeLedgerClient) Balance(context.Context, string) (decimal.Decimal, error) {
	if f.balanceErr != nil {
		return decimal.Decimal{}, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeLedgerClient) submittedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type fakeSigner struct {
	mu    sync.Mutex
	err   error
	calls []model.UnsignedTx
}

func (f *fakeSigner) SignTransaction(_ context.Context, tx model.UnsignedTx) (model.PresignedTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.PresignedTx{}, f.err
	}
	f.calls = append(f.calls, tx)
	signed := tx
	signed.TxData = "0xsigned"
	return signed, nil
}

type fakeSubsidyStore struct {
	mu        sync.Mutex
	subsidies []model.Subsidy
}

func (f *fakeSubsidyStore) InsertSubsidy(_ context.Context, subsidy model.Subsidy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subsidies = append(f.subsidies, subsidy)
	return nil
}

type fixture struct {
	store     *fakeRampStore
	quotes    *fakeQuoteStore
	provider  *fakeProvider
	client    *fakeLedgerClient
	signer    *fakeSigner
	subsidies *fakeSubsidyStore
	deps      Deps
}

func newFixture(states ...*model.RampState) *fixture {
	client := &fakeLedgerClient{}
	registry := ledger.NewRegistry()
	for _, network := range []model.Network{model.NetworkEthereum, model.NetworkPolygon} {
		registry.Register(network, client)
	}

	f := &fixture{
		store:     newFakeRampStore(states...),
		quotes:    &fakeQuoteStore{quotes: make(map[string]*model.Quote)},
		provider:  &fakeProvider{},
		client:    client,
		signer:    &fakeSigner{},
		subsidies: &fakeSubsidyStore{},
	}
	f.deps = Deps{
		Ledgers:          registry,
		Nonces:           ledger.NewNonceManager(registry),
		Signer:           f.signer,
		Provider:         f.provider,
		Subsidy:          f.subsidies,
		CollectorAddress: "0xcollector",
		EphemeralFunding: decimal.RequireFromString("0.01"),
		Logger:           noopLogger(),
	}
	return f
}

func (f *fixture) executor(opts ExecutorOptions) *Executor {
	return NewExecutor(NewRegistry(f.deps), f.store, f.quotes, noopLogger(), opts)
}

func buyRamp(id string) (*model.RampState, *model.Quote) {
	quote := &model.Quote{
		ID:       "q-" + id,
		RampType: model.RampBuy,
		From:     model.NetworkEthereum,
		To:       model.NetworkPolygon,
	}
	state := &model.RampState{
		ID:           id,
		QuoteID:      quote.ID,
		Type:         model.RampBuy,
		From:         quote.From,
		To:           quote.To,
		CurrentPhase: model.PhaseInitial,
		State: map[string]any{
			model.StateKeyAccountID:        "acct-1",
			model.StateKeyTicketID:         "ticket-1",
			model.StateKeyEphemeralAddress: "0xephemeral",
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	return state, quote
}
