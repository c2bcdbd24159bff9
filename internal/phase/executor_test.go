package phase

import (
	"context"
	"errors"
	"testing"
	"time"

	"vortex-ramp/internal/model"
	"vortex-ramp/internal/storage"
)

func TestAdvanceWaitsForPayment(t *testing.T) {
	state, quote := buyRamp("r1")
	f := newFixture(state)
	f.quotes.quotes[quote.ID] = quote

	executor := f.executor(ExecutorOptions{})
	ramp, advanced, err := executor.Advance(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advanced {
		t.Fatal("no paid ticket yet, must not advance")
	}
	if ramp.CurrentPhase != model.PhaseInitial {
		t.Fatalf("phase must stay initial, got %s", ramp.CurrentPhase)
	}
}

func TestAdvanceTransitionsOnPaidTicket(t *testing.T) {
	state, quote := buyRamp("r1")
	f := newFixture(state)
	f.quotes.quotes[quote.ID] = quote
	f.provider.tickets = []model.Ticket{{ID: "ticket-1", Status: model.TicketPaid}}

	executor := f.executor(ExecutorOptions{})
	ramp, advanced, err := executor.Advance(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !advanced {
		t.Fatal("paid ticket must advance the ramp")
	}
	if ramp.CurrentPhase != model.PhaseFundEphemeral {
		t.Fatalf("expected fundEphemeral, got %s", ramp.CurrentPhase)
	}
}

func TestAdvanceRecoverableLeavesPhase(t *testing.T) {
	state, quote := buyRamp("r1")
	f := newFixture(state)
	f.quotes.quotes[quote.ID] = quote
	f.provider.errs = []error{errors.New("provider down")}

	executor := f.executor(ExecutorOptions{})
	_, advanced, err := executor.Advance(context.Background(), "r1")
	if !IsRecoverable(err) {
		t.Fatalf("expected a recoverable error, got %v", err)
	}
	if advanced {
		t.Fatal("a failing handler must not advance")
	}

	stored := f.store.get("r1")
	if stored.CurrentPhase != model.PhaseInitial {
		t.Fatalf("phase must stay initial, got %s", stored.CurrentPhase)
	}
	if len(stored.ErrorLogs) != 1 || !stored.ErrorLogs[0].Recoverable {
		t.Fatalf("expected one recoverable error log entry, got %+v", stored.ErrorLogs)
	}
}

func TestAdvanceUnrecoverableFailsRamp(t *testing.T) {
	state, quote := buyRamp("r1")
	delete(state.State, model.StateKeyAccountID)
	f := newFixture(state)
	f.quotes.quotes[quote.ID] = quote

	executor := f.executor(ExecutorOptions{})
	_, _, err := executor.Advance(context.Background(), "r1")
	if err == nil || IsRecoverable(err) {
		t.Fatalf("expected an unrecoverable error, got %v", err)
	}

	stored := f.store.get("r1")
	if stored.CurrentPhase != model.PhaseFailed {
		t.Fatalf("expected failed, got %s", stored.CurrentPhase)
	}
	if stored.StateString(model.StateKeyFailureReason) == "" {
		t.Fatal("failure reason must be persisted")
	}
	if len(stored.ErrorLogs) != 1 || stored.ErrorLogs[0].Recoverable {
		t.Fatalf("expected one terminal error log entry, got %+v", stored.ErrorLogs)
	}
}

func TestAdvanceLosingRacerNoOps(t *testing.T) {
	state, quote := buyRamp("r1")
	f := newFixture(state)
	f.quotes.quotes[quote.ID] = quote
	f.provider.tickets = []model.Ticket{{ID: "ticket-1", Status: model.TicketPaid}}

	// A racer commits the same transition just before our compare-and-swap.
	f.store.beforeUpdate = func() {
		f.store.forcePhase("r1", model.PhaseFundEphemeral)
	}

	executor := f.executor(ExecutorOptions{})
	_, advanced, err := executor.Advance(context.Background(), "r1")
	if !errors.Is(err, storage.ErrStalePhase) {
		t.Fatalf("expected stale phase, got %v", err)
	}
	if advanced {
		t.Fatal("losing racer must not report a transition")
	}
	if f.store.get("r1").CurrentPhase != model.PhaseFundEphemeral {
		t.Fatal("winner's transition must stand")
	}
}

func TestProcessRunsBuyRampToCompletion(t *testing.T) {
	state, quote := buyRamp("r1")
	state.PresignedTxs = []model.PresignedTx{
		{Network: quote.To, Phase: model.PhaseSwap, Signer: "0xephemeral", Nonce: 0, TxData: "0xaa"},
		{Network: quote.To, Phase: model.PhasePayout, Signer: "0xephemeral", Nonce: 1, TxData: "0xbb"},
	}
	f := newFixture(state)
	f.quotes.quotes[quote.ID] = quote
	f.provider.tickets = []model.Ticket{{ID: "ticket-1", Status: model.TicketPaid}}
	// Chain says everything already landed: the ephemeral account is funded
	// and its nonce is past both presigned transactions.
	f.client.balance = f.deps.EphemeralFunding
	f.client.nonce = 2

	executor := f.executor(ExecutorOptions{BackoffBase: time.Millisecond})
	if err := executor.Process(context.Background(), "r1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := f.store.get("r1")
	if stored.CurrentPhase != model.PhaseComplete {
		t.Fatalf("expected complete, got %s", stored.CurrentPhase)
	}
	// Ledger state was the idempotency record, nothing was re-submitted.
	if f.client.submittedCount() != 0 {
		t.Fatalf("expected no submissions, got %d", f.client.submittedCount())
	}
}

func TestProcessRetriesRecoverableThenAdvances(t *testing.T) {
	state, quote := buyRamp("r1")
	f := newFixture(state)
	f.quotes.quotes[quote.ID] = quote
	f.provider.errs = []error{errors.New("blip"), errors.New("blip")}
	f.provider.tickets = []model.Ticket{{ID: "ticket-1", Status: model.TicketPaid}}
	f.client.balance = f.deps.EphemeralFunding
	f.client.nonce = 1

	// No presigned swap, so the ramp parks in failed after distributeFees.
	// The point here is the retry behaviour in the initial phase.
	executor := f.executor(ExecutorOptions{MaxRetries: 3, BackoffBase: time.Millisecond})
	_ = executor.Process(context.Background(), "r1")

	if f.provider.callCount != 3 {
		t.Fatalf("expected 2 failed attempts plus 1 success, got %d calls", f.provider.callCount)
	}
	stored := f.store.get("r1")
	if stored.CurrentPhase == model.PhaseInitial {
		t.Fatal("ramp must have advanced past initial after the retries")
	}
}

func TestProcessGivesUpAfterMaxRetries(t *testing.T) {
	state, quote := buyRamp("r1")
	f := newFixture(state)
	f.quotes.quotes[quote.ID] = quote
	f.provider.errs = []error{
		errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"),
	}

	executor := f.executor(ExecutorOptions{MaxRetries: 2, BackoffBase: time.Millisecond})
	err := executor.Process(context.Background(), "r1")
	if !IsRecoverable(err) {
		t.Fatalf("expected the recoverable error to surface, got %v", err)
	}
	if f.provider.callCount != 3 {
		t.Fatalf("expected initial attempt plus 2 retries, got %d calls", f.provider.callCount)
	}
	if f.store.get("r1").CurrentPhase != model.PhaseInitial {
		t.Fatal("exhausted retries must leave the phase unchanged for the recovery sweep")
	}
}

func TestProcessCollapsesConcurrentCalls(t *testing.T) {
	state, quote := buyRamp("r1")
	f := newFixture(state)
	f.quotes.quotes[quote.ID] = quote

	executor := f.executor(ExecutorOptions{})
	if !executor.acquire("r1") {
		t.Fatal("first acquire must succeed")
	}
	// While held, Process is a no-op.
	if err := executor.Process(context.Background(), "r1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.provider.callCount != 0 {
		t.Fatal("second processor must not run while the ramp is held")
	}
	executor.release("r1")
}
