package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"vortex-ramp/internal/model"
)

const (
	getQuoteSQL = `SELECT
        id, ramp_type, from_network, to_network,
        input_amount::text, input_currency, output_amount::text, output_currency,
        fees, partner_id, status, expires_at, created_at, updated_at
    FROM quotes
    WHERE id = $1;`

	consumeQuoteSQL = `UPDATE quotes
    SET status = 'consumed', updated_at = now()
    WHERE id = $1
      AND status = 'pending'
      AND expires_at > now();`

	getPartnerByIDSQL = `SELECT
        id, name, ramp_type, discount_rate::text, markup_rate::text,
        payout_addresses, is_active, created_at, updated_at
    FROM partners
    WHERE id = $1 AND ramp_type = $2 AND is_active = TRUE;`

	getPartnerByNameSQL = `SELECT
        id, name, ramp_type, discount_rate::text, markup_rate::text,
        payout_addresses, is_active, created_at, updated_at
    FROM partners
    WHERE name = $1 AND ramp_type = $2 AND is_active = TRUE;`

	createRampStateSQL = `INSERT INTO ramp_states (
        id, quote_id, type, from_network, to_network, current_phase,
        unsigned_txs, presigned_txs, state, phase_history, error_logs
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    );`

	rampStateColumns = `id, quote_id, type, from_network, to_network, current_phase,
        unsigned_txs, presigned_txs, state, phase_history, error_logs,
        created_at, updated_at`

	getRampStateSQL = `SELECT ` + rampStateColumns + `
    FROM ramp_states
    WHERE id = $1;`

	updateRampPhaseSQL = `UPDATE ramp_states
    SET current_phase = $3,
        phase_history = phase_history || $4::jsonb,
        updated_at = now()
    WHERE id = $1 AND current_phase = $2;`

	mergeRampStateSQL = `UPDATE ramp_states
    SET state = state || $2::jsonb,
        updated_at = now()
    WHERE id = $1;`

	setPresignedTxsSQL = `UPDATE ramp_states
    SET presigned_txs = $2::jsonb,
        updated_at = now()
    WHERE id = $1;`

	appendErrorLogSQL = `UPDATE ramp_states
    SET error_logs = error_logs || $2::jsonb,
        updated_at = now()
    WHERE id = $1;`

	listRampStatesByPhaseSQL = `SELECT ` + rampStateColumns + `
    FROM ramp_states
    WHERE current_phase = $1
      AND created_at > $2
      AND created_at < $3
    ORDER BY created_at;`

	listStaleActiveSQL = `SELECT ` + rampStateColumns + `
    FROM ramp_states
    WHERE current_phase NOT IN ('complete', 'failed')
      AND updated_at < $1
      AND presigned_txs IS NOT NULL
    ORDER BY updated_at;`

	listRecentRampsSQL = `SELECT ` + rampStateColumns + `
    FROM ramp_states
    ORDER BY created_at DESC
    LIMIT $1;`

	listRampsBetweenSQL = `SELECT ` + rampStateColumns + `
    FROM ramp_states
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	listCompletedBeforeSQL = `SELECT ` + rampStateColumns + `
    FROM ramp_states
    WHERE current_phase = 'complete'
      AND updated_at < $1
      AND NOT (state ? 'postCompleteCleanup')
    ORDER BY updated_at;`

	insertSubsidySQL = `INSERT INTO subsidies (
        ramp_id, phase, amount, token, payer_account, transaction_hash, payment_date
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`
)

// Store aggregates access to quotes, partners, ramp states, and subsidies.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetQuote fetches a quote by id.
func (s *Store) GetQuote(ctx context.Context, id string) (*model.Quote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		quote     model.Quote
		inputStr  string
		outputStr string
		feesJSON  []byte
		partnerID *string
	)
	row := pool.QueryRow(ctx, getQuoteSQL, id)
	if scanErr := row.Scan(
		&quote.ID,
		&quote.RampType,
		&quote.From,
		&quote.To,
		&inputStr,
		&quote.InputCurrency,
		&outputStr,
		&quote.OutputCurrency,
		&feesJSON,
		&partnerID,
		&quote.Status,
		&quote.ExpiresAt,
		&quote.CreatedAt,
		&quote.UpdatedAt,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get quote: %w", scanErr)
	}

	quote.InputAmount, err = decimal.NewFromString(inputStr)
	if err != nil {
		return nil, fmt.Errorf("parse input amount: %w", err)
	}
	quote.OutputAmount, err = decimal.NewFromString(outputStr)
	if err != nil {
		return nil, fmt.Errorf("parse output amount: %w", err)
	}
	if err := json.Unmarshal(feesJSON, &quote.Fees); err != nil {
		return nil, fmt.Errorf("decode quote fees: %w", err)
	}
	quote.PartnerID = partnerID

	return &quote, nil
}

// ConsumeQuote flips a pending, unexpired quote to consumed. A quote that is
// missing, already consumed, or expired yields ErrQuoteUnavailable.
func (s *Store) ConsumeQuote(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, consumeQuoteSQL, id)
	if execErr != nil {
		return fmt.Errorf("consume quote: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuoteUnavailable
	}
	return nil
}

// GetPartnerByID looks up an active partner row by (id, rampType).
func (s *Store) GetPartnerByID(ctx context.Context, id string, rampType model.RampDirection) (*model.Partner, error) {
	return s.getPartner(ctx, getPartnerByIDSQL, id, rampType)
}

// GetPartnerByName looks up an active partner row by (name, rampType).
func (s *Store) GetPartnerByName(ctx context.Context, name string, rampType model.RampDirection) (*model.Partner, error) {
	return s.getPartner(ctx, getPartnerByNameSQL, name, rampType)
}

func (s *Store) getPartner(ctx context.Context, query, key string, rampType model.RampDirection) (*model.Partner, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		partner     model.Partner
		discountStr string
		markupStr   string
		payoutJSON  []byte
	)
	row := pool.QueryRow(ctx, query, key, rampType)
	if scanErr := row.Scan(
		&partner.ID,
		&partner.Name,
		&partner.RampType,
		&discountStr,
		&markupStr,
		&payoutJSON,
		&partner.IsActive,
		&partner.CreatedAt,
		&partner.UpdatedAt,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get partner: %w", scanErr)
	}

	partner.DiscountRate, err = decimal.NewFromString(discountStr)
	if err != nil {
		return nil, fmt.Errorf("parse discount rate: %w", err)
	}
	partner.MarkupRate, err = decimal.NewFromString(markupStr)
	if err != nil {
		return nil, fmt.Errorf("parse markup rate: %w", err)
	}
	if len(payoutJSON) > 0 {
		if err := json.Unmarshal(payoutJSON, &partner.PayoutAddresses); err != nil {
			return nil, fmt.Errorf("decode payout addresses: %w", err)
		}
	}

	return &partner, nil
}

// CreateRampState persists a fresh saga instance. A second registration for
// the same quote violates the unique quote_id index and maps to ErrConflict.
func (s *Store) CreateRampState(ctx context.Context, state *model.RampState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	unsignedJSON, err := json.Marshal(state.UnsignedTxs)
	if err != nil {
		return fmt.Errorf("encode unsigned txs: %w", err)
	}
	var presignedJSON any
	if state.PresignedTxs != nil {
		presignedJSON, err = json.Marshal(state.PresignedTxs)
		if err != nil {
			return fmt.Errorf("encode presigned txs: %w", err)
		}
	}
	stateJSON, err := json.Marshal(state.State)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	historyJSON, err := json.Marshal(state.PhaseHistory)
	if err != nil {
		return fmt.Errorf("encode phase history: %w", err)
	}
	errorsJSON, err := json.Marshal(state.ErrorLogs)
	if err != nil {
		return fmt.Errorf("encode error logs: %w", err)
	}

	_, execErr := pool.Exec(ctx, createRampStateSQL,
		state.ID,
		state.QuoteID,
		state.Type,
		state.From,
		state.To,
		state.CurrentPhase,
		unsignedJSON,
		presignedJSON,
		stateJSON,
		historyJSON,
		errorsJSON,
	)
	if execErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(execErr, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("create ramp state: %w", execErr)
	}
	return nil
}

// GetRampState fetches a saga instance by id.
func (s *Store) GetRampState(ctx context.Context, id string) (*model.RampState, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, getRampStateSQL, id)
	state, scanErr := scanRampState(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, scanErr
	}
	return state, nil
}

// UpdateRampPhase performs the compare-and-swap phase transition.
func (s *Store) UpdateRampPhase(ctx context.Context, id string, from, to model.Phase) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	entry := []model.PhaseHistoryEntry{{Phase: to, Timestamp: time.Now().UTC()}}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode phase history entry: %w", err)
	}

	tag, execErr := pool.Exec(ctx, updateRampPhaseSQL, id, from, to, entryJSON)
	if execErr != nil {
		return fmt.Errorf("update ramp phase: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrStalePhase
	}
	return nil
}

// MergeRampState merges patch into the saga state document.
func (s *Store) MergeRampState(ctx context.Context, id string, patch map[string]any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode state patch: %w", err)
	}
	tag, execErr := pool.Exec(ctx, mergeRampStateSQL, id, patchJSON)
	if execErr != nil {
		return fmt.Errorf("merge ramp state: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPresignedTxs replaces the stored presigned transaction set.
func (s *Store) SetPresignedTxs(ctx context.Context, id string, txs []model.PresignedTx) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	txsJSON, err := json.Marshal(txs)
	if err != nil {
		return fmt.Errorf("encode presigned txs: %w", err)
	}
	tag, execErr := pool.Exec(ctx, setPresignedTxsSQL, id, txsJSON)
	if execErr != nil {
		return fmt.Errorf("set presigned txs: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendErrorLog appends a structured failure record to the saga.
func (s *Store) AppendErrorLog(ctx context.Context, id string, entry model.ErrorLogEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	entryJSON, err := json.Marshal([]model.ErrorLogEntry{entry})
	if err != nil {
		return fmt.Errorf("encode error log entry: %w", err)
	}
	if _, execErr := pool.Exec(ctx, appendErrorLogSQL, id, entryJSON); execErr != nil {
		return fmt.Errorf("append error log: %w", execErr)
	}
	return nil
}

// ListRampStatesByPhase lists ramps in a phase created inside a time window.
func (s *Store) ListRampStatesByPhase(ctx context.Context, phase model.Phase, newerThan, olderThan time.Time) ([]*model.RampState, error) {
	return s.listRampStates(ctx, listRampStatesByPhaseSQL, phase, newerThan, olderThan)
}

// ListStaleActive lists non-terminal ramps with presigned transactions that
// have not advanced since updatedBefore.
func (s *Store) ListStaleActive(ctx context.Context, updatedBefore time.Time) ([]*model.RampState, error) {
	return s.listRampStates(ctx, listStaleActiveSQL, updatedBefore)
}

// ListRecentRamps lists the most recent ramps.
func (s *Store) ListRecentRamps(ctx context.Context, limit int) ([]*model.RampState, error) {
	return s.listRampStates(ctx, listRecentRampsSQL, limit)
}

// ListRampsBetween lists ramps created inside a time window.
func (s *Store) ListRampsBetween(ctx context.Context, from, to time.Time) ([]*model.RampState, error) {
	return s.listRampStates(ctx, listRampsBetweenSQL, from, to)
}

// ListCompletedBefore lists completed ramps past the retention cutoff that
// have not been cleaned up yet.
func (s *Store) ListCompletedBefore(ctx context.Context, before time.Time) ([]*model.RampState, error) {
	return s.listRampStates(ctx, listCompletedBeforeSQL, before)
}

func (s *Store) listRampStates(ctx context.Context, query string, args ...any) ([]*model.RampState, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list ramp states: %w", queryErr)
	}
	defer rows.Close()

	states := make([]*model.RampState, 0)
	for rows.Next() {
		state, scanErr := scanRampState(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		states = append(states, state)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return states, nil
}

// InsertSubsidy records a disbursed top-up against a ramp.
func (s *Store) InsertSubsidy(ctx context.Context, subsidy model.Subsidy) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, insertSubsidySQL,
		subsidy.RampID,
		subsidy.Phase,
		subsidy.Amount.String(),
		subsidy.Token,
		subsidy.PayerAccount,
		subsidy.TransactionHash,
		subsidy.PaymentDate,
	); execErr != nil {
		return fmt.Errorf("insert subsidy: %w", execErr)
	}
	return nil
}

func scanRampState(row pgx.Row) (*model.RampState, error) {
	var (
		state         model.RampState
		unsignedJSON  []byte
		presignedJSON []byte
		stateJSON     []byte
		historyJSON   []byte
		errorsJSON    []byte
	)

	if err := row.Scan(
		&state.ID,
		&state.QuoteID,
		&state.Type,
		&state.From,
		&state.To,
		&state.CurrentPhase,
		&unsignedJSON,
		&presignedJSON,
		&stateJSON,
		&historyJSON,
		&errorsJSON,
		&state.CreatedAt,
		&state.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(unsignedJSON, &state.UnsignedTxs); err != nil {
		return nil, fmt.Errorf("decode unsigned txs: %w", err)
	}
	if len(presignedJSON) > 0 {
		if err := json.Unmarshal(presignedJSON, &state.PresignedTxs); err != nil {
			return nil, fmt.Errorf("decode presigned txs: %w", err)
		}
	}
	if err := json.Unmarshal(stateJSON, &state.State); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &state.PhaseHistory); err != nil {
		return nil, fmt.Errorf("decode phase history: %w", err)
	}
	if err := json.Unmarshal(errorsJSON, &state.ErrorLogs); err != nil {
		return nil, fmt.Errorf("decode error logs: %w", err)
	}

	return &state, nil
}
