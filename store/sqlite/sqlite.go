/*
Package sqlite provides a SQLite-backed implementation of the settlement
storage interfaces.

PURPOSE:
  Implements settlement.Store using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  settlements:        One row per completed job requiring payout
  workers:            Worker profiles with admin overrides
  currency_rates:     Rate table keyed by (from_code, to_code)
  settlement_events:  Append-only audit trail of status transitions

PAID-ROW GUARD:
  Settlement rows are written through two paths, both carrying
  "AND payout_status != 'paid'" in their WHERE clause: UpdateUnpaid for the
  fields the pipeline computes, UpdateHold for the admin-owned hold columns.
  That makes the paid transition a storage-level compare-and-swap: under
  concurrent release calls at most one invocation lands the paid row, and
  nothing ever updates a row that is already paid. UpdateUnpaid leaves the
  hold columns alone, so neither path can clobber the other's fields.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/payouts.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - settlement/store.go: Interface definitions
  - settlement/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/tablecraft/payout-engine/settlement"
)

// Store implements settlement.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ settlement.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Settlements: one row per completed job requiring payout.
	-- Computed fields are written only through the unpaid guard.
	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		job_id TEXT,
		quote_total_cents INTEGER NOT NULL,
		base_rate_cents INTEGER NOT NULL,
		payout_base_cents INTEGER NOT NULL DEFAULT 0,
		payout_bonus_cents INTEGER NOT NULL DEFAULT 0,
		payout_amount_cents INTEGER NOT NULL DEFAULT 0,
		tier_applied TEXT NOT NULL DEFAULT '',
		rate_multiplier_applied TEXT NOT NULL DEFAULT '0',
		payout_currency TEXT NOT NULL DEFAULT '',
		payout_fx_rate TEXT NOT NULL DEFAULT '0',
		payout_status TEXT NOT NULL,
		payout_hold INTEGER NOT NULL DEFAULT 0,
		payout_hold_reason TEXT NOT NULL DEFAULT '',
		payout_blockers_json TEXT NOT NULL DEFAULT '[]',
		bonus_breakdown_json TEXT NOT NULL DEFAULT '[]',
		job_completed_at TEXT,
		job_completed_by TEXT NOT NULL DEFAULT '',
		paid_at TEXT,
		external_transfer_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Exactly one settlement record per job.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_settlements_job
		ON settlements(job_id) WHERE job_id IS NOT NULL AND job_id != '';

	CREATE INDEX IF NOT EXISTS idx_settlements_worker
		ON settlements(worker_id);
	CREATE INDEX IF NOT EXISTS idx_settlements_status
		ON settlements(payout_status);

	-- Workers (profiles with admin overrides)
	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		tier_override TEXT,
		preferred_currency TEXT NOT NULL DEFAULT '',
		currency_override TEXT,
		payout_account_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Currency rates, keyed by pair. Written by the periodic rate job.
	CREATE TABLE IF NOT EXISTS currency_rates (
		from_code TEXT NOT NULL,
		to_code TEXT NOT NULL,
		rate TEXT NOT NULL,
		fetched_at TEXT NOT NULL,
		PRIMARY KEY (from_code, to_code)
	);

	-- Settlement events (append-only audit trail)
	CREATE TABLE IF NOT EXISTS settlement_events (
		id TEXT PRIMARY KEY,
		settlement_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_settlement
		ON settlement_events(settlement_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (s *Store) CreateSettlement(ctx context.Context, rec settlement.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blockers, _ := json.Marshal(blockersOrEmpty(rec.PayoutBlockers))

	query := `
		INSERT INTO settlements
		(id, worker_id, job_id, quote_total_cents, base_rate_cents,
		 payout_base_cents, payout_bonus_cents, payout_amount_cents,
		 tier_applied, rate_multiplier_applied, payout_currency, payout_fx_rate,
		 payout_status, payout_hold, payout_hold_reason, payout_blockers_json,
		 bonus_breakdown_json,
		 job_completed_at, job_completed_by, paid_at, external_transfer_id,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.WorkerID,
		rec.JobID,
		rec.QuoteTotalCents,
		rec.BaseRateCents,
		rec.PayoutBaseCents,
		rec.PayoutBonusCents,
		rec.PayoutAmountCents,
		rec.TierApplied,
		rec.RateMultiplierApplied.String(),
		rec.PayoutCurrency,
		rec.PayoutFxRate.String(),
		rec.Status,
		boolToInt(rec.PayoutHold),
		rec.PayoutHoldReason,
		string(blockers),
		marshalBonusLines(rec.BonusBreakdown),
		nullTime(rec.JobCompletedAt),
		rec.JobCompletedBy,
		nullTime(rec.PaidAt),
		rec.ExternalTransferID,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return settlement.ErrDuplicateSettlement
		}
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	return nil
}

func (s *Store) GetSettlement(ctx context.Context, id settlement.SettlementID) (*settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.querySettlements(ctx, settlementColumns+" WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, settlement.ErrSettlementNotFound
	}
	return &rows[0], nil
}

func (s *Store) ListSettlements(ctx context.Context) ([]settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySettlements(ctx, settlementColumns+" ORDER BY created_at")
}

func (s *Store) ListSettlementsByWorker(ctx context.Context, workerID settlement.WorkerID) ([]settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySettlements(ctx, settlementColumns+" WHERE worker_id = ? ORDER BY created_at", string(workerID))
}

// UpdateUnpaid writes the settlement only while the stored row is not yet
// paid. The guard lives in the WHERE clause, so the check and the write are
// one atomic statement; two concurrent paid transitions collapse to one.
//
// The hold columns are not in the SET list: administrators write them
// asynchronously via UpdateHold, and this statement must not overwrite them
// with values read before the hold landed. When the stored hold is set, the
// row keeps on_hold status for any non-paid write.
func (s *Store) UpdateUnpaid(ctx context.Context, rec settlement.Settlement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blockers, _ := json.Marshal(blockersOrEmpty(rec.PayoutBlockers))

	query := `
		UPDATE settlements SET
			payout_base_cents = ?,
			payout_bonus_cents = ?,
			payout_amount_cents = ?,
			tier_applied = ?,
			rate_multiplier_applied = ?,
			payout_currency = ?,
			payout_fx_rate = ?,
			payout_status = CASE
				WHEN ? = 'paid' THEN 'paid'
				WHEN payout_hold = 1 THEN 'on_hold'
				ELSE ? END,
			payout_blockers_json = ?,
			bonus_breakdown_json = ?,
			job_completed_at = ?,
			job_completed_by = ?,
			paid_at = ?,
			external_transfer_id = ?,
			updated_at = ?
		WHERE id = ? AND payout_status != 'paid'
	`

	res, err := s.db.ExecContext(ctx, query,
		rec.PayoutBaseCents,
		rec.PayoutBonusCents,
		rec.PayoutAmountCents,
		rec.TierApplied,
		rec.RateMultiplierApplied.String(),
		rec.PayoutCurrency,
		rec.PayoutFxRate.String(),
		string(rec.Status),
		string(rec.Status),
		string(blockers),
		marshalBonusLines(rec.BonusBreakdown),
		nullTime(rec.JobCompletedAt),
		rec.JobCompletedBy,
		nullTime(rec.PaidAt),
		rec.ExternalTransferID,
		rec.UpdatedAt.UTC().Format(time.RFC3339),
		rec.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update settlement: %w", err)
	}
	return s.guardedUpdateOutcome(ctx, res, rec.ID)
}

// UpdateHold writes the hold columns and status, nothing else, under the
// same not-paid guard.
func (s *Store) UpdateHold(ctx context.Context, id settlement.SettlementID, hold bool, reason string, status settlement.Status, updatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE settlements SET
			payout_hold = ?,
			payout_hold_reason = ?,
			payout_status = ?,
			updated_at = ?
		WHERE id = ? AND payout_status != 'paid'`,
		boolToInt(hold),
		reason,
		string(status),
		updatedAt.UTC().Format(time.RFC3339),
		string(id),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update hold: %w", err)
	}
	return s.guardedUpdateOutcome(ctx, res, id)
}

// guardedUpdateOutcome interprets a zero-row conditional update: either the
// row is paid or it does not exist.
func (s *Store) guardedUpdateOutcome(ctx context.Context, res sql.Result, id settlement.SettlementID) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM settlements WHERE id = ?", string(id)).Scan(&exists); err != nil {
			return false, err
		}
		if exists == 0 {
			return false, settlement.ErrSettlementNotFound
		}
		return false, nil
	}
	return true, nil
}

const settlementColumns = `
	SELECT id, worker_id, job_id, quote_total_cents, base_rate_cents,
	       payout_base_cents, payout_bonus_cents, payout_amount_cents,
	       tier_applied, rate_multiplier_applied, payout_currency, payout_fx_rate,
	       payout_status, payout_hold, payout_hold_reason, payout_blockers_json,
	       bonus_breakdown_json,
	       job_completed_at, job_completed_by, paid_at, external_transfer_id,
	       created_at, updated_at
	FROM settlements`

func (s *Store) querySettlements(ctx context.Context, query string, args ...any) ([]settlement.Settlement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var out []settlement.Settlement
	for rows.Next() {
		var (
			rec                              settlement.Settlement
			multiplier, fxRate, blockersJSON string
			breakdownJSON                    string
			hold                             int
			completedAt, paidAt              sql.NullString
			createdAt, updatedAt             string
		)

		err := rows.Scan(
			&rec.ID, &rec.WorkerID, &rec.JobID, &rec.QuoteTotalCents, &rec.BaseRateCents,
			&rec.PayoutBaseCents, &rec.PayoutBonusCents, &rec.PayoutAmountCents,
			&rec.TierApplied, &multiplier, &rec.PayoutCurrency, &fxRate,
			&rec.Status, &hold, &rec.PayoutHoldReason, &blockersJSON,
			&breakdownJSON,
			&completedAt, &rec.JobCompletedBy, &paidAt, &rec.ExternalTransferID,
			&createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}

		rec.RateMultiplierApplied = mustDecimal(multiplier)
		rec.PayoutFxRate = mustDecimal(fxRate)
		rec.PayoutHold = hold != 0

		var blockers []string
		if err := json.Unmarshal([]byte(blockersJSON), &blockers); err == nil && len(blockers) > 0 {
			rec.PayoutBlockers = blockers
		}

		var lines []settlement.BonusLine
		if err := json.Unmarshal([]byte(breakdownJSON), &lines); err == nil && len(lines) > 0 {
			rec.BonusBreakdown = lines
		}

		rec.JobCompletedAt = parseNullTime(completedAt)
		rec.PaidAt = parseNullTime(paidAt)
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)

		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// WORKERS
// =============================================================================

func (s *Store) SaveWorker(ctx context.Context, w settlement.WorkerProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workers
		(id, name, role, tier_override, preferred_currency, currency_override,
		 payout_account_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			tier_override = excluded.tier_override,
			preferred_currency = excluded.preferred_currency,
			currency_override = excluded.currency_override,
			payout_account_id = excluded.payout_account_id
	`

	var tierOverride, currencyOverride any
	if w.TierOverride != nil {
		tierOverride = string(*w.TierOverride)
	}
	if w.CurrencyOverride != nil {
		currencyOverride = *w.CurrencyOverride
	}

	_, err := s.db.ExecContext(ctx, query,
		w.ID, w.Name, w.Role, tierOverride, w.PreferredCurrency, currencyOverride,
		w.PayoutAccountID, createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}
	return nil
}

func (s *Store) GetWorker(ctx context.Context, id settlement.WorkerID) (*settlement.WorkerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workers, err := s.queryWorkers(ctx, workerColumns+" WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	if len(workers) == 0 {
		return nil, settlement.ErrWorkerNotFound
	}
	return &workers[0], nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]settlement.WorkerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryWorkers(ctx, workerColumns+" ORDER BY id")
}

const workerColumns = `
	SELECT id, name, role, tier_override, preferred_currency, currency_override,
	       payout_account_id, created_at
	FROM workers`

func (s *Store) queryWorkers(ctx context.Context, query string, args ...any) ([]settlement.WorkerProfile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()

	var out []settlement.WorkerProfile
	for rows.Next() {
		var (
			w                              settlement.WorkerProfile
			tierOverride, currencyOverride sql.NullString
			createdAt                      string
		)
		err := rows.Scan(&w.ID, &w.Name, &w.Role, &tierOverride, &w.PreferredCurrency,
			&currencyOverride, &w.PayoutAccountID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		if tierOverride.Valid && tierOverride.String != "" {
			t := settlement.Tier(tierOverride.String)
			w.TierOverride = &t
		}
		if currencyOverride.Valid && currencyOverride.String != "" {
			c := currencyOverride.String
			w.CurrencyOverride = &c
		}
		w.CreatedAt = parseTime(createdAt)
		out = append(out, w)
	}
	return out, rows.Err()
}

// =============================================================================
// CURRENCY RATES
// =============================================================================

func (s *Store) GetRate(ctx context.Context, from, to string) (*settlement.CurrencyRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rate      string
		fetchedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT rate, fetched_at FROM currency_rates WHERE from_code = ? AND to_code = ?",
		from, to).Scan(&rate, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rate: %w", err)
	}

	return &settlement.CurrencyRate{
		From:      from,
		To:        to,
		Rate:      mustDecimal(rate),
		FetchedAt: parseTime(fetchedAt),
	}, nil
}

func (s *Store) SaveRate(ctx context.Context, r settlement.CurrencyRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO currency_rates (from_code, to_code, rate, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(from_code, to_code) DO UPDATE SET
			rate = excluded.rate,
			fetched_at = excluded.fetched_at
	`
	_, err := s.db.ExecContext(ctx, query,
		r.From, r.To, r.Rate.String(), r.FetchedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save rate: %w", err)
	}
	return nil
}

func (s *Store) ListRates(ctx context.Context) ([]settlement.CurrencyRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT from_code, to_code, rate, fetched_at FROM currency_rates ORDER BY from_code, to_code")
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	defer rows.Close()

	var out []settlement.CurrencyRate
	for rows.Next() {
		var (
			r               settlement.CurrencyRate
			rate, fetchedAt string
		)
		if err := rows.Scan(&r.From, &r.To, &rate, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		r.Rate = mustDecimal(rate)
		r.FetchedAt = parseTime(fetchedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// SETTLEMENT EVENTS
// =============================================================================

func (s *Store) AppendEvent(ctx context.Context, e settlement.SettlementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO settlement_events (id, settlement_id, actor, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.SettlementID, e.Actor, e.Action, e.Detail,
		e.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *Store) EventsFor(ctx context.Context, id settlement.SettlementID) ([]settlement.SettlementEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, settlement_id, actor, action, detail, created_at
		FROM settlement_events WHERE settlement_id = ? ORDER BY created_at, id`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []settlement.SettlementEvent
	for rows.Next() {
		var (
			e         settlement.SettlementEvent
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.SettlementID, &e.Actor, &e.Action, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// ADMIN / DEV
// =============================================================================

// Reset clears all tables. Dev and demo scenarios only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"settlements", "workers", "currency_rates", "settlement_events"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func blockersOrEmpty(b []string) []string {
	if b == nil {
		return []string{}
	}
	return b
}

func marshalBonusLines(lines []settlement.BonusLine) string {
	if lines == nil {
		lines = []settlement.BonusLine{}
	}
	out, _ := json.Marshal(lines)
	return string(out)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTime(v.String)
	return &t
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339, v)
	return t
}

func mustDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}
