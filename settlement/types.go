/*
Package settlement provides the chef payout settlement engine.

PURPOSE:
  This package decides how much a service provider ("chef") is owed for a
  completed job, in what currency, and whether the money may actually move.
  It combines four pieces:
  - Tier Resolver:      performance tier -> payout rate multiplier
  - Bonus Calculator:   capped, eligibility-gated badge bonus
  - Currency Lock:      freeze an FX rate at computation time
  - Settlement Gate:    payout status state machine + transfer orchestration

KEY CONCEPTS IN THIS FILE (types.go):
  - Settlement:    The persisted record for one worker's payout on one job
  - WorkerProfile: Admin-controlled overrides (tier, currency, destination)
  - Status:        The payout state machine (not_applicable -> ... -> paid)
  - Tier:          Standard/Pro/Elite performance classification

DESIGN PRINCIPLES:
  1. Cents everywhere: amounts are int64 base-currency cents
  2. Precision: multipliers, percentages and FX rates use decimal.Decimal
  3. Paid is terminal: a paid settlement is never recomputed or overwritten
  4. Degrade, don't block: signal/rate outages never prevent a payout

SEE ALSO:
  - gate.go:     The orchestrator and state machine
  - tier.go:     Tier resolution
  - bonus.go:    Bonus calculation
  - currency.go: Currency locking
  - store.go:    Persistence interfaces
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WorkerID string
type SettlementID string

// =============================================================================
// TIER - Performance classification driving the rate multiplier
// =============================================================================

type Tier string

const (
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
	TierElite    Tier = "elite"
)

// Multiplier returns the payout rate multiplier for the tier.
// Standard 1.00, Pro 1.10, Elite 1.20.
func (t Tier) Multiplier() decimal.Decimal {
	switch t {
	case TierPro:
		return decimal.RequireFromString("1.10")
	case TierElite:
		return decimal.RequireFromString("1.20")
	default:
		return decimal.NewFromInt(1)
	}
}

// Valid reports whether t is a known tier. Used to validate admin overrides.
func (t Tier) Valid() bool {
	return t == TierStandard || t == TierPro || t == TierElite
}

// =============================================================================
// STATUS - Payout state machine
// =============================================================================

// Status is the payout state for a settlement.
//
// Transitions:
//
//	not_applicable -> pending            (job completion recorded)
//	pending        -> blocked | on_hold  (structural reason / manual hold)
//	blocked        -> pending | on_hold  (blocker cleared / hold set)
//	on_hold        -> pending | blocked  (hold released)
//	pending/blocked/on_hold -> paid      (transfer succeeded; TERMINAL)
//
// paid never transitions further. No code path may regress it.
type Status string

const (
	StatusNotApplicable Status = "not_applicable"
	StatusPending       Status = "pending"
	StatusBlocked       Status = "blocked"
	StatusOnHold        Status = "on_hold"
	StatusPaid          Status = "paid"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool { return s == StatusPaid }

// =============================================================================
// SETTLEMENT - One payout for one completed job
// =============================================================================

// Settlement tracks amount, currency and status for one worker's payout on
// one completed job. It is the single source of truth for the gate; only the
// gate writes the computed fields, and only administrators write the hold
// fields.
type Settlement struct {
	ID       SettlementID
	WorkerID WorkerID
	JobID    string

	// QuoteTotalCents is the contract value. Immutable once the job starts.
	QuoteTotalCents int64

	// BaseRateCents is the pre-tier payout base, derived by the pricing
	// collaborator when the record is created. The gate only applies the
	// tier multiplier to it.
	BaseRateCents int64

	// Computed by the gate. Immutable once Status == paid.
	PayoutBaseCents       int64
	PayoutBonusCents      int64
	PayoutAmountCents     int64
	TierApplied           Tier            // empty until first computation
	RateMultiplierApplied decimal.Decimal // zero until first computation
	PayoutCurrency        string          // empty until the currency is locked
	PayoutFxRate          decimal.Decimal // zero when currency not locked; 1 for base currency

	// BonusBreakdown is the per-badge audit trail behind PayoutBonusCents,
	// kept on the record so statements for paid settlements can still
	// itemize the bonus.
	BonusBreakdown []BonusLine

	Status Status

	// Hold fields: the only fields an administrator writes directly.
	PayoutHold       bool
	PayoutHoldReason string

	// Blockers are structural reasons the payout cannot proceed, surfaced
	// to administrators as plain text.
	PayoutBlockers []string

	JobCompletedAt *time.Time
	JobCompletedBy string // "worker" or "admin"

	PaidAt             *time.Time
	ExternalTransferID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Computed reports whether the tier multiplier has been captured for this
// settlement. The multiplier is snapshotted at first computation and later
// tier changes must not alter it.
func (s *Settlement) Computed() bool {
	return !s.RateMultiplierApplied.IsZero()
}

// CurrencyLocked reports whether an FX rate has been frozen on the record.
func (s *Settlement) CurrencyLocked() bool {
	return s.PayoutCurrency != ""
}

// =============================================================================
// WORKER PROFILE
// =============================================================================

// WorkerProfile holds per-worker settings. Mutated only by administrators,
// never by the settlement pipeline itself.
type WorkerProfile struct {
	ID   WorkerID
	Name string
	Role string

	// TierOverride, when set, takes precedence over the computed tier.
	TierOverride *Tier

	// PreferredCurrency is the worker's chosen payout currency (ISO code).
	// Empty means base currency.
	PreferredCurrency string

	// CurrencyOverride, when set by an admin, wins over PreferredCurrency.
	CurrencyOverride *string

	// PayoutAccountID is the transfer destination at the payment processor.
	// Empty is a structural blocker: no destination, no transfer.
	PayoutAccountID string

	CreatedAt time.Time
}

// =============================================================================
// CURRENCY RATE
// =============================================================================

// CurrencyRate is a stored exchange rate for a currency pair. Updated by an
// external periodic job; read-only to this engine. Rates are never mutated
// retroactively for a settlement that already locked one.
type CurrencyRate struct {
	From      string
	To        string
	Rate      decimal.Decimal
	FetchedAt time.Time
}

// =============================================================================
// SETTLEMENT EVENTS - Append-only audit trail
// =============================================================================

type EventAction string

const (
	EventCompletionRecorded EventAction = "completion_recorded"
	EventHoldSet            EventAction = "hold_set"
	EventHoldReleased       EventAction = "hold_released"
	EventBlockersCleared    EventAction = "blockers_cleared"
	EventReleaseAttempted   EventAction = "release_attempted"
	EventTransferRequested  EventAction = "transfer_requested"
	EventPaid               EventAction = "paid"
	EventBlocked            EventAction = "blocked"
)

// SettlementEvent records who did what to a settlement and when.
type SettlementEvent struct {
	ID           string
	SettlementID SettlementID
	Actor        string
	Action       EventAction
	Detail       string
	CreatedAt    time.Time
}

// =============================================================================
// RESULTS
// =============================================================================

// TierResult is the outcome of tier resolution.
type TierResult struct {
	Tier       Tier
	Multiplier decimal.Decimal
	Overridden bool
}

// BonusLine is one contributing badge in a bonus breakdown. Consumed by the
// statement generator for worker-facing statements.
type BonusLine struct {
	Badge string
	Pct   decimal.Decimal
}

// CurrencyLock is a frozen (currency, rate) pair.
type CurrencyLock struct {
	Code string
	Rate decimal.Decimal
}

// Preview is a side-effect-free earnings estimate for a settlement.
type Preview struct {
	SettlementID SettlementID
	Tier         Tier
	Multiplier   decimal.Decimal
	Overridden   bool
	BaseCents    int64
	BonusCents   int64
	AmountCents  int64
	Breakdown    []BonusLine
	Currency     string
	FxRate       decimal.Decimal
}

// ReleaseResult is the outcome of an AttemptRelease call.
type ReleaseResult struct {
	Settlement Settlement
	Status     Status
	Blockers   []string
	TransferID string
}
