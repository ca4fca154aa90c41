/*
gate.go - Settlement Gate: orchestrator and payout state machine

PURPOSE:
  The only component that writes computed settlement fields and drives the
  payout status state machine. An external trigger (job-completion event or
  an admin "release payout" action) invokes AttemptRelease, which:

  1. Returns immediately if the settlement is already paid (no recompute)
  2. Resolves the tier and applies the multiplier to the pre-tier base
  3. Computes the bonus against the tier-adjusted base
  4. Sums to the payout amount
  5. Locks the payout currency
  6. Evaluates entry conditions and either requests ONE transfer from the
     payment processor or records the blocking/holding reason

ENTRY CONDITIONS (all must hold to move toward paid):
  - job completion recorded
  - no manual hold (hold always wins; processor never contacted)
  - no structural blockers (worker must have a payout destination)
  - settlement amount strictly positive

CONCURRENCY:
  Invocations are short, stateless computations against the persisted
  record. The paid transition goes through Store.UpdateUnpaid, a
  compare-and-swap on status != paid, so two concurrent releases cannot
  both land the paid row. The transfer idempotency key is derived from the
  settlement id, so even a release that loses the storage race observed the
  same real-world transfer.

  The hold columns are owned by the admin path (SetHold -> Store.UpdateHold)
  and excluded from the pipeline's write set, so a hold set while a release
  is in flight survives the release's write and wins on the next release.

SIDE EFFECTS:
  Confined to one record update and at most one transfer request per
  release trigger. Audit events are appended best-effort.
*/
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Blocker reasons surfaced to administrators.
const (
	BlockerNoDestination       = "no payout destination on file"
	BlockerNonPositiveAmount   = "settlement amount not positive"
	BlockerPendingVerification = "transfer pending verification"
	BlockerCompletionMissing   = "job completion not recorded"
)

// DefaultTransferTimeout bounds a single transfer request. A timeout is
// interpreted as "outcome unknown", never as paid.
const DefaultTransferTimeout = 10 * time.Second

// =============================================================================
// ENGINE
// =============================================================================

// Engine wires the settlement components together. All fields except Logger
// and Now are required.
type Engine struct {
	Store     Store
	Signals   SignalsProvider
	Processor PaymentProcessor
	Config    Source

	TransferTimeout time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

func NewEngine(store Store, signals SignalsProvider, processor PaymentProcessor, cfg Source, logger *slog.Logger) *Engine {
	return &Engine{
		Store:           store,
		Signals:         signals,
		Processor:       processor,
		Config:          cfg,
		TransferTimeout: DefaultTransferTimeout,
		Logger:          logger,
		Now:             time.Now,
	}
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// =============================================================================
// RECORD CREATION
// =============================================================================

// CreateParams describes a new settlement. QuoteTotalCents is the contract
// value; BaseRateCents is the pre-tier payout base already derived by the
// pricing collaborator.
type CreateParams struct {
	WorkerID        WorkerID
	JobID           string
	QuoteTotalCents int64
	BaseRateCents   int64
}

// CreateSettlement validates and persists a new settlement record in
// not_applicable status. Input errors reject synchronously with no mutation.
func (e *Engine) CreateSettlement(ctx context.Context, p CreateParams) (*Settlement, error) {
	if p.QuoteTotalCents <= 0 || p.BaseRateCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := e.Store.GetWorker(ctx, p.WorkerID); err != nil {
		return nil, err
	}

	now := e.now()
	s := Settlement{
		ID:              SettlementID(uuid.NewString()),
		WorkerID:        p.WorkerID,
		JobID:           p.JobID,
		QuoteTotalCents: p.QuoteTotalCents,
		BaseRateCents:   p.BaseRateCents,
		Status:          StatusNotApplicable,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Store.CreateSettlement(ctx, s); err != nil {
		return nil, err
	}
	return &s, nil
}

// =============================================================================
// COMPLETION / HOLD / BLOCKER ADMINISTRATION
// =============================================================================

// RecordCompletion marks the job complete. completedBy is "worker" or
// "admin"; both are accepted as sufficient to make the settlement payable
// (see DESIGN.md). The settlement becomes pending unless a hold is active.
func (e *Engine) RecordCompletion(ctx context.Context, id SettlementID, completedBy string) (*Settlement, error) {
	s, err := e.mutableSettlement(ctx, id, "record completion")
	if err != nil {
		return nil, err
	}

	now := e.now()
	s.JobCompletedAt = &now
	s.JobCompletedBy = completedBy
	if s.PayoutHold {
		s.Status = StatusOnHold
	} else if len(s.PayoutBlockers) > 0 {
		s.Status = StatusBlocked
	} else {
		s.Status = StatusPending
	}

	if err := e.persistUnpaid(ctx, s, "record completion"); err != nil {
		return nil, err
	}
	e.appendEvent(ctx, id, completedBy, EventCompletionRecorded, "job marked complete by "+completedBy)
	return s, nil
}

// SetHold sets or clears the manual payout hold. Administrator-only. Setting
// the hold always forces on_hold regardless of other conditions; clearing it
// returns the settlement to pending (or blocked, if blockers remain).
// The write goes through Store.UpdateHold, which touches only the hold
// columns and status, so it cannot clobber fields a concurrent release is
// computing.
func (e *Engine) SetHold(ctx context.Context, id SettlementID, hold bool, reason, actor string) (*Settlement, error) {
	s, err := e.mutableSettlement(ctx, id, "set hold")
	if err != nil {
		return nil, err
	}

	s.PayoutHold = hold
	if hold {
		s.PayoutHoldReason = reason
		s.Status = StatusOnHold
	} else {
		s.PayoutHoldReason = ""
		s.Status = e.restingStatus(s)
	}
	s.UpdatedAt = e.now()

	ok, err := e.Store.UpdateHold(ctx, id, s.PayoutHold, s.PayoutHoldReason, s.Status, s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.log().Error("post-paid mutation attempt rejected by store",
			"settlement_id", id, "operation", "set hold")
		return nil, ErrAlreadyPaid
	}
	if hold {
		e.appendEvent(ctx, id, actor, EventHoldSet, reason)
	} else {
		e.appendEvent(ctx, id, actor, EventHoldReleased, "")
	}
	return s, nil
}

// ClearBlockers wipes the recorded blockers after admin remediation. The
// settlement returns to pending; it does not auto-release.
func (e *Engine) ClearBlockers(ctx context.Context, id SettlementID, actor string) (*Settlement, error) {
	s, err := e.mutableSettlement(ctx, id, "clear blockers")
	if err != nil {
		return nil, err
	}

	s.PayoutBlockers = nil
	s.Status = e.restingStatus(s)

	if err := e.persistUnpaid(ctx, s, "clear blockers"); err != nil {
		return nil, err
	}
	e.appendEvent(ctx, id, actor, EventBlockersCleared, "")
	return s, nil
}

// restingStatus is the non-terminal status implied by the record's own
// fields, used when a hold is released or blockers are cleared.
func (e *Engine) restingStatus(s *Settlement) Status {
	switch {
	case s.PayoutHold:
		return StatusOnHold
	case s.JobCompletedAt == nil:
		return StatusNotApplicable
	case len(s.PayoutBlockers) > 0:
		return StatusBlocked
	default:
		return StatusPending
	}
}

// =============================================================================
// PREVIEW
// =============================================================================

// ComputePreview returns a side-effect-free earnings estimate. For a paid
// settlement it returns the stored values without invoking any resolver; for
// a settlement whose multiplier or currency is already snapshotted it honors
// the snapshot.
func (e *Engine) ComputePreview(ctx context.Context, id SettlementID) (*Preview, error) {
	s, err := e.Store.GetSettlement(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.Status == StatusPaid {
		return &Preview{
			SettlementID: s.ID,
			Tier:         s.TierApplied,
			Multiplier:   s.RateMultiplierApplied,
			BaseCents:    s.PayoutBaseCents,
			BonusCents:   s.PayoutBonusCents,
			AmountCents:  s.PayoutAmountCents,
			Breakdown:    s.BonusBreakdown,
			Currency:     s.PayoutCurrency,
			FxRate:       s.PayoutFxRate,
		}, nil
	}

	cfg := e.Config.Current()
	w, err := e.Store.GetWorker(ctx, s.WorkerID)
	if err != nil {
		return nil, err
	}

	tier, mult, overridden := e.snapshotTier(ctx, cfg, s, w)
	base := applyMultiplier(s.BaseRateCents, mult)
	bonus, lines := e.computeBonus(ctx, cfg, w, base, s.Status, false)

	lock := CurrencyLock{Code: s.PayoutCurrency, Rate: s.PayoutFxRate}
	if !s.CurrencyLocked() {
		lock = e.lockCurrency(ctx, cfg, w)
	}

	return &Preview{
		SettlementID: s.ID,
		Tier:         tier,
		Multiplier:   mult,
		Overridden:   overridden,
		BaseCents:    base,
		BonusCents:   bonus,
		AmountCents:  base + bonus,
		Breakdown:    lines,
		Currency:     lock.Code,
		FxRate:       lock.Rate,
	}, nil
}

// =============================================================================
// RELEASE
// =============================================================================

// AttemptRelease runs the computation sequence and, if every entry condition
// holds, requests a transfer. It is the only mutating entry point; calling
// it on a paid settlement is a no-op that returns the stored record.
func (e *Engine) AttemptRelease(ctx context.Context, id SettlementID, triggeredBy string) (*ReleaseResult, error) {
	s, err := e.Store.GetSettlement(ctx, id)
	if err != nil {
		return nil, err
	}

	// Paid is terminal. Return the persisted record without invoking any
	// resolver; this branch is what makes "never change after paid"
	// structural rather than a convention resolvers must each honor.
	if s.Status == StatusPaid {
		return releaseResult(s), nil
	}

	cfg := e.Config.Current()
	w, err := e.Store.GetWorker(ctx, s.WorkerID)
	if err != nil {
		return nil, err
	}

	// Computation sequence. The tier multiplier and currency lock are
	// captured once per settlement; re-releasing a blocked settlement
	// reuses the snapshots even if the worker's tier or the rate table
	// changed since.
	tier, mult, _ := e.snapshotTier(ctx, cfg, s, w)
	s.TierApplied = tier
	s.RateMultiplierApplied = mult
	s.PayoutBaseCents = applyMultiplier(s.BaseRateCents, mult)

	bonus, lines := e.computeBonus(ctx, cfg, w, s.PayoutBaseCents, s.Status, false)
	s.PayoutBonusCents = bonus
	s.BonusBreakdown = lines
	s.PayoutAmountCents = s.PayoutBaseCents + s.PayoutBonusCents

	if !s.CurrencyLocked() {
		lock := e.lockCurrency(ctx, cfg, w)
		s.PayoutCurrency = lock.Code
		s.PayoutFxRate = lock.Rate
	}

	// Entry conditions.
	if s.JobCompletedAt == nil {
		// Not owed yet: keep not_applicable, persist the computed amounts,
		// surface the reason without recording a structural blocker.
		s.Status = StatusNotApplicable
		if err := e.persistUnpaid(ctx, s, "release"); err != nil {
			return nil, err
		}
		res := releaseResult(s)
		res.Blockers = []string{BlockerCompletionMissing}
		return res, nil
	}

	if s.PayoutHold {
		// Manual hold wins over everything; the processor is not contacted.
		s.Status = StatusOnHold
		if err := e.persistUnpaid(ctx, s, "release"); err != nil {
			return nil, err
		}
		e.appendEvent(ctx, id, triggeredBy, EventReleaseAttempted, "held: "+s.PayoutHoldReason)
		return releaseResult(s), nil
	}

	// Structural blockers, re-evaluated on each explicit release request.
	var blockers []string
	if w.PayoutAccountID == "" {
		blockers = append(blockers, BlockerNoDestination)
	}
	if s.PayoutAmountCents <= 0 {
		blockers = append(blockers, BlockerNonPositiveAmount)
	}
	if len(blockers) > 0 {
		s.PayoutBlockers = blockers
		s.Status = StatusBlocked
		if err := e.persistUnpaid(ctx, s, "release"); err != nil {
			return nil, err
		}
		e.appendEvent(ctx, id, triggeredBy, EventBlocked, joinReasons(blockers))
		return releaseResult(s), nil
	}

	// All conditions hold: one transfer request, deterministic key.
	s.PayoutBlockers = nil
	result, terr := e.requestTransfer(ctx, s, w, cfg)
	now := e.now()

	switch {
	case terr == nil:
		s.Status = StatusPaid
		s.PaidAt = &now
		s.ExternalTransferID = result.TransferID
		s.UpdatedAt = now

		ok, uerr := e.Store.UpdateUnpaid(ctx, *s)
		if uerr != nil {
			return nil, uerr
		}
		if !ok {
			// A concurrent release won the compare-and-swap. The processor
			// collapsed both requests onto one transfer, so the stored
			// record carries the same transfer id we just observed.
			stored, gerr := e.Store.GetSettlement(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			return releaseResult(stored), nil
		}
		e.appendEvent(ctx, id, triggeredBy, EventPaid, "transfer "+result.TransferID)
		return releaseResult(s), nil

	case errors.Is(terr, ErrTransferUnverified) || errors.Is(terr, context.DeadlineExceeded):
		// Outcome unknown. Never interpret as paid: the transfer may have
		// happened, and re-release is safe because the key is stable.
		s.Status = StatusBlocked
		s.PayoutBlockers = appendReason(s.PayoutBlockers, BlockerPendingVerification)

	default:
		s.Status = StatusBlocked
		s.PayoutBlockers = appendReason(s.PayoutBlockers, terr.Error())
	}

	if err := e.persistUnpaid(ctx, s, "release"); err != nil {
		return nil, err
	}
	e.appendEvent(ctx, id, triggeredBy, EventBlocked, joinReasons(s.PayoutBlockers))
	return releaseResult(s), nil
}

func (e *Engine) requestTransfer(ctx context.Context, s *Settlement, w *WorkerProfile, cfg Config) (*TransferResult, error) {
	timeout := e.TransferTimeout
	if timeout <= 0 {
		timeout = DefaultTransferTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.appendEvent(ctx, s.ID, "system", EventTransferRequested, TransferKey(s.ID))
	return e.Processor.CreateTransfer(tctx, TransferRequest{
		IdempotencyKey:     TransferKey(s.ID),
		AmountCents:        s.PayoutAmountCents,
		Currency:           cfg.BaseCurrency,
		DestinationAccount: w.PayoutAccountID,
	})
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// snapshotTier returns the settlement's tier and multiplier, resolving them
// only if not yet captured on the record.
func (e *Engine) snapshotTier(ctx context.Context, cfg Config, s *Settlement, w *WorkerProfile) (Tier, decimal.Decimal, bool) {
	if s.Computed() {
		return s.TierApplied, s.RateMultiplierApplied, false
	}
	tr := e.resolveTier(ctx, cfg, w)
	return tr.Tier, tr.Multiplier, tr.Overridden
}

// mutableSettlement loads a settlement and rejects mutation of a paid one.
// Hitting the paid guard indicates a bug in the caller and is logged loudly.
func (e *Engine) mutableSettlement(ctx context.Context, id SettlementID, op string) (*Settlement, error) {
	s, err := e.Store.GetSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusPaid {
		e.log().Error("post-paid mutation attempt rejected",
			"settlement_id", id, "operation", op)
		return nil, ErrAlreadyPaid
	}
	return s, nil
}

// persistUnpaid writes the record through the CAS guard. A guard failure
// here means a concurrent invocation paid the settlement between our read
// and write; surface it as the paid invariant. The hold columns are not in
// the write set: the store keeps the stored hold, so this can never erase
// one set concurrently by an administrator.
func (e *Engine) persistUnpaid(ctx context.Context, s *Settlement, op string) error {
	s.UpdatedAt = e.now()
	ok, err := e.Store.UpdateUnpaid(ctx, *s)
	if err != nil {
		return err
	}
	if !ok {
		e.log().Error("post-paid mutation attempt rejected by store",
			"settlement_id", s.ID, "operation", op)
		return ErrAlreadyPaid
	}
	return nil
}

func (e *Engine) appendEvent(ctx context.Context, id SettlementID, actor string, action EventAction, detail string) {
	err := e.Store.AppendEvent(ctx, SettlementEvent{
		ID:           uuid.NewString(),
		SettlementID: id,
		Actor:        actor,
		Action:       action,
		Detail:       detail,
		CreatedAt:    e.now(),
	})
	if err != nil {
		e.log().Warn("failed to append settlement event",
			"settlement_id", id, "action", action, "error", err)
	}
}

func applyMultiplier(cents int64, mult decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(mult).Round(0).IntPart()
}

func releaseResult(s *Settlement) *ReleaseResult {
	return &ReleaseResult{
		Settlement: *s,
		Status:     s.Status,
		Blockers:   s.PayoutBlockers,
		TransferID: s.ExternalTransferID,
	}
}

func appendReason(reasons []string, reason string) []string {
	for _, r := range reasons {
		if r == reason {
			return reasons
		}
	}
	return append(reasons, reason)
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
