package settlement_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tablecraft/payout-engine/settlement"
	"github.com/tablecraft/payout-engine/settlement/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type env struct {
	engine    *settlement.Engine
	store     *store.Memory
	signals   *settlement.StaticSignals
	processor *settlement.FakeProcessor
	config    settlement.Config
}

func newEnv(cfg settlement.Config) *env {
	st := store.NewMemory()
	signals := &settlement.StaticSignals{
		BadgeSet: make(map[settlement.WorkerID]map[string]bool),
		Trained:  make(map[settlement.WorkerID]bool),
		Ratios:   make(map[settlement.WorkerID]float64),
	}
	processor := settlement.NewFakeProcessor()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &env{
		engine:    settlement.NewEngine(st, signals, processor, settlement.Static(cfg), logger),
		store:     st,
		signals:   signals,
		processor: processor,
		config:    cfg,
	}
}

func defaultEnv() *env {
	return newEnv(settlement.DefaultConfig())
}

func (e *env) addWorker(t *testing.T, id settlement.WorkerID, account string) {
	t.Helper()
	err := e.store.SaveWorker(context.Background(), settlement.WorkerProfile{
		ID:              id,
		Name:            string(id),
		Role:            "chef",
		PayoutAccountID: account,
	})
	require.NoError(t, err)
}

// newSettlement creates a settlement record for the worker.
func (e *env) newSettlement(t *testing.T, workerID settlement.WorkerID, jobID string, baseCents int64) *settlement.Settlement {
	t.Helper()
	s, err := e.engine.CreateSettlement(context.Background(), settlement.CreateParams{
		WorkerID:        workerID,
		JobID:           jobID,
		QuoteTotalCents: baseCents + baseCents/4,
		BaseRateCents:   baseCents,
	})
	require.NoError(t, err)
	return s
}

// completedSettlement creates a settlement and records job completion.
func (e *env) completedSettlement(t *testing.T, workerID settlement.WorkerID, jobID string, baseCents int64) *settlement.Settlement {
	t.Helper()
	s := e.newSettlement(t, workerID, jobID, baseCents)
	s, err := e.engine.RecordCompletion(context.Background(), s.ID, "worker")
	require.NoError(t, err)
	return s
}

// makeProChef gives the worker the signals for Pro tier with a 7% badge bonus
// (Certified +2, On-Time Excellence +5).
func (e *env) makeProChef(id settlement.WorkerID) {
	e.signals.BadgeSet[id] = map[string]bool{
		"Certified":          true,
		"On-Time Excellence": true,
	}
	e.signals.Trained[id] = true
	e.signals.Ratios[id] = 0.92
}

// =============================================================================
// RECORD CREATION
// =============================================================================

func TestCreateSettlement_RejectsNonPositiveAmounts(t *testing.T) {
	// GIVEN: A known worker
	// WHEN: Creating a settlement with a zero or negative base
	// THEN: Rejected synchronously with ErrInvalidAmount, nothing stored

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	ctx := context.Background()

	_, err := e.engine.CreateSettlement(ctx, settlement.CreateParams{
		WorkerID: "chef-1", JobID: "job-1", QuoteTotalCents: 1000, BaseRateCents: 0,
	})
	assert.ErrorIs(t, err, settlement.ErrInvalidAmount)

	_, err = e.engine.CreateSettlement(ctx, settlement.CreateParams{
		WorkerID: "chef-1", JobID: "job-1", QuoteTotalCents: -5, BaseRateCents: 1000,
	})
	assert.ErrorIs(t, err, settlement.ErrInvalidAmount)

	all, err := e.store.ListSettlements(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateSettlement_UnknownWorker(t *testing.T) {
	e := defaultEnv()

	_, err := e.engine.CreateSettlement(context.Background(), settlement.CreateParams{
		WorkerID: "ghost", JobID: "job-1", QuoteTotalCents: 1000, BaseRateCents: 800,
	})
	assert.ErrorIs(t, err, settlement.ErrWorkerNotFound)
}

func TestCreateSettlement_OnePerJob(t *testing.T) {
	// GIVEN: A settlement already exists for job-1
	// WHEN: Creating another settlement for the same job
	// THEN: Rejected with ErrDuplicateSettlement

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	e.newSettlement(t, "chef-1", "job-1", 10000)

	_, err := e.engine.CreateSettlement(context.Background(), settlement.CreateParams{
		WorkerID: "chef-1", JobID: "job-1", QuoteTotalCents: 1000, BaseRateCents: 800,
	})
	assert.ErrorIs(t, err, settlement.ErrDuplicateSettlement)
}

func TestRecordCompletion_MovesToPending(t *testing.T) {
	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	s := e.newSettlement(t, "chef-1", "job-1", 10000)
	require.Equal(t, settlement.StatusNotApplicable, s.Status)

	s, err := e.engine.RecordCompletion(context.Background(), s.ID, "worker")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusPending, s.Status)
	assert.NotNil(t, s.JobCompletedAt)
	assert.Equal(t, "worker", s.JobCompletedBy)
}

// =============================================================================
// RELEASE: HAPPY PATH
// =============================================================================

func TestAttemptRelease_ProChef_PaysTierAndBonus(t *testing.T) {
	// GIVEN: A Certified chef at 0.92 on-time with a completed 10000-cent job
	// WHEN: Releasing the payout
	// THEN: Base 11000 (1.10x), bonus 770 (7% of 11000), paid via one transfer

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	e.makeProChef("chef-1")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)

	res, err := e.engine.AttemptRelease(context.Background(), s.ID, "admin")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusPaid, res.Status)
	assert.Equal(t, settlement.TierPro, res.Settlement.TierApplied)
	assert.Equal(t, "1.1", res.Settlement.RateMultiplierApplied.String())
	assert.Equal(t, int64(11000), res.Settlement.PayoutBaseCents)
	assert.Equal(t, int64(770), res.Settlement.PayoutBonusCents)
	assert.Equal(t, int64(11770), res.Settlement.PayoutAmountCents)
	assert.Len(t, res.Settlement.BonusBreakdown, 2)
	assert.NotEmpty(t, res.TransferID)
	assert.NotNil(t, res.Settlement.PaidAt)
	assert.Equal(t, 1, e.processor.TransferCount())
}

func TestAttemptRelease_PaidIsTerminal(t *testing.T) {
	// GIVEN: An already-paid settlement
	// WHEN: Releasing again
	// THEN: No-op returning the stored record; no second transfer

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)
	ctx := context.Background()

	first, err := e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, settlement.StatusPaid, first.Status)
	callsAfterFirst := e.processor.Calls()

	second, err := e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusPaid, second.Status)
	assert.Equal(t, first.TransferID, second.TransferID)
	assert.Equal(t, first.Settlement.PayoutAmountCents, second.Settlement.PayoutAmountCents)
	assert.Equal(t, callsAfterFirst, e.processor.Calls(), "processor must not be contacted again")
}

// =============================================================================
// RELEASE: ENTRY CONDITIONS
// =============================================================================

func TestAttemptRelease_CompletionMissing(t *testing.T) {
	// GIVEN: A settlement whose job completion was never recorded
	// WHEN: Releasing
	// THEN: Stays not_applicable, amounts computed, no transfer

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	s := e.newSettlement(t, "chef-1", "job-1", 10000)

	res, err := e.engine.AttemptRelease(context.Background(), s.ID, "admin")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusNotApplicable, res.Status)
	assert.Contains(t, res.Blockers, settlement.BlockerCompletionMissing)
	assert.Equal(t, int64(10000), res.Settlement.PayoutAmountCents)
	assert.Zero(t, e.processor.Calls())
}

func TestAttemptRelease_HoldWins(t *testing.T) {
	// GIVEN: A completed settlement with an admin hold
	// WHEN: Releasing
	// THEN: on_hold; the processor is never contacted

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)
	ctx := context.Background()

	_, err := e.engine.SetHold(ctx, s.ID, true, "complaint under review", "admin")
	require.NoError(t, err)

	res, err := e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusOnHold, res.Status)
	assert.Zero(t, e.processor.Calls())

	// Releasing the hold returns the settlement to pending; it does not pay.
	held, err := e.engine.SetHold(ctx, s.ID, false, "", "admin")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPending, held.Status)
	assert.Zero(t, e.processor.Calls())
}

// holdMidTransfer wraps a processor and runs a callback before delegating,
// simulating an administrator acting while the transfer request is in flight.
type holdMidTransfer struct {
	inner  settlement.PaymentProcessor
	before func()
}

func (p *holdMidTransfer) CreateTransfer(ctx context.Context, req settlement.TransferRequest) (*settlement.TransferResult, error) {
	p.before()
	return p.inner.CreateTransfer(ctx, req)
}

func TestSetHold_DuringRelease_SurvivesPipelineWrite(t *testing.T) {
	// GIVEN: A release whose transfer fails, with an admin setting a hold
	//        while the transfer request is in flight
	// WHEN: The release's failure write lands after the hold
	// THEN: The hold and its reason survive the write; later releases stay
	//       on_hold and never pay

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)
	ctx := context.Background()

	e.processor.FailWith = &settlement.TransferError{Reason: "provider outage"}
	e.engine.Processor = &holdMidTransfer{inner: e.processor, before: func() {
		_, err := e.engine.SetHold(ctx, s.ID, true, "fraud review", "admin")
		require.NoError(t, err)
	}}

	_, err := e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)

	stored, err := e.store.GetSettlement(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, stored.PayoutHold, "hold set during release must survive the release's write")
	assert.Equal(t, "fraud review", stored.PayoutHoldReason)
	assert.Equal(t, settlement.StatusOnHold, stored.Status)

	// The hold still wins even with a recovered processor.
	e.processor.FailWith = nil
	res, err := e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusOnHold, res.Status)
	assert.Zero(t, e.processor.TransferCount())
	assert.Nil(t, res.Settlement.PaidAt)
}

func TestAttemptRelease_NoDestination_Blocks(t *testing.T) {
	// GIVEN: A completed settlement for a chef with no payout account
	// WHEN: Releasing
	// THEN: blocked with a destination blocker; remediation + re-release pays

	e := defaultEnv()
	e.addWorker(t, "chef-1", "")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)
	ctx := context.Background()

	res, err := e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusBlocked, res.Status)
	assert.Contains(t, res.Blockers, settlement.BlockerNoDestination)
	assert.Zero(t, e.processor.Calls())

	// Admin fixes the account and clears blockers.
	e.addWorker(t, "chef-1", "acct_fixed")
	cleared, err := e.engine.ClearBlockers(ctx, s.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPending, cleared.Status)

	res, err = e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPaid, res.Status)
}

// =============================================================================
// RELEASE: TRANSFER OUTCOMES
// =============================================================================

func TestAttemptRelease_UnverifiedTransfer_NeverPaid(t *testing.T) {
	// GIVEN: A processor whose transfer outcome is unknown
	// WHEN: Releasing
	// THEN: blocked pending verification, never paid; a later release with a
	//       recovered processor pays with the same idempotency key

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)
	ctx := context.Background()

	e.processor.FailWith = settlement.ErrTransferUnverified
	res, err := e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusBlocked, res.Status)
	assert.Contains(t, res.Blockers, settlement.BlockerPendingVerification)
	assert.Nil(t, res.Settlement.PaidAt)

	e.processor.FailWith = nil
	res, err = e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPaid, res.Status)
	assert.Equal(t, 1, e.processor.TransferCount())
}

func TestAttemptRelease_TransferFailure_RecordsReason(t *testing.T) {
	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)

	e.processor.FailWith = &settlement.TransferError{Reason: "destination account closed"}
	res, err := e.engine.AttemptRelease(context.Background(), s.ID, "admin")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusBlocked, res.Status)
	assert.Contains(t, res.Blockers, "transfer failed: destination account closed")
}

// =============================================================================
// SNAPSHOT RULE
// =============================================================================

func TestAttemptRelease_MultiplierSnapshotSurvivesTierChange(t *testing.T) {
	// GIVEN: A Pro chef whose first release blocked (no destination), which
	//        snapshotted the 1.10 multiplier
	// WHEN: The chef's signals later qualify for Elite and release is retried
	// THEN: The payout still uses the snapshotted Pro multiplier

	e := defaultEnv()
	e.addWorker(t, "chef-1", "")
	e.makeProChef("chef-1")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)
	ctx := context.Background()

	res, err := e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, settlement.StatusBlocked, res.Status)
	require.Equal(t, settlement.TierPro, res.Settlement.TierApplied)

	// Signals now say Elite.
	e.signals.BadgeSet["chef-1"]["Prep Perfect"] = true
	e.signals.Ratios["chef-1"] = 0.97
	e.addWorker(t, "chef-1", "acct_late")
	_, err = e.engine.ClearBlockers(ctx, s.ID, "admin")
	require.NoError(t, err)

	res, err = e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusPaid, res.Status)
	assert.Equal(t, settlement.TierPro, res.Settlement.TierApplied)
	assert.Equal(t, int64(11000), res.Settlement.PayoutBaseCents)
}

func TestAttemptRelease_CurrencyLockSurvivesRateChange(t *testing.T) {
	// GIVEN: A EUR-preferring chef whose first (blocked) release locked 0.91
	// WHEN: The rate table changes and release is retried
	// THEN: The settlement still carries the locked 0.91

	e := defaultEnv()
	ctx := context.Background()
	require.NoError(t, e.store.SaveWorker(ctx, settlement.WorkerProfile{
		ID: "chef-1", Name: "chef-1", Role: "chef", PreferredCurrency: "EUR",
	}))
	require.NoError(t, e.store.SaveRate(ctx, settlement.CurrencyRate{
		From: "USD", To: "EUR", Rate: dec(t, "0.91"),
	}))
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)

	res, err := e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, settlement.StatusBlocked, res.Status)
	require.Equal(t, "EUR", res.Settlement.PayoutCurrency)
	require.Equal(t, "0.91", res.Settlement.PayoutFxRate.String())

	require.NoError(t, e.store.SaveRate(ctx, settlement.CurrencyRate{
		From: "USD", To: "EUR", Rate: dec(t, "0.80"),
	}))
	require.NoError(t, e.store.SaveWorker(ctx, settlement.WorkerProfile{
		ID: "chef-1", Name: "chef-1", Role: "chef", PreferredCurrency: "EUR",
		PayoutAccountID: "acct_late",
	}))
	_, err = e.engine.ClearBlockers(ctx, s.ID, "admin")
	require.NoError(t, err)

	res, err = e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusPaid, res.Status)
	assert.Equal(t, "0.91", res.Settlement.PayoutFxRate.String())
}

// =============================================================================
// PAID IMMUTABILITY
// =============================================================================

func TestPaidSettlement_RejectsMutation(t *testing.T) {
	// GIVEN: A paid settlement
	// WHEN: Any mutating operation targets it
	// THEN: ErrAlreadyPaid; the stored record is untouched

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)
	ctx := context.Background()

	res, err := e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, settlement.StatusPaid, res.Status)

	_, err = e.engine.SetHold(ctx, s.ID, true, "too late", "admin")
	assert.ErrorIs(t, err, settlement.ErrAlreadyPaid)

	_, err = e.engine.RecordCompletion(ctx, s.ID, "admin")
	assert.ErrorIs(t, err, settlement.ErrAlreadyPaid)

	_, err = e.engine.ClearBlockers(ctx, s.ID, "admin")
	assert.ErrorIs(t, err, settlement.ErrAlreadyPaid)

	stored, err := e.store.GetSettlement(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPaid, stored.Status)
	assert.False(t, stored.PayoutHold)
}

// =============================================================================
// DEGRADATION
// =============================================================================

func TestAttemptRelease_SignalsOutage_PaysStandard(t *testing.T) {
	// GIVEN: The eligibility provider is down
	// WHEN: Releasing a completed settlement
	// THEN: Pays at Standard with zero bonus; the outage never blocks money

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	e.makeProChef("chef-1")
	e.signals.Err = errors.New("upstream unavailable")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)

	res, err := e.engine.AttemptRelease(context.Background(), s.ID, "admin")
	require.NoError(t, err)

	assert.Equal(t, settlement.StatusPaid, res.Status)
	assert.Equal(t, settlement.TierStandard, res.Settlement.TierApplied)
	assert.Equal(t, int64(10000), res.Settlement.PayoutBaseCents)
	assert.Zero(t, res.Settlement.PayoutBonusCents)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestAttemptRelease_Concurrent_ExactlyOneTransfer(t *testing.T) {
	// GIVEN: A completed settlement
	// WHEN: Many goroutines release it simultaneously
	// THEN: Exactly one real transfer exists and every caller observes the
	//       same transfer id

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)
	ctx := context.Background()

	const n = 16
	results := make([]*settlement.ReleaseResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.engine.AttemptRelease(ctx, s.ID, "admin")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, e.processor.TransferCount())

	var transferID string
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, settlement.StatusPaid, results[i].Status)
		if transferID == "" {
			transferID = results[i].TransferID
		}
		assert.Equal(t, transferID, results[i].TransferID)
	}

	stored, err := e.store.GetSettlement(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, transferID, stored.ExternalTransferID)
}

// =============================================================================
// PREVIEW
// =============================================================================

func TestComputePreview_NoSideEffects(t *testing.T) {
	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	e.makeProChef("chef-1")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)
	ctx := context.Background()

	p, err := e.engine.ComputePreview(ctx, s.ID)
	require.NoError(t, err)

	assert.Equal(t, settlement.TierPro, p.Tier)
	assert.Equal(t, int64(11000), p.BaseCents)
	assert.Equal(t, int64(770), p.BonusCents)
	assert.Equal(t, int64(11770), p.AmountCents)
	assert.Len(t, p.Breakdown, 2)

	// The record itself is untouched.
	stored, err := e.store.GetSettlement(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.Computed())
	assert.Zero(t, e.processor.Calls())
}

func TestComputePreview_PaidUsesStoredValues(t *testing.T) {
	// GIVEN: A paid settlement and signals that have since changed
	// WHEN: Previewing
	// THEN: The stored amounts come back; no resolver runs

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	e.makeProChef("chef-1")
	s := e.completedSettlement(t, "chef-1", "job-1", 10000)
	ctx := context.Background()

	res, err := e.engine.AttemptRelease(ctx, s.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, settlement.StatusPaid, res.Status)

	e.signals.Err = errors.New("signals gone")
	p, err := e.engine.ComputePreview(ctx, s.ID)
	require.NoError(t, err)

	assert.Equal(t, settlement.TierPro, p.Tier)
	assert.Equal(t, int64(11770), p.AmountCents)

	// The per-badge breakdown was snapshotted with the payout, so statements
	// for paid settlements still itemize the bonus.
	require.Len(t, p.Breakdown, 2)
	assert.Equal(t, "On-Time Excellence", p.Breakdown[0].Badge)
	assert.Equal(t, "Certified", p.Breakdown[1].Badge)
}
