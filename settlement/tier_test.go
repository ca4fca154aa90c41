package settlement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tablecraft/payout-engine/settlement"
)

// =============================================================================
// COMPUTED TIER TESTS
// =============================================================================

func TestResolveTier_NoSignals_Standard(t *testing.T) {
	// GIVEN: A chef with no badges and no history
	// WHEN: Resolving the tier
	// THEN: Standard at 1.00

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")

	res, err := e.engine.ResolveTier(context.Background(), "chef-1")
	require.NoError(t, err)

	assert.Equal(t, settlement.TierStandard, res.Tier)
	assert.Equal(t, "1", res.Multiplier.String())
	assert.False(t, res.Overridden)
}

func TestResolveTier_CertifiedWithGoodOnTime_Pro(t *testing.T) {
	// GIVEN: Certified badge and 0.92 on-time over the trailing window
	// WHEN: Resolving the tier
	// THEN: Pro at 1.10

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	e.signals.BadgeSet["chef-1"] = map[string]bool{"Certified": true}
	e.signals.Ratios["chef-1"] = 0.92

	res, err := e.engine.ResolveTier(context.Background(), "chef-1")
	require.NoError(t, err)

	assert.Equal(t, settlement.TierPro, res.Tier)
	assert.Equal(t, "1.1", res.Multiplier.String())
}

func TestResolveTier_BadgeWithoutOnTime_Standard(t *testing.T) {
	// Certified alone is not enough: on-time 0.85 misses the 0.90 bar.

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	e.signals.BadgeSet["chef-1"] = map[string]bool{"Certified": true}
	e.signals.Ratios["chef-1"] = 0.85

	res, err := e.engine.ResolveTier(context.Background(), "chef-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.TierStandard, res.Tier)
}

func TestResolveTier_OnTimeWithoutBadge_Standard(t *testing.T) {
	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	e.signals.Ratios["chef-1"] = 0.99

	res, err := e.engine.ResolveTier(context.Background(), "chef-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.TierStandard, res.Tier)
}

func TestResolveTier_BoundaryRatio_CountsAsPro(t *testing.T) {
	// Exactly 0.90 meets the Pro threshold (>=, not >).

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	e.signals.BadgeSet["chef-1"] = map[string]bool{"Certified": true}
	e.signals.Ratios["chef-1"] = 0.90

	res, err := e.engine.ResolveTier(context.Background(), "chef-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.TierPro, res.Tier)
}

func TestResolveTier_AllEliteConditions_Elite(t *testing.T) {
	// GIVEN: Certified + Prep Perfect badges and 0.97 on-time
	// WHEN: Resolving the tier
	// THEN: Elite at 1.20

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	e.signals.BadgeSet["chef-1"] = map[string]bool{"Certified": true, "Prep Perfect": true}
	e.signals.Ratios["chef-1"] = 0.97

	res, err := e.engine.ResolveTier(context.Background(), "chef-1")
	require.NoError(t, err)

	assert.Equal(t, settlement.TierElite, res.Tier)
	assert.Equal(t, "1.2", res.Multiplier.String())
}

func TestResolveTier_EliteRatioShortfall_StaysPro(t *testing.T) {
	// Both badges but 0.92 on-time: clears the Pro bar, misses the Elite bar.

	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	e.signals.BadgeSet["chef-1"] = map[string]bool{"Certified": true, "Prep Perfect": true}
	e.signals.Ratios["chef-1"] = 0.92

	res, err := e.engine.ResolveTier(context.Background(), "chef-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.TierPro, res.Tier)
}

// =============================================================================
// OVERRIDE AND KILL SWITCH
// =============================================================================

func TestResolveTier_AdminOverrideWins(t *testing.T) {
	// GIVEN: A chef whose signals say Standard but an admin override says Elite
	// WHEN: Resolving the tier
	// THEN: Elite, marked as overridden; signals are irrelevant

	e := defaultEnv()
	elite := settlement.TierElite
	require.NoError(t, e.store.SaveWorker(context.Background(), settlement.WorkerProfile{
		ID: "chef-1", Name: "chef-1", Role: "chef", TierOverride: &elite,
	}))

	res, err := e.engine.ResolveTier(context.Background(), "chef-1")
	require.NoError(t, err)

	assert.Equal(t, settlement.TierElite, res.Tier)
	assert.Equal(t, "1.2", res.Multiplier.String())
	assert.True(t, res.Overridden)
}

func TestResolveTier_KillSwitch_ReportsTierPaysStandard(t *testing.T) {
	// GIVEN: TierRatesEnabled=false and a chef who qualifies for Pro
	// WHEN: Resolving the tier
	// THEN: Reported tier stays Pro, multiplier is forced to 1.00

	cfg := settlement.DefaultConfig()
	cfg.Flags.TierRatesEnabled = false
	e := newEnv(cfg)
	e.addWorker(t, "chef-1", "acct_1")
	e.signals.BadgeSet["chef-1"] = map[string]bool{"Certified": true}
	e.signals.Ratios["chef-1"] = 0.92

	res, err := e.engine.ResolveTier(context.Background(), "chef-1")
	require.NoError(t, err)

	assert.Equal(t, settlement.TierPro, res.Tier)
	assert.Equal(t, "1", res.Multiplier.String())
}

// =============================================================================
// DEGRADATION
// =============================================================================

func TestResolveTier_SignalsOutage_Standard(t *testing.T) {
	e := defaultEnv()
	e.addWorker(t, "chef-1", "acct_1")
	e.makeProChef("chef-1")
	e.signals.Err = errors.New("badge service 503")

	res, err := e.engine.ResolveTier(context.Background(), "chef-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.TierStandard, res.Tier)
}

func TestResolveTier_UnknownWorker(t *testing.T) {
	e := defaultEnv()

	_, err := e.engine.ResolveTier(context.Background(), "ghost")
	assert.ErrorIs(t, err, settlement.ErrWorkerNotFound)
}
