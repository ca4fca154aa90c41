/*
tier.go - Performance tier resolution

PURPOSE:
  Converts eligibility signals plus an optional admin override into an
  effective tier and its payout rate multiplier.

RESOLUTION ORDER:
  1. Admin override on the worker profile (wins immediately)
  2. Computed from signals:
       Pro:   "Certified" badge AND on-time >= 90% over trailing 10 jobs
       Elite: all Pro conditions AND "Prep Perfect" badge AND
              on-time >= 95% over trailing 20 jobs
  3. Standard otherwise

KILL SWITCH:
  Flags.TierRatesEnabled=false forces multiplier 1.00 for every tier while
  leaving the REPORTED tier unchanged, so a staged rollout can be observed
  without moving money differently.

DEGRADATION:
  Signals outage resolves to Standard. Tiering never blocks a payout.

SNAPSHOT RULE:
  The gate captures the multiplier once per settlement (gate.go). This file
  only answers "what tier is this worker right now".
*/
package settlement

import (
	"context"

	"github.com/shopspring/decimal"
)

// ResolveTier resolves the worker's effective tier and multiplier using the
// current configuration. The only possible error is an unknown worker.
func (e *Engine) ResolveTier(ctx context.Context, workerID WorkerID) (TierResult, error) {
	w, err := e.Store.GetWorker(ctx, workerID)
	if err != nil {
		return TierResult{}, err
	}
	return e.resolveTier(ctx, e.Config.Current(), w), nil
}

func (e *Engine) resolveTier(ctx context.Context, cfg Config, w *WorkerProfile) TierResult {
	res := TierResult{Tier: TierStandard}

	if w.TierOverride != nil && w.TierOverride.Valid() {
		res.Tier = *w.TierOverride
		res.Overridden = true
	} else {
		res.Tier = e.computedTier(ctx, cfg, w.ID)
	}

	res.Multiplier = res.Tier.Multiplier()
	if !cfg.Flags.TierRatesEnabled {
		// Reported tier stays; only the money moves at 1.00.
		res.Multiplier = decimal.NewFromInt(1)
	}
	return res
}

// computedTier is the pure fallback path: signals in, tier out. Any provider
// failure degrades to Standard.
func (e *Engine) computedTier(ctx context.Context, cfg Config, id WorkerID) Tier {
	badges, err := e.Signals.Badges(ctx, id)
	if err != nil {
		e.log().Warn("eligibility signals unavailable, resolving to standard tier",
			"worker_id", id, "error", err)
		return TierStandard
	}

	rules := cfg.Tiers
	if !badges[rules.ProBadge] {
		return TierStandard
	}
	if !e.ratioAtLeast(ctx, id, rules.ProWindow, rules.ProMinOnTime) {
		return TierStandard
	}

	// Pro conditions hold; check Elite on top.
	if badges[rules.EliteBadge] && e.ratioAtLeast(ctx, id, rules.EliteWindow, rules.EliteMinOnTime) {
		return TierElite
	}
	return TierPro
}

func (e *Engine) ratioAtLeast(ctx context.Context, id WorkerID, window int, min decimal.Decimal) bool {
	ratio, ok, err := e.Signals.OnTimeRatio(ctx, id, window)
	if err != nil || !ok {
		return false
	}
	return decimal.NewFromFloat(ratio).GreaterThanOrEqual(min)
}
