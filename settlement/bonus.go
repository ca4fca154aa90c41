/*
bonus.go - Capped, eligibility-gated badge bonus

PURPOSE:
  Converts eligibility signals into a bonus on top of the tier-adjusted
  base. Pure given its inputs: same signals + same base + same status =
  same bonus, so it is safe to call repeatedly for previews.

ZERO-BONUS GATES (any one suffices):
  - base amount <= 0
  - settlement already paid (no retroactive bonus changes)
  - global bonus kill switch off
  - explicit admin bypass requested
  - required training not complete
  - signals unavailable (degrade, don't block)

CALCULATION:
  Sum the configured per-badge percentages, cap the sum at BonusCapPct
  (10% by default), then bonusCents = round(base * cappedPct / 100).
  The breakdown lists each contributing badge for worker statements.
*/
package settlement

import (
	"context"

	"github.com/shopspring/decimal"
)

// ComputeBonus computes the bonus for a worker against a tier-adjusted base
// amount. The only possible error is an unknown worker; every other failure
// degrades to a zero bonus.
func (e *Engine) ComputeBonus(ctx context.Context, workerID WorkerID, baseCents int64, status Status, overrideRequested bool) (int64, []BonusLine, error) {
	w, err := e.Store.GetWorker(ctx, workerID)
	if err != nil {
		return 0, nil, err
	}
	cents, lines := e.computeBonus(ctx, e.Config.Current(), w, baseCents, status, overrideRequested)
	return cents, lines, nil
}

func (e *Engine) computeBonus(ctx context.Context, cfg Config, w *WorkerProfile, baseCents int64, status Status, overrideRequested bool) (int64, []BonusLine) {
	if baseCents <= 0 || status == StatusPaid || !cfg.Flags.BonusEnabled || overrideRequested {
		return 0, nil
	}

	trained, err := e.Signals.TrainingComplete(ctx, w.ID, w.Role)
	if err != nil {
		e.log().Warn("training signal unavailable, bonus degraded to zero",
			"worker_id", w.ID, "error", err)
		return 0, nil
	}
	if !trained {
		return 0, nil
	}

	badges, err := e.Signals.Badges(ctx, w.ID)
	if err != nil {
		e.log().Warn("badge signals unavailable, bonus degraded to zero",
			"worker_id", w.ID, "error", err)
		return 0, nil
	}

	var lines []BonusLine
	pct := decimal.Zero
	for _, rule := range cfg.BonusRules {
		if !badges[rule.Badge] {
			continue
		}
		lines = append(lines, BonusLine{Badge: rule.Badge, Pct: rule.Pct})
		pct = pct.Add(rule.Pct)
	}
	if len(lines) == 0 {
		return 0, nil
	}
	if pct.GreaterThan(cfg.BonusCapPct) {
		pct = cfg.BonusCapPct
	}

	cents := decimal.NewFromInt(baseCents).Mul(pct).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	return cents, lines
}
