/*
config.go - Engine configuration: feature flags, bonus table, tier rules

PURPOSE:
  Bundles the global knobs the engine reads on every invocation. Flags are
  injected as a value read once per call (via Source), not ambient global
  state, so tests can vary them per call and a flag flip mid-release cannot
  produce a half-old half-new computation.

FLAGS:
  TierRatesEnabled:      false forces multiplier 1.00 for all tiers without
                         changing the reported tier (staged rollout / kill
                         switch for tiered rates)
  BonusEnabled:          global bonus kill switch
  ForeignPayoutsEnabled: false forces base-currency payouts regardless of
                         worker preference or admin override

SEE ALSO:
  - config/config.go: JSON loading of this configuration
*/
package settlement

import "github.com/shopspring/decimal"

// =============================================================================
// FLAGS
// =============================================================================

// Flags are the global feature toggles. See package comment.
type Flags struct {
	TierRatesEnabled      bool
	BonusEnabled          bool
	ForeignPayoutsEnabled bool
}

// =============================================================================
// BONUS TABLE
// =============================================================================

// BonusRule maps one badge to its bonus percentage.
type BonusRule struct {
	Badge string
	Pct   decimal.Decimal
}

// =============================================================================
// TIER RULES
// =============================================================================

// TierRules are the eligibility thresholds for computed (non-overridden)
// tiers. Elite requires all Pro conditions plus its own.
type TierRules struct {
	ProBadge     string
	ProMinOnTime decimal.Decimal
	ProWindow    int

	EliteBadge     string
	EliteMinOnTime decimal.Decimal
	EliteWindow    int
}

// =============================================================================
// CONFIG
// =============================================================================

// Config is the complete engine configuration.
type Config struct {
	Flags        Flags
	BaseCurrency string
	BonusRules   []BonusRule
	BonusCapPct  decimal.Decimal
	Tiers        TierRules
}

// DefaultConfig returns the production defaults: all features on, USD base,
// the standard badge bonus table capped at 10%, and the documented tier
// thresholds.
func DefaultConfig() Config {
	return Config{
		Flags: Flags{
			TierRatesEnabled:      true,
			BonusEnabled:          true,
			ForeignPayoutsEnabled: true,
		},
		BaseCurrency: "USD",
		BonusRules: []BonusRule{
			{Badge: "On-Time Excellence", Pct: decimal.NewFromInt(5)},
			{Badge: "Prep Perfect", Pct: decimal.NewFromInt(3)},
			{Badge: "Certified", Pct: decimal.NewFromInt(2)},
		},
		BonusCapPct: decimal.NewFromInt(10),
		Tiers: TierRules{
			ProBadge:       "Certified",
			ProMinOnTime:   decimal.RequireFromString("0.90"),
			ProWindow:      10,
			EliteBadge:     "Prep Perfect",
			EliteMinOnTime: decimal.RequireFromString("0.95"),
			EliteWindow:    20,
		},
	}
}

// =============================================================================
// CONFIG SOURCE
// =============================================================================

// Source supplies the current configuration. The engine reads it once at the
// start of each invocation.
type Source interface {
	Current() Config
}

// StaticSource always returns the same configuration.
type StaticSource struct {
	Config Config
}

func (s StaticSource) Current() Config { return s.Config }

// Static wraps a Config in a Source.
func Static(cfg Config) Source { return StaticSource{Config: cfg} }
