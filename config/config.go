/*
Package config provides JSON to engine configuration conversion.

PURPOSE:
  Converts a JSON configuration document into a settlement.Config. This
  enables ops to flip the kill switches, adjust the badge bonus table, or
  tune tier thresholds without code changes.

JSON SCHEMA (every field optional; defaults from settlement.DefaultConfig):
  {
    "base_currency": "USD",
    "flags": {
      "tier_rates_enabled": true,
      "bonus_enabled": true,
      "foreign_payouts_enabled": true
    },
    "bonus": {
      "cap_pct": 10,
      "badges": [
        {"badge": "On-Time Excellence", "pct": 5},
        {"badge": "Prep Perfect", "pct": 3},
        {"badge": "Certified", "pct": 2}
      ]
    },
    "tiers": {
      "pro":   {"badge": "Certified",    "min_on_time": 0.90, "window": 10},
      "elite": {"badge": "Prep Perfect", "min_on_time": 0.95, "window": 20}
    }
  }

USAGE:
  cfg, err := config.Parse(jsonBytes)
  engine := settlement.NewEngine(store, signals, processor, settlement.Static(cfg), logger)

SEE ALSO:
  - settlement/config.go: Config type and defaults
*/
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/tablecraft/payout-engine/settlement"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type configJSON struct {
	BaseCurrency string     `json:"base_currency"`
	Flags        *flagsJSON `json:"flags"`
	Bonus        *bonusJSON `json:"bonus"`
	Tiers        *tiersJSON `json:"tiers"`
}

type flagsJSON struct {
	TierRatesEnabled      *bool `json:"tier_rates_enabled"`
	BonusEnabled          *bool `json:"bonus_enabled"`
	ForeignPayoutsEnabled *bool `json:"foreign_payouts_enabled"`
}

type bonusJSON struct {
	CapPct *float64 `json:"cap_pct"`
	Badges []struct {
		Badge string  `json:"badge"`
		Pct   float64 `json:"pct"`
	} `json:"badges"`
}

type tiersJSON struct {
	Pro   *tierRuleJSON `json:"pro"`
	Elite *tierRuleJSON `json:"elite"`
}

type tierRuleJSON struct {
	Badge     string  `json:"badge"`
	MinOnTime float64 `json:"min_on_time"`
	Window    int     `json:"window"`
}

// =============================================================================
// PARSING
// =============================================================================

// Parse builds a settlement.Config from JSON, starting from the production
// defaults and overriding only the fields present in the document.
func Parse(data []byte) (settlement.Config, error) {
	cfg := settlement.DefaultConfig()

	var doc configJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return cfg, fmt.Errorf("invalid config JSON: %w", err)
	}

	if doc.BaseCurrency != "" {
		cfg.BaseCurrency = doc.BaseCurrency
	}

	if doc.Flags != nil {
		applyFlag(&cfg.Flags.TierRatesEnabled, doc.Flags.TierRatesEnabled)
		applyFlag(&cfg.Flags.BonusEnabled, doc.Flags.BonusEnabled)
		applyFlag(&cfg.Flags.ForeignPayoutsEnabled, doc.Flags.ForeignPayoutsEnabled)
	}

	if doc.Bonus != nil {
		if doc.Bonus.CapPct != nil {
			if *doc.Bonus.CapPct < 0 {
				return cfg, fmt.Errorf("bonus cap_pct must be non-negative, got %v", *doc.Bonus.CapPct)
			}
			cfg.BonusCapPct = decimal.NewFromFloat(*doc.Bonus.CapPct)
		}
		if len(doc.Bonus.Badges) > 0 {
			rules := make([]settlement.BonusRule, 0, len(doc.Bonus.Badges))
			for _, b := range doc.Bonus.Badges {
				if b.Badge == "" {
					return cfg, fmt.Errorf("bonus badge name must not be empty")
				}
				if b.Pct < 0 {
					return cfg, fmt.Errorf("bonus pct for %q must be non-negative, got %v", b.Badge, b.Pct)
				}
				rules = append(rules, settlement.BonusRule{
					Badge: b.Badge,
					Pct:   decimal.NewFromFloat(b.Pct),
				})
			}
			cfg.BonusRules = rules
		}
	}

	if doc.Tiers != nil {
		if doc.Tiers.Pro != nil {
			applyTierRule(&cfg.Tiers.ProBadge, &cfg.Tiers.ProMinOnTime, &cfg.Tiers.ProWindow, doc.Tiers.Pro)
		}
		if doc.Tiers.Elite != nil {
			applyTierRule(&cfg.Tiers.EliteBadge, &cfg.Tiers.EliteMinOnTime, &cfg.Tiers.EliteWindow, doc.Tiers.Elite)
		}
	}

	return cfg, nil
}

// Load reads and parses a config file. A missing path returns the defaults.
func Load(path string) (settlement.Config, error) {
	if path == "" {
		return settlement.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return settlement.DefaultConfig(), fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func applyFlag(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func applyTierRule(badge *string, minOnTime *decimal.Decimal, window *int, rule *tierRuleJSON) {
	if rule.Badge != "" {
		*badge = rule.Badge
	}
	if rule.MinOnTime > 0 {
		*minOnTime = decimal.NewFromFloat(rule.MinOnTime)
	}
	if rule.Window > 0 {
		*window = rule.Window
	}
}
