/*
currency.go - Payout currency resolution and rate locking

PURPOSE:
  Resolves the worker's effective payout currency and, when it differs from
  the base currency, freezes an exchange rate at the moment of computation.
  The locked pair is written once onto the settlement record; later rate
  table updates never change what a settled statement shows.

EFFECTIVE CURRENCY:
  admin override > worker preference > base currency.
  Flags.ForeignPayoutsEnabled=false forces base currency regardless.

FAIL-SAFE:
  A missing rate falls back to base currency with rate 1. An unset FX rate
  must never prevent settlement; it only prevents conversion.

DISPLAY ONLY:
  Conversion is for UI and statements. The transfer amount itself always
  settles in base-currency cents.
*/
package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// LockPayoutCurrency resolves the worker's payout currency and freezes the
// rate in force right now. The only possible error is an unknown worker.
func (e *Engine) LockPayoutCurrency(ctx context.Context, workerID WorkerID) (CurrencyLock, error) {
	w, err := e.Store.GetWorker(ctx, workerID)
	if err != nil {
		return CurrencyLock{}, err
	}
	return e.lockCurrency(ctx, e.Config.Current(), w), nil
}

func (e *Engine) lockCurrency(ctx context.Context, cfg Config, w *WorkerProfile) CurrencyLock {
	base := CurrencyLock{Code: cfg.BaseCurrency, Rate: decimal.NewFromInt(1)}

	code := effectiveCurrency(cfg, w)
	if code == cfg.BaseCurrency {
		return base
	}

	rate, err := e.Store.GetRate(ctx, cfg.BaseCurrency, code)
	if err != nil {
		e.log().Warn("rate lookup failed, falling back to base currency",
			"worker_id", w.ID, "currency", code, "error", err)
		return base
	}
	if rate == nil {
		// No stored rate for the pair. Settle in base currency; never block.
		return base
	}
	return CurrencyLock{Code: code, Rate: rate.Rate}
}

// effectiveCurrency applies the override > preference > base precedence.
func effectiveCurrency(cfg Config, w *WorkerProfile) string {
	if !cfg.Flags.ForeignPayoutsEnabled {
		return cfg.BaseCurrency
	}
	if w.CurrencyOverride != nil && *w.CurrencyOverride != "" {
		return *w.CurrencyOverride
	}
	if w.PreferredCurrency != "" {
		return w.PreferredCurrency
	}
	return cfg.BaseCurrency
}

// =============================================================================
// DISPLAY CONVERSION
// =============================================================================

// DisplayAmount converts base-currency cents to the locked currency's major
// units, rounded to 2 decimal places. UI/statement use only.
func DisplayAmount(amountCents int64, rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(amountCents).
		Div(decimal.NewFromInt(100)).
		Mul(rate).
		Round(2)
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
}

// FormatDisplay renders a converted amount with currency-appropriate
// formatting, e.g. "$110.00" or "MXN 1234.50" for codes without a symbol.
func FormatDisplay(code string, amountCents int64, rate decimal.Decimal) string {
	amt := DisplayAmount(amountCents, rate)
	if sym, ok := currencySymbols[code]; ok {
		return sym + amt.StringFixed(2)
	}
	return fmt.Sprintf("%s %s", code, amt.StringFixed(2))
}
