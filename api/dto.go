/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are pure
  data carriers.
*/
package api

import (
	"time"

	"github.com/tablecraft/payout-engine/settlement"
)

// =============================================================================
// WORKERS
// =============================================================================

type WorkerDTO struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Role              string  `json:"role"`
	TierOverride      *string `json:"tier_override,omitempty"`
	PreferredCurrency string  `json:"preferred_currency,omitempty"`
	CurrencyOverride  *string `json:"currency_override,omitempty"`
	PayoutAccountID   string  `json:"payout_account_id,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

type CreateWorkerRequest struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Role              string `json:"role"`
	PreferredCurrency string `json:"preferred_currency"`
	PayoutAccountID   string `json:"payout_account_id"`
}

// OverridesRequest carries admin-only override changes. Nil fields are left
// untouched; empty strings clear the override.
type OverridesRequest struct {
	TierOverride      *string `json:"tier_override"`
	CurrencyOverride  *string `json:"currency_override"`
	PreferredCurrency *string `json:"preferred_currency"`
	PayoutAccountID   *string `json:"payout_account_id"`
}

func toWorkerDTO(w settlement.WorkerProfile) WorkerDTO {
	dto := WorkerDTO{
		ID:                string(w.ID),
		Name:              w.Name,
		Role:              w.Role,
		PreferredCurrency: w.PreferredCurrency,
		PayoutAccountID:   w.PayoutAccountID,
		CreatedAt:         w.CreatedAt.Format(time.RFC3339),
	}
	if w.TierOverride != nil {
		t := string(*w.TierOverride)
		dto.TierOverride = &t
	}
	if w.CurrencyOverride != nil {
		c := *w.CurrencyOverride
		dto.CurrencyOverride = &c
	}
	return dto
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

type SettlementDTO struct {
	ID                    string   `json:"id"`
	WorkerID              string   `json:"worker_id"`
	JobID                 string   `json:"job_id,omitempty"`
	QuoteTotalCents       int64    `json:"quote_total_cents"`
	BaseRateCents         int64    `json:"base_rate_cents"`
	PayoutBaseCents       int64    `json:"payout_base_cents"`
	PayoutBonusCents      int64    `json:"payout_bonus_cents"`
	PayoutAmountCents     int64    `json:"payout_amount_cents"`
	TierApplied           string   `json:"tier_applied,omitempty"`
	RateMultiplierApplied string   `json:"rate_multiplier_applied"`
	PayoutCurrency        string   `json:"payout_currency,omitempty"`
	PayoutFxRate          string   `json:"payout_fx_rate,omitempty"`
	DisplayAmount         string   `json:"display_amount,omitempty"`
	Status                string   `json:"status"`
	PayoutHold            bool     `json:"payout_hold"`
	PayoutHoldReason      string   `json:"payout_hold_reason,omitempty"`
	PayoutBlockers        []string `json:"payout_blockers,omitempty"`

	BonusBreakdown []BonusLineDTO `json:"bonus_breakdown,omitempty"`
	JobCompletedAt        *string  `json:"job_completed_at,omitempty"`
	JobCompletedBy        string   `json:"job_completed_by,omitempty"`
	PaidAt                *string  `json:"paid_at,omitempty"`
	ExternalTransferID    string   `json:"external_transfer_id,omitempty"`
	CreatedAt             string   `json:"created_at"`
}

type CreateSettlementRequest struct {
	WorkerID        string `json:"worker_id"`
	JobID           string `json:"job_id"`
	QuoteTotalCents int64  `json:"quote_total_cents"`
	BaseRateCents   int64  `json:"base_rate_cents"`
}

type CompleteRequest struct {
	CompletedBy string `json:"completed_by"` // "worker" or "admin"
}

type HoldRequest struct {
	Hold   bool   `json:"hold"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type ReleaseRequest struct {
	TriggeredBy string `json:"triggered_by"`
}

type ReleaseResponse struct {
	Status     string        `json:"status"`
	Blockers   []string      `json:"blockers,omitempty"`
	TransferID string        `json:"transfer_id,omitempty"`
	Settlement SettlementDTO `json:"settlement"`
}

func toSettlementDTO(s settlement.Settlement) SettlementDTO {
	dto := SettlementDTO{
		ID:                    string(s.ID),
		WorkerID:              string(s.WorkerID),
		JobID:                 s.JobID,
		QuoteTotalCents:       s.QuoteTotalCents,
		BaseRateCents:         s.BaseRateCents,
		PayoutBaseCents:       s.PayoutBaseCents,
		PayoutBonusCents:      s.PayoutBonusCents,
		PayoutAmountCents:     s.PayoutAmountCents,
		TierApplied:           string(s.TierApplied),
		RateMultiplierApplied: s.RateMultiplierApplied.String(),
		Status:                string(s.Status),
		PayoutHold:            s.PayoutHold,
		PayoutHoldReason:      s.PayoutHoldReason,
		PayoutBlockers:        s.PayoutBlockers,
		JobCompletedBy:        s.JobCompletedBy,
		ExternalTransferID:    s.ExternalTransferID,
		CreatedAt:             s.CreatedAt.Format(time.RFC3339),
	}
	if s.CurrencyLocked() {
		dto.PayoutCurrency = s.PayoutCurrency
		dto.PayoutFxRate = s.PayoutFxRate.String()
		dto.DisplayAmount = settlement.FormatDisplay(s.PayoutCurrency, s.PayoutAmountCents, s.PayoutFxRate)
	}
	for _, l := range s.BonusBreakdown {
		dto.BonusBreakdown = append(dto.BonusBreakdown, BonusLineDTO{Badge: l.Badge, Pct: l.Pct.String()})
	}
	if s.JobCompletedAt != nil {
		v := s.JobCompletedAt.Format(time.RFC3339)
		dto.JobCompletedAt = &v
	}
	if s.PaidAt != nil {
		v := s.PaidAt.Format(time.RFC3339)
		dto.PaidAt = &v
	}
	return dto
}

// =============================================================================
// PREVIEW
// =============================================================================

type BonusLineDTO struct {
	Badge string `json:"badge"`
	Pct   string `json:"pct"`
}

type PreviewDTO struct {
	SettlementID  string         `json:"settlement_id"`
	Tier          string         `json:"tier"`
	Multiplier    string         `json:"multiplier"`
	Overridden    bool           `json:"overridden"`
	BaseCents     int64          `json:"base_cents"`
	BonusCents    int64          `json:"bonus_cents"`
	AmountCents   int64          `json:"amount_cents"`
	Breakdown     []BonusLineDTO `json:"bonus_breakdown"`
	Currency      string         `json:"currency"`
	FxRate        string         `json:"fx_rate"`
	DisplayAmount string         `json:"display_amount"`
}

func toPreviewDTO(p *settlement.Preview) PreviewDTO {
	lines := make([]BonusLineDTO, 0, len(p.Breakdown))
	for _, l := range p.Breakdown {
		lines = append(lines, BonusLineDTO{Badge: l.Badge, Pct: l.Pct.String()})
	}
	return PreviewDTO{
		SettlementID:  string(p.SettlementID),
		Tier:          string(p.Tier),
		Multiplier:    p.Multiplier.String(),
		Overridden:    p.Overridden,
		BaseCents:     p.BaseCents,
		BonusCents:    p.BonusCents,
		AmountCents:   p.AmountCents,
		Breakdown:     lines,
		Currency:      p.Currency,
		FxRate:        p.FxRate.String(),
		DisplayAmount: settlement.FormatDisplay(p.Currency, p.AmountCents, p.FxRate),
	}
}

// =============================================================================
// RATES / EVENTS / ERRORS
// =============================================================================

type RateDTO struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Rate      string `json:"rate"`
	FetchedAt string `json:"fetched_at"`
}

type SaveRateRequest struct {
	From string  `json:"from"`
	To   string  `json:"to"`
	Rate float64 `json:"rate"`
}

type EventDTO struct {
	ID        string `json:"id"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
