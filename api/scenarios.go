/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic data
	for demos. Each scenario creates workers, settlements, rates, and
	eligibility signals that demonstrate a specific engine behavior.

AVAILABLE SCENARIOS:

	standard-payout:   Standard-tier worker, completed job, ready to release
	pro-tier-bonus:    Certified Pro worker earning the tier multiplier + bonus
	foreign-currency:  EUR-preferring worker with a stored rate
	held-payout:       Completed job frozen by an admin hold

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Seed eligibility signals (badges, training, on-time ratio)
 3. Create workers and currency rates
 4. Create settlements and record completions

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "pro-tier-bonus"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.
	Loading requires the handler to be wired with StaticSignals and a
	resettable store; production deployments leave both nil.

SEE ALSO:
  - handlers.go: Handler struct, writeJSON/writeError
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tablecraft/payout-engine/settlement"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-payout",
		Name:        "Standard Payout",
		Description: "Standard-tier chef with a completed job, ready to release",
	},
	{
		ID:          "pro-tier-bonus",
		Name:        "Pro Tier + Bonus",
		Description: "Certified chef at 0.92 on-time earning the 1.10x multiplier and badge bonus",
	},
	{
		ID:          "foreign-currency",
		Name:        "Foreign Currency",
		Description: "EUR-preferring chef with a stored USD/EUR rate for display conversion",
	},
	{
		ID:          "held-payout",
		Name:        "Held Payout",
		Description: "Completed job frozen by an admin hold pending a complaint review",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if h.Resetter == nil || h.Signals == nil {
		writeError(w, http.StatusForbidden, "Scenario loading is disabled", nil)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Resetter.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.Signals.BadgeSet = make(map[settlement.WorkerID]map[string]bool)
	h.Signals.Trained = make(map[settlement.WorkerID]bool)
	h.Signals.Ratios = make(map[settlement.WorkerID]float64)
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "standard-payout":
		err = h.loadStandardPayoutScenario(ctx)
	case "pro-tier-bonus":
		err = h.loadProTierBonusScenario(ctx)
	case "foreign-currency":
		err = h.loadForeignCurrencyScenario(ctx)
	case "held-payout":
		err = h.loadHeldPayoutScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data without loading a scenario.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Resetter == nil {
		writeError(w, http.StatusForbidden, "Reset is disabled", nil)
		return
	}
	if err := h.Resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadStandardPayoutScenario(ctx context.Context) error {
	// New chef: no badges, no training record, short history. Resolves to
	// Standard tier with a 1.00 multiplier and no bonus.
	worker := settlement.WorkerProfile{
		ID:                "chef-001",
		Name:              "Alice Johnson",
		Role:              "chef",
		PreferredCurrency: "USD",
		PayoutAccountID:   "acct_alice",
		CreatedAt:         time.Now().UTC(),
	}
	if err := h.Engine.Store.SaveWorker(ctx, worker); err != nil {
		return err
	}

	s, err := h.Engine.CreateSettlement(ctx, settlement.CreateParams{
		WorkerID:        worker.ID,
		JobID:           "job-dinner-party-001",
		QuoteTotalCents: 25000,
		BaseRateCents:   20000,
	})
	if err != nil {
		return err
	}

	_, err = h.Engine.RecordCompletion(ctx, s.ID, "worker")
	return err
}

func (h *Handler) loadProTierBonusScenario(ctx context.Context) error {
	// Certified chef with a 0.92 on-time ratio over the trailing window:
	// qualifies for Pro (1.10x) and the Certified badge bonus (+2%).
	worker := settlement.WorkerProfile{
		ID:                "chef-002",
		Name:              "Bruno Marchetti",
		Role:              "chef",
		PreferredCurrency: "USD",
		PayoutAccountID:   "acct_bruno",
		CreatedAt:         time.Now().UTC(),
	}
	if err := h.Engine.Store.SaveWorker(ctx, worker); err != nil {
		return err
	}

	h.Signals.BadgeSet[worker.ID] = map[string]bool{
		"Certified":          true,
		"On-Time Excellence": true,
	}
	h.Signals.Trained[worker.ID] = true
	h.Signals.Ratios[worker.ID] = 0.92

	// 10000 base at Pro becomes 11000; badges add 7% of that, under the cap.
	s, err := h.Engine.CreateSettlement(ctx, settlement.CreateParams{
		WorkerID:        worker.ID,
		JobID:           "job-tasting-menu-002",
		QuoteTotalCents: 15000,
		BaseRateCents:   10000,
	})
	if err != nil {
		return err
	}

	_, err = h.Engine.RecordCompletion(ctx, s.ID, "worker")
	return err
}

func (h *Handler) loadForeignCurrencyScenario(ctx context.Context) error {
	worker := settlement.WorkerProfile{
		ID:                "chef-003",
		Name:              "Camille Dubois",
		Role:              "chef",
		PreferredCurrency: "EUR",
		PayoutAccountID:   "acct_camille",
		CreatedAt:         time.Now().UTC(),
	}
	if err := h.Engine.Store.SaveWorker(ctx, worker); err != nil {
		return err
	}

	rate := settlement.CurrencyRate{
		From:      "USD",
		To:        "EUR",
		Rate:      decimal.RequireFromString("0.91"),
		FetchedAt: time.Now().UTC(),
	}
	if err := h.Engine.Store.SaveRate(ctx, rate); err != nil {
		return err
	}

	s, err := h.Engine.CreateSettlement(ctx, settlement.CreateParams{
		WorkerID:        worker.ID,
		JobID:           "job-wine-pairing-003",
		QuoteTotalCents: 40000,
		BaseRateCents:   32000,
	})
	if err != nil {
		return err
	}

	_, err = h.Engine.RecordCompletion(ctx, s.ID, "worker")
	return err
}

func (h *Handler) loadHeldPayoutScenario(ctx context.Context) error {
	worker := settlement.WorkerProfile{
		ID:                "chef-004",
		Name:              "Diego Ramos",
		Role:              "chef",
		PreferredCurrency: "USD",
		PayoutAccountID:   "acct_diego",
		CreatedAt:         time.Now().UTC(),
	}
	if err := h.Engine.Store.SaveWorker(ctx, worker); err != nil {
		return err
	}

	s, err := h.Engine.CreateSettlement(ctx, settlement.CreateParams{
		WorkerID:        worker.ID,
		JobID:           "job-corporate-lunch-004",
		QuoteTotalCents: 18000,
		BaseRateCents:   14000,
	})
	if err != nil {
		return err
	}

	if _, err := h.Engine.RecordCompletion(ctx, s.ID, "worker"); err != nil {
		return err
	}

	_, err = h.Engine.SetHold(ctx, s.ID, true, "guest complaint under review", "admin")
	return err
}
