/*
handlers.go - HTTP API handlers for the payout settlement engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the gate. No payout logic lives here.

ENDPOINTS:
  Settlements:
    GET    /api/settlements                    List settlements
    POST   /api/settlements                    Create settlement record
    GET    /api/settlements/{id}               Get settlement
    GET    /api/settlements/{id}/preview       Side-effect-free earnings preview
    POST   /api/settlements/{id}/release       Attempt payout release
    POST   /api/settlements/{id}/complete      Record job completion
    POST   /api/settlements/{id}/hold          Set/clear manual hold
    POST   /api/settlements/{id}/blockers/clear  Clear blockers after remediation
    GET    /api/settlements/{id}/events        Audit trail

  Workers:
    GET    /api/workers                        List workers
    POST   /api/workers                        Create worker
    GET    /api/workers/{id}                   Get worker
    GET    /api/workers/{id}/settlements       Worker's settlements
    PUT    /api/workers/{id}/overrides         Admin overrides (tier/currency/destination)

  Rates:
    GET    /api/rates                          List stored rates
    PUT    /api/rates                          Upsert a rate (ops stand-in)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Record not found
  - 409: Conflict (duplicate settlement, post-paid mutation)
  - 500: Internal errors
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/tablecraft/payout-engine/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that support a full wipe (demo scenarios).
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *settlement.Engine

	// Signals is the demo/dev signals provider scenarios seed. In
	// production the engine is wired to the real eligibility provider
	// and scenario loading is disabled.
	Signals *settlement.StaticSignals

	// Resetter is optional; scenario loading requires it.
	Resetter Resetter

	currentScenario string
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *settlement.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// ListSettlements returns all settlements.
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.Engine.Store.ListSettlements(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list settlements", err)
		return
	}

	dtos := make([]SettlementDTO, len(settlements))
	for i, s := range settlements {
		dtos[i] = toSettlementDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSettlement creates a new settlement record for a completed job.
// Called by the pricing collaborator with an already-derived pre-tier base.
func (h *Handler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	var req CreateSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, err := h.Engine.CreateSettlement(r.Context(), settlement.CreateParams{
		WorkerID:        settlement.WorkerID(req.WorkerID),
		JobID:           req.JobID,
		QuoteTotalCents: req.QuoteTotalCents,
		BaseRateCents:   req.BaseRateCents,
	})
	if err != nil {
		writeEngineError(w, "Failed to create settlement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettlementDTO(*s))
}

// GetSettlement returns a single settlement.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Store.GetSettlement(r.Context(), settlement.SettlementID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*s))
}

// PreviewSettlement returns a side-effect-free earnings estimate.
func (h *Handler) PreviewSettlement(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.ComputePreview(r.Context(), settlement.SettlementID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to compute preview", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(p))
}

// ReleaseSettlement attempts to release the payout.
func (h *Handler) ReleaseSettlement(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "admin"
	}

	res, err := h.Engine.AttemptRelease(r.Context(), settlement.SettlementID(chi.URLParam(r, "id")), req.TriggeredBy)
	if err != nil {
		writeEngineError(w, "Failed to release settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, ReleaseResponse{
		Status:     string(res.Status),
		Blockers:   res.Blockers,
		TransferID: res.TransferID,
		Settlement: toSettlementDTO(res.Settlement),
	})
}

// CompleteSettlement records job completion.
func (h *Handler) CompleteSettlement(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CompletedBy == "" {
		req.CompletedBy = "worker"
	}

	s, err := h.Engine.RecordCompletion(r.Context(), settlement.SettlementID(chi.URLParam(r, "id")), req.CompletedBy)
	if err != nil {
		writeEngineError(w, "Failed to record completion", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*s))
}

// HoldSettlement sets or clears the manual payout hold.
func (h *Handler) HoldSettlement(w http.ResponseWriter, r *http.Request) {
	var req HoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Actor == "" {
		req.Actor = "admin"
	}

	s, err := h.Engine.SetHold(r.Context(), settlement.SettlementID(chi.URLParam(r, "id")), req.Hold, req.Reason, req.Actor)
	if err != nil {
		writeEngineError(w, "Failed to set hold", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*s))
}

// ClearBlockers wipes recorded blockers after admin remediation.
func (h *Handler) ClearBlockers(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.ClearBlockers(r.Context(), settlement.SettlementID(chi.URLParam(r, "id")), "admin")
	if err != nil {
		writeEngineError(w, "Failed to clear blockers", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*s))
}

// GetSettlementEvents returns the audit trail for a settlement.
func (h *Handler) GetSettlementEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Engine.Store.EventsFor(r.Context(), settlement.SettlementID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get events", err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = EventDTO{
			ID:        e.ID,
			Actor:     e.Actor,
			Action:    string(e.Action),
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// WORKER HANDLERS
// =============================================================================

// ListWorkers returns all workers.
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.Engine.Store.ListWorkers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list workers", err)
		return
	}

	dtos := make([]WorkerDTO, len(workers))
	for i, wp := range workers {
		dtos[i] = toWorkerDTO(wp)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateWorker creates a new worker profile.
func (h *Handler) CreateWorker(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	wp := settlement.WorkerProfile{
		ID:                settlement.WorkerID(req.ID),
		Name:              req.Name,
		Role:              req.Role,
		PreferredCurrency: req.PreferredCurrency,
		PayoutAccountID:   req.PayoutAccountID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := h.Engine.Store.SaveWorker(r.Context(), wp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create worker", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkerDTO(wp))
}

// GetWorker returns a single worker.
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	wp, err := h.Engine.Store.GetWorker(r.Context(), settlement.WorkerID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get worker", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerDTO(*wp))
}

// GetWorkerSettlements returns a worker's settlements.
func (h *Handler) GetWorkerSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.Engine.Store.ListSettlementsByWorker(r.Context(), settlement.WorkerID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list settlements", err)
		return
	}

	dtos := make([]SettlementDTO, len(settlements))
	for i, s := range settlements {
		dtos[i] = toSettlementDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateWorkerOverrides applies admin-only override changes.
func (h *Handler) UpdateWorkerOverrides(w http.ResponseWriter, r *http.Request) {
	var req OverridesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	wp, err := h.Engine.Store.GetWorker(r.Context(), settlement.WorkerID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get worker", err)
		return
	}

	if req.TierOverride != nil {
		if *req.TierOverride == "" {
			wp.TierOverride = nil
		} else {
			t := settlement.Tier(*req.TierOverride)
			if !t.Valid() {
				writeError(w, http.StatusBadRequest, "Invalid tier override", settlement.ErrInvalidTier)
				return
			}
			wp.TierOverride = &t
		}
	}
	if req.CurrencyOverride != nil {
		if *req.CurrencyOverride == "" {
			wp.CurrencyOverride = nil
		} else {
			c := *req.CurrencyOverride
			wp.CurrencyOverride = &c
		}
	}
	if req.PreferredCurrency != nil {
		wp.PreferredCurrency = *req.PreferredCurrency
	}
	if req.PayoutAccountID != nil {
		wp.PayoutAccountID = *req.PayoutAccountID
	}

	if err := h.Engine.Store.SaveWorker(r.Context(), *wp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update worker", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerDTO(*wp))
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

// ListRates returns the stored currency rates.
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.Engine.Store.ListRates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rates", err)
		return
	}

	dtos := make([]RateDTO, len(rates))
	for i, rate := range rates {
		dtos[i] = RateDTO{
			From:      rate.From,
			To:        rate.To,
			Rate:      rate.Rate.String(),
			FetchedAt: rate.FetchedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveRate upserts a rate. Stand-in for the periodic rate-fetch job.
func (h *Handler) SaveRate(w http.ResponseWriter, r *http.Request) {
	var req SaveRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.From == "" || req.To == "" || req.Rate <= 0 {
		writeError(w, http.StatusBadRequest, "from, to and a positive rate are required", nil)
		return
	}

	rate := settlement.CurrencyRate{
		From:      req.From,
		To:        req.To,
		Rate:      decimal.NewFromFloat(req.Rate),
		FetchedAt: time.Now().UTC(),
	}
	if err := h.Engine.Store.SaveRate(r.Context(), rate); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rate", err)
		return
	}
	writeJSON(w, http.StatusOK, RateDTO{
		From:      rate.From,
		To:        rate.To,
		Rate:      rate.Rate.String(),
		FetchedAt: rate.FetchedAt.Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps settlement error taxonomy to HTTP status codes.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case settlement.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, settlement.ErrAlreadyPaid), errors.Is(err, settlement.ErrDuplicateSettlement):
		writeError(w, http.StatusConflict, message, err)
	case settlement.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
