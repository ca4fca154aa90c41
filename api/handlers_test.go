/*
handlers_test.go - HTTP-level tests for the settlement API

Tests for:
- Settlement lifecycle over HTTP (create, complete, release)
- Error-to-status mapping
- Admin overrides
- Scenario loading
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tablecraft/payout-engine/settlement"
	"github.com/tablecraft/payout-engine/settlement/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *Handler) {
	t.Helper()

	st := store.NewMemory()
	signals := &settlement.StaticSignals{
		BadgeSet: make(map[settlement.WorkerID]map[string]bool),
		Trained:  make(map[settlement.WorkerID]bool),
		Ratios:   make(map[settlement.WorkerID]float64),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := settlement.NewEngine(st, signals, settlement.NewFakeProcessor(),
		settlement.Static(settlement.DefaultConfig()), logger)

	h := NewHandler(engine)
	h.Signals = signals
	h.Resetter = st

	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, h
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createWorker(t *testing.T, srv *httptest.Server, id, account string) {
	t.Helper()
	status := doJSON(t, http.MethodPost, srv.URL+"/api/workers", CreateWorkerRequest{
		ID: id, Name: id, Role: "chef", PayoutAccountID: account,
	}, nil)
	require.Equal(t, http.StatusCreated, status)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestAPI_SettlementLifecycle(t *testing.T) {
	// GIVEN: A worker with a payout account
	// WHEN: Creating, completing and releasing a settlement over HTTP
	// THEN: The settlement ends paid with a transfer id

	srv, _ := newTestServer(t)
	createWorker(t, srv, "chef-1", "acct_1")

	var created SettlementDTO
	status := doJSON(t, http.MethodPost, srv.URL+"/api/settlements", CreateSettlementRequest{
		WorkerID: "chef-1", JobID: "job-1", QuoteTotalCents: 25000, BaseRateCents: 20000,
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "not_applicable", created.Status)

	var completed SettlementDTO
	status = doJSON(t, http.MethodPost, srv.URL+"/api/settlements/"+created.ID+"/complete",
		CompleteRequest{CompletedBy: "worker"}, &completed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending", completed.Status)

	var released ReleaseResponse
	status = doJSON(t, http.MethodPost, srv.URL+"/api/settlements/"+created.ID+"/release",
		ReleaseRequest{TriggeredBy: "admin"}, &released)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paid", released.Status)
	assert.NotEmpty(t, released.TransferID)

	// The audit trail recorded the transitions.
	var events []EventDTO
	status = doJSON(t, http.MethodGet, srv.URL+"/api/settlements/"+created.ID+"/events", nil, &events)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, events)
}

func TestAPI_HoldBlocksRelease(t *testing.T) {
	srv, _ := newTestServer(t)
	createWorker(t, srv, "chef-1", "acct_1")

	var created SettlementDTO
	doJSON(t, http.MethodPost, srv.URL+"/api/settlements", CreateSettlementRequest{
		WorkerID: "chef-1", JobID: "job-1", QuoteTotalCents: 25000, BaseRateCents: 20000,
	}, &created)
	doJSON(t, http.MethodPost, srv.URL+"/api/settlements/"+created.ID+"/complete",
		CompleteRequest{CompletedBy: "worker"}, nil)

	var held SettlementDTO
	status := doJSON(t, http.MethodPost, srv.URL+"/api/settlements/"+created.ID+"/hold",
		HoldRequest{Hold: true, Reason: "complaint", Actor: "admin"}, &held)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "on_hold", held.Status)

	var released ReleaseResponse
	status = doJSON(t, http.MethodPost, srv.URL+"/api/settlements/"+created.ID+"/release",
		ReleaseRequest{}, &released)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "on_hold", released.Status)
	assert.Empty(t, released.TransferID)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	createWorker(t, srv, "chef-1", "acct_1")

	// Missing settlement -> 404
	status := doJSON(t, http.MethodGet, srv.URL+"/api/settlements/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// Unknown worker -> 404
	status = doJSON(t, http.MethodPost, srv.URL+"/api/settlements", CreateSettlementRequest{
		WorkerID: "ghost", JobID: "job-x", QuoteTotalCents: 1000, BaseRateCents: 800,
	}, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// Invalid amount -> 400
	status = doJSON(t, http.MethodPost, srv.URL+"/api/settlements", CreateSettlementRequest{
		WorkerID: "chef-1", JobID: "job-x", QuoteTotalCents: 0, BaseRateCents: 0,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Duplicate job -> 409
	doJSON(t, http.MethodPost, srv.URL+"/api/settlements", CreateSettlementRequest{
		WorkerID: "chef-1", JobID: "job-1", QuoteTotalCents: 1000, BaseRateCents: 800,
	}, nil)
	status = doJSON(t, http.MethodPost, srv.URL+"/api/settlements", CreateSettlementRequest{
		WorkerID: "chef-1", JobID: "job-1", QuoteTotalCents: 1000, BaseRateCents: 800,
	}, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPI_MutatingPaidSettlement_Conflict(t *testing.T) {
	srv, _ := newTestServer(t)
	createWorker(t, srv, "chef-1", "acct_1")

	var created SettlementDTO
	doJSON(t, http.MethodPost, srv.URL+"/api/settlements", CreateSettlementRequest{
		WorkerID: "chef-1", JobID: "job-1", QuoteTotalCents: 25000, BaseRateCents: 20000,
	}, &created)
	doJSON(t, http.MethodPost, srv.URL+"/api/settlements/"+created.ID+"/complete",
		CompleteRequest{}, nil)
	doJSON(t, http.MethodPost, srv.URL+"/api/settlements/"+created.ID+"/release",
		ReleaseRequest{}, nil)

	status := doJSON(t, http.MethodPost, srv.URL+"/api/settlements/"+created.ID+"/hold",
		HoldRequest{Hold: true, Reason: "too late"}, nil)
	assert.Equal(t, http.StatusConflict, status)
}

// =============================================================================
// OVERRIDES
// =============================================================================

func TestAPI_WorkerOverrides(t *testing.T) {
	srv, _ := newTestServer(t)
	createWorker(t, srv, "chef-1", "acct_1")

	elite := "elite"
	var updated WorkerDTO
	status := doJSON(t, http.MethodPut, srv.URL+"/api/workers/chef-1/overrides",
		OverridesRequest{TierOverride: &elite}, &updated)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, updated.TierOverride)
	assert.Equal(t, "elite", *updated.TierOverride)

	// Unknown tier value -> 400
	bogus := "platinum"
	status = doJSON(t, http.MethodPut, srv.URL+"/api/workers/chef-1/overrides",
		OverridesRequest{TierOverride: &bogus}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Empty string clears the override.
	none := ""
	var cleared WorkerDTO
	status = doJSON(t, http.MethodPut, srv.URL+"/api/workers/chef-1/overrides",
		OverridesRequest{TierOverride: &none}, &cleared)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, cleared.TierOverride)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestAPI_LoadScenario(t *testing.T) {
	srv, _ := newTestServer(t)

	status := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "pro-tier-bonus"}, nil)
	require.Equal(t, http.StatusOK, status)

	var workers []WorkerDTO
	status = doJSON(t, http.MethodGet, srv.URL+"/api/workers", nil, &workers)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, workers, 1)

	var settlements []SettlementDTO
	status = doJSON(t, http.MethodGet, srv.URL+"/api/settlements", nil, &settlements)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, settlements, 1)

	// The seeded chef previews at Pro with a bonus.
	var preview PreviewDTO
	status = doJSON(t, http.MethodGet, srv.URL+"/api/settlements/"+settlements[0].ID+"/preview", nil, &preview)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pro", preview.Tier)
	assert.Equal(t, int64(11000), preview.BaseCents)
	assert.Equal(t, int64(770), preview.BonusCents)

	status = doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "unknown"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
