// Package store provides settlement.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tablecraft/payout-engine/settlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	settlements map[settlement.SettlementID]settlement.Settlement
	byJob       map[string]settlement.SettlementID
	workers     map[settlement.WorkerID]settlement.WorkerProfile
	rates       map[ratePair]settlement.CurrencyRate
	events      map[settlement.SettlementID][]settlement.SettlementEvent
}

type ratePair struct {
	From string
	To   string
}

func NewMemory() *Memory {
	return &Memory{
		settlements: make(map[settlement.SettlementID]settlement.Settlement),
		byJob:       make(map[string]settlement.SettlementID),
		workers:     make(map[settlement.WorkerID]settlement.WorkerProfile),
		rates:       make(map[ratePair]settlement.CurrencyRate),
		events:      make(map[settlement.SettlementID][]settlement.SettlementEvent),
	}
}

var _ settlement.Store = (*Memory)(nil)

// =============================================================================
// SETTLEMENTS
// =============================================================================

func (m *Memory) CreateSettlement(_ context.Context, s settlement.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.settlements[s.ID]; ok {
		return settlement.ErrDuplicateSettlement
	}
	if s.JobID != "" {
		if _, ok := m.byJob[s.JobID]; ok {
			return settlement.ErrDuplicateSettlement
		}
		m.byJob[s.JobID] = s.ID
	}
	m.settlements[s.ID] = cloneSettlement(s)
	return nil
}

func (m *Memory) GetSettlement(_ context.Context, id settlement.SettlementID) (*settlement.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settlements[id]
	if !ok {
		return nil, settlement.ErrSettlementNotFound
	}
	out := cloneSettlement(s)
	return &out, nil
}

func (m *Memory) ListSettlements(_ context.Context) ([]settlement.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]settlement.Settlement, 0, len(m.settlements))
	for _, s := range m.settlements {
		out = append(out, cloneSettlement(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListSettlementsByWorker(_ context.Context, workerID settlement.WorkerID) ([]settlement.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.Settlement
	for _, s := range m.settlements {
		if s.WorkerID == workerID {
			out = append(out, cloneSettlement(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateUnpaid applies the update only while the stored row is not paid.
// The check and the write happen under one lock, mirroring the conditional
// UPDATE the SQLite store uses. The stored hold fields are kept: they belong
// to the admin path (UpdateHold), and when a hold is set the row stays
// on_hold regardless of the status the caller computed.
func (m *Memory) UpdateUnpaid(_ context.Context, s settlement.Settlement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.settlements[s.ID]
	if !ok {
		return false, settlement.ErrSettlementNotFound
	}
	if cur.Status == settlement.StatusPaid {
		return false, nil
	}

	upd := cloneSettlement(s)
	upd.PayoutHold = cur.PayoutHold
	upd.PayoutHoldReason = cur.PayoutHoldReason
	if upd.PayoutHold && upd.Status != settlement.StatusPaid {
		upd.Status = settlement.StatusOnHold
	}
	m.settlements[s.ID] = upd
	return true, nil
}

// UpdateHold writes the hold columns and status only, under the same
// not-paid guard.
func (m *Memory) UpdateHold(_ context.Context, id settlement.SettlementID, hold bool, reason string, status settlement.Status, updatedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.settlements[id]
	if !ok {
		return false, settlement.ErrSettlementNotFound
	}
	if cur.Status == settlement.StatusPaid {
		return false, nil
	}

	cur.PayoutHold = hold
	cur.PayoutHoldReason = reason
	cur.Status = status
	cur.UpdatedAt = updatedAt
	m.settlements[id] = cur
	return true, nil
}

// =============================================================================
// WORKERS
// =============================================================================

func (m *Memory) SaveWorker(_ context.Context, w settlement.WorkerProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.ID] = w
	return nil
}

func (m *Memory) GetWorker(_ context.Context, id settlement.WorkerID) (*settlement.WorkerProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workers[id]
	if !ok {
		return nil, settlement.ErrWorkerNotFound
	}
	return &w, nil
}

func (m *Memory) ListWorkers(_ context.Context) ([]settlement.WorkerProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]settlement.WorkerProfile, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// RATES
// =============================================================================

func (m *Memory) GetRate(_ context.Context, from, to string) (*settlement.CurrencyRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rates[ratePair{From: from, To: to}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) SaveRate(_ context.Context, r settlement.CurrencyRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[ratePair{From: r.From, To: r.To}] = r
	return nil
}

func (m *Memory) ListRates(_ context.Context) ([]settlement.CurrencyRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]settlement.CurrencyRate, 0, len(m.rates))
	for _, r := range m.rates {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out, nil
}

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) AppendEvent(_ context.Context, e settlement.SettlementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.SettlementID] = append(m.events[e.SettlementID], e)
	return nil
}

func (m *Memory) EventsFor(_ context.Context, id settlement.SettlementID) ([]settlement.SettlementEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]settlement.SettlementEvent, len(m.events[id]))
	copy(out, m.events[id])
	return out, nil
}

// Reset clears all data. Demo scenarios only.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements = make(map[settlement.SettlementID]settlement.Settlement)
	m.byJob = make(map[string]settlement.SettlementID)
	m.workers = make(map[settlement.WorkerID]settlement.WorkerProfile)
	m.rates = make(map[ratePair]settlement.CurrencyRate)
	m.events = make(map[settlement.SettlementID][]settlement.SettlementEvent)
	return nil
}

// cloneSettlement copies the record including its blockers slice so callers
// cannot alias stored state.
func cloneSettlement(s settlement.Settlement) settlement.Settlement {
	out := s
	if s.PayoutBlockers != nil {
		out.PayoutBlockers = append([]string(nil), s.PayoutBlockers...)
	}
	if s.BonusBreakdown != nil {
		out.BonusBreakdown = append([]settlement.BonusLine(nil), s.BonusBreakdown...)
	}
	if s.JobCompletedAt != nil {
		t := *s.JobCompletedAt
		out.JobCompletedAt = &t
	}
	if s.PaidAt != nil {
		t := *s.PaidAt
		out.PaidAt = &t
	}
	return out
}
