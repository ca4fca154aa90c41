/*
store.go - Persistence interfaces for the settlement engine

PURPOSE:
  Defines the interface between the gate and the database. The settlement
  record is the only mutable shared resource in this core; the interfaces
  below make its two write disciplines explicit:

  - UpdateUnpaid: conditional update guarded on status != paid. This is the
    compare-and-swap that makes the paid transition safe under concurrent
    release calls: two invocations can both compute, but only one lands the
    paid row. It never writes the hold columns, so an admin hold set while
    a release is in flight survives the release's write.
  - UpdateHold: the admin-only write path for the hold columns. It touches
    nothing the pipeline computes.
  - The events table is append-only, in the spirit of an audit log.

IMPLEMENTATIONS:
  - store/sqlite:          production SQLite (guard in the UPDATE's WHERE)
  - settlement/store:      in-memory, for tests and dev
*/
package settlement

import (
	"context"
	"time"
)

// =============================================================================
// SETTLEMENT STORE
// =============================================================================

// SettlementStore persists settlement records.
type SettlementStore interface {
	// CreateSettlement inserts a new record. Returns ErrDuplicateSettlement
	// when a settlement already exists for the same job.
	CreateSettlement(ctx context.Context, s Settlement) error

	// GetSettlement returns ErrSettlementNotFound when absent.
	GetSettlement(ctx context.Context, id SettlementID) (*Settlement, error)

	ListSettlements(ctx context.Context) ([]Settlement, error)
	ListSettlementsByWorker(ctx context.Context, workerID WorkerID) ([]Settlement, error)

	// UpdateUnpaid writes the record only while the stored row's status is
	// not paid. Returns false (and no error) when the guard fails, i.e. a
	// concurrent invocation already paid the settlement. This is the ONLY
	// way computed fields are written; nothing updates a paid row.
	//
	// The hold columns are NOT part of the write set: administrators own
	// them and write them asynchronously through UpdateHold. Implementations
	// keep the stored hold, and when it is set they store on_hold instead of
	// any non-paid status the caller computed.
	UpdateUnpaid(ctx context.Context, s Settlement) (bool, error)

	// UpdateHold writes the hold columns and status, nothing else. Guarded
	// the same way as UpdateUnpaid: false when the row is already paid.
	UpdateHold(ctx context.Context, id SettlementID, hold bool, reason string, status Status, updatedAt time.Time) (bool, error)
}

// =============================================================================
// WORKER STORE
// =============================================================================

// WorkerStore persists worker profiles. Overrides are admin-written;
// the settlement pipeline only reads.
type WorkerStore interface {
	SaveWorker(ctx context.Context, w WorkerProfile) error
	GetWorker(ctx context.Context, id WorkerID) (*WorkerProfile, error)
	ListWorkers(ctx context.Context) ([]WorkerProfile, error)
}

// =============================================================================
// RATE STORE
// =============================================================================

// RateStore is the currency rate table, keyed by (from, to). The engine only
// reads; the periodic rate-fetch job (out of scope) writes.
type RateStore interface {
	// GetRate returns nil (and no error) when no rate is stored for the pair.
	GetRate(ctx context.Context, from, to string) (*CurrencyRate, error)
	SaveRate(ctx context.Context, r CurrencyRate) error
	ListRates(ctx context.Context) ([]CurrencyRate, error)
}

// =============================================================================
// EVENT STORE
// =============================================================================

// EventStore is the append-only audit trail for settlements.
type EventStore interface {
	AppendEvent(ctx context.Context, e SettlementEvent) error
	EventsFor(ctx context.Context, id SettlementID) ([]SettlementEvent, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is everything the engine needs from persistence.
type Store interface {
	SettlementStore
	WorkerStore
	RateStore
	EventStore
}
