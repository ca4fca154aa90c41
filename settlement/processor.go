/*
processor.go - Payment processor port

PURPOSE:
  The external "create transfer" operation. The real processor is out of
  scope; it is assumed idempotent per request key and returns either a
  transfer identifier or a failure.

IDEMPOTENCY:
  The gate derives the request key deterministically from the settlement id
  ("payout-<settlement-id>"), never a random token. If a storage-update race
  lets two release calls through, both present the same key and at most one
  real transfer exists.

OUTCOME CLASSIFICATION (by the gate):
  nil error             -> paid
  ErrTransferUnverified -> blocked, "transfer pending verification"
  *TransferError        -> blocked, reason recorded
  any other error       -> blocked, reason recorded
*/
package settlement

import (
	"context"
	"fmt"
	"sync"
)

// TransferRequest is one transfer attempt. Amounts are always base-currency
// cents; currency conversion is display-only.
type TransferRequest struct {
	IdempotencyKey     string
	AmountCents        int64
	Currency           string
	DestinationAccount string
}

// TransferResult is a successful transfer.
type TransferResult struct {
	TransferID string
}

// PaymentProcessor creates transfers. Implementations must be idempotent per
// IdempotencyKey: repeating a request returns the original transfer.
type PaymentProcessor interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// TransferKey returns the deterministic idempotency key for a settlement.
func TransferKey(id SettlementID) string {
	return fmt.Sprintf("payout-%s", id)
}

// =============================================================================
// FAKE PROCESSOR - for tests, demos and local development
// =============================================================================

// FakeProcessor records transfers in memory and honors idempotency keys the
// way the real processor does.
type FakeProcessor struct {
	mu        sync.Mutex
	transfers map[string]string // idempotency key -> transfer id
	calls     int

	// FailWith, when set, makes every new transfer fail. Replays of an
	// already-succeeded key still return the original transfer.
	FailWith error
}

func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{transfers: make(map[string]string)}
}

func (p *FakeProcessor) CreateTransfer(_ context.Context, req TransferRequest) (*TransferResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if id, ok := p.transfers[req.IdempotencyKey]; ok {
		return &TransferResult{TransferID: id}, nil
	}
	if p.FailWith != nil {
		return nil, p.FailWith
	}
	id := fmt.Sprintf("tr_%06d", len(p.transfers)+1)
	p.transfers[req.IdempotencyKey] = id
	return &TransferResult{TransferID: id}, nil
}

// Calls returns how many times CreateTransfer was invoked (replays included).
func (p *FakeProcessor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// TransferCount returns how many distinct real transfers exist.
func (p *FakeProcessor) TransferCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transfers)
}
