/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (HTTP handlers, stores) map these to their own surfaces.

ERROR CATEGORIES:
  1. Input errors       - rejected synchronously, no state mutation
  2. Invariant errors   - post-paid mutation attempts (programming bugs)
  3. Transfer errors    - processor outcomes the gate must classify

Upstream outages (signals provider, rate table) are intentionally NOT
errors at this level: tiering degrades to Standard, bonus to zero, and
currency to base. A payout never blocks on a degraded signal alone.
*/
package settlement

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSettlementNotFound is returned when a referenced settlement doesn't exist.
	ErrSettlementNotFound = errors.New("settlement not found")

	// ErrWorkerNotFound is returned when a referenced worker doesn't exist.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrDuplicateSettlement is returned when a settlement already exists
	// for the same job. Exactly one settlement record exists per job.
	ErrDuplicateSettlement = errors.New("settlement already exists for job")

	// ErrInvalidAmount is returned for non-positive quote or base amounts
	// on record creation.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidTier is returned for an unknown tier override value.
	ErrInvalidTier = errors.New("invalid tier")

	// ErrAlreadyPaid is returned when a mutation targets a paid settlement.
	// This is a programming invariant, not a user-facing error: a paid
	// settlement is immutable, and hitting this indicates a bug elsewhere.
	// The gate logs it as a critical anomaly.
	ErrAlreadyPaid = errors.New("settlement already paid")

	// ErrTransferUnverified is returned by a payment processor when the
	// outcome of a transfer is unknown (timeout, ambiguous response). The
	// gate must treat this as blocked pending verification, never as paid.
	ErrTransferUnverified = errors.New("transfer outcome unverified")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransferError carries the processor's failure reason for a transfer that
// definitively did not happen. Retryable failures may succeed on an explicit
// re-release; either way the reason lands in the settlement's blockers.
type TransferError struct {
	Reason    string
	Retryable bool
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed: %s", e.Reason)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSettlementNotFound) || errors.Is(err, ErrWorkerNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidTier) ||
		errors.Is(err, ErrDuplicateSettlement)
}
