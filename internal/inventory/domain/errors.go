package domain

import "errors"

// Stable error taxonomy for the inventory core. Callers classify with
// errors.Is; everything the engine returns wraps one of these.
var (
	// ErrValidation indicates malformed input; the caller must fix the request.
	ErrValidation = errors.New("validation error")

	// ErrNoInventoryRecord indicates a date in the requested range has no
	// availability record. The range must be materialized first.
	ErrNoInventoryRecord = errors.New("no inventory record")

	// ErrGateClosed indicates a stop-sell / closed-to-arrival /
	// closed-to-departure flag refused the booking.
	ErrGateClosed = errors.New("gate closed")

	// ErrInsufficientAvailability indicates a date in the range has fewer
	// rooms available than requested.
	ErrInsufficientAvailability = errors.New("insufficient availability")

	// ErrLockBusy indicates the per-room-type lock is held elsewhere.
	// Retryable with backoff.
	ErrLockBusy = errors.New("lock busy")

	// ErrLockLost indicates a lock expired before it could be extended.
	ErrLockLost = errors.New("lock lost")

	// ErrTransactionAborted indicates the store aborted the transaction.
	// Retryable; no counters moved.
	ErrTransactionAborted = errors.New("transaction aborted")

	// ErrConstraintViolation indicates a counter invariant would be broken.
	// Never auto-retried.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrDuplicateDelivery indicates a channel event was already processed.
	// Ingest treats it as success.
	ErrDuplicateDelivery = errors.New("duplicate delivery")

	// ErrBookingNotFound indicates no booking matches the channel reference.
	ErrBookingNotFound = errors.New("booking not found")
)

// IsRetryable reports whether the engine may transparently retry the
// whole operation after releasing the lock.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockBusy) || errors.Is(err, ErrTransactionAborted)
}
