package inventory

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tair/roomsync/internal/inventory/domain"
)

var (
	bookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsync_bookings_total",
		Help: "Completed bookings by source",
	}, []string{"source"})

	releasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsync_releases_total",
		Help: "Completed releases by source",
	}, []string{"source"})

	bookingFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsync_booking_failures_total",
		Help: "Failed book/release operations by reason",
	}, []string{"reason"})

	lockContentionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_lock_contention_total",
		Help: "Inventory lock acquisitions refused because another holder exists",
	})

	deltaPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_delta_publish_failures_total",
		Help: "Availability delta events that failed to publish post-commit",
	})
)

// failureReason maps an error onto its taxonomy label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNoInventoryRecord):
		return "no_inventory_record"
	case errors.Is(err, domain.ErrGateClosed):
		return "gate_closed"
	case errors.Is(err, domain.ErrInsufficientAvailability):
		return "insufficient_availability"
	case errors.Is(err, domain.ErrLockBusy):
		return "lock_busy"
	case errors.Is(err, domain.ErrTransactionAborted):
		return "transaction_aborted"
	case errors.Is(err, domain.ErrConstraintViolation):
		return "constraint_violation"
	default:
		return "internal"
	}
}
