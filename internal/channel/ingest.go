package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tair/roomsync/internal/inventory"
	"github.com/tair/roomsync/internal/inventory/domain"
	"github.com/tair/roomsync/internal/lock"
	"github.com/tair/roomsync/kafka"
	"github.com/tair/roomsync/pkg/logger"
)

var (
	ingestEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsync_channel_events_total",
		Help: "Channel events processed by type and outcome",
	}, []string{"event_type", "outcome"})

	oversoldAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_oversold_alerts_total",
		Help: "Channel reservations refused for capacity or gating, implying OTA oversold",
	})

	deadLettersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomsync_channel_dead_letters_total",
		Help: "Channel events forwarded to the dead-letter topic",
	})
)

// DeadLetterPublisher forwards unprocessable events for manual reconciliation.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, event kafka.ChannelEvent, reason string) error
}

// Ingest turns external channel events into inventory engine calls with
// idempotent re-delivery and provenance tracking. All inventory writes go
// through the engine; the ingest never touches availability records directly.
type Ingest struct {
	engine      *inventory.Engine
	bookings    domain.BookingRepository
	store       domain.AvailabilityStore
	locks       lock.Manager
	deadLetter  DeadLetterPublisher
	maxAttempts int
	backoff     time.Duration
}

// NewIngest creates a new channel ingest handler
func NewIngest(engine *inventory.Engine, bookings domain.BookingRepository, store domain.AvailabilityStore, locks lock.Manager, deadLetter DeadLetterPublisher) *Ingest {
	return &Ingest{
		engine:      engine,
		bookings:    bookings,
		store:       store,
		locks:       locks,
		deadLetter:  deadLetter,
		maxAttempts: 5,
		backoff:     100 * time.Millisecond,
	}
}

// Register wires the four event kinds onto the consumer. Handler errors that
// survive the consumer's retries are dead-lettered there, so a repository
// failure is never dropped with the offset commit.
func (i *Ingest) Register(consumer *kafka.Consumer) {
	consumer.RegisterHandler(kafka.EventTypeReservation, i.HandleReservation)
	consumer.RegisterHandler(kafka.EventTypeModification, i.HandleModification)
	consumer.RegisterHandler(kafka.EventTypeCancellation, i.HandleCancellation)
	consumer.RegisterHandler(kafka.EventTypeRateChange, i.HandleRateChange)
	consumer.SetErrorPolicy(domain.IsRetryable, i.deadLetter.PublishDeadLetter, i.maxAttempts, i.backoff)
}

// HandleReservation books inventory for an external reservation exactly
// once. (channel, channel_booking_id) is the sole idempotency key; a
// redelivered event returns the existing booking untouched.
func (i *Ingest) HandleReservation(ctx context.Context, event kafka.ChannelEvent) error {
	if event.ChannelBookingID == "" || event.Channel == "" {
		return i.reject(ctx, event, "reservation missing channel or channel_booking_id")
	}

	source := domain.Source(event.Channel)
	existing, err := i.bookings.FindByChannel(ctx, source, event.ChannelBookingID)
	if err != nil {
		return err
	}
	if existing != nil {
		ingestEventsTotal.WithLabelValues(string(event.EventType), "duplicate").Inc()
		logger.Info(ctx).
			Str("channel", event.Channel).
			Str("channel_booking_id", event.ChannelBookingID).
			Msg("Duplicate reservation delivery, returning existing booking")
		return nil
	}

	rooms := event.Rooms
	if rooms < 1 {
		rooms = 1
	}

	req := inventory.BookRequest{
		HotelID:       event.HotelID,
		RoomTypeID:    event.RoomTypeID,
		CheckIn:       event.CheckIn,
		CheckOut:      event.CheckOut,
		Rooms:         rooms,
		Source:        source,
		ChannelID:     event.ChannelReservationID,
		CorrelationID: event.ChannelBookingID,
	}

	var result *inventory.BookingResult
	err = i.withRetry(ctx, func() error {
		var bookErr error
		result, bookErr = i.engine.Book(ctx, req)
		return bookErr
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientAvailability) || errors.Is(err, domain.ErrGateClosed) {
			// The OTA sold what we do not have. Alert operators and keep
			// the event for manual reconciliation; never silently overbook.
			oversoldAlertsTotal.Inc()
			logger.Error(ctx).
				Err(err).
				Str("channel", event.Channel).
				Str("channel_booking_id", event.ChannelBookingID).
				Str("hotel_id", event.HotelID).
				Str("room_type_id", event.RoomTypeID).
				Msg("OVERSOLD: channel reservation refused")
		}
		return i.reject(ctx, event, err.Error())
	}

	booking := &domain.Booking{
		BookingID:            uuid.NewString(),
		HotelID:              event.HotelID,
		RoomTypeID:           event.RoomTypeID,
		CheckIn:              result.CheckIn,
		CheckOut:             result.CheckOut,
		Nights:               result.Nights,
		Rooms:                rooms,
		Status:               domain.BookingStatusConfirmed,
		Source:               source,
		ChannelBookingID:     event.ChannelBookingID,
		ChannelReservationID: event.ChannelReservationID,
		ChannelData:          event.ChannelData,
		ConfirmationCode:     event.ConfirmationCode,
		BookerCountry:        event.BookerCountry,
		BookerLanguage:       event.BookerLanguage,
	}
	if err := i.bookings.Create(ctx, booking); err != nil {
		if errors.Is(err, domain.ErrDuplicateDelivery) {
			// A concurrent delivery won the unique index race after both
			// passed the dedupe read. Undo our decrement; theirs stands.
			if _, relErr := i.engine.Release(ctx, inventory.ReleaseRequest(req)); relErr != nil {
				logger.Error(ctx).
					Err(relErr).
					Str("channel_booking_id", event.ChannelBookingID).
					Msg("Failed to compensate duplicate reservation race")
				return relErr
			}
			ingestEventsTotal.WithLabelValues(string(event.EventType), "duplicate").Inc()
			return nil
		}
		return err
	}

	ingestEventsTotal.WithLabelValues(string(event.EventType), "success").Inc()
	logger.Info(ctx).
		Str("booking_id", booking.BookingID).
		Str("channel", event.Channel).
		Str("channel_booking_id", event.ChannelBookingID).
		Int("rooms", rooms).
		Msg("Channel reservation booked")
	return nil
}

// HandleModification applies a date or room-count change as a release of
// the old range followed by a booking of the new one, reinstating the old
// range when the new booking fails. A booking-scoped lock keeps two
// modifications of the same booking from racing.
func (i *Ingest) HandleModification(ctx context.Context, event kafka.ChannelEvent) error {
	booking, unlock, err := i.lockedBooking(ctx, event)
	if err != nil {
		return err
	}
	if booking == nil {
		return i.reject(ctx, event, "modification for unknown booking")
	}
	defer unlock()

	newCheckIn := booking.CheckIn
	newCheckOut := booking.CheckOut
	newRooms := booking.Rooms
	if !event.CheckIn.IsZero() {
		newCheckIn = domain.NormalizeDate(event.CheckIn)
	}
	if !event.CheckOut.IsZero() {
		newCheckOut = domain.NormalizeDate(event.CheckOut)
	}
	if event.Rooms > 0 {
		newRooms = event.Rooms
	}

	datesChanged := !newCheckIn.Equal(domain.NormalizeDate(booking.CheckIn)) ||
		!newCheckOut.Equal(domain.NormalizeDate(booking.CheckOut))
	roomsChanged := newRooms != booking.Rooms

	oldValues, _ := json.Marshal(map[string]interface{}{
		"check_in": booking.CheckIn, "check_out": booking.CheckOut, "rooms": booking.Rooms,
	})
	newValues, _ := json.Marshal(map[string]interface{}{
		"check_in": newCheckIn, "check_out": newCheckOut, "rooms": newRooms,
	})

	if datesChanged || roomsChanged {
		oldReq := inventory.ReleaseRequest{
			HotelID:       booking.HotelID,
			RoomTypeID:    booking.RoomTypeID,
			CheckIn:       booking.CheckIn,
			CheckOut:      booking.CheckOut,
			Rooms:         booking.Rooms,
			Source:        booking.Source,
			CorrelationID: event.ChannelBookingID,
		}
		if _, err := i.engine.Release(ctx, oldReq); err != nil {
			return i.reject(ctx, event, fmt.Sprintf("release of old range failed: %v", err))
		}

		newReq := inventory.BookRequest{
			HotelID:       booking.HotelID,
			RoomTypeID:    booking.RoomTypeID,
			CheckIn:       newCheckIn,
			CheckOut:      newCheckOut,
			Rooms:         newRooms,
			Source:        booking.Source,
			CorrelationID: event.ChannelBookingID,
		}
		if _, err := i.engine.Book(ctx, newReq); err != nil {
			// Reinstate the old range so the booking stays whole.
			if _, compErr := i.engine.Book(ctx, inventory.BookRequest(oldReq)); compErr != nil {
				logger.Error(ctx).
					Err(compErr).
					Str("channel_booking_id", event.ChannelBookingID).
					Msg("Failed to reinstate old range after modification failure")
			}
			return i.reject(ctx, event, fmt.Sprintf("booking of new range failed: %v", err))
		}

		booking.CheckIn = newCheckIn
		booking.CheckOut = newCheckOut
		booking.Rooms = newRooms
		booking.Nights = domain.Nights(newCheckIn, newCheckOut)
		if err := i.bookings.Update(ctx, booking); err != nil {
			return err
		}
	}

	mod := domain.BookingModification{
		ModificationID: uuid.NewString(),
		Type:           modificationType(event),
		Date:           time.Now().UTC(),
		OldValues:      oldValues,
		NewValues:      newValues,
		Initiator:      event.Channel,
		Reason:         event.Reason,
	}
	if err := i.bookings.AppendModification(ctx, booking, mod); err != nil {
		return err
	}

	ingestEventsTotal.WithLabelValues(string(event.EventType), "success").Inc()
	return nil
}

// HandleCancellation releases the booked range and marks the booking cancelled.
func (i *Ingest) HandleCancellation(ctx context.Context, event kafka.ChannelEvent) error {
	booking, unlock, err := i.lockedBooking(ctx, event)
	if err != nil {
		return err
	}
	if booking == nil {
		return i.reject(ctx, event, "cancellation for unknown booking")
	}
	defer unlock()

	if booking.Status == domain.BookingStatusCancelled {
		ingestEventsTotal.WithLabelValues(string(event.EventType), "duplicate").Inc()
		return nil
	}

	req := inventory.ReleaseRequest{
		HotelID:       booking.HotelID,
		RoomTypeID:    booking.RoomTypeID,
		CheckIn:       booking.CheckIn,
		CheckOut:      booking.CheckOut,
		Rooms:         booking.Rooms,
		Source:        booking.Source,
		CorrelationID: event.ChannelBookingID,
	}
	err = i.withRetry(ctx, func() error {
		_, relErr := i.engine.Release(ctx, req)
		return relErr
	})
	if err != nil {
		return i.reject(ctx, event, err.Error())
	}

	booking.Status = domain.BookingStatusCancelled
	if err := i.bookings.Update(ctx, booking); err != nil {
		return err
	}

	mod := domain.BookingModification{
		ModificationID: uuid.NewString(),
		Type:           "cancellation",
		Date:           time.Now().UTC(),
		Initiator:      event.Channel,
		Reason:         event.Reason,
	}
	if err := i.bookings.AppendModification(ctx, booking, mod); err != nil {
		return err
	}

	ingestEventsTotal.WithLabelValues(string(event.EventType), "success").Inc()
	logger.Info(ctx).
		Str("booking_id", booking.BookingID).
		Str("channel_booking_id", event.ChannelBookingID).
		Msg("Channel booking cancelled")
	return nil
}

// HandleRateChange updates rates for the affected dates: through a channel
// override when channel-specific, directly on the base record otherwise.
// Either path flags the records for publisher fan-out.
func (i *Ingest) HandleRateChange(ctx context.Context, event kafka.ChannelEvent) error {
	if event.Rate <= 0 {
		return i.reject(ctx, event, "rate_change with non-positive rate")
	}

	dates := domain.DateRange(event.CheckIn, event.CheckOut)
	if len(dates) == 0 {
		return i.reject(ctx, event, "rate_change with empty date range")
	}

	channelSpecific := event.Channel != "" && event.Channel != string(domain.SourceDirect)
	for _, d := range dates {
		var err error
		if channelSpecific {
			rate := event.Rate
			err = i.store.UpsertChannelOverride(ctx, domain.ChannelOverride{
				HotelID:     event.HotelID,
				RoomTypeID:  event.RoomTypeID,
				Date:        d,
				Channel:     event.Channel,
				ChannelRate: &rate,
			})
		} else {
			err = i.store.UpdateRate(ctx, event.HotelID, event.RoomTypeID, d, event.Rate, event.Currency)
		}
		if err != nil {
			return i.reject(ctx, event, err.Error())
		}
	}

	ingestEventsTotal.WithLabelValues(string(event.EventType), "success").Inc()
	return nil
}

// lockedBooking serializes modification-class events per booking and looks
// the booking up. When a booking is found the returned unlock func must be
// called; it is nil otherwise.
func (i *Ingest) lockedBooking(ctx context.Context, event kafka.ChannelEvent) (*domain.Booking, func(), error) {
	if event.ChannelBookingID == "" {
		return nil, nil, nil
	}

	key := fmt.Sprintf("booking:%s:%s", event.Channel, event.ChannelBookingID)
	var token string
	err := i.withRetry(ctx, func() error {
		var acquireErr error
		token, acquireErr = i.locks.Acquire(ctx, key, 30*time.Second)
		return acquireErr
	})
	if err != nil {
		return nil, nil, err
	}

	booking, err := i.bookings.FindByChannel(ctx, domain.Source(event.Channel), event.ChannelBookingID)
	if err != nil || booking == nil {
		_ = i.locks.Release(ctx, key, token)
		return nil, nil, err
	}

	unlock := func() {
		_ = i.locks.Release(ctx, key, token)
	}
	return booking, unlock, nil
}

// reject dead-letters the event and treats it as consumed.
func (i *Ingest) reject(ctx context.Context, event kafka.ChannelEvent, reason string) error {
	deadLettersTotal.Inc()
	ingestEventsTotal.WithLabelValues(string(event.EventType), "dead_letter").Inc()
	if err := i.deadLetter.PublishDeadLetter(ctx, event, reason); err != nil {
		return fmt.Errorf("dead-letter publish: %w", err)
	}
	return nil
}

// withRetry retries transient failures with exponential backoff up to
// maxAttempts; non-transient failures surface immediately.
func (i *Ingest) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < i.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(i.backoff << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func modificationType(event kafka.ChannelEvent) string {
	if event.ModificationType != "" {
		return event.ModificationType
	}
	return "modification"
}
