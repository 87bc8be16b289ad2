package inventory

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/tair/roomsync/internal/inventory/domain"
	"github.com/tair/roomsync/internal/lock"
	"github.com/tair/roomsync/kafka"
	"github.com/tair/roomsync/pkg/logger"
)

// DeltaPublisher emits availability deltas to the event bus post-commit,
// at-least-once. Consumers deduplicate by correlation_id + date.
type DeltaPublisher interface {
	PublishAvailabilityDelta(ctx context.Context, event kafka.AvailabilityDeltaEvent) error
}

// Config holds the engine tunables.
type Config struct {
	LockTTL            time.Duration // per-room-type lock expiry
	MaxNights          int           // bounds transaction size
	MaxRetries         int           // internal retries for lock busy / tx aborted
	RetryBackoff       time.Duration // base backoff, doubled per attempt with jitter
	DownstreamChannels []string      // fan-out targets carried on delta events
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		LockTTL:      30 * time.Second,
		MaxNights:    90,
		MaxRetries:   3,
		RetryBackoff: 50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LockTTL <= 0 {
		c.LockTTL = d.LockTTL
	}
	if c.MaxNights <= 0 {
		c.MaxNights = d.MaxNights
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	return c
}

// Engine serializes all mutations of a (hotel, room-type) behind the
// distributed lock and applies them atomically inside one store transaction.
type Engine struct {
	store     domain.AvailabilityStore
	locks     lock.Manager
	publisher DeltaPublisher
	cfg       Config
}

// NewEngine creates a new inventory engine
func NewEngine(store domain.AvailabilityStore, locks lock.Manager, publisher DeltaPublisher, cfg Config) *Engine {
	return &Engine{
		store:     store,
		locks:     locks,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
	}
}

// BookRequest describes a booking over [CheckIn, CheckOut).
type BookRequest struct {
	HotelID       string        `json:"hotel_id"`
	RoomTypeID    string        `json:"room_type_id"`
	CheckIn       time.Time     `json:"check_in"`
	CheckOut      time.Time     `json:"check_out"`
	Rooms         int           `json:"rooms"`
	Source        domain.Source `json:"source"`
	ChannelID     string        `json:"channel_id,omitempty"`
	CorrelationID string        `json:"correlation_id,omitempty"`
}

// ReleaseRequest mirrors BookRequest for the release path.
type ReleaseRequest BookRequest

// BookingResult reports a committed booking.
type BookingResult struct {
	HotelID       string            `json:"hotel_id"`
	RoomTypeID    string            `json:"room_type_id"`
	CheckIn       time.Time         `json:"check_in"`
	CheckOut      time.Time         `json:"check_out"`
	Rooms         int               `json:"rooms"`
	Nights        int               `json:"nights"`
	CorrelationID string            `json:"correlation_id"`
	PerDate       []kafka.DateDelta `json:"per_date"`
}

// ReleaseResult reports a committed release.
type ReleaseResult BookingResult

// CheckResult is one advisory probe outcome from BatchCheck.
type CheckResult struct {
	Request   BookRequest `json:"request"`
	Available bool        `json:"available"`
	Reason    string      `json:"reason,omitempty"`
}

func (r *BookRequest) normalize(maxNights int) error {
	if r.HotelID == "" || r.RoomTypeID == "" {
		return fmt.Errorf("hotel_id and room_type_id are required: %w", domain.ErrValidation)
	}
	if r.Rooms < 1 {
		return fmt.Errorf("rooms must be >= 1: %w", domain.ErrValidation)
	}
	r.CheckIn = domain.NormalizeDate(r.CheckIn)
	r.CheckOut = domain.NormalizeDate(r.CheckOut)
	nights := domain.Nights(r.CheckIn, r.CheckOut)
	if nights < 1 {
		return fmt.Errorf("check_out must be after check_in: %w", domain.ErrValidation)
	}
	if nights > maxNights {
		return fmt.Errorf("stay of %d nights exceeds maximum of %d: %w", nights, maxNights, domain.ErrValidation)
	}
	if r.Source == "" {
		r.Source = domain.SourceDirect
	}
	if r.CorrelationID == "" {
		r.CorrelationID = uuid.NewString()
	}
	return nil
}

// Book reserves rooms for every date in [CheckIn, CheckOut). On success all
// per-date mutations are visible atomically and exactly one availability
// delta has been enqueued. Lock contention and aborted transactions are
// retried internally with jittered backoff; everything else surfaces
// immediately.
func (e *Engine) Book(ctx context.Context, req BookRequest) (*BookingResult, error) {
	if err := req.normalize(e.cfg.MaxNights); err != nil {
		bookingFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	delta := domain.Delta{Available: -req.Rooms, Sold: req.Rooms}
	result, err := e.mutateWithRetry(ctx, req, delta, true)
	if err != nil {
		bookingFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	bookingsTotal.WithLabelValues(string(req.Source)).Inc()
	logger.Info(ctx).
		Str("hotel_id", req.HotelID).
		Str("room_type_id", req.RoomTypeID).
		Str("check_in", req.CheckIn.Format("2006-01-02")).
		Str("check_out", req.CheckOut.Format("2006-01-02")).
		Int("rooms", req.Rooms).
		Str("source", string(req.Source)).
		Str("correlation_id", req.CorrelationID).
		Msg("Booking committed")

	return result, nil
}

// Release returns rooms to availability for every date in the range. A
// release that would drive sold negative fails with ErrConstraintViolation
// and leaves state untouched.
func (e *Engine) Release(ctx context.Context, req ReleaseRequest) (*ReleaseResult, error) {
	br := BookRequest(req)
	if err := br.normalize(e.cfg.MaxNights); err != nil {
		bookingFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	delta := domain.Delta{Available: br.Rooms, Sold: -br.Rooms}
	result, err := e.mutateWithRetry(ctx, br, delta, false)
	if err != nil {
		bookingFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	releasesTotal.WithLabelValues(string(br.Source)).Inc()
	logger.Info(ctx).
		Str("hotel_id", br.HotelID).
		Str("room_type_id", br.RoomTypeID).
		Int("rooms", br.Rooms).
		Str("correlation_id", br.CorrelationID).
		Msg("Release committed")

	res := ReleaseResult(*result)
	return &res, nil
}

// mutateWithRetry drives the lock-transact-publish cycle, retrying only
// lock contention and aborted transactions.
func (e *Engine) mutateWithRetry(ctx context.Context, req BookRequest, delta domain.Delta, checkGates bool) (*BookingResult, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := e.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		result, err := e.mutateOnce(ctx, req, delta, checkGates)
		if err == nil {
			return result, nil
		}
		if !domain.IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		logger.Warn(ctx).
			Err(err).
			Int("attempt", attempt+1).
			Str("hotel_id", req.HotelID).
			Str("room_type_id", req.RoomTypeID).
			Msg("Retryable inventory mutation failure")
	}
	return nil, lastErr
}

// mutateOnce runs one lock-transact-publish cycle. The lock is released on
// every exit path; the delta event is emitted post-commit only.
func (e *Engine) mutateOnce(ctx context.Context, req BookRequest, delta domain.Delta, checkGates bool) (*BookingResult, error) {
	key := lock.InventoryKey(req.HotelID, req.RoomTypeID)
	token, err := e.locks.Acquire(ctx, key, e.cfg.LockTTL)
	if err != nil {
		lockContentionTotal.Inc()
		return nil, err
	}
	defer func() {
		if err := e.locks.Release(ctx, key, token); err != nil {
			logger.Warn(ctx).Err(err).Str("lock_key", key).Msg("Lock release failed")
		}
	}()

	dates := domain.DateRange(req.CheckIn, req.CheckOut)
	perDate := make([]kafka.DateDelta, 0, len(dates))

	err = e.store.WithTx(ctx, func(txCtx context.Context) error {
		records, err := e.store.ReadRange(txCtx, req.HotelID, req.RoomTypeID, req.CheckIn, req.CheckOut)
		if err != nil {
			return err
		}

		if checkGates {
			if err := verifyRange(records, req.Rooms); err != nil {
				return err
			}
		}

		// Ascending date order; together with the single per-room-type
		// lock this rules out cross-booking deadlocks.
		for _, d := range dates {
			entry := domain.JournalEntry{
				Source:        req.Source,
				ChannelID:     req.ChannelID,
				RoomsReserved: delta.Sold,
				Timestamp:     time.Now().UTC(),
				CorrelationID: req.CorrelationID,
			}
			if err := e.store.AtomicAdjust(txCtx, req.HotelID, req.RoomTypeID, d, delta, entry); err != nil {
				return err
			}
			perDate = append(perDate, kafka.DateDelta{Date: d, Available: delta.Available, Sold: delta.Sold})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publishDelta(ctx, req, perDate)

	return &BookingResult{
		HotelID:       req.HotelID,
		RoomTypeID:    req.RoomTypeID,
		CheckIn:       req.CheckIn,
		CheckOut:      req.CheckOut,
		Rooms:         req.Rooms,
		Nights:        len(dates),
		CorrelationID: req.CorrelationID,
		PerDate:       perDate,
	}, nil
}

// verifyRange checks every date in order: record gates, then capacity.
// The first failure wins; nothing has been mutated yet.
func verifyRange(records []domain.AvailabilityRecord, rooms int) error {
	last := len(records) - 1
	for i, rec := range records {
		day := domain.NormalizeDate(rec.Date).Format("2006-01-02")
		if rec.StopSell {
			return fmt.Errorf("stop sell on %s: %w", day, domain.ErrGateClosed)
		}
		if i == 0 && rec.ClosedToArrival {
			return fmt.Errorf("closed to arrival on %s: %w", day, domain.ErrGateClosed)
		}
		if i == last && rec.ClosedToDeparture {
			return fmt.Errorf("closed to departure on %s: %w", day, domain.ErrGateClosed)
		}
		if rec.AvailableRooms < rooms {
			return fmt.Errorf("%d rooms requested, %d available on %s: %w",
				rooms, rec.AvailableRooms, day, domain.ErrInsufficientAvailability)
		}
	}
	return nil
}

// publishDelta emits the post-commit availability delta. Emit failure is
// logged and swallowed: the needs_sync flag set by the transaction lets the
// reconciliation sweep re-emit later.
func (e *Engine) publishDelta(ctx context.Context, req BookRequest, perDate []kafka.DateDelta) {
	event := kafka.AvailabilityDeltaEvent{
		HotelID:    req.HotelID,
		RoomTypeID: req.RoomTypeID,
		DateRange: kafka.DateRange{
			Start: req.CheckIn,
			End:   req.CheckOut,
		},
		PerDate:       perDate,
		Source:        string(req.Source),
		Channels:      e.cfg.DownstreamChannels,
		CorrelationID: req.CorrelationID,
	}
	if err := e.publisher.PublishAvailabilityDelta(ctx, event); err != nil {
		deltaPublishFailures.Inc()
		logger.Error(ctx).
			Err(err).
			Str("hotel_id", req.HotelID).
			Str("room_type_id", req.RoomTypeID).
			Str("correlation_id", req.CorrelationID).
			Msg("Availability delta publish failed, awaiting needs_sync sweep")
	}
}

// ReadForChannel returns the effective availability one channel should see
// for a date. Pure read, no lock; may observe any committed state between
// two mutations but never a partially applied range.
func (e *Engine) ReadForChannel(ctx context.Context, hotelID, roomTypeID string, date time.Time, channel string) (*domain.EffectiveAvailability, error) {
	record, err := e.store.Read(ctx, hotelID, roomTypeID, date)
	if err != nil {
		return nil, err
	}

	var override *domain.ChannelOverride
	if channel != "" {
		override, err = e.store.FindOverride(ctx, hotelID, roomTypeID, date, channel)
		if err != nil {
			return nil, err
		}
	}

	eff := record.Effective(override)
	return &eff, nil
}

// BatchCheck probes availability for a set of requests without locking.
// Results are advisory and may race with concurrent bookings.
func (e *Engine) BatchCheck(ctx context.Context, requests []BookRequest) []CheckResult {
	results := make([]CheckResult, 0, len(requests))
	for _, req := range requests {
		res := CheckResult{Request: req}
		if err := req.normalize(e.cfg.MaxNights); err != nil {
			res.Reason = err.Error()
			results = append(results, res)
			continue
		}

		records, err := e.store.ReadRange(ctx, req.HotelID, req.RoomTypeID, req.CheckIn, req.CheckOut)
		if err == nil {
			err = verifyRange(records, req.Rooms)
		}
		if err != nil {
			res.Reason = err.Error()
		} else {
			res.Available = true
		}
		results = append(results, res)
	}
	return results
}

// backoff sleeps for an exponentially growing, jittered interval.
func (e *Engine) backoff(ctx context.Context, attempt int) error {
	base := e.cfg.RetryBackoff << (attempt - 1)
	wait := base + time.Duration(rand.Int63n(int64(base)))
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
