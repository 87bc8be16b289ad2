package repository

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tair/roomsync/internal/inventory/domain"
)

var tracer = otel.Tracer("availability-store")

// TracingAvailabilityStore wraps an AvailabilityStore with tracing spans
// around the transactional hot path.
type TracingAvailabilityStore struct {
	domain.AvailabilityStore
}

// NewTracingAvailabilityStore creates a store decorated with tracing
func NewTracingAvailabilityStore(store domain.AvailabilityStore) *TracingAvailabilityStore {
	return &TracingAvailabilityStore{AvailabilityStore: store}
}

// WithTx with tracing
func (s *TracingAvailabilityStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "store.WithTx")
	defer span.End()

	err := s.AvailabilityStore.WithTx(ctx, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// ReadRange with tracing
func (s *TracingAvailabilityStore) ReadRange(ctx context.Context, hotelID, roomTypeID string, checkIn, checkOut time.Time) ([]domain.AvailabilityRecord, error) {
	ctx, span := tracer.Start(ctx, "store.ReadRange",
		trace.WithAttributes(
			attribute.String("inventory.hotel_id", hotelID),
			attribute.String("inventory.room_type_id", roomTypeID),
			attribute.String("inventory.check_in", checkIn.Format("2006-01-02")),
			attribute.String("inventory.check_out", checkOut.Format("2006-01-02")),
		),
	)
	defer span.End()

	records, err := s.AvailabilityStore.ReadRange(ctx, hotelID, roomTypeID, checkIn, checkOut)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("inventory.dates", len(records)))
	return records, nil
}

// AtomicAdjust with tracing
func (s *TracingAvailabilityStore) AtomicAdjust(ctx context.Context, hotelID, roomTypeID string, date time.Time, delta domain.Delta, entry domain.JournalEntry) error {
	ctx, span := tracer.Start(ctx, "store.AtomicAdjust",
		trace.WithAttributes(
			attribute.String("inventory.hotel_id", hotelID),
			attribute.String("inventory.room_type_id", roomTypeID),
			attribute.String("inventory.date", date.Format("2006-01-02")),
			attribute.Int("inventory.delta_available", delta.Available),
			attribute.Int("inventory.delta_sold", delta.Sold),
		),
	)
	defer span.End()

	err := s.AvailabilityStore.AtomicAdjust(ctx, hotelID, roomTypeID, date, delta, entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// UpsertChannelOverride with tracing
func (s *TracingAvailabilityStore) UpsertChannelOverride(ctx context.Context, override domain.ChannelOverride) error {
	ctx, span := tracer.Start(ctx, "store.UpsertChannelOverride",
		trace.WithAttributes(
			attribute.String("inventory.hotel_id", override.HotelID),
			attribute.String("inventory.room_type_id", override.RoomTypeID),
			attribute.String("inventory.channel", override.Channel),
		),
	)
	defer span.End()

	err := s.AvailabilityStore.UpsertChannelOverride(ctx, override)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
