package channel

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tair/roomsync/internal/inventory"
	"github.com/tair/roomsync/internal/inventory/domain"
	"github.com/tair/roomsync/kafka"
	"github.com/tair/roomsync/pkg/logger"
)

// UnsyncedStore lists records still flagged for fan-out and clears the flag
// once they have been re-published.
type UnsyncedStore interface {
	ListUnsynced(ctx context.Context, limit int) ([]domain.AvailabilityRecord, error)
	// MarkSynced clears the flag only for records unchanged since they were
	// listed; a record mutated mid-sweep stays flagged for the next pass.
	MarkSynced(ctx context.Context, records []domain.AvailabilityRecord) error
}

// Sweeper re-emits availability state for records whose post-commit delta
// publish failed. Delivery stays at-least-once end to end: the sweep sends
// absolute counters, so downstream converges regardless of which emit was
// lost.
type Sweeper struct {
	store     UnsyncedStore
	publisher inventory.DeltaPublisher
	interval  time.Duration
	batchSize int
}

// NewSweeper creates a new reconciliation sweeper
func NewSweeper(store UnsyncedStore, publisher inventory.DeltaPublisher, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: 100,
	}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				logger.Error(ctx).Err(err).Msg("Availability sync sweep failed")
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	records, err := s.store.ListUnsynced(ctx, s.batchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	// One event per (hotel, room-type) with current absolute counters.
	groups := make(map[string][]domain.AvailabilityRecord)
	var order []string
	for _, rec := range records {
		key := fmt.Sprintf("%s:%s", rec.HotelID, rec.RoomTypeID)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	var synced []domain.AvailabilityRecord
	for _, key := range order {
		recs := groups[key]
		// ListUnsynced orders by updated_at; the event wants calendar order.
		sort.Slice(recs, func(a, b int) bool { return recs[a].Date.Before(recs[b].Date) })
		perDate := make([]kafka.DateDelta, 0, len(recs))
		for _, rec := range recs {
			perDate = append(perDate, kafka.DateDelta{
				Date:      rec.Date,
				Available: rec.AvailableRooms,
				Sold:      rec.SoldRooms,
			})
		}

		event := kafka.AvailabilityDeltaEvent{
			HotelID:    recs[0].HotelID,
			RoomTypeID: recs[0].RoomTypeID,
			DateRange: kafka.DateRange{
				Start: recs[0].Date,
				End:   recs[len(recs)-1].Date.AddDate(0, 0, 1),
			},
			PerDate:       perDate,
			Source:        "reconciliation",
			CorrelationID: uuid.NewString(),
		}
		if err := s.publisher.PublishAvailabilityDelta(ctx, event); err != nil {
			// Leave needs_sync set; the next sweep retries.
			logger.Warn(ctx).
				Err(err).
				Str("hotel_id", recs[0].HotelID).
				Str("room_type_id", recs[0].RoomTypeID).
				Msg("Sweep re-publish failed")
			continue
		}
		synced = append(synced, recs...)
	}

	if len(synced) > 0 {
		if err := s.store.MarkSynced(ctx, synced); err != nil {
			return err
		}
		logger.Info(ctx).Int("records", len(synced)).Msg("Availability records re-synced")
	}
	return nil
}
