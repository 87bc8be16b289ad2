package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tair/roomsync/internal/inventory/domain"
	"github.com/tair/roomsync/kafka"
)

type fakeUnsynced struct {
	records []domain.AvailabilityRecord
	synced  []uint
}

func (f *fakeUnsynced) ListUnsynced(ctx context.Context, limit int) ([]domain.AvailabilityRecord, error) {
	listed := make([]domain.AvailabilityRecord, 0, limit)
	for _, rec := range f.records {
		if !rec.NeedsSync {
			continue
		}
		listed = append(listed, rec)
		if len(listed) == limit {
			break
		}
	}
	return listed, nil
}

func (f *fakeUnsynced) MarkSynced(ctx context.Context, listed []domain.AvailabilityRecord) error {
	for _, rec := range listed {
		for i := range f.records {
			if f.records[i].ID != rec.ID || f.records[i].UpdatedAt.After(rec.UpdatedAt) {
				continue
			}
			f.records[i].NeedsSync = false
			f.synced = append(f.synced, rec.ID)
		}
	}
	return nil
}

// touch simulates a concurrent commit bumping a record mid-sweep.
func (f *fakeUnsynced) touch(id uint, available int) {
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].AvailableRooms = available
			f.records[i].UpdatedAt = f.records[i].UpdatedAt.Add(time.Second)
			f.records[i].NeedsSync = true
		}
	}
}

type capturePublisher struct {
	events    []kafka.AvailabilityDeltaEvent
	err       error
	onPublish func()
}

func (p *capturePublisher) PublishAvailabilityDelta(ctx context.Context, event kafka.AvailabilityDeltaEvent) error {
	if p.onPublish != nil {
		p.onPublish()
	}
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func TestSweeper(t *testing.T) {
	t.Parallel()

	listedAt := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	unsyncedRecords := func() []domain.AvailabilityRecord {
		return []domain.AvailabilityRecord{
			{ID: 1, HotelID: "h1", RoomTypeID: "dbl", Date: date(2026, 9, 1), AvailableRooms: 3, SoldRooms: 7, NeedsSync: true, UpdatedAt: listedAt},
			{ID: 2, HotelID: "h1", RoomTypeID: "dbl", Date: date(2026, 9, 2), AvailableRooms: 2, SoldRooms: 8, NeedsSync: true, UpdatedAt: listedAt},
			{ID: 3, HotelID: "h2", RoomTypeID: "sgl", Date: date(2026, 9, 1), AvailableRooms: 1, SoldRooms: 4, NeedsSync: true, UpdatedAt: listedAt},
		}
	}

	t.Run("re-emits absolute counters grouped per room type", func(t *testing.T) {
		t.Parallel()
		store := &fakeUnsynced{records: unsyncedRecords()}
		pub := &capturePublisher{}
		sweeper := NewSweeper(store, pub, time.Minute)

		if err := sweeper.sweep(context.Background()); err != nil {
			t.Fatalf("sweep() error = %v", err)
		}
		if len(pub.events) != 2 {
			t.Fatalf("published %d events, want 2 groups", len(pub.events))
		}
		first := pub.events[0]
		if first.HotelID != "h1" || len(first.PerDate) != 2 {
			t.Errorf("first event = %+v", first)
		}
		if first.PerDate[0].Available != 3 || first.PerDate[0].Sold != 7 {
			t.Errorf("absolute counters not carried: %+v", first.PerDate[0])
		}
		if first.Source != "reconciliation" {
			t.Errorf("Source = %s", first.Source)
		}
		if len(store.synced) != 3 {
			t.Errorf("synced ids = %v, want all three", store.synced)
		}
	})

	t.Run("publish failure leaves needs_sync for the next pass", func(t *testing.T) {
		t.Parallel()
		store := &fakeUnsynced{records: unsyncedRecords()}
		pub := &capturePublisher{err: errors.New("broker down")}
		sweeper := NewSweeper(store, pub, time.Minute)

		if err := sweeper.sweep(context.Background()); err != nil {
			t.Fatalf("sweep() error = %v", err)
		}
		if len(store.synced) != 0 {
			t.Errorf("records marked synced despite failed publish: %v", store.synced)
		}
		listed, _ := store.ListUnsynced(context.Background(), 100)
		if len(listed) != 3 {
			t.Errorf("records dropped: %d left", len(listed))
		}
	})

	t.Run("record mutated mid-sweep keeps its flag", func(t *testing.T) {
		t.Parallel()
		store := &fakeUnsynced{records: unsyncedRecords()}
		pub := &capturePublisher{}
		// A commit lands between the list and the mark; its newer counters
		// must not be absorbed by this sweep's MarkSynced.
		pub.onPublish = func() {
			pub.onPublish = nil
			store.touch(2, 5)
		}
		sweeper := NewSweeper(store, pub, time.Minute)

		if err := sweeper.sweep(context.Background()); err != nil {
			t.Fatalf("sweep() error = %v", err)
		}
		for _, id := range store.synced {
			if id == 2 {
				t.Fatalf("mutated record marked synced, newer counters lost")
			}
		}
		listed, _ := store.ListUnsynced(context.Background(), 100)
		if len(listed) != 1 || listed[0].ID != 2 || listed[0].AvailableRooms != 5 {
			t.Errorf("pending backlog = %+v, want the mutated record", listed)
		}
	})

	t.Run("event dates are calendar ordered", func(t *testing.T) {
		t.Parallel()
		// updated_at order differs from date order.
		store := &fakeUnsynced{records: []domain.AvailabilityRecord{
			{ID: 11, HotelID: "h1", RoomTypeID: "dbl", Date: date(2026, 9, 3), AvailableRooms: 4, NeedsSync: true, UpdatedAt: listedAt},
			{ID: 12, HotelID: "h1", RoomTypeID: "dbl", Date: date(2026, 9, 1), AvailableRooms: 6, NeedsSync: true, UpdatedAt: listedAt.Add(time.Second)},
			{ID: 13, HotelID: "h1", RoomTypeID: "dbl", Date: date(2026, 9, 2), AvailableRooms: 5, NeedsSync: true, UpdatedAt: listedAt.Add(2 * time.Second)},
		}}
		pub := &capturePublisher{}
		sweeper := NewSweeper(store, pub, time.Minute)

		if err := sweeper.sweep(context.Background()); err != nil {
			t.Fatalf("sweep() error = %v", err)
		}
		if len(pub.events) != 1 {
			t.Fatalf("published %d events, want 1", len(pub.events))
		}
		event := pub.events[0]
		for i := 1; i < len(event.PerDate); i++ {
			if !event.PerDate[i-1].Date.Before(event.PerDate[i].Date) {
				t.Fatalf("PerDate out of order: %+v", event.PerDate)
			}
		}
		if !event.DateRange.Start.Equal(date(2026, 9, 1)) || !event.DateRange.End.Equal(date(2026, 9, 4)) {
			t.Errorf("DateRange = %+v", event.DateRange)
		}
	})

	t.Run("empty backlog is a no-op", func(t *testing.T) {
		t.Parallel()
		store := &fakeUnsynced{}
		pub := &capturePublisher{}
		sweeper := NewSweeper(store, pub, time.Minute)

		if err := sweeper.sweep(context.Background()); err != nil {
			t.Fatalf("sweep() error = %v", err)
		}
		if len(pub.events) != 0 {
			t.Errorf("events published from empty backlog")
		}
	})
}
