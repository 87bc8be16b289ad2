package bulkops

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tair/roomsync/internal/inventory/domain"
	"github.com/tair/roomsync/internal/roomlock"
)

type fakeRooms struct {
	rooms  map[string]*Room
	blocks []*RoomBlock
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{rooms: make(map[string]*Room)}
}

func (r *fakeRooms) seed(roomID, hotelID, status string) *Room {
	room := &Room{RoomID: roomID, HotelID: hotelID, RoomTypeID: "dbl", Status: status}
	r.rooms[roomID] = room
	return room
}

func (r *fakeRooms) FindByRoomID(ctx context.Context, roomID string) (*Room, error) {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, nil
	}
	c := *room
	return &c, nil
}

func (r *fakeRooms) FindByRoomIDs(ctx context.Context, roomIDs []string) ([]Room, error) {
	var out []Room
	for _, id := range roomIDs {
		if room, ok := r.rooms[id]; ok {
			out = append(out, *room)
		}
	}
	return out, nil
}

func (r *fakeRooms) UpdateStatus(ctx context.Context, roomID, status, reason string) error {
	room, ok := r.rooms[roomID]
	if !ok {
		return errors.New("room not found")
	}
	room.Status = status
	room.StatusReason = reason
	return nil
}

func (r *fakeRooms) Assign(ctx context.Context, room *Room, booking *domain.Booking) error {
	stored, ok := r.rooms[room.RoomID]
	if !ok {
		return errors.New("room not found")
	}
	stored.Status = RoomStatusOccupied
	stored.CurrentBookingID = booking.BookingID
	booking.RoomID = room.RoomID
	return nil
}

func (r *fakeRooms) CreateBlock(ctx context.Context, block *RoomBlock) error {
	r.blocks = append(r.blocks, block)
	return nil
}

type fakeBookings struct {
	byID map[string]*domain.Booking
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{byID: make(map[string]*domain.Booking)}
}

func (b *fakeBookings) seed(bookingID, hotelID, roomID string) *domain.Booking {
	booking := &domain.Booking{BookingID: bookingID, HotelID: hotelID, RoomID: roomID}
	b.byID[bookingID] = booking
	return booking
}

func (b *fakeBookings) Create(ctx context.Context, booking *domain.Booking) error { return nil }
func (b *fakeBookings) Update(ctx context.Context, booking *domain.Booking) error { return nil }

func (b *fakeBookings) FindByChannel(ctx context.Context, source domain.Source, channelBookingID string) (*domain.Booking, error) {
	return nil, nil
}

func (b *fakeBookings) FindByBookingID(ctx context.Context, bookingID string) (*domain.Booking, error) {
	booking, ok := b.byID[bookingID]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return booking, nil
}

func (b *fakeBookings) AppendModification(ctx context.Context, booking *domain.Booking, mod domain.BookingModification) error {
	return nil
}

type fakeLeases struct {
	leases map[string]*roomlock.Lease
}

func (r *fakeLeases) WithTx(ctx context.Context, fn func(repo roomlock.LeaseRepository) error) error {
	return fn(r)
}

func (r *fakeLeases) FindActive(ctx context.Context, roomID string, now time.Time) (*roomlock.Lease, error) {
	lease, ok := r.leases[roomID]
	if !ok || !lease.ExpiresAt.After(now) {
		return nil, nil
	}
	return lease, nil
}

func (r *fakeLeases) Save(ctx context.Context, lease *roomlock.Lease) error {
	r.leases[lease.RoomID] = lease
	return nil
}

func (r *fakeLeases) DeleteByRoom(ctx context.Context, roomID string) error {
	delete(r.leases, roomID)
	return nil
}

func (r *fakeLeases) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type fakeGuard struct{}

func (fakeGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "token", nil
}
func (fakeGuard) Release(ctx context.Context, key, token string) error { return nil }
func (fakeGuard) Extend(ctx context.Context, key, token string, ttl time.Duration) error {
	return nil
}

type fixture struct {
	coordinator *Coordinator
	rooms       *fakeRooms
	bookings    *fakeBookings
	leases      *fakeLeases
	registry    *Registry
}

func newFixture() *fixture {
	rooms := newFakeRooms()
	bookings := newFakeBookings()
	leases := &fakeLeases{leases: make(map[string]*roomlock.Lease)}
	registry := NewRegistry(nil)
	locks := roomlock.NewService(leases, fakeGuard{})
	return &fixture{
		coordinator: NewCoordinator(rooms, bookings, locks, registry),
		rooms:       rooms,
		bookings:    bookings,
		leases:      leases,
		registry:    registry,
	}
}

func (f *fixture) lockRoom(roomID, userID string) {
	f.leases.leases[roomID] = &roomlock.Lease{
		RoomID: roomID, UserID: userID, Action: roomlock.ActionEditing,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func TestBulkStatusUpdate(t *testing.T) {
	t.Parallel()

	t.Run("aggregates per-room outcomes without aborting", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.rooms.seed("r1", "h1", RoomStatusAvailable)
		f.rooms.seed("r2", "h1", RoomStatusOccupied)
		f.rooms.seed("r3", "h1", RoomStatusAvailable)
		f.rooms.seed("r4", "h1", RoomStatusAvailable)
		f.lockRoom("r3", "bob")
		f.lockRoom("r4", "alice") // own lease, no conflict

		result, _, err := f.coordinator.BulkStatusUpdate(context.Background(), StatusUpdateRequest{
			RoomIDs: []string{"r1", "r2", "r3", "r4", "r5"},
			Status:  RoomStatusMaintenance,
			Reason:  "deep clean",
			UserID:  "alice",
		})
		if err != nil {
			t.Fatalf("BulkStatusUpdate() error = %v", err)
		}
		if result.Updated != 2 {
			t.Errorf("Updated = %d, want 2", result.Updated)
		}
		if len(result.Conflicts) != 2 {
			t.Fatalf("Conflicts = %+v, want 2", result.Conflicts)
		}
		if len(result.Failures) != 1 || result.Failures[0].Room != "r5" {
			t.Errorf("Failures = %+v", result.Failures)
		}
		if f.rooms.rooms["r1"].Status != RoomStatusMaintenance {
			t.Errorf("r1 status = %s", f.rooms.rooms["r1"].Status)
		}
		if f.rooms.rooms["r2"].Status != RoomStatusOccupied {
			t.Errorf("conflicting room mutated: %s", f.rooms.rooms["r2"].Status)
		}
		if f.rooms.rooms["r4"].Status != RoomStatusMaintenance {
			t.Errorf("own-lease room not updated: %s", f.rooms.rooms["r4"].Status)
		}
	})

	t.Run("confirmOverrides bypasses conflict checks", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.rooms.seed("r1", "h1", RoomStatusOccupied)
		f.lockRoom("r1", "bob")

		result, _, err := f.coordinator.BulkStatusUpdate(context.Background(), StatusUpdateRequest{
			RoomIDs:          []string{"r1"},
			Status:           RoomStatusOutOfOrder,
			UserID:           "alice",
			ConfirmOverrides: true,
		})
		if err != nil {
			t.Fatalf("BulkStatusUpdate() error = %v", err)
		}
		if result.Updated != 1 || len(result.Conflicts) != 0 {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("rejects oversized batches", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		ids := make([]string, MaxStatusBatch+1)
		for i := range ids {
			ids[i] = "r"
		}
		_, _, err := f.coordinator.BulkStatusUpdate(context.Background(), StatusUpdateRequest{
			RoomIDs: ids, Status: RoomStatusAvailable, UserID: "alice",
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("error = %v, want ErrValidation", err)
		}
	})

	t.Run("rejects unknown statuses", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		_, _, err := f.coordinator.BulkStatusUpdate(context.Background(), StatusUpdateRequest{
			RoomIDs: []string{"r1"}, Status: "sparkling", UserID: "alice",
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("error = %v, want ErrValidation", err)
		}
	})

	t.Run("async mode reports progress through the registry", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		for _, id := range []string{"r1", "r2", "r3"} {
			f.rooms.seed(id, "h1", RoomStatusAvailable)
		}

		result, batch, err := f.coordinator.BulkStatusUpdate(context.Background(), StatusUpdateRequest{
			RoomIDs: []string{"r1", "r2", "r3"},
			Status:  RoomStatusMaintenance,
			UserID:  "alice",
			Async:   true,
		})
		if err != nil {
			t.Fatalf("BulkStatusUpdate() error = %v", err)
		}
		if result != nil {
			t.Errorf("async call returned an inline result")
		}
		if batch.Status != BatchProcessing || batch.Total != 3 {
			t.Errorf("batch = %+v", batch)
		}

		deadline := time.After(2 * time.Second)
		for {
			current := f.coordinator.Progress(batch.BatchID)
			if current != nil && current.Status != BatchProcessing {
				if current.Status != BatchCompleted {
					t.Fatalf("batch status = %s", current.Status)
				}
				if current.Processed != 3 || current.Result == nil || current.Result.Updated != 3 {
					t.Errorf("batch = %+v", current)
				}
				if current.CompletedAt == nil {
					t.Errorf("CompletedAt not set")
				}
				return
			}
			select {
			case <-deadline:
				t.Fatal("async batch never completed")
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
}

func TestBulkRoomAssignment(t *testing.T) {
	t.Parallel()

	t.Run("assigns booking and room together", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.rooms.seed("r1", "h1", RoomStatusAvailable)
		f.bookings.seed("b1", "h1", "")

		result, _, err := f.coordinator.BulkRoomAssignment(context.Background(), AssignmentRequest{
			Pairs: []AssignmentPair{{RoomID: "r1", BookingID: "b1"}},
		})
		if err != nil {
			t.Fatalf("BulkRoomAssignment() error = %v", err)
		}
		if result.Updated != 1 {
			t.Fatalf("result = %+v", result)
		}
		if f.rooms.rooms["r1"].Status != RoomStatusOccupied || f.rooms.rooms["r1"].CurrentBookingID != "b1" {
			t.Errorf("room = %+v", f.rooms.rooms["r1"])
		}
		if f.bookings.byID["b1"].RoomID != "r1" {
			t.Errorf("booking.RoomID = %q, want r1", f.bookings.byID["b1"].RoomID)
		}
	})

	t.Run("enumerates assignment conflicts", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.rooms.seed("occupied", "h1", RoomStatusOccupied)
		f.rooms.seed("blocked", "h1", RoomStatusBlocked)
		f.rooms.seed("free", "h1", RoomStatusAvailable)
		f.bookings.seed("b1", "h1", "")
		f.bookings.seed("b2", "h1", "")
		f.bookings.seed("b3", "h1", "elsewhere")

		result, _, err := f.coordinator.BulkRoomAssignment(context.Background(), AssignmentRequest{
			Pairs: []AssignmentPair{
				{RoomID: "occupied", BookingID: "b1"},
				{RoomID: "blocked", BookingID: "b2"},
				{RoomID: "free", BookingID: "b3"},
			},
		})
		if err != nil {
			t.Fatalf("BulkRoomAssignment() error = %v", err)
		}
		if result.Updated != 0 || len(result.Conflicts) != 3 {
			t.Fatalf("result = %+v", result)
		}
		wantReasons := map[string]string{
			"occupied": ConflictOccupied,
			"blocked":  ConflictBlocked,
			"free":     ConflictAlreadyAssigned,
		}
		for _, c := range result.Conflicts {
			if wantReasons[c.Room] != c.Reason {
				t.Errorf("conflict %s reason = %s, want %s", c.Room, c.Reason, wantReasons[c.Room])
			}
		}
	})

	t.Run("cross-hotel assignment fails", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.rooms.seed("r1", "h1", RoomStatusAvailable)
		f.bookings.seed("b1", "h2", "")

		result, _, err := f.coordinator.BulkRoomAssignment(context.Background(), AssignmentRequest{
			Pairs: []AssignmentPair{{RoomID: "r1", BookingID: "b1"}},
		})
		if err != nil {
			t.Fatalf("BulkRoomAssignment() error = %v", err)
		}
		if len(result.Failures) != 1 {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("rejects oversized batches", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		pairs := make([]AssignmentPair, MaxAssignmentBatch+1)
		_, _, err := f.coordinator.BulkRoomAssignment(context.Background(), AssignmentRequest{Pairs: pairs})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("error = %v, want ErrValidation", err)
		}
	})
}

func TestBulkRoomBlock(t *testing.T) {
	t.Parallel()

	t.Run("blocks rooms and persists the block record", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.rooms.seed("r1", "h1", RoomStatusAvailable)
		f.rooms.seed("r2", "h1", RoomStatusAvailable)

		result, err := f.coordinator.BulkRoomBlock(context.Background(), []string{"r1", "r2"}, BlockData{
			BlockName: "renovation-3f",
			StartDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
			Reason:    "floor renovation",
		})
		if err != nil {
			t.Fatalf("BulkRoomBlock() error = %v", err)
		}
		if result.Updated != 2 {
			t.Errorf("result = %+v", result)
		}
		for _, id := range []string{"r1", "r2"} {
			if f.rooms.rooms[id].Status != RoomStatusBlocked {
				t.Errorf("%s status = %s", id, f.rooms.rooms[id].Status)
			}
		}
		if len(f.rooms.blocks) != 1 {
			t.Fatalf("blocks = %d, want 1", len(f.rooms.blocks))
		}
		block := f.rooms.blocks[0]
		if block.Name != "renovation-3f" || len(block.RoomIDs) != 2 || block.BlockID == "" {
			t.Errorf("block = %+v", block)
		}
	})

	t.Run("any missing room fails validation up front", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.rooms.seed("r1", "h1", RoomStatusAvailable)

		_, err := f.coordinator.BulkRoomBlock(context.Background(), []string{"r1", "ghost"}, BlockData{BlockName: "b"})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("error = %v, want ErrValidation", err)
		}
		if f.rooms.rooms["r1"].Status != RoomStatusAvailable {
			t.Errorf("r1 mutated despite validation failure")
		}
	})
}

func TestBulkRoomRelease(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.rooms.seed("r1", "h1", RoomStatusBlocked)
	f.rooms.seed("r2", "h1", RoomStatusOccupied)

	result, err := f.coordinator.BulkRoomRelease(context.Background(), []string{"r1", "r2", "ghost"}, "block over")
	if err != nil {
		t.Fatalf("BulkRoomRelease() error = %v", err)
	}
	if result.Updated != 1 {
		t.Errorf("Updated = %d, want 1", result.Updated)
	}
	if f.rooms.rooms["r1"].Status != RoomStatusAvailable {
		t.Errorf("r1 status = %s, want available", f.rooms.rooms["r1"].Status)
	}
	if f.rooms.rooms["r2"].Status != RoomStatusOccupied {
		t.Errorf("non-blocked room mutated: %s", f.rooms.rooms["r2"].Status)
	}
	if len(result.Conflicts) != 1 || len(result.Failures) != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil)
	ctx := context.Background()

	a := registry.Create(ctx, "batch-a", "status_update", 10)
	registry.Create(ctx, "batch-b", "room_assignment", 5)
	registry.Complete(ctx, "batch-b", BatchCompleted, &Result{Total: 5, Updated: 5})

	if got := registry.Get("batch-a"); got == nil || got.Status != BatchProcessing {
		t.Errorf("Get(batch-a) = %+v", got)
	}
	if got := registry.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %+v, want nil", got)
	}

	registry.Progress(ctx, a.BatchID, 4)
	if got := registry.Get("batch-a"); got.Processed != 4 {
		t.Errorf("Processed = %d, want 4", got.Processed)
	}

	active := registry.Active()
	if len(active) != 1 || active[0].BatchID != "batch-a" {
		t.Errorf("Active() = %+v", active)
	}

	registry.Evict(0)
	if got := registry.Get("batch-b"); got != nil {
		t.Errorf("completed batch not evicted")
	}
	if got := registry.Get("batch-a"); got == nil {
		t.Errorf("processing batch evicted")
	}
}

func TestRegistryRunEvictsAgedBatches(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry.Create(ctx, "batch-old", "status_update", 1)
	registry.Complete(ctx, "batch-old", BatchCompleted, &Result{Total: 1, Updated: 1})
	registry.Create(ctx, "batch-live", "status_update", 1)

	// Age the completed batch past the mirror TTL the loop evicts by.
	aged := time.Now().UTC().Add(-25 * time.Hour)
	registry.mu.Lock()
	registry.batches["batch-old"].CompletedAt = &aged
	registry.mu.Unlock()

	go registry.Run(ctx, time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for registry.Get("batch-old") != nil {
		if time.Now().After(deadline) {
			t.Fatal("aged completed batch never evicted")
		}
		time.Sleep(time.Millisecond)
	}
	if registry.Get("batch-live") == nil {
		t.Errorf("processing batch evicted")
	}
}
