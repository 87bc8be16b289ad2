package bulkops

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tair/roomsync/internal/inventory/domain"
	"github.com/tair/roomsync/internal/roomlock"
	"github.com/tair/roomsync/pkg/logger"
)

var bulkItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "roomsync_bulk_items_total",
	Help: "Total bulk operation items by operation and outcome",
}, []string{"operation", "outcome"})

// Batch size limits. Exceeding yields a validation error.
const (
	MaxStatusBatch     = 100
	MaxAssignmentBatch = 50
)

// Conflict reasons reported per item.
const (
	ConflictOccupied        = "room-occupied"
	ConflictBlocked         = "room-blocked"
	ConflictEditLocked      = "room-edit-locked"
	ConflictAlreadyAssigned = "booking-already-assigned"
)

// AssignmentPair names one room/booking assignment.
type AssignmentPair struct {
	RoomID    string `json:"room_id"`
	BookingID string `json:"booking_id"`
}

// BlockData describes an administrative room block.
type BlockData struct {
	BlockName string    `json:"block_name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Reason    string    `json:"reason,omitempty"`
}

// StatusUpdateRequest is one bulk status change.
type StatusUpdateRequest struct {
	RoomIDs          []string `json:"room_ids"`
	Status           string   `json:"status"`
	Reason           string   `json:"reason,omitempty"`
	UserID           string   `json:"user_id"`
	ConfirmOverrides bool     `json:"confirm_overrides,omitempty"`
	Async            bool     `json:"async,omitempty"`
}

// AssignmentRequest is one bulk room assignment.
type AssignmentRequest struct {
	Pairs            []AssignmentPair `json:"pairs"`
	ConfirmOverrides bool             `json:"confirm_overrides,omitempty"`
	Async            bool             `json:"async,omitempty"`
}

var validStatuses = map[string]bool{
	RoomStatusAvailable:   true,
	RoomStatusOccupied:    true,
	RoomStatusMaintenance: true,
	RoomStatusBlocked:     true,
	RoomStatusOutOfOrder:  true,
}

// Coordinator orchestrates batched room mutations. Each item succeeds or
// fails on its own; the coordinator never wraps a batch in one
// transaction and never aborts a batch on a single-item failure.
type Coordinator struct {
	rooms    RoomRepository
	bookings domain.BookingRepository
	locks    *roomlock.Service
	registry *Registry
}

// NewCoordinator creates a new bulk operation coordinator
func NewCoordinator(rooms RoomRepository, bookings domain.BookingRepository, locks *roomlock.Service, registry *Registry) *Coordinator {
	return &Coordinator{
		rooms:    rooms,
		bookings: bookings,
		locks:    locks,
		registry: registry,
	}
}

// BulkStatusUpdate changes the status of up to MaxStatusBatch rooms. A
// room that is occupied or edit-locked by another user is recorded as a
// conflict unless confirmOverrides is set. In async mode the returned
// batch carries only the id; the result is attached on completion.
func (c *Coordinator) BulkStatusUpdate(ctx context.Context, req StatusUpdateRequest) (*Result, *Batch, error) {
	if len(req.RoomIDs) == 0 {
		return nil, nil, fmt.Errorf("room_ids is required: %w", domain.ErrValidation)
	}
	if len(req.RoomIDs) > MaxStatusBatch {
		return nil, nil, fmt.Errorf("batch exceeds %d rooms: %w", MaxStatusBatch, domain.ErrValidation)
	}
	if !validStatuses[req.Status] {
		return nil, nil, fmt.Errorf("unknown status %q: %w", req.Status, domain.ErrValidation)
	}

	run := func(ctx context.Context, batchID string) *Result {
		return c.runStatusUpdate(ctx, batchID, req)
	}
	return c.dispatch(ctx, "status_update", len(req.RoomIDs), req.Async, run)
}

func (c *Coordinator) runStatusUpdate(ctx context.Context, batchID string, req StatusUpdateRequest) *Result {
	result := &Result{Total: len(req.RoomIDs)}

	for i, roomID := range req.RoomIDs {
		c.applyStatusUpdate(ctx, roomID, req, result)
		c.progress(ctx, batchID, i+1)
	}
	return result
}

func (c *Coordinator) applyStatusUpdate(ctx context.Context, roomID string, req StatusUpdateRequest, result *Result) {
	room, err := c.rooms.FindByRoomID(ctx, roomID)
	if err != nil {
		result.fail(roomID, "", err.Error(), "status_update")
		return
	}
	if room == nil {
		result.fail(roomID, "", "room not found", "status_update")
		return
	}

	if !req.ConfirmOverrides {
		if room.Status == RoomStatusOccupied {
			result.conflict(roomID, "", ConflictOccupied, "status_update")
			return
		}
		lease, err := c.locks.IsLocked(ctx, roomID)
		if err != nil {
			result.fail(roomID, "", err.Error(), "status_update")
			return
		}
		if lease != nil && lease.UserID != req.UserID {
			result.conflict(roomID, "", ConflictEditLocked, "status_update")
			return
		}
	}

	if err := c.rooms.UpdateStatus(ctx, roomID, req.Status, req.Reason); err != nil {
		result.fail(roomID, "", err.Error(), "status_update")
		return
	}
	result.success(roomID, "status_update")
}

// BulkRoomAssignment assigns bookings to rooms, up to MaxAssignmentBatch
// pairs. Each pair is verified (both exist, same hotel, neither already
// assigned) and then written as one two-field transaction.
func (c *Coordinator) BulkRoomAssignment(ctx context.Context, req AssignmentRequest) (*Result, *Batch, error) {
	if len(req.Pairs) == 0 {
		return nil, nil, fmt.Errorf("pairs is required: %w", domain.ErrValidation)
	}
	if len(req.Pairs) > MaxAssignmentBatch {
		return nil, nil, fmt.Errorf("batch exceeds %d assignments: %w", MaxAssignmentBatch, domain.ErrValidation)
	}

	run := func(ctx context.Context, batchID string) *Result {
		return c.runAssignment(ctx, batchID, req)
	}
	return c.dispatch(ctx, "room_assignment", len(req.Pairs), req.Async, run)
}

func (c *Coordinator) runAssignment(ctx context.Context, batchID string, req AssignmentRequest) *Result {
	result := &Result{Total: len(req.Pairs)}

	for i, pair := range req.Pairs {
		c.applyAssignment(ctx, pair, req.ConfirmOverrides, result)
		c.progress(ctx, batchID, i+1)
	}
	return result
}

func (c *Coordinator) applyAssignment(ctx context.Context, pair AssignmentPair, confirmOverrides bool, result *Result) {
	room, err := c.rooms.FindByRoomID(ctx, pair.RoomID)
	if err != nil {
		result.fail(pair.RoomID, pair.BookingID, err.Error(), "room_assignment")
		return
	}
	if room == nil {
		result.fail(pair.RoomID, pair.BookingID, "room not found", "room_assignment")
		return
	}

	booking, err := c.bookings.FindByBookingID(ctx, pair.BookingID)
	if err != nil {
		result.fail(pair.RoomID, pair.BookingID, err.Error(), "room_assignment")
		return
	}

	if booking.HotelID != room.HotelID {
		result.fail(pair.RoomID, pair.BookingID, "room and booking belong to different hotels", "room_assignment")
		return
	}

	if !confirmOverrides {
		switch room.Status {
		case RoomStatusOccupied:
			result.conflict(pair.RoomID, pair.BookingID, ConflictOccupied, "room_assignment")
			return
		case RoomStatusBlocked:
			result.conflict(pair.RoomID, pair.BookingID, ConflictBlocked, "room_assignment")
			return
		}
		if booking.RoomID != "" {
			result.conflict(pair.RoomID, pair.BookingID, ConflictAlreadyAssigned, "room_assignment")
			return
		}
	}

	if err := c.rooms.Assign(ctx, room, booking); err != nil {
		result.fail(pair.RoomID, pair.BookingID, err.Error(), "room_assignment")
		return
	}
	result.successPair(pair, "room_assignment")
}

// BulkRoomBlock marks rooms blocked and persists an administrative block
// record referencing them. All rooms must exist up front.
func (c *Coordinator) BulkRoomBlock(ctx context.Context, roomIDs []string, data BlockData) (*Result, error) {
	if len(roomIDs) == 0 {
		return nil, fmt.Errorf("room_ids is required: %w", domain.ErrValidation)
	}
	if data.BlockName == "" {
		return nil, fmt.Errorf("block_name is required: %w", domain.ErrValidation)
	}

	existing, err := c.rooms.FindByRoomIDs(ctx, roomIDs)
	if err != nil {
		return nil, err
	}
	if len(existing) != len(roomIDs) {
		found := make(map[string]bool, len(existing))
		for _, room := range existing {
			found[room.RoomID] = true
		}
		for _, id := range roomIDs {
			if !found[id] {
				return nil, fmt.Errorf("room %s not found: %w", id, domain.ErrValidation)
			}
		}
	}

	result := &Result{Total: len(roomIDs)}
	for _, room := range existing {
		if err := c.rooms.UpdateStatus(ctx, room.RoomID, RoomStatusBlocked, data.Reason); err != nil {
			result.fail(room.RoomID, "", err.Error(), "room_block")
			continue
		}
		result.success(room.RoomID, "room_block")
	}

	block := &RoomBlock{
		BlockID:   uuid.NewString(),
		Name:      data.BlockName,
		StartDate: data.StartDate,
		EndDate:   data.EndDate,
		Reason:    data.Reason,
		RoomIDs:   roomIDs,
	}
	if err := c.rooms.CreateBlock(ctx, block); err != nil {
		logger.Error(ctx).Err(err).Str("block_name", data.BlockName).Msg("Failed to persist room block record")
		return result, err
	}

	logger.Info(ctx).
		Str("block_id", block.BlockID).
		Int("rooms", len(roomIDs)).
		Msg("Room block created")
	return result, nil
}

// BulkRoomRelease reverts blocked rooms to available. Rooms in any other
// status are reported as conflicts.
func (c *Coordinator) BulkRoomRelease(ctx context.Context, roomIDs []string, reason string) (*Result, error) {
	if len(roomIDs) == 0 {
		return nil, fmt.Errorf("room_ids is required: %w", domain.ErrValidation)
	}

	result := &Result{Total: len(roomIDs)}
	for _, roomID := range roomIDs {
		room, err := c.rooms.FindByRoomID(ctx, roomID)
		if err != nil {
			result.fail(roomID, "", err.Error(), "room_release")
			continue
		}
		if room == nil {
			result.fail(roomID, "", "room not found", "room_release")
			continue
		}
		if room.Status != RoomStatusBlocked {
			result.conflict(roomID, "", fmt.Sprintf("room is %s, not blocked", room.Status), "room_release")
			continue
		}
		if err := c.rooms.UpdateStatus(ctx, roomID, RoomStatusAvailable, reason); err != nil {
			result.fail(roomID, "", err.Error(), "room_release")
			continue
		}
		result.success(roomID, "room_release")
	}
	return result, nil
}

// Progress returns the batch record for batchID, nil when unknown.
func (c *Coordinator) Progress(batchID string) *Batch {
	return c.registry.Get(batchID)
}

// ActiveBatches lists batches still processing.
func (c *Coordinator) ActiveBatches() []Batch {
	return c.registry.Active()
}

// dispatch runs the batch inline or on a goroutine depending on async.
// Either way a batch record is registered so progress stays queryable.
func (c *Coordinator) dispatch(ctx context.Context, operation string, total int, async bool, run func(context.Context, string) *Result) (*Result, *Batch, error) {
	batchID := uuid.NewString()
	batch := c.registry.Create(ctx, batchID, operation, total)

	if !async {
		result := run(ctx, batchID)
		c.registry.Complete(ctx, batchID, batchStatus(result), result)
		return result, c.registry.Get(batchID), nil
	}

	go func() {
		// Detached from the request; the batch outlives the HTTP call.
		bg := context.Background()
		result := run(bg, batchID)
		c.registry.Complete(bg, batchID, batchStatus(result), result)
		logger.Info(bg).
			Str("batch_id", batchID).
			Str("operation", operation).
			Int("updated", result.Updated).
			Int("conflicts", len(result.Conflicts)).
			Int("failures", len(result.Failures)).
			Msg("Async batch finished")
	}()

	return nil, batch, nil
}

func (c *Coordinator) progress(ctx context.Context, batchID string, processed int) {
	c.registry.Progress(ctx, batchID, processed)
}

func batchStatus(result *Result) BatchStatus {
	if result.Updated == 0 && len(result.Failures) > 0 {
		return BatchFailed
	}
	return BatchCompleted
}

func (r *Result) success(roomID, operation string) {
	r.Updated++
	r.Successes = append(r.Successes, roomID)
	bulkItemsTotal.WithLabelValues(operation, "success").Inc()
}

func (r *Result) successPair(pair AssignmentPair, operation string) {
	r.Updated++
	r.Successes = append(r.Successes, fmt.Sprintf("%s:%s", pair.RoomID, pair.BookingID))
	bulkItemsTotal.WithLabelValues(operation, "success").Inc()
}

func (r *Result) conflict(roomID, bookingID, reason, operation string) {
	r.Conflicts = append(r.Conflicts, Conflict{Room: roomID, Booking: bookingID, Reason: reason})
	bulkItemsTotal.WithLabelValues(operation, "conflict").Inc()
}

func (r *Result) fail(roomID, bookingID, reason, operation string) {
	r.Failures = append(r.Failures, ItemFailure{Room: roomID, Booking: bookingID, Reason: reason})
	bulkItemsTotal.WithLabelValues(operation, "failure").Inc()
}
