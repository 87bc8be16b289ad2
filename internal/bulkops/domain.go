package bulkops

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/tair/roomsync/internal/inventory/domain"
)

// Room statuses
const (
	RoomStatusAvailable   = "available"
	RoomStatusOccupied    = "occupied"
	RoomStatusMaintenance = "maintenance"
	RoomStatusBlocked     = "blocked"
	RoomStatusOutOfOrder  = "out_of_order"
)

// Room is the physical room record mutated by bulk operations, always
// under the room-edit lease discipline.
type Room struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	RoomID           string    `json:"room_id" gorm:"not null;uniqueIndex"`
	HotelID          string    `json:"hotel_id" gorm:"not null;index"`
	RoomTypeID       string    `json:"room_type_id" gorm:"not null"`
	Number           string    `json:"number"`
	Status           string    `json:"status" gorm:"not null;default:'available'"`
	StatusReason     string    `json:"status_reason,omitempty"`
	CurrentBookingID string    `json:"current_booking_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (Room) TableName() string {
	return "rooms"
}

// RoomBlock records an administrative block over a set of rooms.
type RoomBlock struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	BlockID   string         `json:"block_id" gorm:"not null;uniqueIndex"`
	Name      string         `json:"name" gorm:"not null"`
	StartDate time.Time      `json:"start_date" gorm:"type:date"`
	EndDate   time.Time      `json:"end_date" gorm:"type:date"`
	Reason    string         `json:"reason,omitempty"`
	RoomIDs   pq.StringArray `json:"room_ids" gorm:"type:text[]"`
	Released  bool           `json:"released" gorm:"not null;default:false"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName specifies the table name
func (RoomBlock) TableName() string {
	return "room_blocks"
}

// RoomRepository persists rooms and blocks.
type RoomRepository interface {
	// FindByRoomID returns nil, nil when the room does not exist.
	FindByRoomID(ctx context.Context, roomID string) (*Room, error)

	FindByRoomIDs(ctx context.Context, roomIDs []string) ([]Room, error)

	UpdateStatus(ctx context.Context, roomID, status, reason string) error

	// Assign writes booking.room and room.status together in one
	// transaction.
	Assign(ctx context.Context, room *Room, booking *domain.Booking) error

	CreateBlock(ctx context.Context, block *RoomBlock) error
}

// Conflict is one refused item with the reason a caller can act on.
type Conflict struct {
	Room    string `json:"room"`
	Booking string `json:"booking,omitempty"`
	Reason  string `json:"reason"`
}

// ItemFailure is one item that errored rather than conflicted.
type ItemFailure struct {
	Room    string `json:"room"`
	Booking string `json:"booking,omitempty"`
	Reason  string `json:"reason"`
}

// Result aggregates per-item outcomes; a bulk operation never aborts the
// whole batch on a single-item failure.
type Result struct {
	Updated   int           `json:"updated"`
	Successes []string      `json:"successes"`
	Failures  []ItemFailure `json:"failures"`
	Conflicts []Conflict    `json:"conflicts"`
	Total     int           `json:"total"`
}
