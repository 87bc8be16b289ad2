package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Booking statuses
const (
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
)

// Booking is the provenance subset of a booking record the engine reads and
// writes. For channel-originated bookings (source, channel_booking_id) is
// unique and serves as the idempotency key for re-delivery.
type Booking struct {
	ID                   uint            `json:"id" gorm:"primaryKey"`
	BookingID            string          `json:"booking_id" gorm:"not null;uniqueIndex"`
	HotelID              string          `json:"hotel_id" gorm:"not null;index"`
	RoomTypeID           string          `json:"room_type_id" gorm:"not null"`
	RoomID               string          `json:"room_id,omitempty"`
	CheckIn              time.Time       `json:"check_in" gorm:"type:date;not null"`
	CheckOut             time.Time       `json:"check_out" gorm:"type:date;not null"`
	Nights               int             `json:"nights" gorm:"not null"`
	Rooms                int             `json:"rooms" gorm:"not null;default:1"`
	Status               string          `json:"status" gorm:"not null;default:'confirmed'"`
	// The index is partial so direct bookings, which carry no channel
	// booking id, never collide with each other.
	Source               Source          `json:"source" gorm:"not null;uniqueIndex:idx_booking_channel,priority:1"`
	ChannelBookingID     string          `json:"channel_booking_id,omitempty" gorm:"uniqueIndex:idx_booking_channel,priority:2,where:channel_booking_id <> ''"`
	ChannelReservationID string          `json:"channel_reservation_id,omitempty"`
	ChannelData          json.RawMessage `json:"channel_data,omitempty" gorm:"type:jsonb"`
	ConfirmationCode     string          `json:"confirmation_code,omitempty"`
	BookerCountry        string          `json:"booker_country,omitempty"`
	BookerLanguage       string          `json:"booker_language,omitempty"`

	Modifications []BookingModification `json:"modifications" gorm:"foreignKey:BookingRef;references:ID"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (Booking) TableName() string {
	return "bookings"
}

// BookingModification records one change applied to a booking.
type BookingModification struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	BookingRef     uint            `json:"-" gorm:"not null;index"`
	ModificationID string          `json:"modification_id" gorm:"not null"`
	Type           string          `json:"type" gorm:"not null"`
	Date           time.Time       `json:"date" gorm:"not null"`
	OldValues      json.RawMessage `json:"old_values,omitempty" gorm:"type:jsonb"`
	NewValues      json.RawMessage `json:"new_values,omitempty" gorm:"type:jsonb"`
	Initiator      string          `json:"initiator"`
	Reason         string          `json:"reason,omitempty"`
}

// TableName specifies the table name
func (BookingModification) TableName() string {
	return "booking_modifications"
}

// BookingRepository persists booking provenance.
type BookingRepository interface {
	Create(ctx context.Context, booking *Booking) error
	Update(ctx context.Context, booking *Booking) error

	// FindByChannel returns nil, nil when no booking matches; used for
	// idempotent channel ingest.
	FindByChannel(ctx context.Context, source Source, channelBookingID string) (*Booking, error)

	FindByBookingID(ctx context.Context, bookingID string) (*Booking, error)
	AppendModification(ctx context.Context, booking *Booking, mod BookingModification) error
}
