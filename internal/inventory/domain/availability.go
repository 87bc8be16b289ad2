package domain

import (
	"context"
	"time"
)

// Source identifies where a booking originated.
type Source string

const (
	SourceDirect     Source = "direct"
	SourceBookingCom Source = "booking_com"
	SourceExpedia    Source = "expedia"
	SourceAirbnb     Source = "airbnb"
	SourceAgoda      Source = "agoda"
)

// AvailabilityRecord holds the per-(hotel, room-type, date) counters and
// gating flags. Counters always satisfy
// available + sold + blocked + out_of_order == total.
type AvailabilityRecord struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	HotelID    string    `json:"hotel_id" gorm:"not null;uniqueIndex:idx_availability_identity,priority:1"`
	RoomTypeID string    `json:"room_type_id" gorm:"not null;uniqueIndex:idx_availability_identity,priority:2"`
	Date       time.Time `json:"date" gorm:"type:date;not null;uniqueIndex:idx_availability_identity,priority:3"`

	TotalRooms      int `json:"total_rooms" gorm:"not null"`
	AvailableRooms  int `json:"available_rooms" gorm:"not null"`
	SoldRooms       int `json:"sold_rooms" gorm:"not null;default:0"`
	BlockedRooms    int `json:"blocked_rooms" gorm:"not null;default:0"`
	OutOfOrderRooms int `json:"out_of_order_rooms" gorm:"not null;default:0"`

	SellingRate float64 `json:"selling_rate"`
	Currency    string  `json:"currency" gorm:"default:'USD'"`

	StopSell          bool `json:"stop_sell" gorm:"not null;default:false"`
	ClosedToArrival   bool `json:"closed_to_arrival" gorm:"not null;default:false"`
	ClosedToDeparture bool `json:"closed_to_departure" gorm:"not null;default:false"`

	NeedsSync bool `json:"needs_sync" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (AvailabilityRecord) TableName() string {
	return "availability_records"
}

// JournalEntry is one row of the append-only reservation journal. It is
// forensic; availability decisions never read it.
type JournalEntry struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	HotelID       string    `json:"hotel_id" gorm:"not null;index:idx_journal_identity,priority:1"`
	RoomTypeID    string    `json:"room_type_id" gorm:"not null;index:idx_journal_identity,priority:2"`
	Date          time.Time `json:"date" gorm:"type:date;not null;index:idx_journal_identity,priority:3"`
	Source        Source    `json:"source" gorm:"not null"`
	ChannelID     string    `json:"channel_id,omitempty"`
	RoomsReserved int       `json:"rooms_reserved" gorm:"not null"`
	Timestamp     time.Time `json:"timestamp" gorm:"not null"`
	CorrelationID string    `json:"correlation_id" gorm:"index"`
}

// TableName specifies the table name
func (JournalEntry) TableName() string {
	return "reservation_journal"
}

// ChannelOverride layers per-channel fields over the base record. Nil
// pointers fall through to the base value.
type ChannelOverride struct {
	ID                    uint      `json:"id" gorm:"primaryKey"`
	HotelID               string    `json:"hotel_id" gorm:"not null;uniqueIndex:idx_override_identity,priority:1"`
	RoomTypeID            string    `json:"room_type_id" gorm:"not null;uniqueIndex:idx_override_identity,priority:2"`
	Date                  time.Time `json:"date" gorm:"type:date;not null;uniqueIndex:idx_override_identity,priority:3"`
	Channel               string    `json:"channel" gorm:"not null;uniqueIndex:idx_override_identity,priority:4"`
	ChannelAvailableRooms *int      `json:"channel_available_rooms,omitempty"`
	ChannelRate           *float64  `json:"channel_rate,omitempty"`
	StopSell              *bool     `json:"stop_sell,omitempty"`
	ClosedToArrival       *bool     `json:"closed_to_arrival,omitempty"`
	ClosedToDeparture     *bool     `json:"closed_to_departure,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (ChannelOverride) TableName() string {
	return "channel_overrides"
}

// Delta is an $inc-style counter adjustment applied atomically to one date.
type Delta struct {
	Available  int
	Sold       int
	Blocked    int
	OutOfOrder int
}

// EffectiveAvailability is what a given channel should see for one date:
// the base record with any override fields overlaid.
type EffectiveAvailability struct {
	HotelID           string    `json:"hotel_id"`
	RoomTypeID        string    `json:"room_type_id"`
	Date              time.Time `json:"date"`
	AvailableRooms    int       `json:"available_rooms"`
	SellingRate       float64   `json:"selling_rate"`
	Currency          string    `json:"currency"`
	StopSell          bool      `json:"stop_sell"`
	ClosedToArrival   bool      `json:"closed_to_arrival"`
	ClosedToDeparture bool      `json:"closed_to_departure"`
	Channel           string    `json:"channel,omitempty"`
}

// Effective overlays an override onto the base record. The effective
// available count is capped by the base count so a channel is never
// advertised beyond physical availability.
func (r *AvailabilityRecord) Effective(override *ChannelOverride) EffectiveAvailability {
	eff := EffectiveAvailability{
		HotelID:           r.HotelID,
		RoomTypeID:        r.RoomTypeID,
		Date:              r.Date,
		AvailableRooms:    r.AvailableRooms,
		SellingRate:       r.SellingRate,
		Currency:          r.Currency,
		StopSell:          r.StopSell,
		ClosedToArrival:   r.ClosedToArrival,
		ClosedToDeparture: r.ClosedToDeparture,
	}
	if override == nil {
		return eff
	}
	eff.Channel = override.Channel
	if override.ChannelAvailableRooms != nil && *override.ChannelAvailableRooms < eff.AvailableRooms {
		eff.AvailableRooms = *override.ChannelAvailableRooms
	}
	if override.ChannelRate != nil {
		eff.SellingRate = *override.ChannelRate
	}
	if override.StopSell != nil {
		eff.StopSell = *override.StopSell
	}
	if override.ClosedToArrival != nil {
		eff.ClosedToArrival = *override.ClosedToArrival
	}
	if override.ClosedToDeparture != nil {
		eff.ClosedToDeparture = *override.ClosedToDeparture
	}
	return eff
}

// NormalizeDate truncates t to UTC midnight so [checkIn, checkOut) is
// unambiguous regardless of caller timezone.
func NormalizeDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DateRange expands [checkIn, checkOut) into the stay dates, ascending.
func DateRange(checkIn, checkOut time.Time) []time.Time {
	var dates []time.Time
	for d := NormalizeDate(checkIn); d.Before(NormalizeDate(checkOut)); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// Nights returns the number of nights between check-in and check-out.
func Nights(checkIn, checkOut time.Time) int {
	return int(NormalizeDate(checkOut).Sub(NormalizeDate(checkIn)).Hours() / 24)
}

// AvailabilityStore is the transactional persistence contract for
// availability records. Implementations are the only layer that knows the
// underlying store dialect.
type AvailabilityStore interface {
	// WithTx runs fn inside a transaction. All store calls made with the
	// context passed to fn commit or abort together.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// ReadRange returns one record per date in [checkIn, checkOut),
	// ascending. A missing date yields ErrNoInventoryRecord.
	ReadRange(ctx context.Context, hotelID, roomTypeID string, checkIn, checkOut time.Time) ([]AvailabilityRecord, error)

	// AtomicAdjust applies delta with $inc semantics, appends the journal
	// entry and flags the record for channel sync. Fails with
	// ErrConstraintViolation if any counter would go negative.
	AtomicAdjust(ctx context.Context, hotelID, roomTypeID string, date time.Time, delta Delta, entry JournalEntry) error

	// Read returns the record for a single date, or ErrNoInventoryRecord.
	Read(ctx context.Context, hotelID, roomTypeID string, date time.Time) (*AvailabilityRecord, error)

	// FindOverride returns the channel override for a date, nil when absent.
	FindOverride(ctx context.Context, hotelID, roomTypeID string, date time.Time, channel string) (*ChannelOverride, error)

	// UpsertChannelOverride creates or merges an override for a date and
	// flags the record for sync.
	UpsertChannelOverride(ctx context.Context, override ChannelOverride) error

	// UpdateRate writes the base selling rate for a date and flags it for sync.
	UpdateRate(ctx context.Context, hotelID, roomTypeID string, date time.Time, rate float64, currency string) error

	// MarkSynced clears needs_sync for the given records as they were read.
	// A record mutated since (newer updated_at) keeps its flag so the newer
	// counters still get fanned out.
	MarkSynced(ctx context.Context, records []AvailabilityRecord) error

	// CreateRecord materializes an availability record.
	CreateRecord(ctx context.Context, record *AvailabilityRecord) error
}
