package kafka

import (
	"encoding/json"
	"time"
)

// ChannelEventType enumerates the external channel event kinds
type ChannelEventType string

const (
	EventTypeReservation  ChannelEventType = "reservation"
	EventTypeModification ChannelEventType = "modification"
	EventTypeCancellation ChannelEventType = "cancellation"
	EventTypeRateChange   ChannelEventType = "rate_change"
)

// Kafka topics
const (
	TopicAvailabilityDelta = "availability-delta"
	TopicChannelEvents     = "channel-events"
	TopicChannelDeadLetter = "channel-events-dlq"
)

// DateDelta describes the per-date counter movement of one mutation.
type DateDelta struct {
	Date      time.Time `json:"date"`
	Available int       `json:"available"`
	Sold      int       `json:"sold"`
}

// DateRange bounds the affected stay, end exclusive.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AvailabilityDeltaEvent is emitted after every committed inventory
// mutation, at-least-once. Consumers deduplicate by correlation_id + date.
type AvailabilityDeltaEvent struct {
	EventID       string      `json:"event_id"`
	HotelID       string      `json:"hotel_id"`
	RoomTypeID    string      `json:"room_type_id"`
	DateRange     DateRange   `json:"date_range"`
	PerDate       []DateDelta `json:"per_date"`
	Source        string      `json:"source"`
	Channels      []string    `json:"channels"`
	CorrelationID string      `json:"correlation_id"`
	Timestamp     time.Time   `json:"timestamp"`
}

// ChannelEvent is the envelope consumed from external sales channels.
// (channel, channel_booking_id) is the idempotency key for
// reservation-class events.
type ChannelEvent struct {
	EventID              string           `json:"event_id"`
	Channel              string           `json:"channel"`
	EventType            ChannelEventType `json:"event_type"`
	ChannelBookingID     string           `json:"channel_booking_id,omitempty"`
	ChannelReservationID string           `json:"channel_reservation_id,omitempty"`
	HotelID              string           `json:"hotel_id"`
	RoomTypeID           string           `json:"room_type_id"`
	CheckIn              time.Time        `json:"check_in,omitempty"`
	CheckOut             time.Time        `json:"check_out,omitempty"`
	Rooms                int              `json:"rooms,omitempty"`
	Guests               int              `json:"guests,omitempty"`
	Rate                 float64          `json:"rate,omitempty"`
	Currency             string           `json:"currency,omitempty"`
	ModificationType     string           `json:"modification_type,omitempty"`
	OldValues            json.RawMessage  `json:"old_values,omitempty"`
	NewValues            json.RawMessage  `json:"new_values,omitempty"`
	Reason               string           `json:"reason,omitempty"`
	ConfirmationCode     string           `json:"confirmation_code,omitempty"`
	BookerCountry        string           `json:"booker_country,omitempty"`
	BookerLanguage       string           `json:"booker_language,omitempty"`
	ChannelData          json.RawMessage  `json:"channel_data,omitempty"`
	Timestamp            time.Time        `json:"timestamp"`
}
