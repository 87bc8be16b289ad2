package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tair/roomsync/pkg/logger"
)

// Publisher wraps Kafka producer
type Publisher struct {
	producer sarama.SyncProducer
	brokers  []string
}

// NewPublisher creates a new Kafka publisher
func NewPublisher(brokers []string) (*Publisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.MaxMessageBytes = 1000000

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Logger.Info().
		Strs("brokers", brokers).
		Msg("Kafka publisher initialized")

	return &Publisher{
		producer: producer,
		brokers:  brokers,
	}, nil
}

// PublishAvailabilityDelta publishes an availability delta after a committed
// inventory mutation. Messages are keyed by (hotel, room-type) so per-room-type
// ordering matches commit order.
func (p *Publisher) PublishAvailabilityDelta(ctx context.Context, event AvailabilityDeltaEvent) error {
	tracer := otel.Tracer("kafka-publisher")
	ctx, span := tracer.Start(ctx, "kafka.publish.availability_delta",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", TopicAvailabilityDelta),
			attribute.String("messaging.destination_kind", "topic"),
			attribute.String("inventory.hotel_id", event.HotelID),
			attribute.String("inventory.room_type_id", event.RoomTypeID),
			attribute.String("inventory.correlation_id", event.CorrelationID),
			attribute.Int("inventory.dates", len(event.PerDate)),
		),
	)
	defer span.End()

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	span.SetAttributes(attribute.String("event.id", event.EventID))

	key := fmt.Sprintf("%s:%s", event.HotelID, event.RoomTypeID)
	msg, err := p.message(ctx, TopicAvailabilityDelta, key, event, "availability.delta", event.EventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to marshal event")
		return err
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to send message")
		logger.Logger.Error().
			Err(err).
			Str("topic", TopicAvailabilityDelta).
			Str("hotel_id", event.HotelID).
			Str("room_type_id", event.RoomTypeID).
			Str("trace_id", span.SpanContext().TraceID().String()).
			Msg("Failed to publish availability delta")
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	span.SetAttributes(
		attribute.Int("messaging.kafka.partition", int(partition)),
		attribute.Int64("messaging.kafka.offset", offset),
	)
	span.SetStatus(codes.Ok, "Event published successfully")

	logger.Logger.Info().
		Str("event_id", event.EventID).
		Str("topic", TopicAvailabilityDelta).
		Int32("partition", partition).
		Int64("offset", offset).
		Str("hotel_id", event.HotelID).
		Str("room_type_id", event.RoomTypeID).
		Str("correlation_id", event.CorrelationID).
		Msg("Availability delta published")

	return nil
}

// PublishDeadLetter forwards a channel event that could not be processed to
// the dead-letter topic for manual reconciliation.
func (p *Publisher) PublishDeadLetter(ctx context.Context, event ChannelEvent, reason string) error {
	tracer := otel.Tracer("kafka-publisher")
	ctx, span := tracer.Start(ctx, "kafka.publish.dead_letter",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination", TopicChannelDeadLetter),
			attribute.String("channel.event_type", string(event.EventType)),
			attribute.String("channel.booking_id", event.ChannelBookingID),
			attribute.String("dead_letter.reason", reason),
		),
	)
	defer span.End()

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	key := fmt.Sprintf("%s:%s", event.Channel, event.ChannelBookingID)
	msg, err := p.message(ctx, TopicChannelDeadLetter, key, event, string(event.EventType), event.EventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to marshal event")
		return err
	}
	msg.Headers = append(msg.Headers, sarama.RecordHeader{
		Key:   []byte("dead_letter_reason"),
		Value: []byte(reason),
	})

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to send message")
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	logger.Logger.Warn().
		Str("event_id", event.EventID).
		Str("channel", event.Channel).
		Str("channel_booking_id", event.ChannelBookingID).
		Str("reason", reason).
		Msg("Channel event dead-lettered")

	return nil
}

// message builds a producer message with trace context injected into headers.
func (p *Publisher) message(ctx context.Context, topic, key string, payload interface{}, eventType, eventID string) (*sarama.ProducerMessage, error) {
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := []sarama.RecordHeader{
		{Key: []byte("event_type"), Value: []byte(eventType)},
		{Key: []byte("event_id"), Value: []byte(eventID)},
	}
	for k, v := range carrier {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}

	return &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(eventBytes),
		Headers: headers,
	}, nil
}

// Close closes the Kafka producer
func (p *Publisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
