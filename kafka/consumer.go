package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tair/roomsync/pkg/logger"
)

// Consumer wraps Kafka consumer
type Consumer struct {
	consumer      sarama.ConsumerGroup
	brokers       []string
	groupID       string
	topics        []string
	handlers      map[ChannelEventType]ChannelEventHandler
	handlersMutex sync.RWMutex

	retryable    func(error) bool
	deadLetter   DeadLetterFunc
	maxAttempts  int
	retryBackoff time.Duration
}

// ChannelEventHandler handles one kind of channel event
type ChannelEventHandler func(ctx context.Context, event ChannelEvent) error

// DeadLetterFunc forwards an event whose handler exhausted its attempts.
type DeadLetterFunc func(ctx context.Context, event ChannelEvent, reason string) error

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, groupID string, topics []string) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Logger.Info().
		Strs("brokers", brokers).
		Str("group_id", groupID).
		Strs("topics", topics).
		Msg("Kafka consumer initialized")

	return &Consumer{
		consumer:     consumer,
		brokers:      brokers,
		groupID:      groupID,
		topics:       topics,
		handlers:     make(map[ChannelEventType]ChannelEventHandler),
		maxAttempts:  1,
		retryBackoff: 100 * time.Millisecond,
	}, nil
}

// SetErrorPolicy installs what happens when a handler fails: errors matched
// by retryable are retried up to maxAttempts with doubling backoff, anything
// still failing is forwarded to deadLetter before the offset is committed.
// Without a policy a failed event is logged and dropped.
func (c *Consumer) SetErrorPolicy(retryable func(error) bool, deadLetter DeadLetterFunc, maxAttempts int, backoff time.Duration) {
	c.handlersMutex.Lock()
	defer c.handlersMutex.Unlock()
	c.retryable = retryable
	c.deadLetter = deadLetter
	if maxAttempts > 0 {
		c.maxAttempts = maxAttempts
	}
	if backoff > 0 {
		c.retryBackoff = backoff
	}
}

// RegisterHandler registers a handler for a channel event type
func (c *Consumer) RegisterHandler(eventType ChannelEventType, handler ChannelEventHandler) {
	c.handlersMutex.Lock()
	defer c.handlersMutex.Unlock()
	c.handlers[eventType] = handler
	logger.Logger.Info().
		Str("event_type", string(eventType)).
		Msg("Channel event handler registered")
}

// Start starts consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{
		consumer: c,
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Logger.Info().Msg("Consumer context cancelled, stopping...")
				return
			default:
				if err := c.consumer.Consume(ctx, c.topics, handler); err != nil {
					logger.Logger.Error().
						Err(err).
						Msg("Error from consumer")
				}
			}
		}
	}()

	go func() {
		for err := range c.consumer.Errors() {
			logger.Logger.Error().
				Err(err).
				Msg("Consumer error")
		}
	}()

	logger.Logger.Info().
		Strs("topics", c.topics).
		Str("group_id", c.groupID).
		Msg("Kafka consumer started")

	return nil
}

// Close closes the Kafka consumer
func (c *Consumer) Close() error {
	if c.consumer != nil {
		return c.consumer.Close()
	}
	return nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		h.handleMessage(session.Context(), message)
		session.MarkMessage(message, "")
	}
	return nil
}

func (h *consumerGroupHandler) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	// Extract trace context from Kafka headers
	carrier := propagation.MapCarrier{}
	for _, header := range message.Headers {
		key := string(header.Key)
		if key == "traceparent" || key == "tracestate" {
			carrier[key] = string(header.Value)
		}
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	tracer := otel.Tracer("kafka-consumer")
	ctx, span := tracer.Start(ctx, "kafka.consume.channel_event",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", message.Topic),
			attribute.Int64("messaging.kafka.offset", message.Offset),
		),
	)
	defer span.End()

	var event ChannelEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to unmarshal event")
		logger.Logger.Error().
			Err(err).
			Str("topic", message.Topic).
			Int64("offset", message.Offset).
			Msg("Failed to unmarshal channel event")
		return
	}

	span.SetAttributes(
		attribute.String("channel.event_type", string(event.EventType)),
		attribute.String("channel.name", event.Channel),
		attribute.String("channel.booking_id", event.ChannelBookingID),
	)

	h.consumer.handlersMutex.RLock()
	handler, ok := h.consumer.handlers[event.EventType]
	h.consumer.handlersMutex.RUnlock()
	if !ok {
		logger.Logger.Warn().
			Str("event_type", string(event.EventType)).
			Msg("No handler registered for event type")
		return
	}

	if err := h.invoke(ctx, handler, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Logger.Error().
			Err(err).
			Str("event_type", string(event.EventType)).
			Str("channel", event.Channel).
			Str("channel_booking_id", event.ChannelBookingID).
			Str("trace_id", span.SpanContext().TraceID().String()).
			Msg("Channel event handler failed")

		h.consumer.handlersMutex.RLock()
		deadLetter := h.consumer.deadLetter
		h.consumer.handlersMutex.RUnlock()
		if deadLetter == nil {
			return
		}
		if dlErr := deadLetter(ctx, event, err.Error()); dlErr != nil {
			logger.Logger.Error().
				Err(dlErr).
				Str("channel_booking_id", event.ChannelBookingID).
				Msg("Failed to dead-letter channel event")
		}
		return
	}

	span.SetStatus(codes.Ok, "Event handled")
}

// invoke runs the handler, retrying transient failures. The offset is
// committed regardless, so anything that escapes here must be dead-lettered
// or it is gone.
func (h *consumerGroupHandler) invoke(ctx context.Context, handler ChannelEventHandler, event ChannelEvent) error {
	h.consumer.handlersMutex.RLock()
	retryable := h.consumer.retryable
	maxAttempts := h.consumer.maxAttempts
	backoff := h.consumer.retryBackoff
	h.consumer.handlersMutex.RUnlock()

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = handler(ctx, event)
		if err == nil {
			return nil
		}
		if retryable == nil || !retryable(err) || attempt == maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff << (attempt - 1)):
		}
	}
	return err
}
