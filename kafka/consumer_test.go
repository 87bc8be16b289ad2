package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func newTestConsumer() *Consumer {
	return &Consumer{
		handlers:     make(map[ChannelEventType]ChannelEventHandler),
		maxAttempts:  1,
		retryBackoff: 100 * time.Millisecond,
	}
}

func testMessage(t *testing.T, event ChannelEvent) *sarama.ConsumerMessage {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: TopicChannelEvents, Value: payload}
}

func TestHandleMessageErrorPolicy(t *testing.T) {
	t.Parallel()

	errTransient := errors.New("storage contention")
	isTransient := func(err error) bool { return errors.Is(err, errTransient) }
	event := ChannelEvent{
		EventType:        EventTypeReservation,
		Channel:          "booking_com",
		ChannelBookingID: "BDC-9001",
	}

	t.Run("transient failure retried until it clears", func(t *testing.T) {
		t.Parallel()
		consumer := newTestConsumer()
		attempts := 0
		consumer.RegisterHandler(EventTypeReservation, func(ctx context.Context, e ChannelEvent) error {
			attempts++
			if attempts < 3 {
				return errTransient
			}
			return nil
		})
		var deadLettered []string
		consumer.SetErrorPolicy(isTransient, func(ctx context.Context, e ChannelEvent, reason string) error {
			deadLettered = append(deadLettered, reason)
			return nil
		}, 5, time.Millisecond)

		h := &consumerGroupHandler{consumer: consumer}
		h.handleMessage(context.Background(), testMessage(t, event))

		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
		if len(deadLettered) != 0 {
			t.Errorf("event dead-lettered despite eventual success: %v", deadLettered)
		}
	})

	t.Run("exhausted retries dead-letter the event", func(t *testing.T) {
		t.Parallel()
		consumer := newTestConsumer()
		attempts := 0
		consumer.RegisterHandler(EventTypeReservation, func(ctx context.Context, e ChannelEvent) error {
			attempts++
			return errTransient
		})
		var deadLettered []ChannelEvent
		consumer.SetErrorPolicy(isTransient, func(ctx context.Context, e ChannelEvent, reason string) error {
			deadLettered = append(deadLettered, e)
			return nil
		}, 2, time.Millisecond)

		h := &consumerGroupHandler{consumer: consumer}
		h.handleMessage(context.Background(), testMessage(t, event))

		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
		if len(deadLettered) != 1 || deadLettered[0].ChannelBookingID != "BDC-9001" {
			t.Fatalf("dead letters = %+v, want the failed event", deadLettered)
		}
	})

	t.Run("terminal failure dead-letters without retry", func(t *testing.T) {
		t.Parallel()
		consumer := newTestConsumer()
		attempts := 0
		consumer.RegisterHandler(EventTypeReservation, func(ctx context.Context, e ChannelEvent) error {
			attempts++
			return errors.New("row rejected")
		})
		var reasons []string
		consumer.SetErrorPolicy(isTransient, func(ctx context.Context, e ChannelEvent, reason string) error {
			reasons = append(reasons, reason)
			return nil
		}, 5, time.Millisecond)

		h := &consumerGroupHandler{consumer: consumer}
		h.handleMessage(context.Background(), testMessage(t, event))

		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
		if len(reasons) != 1 || reasons[0] != "row rejected" {
			t.Errorf("reasons = %v", reasons)
		}
	})

	t.Run("without a policy a failed event is not retried", func(t *testing.T) {
		t.Parallel()
		consumer := newTestConsumer()
		attempts := 0
		consumer.RegisterHandler(EventTypeReservation, func(ctx context.Context, e ChannelEvent) error {
			attempts++
			return errTransient
		})

		h := &consumerGroupHandler{consumer: consumer}
		h.handleMessage(context.Background(), testMessage(t, event))

		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})
}
