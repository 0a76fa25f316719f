package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/trailhead-tours/apiserver/config"
	"github.com/trailhead-tours/apiserver/types"
	"go.uber.org/zap"
)

// Topics published by the API server.
const (
	TopicBookingCreated = "bookings.created"
	TopicUserSignedUp   = "users.signedup"
)

// Backend defines the broker-agnostic publish operations used by the app.
type Backend interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Envelope is the wire format of every domain event.
type Envelope struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Bus publishes domain events to the configured broker. Publish failures
// are logged, not surfaced: events are advisory and must never fail the
// request that produced them.
type Bus struct {
	backend Backend
	logger  *zap.SugaredLogger
}

// NewBus constructs a Bus for the provided backend.
func NewBus(backend Backend, logger *zap.SugaredLogger) *Bus {
	return &Bus{backend: backend, logger: logger}
}

// BookingCreated announces a completed booking.
func (b *Bus) BookingCreated(ctx context.Context, booking types.Booking) {
	b.publish(ctx, TopicBookingCreated, booking)
}

// UserSignedUp announces a new account.
func (b *Bus) UserSignedUp(ctx context.Context, user types.User) {
	b.publish(ctx, TopicUserSignedUp, user)
}

// Close closes the underlying backend.
func (b *Bus) Close() error {
	return b.backend.Close()
}

func (b *Bus) publish(ctx context.Context, topic string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Errorw("marshal event payload", "topic", topic, "err", err)
		return
	}

	envelope := Envelope{
		ID:         uuid.NewString(),
		Topic:      topic,
		OccurredAt: time.Now(),
		Payload:    raw,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		b.logger.Errorw("marshal event envelope", "topic", topic, "err", err)
		return
	}

	if _, err := b.backend.Publish(ctx, topic, data, map[string]string{"event_id": envelope.ID}); err != nil {
		b.logger.Errorw("publish event", "topic", topic, "event_id", envelope.ID, "err", err)
	}
}

// FromConfig selects and constructs the configured backend.
func FromConfig(ctx context.Context, cfg config.EventsConfig, logger *zap.SugaredLogger) (*Bus, error) {
	switch cfg.Backend {
	case "rabbitmq":
		backend, err := NewRabbitMQBackend(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return NewBus(backend, logger), nil
	case "pubsub":
		backend, err := NewPubSubBackend(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return NewBus(backend, logger), nil
	default:
		return NewBus(NopBackend{}, logger), nil
	}
}

// NopBackend discards every event. Used when no broker is configured and
// in tests.
type NopBackend struct{}

func (NopBackend) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	return "", nil
}

func (NopBackend) Close() error {
	return nil
}
