package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailhead-tours/apiserver/types"
	"go.uber.org/zap"
)

type recordingBackend struct {
	mu        sync.Mutex
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	topic string
	data  []byte
	attrs map[string]string
}

func (b *recordingBackend) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.published = append(b.published, publishedEvent{topic: topic, data: data, attrs: attrs})
	return "msg-1", nil
}

func (b *recordingBackend) Close() error { return nil }

func TestBusWrapsPayloadInEnvelope(t *testing.T) {
	backend := &recordingBackend{}
	bus := NewBus(backend, zap.NewNop().Sugar())

	booking := types.Booking{ID: 7, TourID: 3, UserID: 9, Price: 499, Paid: true}
	bus.BookingCreated(context.Background(), booking)

	require.Len(t, backend.published, 1)
	event := backend.published[0]
	assert.Equal(t, TopicBookingCreated, event.topic)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(event.data, &envelope))
	assert.Equal(t, TopicBookingCreated, envelope.Topic)
	assert.NotEmpty(t, envelope.ID)
	assert.Equal(t, envelope.ID, event.attrs["event_id"])
	assert.WithinDuration(t, time.Now(), envelope.OccurredAt, 5*time.Second)

	var got types.Booking
	require.NoError(t, json.Unmarshal(envelope.Payload, &got))
	assert.Equal(t, booking.ID, got.ID)
	assert.Equal(t, booking.Price, got.Price)
}

func TestBusSwallowsPublishErrors(t *testing.T) {
	backend := &recordingBackend{err: errors.New("broker down")}
	bus := NewBus(backend, zap.NewNop().Sugar())

	// Must not panic or surface the error.
	bus.UserSignedUp(context.Background(), types.User{ID: 1, Email: "a@x.com"})
	assert.Empty(t, backend.published)
}
