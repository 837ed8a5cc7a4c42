package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busticket/internal/logger"
	"busticket/internal/models"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishHoldEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "hold-events", "seat-status", logger.Nop())

	err := p.PublishHoldEvent(context.Background(), models.HoldEvent{
		Type:          models.HoldEventStateChanged,
		ReservationID: "res-1",
		ProductID:     "trip-1",
		State:         models.HoldStateActive,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "hold-events", msg.Topic)
	assert.Equal(t, "res-1", string(msg.Key))

	var got models.HoldEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, models.HoldStateActive, got.State)
	assert.False(t, got.At.IsZero())
}

func TestPublishSeatStatus(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "hold-events", "seat-status", logger.Nop())

	event := models.NewSeatStatusChangeEvent("trip-1", []string{"2A"}, models.SeatStatusAvailable)
	require.NoError(t, p.PublishSeatStatus(context.Background(), event))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "seat-status", w.msgs[0].Topic)
	assert.Equal(t, "trip-1", string(w.msgs[0].Key))
}

func TestPublish_WriterError(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("broker down")}, "h", "s", logger.Nop())
	assert.Error(t, p.PublishHoldEvent(context.Background(), models.HoldEvent{ReservationID: "r"}))
}

type fakeReader struct {
	msgs chan kafka.Message
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg, ok := <-r.msgs:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) Close() error { return nil }

func TestSeatStatusConsumer_Run(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafka.Message, 4)}
	c := &SeatStatusConsumer{reader: reader, logger: logger.Nop(), backoff: time.Millisecond}

	valid, _ := json.Marshal(models.NewSeatStatusChangeEvent("trip-1", []string{"1A", "1B"}, models.SeatStatusSold))
	noProduct, _ := json.Marshal(models.SeatStatusChangeEvent{Seats: []string{"1A"}})
	reader.msgs <- kafka.Message{Topic: "seat-status", Value: []byte("not json")}
	reader.msgs <- kafka.Message{Topic: "seat-status", Value: noProduct}
	reader.msgs <- kafka.Message{Topic: "seat-status", Value: valid}
	close(reader.msgs)

	var got []models.SeatStatusChangeEvent
	err := c.Run(context.Background(), func(e models.SeatStatusChangeEvent) {
		got = append(got, e)
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "trip-1", got[0].ProductID)
	assert.Equal(t, models.SeatStatusSold, got[0].Status)
}

func TestSeatStatusConsumer_StopsOnCancel(t *testing.T) {
	c := &SeatStatusConsumer{reader: &fakeReader{msgs: make(chan kafka.Message)}, logger: logger.Nop()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, func(models.SeatStatusChangeEvent) {}) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
