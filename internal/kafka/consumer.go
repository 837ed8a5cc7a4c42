package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"busticket/internal/logger"
	"busticket/internal/models"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// SeatStatusConsumer reads seat status changes so that open sessions can refresh
// their inventory when another buyer takes or frees seats.
type SeatStatusConsumer struct {
	reader  messageReader
	logger  *logger.Logger
	backoff time.Duration
}

func NewSeatStatusConsumer(brokers []string, topic, groupID string, log *logger.Logger) *SeatStatusConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
	return &SeatStatusConsumer{reader: reader, logger: log, backoff: time.Second}
}

// Run blocks until ctx is done or the reader is closed, handing every decodable
// event to handler.
func (c *SeatStatusConsumer) Run(ctx context.Context, handler func(models.SeatStatusChangeEvent)) error {
	c.logger.LogKafka("CONSUMING", "seat status", "consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		event, ok := c.handleMessage(msg)
		if ok {
			handler(event)
		}
	}
}

func (c *SeatStatusConsumer) handleMessage(msg kafka.Message) (models.SeatStatusChangeEvent, bool) {
	var event models.SeatStatusChangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal seat status event: %v", err))
		return event, false
	}
	if event.ProductID == "" {
		c.logger.Warn("KAFKA", "Seat status event without product id dropped")
		return event, false
	}
	c.logger.LogKafka("RECEIVED", msg.Topic, fmt.Sprintf("%s %s %v", event.ProductID, event.Status, event.Seats))
	return event, true
}

func (c *SeatStatusConsumer) Close() error {
	return c.reader.Close()
}
