package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"busticket/internal/logger"
	"busticket/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes hold lifecycle and seat status events. The topic travels with
// each message so one writer serves both.
type Producer struct {
	writer       messageWriter
	holdTopic    string
	seatTopic    string
	writeTimeout time.Duration
	logger       *logger.Logger
}

func NewProducer(brokers []string, holdTopic, seatTopic string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newProducer(writer, holdTopic, seatTopic, log)
}

func newProducer(w messageWriter, holdTopic, seatTopic string, log *logger.Logger) *Producer {
	return &Producer{
		writer:       w,
		holdTopic:    holdTopic,
		seatTopic:    seatTopic,
		writeTimeout: 5 * time.Second,
		logger:       log,
	}
}

// PublishHoldEvent streams a purchase session lifecycle event, keyed by reservation
// so that one reservation's events stay ordered.
func (p *Producer) PublishHoldEvent(ctx context.Context, event models.HoldEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	return p.publish(ctx, p.holdTopic, event.ReservationID, string(event.Type), event)
}

// PublishSeatStatus streams a seat status change, keyed by product.
func (p *Producer) PublishSeatStatus(ctx context.Context, event models.SeatStatusChangeEvent) error {
	return p.publish(ctx, p.seatTopic, event.ProductID, string(event.Status), event)
}

func (p *Producer) publish(ctx context.Context, topic, key, kind string, v interface{}) error {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err != nil {
		p.logger.Error("KAFKA", fmt.Sprintf("[%s] failed to publish %s for %s: %v", topic, kind, key, err))
		return err
	}
	p.logger.LogKafka("PUBLISHED", topic, fmt.Sprintf("%s %s", kind, key))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
