package events

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a single Kafka topic, keyed by subject so
// that events about one aggregate stay ordered.
type KafkaPublisher struct {
	writer MessageWriter
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaWriter returns a writer for topic that hashes message keys across
// partitions.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaPublisher creates a KafkaPublisher on top of w.
func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish writes all events in one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		value, err := e.MarshalJSON()
		if err != nil {
			return errors.Wrapf(err, "encode %s", e.Type)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(e.Subject),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(e.Type)},
			},
		}
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		zctx.From(ctx).Error("Publish events failed",
			zap.Int("count", len(msgs)),
			zap.Error(err),
		)
		return errors.Wrap(err, "write messages")
	}
	return nil
}

// Close flushes pending writes and releases the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
