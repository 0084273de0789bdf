package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// RecordWriter is the subset of kafka.Writer used for publishing.
type RecordWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes keyed records to a single topic.
type KafkaPublisher struct {
	writer RecordWriter
}

// NewKafkaPublisher creates a publisher for topic on the given brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return NewKafkaPublisherWithWriter(writer)
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(writer RecordWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Publish writes one record. Records sharing a key land on the same
// partition, which keeps a conversation's notifications ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
}

// Close flushes pending records.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
