// Package publish fans persisted events out to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nicktill/tinytrack/pkg/event"
)

// Publisher receives every event after it has been persisted.
type Publisher interface {
	Publish(ctx context.Context, ev event.Persisted) error
	Close() error
}

// Nop drops everything.
type Nop struct{}

func (Nop) Publish(context.Context, event.Persisted) error { return nil }
func (Nop) Close() error                                   { return nil }

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes events as JSON to a topic, keyed by component so one
// component's events stay on one partition.
type Kafka struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafka creates a Kafka publisher. The writer is async: Publish returns
// once the message is queued and delivery errors surface in the writer's
// Completion callback.
func NewKafka(brokers []string, topic string, onError func(error)) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(_ []kafka.Message, err error) {
			if err != nil && onError != nil {
				onError(err)
			}
		},
	}
	return &Kafka{writer: writer, timeout: 5 * time.Second}, nil
}

// Publish serializes ev and hands it to the writer.
func (k *Kafka) Publish(ctx context.Context, ev event.Persisted) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Component),
		Value: payload,
		Time:  ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
