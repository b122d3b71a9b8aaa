// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Events travel as JSON; the consumer hands each message
// to a MessageHandler and commits it once the handler succeeds.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Message is what a MessageHandler receives.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// MessageHandler is a callback invoked for each Kafka message. A returned
// error leaves the message uncommitted.
type MessageHandler func(ctx context.Context, msg Message) error

// reader is the part of *kafka.Reader the consume loop uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	minFetchBackoff = 100 * time.Millisecond
	maxFetchBackoff = 5 * time.Second
)

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  reader
	handler MessageHandler
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewConsumer creates a group consumer for topic that starts at the newest
// offset. Every recommender instance must see every rule table
// announcement, so group is normally unique per instance; analytics
// consumers share the configured group. An empty group uses
// cfg.ConsumerGroup.
func NewConsumer(cfg config.KafkaConfig, topic, group string, handler MessageHandler) *Consumer {
	if group == "" {
		group = cfg.ConsumerGroup
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     group,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(r, handler,
		slog.Default().With("component", "kafka-consumer", "topic", topic, "group", group))
}

func newConsumer(r reader, handler MessageHandler, logger *slog.Logger) *Consumer {
	return &Consumer{reader: r, handler: handler, logger: logger}
}

// Start consumes until ctx is cancelled, then closes the reader. Fetch
// failures back off exponentially up to 5s. A message whose handler fails
// is left uncommitted.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	backoff := minFetchBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return c.Close()
			}
			c.logger.Error("failed to fetch message", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return c.Close()
			}
			backoff = min(2*backoff, maxFetchBackoff)
			continue
		}
		backoff = minFetchBackoff
		c.dispatch(ctx, msg)
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)
	log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

	if err := c.handler(ctx, fromKafka(msg)); err != nil {
		log.Error("failed to process message", "error", err)
		return
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		log.Error("failed to commit message", "error", err)
	}
}

// Close closes the reader. It is safe to call more than once and
// concurrently with Start's own shutdown.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.reader.Close() })
	return c.closeErr
}

func fromKafka(msg kafka.Message) Message {
	out := Message{Key: msg.Key, Value: msg.Value}
	if len(msg.Headers) > 0 {
		out.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			out.Headers[h.Key] = string(h.Value)
		}
	}
	return out
}

// DecodeJSON unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
