package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"example.com/backstage/services/taskstatus/config"
)

// KafkaConsumer reads item events from Kafka topics as part of a consumer group
type KafkaConsumer struct {
	brokers []string
	groupID string
}

// NewKafkaConsumer creates a consumer for the configured brokers and group
func NewKafkaConsumer(cfg config.KafkaConfig) *KafkaConsumer {
	return &KafkaConsumer{brokers: cfg.Brokers, groupID: cfg.GroupID}
}

// Consume reads topic in partition order and commits each message once the
// handler accepted it. A handler error stops the reader without committing.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.brokers,
		Topic:    topic,
		GroupID:  c.groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("failed to close kafka reader")
		}
	}()

	log.Info().Str("topic", topic).Str("group_id", c.groupID).Msg("consuming Kafka topic")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("topic", topic).Msg("kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := handler(ctx, msg.Value); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(err, "handler rejected message at %s/%d/%d", topic, msg.Partition, msg.Offset)
		}

		if err := reader.CommitMessages(context.Background(), msg); err != nil {
			log.Error().Err(err).Str("topic", topic).Int64("offset", msg.Offset).Msg("failed to commit kafka message")
		}
	}
}

// Close is a no-op, readers are closed when Consume returns
func (c *KafkaConsumer) Close() error {
	return nil
}

// KafkaPublisher writes feedback notifications to Kafka topics
type KafkaPublisher struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaPublisher creates a publisher for the configured brokers
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		brokers: cfg.Brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

func (p *KafkaPublisher) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	// Hash keeps every notification for a user on one partition
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	p.writers[topic] = w
	return w
}

// Publish writes body to topic keyed by key
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, body []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := p.writer(topic).WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(key),
		Value: body,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to write message to topic %s", topic)
	}
	return nil
}

// Close flushes and closes every writer
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("failed to close kafka writer")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	p.writers = map[string]*kafka.Writer{}
	return firstErr
}
