// Package messaging moves item events in and feedback notifications out over
// Azure Service Bus or Kafka.
package messaging

import (
	"context"

	"github.com/pkg/errors"

	"example.com/backstage/services/taskstatus/config"
)

// Handler processes one inbound payload. A nil return acknowledges the
// message; an error leaves it for redelivery.
type Handler func(ctx context.Context, payload []byte) error

// Consumer receives messages from one queue or topic until ctx is done
type Consumer interface {
	Consume(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Publisher sends a message to a queue or topic. key is the partitioning key.
type Publisher interface {
	Publish(ctx context.Context, channel, key string, body []byte) error
	Close() error
}

// NewConsumer builds the consumer for the configured transport driver
func NewConsumer(cfg config.Config) (Consumer, error) {
	switch cfg.Transport.Driver {
	case config.DriverServiceBus:
		return NewServiceBusConsumer(cfg.Azure)
	case config.DriverKafka:
		return NewKafkaConsumer(cfg.Kafka), nil
	default:
		return nil, errors.Errorf("unknown transport driver %q", cfg.Transport.Driver)
	}
}

// NewPublisher builds the publisher for the configured transport driver
func NewPublisher(cfg config.Config) (Publisher, error) {
	switch cfg.Transport.Driver {
	case config.DriverServiceBus:
		return NewServiceBusPublisher(cfg.Azure, "taskstatus")
	case config.DriverKafka:
		return NewKafkaPublisher(cfg.Kafka), nil
	default:
		return nil, errors.Errorf("unknown transport driver %q", cfg.Transport.Driver)
	}
}
