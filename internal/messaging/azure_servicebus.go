package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/taskstatus/config"
)

// ServiceBusConsumer receives item events from Azure Service Bus queues in
// peek-lock mode
type ServiceBusConsumer struct {
	client    *azservicebus.Client
	batchSize int
}

// NewServiceBusConsumer creates a consumer from the queue connection string
func NewServiceBusConsumer(cfg config.AzureConfig) (*ServiceBusConsumer, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	return &ServiceBusConsumer{client: client, batchSize: batchSize}, nil
}

// Consume receives batches from queue and hands each message to handler in
// order. Handled messages are completed, the rest abandoned for redelivery.
func (c *ServiceBusConsumer) Consume(ctx context.Context, queue string, handler Handler) error {
	receiver, err := c.client.NewReceiverForQueue(queue, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create receiver for queue %s", queue)
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("queue", queue).Msg("failed to close receiver")
		}
	}()

	log.Info().Str("queue", queue).Msg("consuming Service Bus queue")

	for {
		messages, err := receiver.ReceiveMessages(ctx, c.batchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("queue", queue).Msg("error receiving messages")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}

		for _, message := range messages {
			if err := handler(ctx, message.Body); err != nil {
				log.Warn().Err(err).Str("queue", queue).Str("message_id", message.MessageID).Msg("message not handled, abandoning")
				if err := receiver.AbandonMessage(context.Background(), message, nil); err != nil {
					log.Error().Err(err).Str("message_id", message.MessageID).Msg("failed to abandon message")
				}
				continue
			}

			if err := receiver.CompleteMessage(context.Background(), message, nil); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("failed to complete message")
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close closes the Service Bus client
func (c *ServiceBusConsumer) Close() error {
	return c.client.Close(context.Background())
}

// ServiceBusPublisher sends feedback notifications to Azure Service Bus queues
type ServiceBusPublisher struct {
	client *azservicebus.Client
	source string

	mu      sync.Mutex
	senders map[string]*azservicebus.Sender
}

// NewServiceBusPublisher creates a publisher. source is stamped on every
// message as an application property.
func NewServiceBusPublisher(cfg config.AzureConfig, source string) (*ServiceBusPublisher, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	return &ServiceBusPublisher{
		client:  client,
		source:  source,
		senders: make(map[string]*azservicebus.Sender),
	}, nil
}

func (p *ServiceBusPublisher) sender(queue string) (*azservicebus.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.senders[queue]; ok {
		return s, nil
	}

	s, err := p.client.NewSender(queue, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create sender for queue %s", queue)
	}
	p.senders[queue] = s
	return s, nil
}

// Publish sends body to queue with key as the partition key
func (p *ServiceBusPublisher) Publish(ctx context.Context, queue, key string, body []byte) error {
	s, err := p.sender(queue)
	if err != nil {
		return err
	}

	msg := &azservicebus.Message{
		Body:        body,
		ContentType: to("application/json"),
		ApplicationProperties: map[string]interface{}{
			"source": p.source,
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}
	if key != "" {
		msg.PartitionKey = to(key)
	}

	if err := s.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrapf(err, "failed to send message to queue %s", queue)
	}
	return nil
}

// Close closes every sender and the client
func (p *ServiceBusPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for queue, s := range p.senders {
		if err := s.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("queue", queue).Msg("failed to close sender")
		}
	}
	p.senders = map[string]*azservicebus.Sender{}

	return p.client.Close(context.Background())
}

func to(s string) *string {
	return &s
}
