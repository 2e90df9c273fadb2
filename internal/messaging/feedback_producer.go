package messaging

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"example.com/backstage/services/taskstatus/config"
	"example.com/backstage/services/taskstatus/internal/models"
)

// FeedbackProducer publishes feedback notifications to the completed and
// priority channels, keyed by user uid
type FeedbackProducer struct {
	publisher Publisher
	channels  config.Channels
}

// NewFeedbackProducer creates a producer writing through publisher
func NewFeedbackProducer(publisher Publisher, channels config.Channels) *FeedbackProducer {
	return &FeedbackProducer{publisher: publisher, channels: channels}
}

// PublishCompleted sends a completion notification
func (p *FeedbackProducer) PublishCompleted(ctx context.Context, userUID string, event models.FeedbackEvent) error {
	return p.send(ctx, p.channels.Completed, userUID, event)
}

// PublishPriority sends a priority notification
func (p *FeedbackProducer) PublishPriority(ctx context.Context, userUID string, event models.FeedbackEvent) error {
	return p.send(ctx, p.channels.Priority, userUID, event)
}

func (p *FeedbackProducer) send(ctx context.Context, channel, userUID string, event models.FeedbackEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal feedback event")
	}

	if err := p.publisher.Publish(ctx, channel, userUID, body); err != nil {
		return errors.Wrapf(err, "failed to publish %s", event.Event)
	}
	return nil
}
