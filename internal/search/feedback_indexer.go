package search

import (
	"context"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/taskstatus/internal/models"
)

// Sink is the notification sink being decorated
type Sink interface {
	PublishCompleted(ctx context.Context, userUID string, event models.FeedbackEvent) error
	PublishPriority(ctx context.Context, userUID string, event models.FeedbackEvent) error
}

// Indexer stores a copy of a notification
type Indexer interface {
	IndexFeedback(ctx context.Context, event models.FeedbackEvent) error
}

// FeedbackIndexer forwards notifications to the next sink and, once they
// were published, records them in the search index. Index failures are
// logged only.
type FeedbackIndexer struct {
	next    Sink
	indexer Indexer
}

// NewFeedbackIndexer wraps next
func NewFeedbackIndexer(next Sink, indexer Indexer) *FeedbackIndexer {
	return &FeedbackIndexer{next: next, indexer: indexer}
}

// PublishCompleted publishes then indexes a completion notification
func (f *FeedbackIndexer) PublishCompleted(ctx context.Context, userUID string, event models.FeedbackEvent) error {
	if err := f.next.PublishCompleted(ctx, userUID, event); err != nil {
		return err
	}
	f.index(ctx, event)
	return nil
}

// PublishPriority publishes then indexes a priority notification
func (f *FeedbackIndexer) PublishPriority(ctx context.Context, userUID string, event models.FeedbackEvent) error {
	if err := f.next.PublishPriority(ctx, userUID, event); err != nil {
		return err
	}
	f.index(ctx, event)
	return nil
}

func (f *FeedbackIndexer) index(ctx context.Context, event models.FeedbackEvent) {
	if err := f.indexer.IndexFeedback(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("feedback_uid", event.FeedbackUID).
			Str("user_uid", event.UserUID).
			Msg("failed to index feedback")
	}
}
