// Package dispatcher runs one item event end to end: fetch, derive, persist,
// count, decide and publish. Every failure stops at Dispatch, which logs it
// and reports the event as handled.
package dispatcher

import (
	"context"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/taskstatus/internal/engine"
	"example.com/backstage/services/taskstatus/internal/messaging"
	"example.com/backstage/services/taskstatus/internal/metrics"
	"example.com/backstage/services/taskstatus/internal/models"
	"example.com/backstage/services/taskstatus/internal/tracing"
)

// StatusStore persists status records and answers the per-user counts
type StatusStore interface {
	GetByID(ctx context.Context, uid string) (models.TaskStatus, error)
	Upsert(ctx context.Context, status models.TaskStatus) error
	Delete(ctx context.Context, uid string) error
	CountCompleted(ctx context.Context, userUID string) (int64, error)
	CountUnfinishedPriority(ctx context.Context, userUID string) (int64, error)
}

// NotificationSink publishes feedback notifications keyed by user uid
type NotificationSink interface {
	PublishCompleted(ctx context.Context, userUID string, event models.FeedbackEvent) error
	PublishPriority(ctx context.Context, userUID string, event models.FeedbackEvent) error
}

// Dispatcher handles item events
type Dispatcher struct {
	store   StatusStore
	sink    NotificationSink
	engine  *engine.Engine
	metrics *metrics.Metrics
	tracer  tracing.Tracer
}

// New creates a dispatcher
func New(store StatusStore, sink NotificationSink, eng *engine.Engine, m *metrics.Metrics, tracer tracing.Tracer) *Dispatcher {
	if m == nil {
		m = metrics.NewMetrics()
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &Dispatcher{
		store:   store,
		sink:    sink,
		engine:  eng,
		metrics: m,
		tracer:  tracer,
	}
}

// Dispatch decodes payload and handles it as an event of the given kind.
// It never returns an error and never panics: a failure is logged and the
// event is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, kind models.EventKind, payload []byte) {
	start := time.Now()
	txn := d.tracer.StartTransaction("dispatch-" + string(kind))
	defer d.tracer.EndTransaction(txn)

	d.metrics.IncrementCounter(metrics.Name(metrics.EventsReceived, string(kind)))
	logger := log.With().Str("kind", string(kind)).Logger()

	err := contain(func() error {
		span := d.tracer.StartSpan("decode", txn)
		event, err := messaging.DecodeItemEvent(payload)
		span.End()
		if err != nil {
			return errors.Wrap(err, "decode")
		}

		logger = eventLogger(kind, event)
		d.tracer.AddAttribute(txn, "item_uid", event.ItemUID)
		d.tracer.AddAttribute(txn, "user_uid", event.UserUID)

		return d.handle(ctx, kind, event, txn)
	})

	d.metrics.ObserveDispatch(string(kind), time.Since(start), err)
	if err != nil {
		d.tracer.RecordError(txn, err)
		logger.Error().Err(err).Msg("event dropped")
		return
	}

	logger.Debug().Dur("elapsed", time.Since(start)).Msg("event handled")
}

// DispatchEvent handles an already decoded event with the same containment
// as Dispatch
func (d *Dispatcher) DispatchEvent(ctx context.Context, kind models.EventKind, event models.ItemEvent) {
	payload, err := messaging.EncodeItemEvent(event)
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("event dropped")
		return
	}
	d.Dispatch(ctx, kind, payload)
}

func (d *Dispatcher) handle(ctx context.Context, kind models.EventKind, event models.ItemEvent, txn *newrelic.Transaction) error {
	switch kind {
	case models.EventCreated:
		return d.HandleCreated(ctx, event, txn)
	case models.EventUpdated:
		return d.HandleUpdated(ctx, event, txn)
	case models.EventDeleted:
		return d.HandleDeleted(ctx, event, txn)
	default:
		return errors.Errorf("unknown event kind %q", kind)
	}
}

// HandleCreated stores the first status record for an item and sends feedback
func (d *Dispatcher) HandleCreated(ctx context.Context, event models.ItemEvent, txn *newrelic.Transaction) error {
	logger := eventLogger(models.EventCreated, event)

	status := engine.DeriveCreated(event)
	if status.IsZero() {
		logger.Warn().Msg("created event has no item type, skipping")
		return nil
	}

	span := d.tracer.StartSpan("persist", txn)
	err := d.store.Upsert(ctx, status)
	span.End()
	if err != nil {
		return errors.Wrap(err, "persist")
	}

	priorityCount, completedCount, err := d.counts(ctx, event.UserUID, txn)
	if err != nil {
		return err
	}

	d.publish(ctx, logger, txn, d.engine.DecideFeedback(engine.FeedbackInput{
		Kind:           models.EventCreated,
		UserUID:        event.UserUID,
		IsCompleted:    status.Completed,
		IsPriority:     status.Priority,
		PriorityCount:  priorityCount,
		CompletedCount: completedCount,
	}))
	return nil
}

// HandleUpdated overwrites an existing status record and sends feedback
func (d *Dispatcher) HandleUpdated(ctx context.Context, event models.ItemEvent, txn *newrelic.Transaction) error {
	logger := eventLogger(models.EventUpdated, event)

	span := d.tracer.StartSpan("fetch", txn)
	previous, err := d.store.GetByID(ctx, event.ItemUID)
	span.End()
	if err != nil {
		return errors.Wrap(err, "fetch")
	}

	status := engine.DeriveUpdated(event, previous)

	span = d.tracer.StartSpan("persist", txn)
	err = d.store.Upsert(ctx, status)
	span.End()
	if err != nil {
		return errors.Wrap(err, "persist")
	}

	priorityCount, completedCount, err := d.counts(ctx, event.UserUID, txn)
	if err != nil {
		return err
	}

	d.publish(ctx, logger, txn, d.engine.DecideFeedback(engine.FeedbackInput{
		Kind:           models.EventUpdated,
		UserUID:        event.UserUID,
		WasCompleted:   previous.Completed,
		WasPriority:    previous.Priority,
		IsCompleted:    status.Completed,
		IsPriority:     status.Priority,
		PriorityCount:  priorityCount,
		CompletedCount: completedCount,
	}))
	return nil
}

// HandleDeleted removes an item's status record and sends priority feedback
func (d *Dispatcher) HandleDeleted(ctx context.Context, event models.ItemEvent, txn *newrelic.Transaction) error {
	logger := eventLogger(models.EventDeleted, event)

	span := d.tracer.StartSpan("fetch", txn)
	previous, err := d.store.GetByID(ctx, event.ItemUID)
	span.End()
	if err != nil {
		return errors.Wrap(err, "fetch")
	}

	span = d.tracer.StartSpan("delete", txn)
	err = d.store.Delete(ctx, previous.UID)
	span.End()
	if err != nil {
		return errors.Wrap(err, "delete")
	}

	span = d.tracer.StartSpan("count", txn)
	priorityCount, err := d.store.CountUnfinishedPriority(ctx, event.UserUID)
	span.End()
	if err != nil {
		return errors.Wrap(err, "count priority")
	}

	d.publish(ctx, logger, txn, d.engine.DecideFeedback(engine.FeedbackInput{
		Kind:          models.EventDeleted,
		UserUID:       event.UserUID,
		WasCompleted:  previous.Completed,
		WasPriority:   previous.Priority,
		PriorityCount: priorityCount,
	}))
	return nil
}

// counts reads both aggregates after the write
func (d *Dispatcher) counts(ctx context.Context, userUID string, txn *newrelic.Transaction) (int64, int64, error) {
	span := d.tracer.StartSpan("count", txn)
	defer span.End()

	priorityCount, err := d.store.CountUnfinishedPriority(ctx, userUID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "count priority")
	}

	completedCount, err := d.store.CountCompleted(ctx, userUID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "count completed")
	}

	return priorityCount, completedCount, nil
}

// publish sends each notification on its own; one failure never stops the next
func (d *Dispatcher) publish(ctx context.Context, logger zerolog.Logger, txn *newrelic.Transaction, notifications []models.FeedbackEvent) {
	for _, n := range notifications {
		span := d.tracer.StartSpan("publish-"+string(n.Kind), txn)
		err := contain(func() error {
			switch n.Kind {
			case models.FeedbackCompleted:
				return d.sink.PublishCompleted(ctx, n.UserUID, n)
			case models.FeedbackPriority:
				return d.sink.PublishPriority(ctx, n.UserUID, n)
			default:
				return errors.Errorf("unknown feedback kind %q", n.Kind)
			}
		})
		span.End()

		d.metrics.ObserveNotification(string(n.Kind), err)
		if err != nil {
			d.tracer.RecordError(txn, err)
			logger.Error().Err(err).Str("feedback", string(n.Kind)).Msg("failed to publish notification")
			continue
		}

		logger.Debug().
			Str("feedback", string(n.Kind)).
			Str("feedback_uid", n.FeedbackUID).
			Msg(n.Feedback)
	}
}

// contain runs fn and turns a panic into an error
func contain(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func eventLogger(kind models.EventKind, event models.ItemEvent) zerolog.Logger {
	return log.With().
		Str("kind", string(kind)).
		Str("item_uid", event.ItemUID).
		Str("user_uid", event.UserUID).
		Logger()
}
