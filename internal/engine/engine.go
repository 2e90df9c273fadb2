// Package engine derives task status records from item lifecycle events and
// decides which feedback notifications a transition should produce.
//
// Everything here is free of I/O. The dispatcher supplies the previous state
// and the aggregate counts and persists or publishes whatever comes back.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/backstage/services/taskstatus/internal/models"
)

// DefaultPriorityLimit is the number of unfinished priority items at which
// the priority warning replaces the reassurance message.
const DefaultPriorityLimit = 5

// Feedback texts
const (
	MessageEncourage    = "I believe in you! Go do stuff!"
	MessageUnderControl = "Priority is under control"
	messageCompleted    = "Yes! You completed your task! Your total is %d"
	messageWarning      = "Warning! You have %d priority items!"
)

// Policy controls when notifications fire
type Policy struct {
	PriorityLimit int
	// TransitionOnly emits notifications only when a dispatch moves the item
	// across a boundary instead of on every created/updated event.
	TransitionOnly bool
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the notification timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator overrides the feedback uid source
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// Engine holds the feedback policy. It retains no state between calls.
type Engine struct {
	policy Policy
	now    func() time.Time
	newID  func() string
}

// New creates an engine with the given policy
func New(policy Policy, opts ...Option) *Engine {
	if policy.PriorityLimit <= 0 {
		policy.PriorityLimit = DefaultPriorityLimit
	}

	e := &Engine{
		policy: policy,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the active policy
func (e *Engine) Policy() Policy {
	return e.policy
}

// DeriveCreated builds the first status record for an item. An event without
// an item type yields the zero status.
func DeriveCreated(event models.ItemEvent) models.TaskStatus {
	if event.Type == "" {
		return models.TaskStatus{}
	}

	status := models.TaskStatus{
		UID:       event.ItemUID,
		UserUID:   event.UserUID,
		Type:      event.Type,
		Priority:  contentFlag(event.Content, models.ContentPriority),
		Completed: contentFlag(event.Content, models.ContentCompleted),
		CreatedAt: event.Time,
		UpdatedAt: event.Time,
	}

	// Keyed on the declared type, not on the completed flag.
	if event.Type == models.CompletedItemType {
		completedAt := event.Time
		status.CompletedAt = &completedAt
	}

	return status
}

// DeriveUpdated returns previous with its flags overwritten from the event
// content. Absent keys reset the flag to false.
func DeriveUpdated(event models.ItemEvent, previous models.TaskStatus) models.TaskStatus {
	status := previous

	status.Priority = contentFlag(event.Content, models.ContentPriority)
	status.Completed = contentFlag(event.Content, models.ContentCompleted)

	if t, ok := contentTime(event.Content); ok {
		status.UpdatedAt = t
	} else {
		status.UpdatedAt = event.Time
	}

	if event.Type == models.CompletedItemType {
		completedAt := event.Time
		status.CompletedAt = &completedAt
	}

	return status
}

// FeedbackInput is the transition context for one dispatch
type FeedbackInput struct {
	Kind    models.EventKind
	UserUID string

	WasCompleted bool
	WasPriority  bool
	IsCompleted  bool
	IsPriority   bool

	PriorityCount  int64
	CompletedCount int64
}

// DecideFeedback returns zero, one or two notifications for a dispatch. The
// completion check runs before the priority check and the two are independent.
func (e *Engine) DecideFeedback(in FeedbackInput) []models.FeedbackEvent {
	var out []models.FeedbackEvent

	if e.shouldSendCompleted(in) {
		out = append(out, e.BuildCompletedEvent(in.UserUID, in.IsCompleted, in.CompletedCount))
	}

	if e.shouldSendPriority(in) {
		out = append(out, e.BuildPriorityEvent(in.UserUID, in.PriorityCount))
	}

	return out
}

func (e *Engine) shouldSendCompleted(in FeedbackInput) bool {
	if in.Kind != models.EventCreated && in.Kind != models.EventUpdated {
		return false
	}
	if e.policy.TransitionOnly {
		return !in.WasCompleted && in.IsCompleted
	}
	return true
}

func (e *Engine) shouldSendPriority(in FeedbackInput) bool {
	if !e.policy.TransitionOnly {
		return true
	}

	limit := int64(e.policy.PriorityLimit)
	was := in.WasPriority && !in.WasCompleted
	now := in.IsPriority && !in.IsCompleted
	if in.Kind == models.EventDeleted {
		now = false
	}

	switch {
	case !was && now:
		return in.PriorityCount >= limit
	case was && !now:
		return in.PriorityCount == limit-1
	default:
		return false
	}
}

// BuildCompletedEvent creates a completion notification
func (e *Engine) BuildCompletedEvent(userUID string, completed bool, completedCount int64) models.FeedbackEvent {
	return models.FeedbackEvent{
		Kind:        models.FeedbackCompleted,
		Event:       models.FeedbackCompletedEvent,
		FeedbackUID: e.newID(),
		UserUID:     userUID,
		Type:        models.FeedbackItemType,
		Feedback:    CompletedMessage(completed, completedCount),
		Time:        e.now().UnixMilli(),
	}
}

// BuildPriorityEvent creates a priority notification
func (e *Engine) BuildPriorityEvent(userUID string, priorityCount int64) models.FeedbackEvent {
	return models.FeedbackEvent{
		Kind:        models.FeedbackPriority,
		Event:       models.FeedbackPriorityEvent,
		FeedbackUID: e.newID(),
		UserUID:     userUID,
		Type:        models.FeedbackItemType,
		Feedback:    PriorityMessage(priorityCount, e.policy.PriorityLimit),
		Time:        e.now().UnixMilli(),
	}
}

// CompletedMessage picks the completion text
func CompletedMessage(completed bool, completedCount int64) string {
	if completed {
		return fmt.Sprintf(messageCompleted, completedCount)
	}
	return MessageEncourage
}

// PriorityMessage picks the priority text
func PriorityMessage(priorityCount int64, limit int) string {
	if priorityCount >= int64(limit) {
		return fmt.Sprintf(messageWarning, priorityCount)
	}
	return MessageUnderControl
}

// OverLimit reports whether a count reaches the limit
func (e *Engine) OverLimit(priorityCount int64) bool {
	return priorityCount >= int64(e.policy.PriorityLimit)
}

func contentFlag(content map[string]interface{}, key string) bool {
	v, ok := content[key].(bool)
	return ok && v
}

func contentTime(content map[string]interface{}) (int64, bool) {
	switch v := content[models.ContentTime].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case interface{ Int64() (int64, error) }:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
