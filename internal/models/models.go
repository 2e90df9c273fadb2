package models

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// EventKind is the lifecycle stage an item event reports
type EventKind string

// Inbound event kinds, one per channel
const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Wire names carried in the "event" field of an item event
const (
	ItemCreated = "item-created"
	ItemUpdated = "item-updated"
	ItemDeleted = "item-deleted"
)

// FeedbackKind is the outbound notification channel
type FeedbackKind string

// Outbound notification kinds
const (
	FeedbackCompleted FeedbackKind = "completed"
	FeedbackPriority  FeedbackKind = "priority"
)

// Wire names carried in the "event" field of a feedback notification
const (
	FeedbackCompletedEvent = "feedback-completed"
	FeedbackPriorityEvent  = "feedback-priority"
)

// FeedbackItemType is the fixed item type of every feedback notification
const FeedbackItemType = "task"

// CompletedItemType is the item type that stamps completedAt
const CompletedItemType = "completed"

// Content keys read from an item event
const (
	ContentPriority  = "priority"
	ContentCompleted = "completed"
	ContentTime      = "time"
)

// ParseEventKind maps a channel or path segment to an EventKind
func ParseEventKind(s string) (EventKind, error) {
	switch EventKind(s) {
	case EventCreated, EventUpdated, EventDeleted:
		return EventKind(s), nil
	}
	switch s {
	case ItemCreated:
		return EventCreated, nil
	case ItemUpdated:
		return EventUpdated, nil
	case ItemDeleted:
		return EventDeleted, nil
	}
	return "", errors.Errorf("unknown event kind %q", s)
}

// ItemEvent is one lifecycle message consumed from the bus
type ItemEvent struct {
	Event   string                 `json:"event"`
	ItemUID string                 `json:"itemUid" validate:"required"`
	UserUID string                 `json:"userUid" validate:"required"`
	Type    string                 `json:"type"`
	Content map[string]interface{} `json:"content"`
	Time    int64                  `json:"time"`
}

// TaskStatus is the materialized priority/completion state of one item
type TaskStatus struct {
	UID         string `gorm:"column:uid;primaryKey" json:"uid"`
	UserUID     string `gorm:"column:user_uid;not null;index:idx_task_statuses_user_flags,priority:1" json:"userUid"`
	Type        string `gorm:"column:type" json:"type"`
	Priority    bool   `gorm:"column:priority;not null;default:false;index:idx_task_statuses_user_flags,priority:2" json:"priority"`
	Completed   bool   `gorm:"column:completed;not null;default:false;index:idx_task_statuses_user_flags,priority:3" json:"completed"`
	CreatedAt   int64  `gorm:"column:created_at;autoCreateTime:false" json:"createdAt"`
	UpdatedAt   int64  `gorm:"column:updated_at;autoUpdateTime:false" json:"updatedAt"`
	CompletedAt *int64 `gorm:"column:completed_at" json:"completedAt"`
}

// IsZero reports whether the status carries no identity
func (s TaskStatus) IsZero() bool {
	return s.UID == ""
}

// UnfinishedPriority reports whether the status counts toward the priority limit
func (s TaskStatus) UnfinishedPriority() bool {
	return s.Priority && !s.Completed
}

// FeedbackEvent is a user-facing notification produced by one dispatch
type FeedbackEvent struct {
	Kind        FeedbackKind `json:"-"`
	Event       string       `json:"event"`
	FeedbackUID string       `json:"feedbackUid"`
	UserUID     string       `json:"userUid"`
	Type        string       `json:"type"`
	Feedback    string       `json:"feedback"`
	Time        int64        `json:"time"`
}

// UserSummary holds the aggregate counters for one user
type UserSummary struct {
	UserUID        string `json:"user_uid"`
	PriorityCount  int64  `json:"priority_count"`
	CompletedCount int64  `json:"completed_count"`
	PriorityLimit  int    `json:"priority_limit"`
	OverLimit      bool   `json:"over_limit"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	if err := db.AutoMigrate(&TaskStatus{}); err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
