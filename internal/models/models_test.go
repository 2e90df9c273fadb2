package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventKind(t *testing.T) {
	tests := []struct {
		in   string
		want EventKind
	}{
		{"created", EventCreated},
		{"updated", EventUpdated},
		{"deleted", EventDeleted},
		{"item-created", EventCreated},
		{"item-updated", EventUpdated},
		{"item-deleted", EventDeleted},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEventKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseEventKind("archived")
	assert.Error(t, err)
}

func TestFeedbackEventWireFormat(t *testing.T) {
	event := FeedbackEvent{
		Kind:        FeedbackPriority,
		Event:       FeedbackPriorityEvent,
		FeedbackUID: "fb-789-012",
		UserUID:     "user-345",
		Type:        FeedbackItemType,
		Feedback:    "Priority is under control",
		Time:        1621234567890,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"event": "feedback-priority",
		"feedbackUid": "fb-789-012",
		"userUid": "user-345",
		"type": "task",
		"feedback": "Priority is under control",
		"time": 1621234567890
	}`, string(data))
}

func TestUnfinishedPriority(t *testing.T) {
	assert.True(t, TaskStatus{Priority: true}.UnfinishedPriority())
	assert.False(t, TaskStatus{Priority: true, Completed: true}.UnfinishedPriority())
	assert.False(t, TaskStatus{}.UnfinishedPriority())
	assert.True(t, TaskStatus{}.IsZero())
}
