package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/taskstatus/config"
	"example.com/backstage/services/taskstatus/internal/models"
)

func TestDecodeItemEvent(t *testing.T) {
	payload := []byte(`{
		"event": "item-updated",
		"itemUid": "item789",
		"userUid": "userXYZ",
		"type": "task",
		"content": {"priority": true, "completed": false, "time": 1621234567890},
		"time": 1621234560000
	}`)

	event, err := DecodeItemEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, models.ItemUpdated, event.Event)
	assert.Equal(t, "item789", event.ItemUID)
	assert.Equal(t, "userXYZ", event.UserUID)
	assert.Equal(t, "task", event.Type)
	assert.Equal(t, int64(1621234560000), event.Time)
	assert.Equal(t, true, event.Content["priority"])
	assert.Equal(t, json.Number("1621234567890"), event.Content["time"])
}

func TestDecodeItemEventRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"itemUid":`},
		{"missing item uid", `{"userUid":"u","type":"task"}`},
		{"missing user uid", `{"itemUid":"i","type":"task"}`},
		{"wrong field type", `{"itemUid":"i","userUid":"u","time":"yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeItemEvent([]byte(tt.payload))
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestEncodeDecodeKeepsContent(t *testing.T) {
	data, err := EncodeItemEvent(models.ItemEvent{
		Event:   models.ItemCreated,
		ItemUID: "X",
		UserUID: "U1",
		Type:    "task",
		Content: map[string]interface{}{"priority": true},
		Time:    42,
	})
	require.NoError(t, err)

	event, err := DecodeItemEvent(data)
	require.NoError(t, err)
	assert.Equal(t, true, event.Content["priority"])
	assert.Equal(t, int64(42), event.Time)
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "X", RoutingKey([]byte(`{"itemUid":"X","userUid":"U1"}`)))
	assert.Equal(t, "", RoutingKey([]byte(`garbage`)))
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel, key string, body []byte) error {
	return m.Called(ctx, channel, key, body).Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

func TestFeedbackProducerRoutesByKind(t *testing.T) {
	pub := new(MockPublisher)
	producer := NewFeedbackProducer(pub, config.Channels{Completed: "fb-completed", Priority: "fb-priority"})

	completed := models.FeedbackEvent{
		Kind:        models.FeedbackCompleted,
		Event:       models.FeedbackCompletedEvent,
		FeedbackUID: "fb-1",
		UserUID:     "U1",
		Type:        models.FeedbackItemType,
		Feedback:    "Yes! You completed your task! Your total is 3",
		Time:        1000,
	}
	priority := completed
	priority.Kind = models.FeedbackPriority
	priority.Event = models.FeedbackPriorityEvent
	priority.Feedback = "Priority is under control"

	pub.On("Publish", mock.Anything, "fb-completed", "U1", mock.MatchedBy(func(body []byte) bool {
		var got map[string]interface{}
		return json.Unmarshal(body, &got) == nil &&
			got["event"] == "feedback-completed" &&
			got["feedbackUid"] == "fb-1" &&
			got["type"] == "task"
	})).Return(nil).Once()
	pub.On("Publish", mock.Anything, "fb-priority", "U1", mock.Anything).Return(nil).Once()

	require.NoError(t, producer.PublishCompleted(context.Background(), "U1", completed))
	require.NoError(t, producer.PublishPriority(context.Background(), "U1", priority))

	pub.AssertExpectations(t)
}

func TestFeedbackProducerReturnsPublishError(t *testing.T) {
	pub := new(MockPublisher)
	producer := NewFeedbackProducer(pub, config.Channels{Priority: "priority"})

	busErr := errors.New("bus down")
	pub.On("Publish", mock.Anything, "priority", "U1", mock.Anything).Return(busErr)

	err := producer.PublishPriority(context.Background(), "U1", models.FeedbackEvent{Event: models.FeedbackPriorityEvent})
	assert.ErrorIs(t, err, busErr)
}

func TestNewConsumerUnknownDriver(t *testing.T) {
	_, err := NewConsumer(config.Config{Transport: config.TransportConfig{Driver: "nats"}})
	assert.Error(t, err)

	_, err = NewPublisher(config.Config{Transport: config.TransportConfig{Driver: "nats"}})
	assert.Error(t, err)
}

func TestNewServiceBusRequiresConnectionString(t *testing.T) {
	_, err := NewServiceBusConsumer(config.AzureConfig{})
	assert.Error(t, err)

	_, err = NewServiceBusPublisher(config.AzureConfig{}, "taskstatus")
	assert.Error(t, err)
}

func TestKafkaPublisherReusesWriters(t *testing.T) {
	p := NewKafkaPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	w1 := p.writer("completed")
	w2 := p.writer("completed")
	w3 := p.writer("priority")

	assert.Same(t, w1, w2)
	assert.NotSame(t, w1, w3)
	assert.Equal(t, "priority", w3.Topic)
	require.NoError(t, p.Close())
}
