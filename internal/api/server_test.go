package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/taskstatus/config"
	"example.com/backstage/services/taskstatus/internal/api/handlers"
	"example.com/backstage/services/taskstatus/internal/dispatcher"
	"example.com/backstage/services/taskstatus/internal/metrics"
	"example.com/backstage/services/taskstatus/internal/models"
	"example.com/backstage/services/taskstatus/internal/repositories"
	"example.com/backstage/services/taskstatus/internal/tracing"
)

type MockStatusReader struct {
	mock.Mock
}

func (m *MockStatusReader) Find(ctx context.Context, uid string) (models.TaskStatus, error) {
	args := m.Called(ctx, uid)
	return args.Get(0).(models.TaskStatus), args.Error(1)
}

func (m *MockStatusReader) Summary(ctx context.Context, userUID string) (int64, int64, error) {
	args := m.Called(ctx, userUID)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Dispatch(ctx context.Context, kind models.EventKind, payload []byte) error {
	return m.Called(ctx, kind, payload).Error(0)
}

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) SearchFeedback(ctx context.Context, userUID string, size int) ([]map[string]interface{}, error) {
	args := m.Called(ctx, userUID, size)
	return args.Get(0).([]map[string]interface{}), args.Error(1)
}

type testServer struct {
	server    *Server
	reader    *MockStatusReader
	submitter *MockSubmitter
	searcher  *MockSearcher
	metrics   *metrics.Metrics
}

func newTestServer(withSearch bool) *testServer {
	ts := &testServer{
		reader:    new(MockStatusReader),
		submitter: new(MockSubmitter),
		searcher:  new(MockSearcher),
		metrics:   metrics.NewMetrics(),
	}

	var searcher handlers.FeedbackSearcher
	if withSearch {
		searcher = ts.searcher
	}

	tracer := tracing.Noop()
	statusHandler := handlers.NewStatusHandler(ts.reader, ts.submitter, searcher, 5, tracer)
	ts.server = NewServer(config.ServerConfig{Address: ":0", Mode: gin.TestMode}, statusHandler, ts.metrics, tracer)
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func TestGetStatus(t *testing.T) {
	ts := newTestServer(false)
	completedAt := int64(2000)
	ts.reader.On("Find", mock.Anything, "X").Return(models.TaskStatus{
		UID:         "X",
		UserUID:     "U1",
		Type:        "completed",
		Completed:   true,
		CreatedAt:   1000,
		UpdatedAt:   2000,
		CompletedAt: &completedAt,
	}, nil)

	w := ts.do(http.MethodGet, "/api/v1/statuses/X", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"uid": "X",
		"userUid": "U1",
		"type": "completed",
		"priority": false,
		"completed": true,
		"createdAt": 1000,
		"updatedAt": 2000,
		"completedAt": 2000
	}`, w.Body.String())
}

func TestGetStatusNotFound(t *testing.T) {
	ts := newTestServer(false)
	ts.reader.On("Find", mock.Anything, "missing").Return(models.TaskStatus{}, errors.Wrap(repositories.ErrNotFound, "uid missing"))

	w := ts.do(http.MethodGet, "/api/v1/statuses/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStatusStoreError(t *testing.T) {
	ts := newTestServer(false)
	ts.reader.On("Find", mock.Anything, "X").Return(models.TaskStatus{}, errors.New("db down"))

	w := ts.do(http.MethodGet, "/api/v1/statuses/X", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetSummary(t *testing.T) {
	ts := newTestServer(false)
	ts.reader.On("Summary", mock.Anything, "U1").Return(int64(5), int64(12), nil)

	w := ts.do(http.MethodGet, "/api/v1/users/U1/summary", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"user_uid": "U1",
		"priority_count": 5,
		"completed_count": 12,
		"priority_limit": 5,
		"over_limit": true
	}`, w.Body.String())
}

func TestPostEvent(t *testing.T) {
	ts := newTestServer(false)
	body := `{"event":"item-created","itemUid":"X","userUid":"U1","type":"task","content":{"priority":true},"time":1000}`
	ts.submitter.On("Dispatch", mock.Anything, models.EventCreated, []byte(body)).Return(nil).Once()

	w := ts.do(http.MethodPost, "/api/v1/events/created", body)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "X", resp["item_uid"])
	ts.submitter.AssertExpectations(t)
}

func TestPostEventWireKind(t *testing.T) {
	ts := newTestServer(false)
	body := `{"itemUid":"X","userUid":"U1"}`
	ts.submitter.On("Dispatch", mock.Anything, models.EventDeleted, mock.Anything).Return(nil).Once()

	w := ts.do(http.MethodPost, "/api/v1/events/item-deleted", body)

	assert.Equal(t, http.StatusAccepted, w.Code)
	ts.submitter.AssertExpectations(t)
}

func TestPostEventRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown kind", "/api/v1/events/archived", `{"itemUid":"X","userUid":"U1"}`},
		{"malformed json", "/api/v1/events/created", `{"itemUid":`},
		{"missing user", "/api/v1/events/created", `{"itemUid":"X"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(false)
			w := ts.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			ts.submitter.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPostEventPoolClosed(t *testing.T) {
	ts := newTestServer(false)
	ts.submitter.On("Dispatch", mock.Anything, models.EventUpdated, mock.Anything).Return(dispatcher.ErrPoolClosed)

	w := ts.do(http.MethodPost, "/api/v1/events/updated", `{"itemUid":"X","userUid":"U1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetFeedback(t *testing.T) {
	ts := newTestServer(true)
	docs := []map[string]interface{}{{"feedback": "Priority is under control"}}
	ts.searcher.On("SearchFeedback", mock.Anything, "U1", 20).Return(docs, nil)

	w := ts.do(http.MethodGet, "/api/v1/users/U1/feedback", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Priority is under control")
}

func TestGetFeedbackDisabledAndBadSize(t *testing.T) {
	w := newTestServer(false).do(http.MethodGet, "/api/v1/users/U1/feedback", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = newTestServer(true).do(http.MethodGet, "/api/v1/users/U1/feedback?size=1000", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(false)
	ts.metrics.SetHealth(metrics.HealthDatabase, true)
	ts.metrics.IncrementCounter("events_received.created")

	w := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "counters")

	ts.metrics.SetHealth(metrics.HealthRedis, false)
	w = ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
