package cache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/taskstatus/internal/models"
)

// memoryCache is an in-process stand-in for Redis
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	failSet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(data, value)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if c.failSet {
		return errors.New("redis unavailable")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	return nil
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetByID(ctx context.Context, uid string) (models.TaskStatus, error) {
	args := m.Called(ctx, uid)
	return args.Get(0).(models.TaskStatus), args.Error(1)
}

func (m *MockStore) Upsert(ctx context.Context, status models.TaskStatus) error {
	return m.Called(ctx, status).Error(0)
}

func (m *MockStore) Delete(ctx context.Context, uid string) error {
	return m.Called(ctx, uid).Error(0)
}

func (m *MockStore) CountCompleted(ctx context.Context, userUID string) (int64, error) {
	args := m.Called(ctx, userUID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) CountUnfinishedPriority(ctx context.Context, userUID string) (int64, error) {
	args := m.Called(ctx, userUID)
	return args.Get(0).(int64), args.Error(1)
}

func TestGetByIDReadsThrough(t *testing.T) {
	store := new(MockStore)
	c := newMemoryCache()
	s := NewCachedStatusStore(store, c, time.Minute)
	ctx := context.Background()

	status := models.TaskStatus{UID: "X", UserUID: "U1", Type: "task", Priority: true}
	store.On("GetByID", mock.Anything, "X").Return(status, nil).Once()

	got, err := s.GetByID(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, status, got)
	assert.True(t, c.has("task_status:X"))

	// second read is served from the cache
	got, err = s.GetByID(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, status, got)

	store.AssertExpectations(t)
}

func TestGetByIDNotFoundIsNotCached(t *testing.T) {
	store := new(MockStore)
	c := newMemoryCache()
	s := NewCachedStatusStore(store, c, time.Minute)

	notFound := errors.New("task status not found")
	store.On("GetByID", mock.Anything, "missing").Return(models.TaskStatus{}, notFound)

	_, err := s.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, notFound)
	assert.False(t, c.has("task_status:missing"))
}

func TestUpsertWritesThrough(t *testing.T) {
	store := new(MockStore)
	c := newMemoryCache()
	s := NewCachedStatusStore(store, c, time.Minute)

	status := models.TaskStatus{UID: "X", UserUID: "U1", Completed: true}
	store.On("Upsert", mock.Anything, status).Return(nil)

	require.NoError(t, s.Upsert(context.Background(), status))

	var cached models.TaskStatus
	require.NoError(t, c.Get(context.Background(), StatusKey("X"), &cached))
	assert.Equal(t, status, cached)
}

func TestUpsertStoreFailureLeavesCacheAlone(t *testing.T) {
	store := new(MockStore)
	c := newMemoryCache()
	s := NewCachedStatusStore(store, c, time.Minute)

	status := models.TaskStatus{UID: "X"}
	store.On("Upsert", mock.Anything, status).Return(errors.New("db down"))

	assert.Error(t, s.Upsert(context.Background(), status))
	assert.False(t, c.has("task_status:X"))
}

func TestCacheFailureDoesNotFailUpsert(t *testing.T) {
	store := new(MockStore)
	c := newMemoryCache()
	c.entries[StatusKey("X")] = []byte(`{"uid":"X","completed":false}`)
	c.failSet = true
	s := NewCachedStatusStore(store, c, time.Minute)

	status := models.TaskStatus{UID: "X", Completed: true}
	store.On("Upsert", mock.Anything, status).Return(nil)

	require.NoError(t, s.Upsert(context.Background(), status))
	assert.False(t, c.has("task_status:X"), "stale entry should be evicted")
}

func TestDeleteEvicts(t *testing.T) {
	store := new(MockStore)
	c := newMemoryCache()
	c.entries[StatusKey("X")] = []byte(`{"uid":"X"}`)
	s := NewCachedStatusStore(store, c, time.Minute)

	store.On("Delete", mock.Anything, "X").Return(nil)

	require.NoError(t, s.Delete(context.Background(), "X"))
	assert.False(t, c.has("task_status:X"))
}

func TestCountsPassThrough(t *testing.T) {
	store := new(MockStore)
	s := NewCachedStatusStore(store, newMemoryCache(), time.Minute)

	store.On("CountCompleted", mock.Anything, "U1").Return(int64(4), nil)
	store.On("CountUnfinishedPriority", mock.Anything, "U1").Return(int64(2), nil)

	completed, err := s.CountCompleted(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), completed)

	priority, err := s.CountUnfinishedPriority(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), priority)
}

func TestDisabledRedisCache(t *testing.T) {
	c := &RedisCache{}
	assert.False(t, c.Enabled())
	assert.ErrorIs(t, c.Get(context.Background(), "k", &struct{}{}), ErrDisabled)
	assert.NoError(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}
