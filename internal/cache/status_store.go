package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/taskstatus/internal/models"
)

// Cache is the subset of RedisCache the status store needs
type Cache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Store is the persistent status store being fronted
type Store interface {
	GetByID(ctx context.Context, uid string) (models.TaskStatus, error)
	Upsert(ctx context.Context, status models.TaskStatus) error
	Delete(ctx context.Context, uid string) error
	CountCompleted(ctx context.Context, userUID string) (int64, error)
	CountUnfinishedPriority(ctx context.Context, userUID string) (int64, error)
}

// CachedStatusStore is a read-through, write-through cache of status
// records keyed by item uid. Counts always go to the backing store.
// Cache failures are logged and never fail the operation.
type CachedStatusStore struct {
	store Store
	cache Cache
	ttl   time.Duration
}

// NewCachedStatusStore wraps store with cache
func NewCachedStatusStore(store Store, cache Cache, ttl time.Duration) *CachedStatusStore {
	return &CachedStatusStore{store: store, cache: cache, ttl: ttl}
}

// GetByID returns the cached record or loads and caches it
func (s *CachedStatusStore) GetByID(ctx context.Context, uid string) (models.TaskStatus, error) {
	key := StatusKey(uid)

	var status models.TaskStatus
	err := s.cache.Get(ctx, key, &status)
	if err == nil {
		return status, nil
	}
	s.logCacheError(err, "get", uid)

	status, err = s.store.GetByID(ctx, uid)
	if err != nil {
		return models.TaskStatus{}, err
	}

	if err := s.cache.Set(ctx, key, status, s.ttl); err != nil {
		s.logCacheError(err, "set", uid)
	}
	return status, nil
}

// Upsert writes to the store, then refreshes the cached copy
func (s *CachedStatusStore) Upsert(ctx context.Context, status models.TaskStatus) error {
	if err := s.store.Upsert(ctx, status); err != nil {
		return err
	}

	if err := s.cache.Set(ctx, StatusKey(status.UID), status, s.ttl); err != nil {
		s.logCacheError(err, "set", status.UID)
		// a stale entry is worse than none
		if err := s.cache.Delete(ctx, StatusKey(status.UID)); err != nil {
			s.logCacheError(err, "delete", status.UID)
		}
	}
	return nil
}

// Delete removes the record from the store and evicts it
func (s *CachedStatusStore) Delete(ctx context.Context, uid string) error {
	if err := s.store.Delete(ctx, uid); err != nil {
		return err
	}

	if err := s.cache.Delete(ctx, StatusKey(uid)); err != nil {
		s.logCacheError(err, "delete", uid)
	}
	return nil
}

// CountCompleted passes through to the store
func (s *CachedStatusStore) CountCompleted(ctx context.Context, userUID string) (int64, error) {
	return s.store.CountCompleted(ctx, userUID)
}

// CountUnfinishedPriority passes through to the store
func (s *CachedStatusStore) CountUnfinishedPriority(ctx context.Context, userUID string) (int64, error) {
	return s.store.CountUnfinishedPriority(ctx, userUID)
}

func (s *CachedStatusStore) logCacheError(err error, op, uid string) {
	if errors.Is(err, ErrMiss) || errors.Is(err, ErrDisabled) {
		return
	}
	log.Warn().Err(err).Str("op", op).Str("item_uid", uid).Msg("status cache error")
}
