package repo

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-incident/internal/cache"
	"github.com/miradorstack/mirador-incident/internal/models"
)

// CachedStore fronts an IncidentStore with a read-through cache for Get.
// Cache failures are logged and never surface to callers.
type CachedStore struct {
	IncidentStore
	cache  cache.Provider
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore wraps store. A nil provider disables caching.
func NewCachedStore(store IncidentStore, provider cache.Provider, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{IncidentStore: store, cache: provider, ttl: ttl, logger: logger}
}

func incidentKey(id string) string { return "incident:record:" + id }

// Save writes through to the backing store and refreshes the cached copy.
func (s *CachedStore) Save(ctx context.Context, rec models.Record) error {
	if err := s.IncidentStore.Save(ctx, rec); err != nil {
		return err
	}
	s.put(ctx, rec)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, incidentID string) (models.Record, error) {
	key := incidentKey(incidentID)
	if data, err := s.cache.Get(ctx, key); err == nil {
		var rec models.Record
		if err := json.Unmarshal(data, &rec); err == nil {
			return rec, nil
		}
		s.logger.Warn("discarding corrupt cached incident", "incident_id", incidentID)
		_ = s.cache.Del(ctx, key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("incident cache read failed", "incident_id", incidentID, "error", err)
	}

	rec, err := s.IncidentStore.Get(ctx, incidentID)
	if err != nil {
		return models.Record{}, err
	}
	s.put(ctx, rec)
	return rec, nil
}

// Close closes the backing store and the cache.
func (s *CachedStore) Close() error {
	return errors.Join(s.IncidentStore.Close(), s.cache.Close())
}

func (s *CachedStore) put(ctx context.Context, rec models.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, incidentKey(rec.IncidentID), data, s.ttl); err != nil {
		s.logger.Warn("incident cache write failed", "incident_id", rec.IncidentID, "error", err)
	}
}
