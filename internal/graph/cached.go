package graph

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"

	"github.com/ppiankov/hopwalk/internal/cache"
	"github.com/ppiankov/hopwalk/internal/model"
)

var _ Store = (*CachedStore)(nil)

// CachedStore caches point lookups and outgoing claims of another Store.
// The graph is read-only, so entries only expire by TTL. RandomItem is never cached.
type CachedStore struct {
	next  Store
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedStore wraps next with c. A zero ttl uses the cache's default.
func NewCachedStore(next Store, c cache.Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{next: next, cache: c, ttl: ttl}
}

// RandomItem delegates to the underlying store
func (s *CachedStore) RandomItem(ctx context.Context, r *rand.Rand) (model.Item, error) {
	return s.next.RandomItem(ctx, r)
}

// GetItem returns a cached item or loads it
func (s *CachedStore) GetItem(ctx context.Context, id string) (model.Item, error) {
	return cached(s, cache.Key("item", id), func() (model.Item, error) {
		return s.next.GetItem(ctx, id)
	})
}

// GetProperty returns a cached property or loads it
func (s *CachedStore) GetProperty(ctx context.Context, id string) (model.Property, error) {
	return cached(s, cache.Key("property", id), func() (model.Property, error) {
		return s.next.GetProperty(ctx, id)
	})
}

// OutgoingClaims returns cached claims or loads them
func (s *CachedStore) OutgoingClaims(ctx context.Context, subjectID string) ([]model.Claim, error) {
	return cached(s, cache.Key("claims", subjectID), func() ([]model.Claim, error) {
		return s.next.OutgoingClaims(ctx, subjectID)
	})
}

// Close closes the underlying store if it holds connections
func (s *CachedStore) Close(ctx context.Context) error {
	if c, ok := s.next.(Closer); ok {
		return c.Close(ctx)
	}
	return nil
}

// cached decodes a hit or runs load and stores its result. Errors are never cached,
// and a corrupt or unwritable entry falls through to the store.
func cached[T any](s *CachedStore, key string, load func() (T, error)) (T, error) {
	if data, ok := s.cache.Get(key); ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
		_ = s.cache.Delete(key)
	}

	v, err := load()
	if err != nil {
		return v, err
	}

	if data, err := json.Marshal(v); err == nil {
		_ = s.cache.Set(key, data, s.ttl)
	}
	return v, nil
}
