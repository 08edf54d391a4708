// Package cache stores encoded graph lookups so repeated walks over the same
// neighbourhood avoid round trips to the backing store.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key generates a cache key for a lookup of the given kind ("item", "property",
// "claims") and id. The id is hashed so keys are safe file names for DiskCache.
func Key(kind, id string) string {
	hash := sha256.Sum256([]byte(kind + "\x00" + id))
	return "hopwalk-v1-" + kind + "-" + hex.EncodeToString(hash[:16])
}
