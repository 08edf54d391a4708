package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/hopwalk/internal/cache"
	"github.com/ppiankov/hopwalk/internal/model"
)

// Open builds the store selected by cfg.Backend and, when caching is enabled,
// wraps it in a CachedStore. Callers should Close the result if it implements Closer.
func Open(ctx context.Context, cfg model.GraphConfig, cacheCfg model.CacheConfig) (Store, error) {
	store, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if !cacheCfg.Enabled {
		return store, nil
	}

	var c cache.Cache
	if cacheCfg.DiskDir != "" {
		c = cache.NewLayeredCache(cacheCfg.MemoryTTL, cacheCfg.DiskDir, cacheCfg.DiskTTL)
	} else {
		c = cache.NewMemoryCache(cacheCfg.MemoryTTL, 10*time.Minute)
	}
	return NewCachedStore(store, c, 0), nil
}

func openBackend(ctx context.Context, cfg model.GraphConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory", "tsv":
		if cfg.TriplesFile == "" {
			return nil, fmt.Errorf("memory backend requires graph.triples_file")
		}
		return LoadMemoryStore(cfg.TriplesFile, cfg.LabelsFile)

	case "sqlite", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires graph.path")
		}
		return OpenSQLiteStore(cfg.Path, cfg.MaxConnections)

	case "neo4j":
		client, err := NewNeo4jClient(ctx, Options{
			URI:            cfg.URI,
			Database:       cfg.Database,
			Username:       cfg.Username,
			Password:       cfg.Password,
			MaxConnections: cfg.MaxConnections,
		})
		if err != nil {
			return nil, err
		}
		return NewNeo4jStore(client), nil

	default:
		return nil, fmt.Errorf("unknown graph backend: %s (supported: memory, sqlite, neo4j)", cfg.Backend)
	}
}

// CloseStore closes s if it holds connections
func CloseStore(ctx context.Context, s Store) error {
	if c, ok := s.(Closer); ok {
		return c.Close(ctx)
	}
	return nil
}
