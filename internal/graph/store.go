// Package graph provides read access to a knowledge graph of items, properties and claims.
//
// The walker only depends on Store, so the backing storage can be an in-memory
// graph, a SQLite database or a Neo4j instance.
package graph

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/ppiankov/hopwalk/internal/model"
)

// ErrNotFound indicates a requested id does not exist in the store.
// For ids reached through a claim this means the store is inconsistent.
var ErrNotFound = errors.New("not found")

// Store is the read-only lookup contract used by the path walker
type Store interface {
	// RandomItem returns a uniformly random item, drawing from r
	RandomItem(ctx context.Context, r *rand.Rand) (model.Item, error)

	// GetItem returns the item with the given id
	GetItem(ctx context.Context, id string) (model.Item, error)

	// GetProperty returns the property with the given id
	GetProperty(ctx context.Context, id string) (model.Property, error)

	// OutgoingClaims returns every claim whose subject is subjectID, ordered by claim id
	OutgoingClaims(ctx context.Context, subjectID string) ([]model.Claim, error)
}

// Closer is implemented by backends holding connections
type Closer interface {
	Close(ctx context.Context) error
}

// PropertyTargets returns the targets subjectID reaches through propertyID in s,
// in claim order. More than one target means the property is ambiguous there.
func PropertyTargets(ctx context.Context, s Store, subjectID, propertyID string) ([]string, error) {
	claims, err := s.OutgoingClaims(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, c := range claims {
		if c.PropertyID == propertyID {
			targets = append(targets, c.TargetID)
		}
	}
	return targets, nil
}

func pick(r *rand.Rand, n int) int {
	if r == nil {
		return rand.IntN(n)
	}
	return r.IntN(n)
}
