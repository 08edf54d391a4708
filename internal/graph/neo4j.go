package graph

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/ppiankov/hopwalk/internal/model"
)

// Compile-time interface checks.
var (
	_ Store  = (*Neo4jStore)(nil)
	_ Closer = (*Neo4jStore)(nil)
)

// Graph layout expected by Neo4jStore:
//
//	(:Item {id, seq, label, description, in_degree})
//	(:Property {id, label, description, count})
//	(:Item)-[:CLAIM {id, property_id}]->(:Item)
//
// seq numbers items 1..n and should carry a range index
// (CREATE INDEX item_seq FOR (i:Item) ON (i.seq)) so a random start is one
// index seek. Graphs loaded without seq fall back to skipping through items
// in id order.
const (
	itemReturn = `i.id AS id, i.label AS label, i.description AS description,
       coalesce(i.in_degree, size([(i)<-[:CLAIM]-() | 1])) AS in_degree`

	cypherCountItems = `MATCH (i:Item) RETURN count(i) AS n, coalesce(max(i.seq), 0) AS max_seq`
	cypherSeekItem   = `MATCH (i:Item) WHERE i.seq >= $seq WITH i ORDER BY i.seq LIMIT 1 RETURN ` + itemReturn
	cypherSkipItem   = `MATCH (i:Item) WITH i ORDER BY i.id SKIP $skip LIMIT 1 RETURN ` + itemReturn
	cypherGetItem    = `MATCH (i:Item {id: $id}) RETURN ` + itemReturn
	cypherGetProp    = `MATCH (p:Property {id: $id})
RETURN p.id AS id, p.label AS label, p.description AS description, p.count AS count`
	cypherOutgoing = `MATCH (s:Item {id: $id})-[c:CLAIM]->(t:Item)
RETURN c.id AS id, s.id AS subject_id, c.property_id AS property_id, t.id AS target_id
ORDER BY c.id`
)

// Neo4jStore reads a knowledge graph stored in Neo4j (or any Bolt-compatible engine)
type Neo4jStore struct {
	client Client

	mu        sync.Mutex
	itemCount int64
	maxSeq    int64
}

// NewNeo4jStore wraps a graph client
func NewNeo4jStore(client Client) *Neo4jStore {
	return &Neo4jStore{client: client}
}

// Close closes the underlying client
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// RandomItem draws a seq in [1, max(seq)] using r and seeks to the first item
// at or after it. Without seq it skips a random number of items in id order,
// which scans the label on every draw.
func (s *Neo4jStore) RandomItem(ctx context.Context, r *rand.Rand) (model.Item, error) {
	n, maxSeq, err := s.countItems(ctx)
	if err != nil {
		return model.Item{}, err
	}
	if n == 0 {
		return model.Item{}, fmt.Errorf("random item: store is empty: %w", ErrNotFound)
	}

	query, params := cypherSkipItem, map[string]any{"skip": int64(pick(r, int(n)))}
	if maxSeq > 0 {
		query, params = cypherSeekItem, map[string]any{"seq": 1 + int64(pick(r, int(maxSeq)))}
	}
	res, err := s.client.ExecuteRead(ctx, query, params)
	if err != nil {
		return model.Item{}, fmt.Errorf("random item: %w", err)
	}
	if len(res.Records) == 0 {
		return model.Item{}, fmt.Errorf("random item: %w", ErrNotFound)
	}
	return itemFromRecord(res.Records[0]), nil
}

func (s *Neo4jStore) countItems(ctx context.Context) (count, maxSeq int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.itemCount > 0 {
		return s.itemCount, s.maxSeq, nil
	}
	res, err := s.client.ExecuteRead(ctx, cypherCountItems, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("count items: %w", err)
	}
	if len(res.Records) != 1 {
		return 0, 0, errUnexpectedShape("count items")
	}
	s.itemCount = res.Records[0].Int64("n")
	s.maxSeq = res.Records[0].Int64("max_seq")
	return s.itemCount, s.maxSeq, nil
}

// GetItem returns an item by id
func (s *Neo4jStore) GetItem(ctx context.Context, id string) (model.Item, error) {
	res, err := s.client.ExecuteRead(ctx, cypherGetItem, map[string]any{"id": id})
	if err != nil {
		return model.Item{}, fmt.Errorf("get item %q: %w", id, err)
	}
	if len(res.Records) == 0 {
		return model.Item{}, fmt.Errorf("item %q: %w", id, ErrNotFound)
	}
	return itemFromRecord(res.Records[0]), nil
}

// GetProperty returns a property by id
func (s *Neo4jStore) GetProperty(ctx context.Context, id string) (model.Property, error) {
	res, err := s.client.ExecuteRead(ctx, cypherGetProp, map[string]any{"id": id})
	if err != nil {
		return model.Property{}, fmt.Errorf("get property %q: %w", id, err)
	}
	if len(res.Records) == 0 {
		return model.Property{}, fmt.Errorf("property %q: %w", id, ErrNotFound)
	}
	rec := res.Records[0]
	return model.Property{
		ID:          rec.String("id"),
		Label:       rec.String("label"),
		Description: rec.String("description"),
		Count:       int(rec.Int64("count")),
	}, nil
}

// OutgoingClaims returns the claims whose subject is subjectID
func (s *Neo4jStore) OutgoingClaims(ctx context.Context, subjectID string) ([]model.Claim, error) {
	res, err := s.client.ExecuteRead(ctx, cypherOutgoing, map[string]any{"id": subjectID})
	if err != nil {
		return nil, fmt.Errorf("outgoing claims of %q: %w", subjectID, err)
	}
	return claimsFromResult(res), nil
}

func itemFromRecord(rec Record) model.Item {
	return model.Item{
		ID:          rec.String("id"),
		Label:       rec.String("label"),
		Description: rec.String("description"),
		InDegree:    int(rec.Int64("in_degree")),
	}
}

func claimFromRecord(rec Record) model.Claim {
	return model.Claim{
		ID:         rec.Int64("id"),
		SubjectID:  rec.String("subject_id"),
		PropertyID: rec.String("property_id"),
		TargetID:   rec.String("target_id"),
	}
}

func claimsFromResult(res Result) []model.Claim {
	claims := make([]model.Claim, 0, len(res.Records))
	for _, rec := range res.Records {
		claims = append(claims, claimFromRecord(rec))
	}
	return claims
}
