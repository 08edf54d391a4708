package graph

import (
	"cmp"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/ppiankov/hopwalk/internal/model"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory knowledge graph.
// It is safe for concurrent reads once loading is finished.
//
// An item added with InDegree 0 is treated as having no recorded degree and
// reports the number of loaded claims targeting it, which is never 0 for a
// claim target. Use SetInDegree to record a degree explicitly, including 0,
// when the zero-degree policies of the walker need to apply.
type MemoryStore struct {
	mu         sync.RWMutex
	itemIDs    []string // insertion order, so RandomItem is reproducible for a seed
	items      map[string]model.Item
	properties map[string]model.Property
	claims     []model.Claim
	out        map[string][]int // subject id -> claim indexes
	in         map[string][]int // target id -> claim indexes
	degrees    map[string]int   // explicit in-degrees, overriding counted ones
}

// NewMemoryStore creates an empty graph
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:      make(map[string]model.Item),
		properties: make(map[string]model.Property),
		out:        make(map[string][]int),
		in:         make(map[string][]int),
		degrees:    make(map[string]int),
	}
}

// AddItem inserts or replaces an item
func (m *MemoryStore) AddItem(item model.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addItemLocked(item)
}

func (m *MemoryStore) addItemLocked(item model.Item) {
	if _, exists := m.items[item.ID]; !exists {
		m.itemIDs = append(m.itemIDs, item.ID)
	}
	m.items[item.ID] = item
}

// SetInDegree records the in-degree reported for id, creating the item if needed
func (m *MemoryStore) SetInDegree(id string, degree int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		m.addItemLocked(model.Item{ID: id, Label: id})
	}
	m.degrees[id] = degree
}

// AddProperty inserts or replaces a property
func (m *MemoryStore) AddProperty(prop model.Property) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[prop.ID] = prop
}

// AddClaim appends a claim. A zero claim id is replaced by the next sequential id.
// Subject and target items that do not exist yet are created with their id as label.
func (m *MemoryStore) AddClaim(c model.Claim) model.Claim {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == 0 {
		c.ID = int64(len(m.claims) + 1)
	}
	for _, id := range []string{c.SubjectID, c.TargetID} {
		if _, ok := m.items[id]; !ok {
			m.addItemLocked(model.Item{ID: id, Label: id})
		}
	}
	if _, ok := m.properties[c.PropertyID]; !ok {
		m.properties[c.PropertyID] = model.Property{ID: c.PropertyID, Label: c.PropertyID}
	}

	idx := len(m.claims)
	m.claims = append(m.claims, c)
	m.out[c.SubjectID] = append(m.out[c.SubjectID], idx)
	m.in[c.TargetID] = append(m.in[c.TargetID], idx)
	return c
}

// Len returns the number of items and claims
func (m *MemoryStore) Len() (items, claims int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), len(m.claims)
}

// RandomItem returns a uniformly random item
func (m *MemoryStore) RandomItem(ctx context.Context, r *rand.Rand) (model.Item, error) {
	if err := ctx.Err(); err != nil {
		return model.Item{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.itemIDs) == 0 {
		return model.Item{}, fmt.Errorf("random item: store is empty: %w", ErrNotFound)
	}
	return m.itemLocked(m.itemIDs[pick(r, len(m.itemIDs))]), nil
}

// GetItem returns an item by id. Items loaded without an in-degree report the
// number of loaded claims targeting them.
func (m *MemoryStore) GetItem(ctx context.Context, id string) (model.Item, error) {
	if err := ctx.Err(); err != nil {
		return model.Item{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.items[id]; !ok {
		return model.Item{}, fmt.Errorf("item %q: %w", id, ErrNotFound)
	}
	return m.itemLocked(id), nil
}

func (m *MemoryStore) itemLocked(id string) model.Item {
	item := m.items[id]
	if d, ok := m.degrees[id]; ok {
		item.InDegree = d
	} else if item.InDegree == 0 {
		item.InDegree = len(m.in[id])
	}
	return item
}

// GetProperty returns a property by id
func (m *MemoryStore) GetProperty(ctx context.Context, id string) (model.Property, error) {
	if err := ctx.Err(); err != nil {
		return model.Property{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	prop, ok := m.properties[id]
	if !ok {
		return model.Property{}, fmt.Errorf("property %q: %w", id, ErrNotFound)
	}
	return prop, nil
}

// OutgoingClaims returns the claims whose subject is subjectID
func (m *MemoryStore) OutgoingClaims(ctx context.Context, subjectID string) ([]model.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectLocked(m.out[subjectID]), nil
}

// collectLocked copies claims out, ordered by claim id, so callers never alias the store's slice
func (m *MemoryStore) collectLocked(idxs []int) []model.Claim {
	claims := make([]model.Claim, 0, len(idxs))
	for _, idx := range idxs {
		claims = append(claims, m.claims[idx])
	}
	slices.SortFunc(claims, func(a, b model.Claim) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return claims
}
