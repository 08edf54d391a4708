package graph

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/hopwalk/internal/model"
)

// obamaGraph is a small graph around Barack Obama:
//
//	Q76 -P19-> Q782 -P36-> Q18094
//	Q76 -P27-> Q30
//	Q76 -P40-> Q61 / Q62 (two children, ambiguous)
func obamaGraph() *MemoryStore {
	s := NewMemoryStore()
	s.AddItem(model.Item{ID: "Q76", Label: "Barack Obama"})
	s.AddItem(model.Item{ID: "Q782", Label: "Hawaii"})
	s.AddProperty(model.Property{ID: "P19", Label: "place of birth"})
	for _, c := range []model.Claim{
		{SubjectID: "Q76", PropertyID: "P19", TargetID: "Q782"},
		{SubjectID: "Q782", PropertyID: "P36", TargetID: "Q18094"},
		{SubjectID: "Q76", PropertyID: "P27", TargetID: "Q30"},
		{SubjectID: "Q76", PropertyID: "P40", TargetID: "Q61"},
		{SubjectID: "Q76", PropertyID: "P40", TargetID: "Q62"},
	} {
		s.AddClaim(c)
	}
	return s
}

func TestMemoryStore_AddClaim(t *testing.T) {
	s := obamaGraph()

	items, claims := s.Len()
	assert.Equal(t, 6, items)
	assert.Equal(t, 5, claims)

	c := s.AddClaim(model.Claim{ID: 100, SubjectID: "Q30", PropertyID: "P36", TargetID: "Q61"})
	assert.Equal(t, int64(100), c.ID, "explicit claim ids are kept")
	c = s.AddClaim(model.Claim{SubjectID: "Q30", PropertyID: "P1", TargetID: "Q1"})
	assert.Equal(t, int64(7), c.ID)

	item, err := s.GetItem(context.Background(), "Q18094")
	require.NoError(t, err)
	assert.Equal(t, "Q18094", item.Label, "items created by claims use their id as label")

	prop, err := s.GetProperty(context.Background(), "P36")
	require.NoError(t, err)
	assert.Equal(t, "P36", prop.Label)
}

func TestMemoryStore_GetItem(t *testing.T) {
	s := obamaGraph()
	ctx := context.Background()

	item, err := s.GetItem(ctx, "Q782")
	require.NoError(t, err)
	assert.Equal(t, "Hawaii", item.Label)
	assert.Equal(t, 1, item.InDegree, "in-degree is derived from loaded claims")

	s.AddItem(model.Item{ID: "Q30", Label: "United States", InDegree: 5000})
	item, err = s.GetItem(ctx, "Q30")
	require.NoError(t, err)
	assert.Equal(t, 5000, item.InDegree, "a precomputed in-degree wins")

	_, err = s.GetItem(ctx, "Q999")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetProperty(ctx, "P999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Claims(t *testing.T) {
	s := obamaGraph()
	ctx := context.Background()

	out, err := s.OutgoingClaims(ctx, "Q76")
	require.NoError(t, err)
	require.Len(t, out, 4)
	for i := 1; i < len(out); i++ {
		assert.Less(t, out[i-1].ID, out[i].ID, "claims are ordered by id")
	}

	out[0].TargetID = "mutated"
	again, _ := s.OutgoingClaims(ctx, "Q76")
	assert.Equal(t, "Q782", again[0].TargetID, "returned slices do not alias the store")

	none, err := s.OutgoingClaims(ctx, "Q18094")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_SetInDegree(t *testing.T) {
	s := obamaGraph()
	ctx := context.Background()

	s.SetInDegree("Q782", 0)
	item, err := s.GetItem(ctx, "Q782")
	require.NoError(t, err)
	assert.Equal(t, 0, item.InDegree, "an explicit zero is kept")
	assert.Equal(t, "Hawaii", item.Label)

	s.SetInDegree("Q1000", 12)
	item, err = s.GetItem(ctx, "Q1000")
	require.NoError(t, err)
	assert.Equal(t, 12, item.InDegree)
	assert.Equal(t, "Q1000", item.Label)
}

func TestMemoryStore_RandomItem(t *testing.T) {
	s := obamaGraph()
	ctx := context.Background()

	draw := func(seed uint64) []string {
		r := rand.New(rand.NewPCG(seed, 0))
		ids := make([]string, 20)
		for i := range ids {
			item, err := s.RandomItem(ctx, r)
			require.NoError(t, err)
			ids[i] = item.ID
		}
		return ids
	}
	assert.Equal(t, draw(7), draw(7), "same seed draws the same items")

	seen := map[string]bool{}
	for _, id := range draw(3) {
		seen[id] = true
	}
	assert.Greater(t, len(seen), 1)

	_, err := NewMemoryStore().RandomItem(ctx, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := obamaGraph()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetItem(ctx, "Q76")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.OutgoingClaims(ctx, "Q76")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.RandomItem(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPropertyTargets(t *testing.T) {
	s := obamaGraph()
	ctx := context.Background()

	targets, err := PropertyTargets(ctx, s, "Q76", "P19")
	require.NoError(t, err)
	assert.Equal(t, []string{"Q782"}, targets)

	targets, err = PropertyTargets(ctx, s, "Q76", "P40")
	require.NoError(t, err)
	assert.Equal(t, []string{"Q61", "Q62"}, targets)

	targets, err = PropertyTargets(ctx, s, "Q76", "P999")
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestReadTriples(t *testing.T) {
	s := NewMemoryStore()
	n, err := s.ReadTriples(strings.NewReader(
		"# wikidata5m sample\nQ1\tP31\tQ5\r\n\nQ2\tP31\tQ5\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	item, err := s.GetItem(context.Background(), "Q5")
	require.NoError(t, err)
	assert.Equal(t, 2, item.InDegree)

	_, err = NewMemoryStore().ReadTriples(strings.NewReader("Q1\tP31\tQ5\nQ2 P31 Q5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadLabels(t *testing.T) {
	s := obamaGraph()
	n, err := s.ReadLabels(strings.NewReader(
		"Q18094\tHonolulu\tcapital of Hawaii\nP36\tcapital\nQ7\tnew item\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ctx := context.Background()
	item, _ := s.GetItem(ctx, "Q18094")
	assert.Equal(t, "Honolulu", item.Label)
	assert.Equal(t, "capital of Hawaii", item.Description)
	assert.Equal(t, 1, item.InDegree)

	prop, _ := s.GetProperty(ctx, "P36")
	assert.Equal(t, "capital", prop.Label)

	_, err = s.GetItem(ctx, "Q7")
	assert.NoError(t, err, "labels may introduce items without claims")

	_, err = s.ReadLabels(strings.NewReader("Q1\n"))
	assert.Error(t, err)
}
