package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/storage"
)

func prov() graph.Provenance {
	return graph.NewProvenance("tool", 1.0)
}

func TestUpsert_AssignsUUIDAndIsolatesCopies(t *testing.T) {
	store := New()
	ctx := context.Background()

	c := &graph.Concept{Kind: graph.KindConcept, Name: "fresh"}
	res := store.Upsert(ctx, c, prov())
	require.True(t, res.OK())
	assert.NotEmpty(t, res.UUID)
	assert.Equal(t, res.UUID, c.UUID)

	// Mutating the caller's copy after the write must not leak into the
	// store.
	c.Name = "mutated"
	got, err := storage.GetConcept(ctx, store, res.UUID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Name)

	// Nor may mutating a read result.
	got.Labels = append(got.Labels, "scribble")
	again, err := storage.GetConcept(ctx, store, res.UUID)
	require.NoError(t, err)
	assert.Empty(t, again.Labels)
}

func TestUpsert_RejectsUnknownTypes(t *testing.T) {
	res := New().Upsert(context.Background(), "not an entity", prov())
	assert.Equal(t, storage.UpsertError, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestUpsert_OverwritesByUUID(t *testing.T) {
	store := New()
	ctx := context.Background()

	c := graph.NewConcept(graph.KindConcept, "v1")
	require.True(t, store.Upsert(ctx, c, prov()).OK())
	c.Name = "v2"
	require.True(t, store.Upsert(ctx, c, prov()).OK())

	concepts, _ := store.Len()
	assert.Equal(t, 1, concepts)
	got, err := storage.GetConcept(ctx, store, c.UUID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Name)
}

func TestSearch_FiltersAndRanks(t *testing.T) {
	store := New()
	ctx := context.Background()

	coffee := graph.NewConcept(graph.KindConcept, "coffee brewing")
	tea := graph.NewConcept(graph.KindConcept, "tea steeping")
	proc := graph.NewConcept(graph.KindProcedure, "coffee procedure")
	for _, c := range []*graph.Concept{coffee, tea, proc} {
		require.True(t, store.Upsert(ctx, c, prov()).OK())
	}

	// Kind filter.
	recs, err := store.Search(ctx, storage.Query{TopK: -1, Filters: storage.Filters{"kind": "Procedure"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, proc.UUID, recs[0].Concept.UUID)

	// Lexical ranking puts the stronger overlap first.
	recs, err = store.Search(ctx, storage.Query{Text: "coffee brewing", TopK: -1})
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, coffee.UUID, recs[0].Concept.UUID)
	assert.InDelta(t, 1.0, recs[0].Score, 1e-9)

	// TopK truncates.
	recs, err = store.Search(ctx, storage.Query{TopK: 2})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestSearch_TiesOrderedByUUID(t *testing.T) {
	store := New()
	ctx := context.Background()

	// Filter-only queries score every survivor 1.0, so ordering falls
	// entirely to the tie-break.
	for i := 0; i < 8; i++ {
		c := graph.NewConcept(graph.KindConcept, "twin")
		require.True(t, store.Upsert(ctx, c, prov()).OK())
	}

	first, err := store.Search(ctx, storage.Query{TopK: -1, Filters: storage.Filters{"kind": "Concept"}})
	require.NoError(t, err)
	require.Len(t, first, 8)

	var uuids []string
	for _, r := range first {
		uuids = append(uuids, r.Concept.UUID)
	}
	assert.IsIncreasing(t, uuids)

	// Repeat calls return the same order despite random map iteration.
	for i := 0; i < 5; i++ {
		again, err := store.Search(ctx, storage.Query{TopK: -1, Filters: storage.Filters{"kind": "Concept"}})
		require.NoError(t, err)
		require.Len(t, again, 8)
		for j, r := range again {
			assert.Equal(t, uuids[j], r.Concept.UUID)
		}
	}
}

func TestSearch_VectorRanking(t *testing.T) {
	store := New()
	ctx := context.Background()

	near := graph.NewConcept(graph.KindConcept, "near")
	near.Embedding = []float64{1, 0.1}
	far := graph.NewConcept(graph.KindConcept, "far")
	far.Embedding = []float64{0, 1}
	for _, c := range []*graph.Concept{near, far} {
		require.True(t, store.Upsert(ctx, c, prov()).OK())
	}

	recs, err := store.Search(ctx, storage.Query{Embedding: []float64{1, 0}, TopK: -1})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, near.UUID, recs[0].Concept.UUID)
	assert.Greater(t, recs[0].Score, recs[1].Score)
}

func TestSearch_EdgeFilters(t *testing.T) {
	store := New()
	ctx := context.Background()

	ab := graph.NewEdge("a", "b", graph.RelHasStep)
	ac := graph.NewEdge("a", "c", graph.RelDependsOn)
	for _, e := range []*graph.Edge{ab, ac} {
		require.True(t, store.Upsert(ctx, e, prov()).OK())
	}

	edges, err := storage.EdgesFrom(ctx, store, "a", graph.RelHasStep)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "b", edges[0].ToNode)

	edges, err = storage.EdgesFrom(ctx, store, "a", "")
	require.NoError(t, err)
	assert.Len(t, edges, 2)

	edges, err = storage.EdgesTo(ctx, store, "c", "")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, graph.RelDependsOn, edges[0].Rel)
}

func TestGetConcept_NotFound(t *testing.T) {
	_, err := storage.GetConcept(context.Background(), New(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
