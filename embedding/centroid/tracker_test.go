package centroid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/storage"
	"github.com/versolabs/noema/storage/memstore"
)

func storeConcept(t *testing.T, store *memstore.Store, c *graph.Concept) {
	t.Helper()
	res := store.Upsert(context.Background(), c, graph.NewProvenance("tool", 1.0))
	require.True(t, res.OK())
}

func TestAddExemplar_MaintainsRunningMean(t *testing.T) {
	store := memstore.New()
	tracker := NewTracker(store)
	ctx := context.Background()

	c := graph.NewConcept(graph.KindConcept, "coffee")
	storeConcept(t, store, c)

	_, err := tracker.AddExemplar(ctx, c.UUID, []float64{1, 0}, "")
	require.NoError(t, err)
	result, err := tracker.AddExemplar(ctx, c.UUID, []float64{0, 1}, "")
	require.NoError(t, err)

	assert.True(t, result.Updated)
	assert.Equal(t, 2, result.ExemplarCount)

	updated, err := storage.GetConcept(ctx, store, c.UUID)
	require.NoError(t, err)
	require.Len(t, updated.Embedding, 2)
	assert.InDelta(t, 0.5, updated.Embedding[0], 1e-9)
	assert.InDelta(t, 0.5, updated.Embedding[1], 1e-9)
	assert.Equal(t, 2, updated.IntProp(graph.KeyExemplarCount))
}

func TestAddExemplar_BootstrapsFromExistingEmbedding(t *testing.T) {
	store := memstore.New()
	tracker := NewTracker(store)
	ctx := context.Background()

	c := graph.NewConcept(graph.KindConcept, "seeded")
	c.Embedding = []float64{1, 0}
	storeConcept(t, store, c)

	result, err := tracker.AddExemplar(ctx, c.UUID, []float64{0, 1}, "")
	require.NoError(t, err)
	// The pre-existing embedding counts as the first exemplar.
	assert.Equal(t, 2, result.ExemplarCount)

	updated, err := storage.GetConcept(ctx, store, c.UUID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, updated.Embedding[0], 1e-9)
	assert.InDelta(t, 0.5, updated.Embedding[1], 1e-9)
}

func TestAddExemplar_RejectsDimensionMismatch(t *testing.T) {
	store := memstore.New()
	tracker := NewTracker(store)
	ctx := context.Background()

	c := graph.NewConcept(graph.KindConcept, "seeded")
	c.Embedding = []float64{1, 0}
	storeConcept(t, store, c)

	result, err := tracker.AddExemplar(ctx, c.UUID, []float64{1, 2, 3}, "")
	require.NoError(t, err)
	assert.False(t, result.Updated)

	// Neither the centroid nor the bookkeeping moved.
	updated, err := storage.GetConcept(ctx, store, c.UUID)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, updated.Embedding)
	assert.Equal(t, 0, updated.IntProp(graph.KeyExemplarCount))

	// A matching exemplar afterwards behaves as if the bad one never
	// happened.
	result, err = tracker.AddExemplar(ctx, c.UUID, []float64{0, 1}, "")
	require.NoError(t, err)
	assert.True(t, result.Updated)
	assert.Equal(t, 2, result.ExemplarCount)
}

func TestAddExemplar_DriftConvergesTowardOne(t *testing.T) {
	store := memstore.New()
	tracker := NewTracker(store)
	ctx := context.Background()

	c := graph.NewConcept(graph.KindConcept, "converging")
	storeConcept(t, store, c)

	// Repeatedly feeding similar exemplars moves the centroid less and
	// less: drift climbs toward 1.0.
	exemplars := [][]float64{{1, 0.1}, {1, 0.11}, {1, 0.09}, {1, 0.1}, {1, 0.1}}
	var prev float64
	for i, e := range exemplars {
		result, err := tracker.AddExemplar(ctx, c.UUID, e, "")
		require.NoError(t, err)
		if i > 0 {
			assert.GreaterOrEqual(t, result.Drift, prev-1e-6)
			prev = result.Drift
		}
	}
	assert.Greater(t, prev, 0.999)
}

func TestAddExemplar_EmptyVectorIsNoop(t *testing.T) {
	store := memstore.New()
	tracker := NewTracker(store)

	result, err := tracker.AddExemplar(context.Background(), "irrelevant", nil, "")
	require.NoError(t, err)
	assert.False(t, result.Updated)
}

func TestAddExemplar_RecordsExemplarEdge(t *testing.T) {
	store := memstore.New()
	tracker := NewTracker(store)
	ctx := context.Background()

	c := graph.NewConcept(graph.KindConcept, "parent")
	storeConcept(t, store, c)
	exemplar := graph.NewConcept(graph.KindConcept, "exemplar")
	exemplar.Embedding = []float64{1, 1}
	storeConcept(t, store, exemplar)

	_, err := tracker.AddExemplar(ctx, c.UUID, exemplar.Embedding, exemplar.UUID)
	require.NoError(t, err)

	edges, err := storage.EdgesFrom(ctx, store, c.UUID, graph.RelHasExemplar)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, exemplar.UUID, edges[0].ToNode)
}

func TestRecomputeCentroid(t *testing.T) {
	store := memstore.New()
	tracker := NewTracker(store)
	ctx := context.Background()

	parent := graph.NewConcept(graph.KindConcept, "parent")
	storeConcept(t, store, parent)

	prov := graph.NewProvenance("tool", 1.0)
	for _, vec := range [][]float64{{2, 0}, {0, 2}} {
		ex := graph.NewConcept(graph.KindConcept, "ex")
		ex.Embedding = vec
		storeConcept(t, store, ex)
		edge := graph.NewEdge(parent.UUID, ex.UUID, graph.RelHasExemplar)
		require.True(t, store.Upsert(ctx, edge, prov).OK())
	}

	result, err := tracker.RecomputeCentroid(ctx, parent.UUID)
	require.NoError(t, err)
	assert.True(t, result.Recomputed)
	assert.Equal(t, 2, result.ExemplarCount)

	updated, err := storage.GetConcept(ctx, store, parent.UUID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, updated.Embedding[0], 1e-9)
	assert.InDelta(t, 1.0, updated.Embedding[1], 1e-9)
}

func TestRecomputeCentroid_SoftFailures(t *testing.T) {
	store := memstore.New()
	tracker := NewTracker(store)
	ctx := context.Background()

	// Absent concept.
	result, err := tracker.RecomputeCentroid(ctx, "no-such-uuid")
	require.NoError(t, err)
	assert.False(t, result.Recomputed)

	// Concept with no exemplar edges.
	c := graph.NewConcept(graph.KindConcept, "lonely")
	storeConcept(t, store, c)
	result, err = tracker.RecomputeCentroid(ctx, c.UUID)
	require.NoError(t, err)
	assert.False(t, result.Recomputed)
}
