// Package centroid evolves concept embeddings toward the running mean of
// their observed exemplars, persisting the running sum and count through the
// storage layer.
package centroid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/versolabs/noema/embedding"
	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/storage"
)

// Tracker maintains centroid embeddings for concepts: the visible embedding
// is always the running mean of every exemplar observed so far, with the
// running sum and count persisted in the concept's props.
//
// The sum/count update is a read-modify-write; concurrent callers require a
// last-writer-wins store or external locking.
type Tracker struct {
	store  storage.Store
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker creates a Tracker over the given store.
func NewTracker(store storage.Store, opts ...Option) *Tracker {
	t := &Tracker{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddResult reports the outcome of an exemplar addition. Drift is the
// cosine similarity between the pre- and post-update centroid: 1.0 means
// the centroid did not move.
type AddResult struct {
	Updated       bool    `json:"updated"`
	ExemplarCount int     `json:"exemplar_count"`
	Drift         float64 `json:"embedding_drift"`
}

// AddExemplar folds one exemplar embedding into a concept's centroid. When
// exemplarUUID is non-empty a has_exemplar edge is also recorded so the
// centroid can later be recomputed or audited.
func (t *Tracker) AddExemplar(ctx context.Context, conceptUUID string, exemplar []float64, exemplarUUID string) (*AddResult, error) {
	if len(exemplar) == 0 {
		return &AddResult{Updated: false}, nil
	}
	concept, err := storage.GetConcept(ctx, t.store, conceptUUID)
	if err != nil {
		return nil, fmt.Errorf("load concept %s: %w", conceptUUID, err)
	}

	sum := floatSliceProp(concept, graph.KeyEmbeddingSum)
	count := concept.IntProp(graph.KeyExemplarCount)
	if len(sum) == 0 && len(concept.Embedding) > 0 && count == 0 {
		// Bootstrap from a pre-existing embedding so the first exemplar
		// evolves it instead of replacing it.
		sum = append([]float64(nil), concept.Embedding...)
		count = 1
	}
	if len(sum) > 0 && len(exemplar) != len(sum) {
		// A mismatched exemplar carries no usable signal; counting it
		// would deflate the centroid.
		t.logger.Warn("exemplar dimension mismatch",
			slog.String("concept", conceptUUID),
			slog.Int("want", len(sum)), slog.Int("got", len(exemplar)))
		return &AddResult{Updated: false}, nil
	}

	before := concept.Embedding
	sum = embedding.Add(sum, exemplar)
	count++
	centroid := embedding.Scale(sum, 1.0/float64(count))

	concept.SetProp(graph.KeyEmbeddingSum, sum)
	concept.SetProp(graph.KeyExemplarCount, count)
	concept.Embedding = centroid

	prov := graph.NewProvenance("tool", 1.0)
	if res := t.store.Upsert(ctx, concept, prov); !res.OK() {
		return nil, fmt.Errorf("store updated centroid: %s", res.Error)
	}

	if exemplarUUID != "" {
		edge := graph.NewEdge(conceptUUID, exemplarUUID, graph.RelHasExemplar)
		if res := t.store.Upsert(ctx, edge, prov); !res.OK() {
			t.logger.Warn("has_exemplar edge write failed",
				slog.String("concept", conceptUUID), slog.String("error", res.Error))
		}
	}

	drift := 1.0
	if len(before) > 0 {
		drift = embedding.Cosine(before, centroid)
	}
	return &AddResult{Updated: true, ExemplarCount: count, Drift: drift}, nil
}

// RecomputeResult reports a centroid rebuild.
type RecomputeResult struct {
	Recomputed    bool `json:"recomputed"`
	ExemplarCount int  `json:"exemplar_count"`
}

// RecomputeCentroid rebuilds a concept's running sum and count from scratch
// by walking its has_exemplar edges and averaging the linked exemplars'
// embeddings. Fails softly when the concept is absent or has no linked
// exemplars with embeddings.
func (t *Tracker) RecomputeCentroid(ctx context.Context, conceptUUID string) (*RecomputeResult, error) {
	concept, err := storage.GetConcept(ctx, t.store, conceptUUID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &RecomputeResult{Recomputed: false}, nil
		}
		return nil, fmt.Errorf("load concept %s: %w", conceptUUID, err)
	}

	edges, err := storage.EdgesFrom(ctx, t.store, conceptUUID, graph.RelHasExemplar)
	if err != nil {
		return nil, fmt.Errorf("walk has_exemplar edges: %w", err)
	}

	var vectors [][]float64
	for _, edge := range edges {
		exemplar, err := storage.GetConcept(ctx, t.store, edge.ToNode)
		if err != nil {
			t.logger.Warn("exemplar missing during recompute",
				slog.String("concept", conceptUUID), slog.String("exemplar", edge.ToNode))
			continue
		}
		if len(exemplar.Embedding) > 0 {
			vectors = append(vectors, exemplar.Embedding)
		}
	}

	mean := embedding.Centroid(vectors)
	if mean == nil {
		return &RecomputeResult{Recomputed: false}, nil
	}

	concept.Embedding = mean
	concept.SetProp(graph.KeyEmbeddingSum, embedding.Scale(mean, float64(len(vectors))))
	concept.SetProp(graph.KeyExemplarCount, len(vectors))
	if res := t.store.Upsert(ctx, concept, graph.NewProvenance("tool", 1.0)); !res.OK() {
		return nil, fmt.Errorf("store recomputed centroid: %s", res.Error)
	}
	return &RecomputeResult{Recomputed: true, ExemplarCount: len(vectors)}, nil
}

// floatSliceProp reads a float vector property, tolerating the []any shape
// JSON round-trips produce.
func floatSliceProp(c *graph.Concept, key string) []float64 {
	if c.Props == nil {
		return nil
	}
	switch v := c.Props[key].(type) {
	case []float64:
		return append([]float64(nil), v...)
	case []any:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			switch f := item.(type) {
			case float64:
				out = append(out, f)
			case int:
				out = append(out, float64(f))
			}
		}
		return out
	}
	return nil
}
