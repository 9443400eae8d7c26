// Package memstore provides an in-memory Store backend used in tests and as
// the zero-dependency default. Search ranks by cosine similarity when a
// query embedding is given, otherwise by token overlap against concept
// names, descriptions and labels.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/storage"
)

// Store is an in-memory implementation of storage.Store. Safe for
// concurrent use; writes are last-writer-wins.
type Store struct {
	mu       sync.RWMutex
	concepts map[string]*graph.Concept
	edges    map[string]*graph.Edge
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		concepts: make(map[string]*graph.Concept),
		edges:    make(map[string]*graph.Edge),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert stores a concept or edge, assigning a UUID when absent.
func (s *Store) Upsert(_ context.Context, entity any, prov graph.Provenance) storage.UpsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := entity.(type) {
	case *graph.Concept:
		if e.UUID == "" {
			e.UUID = uuid.New().String()
		}
		s.concepts[e.UUID] = cloneConcept(e)
		s.logger.Debug("upsert concept",
			slog.String("uuid", e.UUID),
			slog.String("kind", string(e.Kind)),
			slog.String("trace_id", prov.TraceID))
		return storage.UpsertResult{Status: storage.UpsertOK, UUID: e.UUID}
	case *graph.Edge:
		if e.UUID == "" {
			e.UUID = uuid.New().String()
		}
		s.edges[e.UUID] = cloneEdge(e)
		s.logger.Debug("upsert edge",
			slog.String("uuid", e.UUID),
			slog.String("rel", string(e.Rel)),
			slog.String("trace_id", prov.TraceID))
		return storage.UpsertResult{Status: storage.UpsertOK, UUID: e.UUID}
	default:
		return storage.UpsertResult{
			Status: storage.UpsertError,
			Error:  fmt.Sprintf("unsupported entity type %T", entity),
		}
	}
}

// Search scans all entities, applies filters, then ranks the survivors.
func (s *Store) Search(_ context.Context, q storage.Query) ([]storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []storage.Record

	if storage.HasEdgeFilter(q.Filters) {
		for _, e := range s.edges {
			if storage.MatchEdge(e, q.Filters) {
				records = append(records, storage.Record{Edge: cloneEdge(e), Score: 1.0})
			}
		}
	} else {
		for _, c := range s.concepts {
			if !storage.MatchConcept(c, q.Filters) {
				continue
			}
			records = append(records, storage.Record{
				Concept: cloneConcept(c),
				Score:   storage.ScoreConcept(c, q),
			})
		}
	}

	// Map iteration order is random; tie-break on UUID so equal scores
	// rank the same on every call.
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return recordUUID(records[i]) < recordUUID(records[j])
	})

	if q.TopK >= 0 && len(records) > q.TopK {
		records = records[:q.TopK]
	}
	return records, nil
}

// Len reports the stored concept and edge counts.
func (s *Store) Len() (concepts, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.concepts), len(s.edges)
}

func recordUUID(r storage.Record) string {
	if r.Concept != nil {
		return r.Concept.UUID
	}
	if r.Edge != nil {
		return r.Edge.UUID
	}
	return ""
}

func cloneConcept(c *graph.Concept) *graph.Concept {
	out := *c
	out.Labels = append([]string(nil), c.Labels...)
	out.Embedding = append([]float64(nil), c.Embedding...)
	if c.Props != nil {
		out.Props = make(graph.Props, len(c.Props))
		for k, v := range c.Props {
			out.Props[k] = v
		}
	}
	return &out
}

func cloneEdge(e *graph.Edge) *graph.Edge {
	out := *e
	if e.Props != nil {
		out.Props = make(graph.Props, len(e.Props))
		for k, v := range e.Props {
			out.Props[k] = v
		}
	}
	return &out
}
