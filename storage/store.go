// Package storage defines the persistence contract the knowledge core
// consumes. The core depends only on the two-operation Store interface;
// concrete backends (in-memory, NATS KV) live in subpackages.
package storage

import (
	"context"

	"github.com/versolabs/noema/graph"
)

// Record is an entity-shaped search result: exactly one of Concept or Edge
// is set. Score is the backend's ranking score (higher is better).
type Record struct {
	Concept *graph.Concept `json:"concept,omitempty"`
	Edge    *graph.Edge    `json:"edge,omitempty"`
	Score   float64        `json:"score"`
}

// UpsertStatus reports the outcome of a write.
type UpsertStatus string

const (
	UpsertOK    UpsertStatus = "ok"
	UpsertError UpsertStatus = "error"
)

// UpsertResult is returned by every write. Failures are expressed through
// Status and Error rather than a raised error, so callers can treat every
// call as returning a result object.
type UpsertResult struct {
	Status UpsertStatus `json:"status"`
	UUID   string       `json:"uuid,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// OK reports whether the write succeeded.
func (r UpsertResult) OK() bool { return r.Status == UpsertOK }

// Filters restricts a search by exact match on shallow entity fields.
// Recognized keys: "uuid", "kind", "status", "rel", "from_node", "to_node",
// plus top-level concept props addressed as "props.<key>".
type Filters map[string]string

// Query describes a search. QueryText drives lexical scoring; when
// QueryEmbedding is non-empty the backend must rank by vector similarity
// instead.
type Query struct {
	Text      string
	TopK      int
	Filters   Filters
	Embedding []float64
}

// Store is the persistence interface consumed by the core. Both operations
// must be safe for sequential use from a single goroutine; concurrent
// callers require backend-level last-writer-wins or external locking (the
// core performs unguarded read-modify-write on centroid bookkeeping).
type Store interface {
	// Upsert writes a *graph.Concept or *graph.Edge together with its
	// provenance. Unknown entity types yield an error-status result.
	Upsert(ctx context.Context, entity any, prov graph.Provenance) UpsertResult

	// Search returns up to query.TopK records ranked best-first.
	Search(ctx context.Context, query Query) ([]Record, error)
}

// GetConcept fetches a single concept by UUID through the Search operation.
// Returns ErrNotFound when absent.
func GetConcept(ctx context.Context, s Store, uuid string) (*graph.Concept, error) {
	recs, err := s.Search(ctx, Query{TopK: 1, Filters: Filters{"uuid": uuid}})
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.Concept != nil && r.Concept.UUID == uuid {
			return r.Concept, nil
		}
	}
	return nil, ErrNotFound
}

// EdgesFrom returns all edges leaving a node, optionally restricted to one
// relationship type (pass "" for all).
func EdgesFrom(ctx context.Context, s Store, from string, rel graph.Rel) ([]*graph.Edge, error) {
	f := Filters{"from_node": from}
	if rel != "" {
		f["rel"] = string(rel)
	}
	recs, err := s.Search(ctx, Query{TopK: -1, Filters: f})
	if err != nil {
		return nil, err
	}
	edges := make([]*graph.Edge, 0, len(recs))
	for _, r := range recs {
		if r.Edge != nil {
			edges = append(edges, r.Edge)
		}
	}
	return edges, nil
}

// EdgesTo returns all edges arriving at a node, optionally restricted to one
// relationship type.
func EdgesTo(ctx context.Context, s Store, to string, rel graph.Rel) ([]*graph.Edge, error) {
	f := Filters{"to_node": to}
	if rel != "" {
		f["rel"] = string(rel)
	}
	recs, err := s.Search(ctx, Query{TopK: -1, Filters: f})
	if err != nil {
		return nil, err
	}
	edges := make([]*graph.Edge, 0, len(recs))
	for _, r := range recs {
		if r.Edge != nil {
			edges = append(edges, r.Edge)
		}
	}
	return edges, nil
}
