// Package natskv provides a Store backend over NATS JetStream key-value
// buckets, one bucket for concepts and one for edges. Ranking happens
// client-side over a bucket scan; for large graphs prefer a backend with
// native indexing.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/storage"
)

// Bucket names.
const (
	BucketConcepts = "NOEMA_CONCEPTS"
	BucketEdges    = "NOEMA_EDGES"
)

// Store persists concepts and edges in NATS JetStream KV buckets.
type Store struct {
	concepts jetstream.KeyValue
	edges    jetstream.KeyValue
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store with the given JetStream context, creating the KV
// buckets if they don't exist.
func New(ctx context.Context, js jetstream.JetStream, opts ...Option) (*Store, error) {
	concepts, err := getOrCreateBucket(ctx, js, BucketConcepts)
	if err != nil {
		return nil, fmt.Errorf("create concepts bucket: %w", err)
	}

	edges, err := getOrCreateBucket(ctx, js, BucketEdges)
	if err != nil {
		return nil, fmt.Errorf("create edges bucket: %w", err)
	}

	s := &Store{
		concepts: concepts,
		edges:    edges,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Noema %s storage", name),
		History:     5, // Keep last 5 revisions
	})
}

// envelope pairs an entity with the provenance of its latest write.
type envelope struct {
	Concept    *graph.Concept   `json:"concept,omitempty"`
	Edge       *graph.Edge      `json:"edge,omitempty"`
	Provenance graph.Provenance `json:"provenance"`
}

// Upsert writes a concept or edge together with its provenance. Failures
// are reported through the result status, never raised.
func (s *Store) Upsert(ctx context.Context, entity any, prov graph.Provenance) storage.UpsertResult {
	var (
		bucket jetstream.KeyValue
		env    envelope
		id     string
	)

	switch e := entity.(type) {
	case *graph.Concept:
		if e.UUID == "" {
			return storage.UpsertResult{Status: storage.UpsertError, Error: "concept uuid is required"}
		}
		bucket, env, id = s.concepts, envelope{Concept: e, Provenance: prov}, e.UUID
	case *graph.Edge:
		if e.UUID == "" {
			return storage.UpsertResult{Status: storage.UpsertError, Error: "edge uuid is required"}
		}
		bucket, env, id = s.edges, envelope{Edge: e, Provenance: prov}, e.UUID
	default:
		return storage.UpsertResult{
			Status: storage.UpsertError,
			Error:  fmt.Sprintf("unsupported entity type %T", entity),
		}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return storage.UpsertResult{Status: storage.UpsertError, Error: fmt.Sprintf("marshal entity: %v", err)}
	}
	if _, err := bucket.Put(ctx, id, data); err != nil {
		s.logger.Warn("kv put failed", slog.String("uuid", id), slog.String("error", err.Error()))
		return storage.UpsertResult{Status: storage.UpsertError, Error: fmt.Sprintf("store entity: %v", err)}
	}
	return storage.UpsertResult{Status: storage.UpsertOK, UUID: id}
}

// Search scans the relevant bucket, applies filters, and ranks client-side.
func (s *Store) Search(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	var records []storage.Record

	if storage.HasEdgeFilter(q.Filters) {
		// Fast path: edge lookup by uuid avoids the full scan.
		if id, ok := q.Filters["uuid"]; ok && len(q.Filters) == 1 {
			e, err := s.getEdge(ctx, id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, nil
				}
				return nil, err
			}
			return []storage.Record{{Edge: e, Score: 1.0}}, nil
		}
		if err := s.scanEdges(ctx, q, &records); err != nil {
			return nil, err
		}
	} else {
		if id, ok := q.Filters["uuid"]; ok && len(q.Filters) == 1 {
			c, err := s.getConcept(ctx, id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, nil
				}
				return nil, err
			}
			return []storage.Record{{Concept: c, Score: 1.0}}, nil
		}
		if err := s.scanConcepts(ctx, q, &records); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Score > records[j].Score
	})
	if q.TopK >= 0 && len(records) > q.TopK {
		records = records[:q.TopK]
	}
	return records, nil
}

func (s *Store) getConcept(ctx context.Context, id string) (*graph.Concept, error) {
	entry, err := s.concepts.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get concept: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return nil, fmt.Errorf("unmarshal concept: %w", err)
	}
	if env.Concept == nil {
		return nil, storage.ErrNotFound
	}
	return env.Concept, nil
}

func (s *Store) getEdge(ctx context.Context, id string) (*graph.Edge, error) {
	entry, err := s.edges.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get edge: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return nil, fmt.Errorf("unmarshal edge: %w", err)
	}
	if env.Edge == nil {
		return nil, storage.ErrNotFound
	}
	return env.Edge, nil
}

func (s *Store) scanConcepts(ctx context.Context, q storage.Query, out *[]storage.Record) error {
	keys, err := s.listKeys(ctx, s.concepts)
	if err != nil {
		return err
	}
	for _, key := range keys {
		c, err := s.getConcept(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}
		if !storage.MatchConcept(c, q.Filters) {
			continue
		}
		*out = append(*out, storage.Record{Concept: c, Score: storage.ScoreConcept(c, q)})
	}
	return nil
}

func (s *Store) scanEdges(ctx context.Context, q storage.Query, out *[]storage.Record) error {
	keys, err := s.listKeys(ctx, s.edges)
	if err != nil {
		return err
	}
	for _, key := range keys {
		e, err := s.getEdge(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}
		if !storage.MatchEdge(e, q.Filters) {
			continue
		}
		*out = append(*out, storage.Record{Edge: e, Score: 1.0})
	}
	return nil
}

func (s *Store) listKeys(ctx context.Context, bucket jetstream.KeyValue) ([]string, error) {
	keys, err := bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
