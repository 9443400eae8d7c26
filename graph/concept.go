// Package graph defines the entity model for the Noema knowledge graph:
// concepts, typed weighted edges, and write provenance. Every other package
// operates on these shapes; persistence is delegated to a storage.Store.
package graph

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a concept node.
type Kind string

const (
	// KindPrototype marks a concept acting as a schema/template that other
	// concepts instantiate.
	KindPrototype Kind = "Prototype"
	// KindConcept is a plain concrete concept.
	KindConcept Kind = "Concept"
	// KindRelationship reifies a relationship as a node.
	KindRelationship Kind = "Relationship"
	// KindProcedure is an executable procedure encoded as a step DAG.
	KindProcedure Kind = "Procedure"
	// KindPattern is a learned interaction pattern (form fill, navigation).
	KindPattern Kind = "Pattern"
)

// Status tags a concept's lifecycle. Concepts are never hard-deleted;
// retirement is expressed through status changes.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Props is the open property bag carried by concepts and edges. Core
// algorithms read only the reserved keys documented in keys.go; everything
// else passes through untouched.
type Props map[string]any

// Concept is a node in the knowledge graph.
type Concept struct {
	UUID      string    `json:"uuid"`
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
	Props     Props     `json:"props,omitempty"`
	Embedding []float64 `json:"embedding,omitempty"`
	Status    Status    `json:"status,omitempty"`
}

// NewConcept creates a concept with a fresh UUID and an empty property bag.
func NewConcept(kind Kind, name string) *Concept {
	return &Concept{
		UUID:   uuid.New().String(),
		Kind:   kind,
		Name:   name,
		Props:  Props{},
		Status: StatusActive,
	}
}

// PrototypeUUID returns the weak back-reference to this concept's prototype,
// if one is recorded. The concept never owns the prototype.
func (c *Concept) PrototypeUUID() string {
	s, _ := c.Props[KeyPrototypeUUID].(string)
	return s
}

// StringProp returns a string-valued property, or "" when absent or not a
// string.
func (c *Concept) StringProp(key string) string {
	if c.Props == nil {
		return ""
	}
	s, _ := c.Props[key].(string)
	return s
}

// IntProp returns an integer-valued property, tolerating the float64 shape
// JSON round-trips produce.
func (c *Concept) IntProp(key string) int {
	if c.Props == nil {
		return 0
	}
	switch v := c.Props[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// SetProp assigns a property, allocating the bag on first use.
func (c *Concept) SetProp(key string, value any) {
	if c.Props == nil {
		c.Props = Props{}
	}
	c.Props[key] = value
}

// Provenance records the origin of a write. It is stored alongside each
// upsert but never gates read visibility.
type Provenance struct {
	Source     string    `json:"source"` // "user", "tool", "doc"
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"` // [0,1]
	TraceID    string    `json:"trace_id,omitempty"`
}

// NewProvenance creates a provenance record stamped now with a fresh trace
// ID for correlating a batch of writes.
func NewProvenance(source string, confidence float64) Provenance {
	return Provenance{
		Source:     source,
		Timestamp:  time.Now().UTC(),
		Confidence: confidence,
		TraceID:    uuid.New().String(),
	}
}
