package graph

import "github.com/google/uuid"

// Rel is a relationship type. Beyond the named constants, free-form strings
// are accepted as fuzzy-association labels.
type Rel string

const (
	RelInstantiates  Rel = "instantiates"
	RelInheritsFrom  Rel = "inherits_from"
	RelHasStep       Rel = "has_step"
	RelHasChild      Rel = "has_child"
	RelDependsOn     Rel = "depends_on"
	RelHasExemplar   Rel = "has_exemplar"
	RelGeneralizedBy Rel = "generalized_by"
	RelHasA          Rel = "has_a"
	RelHasProperty   Rel = "has_property"
	RelTransferredTo Rel = "transferred_to"
)

// Edge is a directed, typed, property-bearing relationship between two
// concepts. Edges are immutable once written; updating a relationship means
// adding a new edge.
type Edge struct {
	UUID     string `json:"uuid"`
	FromNode string `json:"from_node"`
	ToNode   string `json:"to_node"`
	Rel      Rel    `json:"rel"`
	Props    Props  `json:"props,omitempty"`
}

// NewEdge creates an edge with a fresh UUID.
func NewEdge(from, to string, rel Rel) *Edge {
	return &Edge{
		UUID:     uuid.New().String(),
		FromNode: from,
		ToNode:   to,
		Rel:      rel,
		Props:    Props{},
	}
}

// Strength returns the fuzzy-membership strength in [0,1], defaulting to
// 1.0 when the edge carries none.
func (e *Edge) Strength() float64 {
	if e.Props == nil {
		return 1.0
	}
	switch v := e.Props[KeyStrength].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 1.0
}

// Order returns the ordering hint carried by sequence edges (has_step,
// has_child, has_exemplar), or 0.
func (e *Edge) Order() int {
	if e.Props == nil {
		return 0
	}
	switch v := e.Props[KeyOrder].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// SetProp assigns an edge property, allocating the bag on first use.
func (e *Edge) SetProp(key string, value any) {
	if e.Props == nil {
		e.Props = Props{}
	}
	e.Props[key] = value
}
