package procedure

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/versolabs/noema/embedding"
	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/storage"
)

// nestingKeys are the reserved keys scanned for nested sub-structures
// during recursive construction.
var nestingKeys = []string{"steps", "children", "sub_procedures", "sub_concepts", "nodes"}

// Builder materializes procedure descriptions and nested concept objects as
// graph entities through a storage.Store.
type Builder struct {
	store          storage.Store
	embed          embedding.Func
	logger         *slog.Logger
	skipValidation bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithEmbedder supplies the optional text-embedding function. Without it,
// concepts are created without embeddings.
func WithEmbedder(fn embedding.Func) BuilderOption {
	return func(b *Builder) { b.embed = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = logger }
}

// WithSkipValidation disables the default refuse-on-invalid behavior.
// Intended for callers that validated separately.
func WithSkipValidation() BuilderOption {
	return func(b *Builder) { b.skipValidation = true }
}

// NewBuilder creates a Builder writing through the given store.
func NewBuilder(store storage.Store, opts ...BuilderOption) *Builder {
	b := &Builder{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildResult reports what CreateFromDescription materialized.
// DependencyEdgeCount equals the sum of depends_on list lengths across all
// steps; callers use it as a structural sanity check.
type BuildResult struct {
	ProcedureUUID       string   `json:"procedure_uuid"`
	StepUUIDs           []string `json:"step_uuids"`
	DependencyEdgeCount int      `json:"dependency_edge_count"`
}

// CreateFromDescription materializes a validated procedure description: one
// Procedure concept, one concept per step linked by has_step edges carrying
// order, and a depends_on edge per declared dependency.
//
// By default an invalid description is refused with a *ValidationError
// aggregating every reported defect.
func (b *Builder) CreateFromDescription(ctx context.Context, d *Description, prov graph.Provenance) (*BuildResult, error) {
	if !b.skipValidation {
		if result := Validate(d); !result.Valid {
			return nil, &ValidationError{Issues: result.Errors}
		}
	}

	proc := graph.NewConcept(graph.KindProcedure, d.Name)
	proc.Labels = append([]string(nil), d.Labels...)
	proc.SetProp(graph.KeyDescription, d.Description)
	if b.embed != nil {
		if vec, err := b.embed(d.Name + "\n" + d.Description); err != nil {
			b.logger.Warn("embedding generation failed, proceeding without",
				slog.String("name", d.Name), slog.String("error", err.Error()))
		} else {
			proc.Embedding = vec
		}
	}
	if res := b.store.Upsert(ctx, proc, prov); !res.OK() {
		return nil, fmt.Errorf("store procedure concept: %s", res.Error)
	}

	stepUUIDs := make([]string, 0, len(d.Steps))
	uuidByID := make(map[string]string, len(d.Steps))
	for i, step := range d.Steps {
		sc := graph.NewConcept(graph.KindConcept, step.ID)
		sc.SetProp("id", step.ID)
		sc.SetProp("tool", step.Tool)
		if len(step.Params) > 0 {
			sc.SetProp("params", step.Params)
		}
		if step.Guard != nil {
			sc.SetProp("guard", step.Guard)
		}
		if len(step.DependsOn) > 0 {
			sc.SetProp("depends_on", step.DependsOn)
		}
		order := effectiveOrder(step, i)
		sc.SetProp(graph.KeyOrder, order)
		if res := b.store.Upsert(ctx, sc, prov); !res.OK() {
			return nil, fmt.Errorf("store step concept %q: %s", step.ID, res.Error)
		}
		stepUUIDs = append(stepUUIDs, sc.UUID)
		uuidByID[step.ID] = sc.UUID

		link := graph.NewEdge(proc.UUID, sc.UUID, graph.RelHasStep)
		link.SetProp(graph.KeyOrder, order)
		if res := b.store.Upsert(ctx, link, prov); !res.OK() {
			return nil, fmt.Errorf("store has_step edge for %q: %s", step.ID, res.Error)
		}
	}

	depEdges := 0
	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			target, ok := uuidByID[dep]
			if !ok {
				// Only reachable with validation skipped.
				b.logger.Warn("skipping dependency edge to undeclared step",
					slog.String("step", step.ID), slog.String("dependency", dep))
				continue
			}
			edge := graph.NewEdge(uuidByID[step.ID], target, graph.RelDependsOn)
			if res := b.store.Upsert(ctx, edge, prov); !res.OK() {
				return nil, fmt.Errorf("store depends_on edge %s->%s: %s", step.ID, dep, res.Error)
			}
			depEdges++
		}
	}

	b.logger.Debug("procedure materialized",
		slog.String("uuid", proc.UUID),
		slog.String("name", d.Name),
		slog.Int("steps", len(stepUUIDs)),
		slog.Int("dependency_edges", depEdges))

	return &BuildResult{
		ProcedureUUID:       proc.UUID,
		StepUUIDs:           stepUUIDs,
		DependencyEdgeCount: depEdges,
	}, nil
}

func effectiveOrder(step StepDescriptor, index int) int {
	if step.Order != 0 {
		return step.Order
	}
	return index
}

// CreateConceptRecursive materializes an arbitrary JSON-like object as a
// concept, recursively expanding nested sub-structures found under the
// reserved nesting keys.
//
// Promotion policy: under "children", every well-formed nested item becomes
// a child concept, atomic or not (object/part-of semantics). Under every
// other nesting key only non-atomic items are promoted; atomic items (a
// tool invocation with no nested structure of its own) stay inline in the
// parent's props. Promoted items are replaced inline by a stub carrying the
// child's concept_uuid so executors can resolve the nesting.
//
// A malformed nested item (no usable name or prototype reference) is
// skipped rather than aborting construction.
func (b *Builder) CreateConceptRecursive(ctx context.Context, prototypeUUID string, object map[string]any, emb []float64, prov graph.Provenance) (string, error) {
	name := stringAt(object, "name")
	if name == "" && prototypeUUID == "" {
		return "", fmt.Errorf("object has neither a name nor a prototype reference")
	}

	concept := graph.NewConcept(conceptKind(object), name)
	concept.Embedding = emb
	if prototypeUUID != "" {
		concept.SetProp(graph.KeyPrototypeUUID, prototypeUUID)
	}
	if concept.Embedding == nil && b.embed != nil && name != "" {
		if vec, err := b.embed(name + "\n" + stringAt(object, "description")); err == nil {
			concept.Embedding = vec
		}
	}

	// Copy non-nesting properties; nesting keys are rewritten below once
	// promotion decisions are made.
	for k, v := range object {
		if !isNestingKey(k) && k != "name" {
			concept.SetProp(k, v)
		}
	}

	type promotion struct {
		key   string
		rel   graph.Rel
		items []any
	}
	var promotions []promotion
	for _, key := range nestingKeys {
		items, ok := object[key].([]any)
		if !ok {
			continue
		}
		rel := graph.RelHasStep
		if key == "children" {
			rel = graph.RelHasChild
		}
		promotions = append(promotions, promotion{key: key, rel: rel, items: items})
	}

	// The parent must exist before child edges reference it. The two writes
	// are not transactional; a crash in between leaves a childless concept,
	// which is recoverable.
	if res := b.store.Upsert(ctx, concept, prov); !res.OK() {
		return "", fmt.Errorf("store concept %q: %s", name, res.Error)
	}

	for _, p := range promotions {
		rewritten := make([]any, 0, len(p.items))
		for i, raw := range p.items {
			item, ok := raw.(map[string]any)
			if !ok {
				rewritten = append(rewritten, raw)
				continue
			}
			promote := p.key == "children" || !isAtomic(item)
			if !promote {
				rewritten = append(rewritten, item)
				continue
			}
			childName := stringAt(item, "name")
			childProto := stringAt(item, graph.KeyPrototypeUUID)
			if childName == "" && childProto == "" {
				b.logger.Warn("skipping malformed nested item",
					slog.String("parent", name), slog.String("key", p.key), slog.Int("index", i))
				rewritten = append(rewritten, item)
				continue
			}
			childUUID, err := b.CreateConceptRecursive(ctx, childProto, item, nil, prov)
			if err != nil {
				b.logger.Warn("skipping nested item that failed to build",
					slog.String("parent", name), slog.String("error", err.Error()))
				rewritten = append(rewritten, item)
				continue
			}
			order := intAt(item, graph.KeyOrder)
			if order == 0 {
				order = i
			}
			edge := graph.NewEdge(concept.UUID, childUUID, p.rel)
			edge.SetProp(graph.KeyOrder, order)
			if res := b.store.Upsert(ctx, edge, prov); !res.OK() {
				return "", fmt.Errorf("store %s edge to %q: %s", p.rel, childName, res.Error)
			}
			rewritten = append(rewritten, map[string]any{
				"concept_uuid": childUUID,
				"name":         childName,
				graph.KeyOrder: order,
			})
		}
		concept.SetProp(p.key, rewritten)
	}

	// Second write persists the rewritten nesting keys.
	if len(promotions) > 0 {
		if res := b.store.Upsert(ctx, concept, prov); !res.OK() {
			return "", fmt.Errorf("store concept %q: %s", name, res.Error)
		}
	}
	return concept.UUID, nil
}

// isAtomic reports whether a nested item is a plain tool invocation with no
// nested structure of its own.
func isAtomic(item map[string]any) bool {
	if stringAt(item, "tool") == "" {
		return false
	}
	for _, key := range nestingKeys {
		if _, ok := item[key]; ok {
			return false
		}
	}
	return true
}

func isNestingKey(key string) bool {
	for _, k := range nestingKeys {
		if k == key {
			return true
		}
	}
	return false
}

func conceptKind(object map[string]any) graph.Kind {
	switch stringAt(object, "kind") {
	case string(graph.KindProcedure):
		return graph.KindProcedure
	case string(graph.KindPattern):
		return graph.KindPattern
	case string(graph.KindPrototype):
		return graph.KindPrototype
	}
	if _, ok := object["steps"]; ok {
		return graph.KindProcedure
	}
	return graph.KindConcept
}
