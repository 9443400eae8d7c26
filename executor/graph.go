// Package executor loads stored procedures, orders their steps
// topologically, evaluates per-step guards, and resolves each step to a
// tool command handed to a caller-supplied enqueue callback. Nested
// sub-procedures are executed by recursion; the executor itself never
// performs tool side effects.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/storage"
)

// Step is the uniform in-memory shape of one procedure step, whether it was
// stored inline in the procedure's props or as a linked concept.
type Step struct {
	UUID        string
	ID          string
	Tool        string
	Params      map[string]any
	Guard       any
	DependsOn   []string
	Order       int
	ConceptUUID string // set when the step references a nested procedure
}

// Graph is a loaded procedure ready for scheduling.
type Graph struct {
	ProcedureUUID string
	Name          string
	Steps         []*Step
}

// load resolves a Procedure concept's steps either from an inline step list
// in its props or by walking has_step/has_child edges.
func (e *Executor) load(ctx context.Context, conceptUUID string) (*Graph, error) {
	concept, err := storage.GetConcept(ctx, e.store, conceptUUID)
	if err != nil {
		return nil, fmt.Errorf("load procedure %s: %w", conceptUUID, err)
	}

	g := &Graph{ProcedureUUID: concept.UUID, Name: concept.Name}

	if inline, ok := concept.Props[graph.KeySteps].([]any); ok && len(inline) > 0 {
		for i, raw := range inline {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			g.Steps = append(g.Steps, stepFromProps(item, i))
		}
		return g, nil
	}

	edges, err := storage.EdgesFrom(ctx, e.store, concept.UUID, graph.RelHasStep)
	if err != nil {
		return nil, fmt.Errorf("walk has_step edges: %w", err)
	}
	children, err := storage.EdgesFrom(ctx, e.store, concept.UUID, graph.RelHasChild)
	if err != nil {
		return nil, fmt.Errorf("walk has_child edges: %w", err)
	}
	edges = append(edges, children...)

	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Order() < edges[j].Order() })

	for _, edge := range edges {
		sc, err := storage.GetConcept(ctx, e.store, edge.ToNode)
		if err != nil {
			e.logger.Warn("step concept missing, skipping",
				slog.String("procedure", concept.UUID), slog.String("step", edge.ToNode))
			continue
		}
		step := stepFromConcept(sc, edge.Order())
		g.Steps = append(g.Steps, step)
	}
	return g, nil
}

// stepFromProps builds a step from an inline descriptor map.
func stepFromProps(item map[string]any, index int) *Step {
	step := &Step{
		ID:          stringAt(item, "id"),
		Tool:        stringAt(item, "tool"),
		Guard:       item["guard"],
		ConceptUUID: stringAt(item, "concept_uuid"),
		Order:       index,
	}
	if step.ID == "" {
		step.ID = stringAt(item, "name")
	}
	if o := intAt(item, graph.KeyOrder); o != 0 {
		step.Order = o
	}
	if params, ok := item["params"].(map[string]any); ok {
		step.Params = params
	} else {
		// Treat the whole descriptor as the parameter surface; bookkeeping
		// keys are stripped at resolution time.
		step.Params = item
	}
	step.DependsOn = stringSliceAt(item, "depends_on")
	return step
}

// stepFromConcept builds a step from a linked step concept. A step concept
// that is itself a procedure (or carries its own step list) becomes a
// nested reference.
func stepFromConcept(c *graph.Concept, order int) *Step {
	step := &Step{
		UUID:  c.UUID,
		ID:    c.StringProp("id"),
		Tool:  c.StringProp("tool"),
		Order: order,
	}
	if step.ID == "" {
		step.ID = c.Name
	}
	if step.ID == "" {
		step.ID = c.UUID
	}
	if c.Props != nil {
		step.Guard = c.Props["guard"]
		if params, ok := c.Props["params"].(map[string]any); ok {
			step.Params = params
		}
		step.DependsOn = stringSliceAtProps(c.Props, "depends_on")
		if o := c.IntProp(graph.KeyOrder); o != 0 {
			step.Order = o
		}
	}
	if step.Tool == "" {
		if c.Kind == graph.KindProcedure {
			step.ConceptUUID = c.UUID
		} else if _, ok := c.Props[graph.KeySteps]; ok {
			step.ConceptUUID = c.UUID
		} else if ref := c.StringProp("concept_uuid"); ref != "" {
			step.ConceptUUID = ref
		}
	}
	return step
}

// schedule orders steps with Kahn's algorithm, keeping the ready set sorted
// by Order (ascending). Dependencies on unknown ids are ignored here; the
// validator already reported them. If a remainder survives (a cycle that
// slipped past validation) its ids are appended in Order order so execution
// stays best-effort instead of failing.
func schedule(g *Graph) []string {
	byID := make(map[string]*Step, len(g.Steps))
	for _, s := range g.Steps {
		byID[s.ID] = s
	}

	inDegree := make(map[string]int, len(g.Steps))
	dependents := make(map[string][]string, len(g.Steps))
	for _, s := range g.Steps {
		inDegree[s.ID] = 0
	}
	for _, s := range g.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var ready []*Step
	for _, s := range g.Steps {
		if inDegree[s.ID] == 0 {
			ready = append(ready, s)
		}
	}
	sortSteps(ready)

	order := make([]string, 0, len(g.Steps))
	emitted := make(map[string]bool, len(g.Steps))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next.ID)
		emitted[next.ID] = true

		for _, depID := range dependents[next.ID] {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				ready = append(ready, byID[depID])
				sortSteps(ready)
			}
		}
	}

	if len(order) < len(g.Steps) {
		var rest []*Step
		for _, s := range g.Steps {
			if !emitted[s.ID] {
				rest = append(rest, s)
			}
		}
		sortSteps(rest)
		for _, s := range rest {
			order = append(order, s.ID)
		}
	}
	return order
}

func sortSteps(steps []*Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Order != steps[j].Order {
			return steps[i].Order < steps[j].Order
		}
		return steps[i].ID < steps[j].ID
	})
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intAt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func stringSliceAt(m map[string]any, key string) []string {
	return stringSliceAtProps(m, key)
}

func stringSliceAtProps(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}
