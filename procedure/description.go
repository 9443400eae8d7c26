// Package procedure validates procedure descriptions and materializes them
// as knowledge-graph entities: a Procedure concept, one concept per step,
// and has_step/depends_on edges. It also handles recursive construction of
// arbitrary nested concept hierarchies.
package procedure

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StepDescriptor describes a single step of a procedure.
type StepDescriptor struct {
	ID        string         `yaml:"id" json:"id"`
	Tool      string         `yaml:"tool" json:"tool"`
	Params    map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	DependsOn []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	// Guard is a per-step condition: bool, or a string evaluated
	// heuristically at execution time. Nil means always run.
	Guard any `yaml:"guard,omitempty" json:"guard,omitempty"`
	// Order is the tie-break hint used by the topological scheduler.
	Order int `yaml:"order,omitempty" json:"order,omitempty"`
}

// Description is a structured procedure description, the validator's and
// constructor's input shape.
type Description struct {
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description" json:"description"`
	Steps       []StepDescriptor `yaml:"steps" json:"steps"`
	Labels      []string         `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// Parse decodes a serialized procedure description. YAML and JSON are both
// accepted (JSON is a YAML subset).
func Parse(data []byte) (*Description, error) {
	var d Description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse procedure description: %w", err)
	}
	return &d, nil
}

// FromMap converts a dynamic map (as produced by JSON decoding or an LLM
// tool call) into a Description. Unknown keys are ignored; step shapes are
// coerced leniently so validation can report precise defects instead of the
// conversion failing.
func FromMap(m map[string]any) *Description {
	d := &Description{
		Name:        stringAt(m, "name"),
		Description: stringAt(m, "description"),
	}
	if labels, ok := m["labels"].([]any); ok {
		for _, l := range labels {
			if s, ok := l.(string); ok {
				d.Labels = append(d.Labels, s)
			}
		}
	}
	steps, ok := m["steps"].([]any)
	if !ok {
		return d
	}
	for _, raw := range steps {
		sm, ok := raw.(map[string]any)
		if !ok {
			// Keep a placeholder so validation reports the defect at the
			// right index.
			d.Steps = append(d.Steps, StepDescriptor{})
			continue
		}
		d.Steps = append(d.Steps, stepFromMap(sm))
	}
	return d
}

func stepFromMap(m map[string]any) StepDescriptor {
	s := StepDescriptor{
		ID:    stringAt(m, "id"),
		Tool:  stringAt(m, "tool"),
		Guard: m["guard"],
		Order: intAt(m, "order"),
	}
	if params, ok := m["params"].(map[string]any); ok {
		s.Params = params
	}
	switch deps := m["depends_on"].(type) {
	case []any:
		for _, dep := range deps {
			if id, ok := dep.(string); ok {
				s.DependsOn = append(s.DependsOn, id)
			}
		}
	case []string:
		s.DependsOn = append(s.DependsOn, deps...)
	case string:
		s.DependsOn = append(s.DependsOn, deps)
	}
	return s
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
