package procedure

import (
	"fmt"
	"sort"
	"strings"
)

// Issue is a single validation defect with the path of the offending
// element.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// Result aggregates validation defects. An empty Errors list means the
// description is valid.
type Result struct {
	Valid  bool    `json:"valid"`
	Errors []Issue `json:"errors,omitempty"`
}

// ValidationError aggregates all reported defects when the constructor
// refuses to build from an invalid description.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.String()
	}
	return fmt.Sprintf("invalid procedure description: %s", strings.Join(msgs, "; "))
}

// ValidateBytes parses a serialized description and validates it. A parse
// failure yields a single-error result; no further checks run.
func ValidateBytes(data []byte) Result {
	d, err := Parse(data)
	if err != nil {
		return Result{Valid: false, Errors: []Issue{{Path: "$", Message: err.Error()}}}
	}
	return Validate(d)
}

// Validate checks a description against the structural schema and reports
// every graph defect together: missing fields, empty/duplicate step ids,
// missing tools, dangling depends_on references, and dependency cycles.
// It never fails; callers decide whether to proceed.
func Validate(d *Description) Result {
	var issues []Issue

	if d.Name == "" {
		issues = append(issues, Issue{Path: "name", Message: "name is required"})
	}
	if d.Description == "" {
		issues = append(issues, Issue{Path: "description", Message: "description is required"})
	}
	if len(d.Steps) == 0 {
		issues = append(issues, Issue{Path: "steps", Message: "at least one step is required"})
	}

	seen := make(map[string]int) // id -> first declaring index
	for i, step := range d.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if step.ID == "" {
			issues = append(issues, Issue{Path: path + ".id", Message: "step id is required"})
		} else if first, dup := seen[step.ID]; dup {
			issues = append(issues, Issue{
				Path:    path + ".id",
				Message: fmt.Sprintf("duplicate step id %q (first declared at steps[%d])", step.ID, first),
			})
		} else {
			seen[step.ID] = i
		}
		if step.Tool == "" {
			issues = append(issues, Issue{Path: path + ".tool", Message: "step tool is required"})
		}
	}

	for i, step := range d.Steps {
		for j, dep := range step.DependsOn {
			if _, ok := seen[dep]; !ok {
				issues = append(issues, Issue{
					Path:    fmt.Sprintf("steps[%d].depends_on[%d]", i, j),
					Message: fmt.Sprintf("unknown dependency %q", dep),
				})
			}
		}
	}

	issues = append(issues, findCycles(d.Steps, seen)...)

	return Result{Valid: len(issues) == 0, Errors: issues}
}

// findCycles walks the dependency relation restricted to declared ids with
// a depth-first search tracking the in-progress path; any back-edge to a
// node still on the path is reported as a circular dependency naming the
// cycle.
func findCycles(steps []StepDescriptor, declared map[string]int) []Issue {
	deps := make(map[string][]string, len(steps))
	for _, step := range steps {
		if step.ID == "" {
			continue
		}
		for _, dep := range step.DependsOn {
			if _, ok := declared[dep]; ok {
				deps[step.ID] = append(deps[step.ID], dep)
			}
		}
	}

	const (
		unvisited  = 0
		inProgress = 1
		done       = 2
	)
	state := make(map[string]int, len(declared))
	var issues []Issue
	var path []string

	var visit func(id string)
	visit = func(id string) {
		state[id] = inProgress
		path = append(path, id)
		for _, dep := range deps[id] {
			switch state[dep] {
			case unvisited:
				visit(dep)
			case inProgress:
				issues = append(issues, Issue{
					Path:    "steps",
					Message: fmt.Sprintf("circular dependency: %s", formatCycle(path, dep)),
				})
			}
		}
		path = path[:len(path)-1]
		state[id] = done
	}

	// Deterministic iteration order so repeated validation reports cycles
	// identically.
	ids := make([]string, 0, len(declared))
	for id := range declared {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if state[id] == unvisited {
			visit(id)
		}
	}
	return issues
}

// formatCycle renders the portion of the DFS path from the back-edge target
// onward, closing the loop: "a -> b -> c -> a".
func formatCycle(path []string, target string) string {
	start := 0
	for i, id := range path {
		if id == target {
			start = i
			break
		}
	}
	cycle := append(append([]string(nil), path[start:]...), target)
	return strings.Join(cycle, " -> ")
}
