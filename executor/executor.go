package executor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/versolabs/noema/storage"
)

// ToolDispatch is the sentinel tool name for a nested procedure execution.
const ToolDispatch = "dag.execute"

// bookkeepingKeys are stripped from a step's parameter surface when it is
// resolved to a tool command.
var bookkeepingKeys = []string{
	"uuid", "id", "order", "guard", "guard_text",
	"tool", "depends_on", "concept_uuid", "nested", "params",
}

// Command is a resolved tool invocation handed to the enqueue callback.
type Command struct {
	Tool        string         `json:"tool"`
	Params      map[string]any `json:"params,omitempty"`
	ConceptUUID string         `json:"concept_uuid,omitempty"`
	Nested      bool           `json:"nested,omitempty"`
}

// EnqueueFunc receives resolved commands. The executor never calls tools
// itself; side effects belong to the caller.
type EnqueueFunc func(cmd Command)

// RunStatus is the overall outcome of a procedure run.
type RunStatus string

const (
	// StatusCompleted means every resolvable step was handled.
	StatusCompleted RunStatus = "completed"
	// StatusPartial means at least one step could not be resolved; the run
	// continued past it.
	StatusPartial RunStatus = "partial"
	// StatusError means the procedure itself could not be loaded.
	StatusError RunStatus = "error"
)

// StepOutcome records one executed step: the command it resolved to and,
// for nested procedures, the recursive run result.
type StepOutcome struct {
	ID      string     `json:"id"`
	Command Command    `json:"command"`
	Nested  *RunResult `json:"nested,omitempty"`
}

// StepError records a step that could not be resolved to a command.
type StepError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// RunResult is the structured outcome of Execute.
type RunResult struct {
	Status         RunStatus     `json:"status"`
	Executed       []StepOutcome `json:"executed"`
	Pending        []string      `json:"pending"`
	Skipped        []string      `json:"skipped"`
	Errors         []StepError   `json:"errors"`
	ExecutionOrder []string      `json:"execution_order"`
}

// Executor schedules and resolves stored procedures.
type Executor struct {
	store  storage.Store
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an Executor reading through the given store.
func New(store storage.Store, opts ...Option) *Executor {
	e := &Executor{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load resolves a procedure's steps into a uniform graph. Returns an error
// wrapping storage.ErrNotFound when the concept is absent.
func (e *Executor) Load(ctx context.Context, conceptUUID string) (*Graph, error) {
	return e.load(ctx, conceptUUID)
}

// Schedule returns a topological ordering of the graph's step ids, using
// each step's order hint as the tie-break.
func (e *Executor) Schedule(g *Graph) []string {
	return schedule(g)
}

// Execute runs a stored procedure: steps are processed in scheduled order,
// guards are evaluated against execContext, and each resolved command is
// handed to enqueue. Guard-suppressed steps are recorded as both pending
// and skipped and do not block their dependents. A step with neither a tool
// nor a resolvable nested reference is recorded in Errors and the run
// continues; the final status is then partial instead of completed. Only an
// unloadable root procedure yields status error.
func (e *Executor) Execute(ctx context.Context, conceptUUID string, execContext map[string]any, enqueue EnqueueFunc) *RunResult {
	g, err := e.load(ctx, conceptUUID)
	if err != nil {
		runsTotal.WithLabelValues(string(StatusError)).Inc()
		return &RunResult{
			Status: StatusError,
			Errors: []StepError{{ID: conceptUUID, Message: err.Error()}},
		}
	}

	order := schedule(g)
	byID := make(map[string]*Step, len(g.Steps))
	for _, s := range g.Steps {
		byID[s.ID] = s
	}

	result := &RunResult{ExecutionOrder: order}
	for _, id := range order {
		step := byID[id]
		if step == nil {
			continue
		}

		if !evalGuard(step.Guard, execContext) {
			result.Pending = append(result.Pending, id)
			result.Skipped = append(result.Skipped, id)
			stepsTotal.WithLabelValues("skipped").Inc()
			continue
		}

		switch {
		case step.Tool != "":
			cmd := Command{Tool: step.Tool, Params: commandParams(step)}
			enqueue(cmd)
			result.Executed = append(result.Executed, StepOutcome{ID: id, Command: cmd})
			stepsTotal.WithLabelValues("executed").Inc()

		case step.ConceptUUID != "":
			cmd := Command{Tool: ToolDispatch, ConceptUUID: step.ConceptUUID, Nested: true}
			nested := e.Execute(ctx, step.ConceptUUID, execContext, enqueue)
			result.Executed = append(result.Executed, StepOutcome{ID: id, Command: cmd, Nested: nested})
			stepsTotal.WithLabelValues("executed").Inc()

		default:
			result.Errors = append(result.Errors, StepError{
				ID:      id,
				Message: "step has neither a tool nor a resolvable nested procedure",
			})
			stepsTotal.WithLabelValues("failed").Inc()
		}
	}

	if len(result.Errors) == 0 {
		result.Status = StatusCompleted
	} else {
		result.Status = StatusPartial
	}
	runsTotal.WithLabelValues(string(result.Status)).Inc()

	e.logger.Debug("procedure executed",
		slog.String("procedure", conceptUUID),
		slog.String("status", string(result.Status)),
		slog.Int("executed", len(result.Executed)),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int("errors", len(result.Errors)))
	return result
}

// commandParams copies a step's parameter surface with bookkeeping keys
// stripped.
func commandParams(step *Step) map[string]any {
	if len(step.Params) == 0 {
		return nil
	}
	params := make(map[string]any, len(step.Params))
	for k, v := range step.Params {
		params[k] = v
	}
	for _, key := range bookkeepingKeys {
		delete(params, key)
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// falseTokens are the only strings that suppress execution; anything
// unrecognized is treated as true. This permissive policy is a placeholder
// for a real condition evaluator and is deliberately confined to evalGuard.
var falseTokens = map[string]bool{
	"false": true, "no": true, "off": true,
	"never": true, "skip": true, "0": true,
}

// evalGuard evaluates a step guard against the execution context. An absent
// guard always passes; a boolean is used directly; a string naming a
// context key resolves through the context first and otherwise falls back
// to a small true/false vocabulary.
func evalGuard(guard any, execContext map[string]any) bool {
	switch g := guard.(type) {
	case nil:
		return true
	case bool:
		return g
	case string:
		text := strings.TrimSpace(strings.ToLower(g))
		if text == "" {
			return true
		}
		if execContext != nil {
			if v, ok := execContext[g]; ok {
				return truthy(v)
			}
			if v, ok := execContext[text]; ok {
				return truthy(v)
			}
		}
		return !falseTokens[text]
	default:
		return true
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return !falseTokens[strings.TrimSpace(strings.ToLower(t))] && strings.TrimSpace(t) != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	return true
}
