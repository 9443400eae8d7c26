package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/procedure"
	"github.com/versolabs/noema/storage/memstore"
)

func newProvenance() graph.Provenance {
	return graph.NewProvenance("tool", 1.0)
}

// storeInlineProcedure writes a Procedure concept with an inline step list
// and returns its UUID.
func storeInlineProcedure(t *testing.T, store *memstore.Store, name string, steps []any) string {
	t.Helper()
	proc := graph.NewConcept(graph.KindProcedure, name)
	proc.SetProp(graph.KeySteps, steps)
	res := store.Upsert(context.Background(), proc, newProvenance())
	require.True(t, res.OK())
	return proc.UUID
}

func TestExecute_LinearProcedureEndToEnd(t *testing.T) {
	store := memstore.New()
	builder := procedure.NewBuilder(store)
	ctx := context.Background()

	d := &procedure.Description{
		Name:        "Queued Login",
		Description: "Log in through the queued form",
		Steps: []procedure.StepDescriptor{
			{ID: "step_1", Tool: "web.get_dom", Params: map[string]any{"url": "https://example.com/login"}},
			{ID: "step_2", Tool: "form.autofill", DependsOn: []string{"step_1"}},
			{ID: "step_3", Tool: "web.click_selector", DependsOn: []string{"step_2"}},
		},
	}
	built, err := builder.CreateFromDescription(ctx, d, newProvenance())
	require.NoError(t, err)

	var enqueued []Command
	result := New(store).Execute(ctx, built.ProcedureUUID, nil, func(cmd Command) {
		enqueued = append(enqueued, cmd)
	})

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, []string{"step_1", "step_2", "step_3"}, result.ExecutionOrder)
	assert.Empty(t, result.Pending)
	assert.Empty(t, result.Errors)

	require.Len(t, enqueued, 3)
	assert.Equal(t, "web.get_dom", enqueued[0].Tool)
	assert.Equal(t, "https://example.com/login", enqueued[0].Params["url"])
	assert.Equal(t, "form.autofill", enqueued[1].Tool)
	assert.Equal(t, "web.click_selector", enqueued[2].Tool)
}

func TestSchedule_DiamondRespectsDependencies(t *testing.T) {
	g := &Graph{Steps: []*Step{
		{ID: "d", DependsOn: []string{"b", "c"}},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "a"},
	}}
	// Equal order hints fall back to id ordering, so the result is
	// deterministic.
	assert.Equal(t, []string{"a", "b", "c", "d"}, schedule(g))
}

func TestSchedule_OrderHintBreaksTies(t *testing.T) {
	g := &Graph{Steps: []*Step{
		{ID: "zeta", Order: 1},
		{ID: "alpha", Order: 2},
	}}
	assert.Equal(t, []string{"zeta", "alpha"}, schedule(g))
}

func TestSchedule_CycleRemainderAppended(t *testing.T) {
	g := &Graph{Steps: []*Step{
		{ID: "root"},
		{ID: "x", DependsOn: []string{"y"}, Order: 2},
		{ID: "y", DependsOn: []string{"x"}, Order: 1},
	}}
	// Best-effort: the acyclic prefix first, then the cycle members by
	// order hint.
	assert.Equal(t, []string{"root", "y", "x"}, schedule(g))
}

func TestExecute_GuardSuppressesStepNotDependents(t *testing.T) {
	store := memstore.New()
	uuid := storeInlineProcedure(t, store, "guarded", []any{
		map[string]any{"id": "a", "tool": "t.one", "order": 0},
		map[string]any{"id": "b", "tool": "t.two", "guard": false, "depends_on": []any{"a"}, "order": 1},
		map[string]any{"id": "c", "tool": "t.three", "depends_on": []any{"b"}, "order": 2},
	})

	var enqueued []Command
	result := New(store).Execute(context.Background(), uuid, nil, func(cmd Command) {
		enqueued = append(enqueued, cmd)
	})

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, []string{"b"}, result.Pending)
	assert.Equal(t, []string{"b"}, result.Skipped)
	require.Len(t, enqueued, 2)
	assert.Equal(t, "t.one", enqueued[0].Tool)
	assert.Equal(t, "t.three", enqueued[1].Tool)
}

func TestExecute_GuardResolvesThroughContext(t *testing.T) {
	store := memstore.New()
	uuid := storeInlineProcedure(t, store, "contextual", []any{
		map[string]any{"id": "a", "tool": "t.one", "guard": "user_logged_in"},
	})

	run := func(execContext map[string]any) *RunResult {
		return New(store).Execute(context.Background(), uuid, execContext, func(Command) {})
	}

	assert.Len(t, run(map[string]any{"user_logged_in": true}).Executed, 1)
	assert.Len(t, run(map[string]any{"user_logged_in": false}).Skipped, 1)
	// Unknown guard strings are permissive.
	assert.Len(t, run(nil).Executed, 1)
}

func TestExecute_NestedProcedure(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	prov := newProvenance()

	innerUUID := storeInlineProcedure(t, store, "inner", []any{
		map[string]any{"id": "inner_1", "tool": "t.inner"},
	})

	outer := graph.NewConcept(graph.KindProcedure, "outer")
	require.True(t, store.Upsert(ctx, outer, prov).OK())

	ref := graph.NewConcept(graph.KindConcept, "run inner")
	ref.SetProp("id", "nested_step")
	ref.SetProp("concept_uuid", innerUUID)
	require.True(t, store.Upsert(ctx, ref, prov).OK())

	link := graph.NewEdge(outer.UUID, ref.UUID, graph.RelHasStep)
	require.True(t, store.Upsert(ctx, link, prov).OK())

	var enqueued []Command
	result := New(store).Execute(ctx, outer.UUID, nil, func(cmd Command) {
		enqueued = append(enqueued, cmd)
	})

	assert.Equal(t, StatusCompleted, result.Status)
	require.Len(t, result.Executed, 1)
	outcome := result.Executed[0]
	assert.Equal(t, "nested_step", outcome.ID)
	assert.Equal(t, ToolDispatch, outcome.Command.Tool)
	assert.True(t, outcome.Command.Nested)
	require.NotNil(t, outcome.Nested)
	assert.Equal(t, StatusCompleted, outcome.Nested.Status)
	assert.Equal(t, []string{"inner_1"}, outcome.Nested.ExecutionOrder)

	// The inner step's command reached the shared enqueue callback.
	require.Len(t, enqueued, 1)
	assert.Equal(t, "t.inner", enqueued[0].Tool)
}

func TestExecute_MissingProcedureIsError(t *testing.T) {
	result := New(memstore.New()).Execute(context.Background(), "no-such-uuid", nil, func(Command) {
		t.Fatal("nothing should be enqueued")
	})
	assert.Equal(t, StatusError, result.Status)
	require.Len(t, result.Errors, 1)
}

func TestExecute_UnresolvableStepYieldsPartial(t *testing.T) {
	store := memstore.New()
	uuid := storeInlineProcedure(t, store, "broken", []any{
		map[string]any{"id": "a", "order": 0},
		map[string]any{"id": "b", "tool": "t.two", "order": 1},
	})

	var enqueued []Command
	result := New(store).Execute(context.Background(), uuid, nil, func(cmd Command) {
		enqueued = append(enqueued, cmd)
	})

	assert.Equal(t, StatusPartial, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "a", result.Errors[0].ID)
	// The run continued past the defect.
	require.Len(t, enqueued, 1)
	assert.Equal(t, "t.two", enqueued[0].Tool)
}

func TestExecute_InlineParamsStripBookkeeping(t *testing.T) {
	store := memstore.New()
	uuid := storeInlineProcedure(t, store, "surface", []any{
		map[string]any{"id": "a", "tool": "t.one", "url": "https://example.com", "order": 0},
	})

	var enqueued []Command
	New(store).Execute(context.Background(), uuid, nil, func(cmd Command) {
		enqueued = append(enqueued, cmd)
	})

	require.Len(t, enqueued, 1)
	assert.Equal(t, "https://example.com", enqueued[0].Params["url"])
	assert.NotContains(t, enqueued[0].Params, "id")
	assert.NotContains(t, enqueued[0].Params, "tool")
	assert.NotContains(t, enqueued[0].Params, "order")
}

func TestEvalGuard(t *testing.T) {
	ctx := map[string]any{"flag": true, "count": 0}

	cases := []struct {
		name  string
		guard any
		want  bool
	}{
		{"nil passes", nil, true},
		{"bool true", true, true},
		{"bool false", false, false},
		{"false token", "false", false},
		{"skip token", "Skip", false},
		{"zero token", "0", false},
		{"unknown string permissive", "when the moon is full", true},
		{"context key truthy", "flag", true},
		{"context key falsy", "count", false},
		{"empty string", "  ", true},
		{"unsupported type permissive", 42, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, evalGuard(tc.guard, ctx))
		})
	}
}
