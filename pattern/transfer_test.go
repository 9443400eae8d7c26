package pattern

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/storage"
	"github.com/versolabs/noema/storage/memstore"
)

func learnLoginSource(t *testing.T, engine *Engine) string {
	t.Helper()
	return learnPattern(t, engine, "example login", "https://example.com/login", loginHTML, &Data{
		FormType: "login",
		Fields:   []string{"username", "password"},
		Selectors: map[string]string{
			"username": "#username-input",
			"password": "#password-input",
		},
		Steps: []map[string]any{
			{"tool": "form.fill", "field": "username"},
			{"tool": "form.fill", "field": "password"},
			{"tool": "web.click_selector", "selector": "button[type=submit]"},
		},
	})
}

func TestTransfer_HeuristicMappingPersists(t *testing.T) {
	engine := NewEngine(memstore.New())
	ctx := context.Background()
	sourceUUID := learnLoginSource(t, engine)

	result, err := engine.Transfer(ctx, sourceUUID, TargetContext{
		URL:    "https://newsite.com/account/login",
		Fields: []string{"user_name", "password"},
	}, nil)
	require.NoError(t, err)

	// Normalized equality maps both fields at full score.
	assert.Equal(t, map[string]string{
		"username": "user_name",
		"password": "password",
	}, result.FieldMapping)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
	require.NotEmpty(t, result.NewPatternUUID)

	// Selector keys and templates are rewritten for the target names.
	assert.Equal(t, "#user_name-input", result.Adapted.Selectors["user_name"])
	assert.Equal(t, "#password-input", result.Adapted.Selectors["password"])
	assert.Equal(t, "user_name", result.Adapted.Steps[0]["field"])
	assert.Equal(t, "https://newsite.com/account/login", result.Adapted.URL)
	assert.Equal(t, "newsite.com", result.Adapted.Fingerprint.Domain)

	// The persisted concept is linked back via transferred_to.
	edges, err := storage.EdgesFrom(ctx, engine.store, sourceUUID, graph.RelTransferredTo)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, result.NewPatternUUID, edges[0].ToNode)

	adapted := mustGetConcept(t, engine, result.NewPatternUUID)
	assert.Equal(t, graph.KindPattern, adapted.Kind)
	assert.Equal(t, graph.SourcePatternOrigin, adapted.StringProp(graph.KeySource))
}

func TestTransfer_LowConfidenceNotPersisted(t *testing.T) {
	engine := NewEngine(memstore.New())
	ctx := context.Background()
	sourceUUID := learnLoginSource(t, engine)

	result, err := engine.Transfer(ctx, sourceUUID, TargetContext{
		URL:    "https://unrelated.com/",
		Fields: []string{"zip_code", "card_number"},
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, result.FieldMapping)
	assert.Zero(t, result.Confidence)
	assert.Empty(t, result.NewPatternUUID)

	edges, err := storage.EdgesFrom(ctx, engine.store, sourceUUID, graph.RelTransferredTo)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestTransfer_ReasonedMapping(t *testing.T) {
	engine := NewEngine(memstore.New())
	sourceUUID := learnLoginSource(t, engine)

	reason := func(prompt string) (string, error) {
		assert.Contains(t, prompt, "username")
		assert.Contains(t, prompt, "login_id")
		return "Here is the mapping:\n```json\n" +
			`{"field_mapping": {"username": "login_id", "password": "passphrase", "ghost": "not_a_field"}, "confidence": 0.9}` +
			"\n```", nil
	}

	result, err := engine.Transfer(context.Background(), sourceUUID, TargetContext{
		URL:    "https://newsite.com/login",
		Fields: []string{"login_id", "passphrase"},
	}, reason)
	require.NoError(t, err)

	// Hallucinated targets are dropped; real ones survive.
	assert.Equal(t, map[string]string{
		"username": "login_id",
		"password": "passphrase",
	}, result.FieldMapping)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
	assert.NotEmpty(t, result.NewPatternUUID)
}

func TestTransfer_MalformedReasoningFallsBack(t *testing.T) {
	engine := NewEngine(memstore.New())
	sourceUUID := learnLoginSource(t, engine)

	reason := func(string) (string, error) {
		return "I could not decide on a mapping, sorry.", nil
	}

	result, err := engine.Transfer(context.Background(), sourceUUID, TargetContext{
		URL:    "https://newsite.com/login",
		Fields: []string{"user_name", "password"},
	}, reason)
	require.NoError(t, err)

	// Heuristic mapping at the degraded confidence, below the persistence
	// floor.
	assert.Equal(t, "user_name", result.FieldMapping["username"])
	assert.InDelta(t, reasoningFallbackConfidence, result.Confidence, 1e-9)
	assert.Empty(t, result.NewPatternUUID)
}

func TestTransfer_MissingSource(t *testing.T) {
	engine := NewEngine(memstore.New())
	_, err := engine.Transfer(context.Background(), "no-such-uuid", TargetContext{}, nil)
	assert.Error(t, err)
}

func TestFieldMatchScore(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"username", "user_name", 1.0},
		{"User Name", "username", 1.0},
		{"password", "password_field", 8.0 / 13.0},
		{"email", "zip", 0.0},
		{"", "x", 0.0},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, fieldMatchScore(tc.a, tc.b), 1e-9, "%s vs %s", tc.a, tc.b)
	}
}

func TestHeuristicMapping_ConfidenceWeighsCoverage(t *testing.T) {
	// One of two source fields maps at full score: mean 1.0, coverage 0.5.
	mapping, confidence := heuristicMapping(
		[]string{"username", "favorite_color"},
		[]string{"user_name"})
	assert.Equal(t, map[string]string{"username": "user_name"}, mapping)
	assert.InDelta(t, 0.5, confidence, 1e-9)
}

func TestSubstituteFields(t *testing.T) {
	mapping := map[string]string{"username": "login_id", "same": "same"}
	assert.Equal(t, "#login_id-row .login_id", substituteFields("#username-row .username", mapping))
	// Identity mappings are skipped to avoid useless rewrites.
	assert.Equal(t, "same", substituteFields("same", mapping))
}

func TestSubstituteFields_OverlappingNames(t *testing.T) {
	// "user" prefixes "user_name"; the longer name must win regardless of
	// map iteration order.
	mapping := map[string]string{"user": "usr", "user_name": "login_name"}
	for i := 0; i < 20; i++ {
		got := substituteFields("#user_name-input #user-box", mapping)
		assert.Equal(t, "#login_name-input #usr-box", got)
	}
}
