package pattern

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versolabs/noema/storage/memstore"
)

const signinHTML = `
<form action="/signin">
  <input type="email" name="email">
  <input type="password" name="password">
  <button type="submit">Continue</button>
</form>`

// learnPattern stores a pattern for the given page and returns its UUID.
func learnPattern(t *testing.T, e *Engine, name, pageURL, pageHTML string, data *Data) string {
	t.Helper()
	uuid, err := e.Learn(context.Background(), name, pageURL, pageHTML, data)
	require.NoError(t, err)
	return uuid
}

func TestFindBestPattern_SameDomainWins(t *testing.T) {
	engine := NewEngine(memstore.New())
	ctx := context.Background()

	sameUUID := learnPattern(t, engine, "example login", "https://example.com/login", loginHTML,
		&Data{FormType: "login", Fields: []string{"username", "password"}})
	learnPattern(t, engine, "other signin", "https://other.com/signin", signinHTML,
		&Data{FormType: "login", Fields: []string{"email", "password"}})

	matches, err := engine.FindBestPattern(ctx, "https://example.com/login", loginHTML, "", -1)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// The same-domain pattern carries the 2.0 domain bonus plus full token
	// overlap; the cross-domain one scores only its partial overlap.
	assert.Equal(t, sameUUID, matches[0].Concept.UUID)
	assert.Greater(t, matches[0].Score, 2.0)
	assert.Less(t, matches[1].Score, 1.0)
}

func TestFindBestPattern_FormTypeBonus(t *testing.T) {
	engine := NewEngine(memstore.New())
	ctx := context.Background()

	loginUUID := learnPattern(t, engine, "p1", "https://a.com/x", loginHTML,
		&Data{FormType: "login"})
	learnPattern(t, engine, "p2", "https://a.com/x", loginHTML,
		&Data{FormType: "checkout"})

	matches, err := engine.FindBestPattern(ctx, "https://b.com/y", loginHTML, "login", -1)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, loginUUID, matches[0].Concept.UUID)
	assert.InDelta(t, typeMatchWeight, matches[0].Score-matches[1].Score, 1e-9)
}

func TestFindBestPattern_TopK(t *testing.T) {
	engine := NewEngine(memstore.New())
	for i := 0; i < 5; i++ {
		learnPattern(t, engine, "p", "https://a.com/", loginHTML, &Data{})
	}
	matches, err := engine.FindBestPattern(context.Background(), "https://a.com/", loginHTML, "", 3)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestFindSimilarPatterns_FiltersAndFloor(t *testing.T) {
	// A deterministic embedder keyed on text content so similarities are
	// controllable.
	vectors := map[string][]float64{}
	embed := func(text string) ([]float64, error) {
		if v, ok := vectors[text]; ok {
			return v, nil
		}
		return []float64{1, 0}, nil
	}

	engine := NewEngine(memstore.New(), WithEmbedder(embed))
	ctx := context.Background()

	closeUUID := learnPattern(t, engine, "close", "https://a.com/", "", &Data{FormType: "login"})
	farUUID := learnPattern(t, engine, "far", "https://b.com/", "", &Data{FormType: "login"})
	otherTypeUUID := learnPattern(t, engine, "other", "https://c.com/", "", &Data{FormType: "checkout"})

	// Re-point the stored embeddings through the map before querying.
	vectors["query text"] = []float64{1, 0}
	reembed := func(uuid string, vec []float64) {
		c := mustGetConcept(t, engine, uuid)
		c.Embedding = vec
		res := engine.store.Upsert(ctx, c, provForTest())
		require.True(t, res.OK())
	}
	reembed(closeUUID, []float64{1, 0.05})
	reembed(farUUID, []float64{0, 1})
	reembed(otherTypeUUID, []float64{1, 0})

	got, err := engine.FindSimilarPatterns(ctx, "query text", "login", -1, 0.75, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, closeUUID, got[0].Concept.UUID)
	assert.Greater(t, got[0].Similarity, 0.9)

	// The exclusion list removes the only survivor.
	got, err = engine.FindSimilarPatterns(ctx, "query text", "login", -1, 0.75, []string{closeUUID})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindSimilarPatterns_DefaultSimilarityWithoutEmbedder(t *testing.T) {
	engine := NewEngine(memstore.New())
	learnPattern(t, engine, "lexical only", "https://a.com/", "", &Data{})

	got, err := engine.FindSimilarPatterns(context.Background(), "lexical", "", -1, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, defaultSimilarity, got[0].Similarity, 1e-9)
}
