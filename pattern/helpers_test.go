package pattern

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/storage"
)

func provForTest() graph.Provenance {
	return graph.NewProvenance("tool", 1.0)
}

func mustGetConcept(t *testing.T, e *Engine, uuid string) *graph.Concept {
	t.Helper()
	c, err := storage.GetConcept(context.Background(), e.store, uuid)
	require.NoError(t, err)
	return c
}
