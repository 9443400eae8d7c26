package storage

import (
	"strings"

	"github.com/versolabs/noema/embedding"
	"github.com/versolabs/noema/graph"
)

// ScoreConcept ranks a concept against a query: cosine similarity when the
// query carries an embedding, token overlap against name/description/labels
// otherwise. Filter-only queries score a flat 1.0 so ordering is stable.
func ScoreConcept(c *graph.Concept, q Query) float64 {
	if len(q.Embedding) > 0 && len(c.Embedding) > 0 {
		return embedding.Cosine(q.Embedding, c.Embedding)
	}
	if q.Text == "" {
		return 1.0
	}
	return TokenOverlap(q.Text, ConceptText(c))
}

// ConceptText is the lexical surface a concept exposes to text search.
func ConceptText(c *graph.Concept) string {
	parts := []string{c.Name, c.StringProp(graph.KeyDescription)}
	parts = append(parts, c.Labels...)
	return strings.Join(parts, " ")
}

// TokenOverlap is the fraction of query tokens present in the candidate
// text (0 when the query has no tokens).
func TokenOverlap(query, text string) float64 {
	qTokens := Tokenize(query)
	if len(qTokens) == 0 {
		return 0.0
	}
	have := make(map[string]bool)
	for _, t := range Tokenize(text) {
		have[t] = true
	}
	hits := 0
	for _, t := range qTokens {
		if have[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(qTokens))
}

// Tokenize lower-cases and splits on non-alphanumeric boundaries.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

// MatchConcept applies exact-match filters to a concept.
func MatchConcept(c *graph.Concept, f Filters) bool {
	for key, want := range f {
		switch {
		case key == "uuid":
			if c.UUID != want {
				return false
			}
		case key == "kind":
			if string(c.Kind) != want {
				return false
			}
		case key == "status":
			if string(c.Status) != want {
				return false
			}
		case strings.HasPrefix(key, "props."):
			if c.StringProp(strings.TrimPrefix(key, "props.")) != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// MatchEdge applies exact-match filters to an edge.
func MatchEdge(e *graph.Edge, f Filters) bool {
	for key, want := range f {
		switch key {
		case "uuid":
			if e.UUID != want {
				return false
			}
		case "rel":
			if string(e.Rel) != want {
				return false
			}
		case "from_node":
			if e.FromNode != want {
				return false
			}
		case "to_node":
			if e.ToNode != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// HasEdgeFilter reports whether the filters target edges rather than
// concepts.
func HasEdgeFilter(f Filters) bool {
	for _, key := range []string{"rel", "from_node", "to_node"} {
		if _, ok := f[key]; ok {
			return true
		}
	}
	return false
}
