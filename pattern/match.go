package pattern

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/versolabs/noema/embedding"
	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/storage"
)

// Scoring weights for fingerprint matching. The domain bonus dominates so a
// same-site pattern outranks a cross-site one regardless of token overlap.
const (
	domainMatchWeight = 2.0
	typeMatchWeight   = 0.5
)

// defaultSimilarity stands in for cosine similarity when either side lacks
// an embedding, keeping text-only backends usable.
const defaultSimilarity = 0.7

// Match is one ranked fingerprint-matching result.
type Match struct {
	Score   float64        `json:"score"`
	Concept *graph.Concept `json:"concept"`
	Data    *Data          `json:"pattern_data"`
}

// FindBestPattern fingerprints the given page and ranks stored patterns
// against it: 2.0 for a domain match, 0.5 for a form-type match, plus the
// Jaccard overlap of the token sets. Ties keep store order (stable sort).
func (e *Engine) FindBestPattern(ctx context.Context, pageURL, pageHTML, formType string, topK int) ([]Match, error) {
	query := NewFingerprint(pageURL, pageHTML)

	records, err := e.store.Search(ctx, storage.Query{
		TopK:    -1,
		Filters: storage.Filters{"kind": string(graph.KindPattern)},
	})
	if err != nil {
		return nil, fmt.Errorf("search patterns: %w", err)
	}

	var matches []Match
	for _, rec := range records {
		if rec.Concept == nil {
			continue
		}
		data, err := DataFromConcept(rec.Concept)
		if err != nil {
			continue
		}
		score := Jaccard(query.Tokens, data.Fingerprint.Tokens)
		if query.Domain != "" && query.Domain == data.Fingerprint.Domain {
			score += domainMatchWeight
		}
		if formType != "" && formType == data.FormType {
			score += typeMatchWeight
		}
		matches = append(matches, Match{Score: score, Concept: rec.Concept, Data: data})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Similar is one similarity-search result.
type Similar struct {
	Concept    *graph.Concept `json:"concept"`
	Similarity float64        `json:"similarity"`
}

// FindSimilarPatterns combines store-level fuzzy search with an optional
// type filter and a cosine-similarity floor against the query embedding.
// Without an embedder, candidates score the 0.7 default so text-only
// backends stay usable. Excluded UUIDs never appear in the result.
func (e *Engine) FindSimilarPatterns(ctx context.Context, query, patternType string, topK int, minSimilarity float64, exclude []string) ([]Similar, error) {
	var queryVec []float64
	if e.embed != nil {
		vec, err := e.embed(query)
		if err != nil {
			e.logger.Warn("query embedding failed, using lexical search",
				slog.String("error", err.Error()))
		} else {
			queryVec = vec
		}
	}

	records, err := e.store.Search(ctx, storage.Query{
		Text:      query,
		Embedding: queryVec,
		TopK:      -1,
		Filters:   storage.Filters{"kind": string(graph.KindPattern)},
	})
	if err != nil {
		return nil, fmt.Errorf("search patterns: %w", err)
	}

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	var out []Similar
	for _, rec := range records {
		c := rec.Concept
		if c == nil || excluded[c.UUID] {
			continue
		}
		if patternType != "" && !matchesType(c, patternType) {
			continue
		}
		sim := defaultSimilarity
		if len(queryVec) > 0 && len(c.Embedding) > 0 {
			sim = embedding.Cosine(queryVec, c.Embedding)
		}
		if sim < minSimilarity {
			continue
		}
		out = append(out, Similar{Concept: c, Similarity: sim})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func matchesType(c *graph.Concept, patternType string) bool {
	if c.StringProp(graph.KeyType) == patternType {
		return true
	}
	data, err := DataFromConcept(c)
	return err == nil && data.FormType == patternType
}
