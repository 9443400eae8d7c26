package pattern

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/versolabs/noema/embedding"
	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/llm"
	"github.com/versolabs/noema/storage"
)

// Auto-generalization defaults.
const (
	// DefaultMinSimilar is the minimum exemplar count (the trigger concept
	// included) required before a generalized parent is created.
	DefaultMinSimilar = 2
	// DefaultMinSimilarity is the similarity floor for qualifying peers.
	DefaultMinSimilarity = 0.75
	// commonFraction is the share of exemplars a selector or step must
	// appear in to be carried onto the generalized parent.
	commonFraction = 0.5
)

// SuccessResult reports a success recording. Error carries a marker when
// the concept was absent; recording never fails destructively.
type SuccessResult struct {
	SuccessCount int    `json:"success_count"`
	Error        string `json:"error,omitempty"`
}

// RecordSuccess increments a pattern's persisted success count and
// timestamp. An absent concept returns a zero count with an error marker
// rather than raising.
func (e *Engine) RecordSuccess(ctx context.Context, conceptUUID string, _ map[string]any) SuccessResult {
	concept, err := storage.GetConcept(ctx, e.store, conceptUUID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return SuccessResult{SuccessCount: 0, Error: "not_found"}
		}
		return SuccessResult{SuccessCount: 0, Error: err.Error()}
	}

	count := concept.IntProp(graph.KeySuccessCount) + 1
	concept.SetProp(graph.KeySuccessCount, count)
	concept.SetProp(graph.KeyLastSuccessAt, nowUTC())
	if data, err := DataFromConcept(concept); err == nil {
		data.SuccessCount = count
		concept.SetProp(graph.KeyPatternData, data)
	}

	if res := e.store.Upsert(ctx, concept, graph.NewProvenance("tool", 1.0)); !res.OK() {
		return SuccessResult{SuccessCount: count, Error: res.Error}
	}
	return SuccessResult{SuccessCount: count}
}

// GeneralizeResult reports a created generalized parent.
type GeneralizeResult struct {
	ParentUUID    string   `json:"parent_uuid"`
	Name          string   `json:"name"`
	ExemplarUUIDs []string `json:"exemplar_uuids"`
}

// AutoGeneralizeOptions tunes AutoGeneralize. Zero values take the
// defaults.
type AutoGeneralizeOptions struct {
	MinSimilar    int
	MinSimilarity float64
	Reason        ReasoningFunc
}

// AutoGeneralize merges a successful pattern with its similar successful
// peers into a generalized parent concept. Returns (nil, nil) when the
// trigger is already generalized (by type or by an existing generalized_by
// edge) or when fewer than MinSimilar exemplars qualify; in both cases no
// concept is created.
func (e *Engine) AutoGeneralize(ctx context.Context, conceptUUID string, opts AutoGeneralizeOptions) (*GeneralizeResult, error) {
	if opts.MinSimilar <= 0 {
		opts.MinSimilar = DefaultMinSimilar
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}

	trigger, err := storage.GetConcept(ctx, e.store, conceptUUID)
	if err != nil {
		return nil, fmt.Errorf("load concept %s: %w", conceptUUID, err)
	}
	if trigger.StringProp(graph.KeyType) == graph.TypeGeneralized {
		return nil, nil
	}
	parents, err := storage.EdgesFrom(ctx, e.store, conceptUUID, graph.RelGeneralizedBy)
	if err != nil {
		return nil, fmt.Errorf("check generalized_by edges: %w", err)
	}
	if len(parents) > 0 {
		return nil, nil
	}

	query := trigger.Name
	if desc := trigger.StringProp(graph.KeyDescription); desc != "" {
		query += " " + desc
	}
	similar, err := e.FindSimilarPatterns(ctx, query, "", -1, opts.MinSimilarity, []string{conceptUUID})
	if err != nil {
		return nil, fmt.Errorf("find similar patterns: %w", err)
	}

	exemplars := []*graph.Concept{trigger}
	for _, s := range similar {
		if s.Concept.IntProp(graph.KeySuccessCount) > 0 {
			exemplars = append(exemplars, s.Concept)
		}
	}
	if len(exemplars) < opts.MinSimilar {
		e.logger.Debug("not enough qualifying peers to generalize",
			slog.String("concept", conceptUUID),
			slog.Int("exemplars", len(exemplars)),
			slog.Int("required", opts.MinSimilar))
		return nil, nil
	}

	name, description := e.generalizedIdentity(exemplars, opts.Reason)

	var vectors [][]float64
	uuids := make([]string, len(exemplars))
	for i, ex := range exemplars {
		uuids[i] = ex.UUID
		if len(ex.Embedding) > 0 {
			vectors = append(vectors, ex.Embedding)
		}
	}
	centroid := embedding.Centroid(vectors)

	parentUUID, err := e.GeneralizeConcepts(ctx, uuids, name, description, centroid, trigger.PrototypeUUID())
	if err != nil {
		return nil, err
	}

	if err := e.attachCommonStructure(ctx, parentUUID, exemplars); err != nil {
		e.logger.Warn("failed to attach common selectors/steps",
			slog.String("parent", parentUUID), slog.String("error", err.Error()))
	}

	generalizationsTotal.Inc()
	return &GeneralizeResult{ParentUUID: parentUUID, Name: name, ExemplarUUIDs: uuids}, nil
}

// GeneralizeConcepts creates the generalized parent concept and its edges:
// a has_exemplar edge parent->exemplar carrying order, and the reverse
// generalized_by edge exemplar->parent.
func (e *Engine) GeneralizeConcepts(ctx context.Context, exemplarUUIDs []string, name, description string, emb []float64, prototypeUUID string) (string, error) {
	if len(exemplarUUIDs) == 0 {
		return "", fmt.Errorf("at least one exemplar is required")
	}

	parent := graph.NewConcept(graph.KindPattern, name)
	parent.SetProp(graph.KeyType, graph.TypeGeneralized)
	parent.SetProp(graph.KeySource, graph.SourcePatternOrigin)
	parent.SetProp(graph.KeyDescription, description)
	parent.SetProp(graph.KeyExemplarCountTotal, len(exemplarUUIDs))
	parent.Embedding = emb
	if prototypeUUID != "" {
		parent.SetProp(graph.KeyPrototypeUUID, prototypeUUID)
	}

	prov := graph.NewProvenance("tool", 1.0)
	if res := e.store.Upsert(ctx, parent, prov); !res.OK() {
		return "", fmt.Errorf("store generalized parent: %s", res.Error)
	}

	for i, exUUID := range exemplarUUIDs {
		forward := graph.NewEdge(parent.UUID, exUUID, graph.RelHasExemplar)
		forward.SetProp(graph.KeyOrder, i)
		if res := e.store.Upsert(ctx, forward, prov); !res.OK() {
			return "", fmt.Errorf("store has_exemplar edge: %s", res.Error)
		}
		back := graph.NewEdge(exUUID, parent.UUID, graph.RelGeneralizedBy)
		if res := e.store.Upsert(ctx, back, prov); !res.OK() {
			return "", fmt.Errorf("store generalized_by edge: %s", res.Error)
		}
	}
	return parent.UUID, nil
}

// generalizedIdentity derives a name and description for the parent: from
// the reasoning function when available and parsable, otherwise by
// intersecting the tokenized exemplar names minus stopwords.
func (e *Engine) generalizedIdentity(exemplars []*graph.Concept, reason ReasoningFunc) (string, string) {
	names := make([]string, len(exemplars))
	for i, ex := range exemplars {
		names[i] = ex.Name
	}

	if reason != nil {
		prompt := fmt.Sprintf(`These interaction patterns were all used successfully and are mutually similar:
%s

Propose a short generic name and one-sentence description for the shared pattern.
Reply with JSON only: {"name": "...", "description": "..."}`,
			"- "+strings.Join(names, "\n- "))
		if reply, err := reason(prompt); err == nil {
			var parsed struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			blob := llm.ExtractJSON(reply)
			if blob != "" && json.Unmarshal([]byte(blob), &parsed) == nil && parsed.Name != "" {
				if parsed.Description == "" {
					parsed.Description = fmt.Sprintf("Generalized from %d patterns", len(exemplars))
				}
				return parsed.Name, parsed.Description
			}
		}
		e.logger.Warn("reasoning reply unusable for naming, using token intersection")
	}

	name := intersectNames(names)
	if name == "" {
		name = "Generalized pattern"
	}
	return name, fmt.Sprintf("Generalized from %d patterns: %s", len(exemplars), strings.Join(names, ", "))
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "of": true,
	"for": true, "and": true, "or": true, "in": true, "on": true,
	"with": true, "at": true, "via": true,
}

// intersectNames keeps the tokens (minus stopwords) that occur in every
// name, in first-name order, title-cased.
func intersectNames(names []string) string {
	if len(names) == 0 {
		return ""
	}
	first := tokenizeName(names[0])
	common := make([]string, 0, len(first))
	for _, tok := range first {
		if stopwords[tok] {
			continue
		}
		inAll := true
		for _, name := range names[1:] {
			if !containsToken(tokenizeName(name), tok) {
				inAll = false
				break
			}
		}
		if inAll {
			common = append(common, tok)
		}
	}
	for i, tok := range common {
		common[i] = strings.ToUpper(tok[:1]) + tok[1:]
	}
	return strings.Join(common, " ")
}

func tokenizeName(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

func containsToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}

// attachCommonStructure copies onto the parent the selectors and steps
// shared by at least half the exemplars.
func (e *Engine) attachCommonStructure(ctx context.Context, parentUUID string, exemplars []*graph.Concept) error {
	selectorVotes := make(map[string]map[string]int) // field -> selector -> count
	stepVotes := make(map[string]int)                // canonical step -> count
	stepByKey := make(map[string]map[string]any)

	withData := 0
	for _, ex := range exemplars {
		data, err := DataFromConcept(ex)
		if err != nil {
			continue
		}
		withData++
		for field, sel := range data.Selectors {
			if selectorVotes[field] == nil {
				selectorVotes[field] = make(map[string]int)
			}
			selectorVotes[field][sel]++
		}
		for _, step := range data.Steps {
			key := canonicalStep(step)
			stepVotes[key]++
			if _, ok := stepByKey[key]; !ok {
				stepByKey[key] = step
			}
		}
	}
	if withData == 0 {
		return nil
	}
	threshold := int(float64(withData)*commonFraction + 0.5)
	if threshold < 1 {
		threshold = 1
	}

	common := &Data{Selectors: make(map[string]string)}
	for field, votes := range selectorVotes {
		for sel, count := range votes {
			if count >= threshold {
				common.Selectors[field] = sel
				break
			}
		}
	}
	var keys []string
	for key, count := range stepVotes {
		if count >= threshold {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		common.Steps = append(common.Steps, stepByKey[key])
	}
	if len(common.Selectors) == 0 && len(common.Steps) == 0 {
		return nil
	}

	parent, err := storage.GetConcept(ctx, e.store, parentUUID)
	if err != nil {
		return err
	}
	parent.SetProp(graph.KeyPatternData, common)
	res := e.store.Upsert(ctx, parent, graph.NewProvenance("tool", 1.0))
	if !res.OK() {
		return fmt.Errorf("store common structure: %s", res.Error)
	}
	return nil
}

// canonicalStep renders a step map deterministically for vote counting.
func canonicalStep(step map[string]any) string {
	blob, err := json.Marshal(sortedCopy(step))
	if err != nil {
		return fmt.Sprintf("%v", step)
	}
	return string(blob)
}

func sortedCopy(m map[string]any) map[string]any {
	// json.Marshal already sorts map keys; the copy just shields callers
	// from mutation.
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
