package pattern

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/llm"
	"github.com/versolabs/noema/storage"
)

// Transfer acceptance thresholds.
const (
	// fieldMatchFloor is the minimum normalized-name length ratio for a
	// heuristic field mapping to be accepted.
	fieldMatchFloor = 0.5
	// persistFloor is the minimum confidence at which an adapted pattern is
	// written back to the store.
	persistFloor = 0.6
	// reasoningFallbackConfidence is assigned when a reasoning reply fails
	// to parse and the heuristic mapping is used instead.
	reasoningFallbackConfidence = 0.5
)

// TargetContext describes the context a pattern is transferred into.
type TargetContext struct {
	URL      string   `json:"url"`
	HTML     string   `json:"html,omitempty"`
	FormType string   `json:"form_type,omitempty"`
	Fields   []string `json:"fields"`
}

// TransferResult reports an attempted pattern transfer. NewPatternUUID is
// empty when confidence stayed below the persistence floor.
type TransferResult struct {
	Adapted        *Data             `json:"adapted_pattern"`
	FieldMapping   map[string]string `json:"field_mapping"`
	Confidence     float64           `json:"confidence"`
	NewPatternUUID string            `json:"new_pattern_uuid,omitempty"`
}

// Transfer adapts a stored pattern to a new context by remapping its field
// names. Without a reasoning function the mapping is heuristic: normalized
// name equality first, then substring containment, each candidate scored by
// the length ratio of the shorter to the longer normalized name and
// accepted only above 0.5. With a reasoning function, its structured reply
// supplies the mapping and confidence; a malformed reply downgrades to the
// heuristic mapping at confidence 0.5.
//
// The adapted pattern is persisted only when confidence reaches 0.6, linked
// back to its source via a transferred_to edge carrying the mapping and
// confidence.
func (e *Engine) Transfer(ctx context.Context, sourceUUID string, target TargetContext, reason ReasoningFunc) (*TransferResult, error) {
	source, err := storage.GetConcept(ctx, e.store, sourceUUID)
	if err != nil {
		return nil, fmt.Errorf("load source pattern %s: %w", sourceUUID, err)
	}
	data, err := DataFromConcept(source)
	if err != nil {
		return nil, fmt.Errorf("source %s is not a pattern: %w", sourceUUID, err)
	}

	var (
		mapping    map[string]string
		confidence float64
	)
	if reason != nil {
		mapping, confidence = e.reasonedMapping(data.Fields, target.Fields, reason)
	}
	if mapping == nil {
		mapping, confidence = heuristicMapping(data.Fields, target.Fields)
		if reason != nil {
			confidence = reasoningFallbackConfidence
		}
	}

	adapted := adaptData(data, target, mapping)
	result := &TransferResult{Adapted: adapted, FieldMapping: mapping, Confidence: confidence}

	if confidence < persistFloor {
		e.logger.Debug("transfer below persistence floor",
			slog.String("source", sourceUUID),
			slog.Float64("confidence", confidence))
		transfersTotal.WithLabelValues("discarded").Inc()
		return result, nil
	}

	name := transferName(source.Name, target.URL)
	concept := e.newPatternConcept(name, adapted)
	prov := graph.NewProvenance("tool", confidence)
	if res := e.store.Upsert(ctx, concept, prov); !res.OK() {
		return nil, fmt.Errorf("store adapted pattern: %s", res.Error)
	}

	edge := graph.NewEdge(sourceUUID, concept.UUID, graph.RelTransferredTo)
	edge.SetProp("field_mapping", mapping)
	edge.SetProp("confidence", confidence)
	if res := e.store.Upsert(ctx, edge, prov); !res.OK() {
		return nil, fmt.Errorf("store transferred_to edge: %s", res.Error)
	}

	result.NewPatternUUID = concept.UUID
	transfersTotal.WithLabelValues("persisted").Inc()
	return result, nil
}

// heuristicMapping maps source fields to target fields by normalized
// equality, then substring containment. Returns the mapping and a
// confidence: the mean accepted score weighted by source-field coverage.
func heuristicMapping(sourceFields, targetFields []string) (map[string]string, float64) {
	mapping := make(map[string]string)
	taken := make(map[string]bool, len(targetFields))
	total := 0.0

	for _, src := range sourceFields {
		bestScore := 0.0
		bestTarget := ""
		for _, tgt := range targetFields {
			if taken[tgt] {
				continue
			}
			score := fieldMatchScore(src, tgt)
			if score > bestScore {
				bestScore = score
				bestTarget = tgt
			}
		}
		if bestScore > fieldMatchFloor {
			mapping[src] = bestTarget
			taken[bestTarget] = true
			total += bestScore
		}
	}

	if len(sourceFields) == 0 || len(mapping) == 0 {
		return mapping, 0.0
	}
	mean := total / float64(len(mapping))
	coverage := float64(len(mapping)) / float64(len(sourceFields))
	return mapping, mean * coverage
}

// fieldMatchScore scores a candidate pair: 0 unless the normalized names
// are equal or one contains the other, in which case the score is the
// length ratio of the shorter to the longer normalized name.
func fieldMatchScore(a, b string) float64 {
	na, nb := normalizeField(a), normalizeField(b)
	if na == "" || nb == "" {
		return 0.0
	}
	if na == nb {
		return 1.0
	}
	if !strings.Contains(na, nb) && !strings.Contains(nb, na) {
		return 0.0
	}
	shorter, longer := len(na), len(nb)
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	return float64(shorter) / float64(longer)
}

// normalizeField lower-cases and strips underscores, spaces and hyphens so
// "user_name", "User Name" and "username" compare equal.
func normalizeField(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', ' ', '-':
			return -1
		}
		return r
	}, s)
}

// reasonedMapping asks the reasoning function for a field mapping. Returns
// (nil, 0) when the reply cannot be parsed into a usable mapping.
func (e *Engine) reasonedMapping(sourceFields, targetFields []string, reason ReasoningFunc) (map[string]string, float64) {
	prompt := fmt.Sprintf(`Map form fields from a known interaction pattern to a new page.

Source fields: %s
Target fields: %s

Reply with JSON only:
{"field_mapping": {"<source_field>": "<target_field>", ...}, "confidence": <0.0-1.0>}

Omit source fields with no sensible target.`,
		strings.Join(sourceFields, ", "), strings.Join(targetFields, ", "))

	reply, err := reason(prompt)
	if err != nil {
		e.logger.Warn("reasoning call failed, falling back to heuristic mapping",
			slog.String("error", err.Error()))
		return nil, 0
	}

	var parsed struct {
		FieldMapping map[string]string `json:"field_mapping"`
		Confidence   float64           `json:"confidence"`
	}
	blob := llm.ExtractJSON(reply)
	if blob == "" || json.Unmarshal([]byte(blob), &parsed) != nil || len(parsed.FieldMapping) == 0 {
		e.logger.Warn("reasoning reply unparsable, falling back to heuristic mapping")
		return nil, 0
	}

	// Drop hallucinated targets.
	valid := make(map[string]bool, len(targetFields))
	for _, f := range targetFields {
		valid[f] = true
	}
	for src, tgt := range parsed.FieldMapping {
		if !valid[tgt] {
			delete(parsed.FieldMapping, src)
		}
	}
	if len(parsed.FieldMapping) == 0 {
		return nil, 0
	}
	if parsed.Confidence <= 0 || parsed.Confidence > 1 {
		parsed.Confidence = reasoningFallbackConfidence
	}
	return parsed.FieldMapping, parsed.Confidence
}

// adaptData rewrites the source pattern's selectors, steps and URL for the
// target context, substituting mapped field names into the templates.
func adaptData(src *Data, target TargetContext, mapping map[string]string) *Data {
	adapted := &Data{
		URL:      target.URL,
		FormType: src.FormType,
		Fields:   append([]string(nil), target.Fields...),
	}
	if target.FormType != "" {
		adapted.FormType = target.FormType
	}
	if target.HTML != "" {
		adapted.Fingerprint = NewFingerprint(target.URL, target.HTML)
	} else {
		adapted.Fingerprint = NewFingerprint(target.URL, "")
	}

	if len(src.Selectors) > 0 {
		adapted.Selectors = make(map[string]string, len(src.Selectors))
		for field, selector := range src.Selectors {
			newField, ok := mapping[field]
			if !ok {
				continue
			}
			adapted.Selectors[newField] = substituteFields(selector, mapping)
		}
	}

	for _, step := range src.Steps {
		newStep := make(map[string]any, len(step))
		for k, v := range step {
			if s, ok := v.(string); ok {
				newStep[k] = substituteFields(s, mapping)
			} else {
				newStep[k] = v
			}
		}
		adapted.Steps = append(adapted.Steps, newStep)
	}
	return adapted
}

// substituteFields replaces each source field name occurring in a template
// string with its mapped target name. Longer names are substituted first so
// a field that prefixes another ("user" vs "user_name") cannot clobber it.
func substituteFields(template string, mapping map[string]string) string {
	keys := make([]string, 0, len(mapping))
	for src := range mapping {
		if src == "" || src == mapping[src] {
			continue
		}
		keys = append(keys, src)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	out := template
	for _, src := range keys {
		out = strings.ReplaceAll(out, src, mapping[src])
	}
	return out
}

func transferName(sourceName, targetURL string) string {
	host := targetURL
	if u, err := url.Parse(targetURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return fmt.Sprintf("%s (%s)", sourceName, host)
}
