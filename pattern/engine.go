package pattern

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/versolabs/noema/embedding"
	"github.com/versolabs/noema/graph"
	"github.com/versolabs/noema/storage"
)

// ReasoningFunc is the optional LLM contract: a natural-language prompt in,
// a response expected to contain embedded structured data out. Callers must
// tolerate responses that fail to parse.
type ReasoningFunc func(prompt string) (string, error)

// Data is the structured content stored under a pattern concept's
// pattern_data property: the context fingerprint, form-detection results,
// and the adaptable selector/step templates.
type Data struct {
	Fingerprint Fingerprint       `json:"fingerprint"`
	URL         string            `json:"url,omitempty"`
	FormType    string            `json:"form_type,omitempty"`
	Fields      []string          `json:"fields,omitempty"`
	Confidence  float64           `json:"confidence,omitempty"`
	Selectors   map[string]string `json:"selectors,omitempty"`
	Steps       []map[string]any  `json:"steps,omitempty"`
	// SuccessCount is maintained by RecordSuccess after successful use.
	SuccessCount int `json:"success_count,omitempty"`
}

// Engine is the pattern-evolution engine. The embedder and the per-call
// reasoning functions are both optional; their absence degrades to
// heuristics, never to failure.
type Engine struct {
	store  storage.Store
	embed  embedding.Func
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithEmbedder supplies the optional text-embedding function.
func WithEmbedder(fn embedding.Func) Option {
	return func(e *Engine) { e.embed = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine over the given store.
func NewEngine(store storage.Store, opts ...Option) *Engine {
	e := &Engine{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DataFromConcept decodes a concept's pattern_data property, tolerating the
// map shape a JSON round-trip produces.
func DataFromConcept(c *graph.Concept) (*Data, error) {
	if c.Props == nil {
		return nil, fmt.Errorf("concept %s has no pattern_data", c.UUID)
	}
	raw, ok := c.Props[graph.KeyPatternData]
	if !ok {
		return nil, fmt.Errorf("concept %s has no pattern_data", c.UUID)
	}
	switch v := raw.(type) {
	case *Data:
		return v, nil
	case Data:
		return &v, nil
	default:
		blob, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("re-encode pattern_data: %w", err)
		}
		var d Data
		if err := json.Unmarshal(blob, &d); err != nil {
			return nil, fmt.Errorf("decode pattern_data: %w", err)
		}
		return &d, nil
	}
}

// newPatternConcept builds a Pattern concept carrying the given data,
// tagged with the pattern-origin source.
func (e *Engine) newPatternConcept(name string, data *Data) *graph.Concept {
	c := graph.NewConcept(graph.KindPattern, name)
	c.SetProp(graph.KeySource, graph.SourcePatternOrigin)
	c.SetProp(graph.KeyPatternData, data)
	if data.FormType != "" {
		c.SetProp(graph.KeyType, data.FormType)
	}
	if e.embed != nil {
		text := name + "\n" + data.URL + "\n" + strings.Join(data.Fields, " ")
		if vec, err := e.embed(text); err == nil {
			c.Embedding = vec
		} else {
			e.logger.Warn("pattern embedding failed, storing without",
				slog.String("name", name), slog.String("error", err.Error()))
		}
	}
	return c
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
