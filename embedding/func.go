package embedding

// Func is the optional text-embedding contract consumed by the core.
// Absence degrades gracefully: features depending on embeddings fall back
// to default-confidence heuristics.
type Func func(text string) ([]float64, error)
