package graph

// Reserved property keys. Core algorithms read only these keys from the
// otherwise schema-free property bags; callers may store anything else.
const (
	// KeyPrototypeUUID is a weak back-reference from an instance to its
	// prototype concept.
	KeyPrototypeUUID = "prototype_uuid"

	// KeySteps holds an inline step list on a Procedure concept.
	KeySteps = "steps"

	// KeyOrder is the tie-break ordering hint on steps and sequence edges.
	KeyOrder = "order"

	// KeyStrength is the fuzzy-membership strength on edges, in [0,1].
	KeyStrength = "strength"

	// KeyEmbeddingSum and KeyExemplarCount are the centroid tracker's
	// running-sum bookkeeping. The visible embedding is always sum/count.
	KeyEmbeddingSum  = "_embedding_sum"
	KeyExemplarCount = "_exemplar_count"

	// KeySuccessCount and KeyLastSuccessAt track recorded pattern successes.
	KeySuccessCount  = "success_count"
	KeyLastSuccessAt = "last_success_at"

	// KeyPatternData holds a pattern's fingerprint and detection results.
	KeyPatternData = "pattern_data"

	// KeySource tags a concept's origin ("pattern-origin" for learned
	// patterns).
	KeySource = "source"

	// KeyType is the free-form subtype tag ("generalized", form types).
	KeyType = "type"

	// KeyExemplarCountTotal records how many exemplars a generalized parent
	// was built from.
	KeyExemplarCountTotal = "exemplar_count"

	// KeyDescription carries a concept's human-readable description.
	KeyDescription = "description"
)

// SourcePatternOrigin tags concepts created by the pattern engine.
const SourcePatternOrigin = "pattern-origin"

// TypeGeneralized tags a parent concept produced by auto-generalization.
const TypeGeneralized = "generalized"
