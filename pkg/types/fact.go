package types

// FactType classifies the nature of an extracted fact.
const (
	FactTypeFact       = "fact"            // A plain statement about the world
	FactTypeCorrection = "fact_correction" // Contradicts an earlier fact; triggers supersession
	FactTypeDecision   = "decision"        // A choice the user made
	FactTypePreference = "preference"      // A standing preference
	FactTypeTask       = "task"            // Something the user intends to do
)

// ValidFactTypes lists all fact types the extractor may produce.
var ValidFactTypes = []string{
	FactTypeFact,
	FactTypeCorrection,
	FactTypeDecision,
	FactTypePreference,
	FactTypeTask,
}

// IsValidFactType checks if the given fact type is valid.
func IsValidFactType(factType string) bool {
	for _, validType := range ValidFactTypes {
		if validType == factType {
			return true
		}
	}
	return false
}

// Fact is the typed view over a fact entity's structured payload. Facts
// are immutable once written, except for the supersession pointers in the
// entity metadata.
type Fact struct {
	ID                string   `json:"id"`
	Statement         string   `json:"statement"`
	FactType          string   `json:"fact_type"`
	Confidence        float64  `json:"confidence"` // 0.0-1.0
	EntitiesMentioned []string `json:"entities_mentioned,omitempty"`

	// SourceMemoryID is the conversation-turn memory the fact was
	// extracted from.
	SourceMemoryID string `json:"source_memory_id,omitempty"`
}
