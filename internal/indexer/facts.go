package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/pkg/types"
)

// factPatterns are the heuristic triggers for fact extraction, checked per
// sentence. The LLM path supplements these when a provider is available;
// the heuristics alone keep extraction working offline.
var factPatterns = []struct {
	prefix   string
	factType string
}{
	{"my ", types.FactTypeFact},
	{"i am ", types.FactTypeFact},
	{"i work ", types.FactTypeFact},
	{"i live ", types.FactTypeFact},
	{"i prefer ", types.FactTypePreference},
	{"i like ", types.FactTypePreference},
	{"i always ", types.FactTypePreference},
	{"i never ", types.FactTypePreference},
	{"i decided ", types.FactTypeDecision},
	{"we decided ", types.FactTypeDecision},
	{"i'll go with ", types.FactTypeDecision},
	{"i need to ", types.FactTypeTask},
	{"i have to ", types.FactTypeTask},
	{"remind me ", types.FactTypeTask},
}

// correctionMarkers flag statements that contradict an earlier fact.
var correctionMarkers = []string{
	"actually", "correction", "no longer", "not anymore", "changed to",
	"moved to", "instead of", "that's wrong", "i was wrong", "scratch that",
}

// ExtractFacts pulls durable statements out of a conversation turn and
// stores each as a fact entity linked to its source memory. Corrections
// supersede the fact they contradict; the old fact is kept, pointered, and
// excluded from current-truth reads.
func (ix *Indexer) ExtractFacts(ctx context.Context, memory *types.Entity) ([]*types.Entity, error) {
	if memory == nil || memory.EntityType != types.EntityTypeMemory {
		return nil, fmt.Errorf("%w: fact extraction needs a memory entity", storage.ErrInvalidInput)
	}
	content := memory.StructuredString("content")

	candidates := extractHeuristic(content)
	if len(candidates) == 0 && ix.text != nil {
		candidates = ix.extractLLM(ctx, content)
	}

	var out []*types.Entity
	for _, c := range candidates {
		fact, err := ix.storeFact(ctx, c, memory.ID)
		if err != nil {
			log.Printf("indexer: store fact from %s: %v", memory.ID, err)
			continue
		}
		out = append(out, fact)
	}
	return out, nil
}

// factCandidate is an extracted statement before storage.
type factCandidate struct {
	Statement  string  `json:"statement"`
	FactType   string  `json:"fact_type"`
	Confidence float64 `json:"confidence"`
}

func extractHeuristic(content string) []factCandidate {
	var out []factCandidate
	for _, sentence := range splitSentences(content) {
		lower := strings.ToLower(sentence)
		matched := ""
		for _, p := range factPatterns {
			if strings.HasPrefix(lower, p.prefix) || strings.Contains(lower, ". "+p.prefix) {
				matched = p.factType
				break
			}
		}
		if matched == "" {
			continue
		}
		if isCorrection(lower) {
			matched = types.FactTypeCorrection
		}
		out = append(out, factCandidate{
			Statement:  strings.TrimSpace(sentence),
			FactType:   matched,
			Confidence: 0.7,
		})
	}
	return out
}

func isCorrection(lower string) bool {
	for _, m := range correctionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func splitSentences(content string) []string {
	var out []string
	start := 0
	for i, r := range content {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(content[start : i+1]); len(s) > 3 {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(content[start:]); len(s) > 3 {
		out = append(out, s)
	}
	return out
}

// extractLLM asks the provider for facts as JSON. Provider failure or
// unparseable output yields no facts; extraction is best-effort.
func (ix *Indexer) extractLLM(ctx context.Context, content string) []factCandidate {
	prompt := fmt.Sprintf(`Extract durable personal facts from this message. Return a JSON array; each item has "statement", "fact_type" (one of fact, fact_correction, decision, preference, task), and "confidence" (0.0-1.0). Return [] if there are none. Message:

%s`, content)

	raw, err := ix.text.Complete(ctx, prompt)
	if err != nil {
		log.Printf("indexer: llm fact extraction unavailable: %v", err)
		return nil
	}
	// Models often wrap JSON in fences or prose; take the outermost array.
	begin := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if begin < 0 || end <= begin {
		return nil
	}
	var out []factCandidate
	if err := json.Unmarshal([]byte(raw[begin:end+1]), &out); err != nil {
		log.Printf("indexer: llm fact extraction returned malformed JSON: %v", err)
		return nil
	}

	valid := out[:0]
	for _, c := range out {
		if strings.TrimSpace(c.Statement) == "" || !types.IsValidFactType(c.FactType) {
			continue
		}
		valid = append(valid, c)
	}
	return valid
}

func (ix *Indexer) storeFact(ctx context.Context, c factCandidate, memoryID string) (*types.Entity, error) {
	fact := &types.Entity{
		ID:         "fact_" + uuid.NewString(),
		EntityType: types.EntityTypeFact,
		Source:     "conversation",
		Structured: map[string]interface{}{
			"statement":        c.Statement,
			"fact_type":        c.FactType,
			"confidence":       c.Confidence,
			"source_memory_id": memoryID,
		},
	}
	if err := ix.data.Store(ctx, fact); err != nil {
		return nil, err
	}
	ix.link(ctx, fact.ID, memoryID, types.RelDerivedFrom)

	if c.FactType == types.FactTypeCorrection {
		ix.supersedeContradicted(ctx, fact)
	}
	return fact, nil
}

// supersedeContradicted finds the current fact the correction overlaps most
// and supersedes it. No clear match means the correction simply stands as
// the newest statement on the subject.
func (ix *Indexer) supersedeContradicted(ctx context.Context, correction *types.Entity) {
	current, err := ix.data.Query(ctx, storage.QueryOptions{
		EntityType: types.EntityTypeFact,
		Limit:      200,
	})
	if err != nil {
		log.Printf("indexer: correction scan: %v", err)
		return
	}

	stmt := correction.StructuredString("statement")
	var best *types.Entity
	bestScore := 0.0
	for _, f := range current {
		if f.ID == correction.ID {
			continue
		}
		score := wordOverlap(stmt, f.StructuredString("statement"))
		if score > bestScore {
			best, bestScore = f, score
		}
	}
	if best == nil || bestScore < 0.3 {
		return
	}
	if err := ix.Supersede(ctx, best.ID, correction.ID); err != nil {
		log.Printf("indexer: supersede %s by %s: %v", best.ID, correction.ID, err)
	}
}

// Supersede marks oldID as replaced by newID, in both entity metadata and
// the relationship graph. Both entities persist; only the query-time filter
// changes which one counts as current truth.
func (ix *Indexer) Supersede(ctx context.Context, oldID, newID string) error {
	if err := ix.data.MarkSuperseded(ctx, oldID, newID); err != nil {
		return err
	}
	ix.link(ctx, newID, oldID, types.RelSupersedes)
	return nil
}

// overlapStopwords are excluded from correction matching so that function
// words do not count as subject overlap.
var overlapStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "for": true,
	"my": true, "i": true, "me": true, "it": true, "and": true, "but": true,
	"actually": true, "no": true, "not": true, "that": true, "this": true,
}

func wordOverlap(a, b string) float64 {
	wa := significantWords(a)
	wb := significantWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	shared := 0
	for w := range wa {
		if wb[w] {
			shared++
		}
	}
	smaller := len(wa)
	if len(wb) < smaller {
		smaller = len(wb)
	}
	return float64(shared) / float64(smaller)
}

func significantWords(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(w) > 1 && !overlapStopwords[w] {
			out[w] = true
		}
	}
	return out
}
