// Package llm provides the language-model clients Sage uses for intent
// fallback, fact extraction, draft generation, and embeddings. Providers
// are interchangeable behind two small interfaces; every call runs through
// a circuit breaker and the shared gate so a slow or failing provider
// degrades retrieval instead of wedging it.
package llm

import "context"

// TextGenerator produces a completion for a prompt. Implementations must
// honor ctx cancellation and return promptly when the provider is down.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator converts text into a dense vector for similarity
// search. All vectors from one generator share a dimension.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
