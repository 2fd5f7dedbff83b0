package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Gate bounds the process-wide load on the LLM provider: at most
// maxConcurrent requests in flight and at most rps requests per second,
// across every caller (enrichment passes, fact extraction, drafts).
// Acquire blocks until a slot and a rate token are available or ctx ends.
type Gate struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

// NewGate creates a gate. maxConcurrent < 1 defaults to 4; rps <= 0 means
// no rate limit, only the concurrency cap.
func NewGate(maxConcurrent int, rps float64) *Gate {
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), maxConcurrent)
	}
	return &Gate{
		sem:     make(chan struct{}, maxConcurrent),
		limiter: limiter,
	}
}

// Acquire takes a slot. The caller must call the returned release function
// exactly once.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("llm: gate: %w", ctx.Err())
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			<-g.sem
			return nil, fmt.Errorf("llm: gate: %w", err)
		}
	}
	return func() { <-g.sem }, nil
}

// GatedText wraps a TextGenerator so its completions pass through the gate.
type GatedText struct {
	inner TextGenerator
	gate  *Gate
}

// NewGatedText wraps gen with the gate.
func NewGatedText(gen TextGenerator, gate *Gate) *GatedText {
	return &GatedText{inner: gen, gate: gate}
}

func (g *GatedText) Complete(ctx context.Context, prompt string) (string, error) {
	release, err := g.gate.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return g.inner.Complete(ctx, prompt)
}

func (g *GatedText) GetModel() string { return g.inner.GetModel() }

var _ TextGenerator = (*GatedText)(nil)

// GatedEmbedding wraps an EmbeddingGenerator so its calls pass through the
// same gate as completions.
type GatedEmbedding struct {
	inner EmbeddingGenerator
	gate  *Gate
}

// NewGatedEmbedding wraps gen with the gate.
func NewGatedEmbedding(gen EmbeddingGenerator, gate *Gate) *GatedEmbedding {
	return &GatedEmbedding{inner: gen, gate: gate}
}

func (g *GatedEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	release, err := g.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return g.inner.Embed(ctx, text)
}

func (g *GatedEmbedding) GetModel() string { return g.inner.GetModel() }

var _ EmbeddingGenerator = (*GatedEmbedding)(nil)
