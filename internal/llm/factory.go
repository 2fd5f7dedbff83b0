package llm

import (
	"fmt"
	"time"

	"github.com/scrypster/sage/internal/config"
)

// NewTextGenerator builds the configured text provider, gated. The gate is
// shared with the embedding generator so the provider sees one combined
// concurrency and rate budget.
func NewTextGenerator(cfg config.LLMConfig, gate *Gate) (TextGenerator, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	var gen TextGenerator
	switch cfg.Provider {
	case "ollama":
		gen = NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: timeout,
		})
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("llm: openai provider needs an api key")
		}
		gen = NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			Timeout: timeout,
		})
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("llm: anthropic provider needs an api key")
		}
		gen = NewAnthropicClient(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: timeout,
		})
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}

	if gate != nil {
		gen = NewGatedText(gen, gate)
	}
	return gen, nil
}

// NewEmbeddingGenerator builds the configured embedding provider, gated.
// Anthropic has no embedding API, so its deployments fall back to Ollama
// embeddings unless an OpenAI key is present.
func NewEmbeddingGenerator(cfg config.LLMConfig, gate *Gate) (EmbeddingGenerator, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	var gen EmbeddingGenerator
	switch cfg.Provider {
	case "openai":
		gen = NewOpenAIEmbeddingClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Timeout: timeout,
		})
	case "anthropic":
		if cfg.OpenAIAPIKey != "" {
			gen = NewOpenAIEmbeddingClient(OpenAIConfig{
				APIKey:  cfg.OpenAIAPIKey,
				Timeout: timeout,
			})
			break
		}
		fallthrough
	case "ollama":
		gen = NewOllamaEmbeddingClient(OllamaEmbeddingConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaEmbeddingModel,
			Timeout: timeout,
		})
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}

	if gate != nil {
		gen = NewGatedEmbedding(gen, gate)
	}
	return gen, nil
}
