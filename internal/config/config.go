// Package config provides configuration management for Sage.
// It loads settings from environment variables with the SAGE_ prefix,
// layered over an optional TOML config file and an optional .env file,
// and provides sensible defaults for all configuration options.
//
// Precedence, lowest to highest: built-in defaults, config file,
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration settings for the Sage application.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	LLM      LLMConfig      `toml:"llm"`
	Search   SearchConfig   `toml:"search"`
	Followup FollowupConfig `toml:"followup"`
	Notify   NotifyConfig   `toml:"notify"`
	User     UserConfig     `toml:"user"`
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	// Engine selects the storage backend: sqlite or postgres.
	Engine string `toml:"engine"`
	// DataPath is the directory holding the SQLite database file.
	DataPath string `toml:"data_path"`
	// PostgresURL is the connection string for the postgres engine.
	PostgresURL string `toml:"postgres_url"`
}

// LLMConfig contains LLM provider configuration.
type LLMConfig struct {
	Provider             string  `toml:"provider"` // ollama, openai, anthropic
	OllamaURL            string  `toml:"ollama_url"`
	OllamaModel          string  `toml:"ollama_model"`
	OllamaEmbeddingModel string  `toml:"ollama_embedding_model"`
	OpenAIAPIKey         string  `toml:"openai_api_key"`
	OpenAIModel          string  `toml:"openai_model"`
	AnthropicAPIKey      string  `toml:"anthropic_api_key"`
	AnthropicModel       string  `toml:"anthropic_model"`
	MaxConcurrent        int     `toml:"max_concurrent"` // in-flight request cap
	RequestsPerSecond    float64 `toml:"requests_per_second"`
	TimeoutSeconds       int     `toml:"timeout_seconds"`
}

// SearchConfig tunes the context-assembly pipeline.
type SearchConfig struct {
	// TokenBudget is the context size cap, in estimated tokens.
	TokenBudget int `toml:"token_budget"`
	// SemanticLimit caps results from the semantic pass.
	SemanticLimit int `toml:"semantic_limit"`
	// SemanticThreshold is the minimum cosine similarity for a semantic hit.
	SemanticThreshold float64 `toml:"semantic_threshold"`
	// HintLimit caps results per extracted entity hint.
	HintLimit int `toml:"hint_limit"`
	// EmbeddingCacheSize bounds the LRU cache of query embeddings.
	EmbeddingCacheSize int `toml:"embedding_cache_size"`
}

// FollowupConfig controls follow-up timing. All offsets count business
// days as defined by Weekends and Holidays.
type FollowupConfig struct {
	// DueAfterDays is the default reply window (default 1 business day).
	DueAfterDays int `toml:"due_after_days"`
	// RemindAfterDays is when a pending follow-up gets a reminder draft
	// (default 2 business days past due).
	RemindAfterDays int `toml:"remind_after_days"`
	// EscalateAfterDays is when a reminded follow-up escalates
	// (default 7 business days past due).
	EscalateAfterDays int `toml:"escalate_after_days"`
	// Weekends lists non-business weekdays ("Saturday", "Sunday").
	Weekends []string `toml:"weekends"`
	// Holidays lists non-business dates as YYYY-MM-DD.
	Holidays []string `toml:"holidays"`
	// SweepInterval is how often the sweep runs (default 1h).
	SweepInterval time.Duration `toml:"sweep_interval"`
}

// NotifyConfig controls the filesystem event spool.
type NotifyConfig struct {
	// SpoolPath is the directory watched for draft approvals and written
	// with outbound notification events (default <data_path>/spool).
	SpoolPath string `toml:"spool_path"`
}

// UserConfig identifies the single user Sage works for.
type UserConfig struct {
	// Name is the user's display name, used in drafts and prompts.
	Name string `toml:"name"`
	// Email is the user's own address; outgoing mail from it starts
	// follow-up tracking, incoming mail to it can resolve follow-ups.
	Email string `toml:"email"`
	// EscalationEmail is the default escalation contact.
	EscalationEmail string `toml:"escalation_email"`
}

// LoadConfig loads configuration in layers: defaults, then the TOML file
// at SAGE_CONFIG_FILE (or ./sage.toml when present), then SAGE_* environment
// variables. A .env file in the working directory is read first so local
// development does not need exported variables.
func LoadConfig() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := defaultConfig()

	path := getEnv("SAGE_CONFIG_FILE", "sage.toml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No file; defaults plus env only.
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("config: postgres engine needs SAGE_POSTGRES_URL")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}

	switch c.LLM.Provider {
	case "ollama":
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("config: openai provider needs SAGE_OPENAI_API_KEY")
		}
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("config: anthropic provider needs SAGE_ANTHROPIC_API_KEY")
		}
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}

	if c.Followup.RemindAfterDays < 1 || c.Followup.EscalateAfterDays <= c.Followup.RemindAfterDays {
		return fmt.Errorf("config: follow-up timing must satisfy 0 < remind < escalate (got remind=%d escalate=%d)",
			c.Followup.RemindAfterDays, c.Followup.EscalateAfterDays)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		LLM: LLMConfig{
			Provider:             "ollama",
			OllamaURL:            "http://localhost:11434",
			OllamaModel:          "qwen2.5:7b",
			OllamaEmbeddingModel: "nomic-embed-text",
			OpenAIModel:          "gpt-4o-mini",
			AnthropicModel:       "claude-3-5-sonnet-20241022",
			MaxConcurrent:        4,
			RequestsPerSecond:    2,
			TimeoutSeconds:       60,
		},
		Search: SearchConfig{
			TokenBudget:        4000,
			SemanticLimit:      10,
			SemanticThreshold:  0.3,
			HintLimit:          5,
			EmbeddingCacheSize: 256,
		},
		Followup: FollowupConfig{
			DueAfterDays:      1,
			RemindAfterDays:   2,
			EscalateAfterDays: 7,
			Weekends:          []string{"Saturday", "Sunday"},
			SweepInterval:     time.Hour,
		},
		Notify: NotifyConfig{},
	}
}

// applyEnv overlays SAGE_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	cfg.Storage.Engine = getEnv("SAGE_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("SAGE_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresURL = getEnv("SAGE_POSTGRES_URL", cfg.Storage.PostgresURL)

	cfg.LLM.Provider = getEnv("SAGE_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.OllamaURL = getEnv("SAGE_OLLAMA_URL", cfg.LLM.OllamaURL)
	cfg.LLM.OllamaModel = getEnv("SAGE_OLLAMA_MODEL", cfg.LLM.OllamaModel)
	cfg.LLM.OllamaEmbeddingModel = getEnv("SAGE_EMBEDDING_MODEL", cfg.LLM.OllamaEmbeddingModel)
	cfg.LLM.OpenAIAPIKey = getEnv("SAGE_OPENAI_API_KEY", cfg.LLM.OpenAIAPIKey)
	cfg.LLM.OpenAIModel = getEnv("SAGE_OPENAI_MODEL", cfg.LLM.OpenAIModel)
	cfg.LLM.AnthropicAPIKey = getEnv("SAGE_ANTHROPIC_API_KEY", cfg.LLM.AnthropicAPIKey)
	cfg.LLM.AnthropicModel = getEnv("SAGE_ANTHROPIC_MODEL", cfg.LLM.AnthropicModel)
	cfg.LLM.MaxConcurrent = getEnvInt("SAGE_LLM_MAX_CONCURRENT", cfg.LLM.MaxConcurrent)
	cfg.LLM.RequestsPerSecond = getEnvFloat("SAGE_LLM_REQUESTS_PER_SECOND", cfg.LLM.RequestsPerSecond)
	cfg.LLM.TimeoutSeconds = getEnvInt("SAGE_LLM_TIMEOUT_SECONDS", cfg.LLM.TimeoutSeconds)

	cfg.Search.TokenBudget = getEnvInt("SAGE_TOKEN_BUDGET", cfg.Search.TokenBudget)
	cfg.Search.SemanticLimit = getEnvInt("SAGE_SEMANTIC_LIMIT", cfg.Search.SemanticLimit)
	cfg.Search.SemanticThreshold = getEnvFloat("SAGE_SEMANTIC_THRESHOLD", cfg.Search.SemanticThreshold)
	cfg.Search.HintLimit = getEnvInt("SAGE_HINT_LIMIT", cfg.Search.HintLimit)
	cfg.Search.EmbeddingCacheSize = getEnvInt("SAGE_EMBEDDING_CACHE_SIZE", cfg.Search.EmbeddingCacheSize)

	cfg.Followup.DueAfterDays = getEnvInt("SAGE_FOLLOWUP_DUE_DAYS", cfg.Followup.DueAfterDays)
	cfg.Followup.RemindAfterDays = getEnvInt("SAGE_FOLLOWUP_REMIND_DAYS", cfg.Followup.RemindAfterDays)
	cfg.Followup.EscalateAfterDays = getEnvInt("SAGE_FOLLOWUP_ESCALATE_DAYS", cfg.Followup.EscalateAfterDays)
	if v := os.Getenv("SAGE_FOLLOWUP_HOLIDAYS"); v != "" {
		cfg.Followup.Holidays = splitList(v)
	}
	if v := os.Getenv("SAGE_FOLLOWUP_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Followup.SweepInterval = d
		}
	}

	cfg.Notify.SpoolPath = getEnv("SAGE_SPOOL_PATH", cfg.Notify.SpoolPath)
	if cfg.Notify.SpoolPath == "" {
		cfg.Notify.SpoolPath = cfg.Storage.DataPath + "/spool"
	}

	cfg.User.Name = getEnv("SAGE_USER_NAME", cfg.User.Name)
	cfg.User.Email = getEnv("SAGE_USER_EMAIL", cfg.User.Email)
	cfg.User.EscalationEmail = getEnv("SAGE_ESCALATION_EMAIL", cfg.User.EscalationEmail)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
