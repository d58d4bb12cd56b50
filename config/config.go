// Package config loads and validates environment-driven settings shared by
// the HTTP API and the MCP server.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EmbeddingProvider selects the backend used to produce vectors.
type EmbeddingProvider string

const (
	// EmbeddingOllama targets a local Ollama runtime.
	EmbeddingOllama EmbeddingProvider = "ollama"
	// EmbeddingOpenAI targets the hosted OpenAI embeddings API.
	EmbeddingOpenAI EmbeddingProvider = "openai"
	// EmbeddingDeterministic produces content-derived vectors without a network hop.
	EmbeddingDeterministic EmbeddingProvider = "deterministic"
)

// SummarizationProvider selects the backend used for abstractive summaries.
type SummarizationProvider string

const (
	// SummarizationNone disables abstractive summarization; the extractive
	// fallback is always available.
	SummarizationNone SummarizationProvider = "none"
	// SummarizationOllama targets a local Ollama runtime.
	SummarizationOllama SummarizationProvider = "ollama"
)

// Config holds the full runtime configuration for the memory server.
type Config struct {
	QdrantURL            string `mapstructure:"qdrant_url"`
	QdrantCollectionName string `mapstructure:"qdrant_collection_name"`
	QdrantAPIKey         string `mapstructure:"qdrant_api_key"`

	EmbeddingProvider  EmbeddingProvider `mapstructure:"embedding_provider"`
	EmbeddingModel     string            `mapstructure:"embedding_model"`
	EmbeddingDimension int               `mapstructure:"embedding_dimension"`
	OllamaURL          string            `mapstructure:"ollama_url"`
	OpenAIAPIKey       string            `mapstructure:"openai_api_key"`

	// TextSplitterChunkSize overrides the automatic chunk-size selection when > 0.
	TextSplitterChunkSize       int  `mapstructure:"text_splitter_chunk_size"`
	TextSplitterChunkOverlap    int  `mapstructure:"text_splitter_chunk_overlap"`
	TextSplitterUseSafeDefaults bool `mapstructure:"text_splitter_use_safe_defaults"`

	// ServerPort pins the HTTP listener; 0 means scan the default range.
	ServerPort int `mapstructure:"server_port"`

	SearchDefaultLimit          int     `mapstructure:"search_default_limit"`
	SearchMaxLimit              int     `mapstructure:"search_max_limit"`
	SearchDefaultScoreThreshold float64 `mapstructure:"search_default_score_threshold"`

	SummarizationProvider SummarizationProvider `mapstructure:"summarization_provider"`
	SummarizationModel    string                `mapstructure:"summarization_model"`
	SummarizationMaxWords int                   `mapstructure:"summarization_max_words"`
}

// envKeys lists every recognized environment variable; each is bound to the
// matching lowercase viper key so AutomaticEnv picks it up without a prefix.
var envKeys = []string{
	"QDRANT_URL",
	"QDRANT_COLLECTION_NAME",
	"QDRANT_API_KEY",
	"EMBEDDING_PROVIDER",
	"EMBEDDING_MODEL",
	"EMBEDDING_DIMENSION",
	"OLLAMA_URL",
	"OPENAI_API_KEY",
	"TEXT_SPLITTER_CHUNK_SIZE",
	"TEXT_SPLITTER_CHUNK_OVERLAP",
	"TEXT_SPLITTER_USE_SAFE_DEFAULTS",
	"SERVER_PORT",
	"SEARCH_DEFAULT_LIMIT",
	"SEARCH_MAX_LIMIT",
	"SEARCH_DEFAULT_SCORE_THRESHOLD",
	"SUMMARIZATION_PROVIDER",
	"SUMMARIZATION_MODEL",
	"SUMMARIZATION_MAX_WORDS",
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	for _, key := range envKeys {
		lower := strings.ToLower(key)
		if err := v.BindEnv(lower, key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
		// A default makes the key visible to Unmarshal even when unset.
		v.SetDefault(lower, "")
	}

	v.SetDefault("search_default_limit", 5)
	v.SetDefault("search_max_limit", 50)
	v.SetDefault("search_default_score_threshold", 0.25)
	v.SetDefault("summarization_provider", string(SummarizationNone))
	v.SetDefault("summarization_max_words", 250)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.EmbeddingProvider = EmbeddingProvider(strings.ToLower(string(cfg.EmbeddingProvider)))
	cfg.SummarizationProvider = SummarizationProvider(strings.ToLower(string(cfg.SummarizationProvider)))
	if cfg.SummarizationProvider == "" {
		cfg.SummarizationProvider = SummarizationNone
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate flags invalid combinations early with descriptive errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.QdrantURL) == "" {
		return fmt.Errorf("missing environment variable: QDRANT_URL")
	}
	if strings.TrimSpace(c.QdrantCollectionName) == "" {
		return fmt.Errorf("missing environment variable: QDRANT_COLLECTION_NAME")
	}
	switch c.EmbeddingProvider {
	case EmbeddingOllama, EmbeddingOpenAI, EmbeddingDeterministic:
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of ollama|openai|deterministic (got %q)", c.EmbeddingProvider)
	}
	if strings.TrimSpace(c.EmbeddingModel) == "" {
		return fmt.Errorf("missing environment variable: EMBEDDING_MODEL")
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be a positive integer")
	}
	if c.SearchDefaultLimit < 1 {
		return fmt.Errorf("SEARCH_DEFAULT_LIMIT must be at least 1")
	}
	if c.SearchMaxLimit < 1 {
		return fmt.Errorf("SEARCH_MAX_LIMIT must be at least 1")
	}
	if c.SearchDefaultLimit > c.SearchMaxLimit {
		return fmt.Errorf("SEARCH_DEFAULT_LIMIT cannot exceed SEARCH_MAX_LIMIT")
	}
	if c.SearchDefaultScoreThreshold < 0 || c.SearchDefaultScoreThreshold > 1 {
		return fmt.Errorf("SEARCH_DEFAULT_SCORE_THRESHOLD must be between 0.0 and 1.0")
	}
	switch c.SummarizationProvider {
	case SummarizationNone, SummarizationOllama:
	default:
		return fmt.Errorf("SUMMARIZATION_PROVIDER must be one of ollama|none (got %q)", c.SummarizationProvider)
	}
	if c.SummarizationMaxWords <= 0 {
		return fmt.Errorf("SUMMARIZATION_MAX_WORDS must be a positive integer")
	}
	if c.TextSplitterChunkSize < 0 {
		return fmt.Errorf("TEXT_SPLITTER_CHUNK_SIZE must not be negative")
	}
	if c.TextSplitterChunkOverlap < 0 {
		return fmt.Errorf("TEXT_SPLITTER_CHUNK_OVERLAP must not be negative")
	}
	return nil
}
