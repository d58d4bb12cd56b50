package config

import (
	"strings"
	"testing"
)

func baseConfig() Config {
	return Config{
		QdrantURL:                   "http://127.0.0.1:6333",
		QdrantCollectionName:        "memory",
		EmbeddingProvider:           EmbeddingDeterministic,
		EmbeddingModel:              "test-model",
		EmbeddingDimension:          768,
		SearchDefaultLimit:          5,
		SearchMaxLimit:              50,
		SearchDefaultScoreThreshold: 0.25,
		SummarizationProvider:       SummarizationNone,
		SummarizationMaxWords:       250,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := baseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRequiresQdrantURL(t *testing.T) {
	cfg := baseConfig()
	cfg.QdrantURL = "  "
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "QDRANT_URL") {
		t.Fatalf("expected QDRANT_URL error, got %v", err)
	}
}

func TestValidateRejectsUnknownEmbeddingProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.EmbeddingProvider = "mystery"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "EMBEDDING_PROVIDER") {
		t.Fatalf("expected EMBEDDING_PROVIDER error, got %v", err)
	}
}

func TestValidateRejectsDefaultLimitAboveMax(t *testing.T) {
	cfg := baseConfig()
	cfg.SearchDefaultLimit = 60
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SEARCH_DEFAULT_LIMIT") {
		t.Fatalf("expected limit error, got %v", err)
	}
}

func TestValidateRejectsThresholdOutOfRange(t *testing.T) {
	cfg := baseConfig()
	cfg.SearchDefaultScoreThreshold = 1.5
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SEARCH_DEFAULT_SCORE_THRESHOLD") {
		t.Fatalf("expected threshold error, got %v", err)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://127.0.0.1:6333")
	t.Setenv("QDRANT_COLLECTION_NAME", "memory")
	t.Setenv("EMBEDDING_PROVIDER", "deterministic")
	t.Setenv("EMBEDDING_MODEL", "test-model")
	t.Setenv("EMBEDDING_DIMENSION", "128")
	t.Setenv("SEARCH_MAX_LIMIT", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EmbeddingDimension != 128 {
		t.Fatalf("expected dimension 128, got %d", cfg.EmbeddingDimension)
	}
	if cfg.SearchMaxLimit != 25 {
		t.Fatalf("expected max limit 25, got %d", cfg.SearchMaxLimit)
	}
	if cfg.SearchDefaultLimit != 5 {
		t.Fatalf("expected default limit 5, got %d", cfg.SearchDefaultLimit)
	}
	if cfg.SummarizationProvider != SummarizationNone {
		t.Fatalf("expected summarization disabled, got %q", cfg.SummarizationProvider)
	}
}
