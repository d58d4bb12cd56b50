// Package embedding produces fixed-dimension vectors for chunks and queries.
// Two live providers (Ollama, OpenAI) and a deterministic fallback share the
// Client interface; every variant checks vector dimensions before returning.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/CaliLuke/rusty-mcp/config"
)

// Client is the capability interface implemented by embedding backends.
type Client interface {
	// GenerateEmbeddings produces one vector per supplied text, each of the
	// configured dimension.
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// ProviderError reports a transport failure against a live provider. The
// endpoint is kept so surfaces can include it in remediation hints.
type ProviderError struct {
	Provider string
	Endpoint string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s unreachable at %s: %v", e.Provider, e.Endpoint, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DimensionError reports a vector whose length differs from the collection
// dimension.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// NewClient selects a client variant from configuration.
func NewClient(cfg *config.Config) (Client, error) {
	switch cfg.EmbeddingProvider {
	case config.EmbeddingOllama:
		return NewOllamaClient(cfg.OllamaURL, cfg.EmbeddingModel, cfg.EmbeddingDimension), nil
	case config.EmbeddingOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimension), nil
	case config.EmbeddingDeterministic:
		return NewDeterministicClient(cfg.EmbeddingDimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.EmbeddingProvider)
	}
}

// DeterministicClient derives unit-norm vectors from input bytes. Identical
// input yields identical output across runs and processes; used for tests and
// when the configured provider is `deterministic`.
type DeterministicClient struct {
	dimension int
}

// NewDeterministicClient returns a deterministic client for the dimension.
func NewDeterministicClient(dimension int) *DeterministicClient {
	return &DeterministicClient{dimension: dimension}
}

// GenerateEmbeddings encodes each text without any network hop.
func (c *DeterministicClient) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	if c.dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be greater than zero")
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = encode(text, c.dimension)
	}
	return vectors, nil
}

// encode folds content bytes into vector slots and normalizes to unit length.
func encode(text string, dimension int) []float32 {
	vector := make([]float32, dimension)
	if text == "" {
		return vector
	}

	for idx := 0; idx < len(text); idx++ {
		position := idx % dimension
		vector[position] += float32(text[idx]) / 255.0
	}

	var norm float64
	for _, value := range vector {
		norm += float64(value) * float64(value)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / norm)
		}
	}
	return vector
}

// checkDimensions validates that every vector has exactly the expected length.
func checkDimensions(vectors [][]float32, expected int) error {
	for _, vector := range vectors {
		if len(vector) != expected {
			return &DimensionError{Expected: expected, Actual: len(vector)}
		}
	}
	return nil
}
