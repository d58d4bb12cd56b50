package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const openaiEmbeddingsURL = "https://api.openai.com/v1/embeddings"

// OpenAIClient generates embeddings through the hosted OpenAI API.
type OpenAIClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	dimension  int
	endpoint   string
}

// NewOpenAIClient constructs a client for the hosted embeddings endpoint.
func NewOpenAIClient(apiKey, model string, dimension int) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
		model:      model,
		dimension:  dimension,
		endpoint:   openaiEmbeddingsURL,
	}
}

// GenerateEmbeddings issues a single batched request for all texts.
func (c *OpenAIClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requestBody := map[string]any{
		"model": c.model,
		"input": texts,
	}
	encoded, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Endpoint: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Provider: "openai",
			Endpoint: c.endpoint,
			Err:      fmt.Errorf("returned status %d", resp.StatusCode),
		}
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{Provider: "openai", Endpoint: c.endpoint, Err: fmt.Errorf("malformed response: %w", err)}
	}

	vectors := make([][]float32, len(parsed.Data))
	for i, item := range parsed.Data {
		vectors[i] = item.Embedding
	}
	if len(vectors) != len(texts) {
		return nil, &ProviderError{
			Provider: "openai",
			Endpoint: c.endpoint,
			Err:      fmt.Errorf("returned %d embeddings for %d inputs", len(vectors), len(texts)),
		}
	}
	if err := checkDimensions(vectors, c.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}
