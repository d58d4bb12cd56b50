package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaURL = "http://127.0.0.1:11434"

// OllamaClient generates embeddings through a local Ollama runtime.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	dimension  int
}

// NewOllamaClient constructs a client; an empty baseURL falls back to the
// standard local endpoint.
func NewOllamaClient(baseURL, model string, dimension int) *OllamaClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultOllamaURL
	}
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimension:  dimension,
	}
}

func (c *OllamaClient) endpoint() string {
	return c.baseURL + "/api/embed"
}

// GenerateEmbeddings issues a single batched request for all texts.
func (c *OllamaClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requestBody := map[string]any{
		"model": c.model,
		"input": texts,
	}
	encoded, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Endpoint: c.endpoint(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Provider: "ollama",
			Endpoint: c.endpoint(),
			Err:      fmt.Errorf("returned status %d", resp.StatusCode),
		}
	}

	var parsed struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{Provider: "ollama", Endpoint: c.endpoint(), Err: fmt.Errorf("malformed response: %w", err)}
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, &ProviderError{
			Provider: "ollama",
			Endpoint: c.endpoint(),
			Err:      fmt.Errorf("returned %d embeddings for %d inputs", len(parsed.Embeddings), len(texts)),
		}
	}
	if err := checkDimensions(parsed.Embeddings, c.dimension); err != nil {
		return nil, err
	}
	return parsed.Embeddings, nil
}
