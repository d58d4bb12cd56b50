// Package summarization holds the abstractive summary client. When no
// provider is configured the processing layer falls back to deterministic
// extractive summaries, so the factory may return nil.
package summarization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CaliLuke/rusty-mcp/config"
)

const defaultOllamaURL = "http://127.0.0.1:11434"

// Request is the payload passed to the summarization provider.
type Request struct {
	Model    string
	Prompt   string
	MaxWords int
}

// Client is the capability interface for abstractive summary providers.
type Client interface {
	// GenerateSummary produces a concise summary using the configured model.
	GenerateSummary(ctx context.Context, request Request) (string, error)
}

// ProviderError reports an unreachable or failing provider; the endpoint is
// preserved for remediation hints.
type ProviderError struct {
	Provider string
	Endpoint string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("summarization provider %s unavailable at %s: %v", e.Provider, e.Endpoint, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewClient builds a summarization client from configuration; nil means no
// abstractive provider is configured.
func NewClient(cfg *config.Config) Client {
	switch cfg.SummarizationProvider {
	case config.SummarizationOllama:
		baseURL := cfg.OllamaURL
		if strings.TrimSpace(baseURL) == "" {
			baseURL = defaultOllamaURL
		}
		return NewOllamaClient(baseURL)
	default:
		return nil
	}
}

// OllamaClient issues generate requests against a local Ollama runtime.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewOllamaClient constructs a client for the given base URL.
func NewOllamaClient(baseURL string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *OllamaClient) endpoint() string {
	return c.baseURL + "/api/generate"
}

// GenerateSummary sends the assembled prompt and returns the response text.
func (c *OllamaClient) GenerateSummary(ctx context.Context, request Request) (string, error) {
	payload := map[string]any{
		"model":  request.Model,
		"prompt": request.Prompt,
		"stream": false,
		"options": map[string]any{
			// Low temperature keeps summaries stable between replays.
			"temperature": 0.1,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Provider: "ollama", Endpoint: c.endpoint(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", &ProviderError{
			Provider: "ollama",
			Endpoint: c.endpoint(),
			Err:      fmt.Errorf("returned 404"),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{
			Provider: "ollama",
			Endpoint: c.endpoint(),
			Err:      fmt.Errorf("returned status %d", resp.StatusCode),
		}
	}

	var parsed struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &ProviderError{Provider: "ollama", Endpoint: c.endpoint(), Err: fmt.Errorf("malformed response: %w", err)}
	}
	if !parsed.Done {
		return "", &ProviderError{
			Provider: "ollama",
			Endpoint: c.endpoint(),
			Err:      fmt.Errorf("incomplete response (streaming not supported)"),
		}
	}

	return strings.TrimSpace(parsed.Response), nil
}
