package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CaliLuke/rusty-mcp/config"
	"github.com/CaliLuke/rusty-mcp/internal/embedding"
	"github.com/CaliLuke/rusty-mcp/internal/metrics"
	"github.com/CaliLuke/rusty-mcp/internal/processing"
	"github.com/CaliLuke/rusty-mcp/internal/qdrant"
)

func testConfig() *config.Config {
	return &config.Config{
		QdrantURL:                   "http://127.0.0.1:6333",
		QdrantCollectionName:        "memory",
		EmbeddingProvider:           config.EmbeddingDeterministic,
		EmbeddingModel:              "test-model",
		EmbeddingDimension:          4,
		SearchDefaultLimit:          5,
		SearchMaxLimit:              50,
		SearchDefaultScoreThreshold: 0.25,
		SummarizationProvider:       config.SummarizationNone,
		SummarizationMaxWords:       250,
	}
}

// qdrantStub answers the minimal wire surface the pipeline touches.
func qdrantStub(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"result": map[string]any{
					"collections": []any{map[string]any{"name": "memory"}},
				},
			})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/collections/"):
			if r.URL.Path != "/collections/memory" {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"result": map[string]any{
					"config": map[string]any{
						"params": map[string]any{
							"vectors": map[string]any{"size": 4},
						},
					},
				},
			})
		case strings.HasSuffix(r.URL.Path, "/points/scroll"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"result": map[string]any{"points": []any{}, "next_page_offset": nil},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": true})
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := testConfig()
	stub := qdrantStub(t)
	cfg.QdrantURL = stub.URL

	store, err := qdrant.NewClient(cfg.QdrantURL, "", nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	registry := metrics.NewRegistry(prometheus.NewRegistry())
	embedder := embedding.NewDeterministicClient(cfg.EmbeddingDimension)
	service := processing.NewService(cfg, store, embedder, nil, registry, nil)
	return New(service, nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestIndexEndpointHappyPath(t *testing.T) {
	server := newTestServer(t)
	rec, body := doJSON(t, server.Handler(), http.MethodPost, "/index", `{"text":"alpha beta gamma"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if body["chunks_indexed"].(float64) != 1 {
		t.Fatalf("expected one chunk, got %v", body["chunks_indexed"])
	}
	if body["inserted"].(float64) != 1 || body["updated"].(float64) != 0 {
		t.Fatalf("unexpected counters %v", body)
	}
	if body["chunk_size"].(float64) <= 0 {
		t.Fatal("chunk_size must be reported")
	}

	rec, body = doJSON(t, server.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if body["documents_indexed"].(float64) != 1 || body["chunks_indexed"].(float64) != 1 {
		t.Fatalf("unexpected metrics %v", body)
	}
	if _, present := body["last_chunk_size"]; !present {
		t.Fatal("last_chunk_size must be present after an ingest")
	}
}

func TestIndexEndpointRejectsEmptyText(t *testing.T) {
	server := newTestServer(t)
	rec, body := doJSON(t, server.Handler(), http.MethodPost, "/index", `{"text":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	envelope := body["error"].(map[string]any)
	if envelope["kind"] != "invalid_params" {
		t.Fatalf("expected invalid_params, got %v", envelope["kind"])
	}
}

func TestIndexEndpointRejectsUnknownMemoryType(t *testing.T) {
	server := newTestServer(t)
	rec, body := doJSON(t, server.Handler(), http.MethodPost, "/index", `{"text":"hello","memory_type":"mystery"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	envelope := body["error"].(map[string]any)
	if envelope["kind"] != "invalid_params" {
		t.Fatalf("expected invalid_params, got %v", envelope["kind"])
	}
}

func TestCollectionsEndpoints(t *testing.T) {
	server := newTestServer(t)

	rec, body := doJSON(t, server.Handler(), http.MethodGet, "/collections", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	collections := body["collections"].([]any)
	if len(collections) != 1 || collections[0] != "memory" {
		t.Fatalf("unexpected collections %v", collections)
	}

	rec, body = doJSON(t, server.Handler(), http.MethodPost, "/collections", `{"name":"fresh","vector_size":8}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	if body["status"] != "ok" || body["vector_size"].(float64) != 8 {
		t.Fatalf("unexpected create response %v", body)
	}

	rec, body = doJSON(t, server.Handler(), http.MethodPost, "/collections", `{"name":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d", rec.Code)
	}
}

func TestMetricsBeforeFirstIngest(t *testing.T) {
	server := newTestServer(t)
	rec, body := doJSON(t, server.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if body["documents_indexed"].(float64) != 0 {
		t.Fatalf("expected zero documents, got %v", body)
	}
	if _, present := body["last_chunk_size"]; present {
		t.Fatal("last_chunk_size must be omitted before the first ingest")
	}
}

func TestCommandsCatalog(t *testing.T) {
	server := newTestServer(t)
	rec, body := doJSON(t, server.Handler(), http.MethodGet, "/commands", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	commands := body["commands"].([]any)
	if len(commands) < 4 {
		t.Fatalf("expected at least four commands, got %d", len(commands))
	}
	first := commands[0].(map[string]any)
	if first["name"] != "index" || first["method"] != "POST" || first["path"] != "/index" {
		t.Fatalf("unexpected first command %v", first)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	server := newTestServer(t)
	rec, _ := doJSON(t, server.Handler(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response %d %q", rec.Code, rec.Body.String())
	}
}
