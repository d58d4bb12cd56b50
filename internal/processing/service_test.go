package processing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CaliLuke/rusty-mcp/config"
	"github.com/CaliLuke/rusty-mcp/internal/embedding"
	"github.com/CaliLuke/rusty-mcp/internal/metrics"
	"github.com/CaliLuke/rusty-mcp/internal/qdrant"
)

// memStore is an in-memory Store with the same upsert classification and
// filter semantics as the wire client.
type memStore struct {
	collections map[string]int
	points      map[string][]storedPoint
	idCounter   int
	listErr     error
}

type storedPoint struct {
	id      string
	vector  []float32
	payload map[string]any
}

func newMemStore() *memStore {
	return &memStore{
		collections: make(map[string]int),
		points:      make(map[string][]storedPoint),
	}
}

func (m *memStore) nextID() string {
	m.idCounter++
	return fmt.Sprintf("mem-%04d", m.idCounter)
}

func (m *memStore) seed(collection string, vector []float32, payload map[string]any) string {
	id := m.nextID()
	payload["memory_id"] = id
	m.points[collection] = append(m.points[collection], storedPoint{id: id, vector: vector, payload: payload})
	return id
}

func (m *memStore) EnsureCollection(_ context.Context, name string, vectorSize int) error {
	if existing, ok := m.collections[name]; ok {
		if existing != vectorSize {
			return &qdrant.DimensionMismatchError{Collection: name, Expected: vectorSize, Actual: existing}
		}
		return nil
	}
	m.collections[name] = vectorSize
	return nil
}

func (m *memStore) CreateCollection(_ context.Context, name string, vectorSize int) error {
	m.collections[name] = vectorSize
	return nil
}

func (m *memStore) EnsurePayloadIndexes(context.Context, string) error { return nil }

func (m *memStore) ListCollections(context.Context) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var names []string
	for name := range m.collections {
		names = append(names, name)
	}
	return names, nil
}

func (m *memStore) UpsertPoints(_ context.Context, collection string, points []qdrant.PointInsert, overrides qdrant.PayloadOverrides) (qdrant.IndexSummary, error) {
	var summary qdrant.IndexSummary
	now := qdrant.NowRFC3339()
	for _, insert := range points {
		replaced := false
		for i, existing := range m.points[collection] {
			if existing.payload["chunk_hash"] == insert.ChunkHash {
				payload := qdrant.BuildPayload(existing.id, insert.Text, now, insert.ChunkHash, overrides)
				m.points[collection][i] = storedPoint{id: existing.id, vector: insert.Vector, payload: payload}
				summary.Updated++
				replaced = true
				break
			}
		}
		if replaced {
			continue
		}
		id := m.nextID()
		payload := qdrant.BuildPayload(id, insert.Text, now, insert.ChunkHash, overrides)
		m.points[collection] = append(m.points[collection], storedPoint{id: id, vector: insert.Vector, payload: payload})
		summary.Inserted++
	}
	return summary, nil
}

func (m *memStore) Query(_ context.Context, collection string, vector []float32, filter map[string]any, limit int, scoreThreshold float64) ([]qdrant.ScoredPoint, error) {
	var hits []qdrant.ScoredPoint
	for _, point := range m.points[collection] {
		if !matchesFilter(filter, point.payload) {
			continue
		}
		score := dot(vector, point.vector)
		if score < scoreThreshold {
			continue
		}
		hits = append(hits, qdrant.ScoredPoint{ID: point.id, Score: score, Payload: clone(point.payload)})
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *memStore) ScrollPayloads(_ context.Context, collection string, fields []string, filter map[string]any) ([]qdrant.ScrollPoint, error) {
	var results []qdrant.ScrollPoint
	for _, point := range m.points[collection] {
		if !matchesFilter(filter, point.payload) {
			continue
		}
		payload := make(map[string]any, len(fields))
		for _, field := range fields {
			if value, ok := point.payload[field]; ok {
				payload[field] = value
			}
		}
		results = append(results, qdrant.ScrollPoint{ID: point.id, Payload: payload})
	}
	return results, nil
}

func (m *memStore) ListProjects(_ context.Context, collection string) ([]string, error) {
	seen := map[string]struct{}{}
	var projects []string
	for _, point := range m.points[collection] {
		if project, ok := point.payload["project_id"].(string); ok {
			if _, dup := seen[project]; !dup {
				seen[project] = struct{}{}
				projects = append(projects, project)
			}
		}
	}
	return projects, nil
}

func (m *memStore) ListTags(_ context.Context, collection, projectID string) ([]string, error) {
	seen := map[string]struct{}{}
	var tags []string
	for _, point := range m.points[collection] {
		if projectID != "" && point.payload["project_id"] != projectID {
			continue
		}
		if list, ok := point.payload["tags"].([]string); ok {
			for _, tag := range list {
				if _, dup := seen[tag]; !dup {
					seen[tag] = struct{}{}
					tags = append(tags, tag)
				}
			}
		}
	}
	return tags, nil
}

func (m *memStore) BaseURL() string { return "http://127.0.0.1:6333" }

func matchesFilter(filter, payload map[string]any) bool {
	if filter == nil {
		return true
	}
	must, _ := filter["must"].([]any)
	for _, raw := range must {
		condition, _ := raw.(map[string]any)
		key, _ := condition["key"].(string)
		if match, ok := condition["match"].(map[string]any); ok {
			if value, ok := match["value"]; ok {
				if payload[key] != value {
					return false
				}
				continue
			}
			if anyOf, ok := match["any"].([]string); ok {
				if !containsAny(payload[key], anyOf) {
					return false
				}
				continue
			}
		}
		if bounds, ok := condition["range"].(map[string]any); ok {
			value, _ := payload[key].(string)
			if gte, ok := bounds["gte"].(string); ok && value < gte {
				return false
			}
			if lte, ok := bounds["lte"].(string); ok && value > lte {
				return false
			}
		}
	}
	return true
}

func containsAny(value any, wanted []string) bool {
	var have []string
	switch typed := value.(type) {
	case []string:
		have = typed
	case []any:
		for _, item := range typed {
			if tag, ok := item.(string); ok {
				have = append(have, tag)
			}
		}
	case string:
		have = []string{typed}
	}
	for _, candidate := range wanted {
		for _, tag := range have {
			if tag == candidate {
				return true
			}
		}
	}
	return false
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		if i >= len(b) {
			break
		}
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func clone(payload map[string]any) map[string]any {
	copied := make(map[string]any, len(payload))
	for key, value := range payload {
		copied[key] = value
	}
	return copied
}

// failingEmbedder simulates a provider outage.
type failingEmbedder struct{}

func (failingEmbedder) GenerateEmbeddings(context.Context, []string) ([][]float32, error) {
	return nil, &embedding.ProviderError{
		Provider: "ollama",
		Endpoint: "http://127.0.0.1:11434/api/embed",
		Err:      errors.New("connection refused"),
	}
}

// shortEmbedder returns vectors one element short of the dimension.
type shortEmbedder struct{ dimension int }

func (e shortEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, e.dimension-1)
	}
	return vectors, nil
}

func newTestService(t *testing.T, cfg *config.Config, store Store) *Service {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	registry := metrics.NewRegistry(prometheus.NewRegistry())
	embedder := embedding.NewDeterministicClient(cfg.EmbeddingDimension)
	return NewService(cfg, store, embedder, nil, registry, nil)
}

func TestProcessAndIndexHappyPath(t *testing.T) {
	store := newMemStore()
	service := newTestService(t, nil, store)

	outcome, err := service.ProcessAndIndex(context.Background(), "", "alpha beta gamma", IngestMetadata{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome.ChunksIndexed != 1 || outcome.Inserted != 1 || outcome.Updated != 0 || outcome.SkippedDuplicates != 0 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.ChunkSize <= 0 {
		t.Fatal("chunk size must be reported")
	}

	snapshot := service.MetricsSnapshot()
	if snapshot.DocumentsIndexed != 1 || snapshot.ChunksIndexed != 1 {
		t.Fatalf("unexpected metrics %+v", snapshot)
	}
	if snapshot.LastChunkSize == nil || *snapshot.LastChunkSize != uint64(outcome.ChunkSize) {
		t.Fatalf("last chunk size not recorded: %+v", snapshot)
	}

	stored := store.points["memory"]
	if len(stored) != 1 {
		t.Fatalf("expected one stored point, got %d", len(stored))
	}
	if len(stored[0].vector) != 4 {
		t.Fatalf("vector dimension mismatch: %d", len(stored[0].vector))
	}
	if stored[0].payload["project_id"] != "default" || stored[0].payload["memory_type"] != "semantic" {
		t.Fatalf("defaults not applied: %v", stored[0].payload)
	}
}

func TestProcessAndIndexRejectsEmptyText(t *testing.T) {
	service := newTestService(t, nil, newMemStore())
	_, err := service.ProcessAndIndex(context.Background(), "", "   ", IngestMetadata{})
	expectInvalidParams(t, err)
}

func TestProcessAndIndexIntraRequestDedupe(t *testing.T) {
	cfg := testConfig()
	cfg.TextSplitterChunkSize = 1
	store := newMemStore()
	service := newTestService(t, cfg, store)

	outcome, err := service.ProcessAndIndex(context.Background(), "", "x x x x x", IngestMetadata{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome.Inserted != 1 || outcome.SkippedDuplicates != 4 || outcome.ChunksIndexed != 1 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestProcessAndIndexReplayIsIdempotent(t *testing.T) {
	store := newMemStore()
	service := newTestService(t, nil, store)
	ctx := context.Background()

	first, err := service.ProcessAndIndex(ctx, "", "alpha beta gamma", IngestMetadata{})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := service.ProcessAndIndex(ctx, "", "alpha beta gamma", IngestMetadata{})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if first.Inserted != 1 || second.Inserted != 0 || second.Updated != 1 {
		t.Fatalf("replay must update, not insert: first=%+v second=%+v", first, second)
	}
	if len(store.points["memory"]) != 1 {
		t.Fatalf("expected single stored point, got %d", len(store.points["memory"]))
	}

	snapshot := service.MetricsSnapshot()
	if snapshot.DocumentsIndexed != 2 || snapshot.ChunksIndexed != 2 {
		t.Fatalf("document counter must bump on replay: %+v", snapshot)
	}
}

func TestProcessAndIndexProviderOutage(t *testing.T) {
	cfg := testConfig()
	store := newMemStore()
	registry := metrics.NewRegistry(prometheus.NewRegistry())
	service := NewService(cfg, store, failingEmbedder{}, nil, registry, nil)

	_, err := service.ProcessAndIndex(context.Background(), "", "hello", IngestMetadata{})
	var taxonomyErr *Error
	if !errors.As(err, &taxonomyErr) {
		t.Fatalf("expected taxonomy error, got %v", err)
	}
	if taxonomyErr.Kind != KindProviderUnavailable {
		t.Fatalf("expected provider_unavailable, got %s", taxonomyErr.Kind)
	}
	if !strings.Contains(taxonomyErr.Hint, "11434") {
		t.Fatalf("hint must carry the endpoint: %q", taxonomyErr.Hint)
	}
	if snapshot := service.MetricsSnapshot(); snapshot.DocumentsIndexed != 0 {
		t.Fatalf("metrics must stay unchanged on failure: %+v", snapshot)
	}
}

func TestSearchMemoriesFiltersByProject(t *testing.T) {
	store := newMemStore()
	service := newTestService(t, nil, store)
	ctx := context.Background()

	if _, err := service.ProcessAndIndex(ctx, "", "kettle", IngestMetadata{ProjectID: "A", Tags: []string{"t1"}}); err != nil {
		t.Fatalf("ingest A: %v", err)
	}
	if _, err := service.ProcessAndIndex(ctx, "", "kettle on the stove", IngestMetadata{ProjectID: "B", Tags: []string{"t1"}}); err != nil {
		t.Fatalf("ingest B: %v", err)
	}

	request, err := ValidateSearch(SearchInput{
		QueryText:      "kettle",
		ProjectID:      "A",
		ScoreThreshold: floatPtr(0),
	}, service.Config())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	hits, err := service.SearchMemories(ctx, request)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one hit, got %d", len(hits))
	}
	if hits[0].ProjectID != "A" {
		t.Fatalf("expected project A, got %q", hits[0].ProjectID)
	}
	promptContext := BuildContext(hits)
	if !strings.Contains(promptContext, "["+hits[0].ID+"]") {
		t.Fatalf("context must cite the hit id: %q", promptContext)
	}
}

func TestSearchMemoriesTimeRangeFilter(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	service := newTestService(t, cfg, store)
	embedder := embedding.NewDeterministicClient(cfg.EmbeddingDimension)

	for _, entry := range []struct {
		text      string
		timestamp string
	}{
		{"first entry", "2025-01-01T00:00:00Z"},
		{"middle entry", "2025-01-05T00:00:00Z"},
		{"last entry", "2025-01-10T00:00:00Z"},
	} {
		vectors, _ := embedder.GenerateEmbeddings(context.Background(), []string{entry.text})
		store.seed("memory", vectors[0], map[string]any{
			"project_id":  "default",
			"memory_type": "episodic",
			"timestamp":   entry.timestamp,
			"chunk_hash":  ContentHash(entry.text),
			"text":        entry.text,
		})
	}
	store.collections["memory"] = cfg.EmbeddingDimension

	request, err := ValidateSearch(SearchInput{
		QueryText: "entry",
		TimeRange: &TimeRange{
			Start: "2025-01-02T00:00:00Z",
			End:   "2025-01-08T00:00:00Z",
		},
		TimeRangeGiven: true,
		ScoreThreshold: floatPtr(0),
	}, cfg)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	hits, err := service.SearchMemories(context.Background(), request)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected exactly the middle memory, got %d hits", len(hits))
	}
	if hits[0].Text != "middle entry" {
		t.Fatalf("unexpected hit %+v", hits[0])
	}
}

func TestSearchMemoriesDimensionMismatch(t *testing.T) {
	cfg := testConfig()
	store := newMemStore()
	registry := metrics.NewRegistry(prometheus.NewRegistry())
	service := NewService(cfg, store, shortEmbedder{dimension: cfg.EmbeddingDimension}, nil, registry, nil)

	request, err := ValidateSearch(SearchInput{QueryText: "demo"}, cfg)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	_, err = service.SearchMemories(context.Background(), request)
	var taxonomyErr *Error
	if !errors.As(err, &taxonomyErr) {
		t.Fatalf("expected taxonomy error, got %v", err)
	}
	if taxonomyErr.Kind != KindDimensionMismatch {
		t.Fatalf("expected dimension_mismatch, got %s", taxonomyErr.Kind)
	}
}

func TestSummarizeMemoriesIdempotent(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	service := newTestService(t, cfg, store)
	ctx := context.Background()
	embedder := embedding.NewDeterministicClient(cfg.EmbeddingDimension)

	for i, text := range []string{"Fixed the login bug.", "Shipped the search endpoint.", "Wrote release notes."} {
		vectors, _ := embedder.GenerateEmbeddings(ctx, []string{text})
		store.seed("memory", vectors[0], map[string]any{
			"project_id":  "default",
			"memory_type": "episodic",
			"timestamp":   fmt.Sprintf("2025-01-0%dT00:00:00Z", i+1),
			"chunk_hash":  ContentHash(text),
			"text":        text,
		})
	}
	store.collections["memory"] = cfg.EmbeddingDimension

	input := SummarizeInput{
		TimeRange: &TimeRange{
			Start: "2025-01-01T00:00:00Z",
			End:   "2025-01-07T00:00:00Z",
		},
	}
	request, err := ValidateSummarize(input, cfg)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	first, err := service.SummarizeMemories(ctx, request)
	if err != nil {
		t.Fatalf("first summarize: %v", err)
	}
	if first.Summary == "" || first.UpsertedMemoryID == "" {
		t.Fatalf("incomplete outcome %+v", first)
	}
	if len(first.SourceMemoryIDs) != 3 {
		t.Fatalf("expected three sources, got %v", first.SourceMemoryIDs)
	}
	if first.Strategy != StrategyExtractive {
		t.Fatalf("expected extractive with no provider, got %s", first.Strategy)
	}

	second, err := service.SummarizeMemories(ctx, request)
	if err != nil {
		t.Fatalf("second summarize: %v", err)
	}
	if second.UpsertedMemoryID != first.UpsertedMemoryID {
		t.Fatalf("replay must return the same memory id: %q vs %q", first.UpsertedMemoryID, second.UpsertedMemoryID)
	}
	if second.Summary != first.Summary {
		t.Fatal("replay must return the same summary")
	}

	// Exactly one summary point exists.
	summaries, err := service.SearchMemories(ctx, SearchRequest{
		QueryText:      first.Summary,
		MemoryType:     "semantic",
		Tags:           []string{"summary"},
		Limit:          10,
		ScoreThreshold: 0,
		Collection:     "memory",
	})
	if err != nil {
		t.Fatalf("search summaries: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one stored summary, got %d", len(summaries))
	}
}

func TestSummarizeMemoriesEmptyWindow(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	store.collections["memory"] = cfg.EmbeddingDimension
	service := newTestService(t, cfg, store)

	request, err := ValidateSummarize(SummarizeInput{
		TimeRange: &TimeRange{
			Start: "2025-01-01T00:00:00Z",
			End:   "2025-01-02T00:00:00Z",
		},
	}, cfg)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	_, err = service.SummarizeMemories(context.Background(), request)
	var taxonomyErr *Error
	if !errors.As(err, &taxonomyErr) {
		t.Fatalf("expected taxonomy error, got %v", err)
	}
	if taxonomyErr.Kind != KindInvalidParams || !strings.Contains(taxonomyErr.Hint, "no memories in window") {
		t.Fatalf("unexpected error %+v", taxonomyErr)
	}
}

func TestSummarizeMemoriesStrictAbstractiveFailure(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	service := newTestService(t, cfg, store)
	ctx := context.Background()
	embedder := embedding.NewDeterministicClient(cfg.EmbeddingDimension)

	vectors, _ := embedder.GenerateEmbeddings(ctx, []string{"Something happened."})
	store.seed("memory", vectors[0], map[string]any{
		"project_id":  "default",
		"memory_type": "episodic",
		"timestamp":   "2025-01-01T00:00:00Z",
		"chunk_hash":  ContentHash("Something happened."),
		"text":        "Something happened.",
	})
	store.collections["memory"] = cfg.EmbeddingDimension

	request, err := ValidateSummarize(SummarizeInput{
		Strategy: "abstractive",
		TimeRange: &TimeRange{
			Start: "2025-01-01T00:00:00Z",
			End:   "2025-01-02T00:00:00Z",
		},
	}, cfg)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	_, err = service.SummarizeMemories(ctx, request)
	var taxonomyErr *Error
	if !errors.As(err, &taxonomyErr) {
		t.Fatalf("expected taxonomy error, got %v", err)
	}
	if taxonomyErr.Kind != KindProviderUnavailable {
		t.Fatalf("expected provider_unavailable, got %s", taxonomyErr.Kind)
	}
}

func TestCreateCollectionRejectsEmptyName(t *testing.T) {
	service := newTestService(t, nil, newMemStore())
	_, err := service.CreateCollection(context.Background(), "  ", 0)
	expectInvalidParams(t, err)
}

func TestCreateCollectionDefaultsToConfiguredDimension(t *testing.T) {
	store := newMemStore()
	service := newTestService(t, nil, store)
	size, err := service.CreateCollection(context.Background(), "fresh", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if size != 4 || store.collections["fresh"] != 4 {
		t.Fatalf("unexpected size %d", size)
	}
}

func TestHealthReportsReachability(t *testing.T) {
	store := newMemStore()
	store.collections["memory"] = 4
	service := newTestService(t, nil, store)

	health := service.Health(context.Background())
	if !health.Reachable || !health.DefaultCollectionPresent {
		t.Fatalf("unexpected health %+v", health)
	}

	store.listErr = &qdrant.StatusError{Status: 502, Body: "bad gateway"}
	health = service.Health(context.Background())
	if health.Reachable || health.Error == "" {
		t.Fatalf("expected unreachable health, got %+v", health)
	}
}
