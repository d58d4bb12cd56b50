package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/CaliLuke/rusty-mcp/config"
	"github.com/CaliLuke/rusty-mcp/internal/embedding"
	"github.com/CaliLuke/rusty-mcp/internal/metrics"
	"github.com/CaliLuke/rusty-mcp/internal/qdrant"
	"github.com/CaliLuke/rusty-mcp/internal/summarization"
)

// Service coordinates the full pipeline: sanitation, chunking, embedding, and
// vector-store writes. Construct it once near process start and share it
// across surfaces.
type Service struct {
	cfg        *config.Config
	store      Store
	embedder   embedding.Client
	summarizer summarization.Client
	metrics    *metrics.Registry
	logger     *log.Logger
}

// NewService wires the pipeline dependencies. summarizer may be nil when no
// abstractive provider is configured.
func NewService(cfg *config.Config, store Store, embedder embedding.Client, summarizer summarization.Client, registry *metrics.Registry, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		cfg:        cfg,
		store:      store,
		embedder:   embedder,
		summarizer: summarizer,
		metrics:    registry,
		logger:     logger,
	}
}

// Config exposes the effective configuration to surface adapters.
func (s *Service) Config() *config.Config { return s.cfg }

// Bootstrap ensures the default collection and its payload indexes exist.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.ensureCollection(ctx, s.cfg.QdrantCollectionName)
}

// ProcessAndIndex chunks, embeds, and upserts a document.
func (s *Service) ProcessAndIndex(ctx context.Context, collection, text string, metadata IngestMetadata) (IngestOutcome, error) {
	if strings.TrimSpace(text) == "" {
		return IngestOutcome{}, ErrInvalidParams("`text` must not be empty")
	}
	if collection == "" {
		collection = s.cfg.QdrantCollectionName
	}

	overrides, err := toPayloadOverrides(metadata)
	if err != nil {
		return IngestOutcome{}, err
	}

	if err := s.ensureCollection(ctx, collection); err != nil {
		return IngestOutcome{}, err
	}

	chunkSize := DetermineChunkSize(
		s.cfg.TextSplitterChunkSize,
		s.cfg.EmbeddingProvider,
		s.cfg.EmbeddingModel,
		s.cfg.TextSplitterUseSafeDefaults,
	)
	counter := BuildTokenCounter(s.cfg.EmbeddingProvider, s.cfg.EmbeddingModel)
	chunks := ChunkText(text, chunkSize, s.cfg.TextSplitterChunkOverlap, counter)

	prepared, skipped := DedupeChunks(chunks)

	var vectors [][]float32
	if len(prepared) > 0 {
		texts := make([]string, len(prepared))
		for i, chunk := range prepared {
			texts[i] = chunk.Text
		}
		vectors, err = s.embedder.GenerateEmbeddings(ctx, texts)
		if err != nil {
			return IngestOutcome{}, mapEmbeddingError(err)
		}
		if len(vectors) != len(prepared) {
			return IngestOutcome{}, ErrInternal("embedding_count_mismatch",
				fmt.Sprintf("embedding provider returned %d vectors for %d chunks", len(vectors), len(prepared)))
		}
	}

	points := make([]qdrant.PointInsert, len(prepared))
	for i, chunk := range prepared {
		points[i] = qdrant.PointInsert{
			Text:      chunk.Text,
			ChunkHash: chunk.ChunkHash,
			Vector:    vectors[i],
		}
	}

	summary, err := s.store.UpsertPoints(ctx, collection, points, overrides)
	if err != nil {
		return IngestOutcome{}, mapStoreError(err)
	}

	chunkCount := summary.Inserted + summary.Updated
	s.metrics.RecordDocument(uint64(chunkCount), uint64(chunkSize))
	s.logger.Printf("indexed document into %s: chunks=%d chunk_size=%d inserted=%d updated=%d skipped=%d",
		collection, chunkCount, chunkSize, summary.Inserted, summary.Updated, skipped)

	return IngestOutcome{
		ChunksIndexed:     chunkCount,
		ChunkSize:         chunkSize,
		Inserted:          summary.Inserted,
		Updated:           summary.Updated,
		SkippedDuplicates: skipped,
	}, nil
}

// SearchMemories embeds the query and runs a filtered similarity search.
// The request must already be validated (see ValidateSearch).
func (s *Service) SearchMemories(ctx context.Context, request SearchRequest) ([]SearchHit, error) {
	vectors, err := s.embedder.GenerateEmbeddings(ctx, []string{request.QueryText})
	if err != nil {
		return nil, mapEmbeddingError(err)
	}
	if len(vectors) == 0 {
		return nil, ErrInternal("empty_embedding", "embedding provider returned no vectors for the query")
	}
	vector := vectors[0]
	if len(vector) != s.cfg.EmbeddingDimension {
		return nil, ErrDimensionMismatch(s.cfg.EmbeddingDimension, len(vector))
	}

	filter := qdrant.BuildFilter(filterArgsFrom(request.ProjectID, request.MemoryType, request.Tags, request.TimeRange))
	points, err := s.store.Query(ctx, request.Collection, vector, filter, request.Limit, request.ScoreThreshold)
	if err != nil {
		return nil, mapStoreError(err)
	}

	hits := make([]SearchHit, 0, len(points))
	for _, point := range points {
		hits = append(hits, MapScoredPoint(point))
	}
	return hits, nil
}

// SummarizeMemories consolidates memories within a time window into a
// semantic summary with provenance, idempotent per summary key.
func (s *Service) SummarizeMemories(ctx context.Context, request SummarizeRequest) (SummarizeOutcome, error) {
	memoryType := request.MemoryType
	if memoryType == "" {
		memoryType = "episodic"
	}

	candidateFilter := qdrant.BuildFilter(filterArgsFrom(request.ProjectID, memoryType, request.Tags, &request.TimeRange))
	points, err := s.store.ScrollPayloads(ctx, request.Collection, []string{"text", "timestamp"}, candidateFilter)
	if err != nil {
		return SummarizeOutcome{}, mapStoreError(err)
	}

	var items []EpisodicMemory
	for _, point := range points {
		text, _ := point.Payload["text"].(string)
		if strings.TrimSpace(text) == "" {
			continue
		}
		timestamp, _ := point.Payload["timestamp"].(string)
		items = append(items, NewEpisodicMemory(point.ID, text, timestamp))
	}
	SortMemories(items)
	if len(items) > request.Limit {
		items = items[:request.Limit]
	}
	if len(items) == 0 {
		return SummarizeOutcome{}, ErrInvalidParamsHint(
			"no memories found for the requested scope", "no memories in window")
	}

	sourceMemoryIDs := make([]string, len(items))
	for i, item := range items {
		sourceMemoryIDs[i] = item.MemoryID
	}

	projectID := SanitizeProjectID(request.ProjectID)
	summaryKey := SummaryKey(projectID, request.TimeRange.Start, request.TimeRange.End, sourceMemoryIDs)
	idempotencyTag := "summary:" + summaryKey

	existingID, existingText, err := s.probeSummary(ctx, request.Collection, request.ProjectID, idempotencyTag)
	if err != nil {
		return SummarizeOutcome{}, err
	}
	if existingID != "" {
		if existingText == "" {
			return SummarizeOutcome{}, &Error{
				Kind:    KindConflict,
				Message: "pre-existing summary is missing its text",
				Hint:    "inspect the stored summary point " + existingID,
			}
		}
		return SummarizeOutcome{
			Summary:          existingText,
			SourceMemoryIDs:  sourceMemoryIDs,
			UpsertedMemoryID: existingID,
			Strategy:         request.Strategy,
			Provider:         request.Provider,
			Model:            request.Model,
		}, nil
	}

	summaryText, chosenStrategy, provider, model, err := s.produceSummary(ctx, request, projectID, items)
	if err != nil {
		return SummarizeOutcome{}, err
	}

	vectors, err := s.embedder.GenerateEmbeddings(ctx, []string{summaryText})
	if err != nil {
		return SummarizeOutcome{}, mapEmbeddingError(err)
	}
	if len(vectors) == 0 {
		return SummarizeOutcome{}, ErrInternal("empty_embedding", "embedding provider returned no vectors for the summary")
	}

	tags := append(append([]string(nil), request.Tags...), "summary", idempotencyTag)
	overrides := qdrant.PayloadOverrides{
		ProjectID:       projectID,
		MemoryType:      "semantic",
		Tags:            SanitizeTags(tags),
		SourceURI:       request.SourceURI,
		SourceMemoryIDs: sourceMemoryIDs,
		SummaryKey:      summaryKey,
	}

	if err := s.ensureCollection(ctx, request.Collection); err != nil {
		return SummarizeOutcome{}, err
	}
	if _, err := s.store.UpsertPoints(ctx, request.Collection, []qdrant.PointInsert{{
		Text:      summaryText,
		ChunkHash: ContentHash(summaryText),
		Vector:    vectors[0],
	}}, overrides); err != nil {
		return SummarizeOutcome{}, mapStoreError(err)
	}

	upsertedID, _, err := s.probeSummary(ctx, request.Collection, request.ProjectID, idempotencyTag)
	if err != nil {
		return SummarizeOutcome{}, err
	}
	if upsertedID == "" {
		return SummarizeOutcome{}, ErrInternal("summary_resolve_failed", "stored summary could not be resolved by its idempotency tag")
	}

	s.logger.Printf("summarized %d memories for %s into %s (strategy=%s)", len(items), projectID, upsertedID, chosenStrategy)
	return SummarizeOutcome{
		Summary:          summaryText,
		SourceMemoryIDs:  sourceMemoryIDs,
		UpsertedMemoryID: upsertedID,
		Strategy:         chosenStrategy,
		Provider:         provider,
		Model:            model,
	}, nil
}

// produceSummary selects a strategy and renders the summary text. Abstractive
// requested explicitly fails hard when the provider is unavailable; auto
// falls back to extractive.
func (s *Service) produceSummary(ctx context.Context, request SummarizeRequest, projectID string, items []EpisodicMemory) (summary string, strategy SummarizeStrategy, provider, model string, err error) {
	provider = request.Provider
	model = request.Model

	tryAbstractive := request.Strategy == StrategyAbstractive ||
		(request.Strategy == StrategyAuto && provider != "none" && s.summarizer != nil && s.cfg.SummarizationProvider != config.SummarizationNone)

	if tryAbstractive {
		if model == "" {
			model = s.cfg.SummarizationModel
		}
		if provider == "" {
			provider = string(s.cfg.SummarizationProvider)
		}

		var generated string
		var genErr error
		if s.summarizer == nil || provider == "none" || model == "" {
			genErr = fmt.Errorf("summarization provider not configured")
		} else {
			prompt := BuildAbstractivePrompt(projectID, request.TimeRange, request.MaxWords, items)
			generated, genErr = s.summarizer.GenerateSummary(ctx, summarization.Request{
				Model:    model,
				Prompt:   prompt,
				MaxWords: request.MaxWords,
			})
		}

		if genErr == nil {
			return generated, StrategyAbstractive, provider, model, nil
		}
		if request.Strategy == StrategyAbstractive {
			return "", "", "", "", mapSummarizationError(genErr)
		}
		s.logger.Printf("abstractive summarization failed, falling back to extractive: %v", genErr)
	}

	return BuildExtractiveSummary(items, request.MaxWords), StrategyExtractive, request.Provider, request.Model, nil
}

// probeSummary looks for an existing semantic summary carrying the
// idempotency tag; returns its id and text when found.
func (s *Service) probeSummary(ctx context.Context, collection, projectID, idempotencyTag string) (id, text string, err error) {
	filter := qdrant.BuildFilter(qdrant.FilterArgs{
		ProjectID:  projectID,
		MemoryType: "semantic",
		Tags:       []string{idempotencyTag},
	})
	points, err := s.store.ScrollPayloads(ctx, collection, []string{"text"}, filter)
	if err != nil {
		return "", "", mapStoreError(err)
	}
	if len(points) == 0 {
		return "", "", nil
	}
	text, _ = points[0].Payload["text"].(string)
	return points[0].ID, strings.TrimSpace(text), nil
}

// ensureCollection makes sure a collection exists with the configured
// dimension and carries the payload indexes.
func (s *Service) ensureCollection(ctx context.Context, collection string) error {
	if err := s.store.EnsureCollection(ctx, collection, s.cfg.EmbeddingDimension); err != nil {
		return mapStoreError(err)
	}
	if err := s.store.EnsurePayloadIndexes(ctx, collection); err != nil {
		return mapStoreError(err)
	}
	return nil
}

// CreateCollection ensures a collection with the requested vector size,
// provisioning payload indexes. Returns the effective size.
func (s *Service) CreateCollection(ctx context.Context, name string, vectorSize int) (int, error) {
	if strings.TrimSpace(name) == "" {
		return 0, ErrInvalidParams("`name` must not be empty")
	}
	size := vectorSize
	if size <= 0 {
		size = s.cfg.EmbeddingDimension
	}
	if err := s.store.EnsureCollection(ctx, name, size); err != nil {
		return 0, mapStoreError(err)
	}
	if err := s.store.EnsurePayloadIndexes(ctx, name); err != nil {
		return 0, mapStoreError(err)
	}
	s.logger.Printf("collection %s ready (vector_size=%d)", name, size)
	return size, nil
}

// ListCollections enumerates collections known to the store.
func (s *Service) ListCollections(ctx context.Context) ([]string, error) {
	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return collections, nil
}

// ListProjects enumerates distinct project ids in the default collection.
func (s *Service) ListProjects(ctx context.Context) ([]string, error) {
	projects, err := s.store.ListProjects(ctx, s.cfg.QdrantCollectionName)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return projects, nil
}

// ListTags enumerates distinct tags, optionally scoped to one project.
func (s *Service) ListTags(ctx context.Context, projectID string) ([]string, error) {
	tags, err := s.store.ListTags(ctx, s.cfg.QdrantCollectionName, projectID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return tags, nil
}

// MetricsSnapshot returns the current ingestion counters.
func (s *Service) MetricsSnapshot() metrics.Snapshot {
	return s.metrics.Snapshot()
}

// Health probes the store and reports the embedding configuration.
func (s *Service) Health(ctx context.Context) HealthSnapshot {
	snapshot := HealthSnapshot{
		EmbeddingProvider:  string(s.cfg.EmbeddingProvider),
		EmbeddingModel:     s.cfg.EmbeddingModel,
		EmbeddingDimension: s.cfg.EmbeddingDimension,
		QdrantURL:          s.store.BaseURL(),
		DefaultCollection:  s.cfg.QdrantCollectionName,
	}

	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		snapshot.Error = err.Error()
		return snapshot
	}
	snapshot.Reachable = true
	for _, name := range collections {
		if name == s.cfg.QdrantCollectionName {
			snapshot.DefaultCollectionPresent = true
			break
		}
	}
	return snapshot
}

func filterArgsFrom(projectID, memoryType string, tags []string, timeRange *TimeRange) qdrant.FilterArgs {
	args := qdrant.FilterArgs{
		ProjectID:  projectID,
		MemoryType: memoryType,
		Tags:       tags,
	}
	if timeRange != nil {
		args.TimeRange = &qdrant.TimeRange{Start: timeRange.Start, End: timeRange.End}
	}
	return args
}

// mapEmbeddingError converts embedding component errors to the taxonomy.
func mapEmbeddingError(err error) *Error {
	var dimension *embedding.DimensionError
	if errors.As(err, &dimension) {
		return ErrDimensionMismatch(dimension.Expected, dimension.Actual)
	}
	var provider *embedding.ProviderError
	if errors.As(err, &provider) {
		return ErrProviderUnavailable(provider.Error(), provider.Endpoint)
	}
	return ErrInternal("embedding_failed", err.Error())
}

// mapSummarizationError converts summarization component errors to the taxonomy.
func mapSummarizationError(err error) *Error {
	var provider *summarization.ProviderError
	if errors.As(err, &provider) {
		return ErrProviderUnavailable(provider.Error(), provider.Endpoint)
	}
	return &Error{
		Kind:    KindProviderUnavailable,
		Message: err.Error(),
		Hint:    "configure SUMMARIZATION_PROVIDER and SUMMARIZATION_MODEL",
	}
}

// mapStoreError converts store component errors to the taxonomy.
func mapStoreError(err error) *Error {
	var taxonomy *Error
	if errors.As(err, &taxonomy) {
		return taxonomy
	}
	var mismatch *qdrant.DimensionMismatchError
	if errors.As(err, &mismatch) {
		return &Error{
			Kind:    KindDimensionMismatch,
			Message: mismatch.Error(),
			Hint:    "align EMBEDDING_DIMENSION with the existing collection or create a new one",
		}
	}
	var status *qdrant.StatusError
	if errors.As(err, &status) {
		if status.Status == 404 {
			return &Error{Kind: KindNotFound, Message: status.Error()}
		}
		return ErrStoreUnavailable(status.Error())
	}
	return ErrStoreUnavailable(err.Error())
}
