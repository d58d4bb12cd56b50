package mcp

import (
	"context"

	"github.com/CaliLuke/rusty-mcp/internal/processing"
)

// moveAlias folds an alias key into its canonical name. The alias is ignored
// when the canonical key is also present.
func moveAlias(arguments map[string]any, alias, canonical string) {
	value, ok := arguments[alias]
	if !ok {
		return
	}
	delete(arguments, alias)
	if _, exists := arguments[canonical]; !exists {
		arguments[canonical] = value
	}
}

// normalizeSearchArguments applies the documented aliases before validation.
func normalizeSearchArguments(arguments map[string]any) {
	moveAlias(arguments, "project", "project_id")
	moveAlias(arguments, "type", "memory_type")
	moveAlias(arguments, "k", "limit")
}

// parseTags coerces the tags argument: scalar strings become single-element
// lists, arrays pass through, anything else is invalid.
func parseTags(arguments map[string]any) (tags []string, provided bool, err error) {
	raw, ok := arguments["tags"]
	if !ok {
		return nil, false, nil
	}
	if scalar, isString := raw.(string); isString {
		return []string{scalar}, true, nil
	}
	if list, isList := asStrSlice(raw); isList {
		return list, true, nil
	}
	return nil, true, processing.ErrInvalidParams("`tags` must be a string or an array of strings")
}

// parseTimeRange reads the time_range argument when present.
func parseTimeRange(arguments map[string]any) (*processing.TimeRange, bool, error) {
	raw, ok := arguments["time_range"]
	if !ok {
		return nil, false, nil
	}
	object, isMap := raw.(map[string]any)
	if !isMap {
		return nil, true, processing.ErrInvalidParams("`time_range` must be an object with `start` and/or `end`")
	}
	return &processing.TimeRange{
		Start: str(object["start"]),
		End:   str(object["end"]),
	}, true, nil
}

func (s *Server) toolPush(ctx context.Context, arguments map[string]any) (any, error) {
	text := str(arguments["text"])
	tags, _, err := parseTags(arguments)
	if err != nil {
		return nil, err
	}

	collection := str(arguments["collection"])
	if collection == "" {
		collection = s.service.Config().QdrantCollectionName
	}

	outcome, err := s.service.ProcessAndIndex(ctx, collection, text, processing.IngestMetadata{
		ProjectID:  str(arguments["project_id"]),
		MemoryType: str(arguments["memory_type"]),
		Tags:       tags,
		SourceURI:  str(arguments["source_uri"]),
	})
	if err != nil {
		return nil, err
	}

	return toolResult(map[string]any{
		"status":            "ok",
		"collection":        collection,
		"chunksIndexed":     outcome.ChunksIndexed,
		"chunkSize":         outcome.ChunkSize,
		"inserted":          outcome.Inserted,
		"updated":           outcome.Updated,
		"skippedDuplicates": outcome.SkippedDuplicates,
	}), nil
}

func (s *Server) toolSearch(ctx context.Context, arguments map[string]any) (any, error) {
	normalizeSearchArguments(arguments)

	tags, tagsProvided, err := parseTags(arguments)
	if err != nil {
		return nil, err
	}
	timeRange, timeRangeGiven, err := parseTimeRange(arguments)
	if err != nil {
		return nil, err
	}

	input := processing.SearchInput{
		QueryText:      str(arguments["query_text"]),
		ProjectID:      str(arguments["project_id"]),
		MemoryType:     str(arguments["memory_type"]),
		Tags:           tags,
		TagsProvided:   tagsProvided,
		TimeRange:      timeRange,
		TimeRangeGiven: timeRangeGiven,
		Collection:     str(arguments["collection"]),
	}
	if value, ok := arguments["limit"]; ok {
		limit, isNumber := asInt(value)
		if !isNumber {
			return nil, processing.ErrInvalidParams("`limit` must be a positive integer")
		}
		input.Limit = &limit
	}
	if value, ok := arguments["score_threshold"]; ok {
		threshold, isNumber := asFloat(value)
		if !isNumber {
			return nil, processing.ErrInvalidParams("`score_threshold` must be numeric")
		}
		input.ScoreThreshold = &threshold
	}

	request, err := processing.ValidateSearch(input, s.service.Config())
	if err != nil {
		return nil, err
	}

	hits, err := s.service.SearchMemories(ctx, request)
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(hits))
	for _, hit := range hits {
		results = append(results, hitPayload(hit))
	}

	payload := map[string]any{
		"results":         results,
		"collection":      request.Collection,
		"limit":           request.Limit,
		"score_threshold": request.ScoreThreshold,
		"scoreThreshold":  request.ScoreThreshold,
		"used_filters":    searchUsedFilters(request),
	}
	if promptContext := processing.BuildContext(hits); promptContext != "" {
		payload["context"] = promptContext
	}
	return toolResult(payload), nil
}

func hitPayload(hit processing.SearchHit) map[string]any {
	item := map[string]any{
		"id":    hit.ID,
		"score": hit.Score,
	}
	if hit.Text != "" {
		item["text"] = hit.Text
	}
	if hit.ProjectID != "" {
		item["project_id"] = hit.ProjectID
	}
	if hit.MemoryType != "" {
		item["memory_type"] = hit.MemoryType
	}
	if len(hit.Tags) > 0 {
		item["tags"] = hit.Tags
	}
	if hit.Timestamp != "" {
		item["timestamp"] = hit.Timestamp
	}
	if hit.SourceURI != "" {
		item["source_uri"] = hit.SourceURI
	}
	return item
}

// searchUsedFilters echoes the validated, post-alias filter values.
func searchUsedFilters(request processing.SearchRequest) map[string]any {
	filters := map[string]any{
		"collection":      request.Collection,
		"limit":           request.Limit,
		"score_threshold": request.ScoreThreshold,
	}
	if request.ProjectID != "" {
		filters["project_id"] = request.ProjectID
	}
	if request.MemoryType != "" {
		filters["memory_type"] = request.MemoryType
	}
	if len(request.Tags) > 0 {
		filters["tags"] = request.Tags
	}
	if request.TimeRange != nil {
		rangeObject := map[string]any{}
		if request.TimeRange.Start != "" {
			rangeObject["start"] = request.TimeRange.Start
		}
		if request.TimeRange.End != "" {
			rangeObject["end"] = request.TimeRange.End
		}
		if len(rangeObject) > 0 {
			filters["time_range"] = rangeObject
		}
	}
	return filters
}

func (s *Server) toolSummarize(ctx context.Context, arguments map[string]any) (any, error) {
	tags, tagsProvided, err := parseTags(arguments)
	if err != nil {
		return nil, err
	}
	timeRange, _, err := parseTimeRange(arguments)
	if err != nil {
		return nil, err
	}

	input := processing.SummarizeInput{
		ProjectID:    str(arguments["project_id"]),
		MemoryType:   str(arguments["memory_type"]),
		Tags:         tags,
		TagsProvided: tagsProvided,
		TimeRange:    timeRange,
		Strategy:     str(arguments["strategy"]),
		Provider:     str(arguments["provider"]),
		Model:        str(arguments["model"]),
		Collection:   str(arguments["collection"]),
		SourceURI:    str(arguments["source_uri"]),
	}
	if value, ok := arguments["limit"]; ok {
		limit, isNumber := asInt(value)
		if !isNumber {
			return nil, processing.ErrInvalidParams("`limit` must be a positive integer")
		}
		input.Limit = &limit
	}
	if value, ok := arguments["max_words"]; ok {
		maxWords, isNumber := asInt(value)
		if !isNumber {
			return nil, processing.ErrInvalidParams("`max_words` must be a positive integer")
		}
		input.MaxWords = &maxWords
	}

	request, err := processing.ValidateSummarize(input, s.service.Config())
	if err != nil {
		return nil, err
	}

	outcome, err := s.service.SummarizeMemories(ctx, request)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"summary":            outcome.Summary,
		"source_memory_ids":  outcome.SourceMemoryIDs,
		"upserted_memory_id": outcome.UpsertedMemoryID,
		"strategy":           string(outcome.Strategy),
		"used_filters":       summarizeUsedFilters(request),
	}
	if outcome.Provider != "" {
		payload["provider"] = outcome.Provider
	}
	if outcome.Model != "" {
		payload["model"] = outcome.Model
	}
	return toolResult(payload), nil
}

func summarizeUsedFilters(request processing.SummarizeRequest) map[string]any {
	filters := map[string]any{
		"collection": request.Collection,
		"limit":      request.Limit,
		"max_words":  request.MaxWords,
		"strategy":   string(request.Strategy),
	}
	if request.ProjectID != "" {
		filters["project_id"] = request.ProjectID
	}
	if request.MemoryType != "" {
		filters["memory_type"] = request.MemoryType
	}
	if len(request.Tags) > 0 {
		filters["tags"] = request.Tags
	}
	rangeObject := map[string]any{}
	if request.TimeRange.Start != "" {
		rangeObject["start"] = request.TimeRange.Start
	}
	if request.TimeRange.End != "" {
		rangeObject["end"] = request.TimeRange.End
	}
	if len(rangeObject) > 0 {
		filters["time_range"] = rangeObject
	}
	if request.Provider != "" {
		filters["provider"] = request.Provider
	}
	if request.Model != "" {
		filters["model"] = request.Model
	}
	return filters
}

func (s *Server) toolGetCollections(ctx context.Context) (any, error) {
	collections, err := s.service.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	if collections == nil {
		collections = []string{}
	}
	return toolResult(map[string]any{"collections": collections}), nil
}

func (s *Server) toolNewCollection(ctx context.Context, arguments map[string]any) (any, error) {
	name := str(arguments["name"])
	vectorSize := 0
	if value, ok := arguments["vector_size"]; ok {
		parsed, isNumber := asInt(value)
		if !isNumber || parsed <= 0 {
			return nil, processing.ErrInvalidParams("`vector_size` must be a positive integer")
		}
		vectorSize = parsed
	}

	size, err := s.service.CreateCollection(ctx, name, vectorSize)
	if err != nil {
		return nil, err
	}
	return toolResult(map[string]any{
		"status":     "ok",
		"vectorSize": size,
	}), nil
}

func (s *Server) toolMetrics() (any, error) {
	snapshot := s.service.MetricsSnapshot()
	payload := map[string]any{
		"documentsIndexed": snapshot.DocumentsIndexed,
		"chunksIndexed":    snapshot.ChunksIndexed,
	}
	if snapshot.LastChunkSize != nil {
		payload["lastChunkSize"] = *snapshot.LastChunkSize
	}
	return toolResult(payload), nil
}

// toolDescriptors advertises the tool surface with input schemas.
func toolDescriptors() []map[string]any {
	stringProp := func(description string) map[string]any {
		return map[string]any{"type": "string", "description": description}
	}
	tagsProp := map[string]any{
		"description": "Tag filter; a scalar string is treated as a single-element list.",
		"oneOf": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}
	timeRangeProp := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"start": stringProp("Inclusive RFC3339 lower bound."),
			"end":   stringProp("Inclusive RFC3339 upper bound."),
		},
	}

	return []map[string]any{
		{
			"name":        "push",
			"description": "Store source text as retrievable memory instead of pasting it into chats.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text":        stringProp("Raw document text to ingest."),
					"collection":  stringProp("Optional collection override."),
					"project_id":  stringProp("Optional project identifier."),
					"memory_type": stringProp("episodic | semantic | procedural."),
					"tags":        tagsProp,
					"source_uri":  stringProp("Optional provenance URI."),
				},
				"required": []string{"text"},
			},
		},
		{
			"name":        "search",
			"description": "Retrieve the most relevant memories; add filters for project/type/tags/time.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query_text":      stringProp("Natural-language query, at most 512 characters."),
					"project_id":      stringProp("Optional project filter (alias: project)."),
					"memory_type":     stringProp("Optional memory type filter (alias: type)."),
					"tags":            tagsProp,
					"time_range":      timeRangeProp,
					"limit":           map[string]any{"type": "integer", "minimum": 1, "description": "Result cap (alias: k)."},
					"score_threshold": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"collection":      stringProp("Optional collection override."),
				},
				"required": []string{"query_text"},
			},
		},
		{
			"name":        "summarize",
			"description": "Turn episodic logs within a time window into a concise, reusable summary with provenance.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_id":  stringProp("Optional project filter."),
					"memory_type": stringProp("Memory type to summarize; defaults to episodic."),
					"tags":        tagsProp,
					"time_range": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"start": stringProp("Inclusive RFC3339 lower bound."),
							"end":   stringProp("Inclusive RFC3339 upper bound."),
						},
						"required": []string{"start", "end"},
					},
					"limit":      map[string]any{"type": "integer", "minimum": 1},
					"strategy":   stringProp("auto | abstractive | extractive."),
					"provider":   stringProp("ollama | none."),
					"model":      stringProp("Model override for abstractive summaries."),
					"max_words":  map[string]any{"type": "integer", "minimum": 1},
					"collection": stringProp("Optional collection override."),
				},
				"required": []string{"time_range"},
			},
		},
		{
			"name":        "get-collections",
			"description": "See which memory collections exist before you index or search.",
			"inputSchema": map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			"name":        "new-collection",
			"description": "Create a collection when starting a project or switching embedding dimensions.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        stringProp("Collection name."),
					"vector_size": map[string]any{"type": "integer", "minimum": 1},
				},
				"required": []string{"name"},
			},
		},
		{
			"name":        "metrics",
			"description": "Check ingestion volume and last chunk size at a glance.",
			"inputSchema": map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}
