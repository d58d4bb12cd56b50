package processing

import (
	"fmt"
	"strings"
	"time"

	"github.com/CaliLuke/rusty-mcp/config"
)

// maxQueryTextLength bounds search query text; longer inputs are rejected
// before any side effect.
const maxQueryTextLength = 512

// defaultSummarizeLimit caps how many memories feed one summary unless the
// caller overrides it.
const defaultSummarizeLimit = 50

// SearchInput is the raw, post-alias search envelope awaiting validation.
// Pointer fields distinguish absent values from explicit zeros.
type SearchInput struct {
	QueryText      string
	ProjectID      string
	MemoryType     string
	Tags           []string
	TagsProvided   bool
	TimeRange      *TimeRange
	TimeRangeGiven bool
	Limit          *int
	ScoreThreshold *float64
	Collection     string
}

// SummarizeInput is the raw summarize envelope awaiting validation.
type SummarizeInput struct {
	ProjectID      string
	MemoryType     string
	Tags           []string
	TagsProvided   bool
	TimeRange      *TimeRange
	Limit          *int
	Strategy       string
	Provider       string
	Model          string
	MaxWords       *int
	Collection     string
	SourceURI      string
}

// ValidateSearch checks a search envelope and produces the canonical request,
// applying configured defaults for limit and score threshold.
func ValidateSearch(input SearchInput, cfg *config.Config) (SearchRequest, error) {
	query := strings.TrimSpace(input.QueryText)
	if query == "" {
		return SearchRequest{}, ErrInvalidParams("`query_text` must not be empty")
	}
	if len([]rune(input.QueryText)) > maxQueryTextLength {
		return SearchRequest{}, ErrInvalidParams(fmt.Sprintf("`query_text` must not exceed %d characters", maxQueryTextLength))
	}

	memoryType, err := validateOptionalMemoryType(input.MemoryType)
	if err != nil {
		return SearchRequest{}, err
	}

	tags, err := normalizeRequestTags(input.Tags, input.TagsProvided)
	if err != nil {
		return SearchRequest{}, err
	}

	timeRange, err := validateTimeRange(input.TimeRange, input.TimeRangeGiven, false)
	if err != nil {
		return SearchRequest{}, err
	}

	limit := cfg.SearchDefaultLimit
	if input.Limit != nil {
		if *input.Limit < 1 || *input.Limit > cfg.SearchMaxLimit {
			return SearchRequest{}, ErrInvalidParams(fmt.Sprintf("`limit` must be between 1 and %d", cfg.SearchMaxLimit))
		}
		limit = *input.Limit
	}

	threshold := cfg.SearchDefaultScoreThreshold
	if input.ScoreThreshold != nil {
		if *input.ScoreThreshold < 0 || *input.ScoreThreshold > 1 {
			return SearchRequest{}, ErrInvalidParams("`score_threshold` must be between 0.0 and 1.0")
		}
		threshold = *input.ScoreThreshold
	}

	collection := strings.TrimSpace(input.Collection)
	if collection == "" {
		collection = cfg.QdrantCollectionName
	}

	return SearchRequest{
		QueryText:      query,
		ProjectID:      strings.TrimSpace(input.ProjectID),
		MemoryType:     memoryType,
		Tags:           tags,
		TimeRange:      timeRange,
		Limit:          limit,
		ScoreThreshold: threshold,
		Collection:     collection,
	}, nil
}

// ValidateSummarize checks a summarize envelope and produces the canonical
// request. The time range must carry both bounds.
func ValidateSummarize(input SummarizeInput, cfg *config.Config) (SummarizeRequest, error) {
	projectID := strings.TrimSpace(input.ProjectID)
	if input.ProjectID != "" && projectID == "" {
		return SummarizeRequest{}, ErrInvalidParams("`project_id` must not be empty")
	}

	memoryType, err := validateOptionalMemoryType(input.MemoryType)
	if err != nil {
		return SummarizeRequest{}, err
	}

	tags, err := normalizeRequestTags(input.Tags, input.TagsProvided)
	if err != nil {
		return SummarizeRequest{}, err
	}

	if input.TimeRange == nil {
		return SummarizeRequest{}, ErrInvalidParams("`time_range` must include both `start` and `end`")
	}
	timeRange, err := validateTimeRange(input.TimeRange, true, true)
	if err != nil {
		return SummarizeRequest{}, err
	}

	limit := defaultSummarizeLimit
	if input.Limit != nil {
		limit = *input.Limit
	}
	if limit < 1 || limit > cfg.SearchMaxLimit {
		return SummarizeRequest{}, ErrInvalidParams(fmt.Sprintf("`limit` must be between 1 and %d", cfg.SearchMaxLimit))
	}

	maxWords := cfg.SummarizationMaxWords
	if input.MaxWords != nil {
		maxWords = *input.MaxWords
	}
	if maxWords <= 0 {
		return SummarizeRequest{}, ErrInvalidParams("`max_words` must be greater than zero")
	}

	strategy := SummarizeStrategy(strings.ToLower(strings.TrimSpace(input.Strategy)))
	if strategy == "" {
		strategy = StrategyAuto
	}
	switch strategy {
	case StrategyAuto, StrategyAbstractive, StrategyExtractive:
	default:
		return SummarizeRequest{}, ErrInvalidParams(fmt.Sprintf("`strategy` must be auto|abstractive|extractive (got %q)", input.Strategy))
	}

	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	if provider != "" && provider != "ollama" && provider != "none" {
		return SummarizeRequest{}, ErrInvalidParams("`provider` must be one of ollama|none")
	}

	collection := strings.TrimSpace(input.Collection)
	if collection == "" {
		collection = cfg.QdrantCollectionName
	}

	return SummarizeRequest{
		ProjectID:  projectID,
		MemoryType: memoryType,
		Tags:       tags,
		TimeRange:  *timeRange,
		Limit:      limit,
		Strategy:   strategy,
		Provider:   provider,
		Model:      strings.TrimSpace(input.Model),
		MaxWords:   maxWords,
		Collection: collection,
		SourceURI:  strings.TrimSpace(input.SourceURI),
	}, nil
}

// validateOptionalMemoryType accepts an empty value and otherwise requires a
// known classification.
func validateOptionalMemoryType(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", nil
	}
	normalized := strings.ToLower(trimmed)
	if !IsMemoryType(normalized) {
		return "", ErrInvalidParams("`memory_type` must be one of episodic|semantic|procedural")
	}
	return normalized, nil
}

// normalizeRequestTags trims and dedupes tags, preserving case and first
// occurrence. Elements that are empty after trim reject the request; an empty
// provided list is treated as absent.
func normalizeRequestTags(tags []string, provided bool) ([]string, error) {
	if !provided {
		return nil, nil
	}
	if tags == nil {
		return nil, ErrInvalidParams("`tags` must be an array of non-empty strings")
	}

	seen := make(map[string]struct{})
	var normalized []string
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			return nil, ErrInvalidParams("`tags` must be an array of non-empty strings")
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized, nil
}

// validateTimeRange checks RFC3339 bounds and ordering. requireBoth enforces
// the summarize contract where both sides are mandatory.
func validateTimeRange(timeRange *TimeRange, provided, requireBoth bool) (*TimeRange, error) {
	if timeRange == nil {
		if provided && requireBoth {
			return nil, ErrInvalidParams("`time_range` must include both `start` and `end`")
		}
		return nil, nil
	}

	start := strings.TrimSpace(timeRange.Start)
	end := strings.TrimSpace(timeRange.End)

	if requireBoth && (start == "" || end == "") {
		return nil, ErrInvalidParams("`time_range` must include both `start` and `end`")
	}
	if start == "" && end == "" {
		if provided {
			return nil, ErrInvalidParams("`time_range` must include `start`, `end`, or both")
		}
		return nil, nil
	}

	var startTime, endTime time.Time
	var haveStart, haveEnd bool
	if start != "" {
		parsed, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return nil, ErrInvalidParams(fmt.Sprintf("`time_range.start` must be a valid RFC3339 timestamp (got %q)", start))
		}
		startTime, haveStart = parsed, true
	}
	if end != "" {
		parsed, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return nil, ErrInvalidParams(fmt.Sprintf("`time_range.end` must be a valid RFC3339 timestamp (got %q)", end))
		}
		endTime, haveEnd = parsed, true
	}
	if haveStart && haveEnd && startTime.After(endTime) {
		return nil, ErrInvalidParams("`time_range.start` must be earlier than or equal to `time_range.end`")
	}

	return &TimeRange{Start: start, End: end}, nil
}
