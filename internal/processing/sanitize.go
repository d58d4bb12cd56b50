package processing

import (
	"strings"

	"github.com/CaliLuke/rusty-mcp/internal/qdrant"
)

// MemoryTypes enumerates the supported memory classifications.
var MemoryTypes = []string{"episodic", "semantic", "procedural"}

// DefaultMemoryType is applied when callers omit memory_type.
const DefaultMemoryType = "semantic"

// DefaultProjectID is applied when callers omit project_id.
const DefaultProjectID = "default"

// sanitizeString trims surrounding whitespace.
func sanitizeString(value string) string {
	return strings.TrimSpace(value)
}

// SanitizeProjectID trims the value and falls back to the default project.
func SanitizeProjectID(value string) string {
	if trimmed := sanitizeString(value); trimmed != "" {
		return trimmed
	}
	return DefaultProjectID
}

// SanitizeMemoryType validates the value against the known enum. Missing
// values default to semantic; anything else is invalid_params.
func SanitizeMemoryType(value string) (string, error) {
	trimmed := sanitizeString(value)
	if trimmed == "" {
		return DefaultMemoryType, nil
	}
	normalized := strings.ToLower(trimmed)
	if !IsMemoryType(normalized) {
		return "", ErrInvalidParams("`memory_type` must be one of episodic|semantic|procedural")
	}
	return normalized, nil
}

// IsMemoryType reports whether the value is a known memory classification.
func IsMemoryType(value string) bool {
	for _, known := range MemoryTypes {
		if value == known {
			return true
		}
	}
	return false
}

// SanitizeTags lowercases, trims, drops empties, and dedupes while keeping
// first-occurrence order. Returns nil when nothing survives.
func SanitizeTags(values []string) []string {
	seen := make(map[string]struct{})
	var sanitized []string
	for _, tag := range values {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		sanitized = append(sanitized, lower)
	}
	return sanitized
}

// toPayloadOverrides converts ingest metadata into store payload overrides.
// It sanitizes project, memory type, tags and source URI itself and fails on
// an unknown memory type.
func toPayloadOverrides(metadata IngestMetadata) (qdrant.PayloadOverrides, error) {
	memoryType, err := SanitizeMemoryType(metadata.MemoryType)
	if err != nil {
		return qdrant.PayloadOverrides{}, err
	}
	return qdrant.PayloadOverrides{
		ProjectID:  SanitizeProjectID(metadata.ProjectID),
		MemoryType: memoryType,
		Tags:       SanitizeTags(metadata.Tags),
		SourceURI:  sanitizeString(metadata.SourceURI),
	}, nil
}
