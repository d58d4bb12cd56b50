package processing

import (
	"strings"

	"github.com/CaliLuke/rusty-mcp/internal/qdrant"
)

// contextSnippetLimit bounds how much of a hit's text lands in the prompt
// context string.
const contextSnippetLimit = 500

// PreparedChunk pairs chunk text with its dedupe hash.
type PreparedChunk struct {
	Text      string
	ChunkHash string
}

// DedupeChunks drops chunks whose hash already appeared earlier in the same
// request, keeping first occurrences and counting the skipped duplicates.
func DedupeChunks(chunks []string) ([]PreparedChunk, int) {
	seen := make(map[string]struct{})
	var prepared []PreparedChunk
	skipped := 0

	for _, text := range chunks {
		if strings.TrimSpace(text) == "" {
			continue
		}
		hash := ContentHash(text)
		if _, dup := seen[hash]; dup {
			skipped++
			continue
		}
		seen[hash] = struct{}{}
		prepared = append(prepared, PreparedChunk{Text: text, ChunkHash: hash})
	}
	return prepared, skipped
}

// MapScoredPoint converts a store hit into the user-facing shape, sanitizing
// payload fields along the way.
func MapScoredPoint(point qdrant.ScoredPoint) SearchHit {
	hit := SearchHit{ID: point.ID, Score: point.Score}
	if point.Payload == nil {
		return hit
	}

	if text, ok := point.Payload["text"].(string); ok {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			hit.Text = trimmed
		}
	}
	if project, ok := point.Payload["project_id"].(string); ok {
		if trimmed := strings.TrimSpace(project); trimmed != "" {
			hit.ProjectID = trimmed
		}
	}
	if memory, ok := point.Payload["memory_type"].(string); ok {
		normalized := strings.ToLower(strings.TrimSpace(memory))
		if IsMemoryType(normalized) {
			hit.MemoryType = normalized
		}
	}
	if timestamp, ok := point.Payload["timestamp"].(string); ok {
		if trimmed := strings.TrimSpace(timestamp); trimmed != "" {
			hit.Timestamp = trimmed
		}
	}
	if sourceURI, ok := point.Payload["source_uri"].(string); ok {
		if trimmed := strings.TrimSpace(sourceURI); trimmed != "" {
			hit.SourceURI = trimmed
		}
	}
	hit.Tags = extractPayloadTags(point.Payload)

	return hit
}

// extractPayloadTags pulls tag values out of a payload map; scalar strings
// are treated as single-element lists.
func extractPayloadTags(payload map[string]any) []string {
	switch value := payload["tags"].(type) {
	case []any:
		var tags []string
		for _, item := range value {
			if tag, ok := item.(string); ok {
				if trimmed := strings.TrimSpace(tag); trimmed != "" {
					tags = append(tags, trimmed)
				}
			}
		}
		return tags
	case []string:
		var tags []string
		for _, tag := range value {
			if trimmed := strings.TrimSpace(tag); trimmed != "" {
				tags = append(tags, trimmed)
			}
		}
		return tags
	case string:
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return []string{trimmed}
		}
	}
	return nil
}

// BuildContext joins hit snippets with inline [id] citations in result order.
// Returns "" when no hit carries text.
func BuildContext(hits []SearchHit) string {
	var segments []string
	for _, hit := range hits {
		if hit.Text == "" {
			continue
		}
		snippet := hit.Text
		if runes := []rune(snippet); len(runes) > contextSnippetLimit {
			snippet = string(runes[:contextSnippetLimit]) + "…"
		}
		segments = append(segments, snippet+" ["+hit.ID+"]")
	}
	return strings.Join(segments, "\n")
}
