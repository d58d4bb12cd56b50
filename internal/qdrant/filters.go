package qdrant

import "strings"

// BuildFilter composes the standard Qdrant filter body from optional search
// arguments. Returns nil when every condition is empty so callers can omit the
// filter key entirely.
func BuildFilter(args FilterArgs) map[string]any {
	var must []any

	if project := strings.TrimSpace(args.ProjectID); project != "" {
		must = append(must, map[string]any{
			"key":   "project_id",
			"match": map[string]any{"value": project},
		})
	}

	if memory := strings.TrimSpace(args.MemoryType); memory != "" {
		must = append(must, map[string]any{
			"key":   "memory_type",
			"match": map[string]any{"value": memory},
		})
	}

	cleaned := make([]string, 0, len(args.Tags))
	for _, tag := range args.Tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) > 0 {
		must = append(must, map[string]any{
			"key":   "tags",
			"match": map[string]any{"any": cleaned},
		})
	}

	if args.TimeRange != nil {
		bounds := map[string]any{}
		if start := strings.TrimSpace(args.TimeRange.Start); start != "" {
			bounds["gte"] = start
		}
		if end := strings.TrimSpace(args.TimeRange.End); end != "" {
			bounds["lte"] = end
		}
		if len(bounds) > 0 {
			must = append(must, map[string]any{
				"key":   "timestamp",
				"range": bounds,
			})
		}
	}

	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

// chunkHashFilter matches points whose chunk_hash is any of the given values.
func chunkHashFilter(hashes []string) map[string]any {
	return map[string]any{
		"must": []any{
			map[string]any{
				"key":   "chunk_hash",
				"match": map[string]any{"any": hashes},
			},
		},
	}
}
