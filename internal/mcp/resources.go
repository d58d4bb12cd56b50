package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/CaliLuke/rusty-mcp/internal/processing"
)

const (
	memoryTypesURI = "mcp://memory-types"
	projectsURI    = "mcp://projects"
	healthURI      = "mcp://health"
	settingsURI    = "mcp://settings"
	usageURI       = "mcp://usage"

	projectTagsTemplateURI = "mcp://{project_id}/tags"
	projectTagsPrefix      = "mcp://"
	projectTagsSuffix      = "/tags"

	applicationJSON = "application/json"
)

// resourceDescriptors advertises the read-only discovery snapshots.
func resourceDescriptors() []map[string]any {
	describe := func(uri, name, description string) map[string]any {
		return map[string]any{
			"uri":         uri,
			"name":        name,
			"description": description,
			"mimeType":    applicationJSON,
		}
	}
	return []map[string]any{
		describe(memoryTypesURI, "memory-types", "Supported memory_type values and default selection"),
		describe(healthURI, "health", "Live embedding configuration and vector store reachability"),
		describe(projectsURI, "projects", "Distinct project_id values currently stored"),
		describe(settingsURI, "settings", "Effective defaults for search ergonomics"),
		describe(usageURI, "usage", "Recommended tool flow and anti-patterns: push→search→(summarize), avoid pasting long docs in prompts."),
	}
}

func resourceTemplateDescriptors() []map[string]any {
	return []map[string]any{
		{
			"uriTemplate": projectTagsTemplateURI,
			"name":        "project-tags",
			"description": "Enumerate distinct tags for a project: replace {project_id} and call resources/read",
			"mimeType":    applicationJSON,
		},
	}
}

func (s *Server) handleResourceRead(ctx context.Context, params map[string]any) (any, error) {
	uri := str(params["uri"])

	if strings.HasPrefix(uri, projectTagsPrefix) && strings.HasSuffix(uri, projectTagsSuffix) && !isStaticResource(uri) {
		projectID := uri[len(projectTagsPrefix) : len(uri)-len(projectTagsSuffix)]
		if projectID == "" {
			return nil, processing.ErrInvalidParams("project identifier missing in resource URI")
		}
		tags, err := s.service.ListTags(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if tags == nil {
			tags = []string{}
		}
		return resourceContents(uri, map[string]any{
			"project_id": projectID,
			"tags":       tags,
		}), nil
	}

	switch uri {
	case memoryTypesURI:
		return resourceContents(uri, map[string]any{
			"memory_types": processing.MemoryTypes,
			"default":      processing.DefaultMemoryType,
		}), nil
	case projectsURI:
		projects, err := s.service.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		if projects == nil {
			projects = []string{}
		}
		return resourceContents(uri, map[string]any{"projects": projects}), nil
	case healthURI:
		return resourceContents(uri, healthPayload(s.service.Health(ctx))), nil
	case settingsURI:
		cfg := s.service.Config()
		return resourceContents(uri, map[string]any{
			"search": map[string]any{
				"default_limit":           cfg.SearchDefaultLimit,
				"max_limit":               cfg.SearchMaxLimit,
				"default_score_threshold": cfg.SearchDefaultScoreThreshold,
			},
		}), nil
	case usageURI:
		return resourceContents(uri, usagePayload()), nil
	default:
		return nil, processing.ErrInvalidParams("unknown resource URI: " + uri)
	}
}

func isStaticResource(uri string) bool {
	switch uri {
	case memoryTypesURI, projectsURI, healthURI, settingsURI, usageURI:
		return true
	default:
		return false
	}
}

// healthPayload mirrors the health resource shape: embedding settings plus a
// store reachability object.
func healthPayload(snapshot processing.HealthSnapshot) map[string]any {
	qdrantObject := map[string]any{
		"url":                      snapshot.QdrantURL,
		"reachable":                snapshot.Reachable,
		"defaultCollection":        snapshot.DefaultCollection,
		"defaultCollectionPresent": snapshot.DefaultCollectionPresent,
	}
	if snapshot.Error != "" {
		qdrantObject["error"] = snapshot.Error
	}
	return map[string]any{
		"embedding": map[string]any{
			"provider":  snapshot.EmbeddingProvider,
			"model":     snapshot.EmbeddingModel,
			"dimension": snapshot.EmbeddingDimension,
		},
		"qdrant": qdrantObject,
	}
}

func usagePayload() map[string]any {
	return map[string]any{
		"title": "Memory Server Usage",
		"policy": []string{
			"Do not paste or concatenate large documents in prompts.",
			"Index text with `push` first; use `search` to retrieve.",
			"Prefer filters: project_id, memory_type, tags, time_range.",
			"Keep query_text concise (<= 512 chars).",
			"Use summarize to consolidate episodic memories into semantic summaries.",
		},
		"flows": []any{
			map[string]any{
				"name": "Ingest & Retrieve",
				"steps": []string{
					"push({ text, project_id?, memory_type?, tags? })",
					"search({ query_text, project_id?, memory_type?, tags?, time_range? })",
				},
			},
			map[string]any{
				"name": "Summarize",
				"steps": []string{
					"search episodic within time_range",
					"summarize({ project_id, time_range, tags?, limit?, max_words? })",
				},
			},
		},
	}
}

// resourceContents wraps a JSON payload into the resources/read result shape.
func resourceContents(uri string, payload map[string]any) map[string]any {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		encoded = []byte("{}")
	}
	return map[string]any{
		"contents": []any{
			map[string]any{
				"uri":      uri,
				"mimeType": applicationJSON,
				"text":     string(encoded),
			},
		},
	}
}
