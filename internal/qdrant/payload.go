package qdrant

import (
	"time"

	"github.com/google/uuid"
)

const (
	defaultProjectID  = "default"
	defaultMemoryType = "semantic"
)

// BuildPayload assembles the payload object stored alongside each indexed chunk.
// Optional fields are omitted when empty so stored payloads stay compact.
func BuildPayload(memoryID, text, timestamp, chunkHash string, overrides PayloadOverrides) map[string]any {
	projectID := overrides.ProjectID
	if projectID == "" {
		projectID = defaultProjectID
	}
	memoryType := overrides.MemoryType
	if memoryType == "" {
		memoryType = defaultMemoryType
	}

	payload := map[string]any{
		"memory_id":   memoryID,
		"project_id":  projectID,
		"memory_type": memoryType,
		"timestamp":   timestamp,
		"chunk_hash":  chunkHash,
		"text":        text,
	}

	if overrides.SourceURI != "" {
		payload["source_uri"] = overrides.SourceURI
	}
	if len(overrides.Tags) > 0 {
		payload["tags"] = overrides.Tags
	}
	if len(overrides.SourceMemoryIDs) > 0 {
		payload["source_memory_ids"] = overrides.SourceMemoryIDs
	}
	if overrides.SummaryKey != "" {
		payload["summary_key"] = overrides.SummaryKey
	}

	return payload
}

// NewMemoryID returns a fresh UUIDv4 identifier for a stored point.
func NewMemoryID() string {
	return uuid.NewString()
}

// NowRFC3339 formats the current UTC instant for payload storage.
func NowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
