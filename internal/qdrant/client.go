// Package qdrant is the wire-level HTTP client for the vector store. It is the
// only package that speaks the Qdrant REST protocol; everything else sees
// structured types.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const requestTimeout = 30 * time.Second

// Client issues HTTP requests against a Qdrant instance.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	logger  *log.Logger
}

// NewClient constructs a client for the given endpoint. The API key is
// optional and attached as the `api-key` header when present.
func NewClient(baseURL, apiKey string, logger *log.Logger) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant url %q: %w", baseURL, err)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: parsed.String(),
		apiKey:  apiKey,
		logger:  logger,
	}, nil
}

// BaseURL reports the normalized endpoint, used by health snapshots.
func (c *Client) BaseURL() string { return c.baseURL }

// EnsureCollection creates the collection when missing. When it already exists
// with a different vector size a DimensionMismatchError is returned; populated
// collections are never silently resized.
func (c *Client) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	actual, exists, err := c.collectionVectorSize(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		if actual != vectorSize {
			return &DimensionMismatchError{Collection: name, Expected: vectorSize, Actual: actual}
		}
		return nil
	}
	return c.CreateCollection(ctx, name, vectorSize)
}

// CreateCollection creates (or re-declares) a collection with the given size.
func (c *Client) CreateCollection(ctx context.Context, name string, vectorSize int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	resp, err := c.do(ctx, http.MethodPut, "collections/"+name, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := ensureSuccess(resp); err != nil {
		c.logger.Printf("create collection %s failed: %v", name, err)
		return err
	}
	c.logger.Printf("collection %s ensured (size=%d)", name, vectorSize)
	return nil
}

// ListCollections returns the names of all collections known to Qdrant.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "collections", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := ensureSuccess(resp); err != nil {
		return nil, err
	}
	var payload listCollectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode collections response: %w", err)
	}
	names := make([]string, 0, len(payload.Result.Collections))
	for _, collection := range payload.Result.Collections {
		names = append(names, collection.Name)
	}
	return names, nil
}

// EnsurePayloadIndexes idempotently provisions the standard payload indexes
// used by search filters. Conflicts mean the index already exists.
func (c *Client) EnsurePayloadIndexes(ctx context.Context, collection string) error {
	fields := []struct {
		name   string
		schema string
	}{
		{"project_id", "keyword"},
		{"memory_type", "keyword"},
		{"tags", "keyword"},
		{"timestamp", "datetime"},
		{"chunk_hash", "keyword"},
	}

	for _, field := range fields {
		body := map[string]any{
			"field_name":   field.name,
			"field_schema": field.schema,
		}
		resp, err := c.do(ctx, http.MethodPut, "collections/"+collection+"/index", body)
		if err != nil {
			return err
		}
		status := resp.StatusCode
		resp.Body.Close()
		switch {
		case status >= 200 && status < 300:
		case status == http.StatusConflict:
			// Index already present.
		default:
			c.logger.Printf("payload index %s on %s failed with status %d", field.name, collection, status)
		}
	}
	return nil
}

// UpsertPoints writes chunks into the collection. Points whose chunk_hash is
// already present replace the existing point in place (same id, counted as
// updated); new hashes get fresh memory ids (counted as inserted). A single
// timestamp covers the whole batch so ordering within a request holds.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []PointInsert, overrides PayloadOverrides) (IndexSummary, error) {
	if len(points) == 0 {
		return IndexSummary{}, nil
	}

	hashes := make([]string, 0, len(points))
	for _, point := range points {
		hashes = append(hashes, point.ChunkHash)
	}
	existing, err := c.existingHashIDs(ctx, collection, hashes)
	if err != nil {
		return IndexSummary{}, err
	}

	now := NowRFC3339()
	var summary IndexSummary
	serialized := make([]map[string]any, 0, len(points))
	for _, point := range points {
		memoryID, present := existing[point.ChunkHash]
		if present {
			summary.Updated++
		} else {
			memoryID = NewMemoryID()
			summary.Inserted++
		}
		serialized = append(serialized, map[string]any{
			"id":      memoryID,
			"vector":  point.Vector,
			"payload": BuildPayload(memoryID, point.Text, now, point.ChunkHash, overrides),
		})
	}

	resp, err := c.do(ctx, http.MethodPut, "collections/"+collection+"/points?wait=true", map[string]any{"points": serialized})
	if err != nil {
		return IndexSummary{}, err
	}
	defer resp.Body.Close()
	if err := ensureSuccess(resp); err != nil {
		c.logger.Printf("upsert into %s failed: %v", collection, err)
		return IndexSummary{}, err
	}
	c.logger.Printf("upserted %d points into %s (inserted=%d updated=%d)", len(serialized), collection, summary.Inserted, summary.Updated)
	return summary, nil
}

// existingHashIDs maps each already-stored chunk_hash to its point id.
func (c *Client) existingHashIDs(ctx context.Context, collection string, hashes []string) (map[string]string, error) {
	scroller := c.NewScroller(collection, []string{"chunk_hash"}, chunkHashFilter(hashes))
	existing := make(map[string]string)
	for {
		page, ok, err := scroller.Next(ctx)
		if err != nil {
			return nil, err
		}
		for _, point := range page {
			if hash, valid := point.Payload["chunk_hash"].(string); valid && hash != "" {
				if _, seen := existing[hash]; !seen {
					existing[hash] = point.ID
				}
			}
		}
		if !ok {
			return existing, nil
		}
	}
}

// Query runs a similarity search and returns scored points ordered by score
// descending, payloads included.
func (c *Client) Query(ctx context.Context, collection string, vector []float32, filter map[string]any, limit int, scoreThreshold float64) ([]ScoredPoint, error) {
	body := map[string]any{
		"query":        vector,
		"limit":        limit,
		"with_payload": true,
	}
	if scoreThreshold > 0 {
		body["score_threshold"] = scoreThreshold
	}
	if filter != nil {
		body["filter"] = filter
	}

	resp, err := c.do(ctx, http.MethodPost, "collections/"+collection+"/points/query", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := ensureSuccess(resp); err != nil {
		c.logger.Printf("query against %s failed: %v", collection, err)
		return nil, err
	}

	var payload queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	results := make([]ScoredPoint, 0, len(payload.Result.Points))
	for _, point := range payload.Result.Points {
		results = append(results, ScoredPoint{
			ID:      stringifyPointID(point.ID),
			Score:   point.Score,
			Payload: point.Payload,
		})
	}
	return results, nil
}

// ScrollPayloads enumerates matching points with the requested payload fields,
// bounded by the scroller's overall result cap.
func (c *Client) ScrollPayloads(ctx context.Context, collection string, fields []string, filter map[string]any) ([]ScrollPoint, error) {
	scroller := c.NewScroller(collection, fields, filter)
	var all []ScrollPoint
	for {
		page, ok, err := scroller.Next(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if !ok {
			return all, nil
		}
	}
}

// ListProjects enumerates distinct project identifiers stored in the collection.
func (c *Client) ListProjects(ctx context.Context, collection string) ([]string, error) {
	points, err := c.ScrollPayloads(ctx, collection, []string{"project_id"}, nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var projects []string
	for _, point := range points {
		project, ok := point.Payload["project_id"].(string)
		if !ok {
			continue
		}
		project = strings.TrimSpace(project)
		if project == "" {
			continue
		}
		if _, dup := seen[project]; !dup {
			seen[project] = struct{}{}
			projects = append(projects, project)
		}
	}
	sort.Strings(projects)
	return projects, nil
}

// ListTags enumerates distinct tag values, optionally scoped to one project.
func (c *Client) ListTags(ctx context.Context, collection, projectID string) ([]string, error) {
	var filter map[string]any
	if strings.TrimSpace(projectID) != "" {
		filter = BuildFilter(FilterArgs{ProjectID: projectID})
	}
	points, err := c.ScrollPayloads(ctx, collection, []string{"tags"}, filter)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var tags []string
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; !dup {
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}
	for _, point := range points {
		switch value := point.Payload["tags"].(type) {
		case []any:
			for _, item := range value {
				if tag, ok := item.(string); ok {
					add(tag)
				}
			}
		case string:
			add(value)
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// collectionVectorSize fetches the configured vector size for a collection.
func (c *Client) collectionVectorSize(ctx context.Context, name string) (size int, exists bool, err error) {
	resp, err := c.do(ctx, http.MethodGet, "collections/"+name, nil)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var info collectionInfoResponse
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return 0, false, fmt.Errorf("decode collection info: %w", err)
		}
		return info.Result.Config.Params.Vectors.Size, true, nil
	case http.StatusNotFound:
		return 0, false, nil
	default:
		return 0, false, readStatusError(resp)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant request failed: %w", err)
	}
	return resp, nil
}

func ensureSuccess(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return readStatusError(resp)
}

func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func stringifyPointID(id any) string {
	switch value := id.(type) {
	case string:
		return value
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", value), "0"), ".")
	case map[string]any:
		if uuidValue, ok := value["uuid"].(string); ok {
			return uuidValue
		}
		encoded, _ := json.Marshal(value)
		return string(encoded)
	case nil:
		return ""
	default:
		return fmt.Sprint(value)
	}
}

