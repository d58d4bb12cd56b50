package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/CaliLuke/rusty-mcp/internal/processing"
)

// indexRequest is the body accepted by POST /index.
type indexRequest struct {
	Text       string   `json:"text"`
	Collection string   `json:"collection"`
	ProjectID  string   `json:"project_id"`
	MemoryType string   `json:"memory_type"`
	Tags       []string `json:"tags"`
	SourceURI  string   `json:"source_uri"`
}

// indexResponse reports ingestion counters.
type indexResponse struct {
	ChunksIndexed     int `json:"chunks_indexed"`
	ChunkSize         int `json:"chunk_size"`
	Inserted          int `json:"inserted"`
	Updated           int `json:"updated"`
	SkippedDuplicates int `json:"skipped_duplicates"`
}

func (s *Server) handleIndex(c echo.Context) error {
	var request indexRequest
	if err := c.Bind(&request); err != nil {
		return processing.ErrInvalidParams("request body must be valid JSON")
	}

	outcome, err := s.service.ProcessAndIndex(c.Request().Context(), request.Collection, request.Text, processing.IngestMetadata{
		ProjectID:  request.ProjectID,
		MemoryType: request.MemoryType,
		Tags:       request.Tags,
		SourceURI:  request.SourceURI,
	})
	if err != nil {
		return err
	}

	s.logger.Printf("index request completed: chunks=%d inserted=%d updated=%d skipped=%d",
		outcome.ChunksIndexed, outcome.Inserted, outcome.Updated, outcome.SkippedDuplicates)
	return c.JSON(http.StatusOK, indexResponse{
		ChunksIndexed:     outcome.ChunksIndexed,
		ChunkSize:         outcome.ChunkSize,
		Inserted:          outcome.Inserted,
		Updated:           outcome.Updated,
		SkippedDuplicates: outcome.SkippedDuplicates,
	})
}

func (s *Server) handleListCollections(c echo.Context) error {
	collections, err := s.service.ListCollections(c.Request().Context())
	if err != nil {
		return err
	}
	if collections == nil {
		collections = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{"collections": collections})
}

// createCollectionRequest is the body accepted by POST /collections.
type createCollectionRequest struct {
	Name       string `json:"name"`
	VectorSize int    `json:"vector_size"`
}

func (s *Server) handleCreateCollection(c echo.Context) error {
	var request createCollectionRequest
	if err := c.Bind(&request); err != nil {
		return processing.ErrInvalidParams("request body must be valid JSON")
	}

	size, err := s.service.CreateCollection(c.Request().Context(), request.Name, request.VectorSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"vector_size": size,
	})
}

func (s *Server) handleMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.MetricsSnapshot())
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// commandDescriptor is one entry in the machine-readable command catalog.
type commandDescriptor struct {
	Name           string         `json:"name"`
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Description    string         `json:"description"`
	RequestExample map[string]any `json:"request_example,omitempty"`
}

func (s *Server) handleCommands(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"commands": []commandDescriptor{
			{
				Name:        "index",
				Method:      http.MethodPost,
				Path:        "/index",
				Description: "Chunk a raw document, generate embeddings, and persist them in the vector store.",
				RequestExample: map[string]any{
					"text":        "Document contents",
					"collection":  "optional-collection",
					"project_id":  "project-123",
					"memory_type": "episodic",
					"tags":        []string{"alpha", "beta"},
					"source_uri":  "https://example.org/origin",
				},
			},
			{
				Name:        "list_collections",
				Method:      http.MethodGet,
				Path:        "/collections",
				Description: "Return the names of collections managed by this server.",
			},
			{
				Name:        "create_collection",
				Method:      http.MethodPost,
				Path:        "/collections",
				Description: "Create a collection (non-destructive if it already exists with the same size).",
				RequestExample: map[string]any{
					"name":        "my-collection",
					"vector_size": 1536,
				},
			},
			{
				Name:        "metrics",
				Method:      http.MethodGet,
				Path:        "/metrics",
				Description: "Return ingestion counters useful for observability dashboards.",
			},
		},
	})
}
