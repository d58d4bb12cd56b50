// Package mcp implements the stdio JSON-RPC tool server. Tools and resources
// stay thin: they normalize arguments, call the shared processing service, and
// shape canonical responses.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/CaliLuke/rusty-mcp/internal/processing"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "rustymem"
	serverVersion   = "0.1.0"

	// callTimeout bounds a single tool invocation so a stuck provider cannot
	// wedge the stdio loop.
	callTimeout = 60 * time.Second
)

// rpcRequest is an incoming JSON-RPC envelope.
type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// rpcResponse is an outgoing JSON-RPC envelope.
type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

const (
	codeInvalidParams = -32602
	codeMethodMissing = -32601
	codeServerError   = -32000
)

// Server dispatches MCP requests against the shared processing service.
type Server struct {
	service *processing.Service
	logger  *log.Logger
}

// New wires the MCP server around the shared service.
func New(service *processing.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[MCP] ", log.LstdFlags)
	}
	return &Server{service: service, logger: logger}
}

// Serve runs the stdio loop until EOF. Notifications (requests without an id)
// receive no response. A frame whose fields have the wrong JSON types is
// logged and skipped; malformed or truncated JSON ends the loop with an error.
func (s *Server) Serve(in io.Reader, out io.Writer) error {
	decoder := json.NewDecoder(in)
	encoder := json.NewEncoder(out)

	for {
		var request rpcRequest
		if err := decoder.Decode(&request); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				s.logger.Printf("skipping undecodable frame: %v", err)
				continue
			}
			return fmt.Errorf("read request: %w", err)
		}

		if request.ID == nil {
			// Notification; nothing to answer.
			continue
		}

		response := s.dispatch(request)
		if err := encoder.Encode(response); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

func (s *Server) dispatch(request rpcRequest) rpcResponse {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var result any
	var err error

	switch request.Method {
	case "initialize":
		result = s.handleInitialize()
	case "ping":
		result = map[string]any{}
	case "tools/list":
		result = map[string]any{"tools": toolDescriptors()}
	case "tools/call":
		result, err = s.handleToolCall(ctx, request.Params)
	case "resources/list":
		result = map[string]any{"resources": resourceDescriptors()}
	case "resources/templates/list":
		result = map[string]any{"resourceTemplates": resourceTemplateDescriptors()}
	case "resources/read":
		result, err = s.handleResourceRead(ctx, request.Params)
	default:
		err = &processing.Error{
			Kind:    processing.KindInvalidParams,
			Message: fmt.Sprintf("unknown method: %s", request.Method),
		}
	}

	response := rpcResponse{JSONRPC: "2.0", ID: request.ID}
	if err != nil {
		response.Error = mapRPCError(err)
	} else {
		response.Result = result
	}
	return response
}

func (s *Server) handleInitialize() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": serverVersion,
		},
		"instructions": "Use this server to index, search, and summarize project memories for agents. Index source text, then retrieve concise context via semantic search with project/type/tag/time filters; summarize time-bounded entries when needed.",
	}
}

func (s *Server) handleToolCall(ctx context.Context, params map[string]any) (any, error) {
	name := str(params["name"])
	arguments, _ := params["arguments"].(map[string]any)
	if arguments == nil {
		arguments = map[string]any{}
	}

	// `index` is a documented alias for `push`.
	if name == "index" {
		name = "push"
	}

	switch name {
	case "push":
		return s.toolPush(ctx, arguments)
	case "search":
		return s.toolSearch(ctx, arguments)
	case "summarize":
		return s.toolSummarize(ctx, arguments)
	case "get-collections":
		return s.toolGetCollections(ctx)
	case "new-collection":
		return s.toolNewCollection(ctx, arguments)
	case "metrics":
		return s.toolMetrics()
	default:
		return nil, &processing.Error{
			Kind:    processing.KindInvalidParams,
			Message: fmt.Sprintf("unknown tool: %s", name),
		}
	}
}

// toolResult wraps a structured payload into the MCP tool-call result shape.
func toolResult(payload map[string]any) map[string]any {
	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = []byte("{}")
	}
	return map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": string(encoded)},
		},
		"structuredContent": payload,
	}
}

// mapRPCError converts a taxonomy error into the JSON-RPC envelope, keeping
// the kind verbatim in the data object.
func mapRPCError(err error) *rpcError {
	var taxonomyErr *processing.Error
	if !errors.As(err, &taxonomyErr) {
		taxonomyErr = processing.ErrInternal("unexpected", err.Error())
	}

	code := codeServerError
	if taxonomyErr.Kind == processing.KindInvalidParams {
		code = codeInvalidParams
	}

	data := map[string]any{"kind": string(taxonomyErr.Kind)}
	if taxonomyErr.Hint != "" {
		data["hint"] = taxonomyErr.Hint
	}
	if taxonomyErr.Code != "" {
		data["code"] = taxonomyErr.Code
	}

	return &rpcError{
		Code:    code,
		Message: taxonomyErr.Message,
		Data:    data,
	}
}

// ---------- argument coercion helpers ----------

func str(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) (int, bool) {
	switch value := v.(type) {
	case float64:
		return int(value), true
	case int:
		return value, true
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return 0, false
		}
		return int(parsed), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case int:
		return float64(value), true
	case json.Number:
		parsed, err := value.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func asStrSlice(v any) ([]string, bool) {
	switch value := v.(type) {
	case []string:
		return value, true
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
