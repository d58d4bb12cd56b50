// Package server exposes the HTTP surface: ingestion, collection management,
// metrics, and the command catalog. It shares the processing service with the
// MCP surface and performs no storage side effects of its own.
package server

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CaliLuke/rusty-mcp/internal/processing"
)

// portScanStart and portScanEnd bound the fallback port scan when SERVER_PORT
// is unset.
const (
	portScanStart = 4100
	portScanEnd   = 4199
)

// Server wires the echo router around the shared processing service.
type Server struct {
	service *processing.Service
	logger  *log.Logger
	echo    *echo.Echo
}

// New builds the HTTP server around the shared service.
func New(service *processing.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	s := &Server{service: service, logger: logger}
	s.echo = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/healthz", s.handleHealthz)
	e.POST("/index", s.handleIndex)
	e.GET("/collections", s.handleListCollections)
	e.POST("/collections", s.handleCreateCollection)
	e.GET("/metrics", s.handleMetrics)
	e.GET("/metrics/prometheus", echo.WrapHandler(promhttp.Handler()))
	e.GET("/commands", s.handleCommands)

	return e
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run binds a listener and serves until the process exits. A configured port
// is used verbatim; otherwise the scan range is probed for the first free
// port, and startup fails when none is available.
func (s *Server) Run() error {
	listener, port, err := s.bindListener()
	if err != nil {
		return err
	}
	s.logger.Printf("listening on http://0.0.0.0:%d", port)
	s.echo.Listener = listener
	return s.echo.Start("")
}

func (s *Server) bindListener() (net.Listener, int, error) {
	if port := s.service.Config().ServerPort; port > 0 {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return nil, 0, fmt.Errorf("bind port %d: %w", port, err)
		}
		return listener, port, nil
	}

	for port := portScanStart; port <= portScanEnd; port++ {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return listener, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no available port in range %d-%d", portScanStart, portScanEnd)
}

// errorHandler maps taxonomy errors onto the JSON error envelope, preserving
// the kind verbatim.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	envelope := map[string]any{
		"kind":    string(processing.KindInternal),
		"message": err.Error(),
	}

	var taxonomyErr *processing.Error
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &taxonomyErr):
		status = statusForKind(taxonomyErr.Kind)
		envelope["kind"] = string(taxonomyErr.Kind)
		envelope["message"] = taxonomyErr.Message
		if taxonomyErr.Hint != "" {
			envelope["hint"] = taxonomyErr.Hint
		}
		if taxonomyErr.Code != "" {
			envelope["code"] = taxonomyErr.Code
		}
	case errors.As(err, &httpErr):
		status = httpErr.Code
		envelope["kind"] = string(processing.KindInvalidParams)
		envelope["message"] = fmt.Sprint(httpErr.Message)
	}

	req := c.Request()
	s.logger.Printf("%d %s %s: %v", status, req.Method, req.URL.Path, err)
	_ = c.JSON(status, map[string]any{"error": envelope})
}

func statusForKind(kind processing.ErrorKind) int {
	switch kind {
	case processing.KindInvalidParams:
		return http.StatusBadRequest
	case processing.KindNotFound:
		return http.StatusNotFound
	case processing.KindConflict, processing.KindDimensionMismatch:
		return http.StatusConflict
	case processing.KindProviderUnavailable, processing.KindStoreUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
