// Command rustymem runs the agent memory server: `rustymem serve` exposes the
// HTTP API, `rustymem mcp` speaks the stdio tool protocol. Both share one
// processing pipeline wired from environment configuration.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/CaliLuke/rusty-mcp/config"
	"github.com/CaliLuke/rusty-mcp/internal/embedding"
	mcpserver "github.com/CaliLuke/rusty-mcp/internal/mcp"
	"github.com/CaliLuke/rusty-mcp/internal/metrics"
	"github.com/CaliLuke/rusty-mcp/internal/processing"
	"github.com/CaliLuke/rusty-mcp/internal/qdrant"
	"github.com/CaliLuke/rusty-mcp/internal/server"
	"github.com/CaliLuke/rusty-mcp/internal/summarization"
)

func main() {
	root := &cobra.Command{
		Use:   "rustymem",
		Short: "Memory server for software agents backed by Qdrant",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := buildService()
			if err != nil {
				return err
			}
			return server.New(service, nil).Run()
		},
	}

	mcp := &cobra.Command{
		Use:   "mcp",
		Short: "Run the stdio MCP tool server",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := buildService()
			if err != nil {
				return err
			}
			// Keep stdout clean for the protocol; logs go to stderr.
			logger := log.New(os.Stderr, "[MCP] ", log.LstdFlags)
			return mcpserver.New(service, logger).Serve(os.Stdin, os.Stdout)
		},
	}

	root.AddCommand(serve, mcp)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildService wires the shared pipeline from environment configuration and
// ensures the default collection is ready.
func buildService() (*processing.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := log.New(os.Stderr, "[PROC] ", log.LstdFlags)
	store, err := qdrant.NewClient(cfg.QdrantURL, cfg.QdrantAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}

	embedder, err := embedding.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	summarizer := summarization.NewClient(cfg)
	registry := metrics.NewRegistry(prometheus.DefaultRegisterer)

	service := processing.NewService(cfg, store, embedder, summarizer, registry, logger)
	if err := service.Bootstrap(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure default collection: %w", err)
	}
	return service, nil
}
