// Package mcp provides an MCP (Model Context Protocol) server for starcat.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvandessel/starcat/internal/config"
	"github.com/nvandessel/starcat/internal/logging"
	"github.com/nvandessel/starcat/internal/observability"
	"github.com/nvandessel/starcat/internal/ratelimit"
	"github.com/nvandessel/starcat/internal/store"
)

// Server wraps the MCP SDK server and exposes the starcat catalogue as tools.
type Server struct {
	server       *sdk.Server
	catalog      *store.SQLiteCatalog
	root         string
	settings     *config.StarcatConfig
	logger       *slog.Logger
	collector    *observability.Collector
	toolLimiters ratelimit.Tools
	audit        *AuditLogger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "starcat")
	Version string // Server version
	Root    string // Project root directory

	// Settings supplies generation and bench defaults. Nil means config.Default().
	Settings *config.StarcatConfig

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger

	// Registry receives tool metrics. Nil uses a private registry.
	Registry prometheus.Registerer
}

// NewServer opens the catalogue and registers starcat tools.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	var (
		catalog *store.SQLiteCatalog
		err     error
	)
	if settings.Database.Path != "" {
		catalog, err = store.OpenSQLiteCatalog(settings.Database.Path)
	} else {
		catalog, err = store.NewSQLiteCatalog(cfg.Root)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue: %w", err)
	}

	collector, err := observability.NewCollector(reg)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		catalog:      catalog,
		root:         cfg.Root,
		settings:     settings,
		logger:       logger,
		collector:    collector,
		toolLimiters: ratelimit.DefaultTools(),
		audit:        NewAuditLogger(store.LocalStarcatPath(cfg.Root)),
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})

	s.Close()

	return err
}

// Close closes the catalogue and audit log. It is safe to call more than once.
func (s *Server) Close() error {
	s.audit.Close()
	s.audit = nil
	if s.catalog == nil {
		return nil
	}
	err := s.catalog.Close()
	s.catalog = nil
	return err
}
