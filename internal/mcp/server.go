package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/ragkb/internal/indexer"
	"github.com/dshills/ragkb/internal/logger"
	"github.com/dshills/ragkb/internal/stats"
	"github.com/dshills/ragkb/internal/storage"
	"github.com/dshills/ragkb/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "ragkb"
	// ServerVersion is the default server version
	ServerVersion = "1.0.0"
)

// Ingester runs ingestion; satisfied by *indexer.Indexer.
type Ingester interface {
	IngestDirectory(ctx context.Context, dir string, opts indexer.Options) (*types.IngestionReport, error)
	Running() bool
}

// Retriever answers similarity queries; satisfied by *retrieval.Engine.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, threshold float64) ([]types.RetrievedDoc, error)
}

// Config holds tool defaults.
type Config struct {
	Version   string
	Ingest    indexer.Options // base options for ingest_documents
	TopK      int
	Threshold float64
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	indexer   Ingester
	retriever Retriever
	store     storage.VectorStore
	runs      storage.RunStore
	tracker   *stats.Tracker
	cfg       Config
	log       logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRunStore lets get_stats report the last ingestion run.
func WithRunStore(rs storage.RunStore) Option {
	return func(s *Server) { s.runs = rs }
}

// WithTracker lets get_stats report pipeline counters.
func WithTracker(t *stats.Tracker) Option {
	return func(s *Server) { s.tracker = t }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates a new MCP server instance and registers its tools.
func NewServer(idx Ingester, r Retriever, store storage.VectorStore, cfg Config, opts ...Option) *Server {
	if cfg.Version == "" {
		cfg.Version = ServerVersion
	}

	s := &Server{
		mcp:       server.NewMCPServer(ServerName, cfg.Version, server.WithToolCapabilities(false)),
		indexer:   idx,
		retriever: r,
		store:     store,
		cfg:       cfg,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()
	return s
}

// Serve runs the MCP server on stdio until ctx is cancelled or stdin closes.
// Logs must not go to stdout, which carries the protocol.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("mcp server listening on stdio", "name", ServerName, "version", s.cfg.Version)
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(ingestDocumentsTool(), s.handleIngestDocuments)
	s.mcp.AddTool(searchKnowledgeTool(), s.handleSearchKnowledge)
	s.mcp.AddTool(getStatsTool(), s.handleGetStats)
}
