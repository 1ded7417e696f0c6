package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/ragkb/internal/chunker"
	"github.com/dshills/ragkb/internal/retrieval"
	"github.com/dshills/ragkb/internal/storage"
	"github.com/dshills/ragkb/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodeIngestionInProgress = -32002 // Another ingestion run is already active
	ErrorCodeEmptyQuery          = -32004 // Query parameter is empty
	ErrorCodeStoreUnavailable    = -32005 // Vector store cannot be reached
)

// maxReportedErrors caps the per-file errors echoed back to the client.
const maxReportedErrors = 5

// handleIngestDocuments handles the ingest_documents tool invocation
func (s *Server) handleIngestDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	opts := s.cfg.Ingest
	opts.ForceReindex = getBoolDefault(args, "force_reindex", opts.ForceReindex)
	if batch := getIntDefault(args, "batch_size", 0); batch != 0 {
		if batch < 1 || batch > 128 {
			return nil, newMCPError(ErrorCodeInvalidParams, "batch_size must be between 1 and 128", map[string]interface{}{
				"param": "batch_size",
				"value": batch,
			})
		}
		opts.BatchSize = batch
	}
	if semantic, ok := args["semantic"].(bool); ok {
		opts.ChunkMode = chunker.ModeBasic
		if semantic {
			opts.ChunkMode = chunker.ModeSemantic
		}
	}

	report, err := s.indexer.IngestDirectory(ctx, path, opts)
	switch {
	case errors.Is(err, types.ErrIngestionInProgress):
		return nil, newMCPError(ErrorCodeIngestionInProgress, "an ingestion run is already in progress", nil)
	case err != nil && report == nil:
		return nil, newMCPError(ErrorCodeInternalError, "ingestion failed", map[string]interface{}{
			"error": err.Error(),
		})
	case err != nil:
		code := ErrorCodeInternalError
		if errors.Is(err, types.ErrStoreUnavailable) {
			code = ErrorCodeStoreUnavailable
		}
		return nil, newMCPError(code, "ingestion stopped", map[string]interface{}{
			"error":  err.Error(),
			"report": reportResponse(report),
		})
	}

	return mcp.NewToolResultText(formatJSON(reportResponse(report))), nil
}

func reportResponse(r *types.IngestionReport) map[string]interface{} {
	response := map[string]interface{}{
		"run_id":           r.RunID,
		"total_files":      r.TotalFiles,
		"processed_files":  r.ProcessedFiles,
		"skipped_files":    r.SkippedFiles,
		"failed_files":     r.FailedFiles,
		"total_chunks":     r.TotalChunks,
		"new_chunks":       r.NewChunks,
		"duplicate_chunks": r.DuplicateChunks,
		"duration_ms":      r.Duration.Milliseconds(),
		"cancelled":        r.Cancelled,
	}

	if len(r.Errors) > 0 {
		// Include first few errors
		if len(r.Errors) > maxReportedErrors {
			response["errors"] = r.Errors[:maxReportedErrors]
			response["error_count"] = len(r.Errors)
		} else {
			response["errors"] = r.Errors
		}
	}
	return response
}

// handleSearchKnowledge handles the search_knowledge tool invocation
func (s *Server) handleSearchKnowledge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", s.cfg.TopK)
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	if topK > retrieval.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 100", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	threshold := getFloatDefault(args, "threshold", s.cfg.Threshold)
	if threshold < 0 || threshold > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "threshold must be between 0 and 1", map[string]interface{}{
			"param": "threshold",
			"value": threshold,
		})
	}

	docs, err := s.retriever.Retrieve(ctx, query, topK, threshold)
	switch {
	case errors.Is(err, types.ErrInvalidQuery):
		return nil, newMCPError(ErrorCodeEmptyQuery, err.Error(), nil)
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"query":   query,
		"count":   len(docs),
		"results": docs,
		"context": retrieval.FormatContext(docs),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStats handles the get_stats tool invocation
func (s *Server) handleGetStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	health := map[string]interface{}{
		"store_accessible":      true,
		"ingestion_in_progress": s.indexer.Running(),
	}
	if err := s.store.Ping(ctx); err != nil {
		health["store_accessible"] = false
		health["store_error"] = err.Error()
	}

	response := map[string]interface{}{
		"health": health,
	}

	if health["store_accessible"] == true {
		st, err := s.store.Stats(ctx)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to get store statistics", map[string]interface{}{
				"error": err.Error(),
			})
		}
		response["store"] = st
	}

	if s.runs != nil {
		run, err := s.runs.LastRun(ctx)
		switch {
		case err == nil:
			response["last_run"] = map[string]interface{}{
				"run_id":          run.RunID,
				"directory":       run.Directory,
				"started_at":      run.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
				"duration_ms":     run.Duration.Milliseconds(),
				"processed_files": run.ProcessedFiles,
				"skipped_files":   run.SkippedFiles,
				"failed_files":    run.FailedFiles,
				"new_chunks":      run.NewChunks,
				"cancelled":       run.Cancelled,
			}
		case errors.Is(err, storage.ErrNotFound):
			response["last_run"] = nil
		default:
			s.log.Warn("failed to load last run", "error", err)
		}
	}

	if s.tracker != nil {
		snap := s.tracker.Snapshot()
		response["counters"] = snap
		response["avg_embedding_latency_ms"] = snap.AvgEmbeddingLatency().Milliseconds()
		response["avg_retrieval_latency_ms"] = snap.AvgRetrievalLatency().Milliseconds()
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is absolute and readable
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotFound
		}
		return ErrPathNotReadable
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
)
