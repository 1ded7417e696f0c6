package types

import "errors"

// Pipeline error taxonomy. Per-file errors are recorded in the ingestion
// report; only ErrDimensionMismatch on the store side and ErrStoreUnavailable
// abort a run.
var (
	ErrUnsupportedFormat   = errors.New("unsupported document format")
	ErrParseFailure        = errors.New("document parse failure")
	ErrMemoryPressure      = errors.New("memory pressure did not subside")
	ErrOutOfMemory         = errors.New("out of memory")
	ErrEmbeddingProvider   = errors.New("embedding provider error")
	ErrVectorStore         = errors.New("vector store error")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrStoreUnavailable    = errors.New("vector store unavailable")
	ErrIngestionInProgress = errors.New("ingestion already in progress")
	ErrFileTooLarge        = errors.New("file exceeds size limit")
	ErrInvalidQuery        = errors.New("invalid query")
)

// Domain errors for type validation
var (
	ErrInvalidChunkID   = errors.New("invalid chunk ID")
	ErrInvalidScore     = errors.New("score must be between 0 and 1")
	ErrMissingSource    = errors.New("source file is required")
	ErrEmptyContent     = errors.New("content cannot be empty")
	ErrInvalidOrdinal   = errors.New("chunk ordinal out of range")
	ErrMissingEmbedding = errors.New("embedding vector is required")
)
