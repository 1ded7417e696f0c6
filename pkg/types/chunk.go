package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocType is the structural category inferred for a document. It selects
// the default chunking profile.
type DocType string

const (
	DocTechnical     DocType = "technical"
	DocKnowledgeBase DocType = "knowledge_base"
	DocStructured    DocType = "structured"
	DocNarrative     DocType = "narrative"
)

// Valid reports whether d is one of the known document types.
func (d DocType) Valid() bool {
	switch d {
	case DocTechnical, DocKnowledgeBase, DocStructured, DocNarrative:
		return true
	default:
		return false
	}
}

// Chunk is a bounded span of a source document. Chunks only live for the
// duration of an ingestion pass.
type Chunk struct {
	Content    string
	Index      int // 0-based ordinal within the document
	Total      int // number of chunks the document produced
	DocType    DocType
	SourceFile string // base name of the source document
}

// Validate checks if the chunk is well formed
func (c *Chunk) Validate() error {
	if c.Content == "" {
		return ErrEmptyContent
	}
	if c.SourceFile == "" {
		return ErrMissingSource
	}
	if c.Index < 0 || c.Total <= 0 || c.Index >= c.Total {
		return ErrInvalidOrdinal
	}
	return nil
}

// ChunkMetadata is attached to every chunk before it is embedded.
type ChunkMetadata struct {
	SourceFile  string
	SourcePath  string
	ContentHash string
	CreatedAt   time.Time
}

// IndexedChunk is a chunk together with its embedding and metadata as
// persisted in the vector store. It is never modified after being written.
type IndexedChunk struct {
	ID        string
	Chunk     Chunk
	Embedding []float32
	Metadata  ChunkMetadata
}

// chunkNamespace scopes the deterministic chunk IDs.
var chunkNamespace = uuid.MustParse("6f1c3a52-9d0e-4b7a-8e55-2c4d7f9a1b30")

// ChunkID derives a stable identifier from the document hash and chunk
// ordinal, so re-indexing a document overwrites its previous chunks.
func ChunkID(contentHash string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s:%d", contentHash, index))).String()
}

// NewIndexedChunk attaches metadata and an embedding to c.
func NewIndexedChunk(c Chunk, meta ChunkMetadata, vector []float32) IndexedChunk {
	return IndexedChunk{
		ID:        ChunkID(meta.ContentHash, c.Index),
		Chunk:     c,
		Embedding: vector,
		Metadata:  meta,
	}
}

// Validate checks the chunk, its metadata and the presence of an embedding
func (ic *IndexedChunk) Validate() error {
	if ic.ID == "" {
		return ErrInvalidChunkID
	}
	if err := ic.Chunk.Validate(); err != nil {
		return err
	}
	if ic.Metadata.ContentHash == "" {
		return fmt.Errorf("content hash is required: %w", ErrMissingSource)
	}
	if len(ic.Embedding) == 0 {
		return ErrMissingEmbedding
	}
	return nil
}
