package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/dshills/ragkb/pkg/types"
)

// Mode selects the splitting algorithm.
type Mode int

const (
	// ModeSemantic splits on section structure first.
	ModeSemantic Mode = iota
	// ModeBasic slides a fixed window and snaps cuts to nearby boundaries.
	ModeBasic
)

func (m Mode) String() string {
	if m == ModeBasic {
		return "basic"
	}
	return "semantic"
}

// Chunker splits document text into bounded chunks. Sizes left at zero are
// taken from the profile of the detected document type. A Chunker holds no
// mutable state and is safe for concurrent use.
type Chunker struct {
	chunkSize    int
	minChunkSize int
	overlap      int
	mode         Mode
	docType      types.DocType
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the maximum chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) { c.chunkSize = size }
}

// WithMinChunkSize sets the size below which chunks are merged.
func WithMinChunkSize(size int) Option {
	return func(c *Chunker) { c.minChunkSize = size }
}

// WithOverlap sets the overlap between consecutive windows in basic mode.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) { c.overlap = overlap }
}

// WithMode selects semantic or basic splitting.
func WithMode(mode Mode) Option {
	return func(c *Chunker) { c.mode = mode }
}

// WithDocType disables classification and forces a document type.
func WithDocType(docType types.DocType) Option {
	return func(c *Chunker) { c.docType = docType }
}

// New creates a Chunker. Without options it classifies every document and
// splits semantically using the matching profile.
func New(opts ...Option) *Chunker {
	c := &Chunker{mode: ModeSemantic}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the configured splitting mode.
func (c *Chunker) Mode() Mode {
	return c.mode
}

// ProfileFor resolves the effective sizes for a document type: explicit
// options override the type profile. The minimum is capped at half the
// maximum and the overlap below half the maximum, so short tails can always
// be merged or rebalanced within bounds.
func (c *Chunker) ProfileFor(docType types.DocType) Profile {
	p := ProfileFor(docType)
	if c.chunkSize > 0 {
		p.ChunkSize = c.chunkSize
	}
	if c.minChunkSize > 0 {
		p.MinChunkSize = c.minChunkSize
	}
	if c.overlap > 0 {
		p.ChunkOverlap = c.overlap
	}

	if p.ChunkSize < 2 {
		p.ChunkSize = 2
	}
	if p.MinChunkSize > p.ChunkSize/2 {
		p.MinChunkSize = p.ChunkSize / 2
	}
	if p.ChunkOverlap >= p.ChunkSize/2 {
		p.ChunkOverlap = p.ChunkSize / 2
		if p.ChunkOverlap > 0 {
			p.ChunkOverlap--
		}
	}
	return p
}

// Split returns the chunk texts of text in order. Empty or blank input
// yields an empty slice.
func (c *Chunker) Split(text string) []string {
	texts, _ := c.SplitWithType(text)
	return texts
}

// SplitWithType is Split that also reports the document type used to pick
// the profile.
func (c *Chunker) SplitWithType(text string) ([]string, types.DocType) {
	docType := c.docType
	if !docType.Valid() {
		docType = Classify(text)
	}

	if strings.TrimSpace(text) == "" {
		return []string{}, docType
	}

	p := c.ProfileFor(docType)
	if c.mode == ModeBasic {
		return splitBasic(text, p), docType
	}
	return splitSemantic(text, p), docType
}

// Chunk splits text and wraps each piece with its ordinal, the chunk total,
// the document type and the source file name.
func (c *Chunker) Chunk(sourceFile, text string) []types.Chunk {
	texts, docType := c.SplitWithType(text)
	chunks := make([]types.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = types.Chunk{
			Content:    t,
			Index:      i,
			Total:      len(texts),
			DocType:    docType,
			SourceFile: sourceFile,
		}
	}
	return chunks
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
