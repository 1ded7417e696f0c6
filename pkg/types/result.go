package types

import "math"

// ScoreKind identifies the raw score a vector backend reports.
type ScoreKind int

const (
	// ScoreSimilarity is a cosine similarity, higher is better.
	ScoreSimilarity ScoreKind = iota
	// ScoreDistance is a cosine distance (1 - similarity), lower is better.
	ScoreDistance
)

// NormalizeScore converts a raw backend score into the canonical
// convention used throughout the pipeline: cosine similarity clamped to
// [0, 1]. NaN maps to 0.
func NormalizeScore(kind ScoreKind, raw float64) float64 {
	s := raw
	if kind == ScoreDistance {
		s = 1 - raw
	}
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// ScoredResult is a single vector store match. Score always follows the
// canonical convention of NormalizeScore.
type ScoredResult struct {
	ID         string
	Content    string
	SourceFile string
	ChunkIndex int
	Score      float64
}

// Validate checks if the scored result is valid
func (sr *ScoredResult) Validate() error {
	if sr.ID == "" {
		return ErrInvalidChunkID
	}
	if sr.Score < 0 || sr.Score > 1 {
		return ErrInvalidScore
	}
	if sr.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// RetrievedDoc is what retrieval hands back to callers building a prompt.
type RetrievedDoc struct {
	Content        string  `json:"content"`
	SourceFileName string  `json:"source_file_name"`
	Score          float64 `json:"score"`
}
