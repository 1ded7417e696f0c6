package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/ragkb/pkg/types"
)

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, db *sql.DB, queryVector []float32, limit int, threshold float64) ([]types.ScoredResult, error) {
	var (
		candidates []candidate
		err        error
	)
	if VectorExtensionAvailable {
		candidates, err = searchVectorOptimized(ctx, db, queryVector, limit, threshold)
	} else {
		candidates, err = searchVectorFallback(ctx, db, queryVector, limit, threshold)
	}
	if err != nil {
		return nil, err
	}
	return loadResults(ctx, db, candidates)
}

// searchVectorOptimized uses the sqlite-vec extension to rank in SQL.
// vec_distance_cosine returns a distance, converted at this boundary.
func searchVectorOptimized(ctx context.Context, db *sql.DB, queryVector []float32, limit int, threshold float64) ([]candidate, error) {
	blob := serializeVector(queryVector)
	rows, err := db.QueryContext(ctx, `
		SELECT id, source_file, chunk_index, vec_distance_cosine(vector, ?) AS distance
		FROM chunks
		WHERE (1.0 - vec_distance_cosine(vector, ?)) >= ?
		ORDER BY distance ASC, source_file ASC, chunk_index ASC
		LIMIT ?
	`, blob, blob, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to execute vector search: %w", types.ErrVectorStore, err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]candidate, 0, limit)
	for rows.Next() {
		var c candidate
		var distance float64
		if err := rows.Scan(&c.id, &c.sourceFile, &c.chunkIndex, &distance); err != nil {
			return nil, fmt.Errorf("%w: failed to scan result: %w", types.ErrVectorStore, err)
		}
		c.score = types.NormalizeScore(types.ScoreDistance, distance)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// searchVectorFallback computes cosine similarity in Go for builds without
// the vector extension.
func searchVectorFallback(ctx context.Context, db *sql.DB, queryVector []float32, limit int, threshold float64) ([]candidate, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, source_file, chunk_index, vector FROM chunks")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query embeddings: %w", types.ErrVectorStore, err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]candidate, 0, 256)
	for rows.Next() {
		var c candidate
		var blob []byte
		if err := rows.Scan(&c.id, &c.sourceFile, &c.chunkIndex, &blob); err != nil {
			return nil, fmt.Errorf("%w: failed to scan embedding: %w", types.ErrVectorStore, err)
		}
		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue
		}
		c.score = types.NormalizeScore(types.ScoreSimilarity, cosineSimilarity(queryVector, vector))
		if c.score < threshold {
			continue
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// loadResults fetches content for ranked candidates, keeping their order.
func loadResults(ctx context.Context, db *sql.DB, candidates []candidate) ([]types.ScoredResult, error) {
	results := make([]types.ScoredResult, 0, len(candidates))
	if len(candidates) == 0 {
		return results, nil
	}

	args := make([]any, len(candidates))
	byID := make(map[string]int, len(candidates))
	for i, c := range candidates {
		args[i] = c.id
		byID[c.id] = i
	}
	query := "SELECT id, content FROM chunks WHERE id IN (?" + strings.Repeat(",?", len(candidates)-1) + ")"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load chunks: %w", types.ErrVectorStore, err)
	}
	defer func() { _ = rows.Close() }()

	content := make([]string, len(candidates))
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("%w: failed to scan chunk: %w", types.ErrVectorStore, err)
		}
		content[byID[id]] = text
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, c := range candidates {
		results = append(results, types.ScoredResult{
			ID:         c.id,
			Content:    content[i],
			SourceFile: c.sourceFile,
			ChunkIndex: c.chunkIndex,
			Score:      c.score,
		})
	}
	return results, nil
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate represents a chunk with its similarity score
type candidate struct {
	id         string
	sourceFile string
	chunkIndex int
	score      float64
}

// sortCandidates orders by score descending, ties by source file then ordinal.
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.sourceFile != b.sourceFile {
			return a.sourceFile < b.sourceFile
		}
		return a.chunkIndex < b.chunkIndex
	})
}

// CosineSimilarity is exported for the other vector backends and tests.
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
