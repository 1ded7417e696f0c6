// Package types provides shared type definitions for the ragkb knowledge base.
//
// # Chunks
//
// Chunk is a bounded span of a source document produced by the chunker.
// IndexedChunk adds the embedding vector and the metadata persisted in the
// vector store:
//
//	ic := types.NewIndexedChunk(chunk, types.ChunkMetadata{
//	    SourceFile:  "manual.docx",
//	    ContentHash: hash,
//	    CreatedAt:   time.Now(),
//	}, vector)
//
// Chunk IDs are UUIDv5 values derived from the document hash and the chunk
// ordinal. Re-indexing the same document therefore replaces its rows.
//
// # Scores
//
// Every vector backend reports scores in one canonical convention: cosine
// similarity clamped to [0, 1], higher is better. Backends that report a
// distance convert it at their boundary:
//
//	score := types.NormalizeScore(types.ScoreDistance, distance)
//
// # Reports
//
// IngestionReport aggregates one FileResult per file. Duplicate and skipped
// files both count towards SkippedFiles; only failed files count towards
// FailedFiles.
package types
