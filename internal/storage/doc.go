// Package storage provides SQLite-based persistence for the knowledge base.
//
// One database holds:
//   - meta: store settings, most importantly the embedding dimension fixed by the first upsert
//   - chunks: chunk text, source metadata and the embedding as a little-endian float32 blob
//   - indexed_documents: content hashes of fully indexed documents (the dedup store)
//   - ingestion_runs: per-run summaries
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage(".ragkb/knowledge.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	err = db.Upsert(ctx, chunks)
//	results, err := db.Search(ctx, queryVector, 5, 0.3)
//
// Chunk IDs are deterministic, so upserting the same document twice replaces
// rows instead of duplicating them.
//
// # Search
//
// Search scores are cosine similarity clamped to [0,1]. Builds with the
// sqlite_vec tag rank in SQL with vec_distance_cosine and convert the
// distance; other builds scan the table and compute similarity in Go.
//
// # Schema Migrations
//
// Migrations are versioned with semantic versions and applied in order when
// the database is opened. The applied versions are kept in schema_version.
package storage
