// Package indexer runs document ingestion end to end.
//
// The indexer walks a directory, parses each supported document, hashes
// its normalized text, skips documents whose hash is already known, chunks
// the rest and embeds and upserts the chunks in batches.
//
// # Basic Usage
//
//	store, _ := storage.NewSQLiteStorage("~/.ragkb/kb.db")
//	emb, _ := embedder.New(ctx, embedder.Config{Provider: embedder.ProviderLocal})
//	idx := indexer.New(store, store, emb,
//	    indexer.WithRunStore(store),
//	    indexer.WithLockFile("~/.ragkb/kb.db.lock"),
//	)
//
//	report, err := idx.IngestDirectory(ctx, "/path/to/docs", indexer.Options{
//	    BatchSize: 16,
//	})
//	fmt.Printf("%d processed, %d new chunks\n", report.ProcessedFiles, report.NewChunks)
//
// # Pipeline
//
// Files are processed sequentially, each one going through:
//
//  1. Memory checkpoint: persistent critical pressure skips the file
//  2. Size limit: oversize files are skipped
//  3. Parse and normalize
//  4. Hash: a known hash makes the file a duplicate unless ForceReindex is set
//  5. Chunk, semantic or basic
//  6. Per batch: checkpoint, reserve buffer bytes, embed, upsert (retried once)
//  7. Record the hash as indexed
//
// # Incremental Ingestion
//
// Running the same directory twice embeds nothing the second time; every
// chunk of an unchanged document is counted as a duplicate:
//
//	first, _ := idx.IngestDirectory(ctx, dir, indexer.Options{})
//	second, _ := idx.IngestDirectory(ctx, dir, indexer.Options{})
//	// second.NewChunks == 0
//	// second.DuplicateChunks == first.TotalChunks
//
// Chunk IDs are derived from the document hash and ordinal, so a forced
// re-index overwrites chunks instead of duplicating them.
//
// # Error Handling
//
// Per-file problems never stop a run. They are returned as FileResult
// entries in the report, with the reason copied into report.Errors:
//
//	for _, e := range report.Errors {
//	    log.Printf("%s: %s", e.FileName, e.Reason)
//	}
//
// The run itself stops, returning the partial report together with the
// error, when:
//   - ctx is cancelled (report.Cancelled is set)
//   - an embedding does not match the dimension already stored
//   - an upsert fails twice and the store no longer answers Ping
//
// # Concurrency
//
// One run at a time is allowed per Indexer, and per lock file across
// processes. A second concurrent call fails with types.ErrIngestionInProgress.
package indexer
