// Package stats collects ingestion and retrieval counters.
//
// A Tracker is a passive sink safe for concurrent use. The indexer and
// the retriever record into it, the CLI prints its Snapshot, and the
// metrics endpoint registers it directly as a Prometheus collector.
package stats
