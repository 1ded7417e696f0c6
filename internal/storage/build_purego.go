//go:build !sqlite_vec

package storage

// Default build: the pure Go driver from modernc.org/sqlite, no C toolchain
// needed. Cosine scores for Search are computed in Go (see vector_ops.go),
// which is fine for knowledge bases of a few hundred thousand chunks.

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver registered by modernc.org/sqlite.
	DriverName = "sqlite"

	// VectorExtensionAvailable reports whether vec_distance_cosine can be
	// pushed down into SQL.
	VectorExtensionAvailable = false

	// BuildMode is printed by `ragkb version` and reported in store stats.
	BuildMode = "purego"
)
