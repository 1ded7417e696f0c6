//go:build sqlite_vec

package storage

// Built with CGO_ENABLED=1 and -tags sqlite_vec: mattn/go-sqlite3 with the
// sqlite-vec extension loaded, so Search ranks inside SQLite.

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverName               = "sqlite3"
	VectorExtensionAvailable = true
	BuildMode                = "cgo"
)
