//go:build forge_sqlite3

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName selects the cgo-accelerated mattn/go-sqlite3 driver. Build
// with -tags forge_sqlite3 on a platform where cgo and a C toolchain
// are available and the modernc.org/sqlite's pure-Go performance isn't
// enough.
const driverName = "sqlite3"
