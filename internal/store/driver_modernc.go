//go:build !forge_sqlite3

package store

import (
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver registered for Open to use.
// The default build is pure Go: no cgo toolchain required to build or
// cross-compile forge.
const driverName = "sqlite"
