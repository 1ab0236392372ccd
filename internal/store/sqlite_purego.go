//go:build !sqlite_cgo

package store

// Pure Go SQLite, no C compiler required. Used by default and in tests.
import (
	_ "modernc.org/sqlite"
)

// SQLiteDriverName is the SQLite driver linked into this build
const SQLiteDriverName = "sqlite"
