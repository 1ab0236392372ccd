//go:build sqlite_cgo

package store

// Build with CGO_ENABLED=1 go build -tags sqlite_cgo ./...
import (
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDriverName is the SQLite driver linked into this build
const SQLiteDriverName = "sqlite3"
