package store

import (
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

func init() {
	// sqlx only knows "sqlite3"; teach it the pure Go driver name too.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// driverName maps the configured driver onto a registered database/sql
// driver. Both sqlite spellings resolve to whichever SQLite build is linked.
func driverName(driver string) string {
	if isSQLite(driver) {
		return SQLiteDriverName
	}
	return driver
}

func isSQLite(driver string) bool {
	return driver == "sqlite" || driver == "sqlite3"
}
