//go:build !cgo_sqlite

// ABOUTME: Registers the pure-Go SQLite driver (modernc.org/sqlite), the default
// ABOUTME: Build with -tags cgo_sqlite to use mattn/go-sqlite3 instead

package store

import (
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// buildDSN encodes the connection pragmas into the DSN. database/sql opens
// connections lazily, so pragmas set here reach every pooled connection,
// not just the first one.
func buildDSN(path string, cfg PoolConfig) string {
	return path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=synchronous(NORMAL)" +
		fmt.Sprintf("&_pragma=busy_timeout(%d)", cfg.BusyTimeout/time.Millisecond) +
		fmt.Sprintf("&_pragma=cache_size(-%d)", cfg.CacheKB) +
		"&_pragma=temp_store(MEMORY)"
}
