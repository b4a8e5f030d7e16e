//go:build cgo_sqlite

// ABOUTME: Registers the cgo SQLite driver (mattn/go-sqlite3)
// ABOUTME: Selected with -tags cgo_sqlite; requires CGO_ENABLED=1

package store

import (
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

// buildDSN encodes the connection pragmas into the DSN using mattn's
// _name=value parameter form. temp_store has no DSN equivalent here; the
// engine default (file-backed temp tables) is acceptable for this driver.
func buildDSN(path string, cfg PoolConfig) string {
	return path +
		"?_journal_mode=WAL" +
		"&_foreign_keys=on" +
		"&_synchronous=NORMAL" +
		fmt.Sprintf("&_busy_timeout=%d", cfg.BusyTimeout/time.Millisecond) +
		fmt.Sprintf("&_cache_size=-%d", cfg.CacheKB)
}
