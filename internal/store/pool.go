// ABOUTME: Connection pool over one SQLite file with keyed dedicated connections
// ABOUTME: Applies durability pragmas via the driver DSN and scopes transactions

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultBusyTimeout = 30 * time.Second
	defaultCacheKB     = 10000
)

// PoolConfig controls the pragmas and limits applied when the pool opens.
// The zero value is usable; missing fields take the defaults above.
type PoolConfig struct {
	// BusyTimeout bounds how long a statement waits on the engine's write
	// lock before failing instead of hanging.
	BusyTimeout time.Duration

	// CacheKB is the per-connection page cache size in kilobytes.
	CacheKB int

	// MaxOpenConns caps the underlying pool; 0 means unlimited. WAL mode
	// lets any number of readers proceed while one writer commits.
	MaxOpenConns int
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.CacheKB <= 0 {
		c.CacheKB = defaultCacheKB
	}
	return c
}

// Pool owns access to one backing database file. It is explicit and
// injected: construct it once, hand it to whatever needs storage access.
//
// Callers that need a connection of their own (one per worker) register it
// under a key with Conn and give it back with Release. Everything else goes
// through the pooled ExecContext/QueryContext methods or WithTx.
type Pool struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	conns  map[string]*sql.Conn
	closed bool
}

// Open opens the database at path, creating the file and parent directories
// if needed. The DSN carries the WAL/foreign-key/synchronous/busy-timeout/
// cache pragmas so they apply to every pooled connection. The journal mode
// is verified after open; a silent fallback to rollback journaling would
// serialize readers behind the writer.
func Open(path string, cfg PoolConfig, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")
	cfg = cfg.withDefaults()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &ConnectionError{Path: path, Err: fmt.Errorf("creating database directory: %w", err)}
	}

	db, err := sql.Open(driverName, buildDSN(path, cfg))
	if err != nil {
		return nil, &ConnectionError{Path: path, Err: fmt.Errorf("opening database: %w", err)}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		db.Close()
		return nil, &ConnectionError{Path: path, Err: fmt.Errorf("reading journal mode: %w", err)}
	}
	if !strings.EqualFold(mode, "wal") {
		db.Close()
		return nil, &ConnectionError{Path: path, Err: fmt.Errorf("journal mode is %q, want wal", mode)}
	}

	p := &Pool{
		db:     db,
		path:   path,
		logger: logger,
		conns:  make(map[string]*sql.Conn),
	}

	logger.Info("database pool opened", "path", path, "busy_timeout", cfg.BusyTimeout)
	return p, nil
}

// Path returns the backing database file path.
func (p *Pool) Path() string { return p.path }

// Conn returns the dedicated connection registered under key, creating it on
// first use. The same key always yields the same connection and connections
// are never shared between keys. The pool's lock is held only while the map
// is touched, never while a connection is established or used.
func (p *Pool) Conn(ctx context.Context, key string) (*sql.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &ConnectionError{Path: p.path, Err: errors.New("pool is closed")}
	}
	if conn, ok := p.conns[key]; ok {
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, &ConnectionError{Path: p.path, Err: fmt.Errorf("acquiring connection for %q: %w", key, err)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		conn.Close()
		return nil, &ConnectionError{Path: p.path, Err: errors.New("pool is closed")}
	}
	if existing, ok := p.conns[key]; ok {
		// Lost a race for this key; keep the registered one.
		conn.Close()
		return existing, nil
	}
	p.conns[key] = conn
	p.logger.Debug("registered connection", "key", key)
	return conn, nil
}

// Release closes and forgets the dedicated connection for key. Releasing an
// unknown key is a no-op.
func (p *Pool) Release(key string) error {
	p.mu.Lock()
	conn, ok := p.conns[key]
	delete(p.conns, key)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return &ConnectionError{Path: p.path, Err: fmt.Errorf("releasing connection %q: %w", key, err)}
	}
	return nil
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil; any error from fn rolls back every write and is returned
// unchanged. Begin/commit/rollback failures surface as *TransactionError.
func (p *Pool) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return &TransactionError{Op: "begin", Err: err}
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return &TransactionError{Op: "rollback", Err: errors.Join(err, rbErr)}
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return &TransactionError{Op: "commit", Err: err}
	}
	return nil
}

// ExecContext runs a parameterized statement and returns the affected row
// count. Values are always bound, never interpolated.
func (p *Pool) ExecContext(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, queryErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, queryErr(err)
	}
	return n, nil
}

// QueryContext runs a parameterized query. The caller owns the returned rows.
func (p *Pool) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryErr(err)
	}
	return rows, nil
}

// QueryRowContext runs a parameterized single-row query.
func (p *Pool) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

// Backup writes an online copy of the live database to destPath using
// VACUUM INTO. Readers on other connections keep reading during the copy.
// The destination must not already exist.
func (p *Pool) Backup(ctx context.Context, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return &ConnectionError{Path: destPath, Err: errors.New("backup destination already exists")}
	} else if !errors.Is(err, os.ErrNotExist) {
		return &ConnectionError{Path: destPath, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return &ConnectionError{Path: destPath, Err: fmt.Errorf("creating backup directory: %w", err)}
	}

	if _, err := p.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return queryErr(fmt.Errorf("backing up to %s: %w", destPath, err))
	}

	p.logger.Info("database backed up", "dest", destPath)
	return nil
}

// PoolStats reports pool usage for status displays.
type PoolStats struct {
	// Keyed is the number of dedicated connections currently registered.
	Keyed int
	// DB carries the underlying database/sql pool counters.
	DB sql.DBStats
}

// Stats returns a snapshot of pool usage.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	keyed := len(p.conns)
	p.mu.Unlock()
	return PoolStats{Keyed: keyed, DB: p.db.Stats()}
}

// Close releases every keyed connection and closes the pool. Calling Close
// more than once is safe.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	var errs []error
	for key, conn := range conns {
		if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, fmt.Errorf("closing connection %q: %w", key, err))
		}
	}
	if err := p.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &ConnectionError{Path: p.path, Err: errors.Join(errs...)}
	}

	p.logger.Debug("database pool closed", "path", p.path)
	return nil
}
