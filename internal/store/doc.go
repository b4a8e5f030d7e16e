// Package store provides the embedded SQLite storage core for pigeonhole.
//
// # Architecture
//
// The package is organized around a handful of cooperating pieces, all built
// over one shared *Pool:
//
//   - Pool: connection management, pragmas, transactions, online backup
//   - Migrator: versioned schema migrations over the schema registry
//   - IndexManager: declared secondary indexes, stats, and analysis
//   - SearchEngine: full-text queries over the trigger-synced FTS5 index
//   - Queries: filtered/sorted/paginated retrieval and statistics
//   - Store: entity CRUD plus administrative operations
//
// The Pool is explicit and injected; nothing in this package holds global
// state. Callers that want a connection of their own register it under a
// key with Pool.Conn and release it with Pool.Release.
//
// # Data Models
//
//   - Email: one ingested message, unique by message_id
//   - Attachment: file metadata belonging to an email (cascade delete)
//   - Classification: at most one priority assessment per email
//   - Rule: classification rule definitions, independent of emails
//   - HistoryEntry: audit trail; survives email deletion (email_id set null)
//   - Tag / EmailTag: labels and their many-to-many assignment
//
// # SQLite Configuration
//
// Connections are configured through the driver DSN so every pooled
// connection gets the same treatment:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA synchronous=NORMAL;
//	PRAGMA busy_timeout=<config>;
//	PRAGMA cache_size=-<config KB>;
//	PRAGMA temp_store=MEMORY;
//
// The default driver is modernc.org/sqlite (pure Go). Building with
// -tags cgo_sqlite switches to mattn/go-sqlite3.
//
// # Error Handling
//
// Failures carry a kind (ConnectionError, TransactionError, QueryError,
// MigrationError, SearchIndexError) matched with errors.As, and where it
// applies a condition (ErrNotFound, ErrDuplicate, ErrInvalid) matched with
// errors.Is. Constraint violations are never swallowed.
//
// All methods accept context.Context for cancellation support.
//
// # Migrations
//
// Migrations are registered at compile time in migrations.go and applied
// explicitly through the Migrator; nothing runs DDL implicitly on open.
// Seed data is attached from the outside via WithSeed and is applied inside
// a savepoint so a failing seed never blocks schema correctness.
package store
