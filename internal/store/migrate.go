// ABOUTME: Versioned migration engine over the schema_version ledger
// ABOUTME: Each migration applies atomically with its ledger row in one transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Migration is one versioned schema change. Versions start at 1 and are
// contiguous; the registry in migrations.go is the compile-time source.
type Migration struct {
	Version     int
	Name        string
	Description string

	// Up and Down are the forward and reverse DDL steps.
	Up   []Statement
	Down []Statement

	// Prerequisites runs inside the migration transaction before any Up
	// statement. A non-nil error aborts the migration.
	Prerequisites func(ctx context.Context, tx *sql.Tx) error

	// PostApply runs inside the migration transaction after the ledger row
	// is written, wrapped in a savepoint. Seed data goes here; a failure is
	// logged and rolled back to the savepoint without failing the migration.
	PostApply func(ctx context.Context, tx *sql.Tx) error
}

// AppliedMigration is one row of the schema_version ledger.
type AppliedMigration struct {
	Version     int
	Description string
	AppliedAt   time.Time
}

// MigrationStatus summarizes where the database sits against the registry.
type MigrationStatus struct {
	Current int
	Latest  int
	Applied []AppliedMigration
	Pending []string
}

// MigratorOption adjusts a Migrator during construction.
type MigratorOption func(*Migrator)

// WithMigrations replaces the compiled-in registry. Intended for tests
// that exercise multi-step sequences.
func WithMigrations(migrations ...Migration) MigratorOption {
	return func(m *Migrator) {
		m.migrations = migrations
	}
}

// WithSeed attaches a seed hook to the registered migration at version.
// The hook runs through the savepoint machinery of PostApply; attaching to
// a version that already has a hook chains the two in order.
func WithSeed(version int, fn func(ctx context.Context, tx *sql.Tx) error) MigratorOption {
	return func(m *Migrator) {
		for i := range m.migrations {
			if m.migrations[i].Version != version {
				continue
			}
			if prev := m.migrations[i].PostApply; prev != nil {
				m.migrations[i].PostApply = func(ctx context.Context, tx *sql.Tx) error {
					if err := prev(ctx, tx); err != nil {
						return err
					}
					return fn(ctx, tx)
				}
			} else {
				m.migrations[i].PostApply = fn
			}
			return
		}
	}
}

// Migrator applies and rolls back registered migrations.
type Migrator struct {
	pool       *Pool
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrator returns a migrator over pool. The registry defaults to the
// compiled-in migrations and must be structurally sound: versions start at
// 1, ascend without gaps, and every migration carries both directions.
func NewMigrator(pool *Pool, logger *slog.Logger, opts ...MigratorOption) (*Migrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Migrator{
		pool:       pool,
		logger:     logger.With("component", "migrate"),
		migrations: registeredMigrations(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := validateRegistry(m.migrations); err != nil {
		return nil, err
	}
	return m, nil
}

func validateRegistry(migrations []Migration) error {
	for i, mig := range migrations {
		if mig.Version != i+1 {
			return &MigrationError{Version: mig.Version, Err: fmt.Errorf("registry out of sequence, expected version %d", i+1)}
		}
		if len(mig.Up) == 0 {
			return &MigrationError{Version: mig.Version, Err: errors.New("no up statements")}
		}
		if len(mig.Down) == 0 {
			return &MigrationError{Version: mig.Version, Err: errors.New("no down statements")}
		}
	}
	return nil
}

// Latest returns the highest registered version, or 0 with an empty registry.
func (m *Migrator) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// CurrentVersion returns the highest applied version. A database with no
// ledger table or an empty ledger reports version 0.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := m.pool.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, &MigrationError{Err: fmt.Errorf("reading schema version: %w", err)}
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// Applied returns the full ledger in version order. A database with no
// ledger table reports an empty history.
func (m *Migrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.pool.QueryContext(ctx, `
		SELECT version, applied_at, COALESCE(description, '')
		FROM schema_version
		ORDER BY version`)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, &MigrationError{Err: fmt.Errorf("reading migration history: %w", err)}
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			a         AppliedMigration
			appliedAt string
		)
		if err := rows.Scan(&a.Version, &appliedAt, &a.Description); err != nil {
			return nil, &MigrationError{Err: fmt.Errorf("scanning ledger row: %w", err)}
		}
		if a.AppliedAt, err = parseTime(appliedAt, "applied_at"); err != nil {
			return nil, &MigrationError{Version: a.Version, Err: err}
		}
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &MigrationError{Err: fmt.Errorf("reading migration history: %w", err)}
	}
	return applied, nil
}

// Pending returns the registered migrations not yet applied, in order.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if mig.Version > current {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// Up applies pending migrations in version order and reports how many ran.
// steps <= 0 applies all of them. Applying with nothing pending is a no-op.
func (m *Migrator) Up(ctx context.Context, steps int) (int, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		m.logger.Info("no pending migrations")
		return 0, nil
	}
	if steps <= 0 || steps > len(pending) {
		steps = len(pending)
	}
	applied := 0
	for _, mig := range pending[:steps] {
		if err := m.applyOne(ctx, mig); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// Down rolls back the most recent migrations and reports how many were
// reversed. steps <= 0 rolls back one. Rolling back with nothing applied is
// a no-op; asking for more steps than have been applied is rejected rather
// than clamped.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}
	if len(applied) == 0 {
		m.logger.Info("no migrations to roll back")
		return 0, nil
	}
	if steps <= 0 {
		steps = 1
	}
	if steps > len(applied) {
		return 0, &MigrationError{
			Version: applied[0].Version,
			Err:     fmt.Errorf("cannot roll back %d migrations, only %d applied", steps, len(applied)),
		}
	}

	reversed := 0
	for i := len(applied) - 1; i >= len(applied)-steps; i-- {
		mig, ok := m.byVersion(applied[i].Version)
		if !ok {
			return reversed, &MigrationError{Version: applied[i].Version, Err: errors.New("not registered")}
		}
		if err := m.rollbackOne(ctx, mig); err != nil {
			return reversed, err
		}
		reversed++
	}
	return reversed, nil
}

// ToVersion migrates up or down until the database sits at target. Version
// 0 means a bare database; negative targets are rejected. Migrating to the
// current version is a no-op.
func (m *Migrator) ToVersion(ctx context.Context, target int) error {
	if target < 0 {
		return &MigrationError{Version: target, Err: errors.New("target version below 0")}
	}
	if target > m.Latest() {
		return &MigrationError{Version: target, Err: errors.New("target version not registered")}
	}
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if current == target {
		m.logger.Info("database already at target version", "version", target)
		return nil
	}

	if target > current {
		for version := current + 1; version <= target; version++ {
			mig, ok := m.byVersion(version)
			if !ok {
				return &MigrationError{Version: version, Err: errors.New("not registered")}
			}
			if err := m.applyOne(ctx, mig); err != nil {
				return err
			}
		}
		return nil
	}

	for version := current; version > target; version-- {
		mig, ok := m.byVersion(version)
		if !ok {
			return &MigrationError{Version: version, Err: errors.New("not registered")}
		}
		if err := m.rollbackOne(ctx, mig); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) byVersion(version int) (Migration, bool) {
	for _, mig := range m.migrations {
		if mig.Version == version {
			return mig, true
		}
	}
	return Migration{}, false
}

// applyOne runs one migration atomically: prerequisites, forward DDL, the
// ledger row, then the seed hook under a savepoint. Any failure outside the
// savepoint rolls the whole transaction back, ledger row included.
func (m *Migrator) applyOne(ctx context.Context, mig Migration) error {
	m.logger.Info("applying migration", "version", mig.Version, "name", mig.Name)

	err := m.pool.WithTx(ctx, func(tx *sql.Tx) error {
		if mig.Prerequisites != nil {
			if err := mig.Prerequisites(ctx, tx); err != nil {
				return fmt.Errorf("prerequisites: %w", err)
			}
		}
		for _, stmt := range mig.Up {
			if _, err := tx.ExecContext(ctx, stmt.SQL); err != nil {
				return fmt.Errorf("step %s: %w", stmt.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, applied_at, description) VALUES (?, ?, ?)",
			mig.Version, formatTime(time.Now()), mig.Description); err != nil {
			return fmt.Errorf("recording version: %w", err)
		}
		if mig.PostApply != nil {
			if err := m.runSeed(ctx, tx, mig); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var migErr *MigrationError
		if errors.As(err, &migErr) {
			return err
		}
		return &MigrationError{Version: mig.Version, Err: err}
	}

	m.logger.Info("migration applied", "version", mig.Version)
	return nil
}

// runSeed executes the migration's PostApply hook inside a savepoint so a
// failed seed rolls back cleanly while the migration itself still commits.
func (m *Migrator) runSeed(ctx context.Context, tx *sql.Tx, mig Migration) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT seed_data"); err != nil {
		return fmt.Errorf("starting seed savepoint: %w", err)
	}
	if err := mig.PostApply(ctx, tx); err != nil {
		m.logger.Warn("seed data failed, continuing without it",
			"version", mig.Version, "error", err)
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO seed_data"); rbErr != nil {
			return fmt.Errorf("rolling back seed savepoint: %w", rbErr)
		}
	}
	if _, err := tx.ExecContext(ctx, "RELEASE seed_data"); err != nil {
		return fmt.Errorf("releasing seed savepoint: %w", err)
	}
	return nil
}

// rollbackOne reverses one migration atomically with its ledger row.
func (m *Migrator) rollbackOne(ctx context.Context, mig Migration) error {
	m.logger.Info("rolling back migration", "version", mig.Version, "name", mig.Name)

	err := m.pool.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range mig.Down {
			if _, err := tx.ExecContext(ctx, stmt.SQL); err != nil {
				return fmt.Errorf("step %s: %w", stmt.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM schema_version WHERE version = ?", mig.Version); err != nil {
			return fmt.Errorf("clearing version: %w", err)
		}
		return nil
	})
	if err != nil {
		return &MigrationError{Version: mig.Version, Err: err}
	}

	m.logger.Info("migration rolled back", "version", mig.Version)
	return nil
}

// Validate checks the database against the registry and reports findings
// rather than failing on the first: ledger rows no registered migration
// accounts for, and applied versions out of order.
func (m *Migrator) Validate(ctx context.Context) ([]string, error) {
	var issues []string

	known := make(map[int]bool, len(m.migrations))
	for _, mig := range m.migrations {
		known[mig.Version] = true
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	prev := 0
	for _, a := range applied {
		if !known[a.Version] {
			issues = append(issues, fmt.Sprintf("applied version %d is not registered", a.Version))
		}
		if a.Version <= prev {
			issues = append(issues, fmt.Sprintf("ledger version %d out of order", a.Version))
		}
		if a.Version > prev+1 {
			issues = append(issues, fmt.Sprintf("ledger skips from %d to %d", prev, a.Version))
		}
		prev = a.Version
	}

	return issues, nil
}

// Status reports the current version, the registry's latest, the applied
// ledger, and the names still pending.
func (m *Migrator) Status(ctx context.Context) (*MigrationStatus, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	status := &MigrationStatus{
		Current: current,
		Latest:  m.Latest(),
		Applied: applied,
	}
	for _, mig := range m.migrations {
		if mig.Version > current {
			status.Pending = append(status.Pending, mig.Name)
		}
	}
	return status, nil
}
