// ABOUTME: Store-level maintenance: integrity checks, vacuum, and offline
// ABOUTME: restore of database files produced by Pool.Backup

package store

import (
	"context"
	"fmt"
	"io"
	"os"
)

// IntegrityCheck runs SQLite's built-in integrity check. ok is true when
// the database reports no problems; otherwise problems carries the
// database's own descriptions of what is wrong.
func (s *Store) IntegrityCheck(ctx context.Context) (bool, []string, error) {
	rows, err := s.pool.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return false, nil, fmt.Errorf("running integrity check: %w", err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return false, nil, fmt.Errorf("scanning integrity result: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return false, nil, fmt.Errorf("iterating integrity results: %w", err)
	}

	if len(problems) > 0 {
		s.logger.Warn("integrity check found problems", "count", len(problems))
		return false, problems, nil
	}
	return true, nil, nil
}

// Vacuum rebuilds the database file, reclaiming space left by deleted
// rows. It takes a write lock for the duration.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.pool.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuuming database: %w", err)
	}
	s.logger.Info("database vacuumed")
	return nil
}

// Optimize refreshes the query planner's statistics.
func (s *Store) Optimize(ctx context.Context) error {
	return s.indexes.Optimize(ctx)
}

// Backup writes a consistent snapshot of the live database to dest. See
// Pool.Backup.
func (s *Store) Backup(ctx context.Context, dest string) error {
	return s.pool.Backup(ctx, dest)
}

// RestoreFile replaces the database file at dst with the backup at src and
// removes stale -wal and -shm siblings so the next open does not replay a
// write-ahead log from the overwritten database. Every pool on dst must be
// closed first.
func RestoreFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening backup: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating database file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying backup: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing database file: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dst + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale %s file: %w", suffix, err)
		}
	}
	return nil
}
