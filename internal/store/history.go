// ABOUTME: Append-only audit trail of actions taken on emails
// ABOUTME: Entries keep a nullable email reference that survives email deletion

package store

import (
	"context"
	"fmt"
	"time"
)

// AddHistory appends an audit entry and fills in its generated ID. A
// dangling email reference reports ErrInvalid; a nil EmailID records a
// system-level action.
func (s *Store) AddHistory(ctx context.Context, entry *HistoryEntry) error {
	if entry.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalid)
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO history (email_id, action_type, action_details, performed_at)
		VALUES (?, ?, ?, ?)
	`

	res, err := s.pool.db.ExecContext(ctx, query,
		nullInt64(entry.EmailID),
		entry.Action,
		nullString(entry.Details),
		formatTime(entry.PerformedAt),
	)
	if err != nil {
		return queryErr(fmt.Errorf("inserting history entry: %w", err))
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading history id: %w", err)
	}

	s.logger.Debug("recorded history", "id", entry.ID, "action", entry.Action)
	return nil
}

// ListEmailHistory returns the audit entries of one email, newest first.
func (s *Store) ListEmailHistory(ctx context.Context, emailID int64) ([]*HistoryEntry, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM history
		WHERE email_id = ?
		ORDER BY performed_at DESC, id DESC
	`
	return s.listHistory(ctx, query, emailID)
}

// ListRecentHistory returns the newest audit entries across all emails.
// If limit is 0 or negative, a default of 100 is used, capped at 1000.
func (s *Store) ListRecentHistory(ctx context.Context, limit, offset int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + historyColumns + `
		FROM history
		ORDER BY performed_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	return s.listHistory(ctx, query, limit, offset)
}

func (s *Store) listHistory(ctx context.Context, query string, args ...any) ([]*HistoryEntry, error) {
	rows, err := s.pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}
