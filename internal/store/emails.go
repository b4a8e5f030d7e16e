// ABOUTME: CRUD for email records, the root entity everything else hangs off
// ABOUTME: Deletes cascade to attachments, classifications, and tag assignments

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateEmail inserts a new email and fills in its generated ID. The
// message ID must be unique; a taken one reports ErrDuplicate.
func (s *Store) CreateEmail(ctx context.Context, email *Email) error {
	if err := email.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if email.CreatedAt.IsZero() {
		email.CreatedAt = now
	}
	email.UpdatedAt = now

	query := `
		INSERT INTO emails (message_id, subject, sender, recipients, cc, bcc,
			body_text, body_html, received_at, sent_at, size_bytes,
			has_attachments, is_read, is_flagged, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.pool.db.ExecContext(ctx, query,
		email.MessageID,
		email.Subject,
		email.Sender,
		joinAddressList(email.Recipients),
		nullString(joinAddressList(email.CC)),
		nullString(joinAddressList(email.BCC)),
		nullString(email.BodyText),
		nullString(email.BodyHTML),
		formatTime(email.ReceivedAt),
		nullTime(email.SentAt),
		nullInt64(email.SizeBytes),
		email.HasAttachments,
		email.IsRead,
		email.IsFlagged,
		formatTime(email.CreatedAt),
		formatTime(email.UpdatedAt),
	)
	if err != nil {
		return queryErr(fmt.Errorf("inserting email: %w", err))
	}
	if email.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading email id: %w", err)
	}

	s.logger.Debug("created email", "id", email.ID, "message_id", email.MessageID)
	return nil
}

// GetEmail retrieves an email by ID. Returns ErrNotFound if absent.
func (s *Store) GetEmail(ctx context.Context, id int64) (*Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE id = ?`

	email, err := scanEmail(s.pool.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying email: %w", err)
	}
	return email, nil
}

// GetEmailByMessageID retrieves an email by its external message ID.
// Returns ErrNotFound if absent.
func (s *Store) GetEmailByMessageID(ctx context.Context, messageID string) (*Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE message_id = ?`

	email, err := scanEmail(s.pool.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying email by message id: %w", err)
	}
	return email, nil
}

// UpdateEmail rewrites every mutable field of the email identified by
// email.ID. Returns ErrNotFound if no such row exists; changing the message
// ID onto a taken value reports ErrDuplicate.
func (s *Store) UpdateEmail(ctx context.Context, email *Email) error {
	if err := email.Validate(); err != nil {
		return err
	}
	email.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE emails
		SET message_id = ?, subject = ?, sender = ?, recipients = ?, cc = ?,
			bcc = ?, body_text = ?, body_html = ?, received_at = ?, sent_at = ?,
			size_bytes = ?, has_attachments = ?, is_read = ?, is_flagged = ?,
			updated_at = ?
		WHERE id = ?
	`

	res, err := s.pool.db.ExecContext(ctx, query,
		email.MessageID,
		email.Subject,
		email.Sender,
		joinAddressList(email.Recipients),
		nullString(joinAddressList(email.CC)),
		nullString(joinAddressList(email.BCC)),
		nullString(email.BodyText),
		nullString(email.BodyHTML),
		formatTime(email.ReceivedAt),
		nullTime(email.SentAt),
		nullInt64(email.SizeBytes),
		email.HasAttachments,
		email.IsRead,
		email.IsFlagged,
		formatTime(email.UpdatedAt),
		email.ID,
	)
	if err != nil {
		return queryErr(fmt.Errorf("updating email: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated email", "id", email.ID)
	return nil
}

// MarkEmailRead flips the read flag. Returns ErrNotFound if absent.
func (s *Store) MarkEmailRead(ctx context.Context, id int64, read bool) error {
	return s.setEmailFlag(ctx, id, "is_read", read)
}

// MarkEmailFlagged flips the follow-up flag. Returns ErrNotFound if absent.
func (s *Store) MarkEmailFlagged(ctx context.Context, id int64, flagged bool) error {
	return s.setEmailFlag(ctx, id, "is_flagged", flagged)
}

func (s *Store) setEmailFlag(ctx context.Context, id int64, column string, value bool) error {
	query := fmt.Sprintf("UPDATE emails SET %s = ?, updated_at = ? WHERE id = ?", column)

	affected, err := s.pool.ExecContext(ctx, query, value, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating %s: %w", column, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEmail removes the email plus, through the schema's foreign keys,
// its attachments, classification, and tag assignments. History rows
// survive with their email reference cleared. Returns ErrNotFound if the
// email does not exist.
func (s *Store) DeleteEmail(ctx context.Context, id int64) error {
	affected, err := s.pool.ExecContext(ctx, "DELETE FROM emails WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting email: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted email", "id", id)
	return nil
}

// ListEmails returns emails newest first. If limit is 0 or negative, a
// default of 100 is used, capped at 1000.
func (s *Store) ListEmails(ctx context.Context, limit, offset int) ([]*Email, error) {
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
		SELECT ` + emailColumns + `
		FROM emails
		ORDER BY received_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.pool.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying emails: %w", err)
	}
	defer rows.Close()

	var emails []*Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating emails: %w", err)
	}
	return emails, nil
}

// CountEmails returns the total number of stored emails.
func (s *Store) CountEmails(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRowContext(ctx, "SELECT COUNT(*) FROM emails").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting emails: %w", err)
	}
	return count, nil
}
