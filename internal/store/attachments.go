// ABOUTME: CRUD for attachment rows hanging off emails
// ABOUTME: Rows cascade away with their email; payloads live at FilePath on disk

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateAttachment inserts an attachment row and fills in its generated ID.
// A dangling email ID reports ErrInvalid through the foreign key.
func (s *Store) CreateAttachment(ctx context.Context, att *Attachment) error {
	if err := att.Validate(); err != nil {
		return err
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO attachments (email_id, filename, file_path, size_bytes,
			mime_type, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.pool.db.ExecContext(ctx, query,
		att.EmailID,
		att.Filename,
		att.FilePath,
		nullInt64(att.SizeBytes),
		nullString(att.MimeType),
		nullString(att.ContentHash),
		formatTime(att.CreatedAt),
	)
	if err != nil {
		return queryErr(fmt.Errorf("inserting attachment: %w", err))
	}
	if att.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading attachment id: %w", err)
	}

	s.logger.Debug("created attachment", "id", att.ID, "email_id", att.EmailID, "filename", att.Filename)
	return nil
}

// GetAttachment retrieves an attachment by ID. Returns ErrNotFound if absent.
func (s *Store) GetAttachment(ctx context.Context, id int64) (*Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = ?`

	att, err := scanAttachment(s.pool.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying attachment: %w", err)
	}
	return att, nil
}

// ListAttachments returns the attachments of one email ordered by filename.
func (s *Store) ListAttachments(ctx context.Context, emailID int64) ([]*Attachment, error) {
	query := `
		SELECT ` + attachmentColumns + `
		FROM attachments
		WHERE email_id = ?
		ORDER BY filename, id
	`

	rows, err := s.pool.QueryContext(ctx, query, emailID)
	if err != nil {
		return nil, fmt.Errorf("querying attachments: %w", err)
	}
	defer rows.Close()

	var atts []*Attachment
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		atts = append(atts, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attachments: %w", err)
	}
	return atts, nil
}

// DeleteAttachment removes one attachment row. Returns ErrNotFound if
// absent. The payload file at FilePath is the caller's to clean up.
func (s *Store) DeleteAttachment(ctx context.Context, id int64) error {
	affected, err := s.pool.ExecContext(ctx, "DELETE FROM attachments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting attachment: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted attachment", "id", id)
	return nil
}
