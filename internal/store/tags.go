// ABOUTME: CRUD for tags and their many-to-many assignments onto emails
// ABOUTME: Assignments cascade away when either side is deleted

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateTag inserts a tag and fills in its generated ID. Tag names are
// unique; a taken one reports ErrDuplicate.
func (s *Store) CreateTag(ctx context.Context, tag *Tag) error {
	if tag.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if tag.CreatedAt.IsZero() {
		tag.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO tags (name, description, color, created_at)
		VALUES (?, ?, ?, ?)
	`

	res, err := s.pool.db.ExecContext(ctx, query,
		tag.Name,
		nullString(tag.Description),
		nullString(tag.Color),
		formatTime(tag.CreatedAt),
	)
	if err != nil {
		return queryErr(fmt.Errorf("inserting tag: %w", err))
	}
	if tag.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading tag id: %w", err)
	}

	s.logger.Debug("created tag", "id", tag.ID, "name", tag.Name)
	return nil
}

// GetTag retrieves a tag by ID. Returns ErrNotFound if absent.
func (s *Store) GetTag(ctx context.Context, id int64) (*Tag, error) {
	query := `SELECT ` + tagColumns + ` FROM tags WHERE id = ?`

	tag, err := scanTag(s.pool.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tag: %w", err)
	}
	return tag, nil
}

// GetTagByName retrieves a tag by its unique name. Returns ErrNotFound if
// absent.
func (s *Store) GetTagByName(ctx context.Context, name string) (*Tag, error) {
	query := `SELECT ` + tagColumns + ` FROM tags WHERE name = ?`

	tag, err := scanTag(s.pool.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tag by name: %w", err)
	}
	return tag, nil
}

// ListTags returns every tag ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]*Tag, error) {
	query := `SELECT ` + tagColumns + ` FROM tags ORDER BY name`

	rows, err := s.pool.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	var tags []*Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tags: %w", err)
	}
	return tags, nil
}

// UpdateTag rewrites a tag's name, description, and color. Returns
// ErrNotFound if absent; renaming onto a taken name reports ErrDuplicate.
func (s *Store) UpdateTag(ctx context.Context, tag *Tag) error {
	if tag.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}

	query := `UPDATE tags SET name = ?, description = ?, color = ? WHERE id = ?`

	res, err := s.pool.db.ExecContext(ctx, query,
		tag.Name,
		nullString(tag.Description),
		nullString(tag.Color),
		tag.ID,
	)
	if err != nil {
		return queryErr(fmt.Errorf("updating tag: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated tag", "id", tag.ID, "name", tag.Name)
	return nil
}

// DeleteTag removes a tag and, through the junction table's foreign key,
// every assignment of it. Returns ErrNotFound if absent.
func (s *Store) DeleteTag(ctx context.Context, id int64) error {
	affected, err := s.pool.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting tag: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted tag", "id", id)
	return nil
}

// AssignTag attaches a tag to an email. Assigning the same tag twice
// reports ErrDuplicate; a dangling email or tag ID reports ErrInvalid.
func (s *Store) AssignTag(ctx context.Context, emailID, tagID int64) error {
	query := `INSERT INTO email_tags (email_id, tag_id, assigned_at) VALUES (?, ?, ?)`

	if _, err := s.pool.db.ExecContext(ctx, query, emailID, tagID, formatTime(time.Now())); err != nil {
		return queryErr(fmt.Errorf("assigning tag: %w", err))
	}

	s.logger.Debug("assigned tag", "email_id", emailID, "tag_id", tagID)
	return nil
}

// UnassignTag detaches a tag from an email. Returns ErrNotFound when the
// assignment does not exist.
func (s *Store) UnassignTag(ctx context.Context, emailID, tagID int64) error {
	query := `DELETE FROM email_tags WHERE email_id = ? AND tag_id = ?`

	affected, err := s.pool.ExecContext(ctx, query, emailID, tagID)
	if err != nil {
		return fmt.Errorf("unassigning tag: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("unassigned tag", "email_id", emailID, "tag_id", tagID)
	return nil
}

// ListEmailTags returns the tags assigned to one email ordered by name,
// each carrying its assignment time.
func (s *Store) ListEmailTags(ctx context.Context, emailID int64) ([]*EmailTag, error) {
	query := `
		SELECT t.id, t.name, t.description, t.color, t.created_at, et.assigned_at
		FROM tags t
		JOIN email_tags et ON et.tag_id = t.id
		WHERE et.email_id = ?
		ORDER BY t.name
	`

	rows, err := s.pool.QueryContext(ctx, query, emailID)
	if err != nil {
		return nil, fmt.Errorf("querying email tags: %w", err)
	}
	defer rows.Close()

	var tags []*EmailTag
	for rows.Next() {
		tag, err := scanEmailTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning email tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating email tags: %w", err)
	}
	return tags, nil
}

// ListEmailsByTag returns emails carrying the named tag, newest first.
// If limit is 0 or negative, a default of 100 is used, capped at 1000.
func (s *Store) ListEmailsByTag(ctx context.Context, tagName string, limit, offset int) ([]*Email, error) {
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
		SELECT ` + prefixColumns(emailColumns, "e") + `
		FROM emails e
		JOIN email_tags et ON et.email_id = e.id
		JOIN tags t ON t.id = et.tag_id
		WHERE t.name = ?
		ORDER BY e.received_at DESC, e.id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.pool.QueryContext(ctx, query, tagName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying emails by tag: %w", err)
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
