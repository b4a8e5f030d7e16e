// ABOUTME: CRUD for priority classifications, at most one per email
// ABOUTME: The unique email_id constraint turns a second create into ErrDuplicate

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateClassification inserts the assessment for an email and fills in its
// generated ID. An email can hold only one; a second create reports
// ErrDuplicate, and a dangling email ID reports ErrInvalid.
func (s *Store) CreateClassification(ctx context.Context, c *Classification) error {
	if err := c.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if c.ClassifiedAt.IsZero() {
		c.ClassifiedAt = now
	}
	c.UpdatedAt = now

	query := `
		INSERT INTO classifications (email_id, priority_score, urgency_level,
			importance_level, classification_type, confidence_score, ai_analysis,
			classified_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.pool.db.ExecContext(ctx, query,
		c.EmailID,
		c.PriorityScore,
		string(c.Urgency),
		string(c.Importance),
		c.Type,
		nullFloat(c.ConfidenceScore),
		nullString(c.AIAnalysis),
		formatTime(c.ClassifiedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return queryErr(fmt.Errorf("inserting classification: %w", err))
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading classification id: %w", err)
	}

	s.logger.Debug("created classification",
		"id", c.ID, "email_id", c.EmailID, "priority", c.PriorityScore)
	return nil
}

// GetClassification retrieves the assessment of one email. Returns
// ErrNotFound when the email has none.
func (s *Store) GetClassification(ctx context.Context, emailID int64) (*Classification, error) {
	query := `SELECT ` + classificationColumns + ` FROM classifications WHERE email_id = ?`

	c, err := scanClassification(s.pool.QueryRowContext(ctx, query, emailID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying classification: %w", err)
	}
	return c, nil
}

// UpdateClassification rewrites the assessment of the email identified by
// c.EmailID, keeping the original classified_at. Returns ErrNotFound when
// the email has no classification yet.
func (s *Store) UpdateClassification(ctx context.Context, c *Classification) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE classifications
		SET priority_score = ?, urgency_level = ?, importance_level = ?,
			classification_type = ?, confidence_score = ?, ai_analysis = ?,
			updated_at = ?
		WHERE email_id = ?
	`

	res, err := s.pool.db.ExecContext(ctx, query,
		c.PriorityScore,
		string(c.Urgency),
		string(c.Importance),
		c.Type,
		nullFloat(c.ConfidenceScore),
		nullString(c.AIAnalysis),
		formatTime(c.UpdatedAt),
		c.EmailID,
	)
	if err != nil {
		return queryErr(fmt.Errorf("updating classification: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated classification", "email_id", c.EmailID, "priority", c.PriorityScore)
	return nil
}

// DeleteClassification removes the assessment of one email. Returns
// ErrNotFound when the email has none.
func (s *Store) DeleteClassification(ctx context.Context, emailID int64) error {
	affected, err := s.pool.ExecContext(ctx, "DELETE FROM classifications WHERE email_id = ?", emailID)
	if err != nil {
		return fmt.Errorf("deleting classification: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted classification", "email_id", emailID)
	return nil
}
