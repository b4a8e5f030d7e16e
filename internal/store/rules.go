// ABOUTME: CRUD for automation rules matched against incoming email
// ABOUTME: Higher-priority rules come back first so they run first

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRule inserts a rule and fills in its generated ID. Rule names are
// unique; a taken one reports ErrDuplicate.
func (s *Store) CreateRule(ctx context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO rules (name, description, rule_type, condition, action,
			priority, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.pool.db.ExecContext(ctx, query,
		rule.Name,
		nullString(rule.Description),
		string(rule.Type),
		rule.Condition,
		string(rule.Action),
		rule.Priority,
		rule.IsActive,
		formatTime(rule.CreatedAt),
		formatTime(rule.UpdatedAt),
	)
	if err != nil {
		return queryErr(fmt.Errorf("inserting rule: %w", err))
	}
	if rule.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading rule id: %w", err)
	}

	s.logger.Debug("created rule", "id", rule.ID, "name", rule.Name)
	return nil
}

// GetRule retrieves a rule by ID. Returns ErrNotFound if absent.
func (s *Store) GetRule(ctx context.Context, id int64) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`

	rule, err := scanRule(s.pool.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying rule: %w", err)
	}
	return rule, nil
}

// ListRules returns rules ordered highest priority first. With activeOnly
// set, disabled rules are skipped.
func (s *Store) ListRules(ctx context.Context, activeOnly bool) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY priority DESC, id`

	rows, err := s.pool.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// UpdateRule rewrites every mutable field of the rule identified by
// rule.ID. Returns ErrNotFound if absent; renaming onto a taken name
// reports ErrDuplicate.
func (s *Store) UpdateRule(ctx context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE rules
		SET name = ?, description = ?, rule_type = ?, condition = ?,
			action = ?, priority = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := s.pool.db.ExecContext(ctx, query,
		rule.Name,
		nullString(rule.Description),
		string(rule.Type),
		rule.Condition,
		string(rule.Action),
		rule.Priority,
		rule.IsActive,
		formatTime(rule.UpdatedAt),
		rule.ID,
	)
	if err != nil {
		return queryErr(fmt.Errorf("updating rule: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated rule", "id", rule.ID, "name", rule.Name)
	return nil
}

// SetRuleActive enables or disables a rule without touching the rest of it.
// Returns ErrNotFound if absent.
func (s *Store) SetRuleActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE rules SET is_active = ?, updated_at = ? WHERE id = ?`

	affected, err := s.pool.ExecContext(ctx, query, active, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("toggling rule: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("toggled rule", "id", id, "active", active)
	return nil
}

// DeleteRule removes a rule. Returns ErrNotFound if absent.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	affected, err := s.pool.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted rule", "id", id)
	return nil
}
