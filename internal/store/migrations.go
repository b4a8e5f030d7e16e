// ABOUTME: Compile-time migration registry consumed by the Migrator
// ABOUTME: Version 1 creates the full schema; DefaultSeed is opt-in starter data

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// registeredMigrations returns every known migration. New schema changes
// are appended here with the next version number; NewMigrator rejects a
// registry whose versions gap or regress.
func registeredMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Name:        "initial_schema",
			Description: "create core tables, indexes, and the search index",
			Up:          CreateStatements(),
			Down:        DropStatements(),
		},
	}
}

// DefaultSeed installs the starter tags and rules on a fresh database.
// Attach it with WithSeed(1, DefaultSeed); INSERT OR IGNORE keeps it
// harmless on databases that already carry rows with these names.
func DefaultSeed(ctx context.Context, tx *sql.Tx) error {
	now := formatTime(time.Now())

	defaultTags := []struct {
		name, description, color string
	}{
		{"Important", "Important emails that need attention", "#FF6B6B"},
		{"Work", "Work-related emails", "#4ECDC4"},
		{"Personal", "Personal emails", "#45B7D1"},
		{"Archive", "Archived emails", "#96CEB4"},
		{"Spam", "Spam or unwanted emails", "#DDA0DD"},
	}
	for _, t := range defaultTags {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO tags (name, description, color, created_at) VALUES (?, ?, ?, ?)",
			t.name, t.description, t.color, now); err != nil {
			return fmt.Errorf("seeding tag %q: %w", t.name, err)
		}
	}

	defaultRules := []struct {
		name, description string
		ruleType          RuleType
		condition         string
		action            RuleAction
		priority          int
	}{
		{"High Priority Senders", "Mark emails from important senders as high priority",
			RuleTypeSender, "boss@company.com", ActionClassify, 10},
		{"Urgent Keywords", "Mark emails with urgent keywords as critical",
			RuleTypeKeyword, "urgent|asap|emergency", ActionClassify, 9},
		{"Large Attachments", "Flag emails with large attachments",
			RuleTypeCustom, "size_bytes > 10000000", ActionFlag, 5},
	}
	for _, r := range defaultRules {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO rules (name, description, rule_type, condition, action, priority, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			r.name, r.description, string(r.ruleType), r.condition, string(r.action), r.priority, now, now); err != nil {
			return fmt.Errorf("seeding rule %q: %w", r.name, err)
		}
	}

	return nil
}
