// ABOUTME: Declared secondary-index catalog and the manager that maintains it
// ABOUTME: Covers creation, teardown, stats, usage analysis, and SQL-file backup

package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"
)

// IndexSpec declares one secondary index. The catalog below is the single
// source of truth; schema creation and the index manager both read it.
type IndexSpec struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
	// Where makes the index partial, covering only matching rows.
	Where string
}

// CreateSQL renders the index's CREATE INDEX statement.
func (s IndexSpec) CreateSQL() string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if s.Unique {
		b.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&b, "INDEX IF NOT EXISTS %s ON %s (%s)", s.Name, s.Table, strings.Join(s.Columns, ", "))
	if s.Where != "" {
		fmt.Fprintf(&b, " WHERE %s", s.Where)
	}
	return b.String()
}

// DropSQL renders the matching DROP INDEX statement.
func (s IndexSpec) DropSQL() string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s", s.Name)
}

// DeclaredIndexes returns the full index catalog in creation order.
func DeclaredIndexes() []IndexSpec {
	return []IndexSpec{
		// emails
		{Name: "idx_emails_message_id", Table: "emails", Columns: []string{"message_id"}, Unique: true},
		{Name: "idx_emails_sender_received", Table: "emails", Columns: []string{"sender", "received_at"}},
		{Name: "idx_emails_received_at", Table: "emails", Columns: []string{"received_at"}},
		{Name: "idx_emails_priority_flags", Table: "emails", Columns: []string{"has_attachments", "is_flagged", "is_read"}},
		{Name: "idx_emails_size_received", Table: "emails", Columns: []string{"size_bytes", "received_at"}, Where: "size_bytes IS NOT NULL"},

		// classifications
		{Name: "idx_classifications_email_id", Table: "classifications", Columns: []string{"email_id"}, Unique: true},
		{Name: "idx_classifications_priority_urgency", Table: "classifications", Columns: []string{"priority_score", "urgency_level"}},
		{Name: "idx_classifications_urgency_importance", Table: "classifications", Columns: []string{"urgency_level", "importance_level"}},
		{Name: "idx_classifications_confidence", Table: "classifications", Columns: []string{"confidence_score"}, Where: "confidence_score IS NOT NULL"},

		// attachments
		{Name: "idx_attachments_email_id", Table: "attachments", Columns: []string{"email_id"}},
		{Name: "idx_attachments_filename", Table: "attachments", Columns: []string{"filename"}},
		{Name: "idx_attachments_mime_type", Table: "attachments", Columns: []string{"mime_type"}, Where: "mime_type IS NOT NULL"},
		{Name: "idx_attachments_size", Table: "attachments", Columns: []string{"size_bytes"}, Where: "size_bytes IS NOT NULL"},

		// rules
		{Name: "idx_rules_active_priority", Table: "rules", Columns: []string{"is_active", "priority"}, Where: "is_active = 1"},
		{Name: "idx_rules_type_active", Table: "rules", Columns: []string{"rule_type", "is_active"}},

		// history
		{Name: "idx_history_email_id_action", Table: "history", Columns: []string{"email_id", "action_type"}},
		{Name: "idx_history_action_performed", Table: "history", Columns: []string{"action_type", "performed_at"}},
		{Name: "idx_history_performed_at", Table: "history", Columns: []string{"performed_at"}},

		// tags and the junction table
		{Name: "idx_tags_name", Table: "tags", Columns: []string{"name"}, Unique: true},
		{Name: "idx_email_tags_tag_id", Table: "email_tags", Columns: []string{"tag_id"}},
		{Name: "idx_email_tags_assigned_at", Table: "email_tags", Columns: []string{"assigned_at"}},
	}
}

// CompoundIndexes returns extra multi-column indexes for hot query shapes.
// They are not part of the base schema; AddCompoundIndexes installs them on
// stores that need the coverage.
func CompoundIndexes() []IndexSpec {
	return []IndexSpec{
		{Name: "idx_email_priority_query", Table: "emails", Columns: []string{"received_at", "has_attachments", "is_flagged"}},
		{Name: "idx_classification_priority_date", Table: "classifications", Columns: []string{"priority_score", "classified_at"}},
		{Name: "idx_attachment_email_mime", Table: "attachments", Columns: []string{"email_id", "mime_type"}},
	}
}

// AnalyzeThresholds tunes the recommendations produced by Analyze.
// The zero value takes the defaults noted on each field.
type AnalyzeThresholds struct {
	// MinRowsForIndex flags tables with more rows than this and no
	// indexes at all. Default 100.
	MinRowsForIndex int64
	// MaxIndexesSmallTable flags tables carrying more indexes than this
	// while staying under SmallTableRows. Default 5.
	MaxIndexesSmallTable int
	// SmallTableRows is the row count under which a table counts as
	// small for the over-indexing check. Default 1000.
	SmallTableRows int64
}

func (t AnalyzeThresholds) withDefaults() AnalyzeThresholds {
	if t.MinRowsForIndex <= 0 {
		t.MinRowsForIndex = 100
	}
	if t.MaxIndexesSmallTable <= 0 {
		t.MaxIndexesSmallTable = 5
	}
	if t.SmallTableRows <= 0 {
		t.SmallTableRows = 1000
	}
	return t
}

// IndexManager creates, drops, and inspects the secondary indexes.
type IndexManager struct {
	pool       *Pool
	logger     *slog.Logger
	thresholds AnalyzeThresholds
}

// NewIndexManager returns a manager over pool using the given analysis
// thresholds (zero value for defaults).
func NewIndexManager(pool *Pool, thresholds AnalyzeThresholds, logger *slog.Logger) *IndexManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexManager{
		pool:       pool,
		logger:     logger.With("component", "indexes"),
		thresholds: thresholds.withDefaults(),
	}
}

// CreateAll creates every declared index. Already-present indexes are left
// alone, so the call is safe to repeat.
func (m *IndexManager) CreateAll(ctx context.Context) error {
	for _, spec := range DeclaredIndexes() {
		if err := m.CreateOne(ctx, spec); err != nil {
			return err
		}
	}
	m.logger.Debug("declared indexes ensured", "count", len(DeclaredIndexes()))
	return nil
}

// CreateOne creates a single index from its spec. Idempotent.
func (m *IndexManager) CreateOne(ctx context.Context, spec IndexSpec) error {
	if _, err := m.pool.ExecContext(ctx, spec.CreateSQL()); err != nil {
		return fmt.Errorf("creating index %s: %w", spec.Name, err)
	}
	return nil
}

// AddCompoundIndexes installs the extra compound indexes for common query
// patterns. Idempotent.
func (m *IndexManager) AddCompoundIndexes(ctx context.Context) error {
	for _, spec := range CompoundIndexes() {
		if err := m.CreateOne(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// Index names reach DDL by interpolation since DDL takes no parameters,
// so they are restricted to plain identifiers first.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Drop removes the named index. Dropping an index that does not exist is
// a no-op.
func (m *IndexManager) Drop(ctx context.Context, name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: index name %q", ErrInvalid, name)
	}
	if _, err := m.pool.ExecContext(ctx, fmt.Sprintf("DROP INDEX IF EXISTS %s", name)); err != nil {
		return fmt.Errorf("dropping index %s: %w", name, err)
	}
	return nil
}

// IndexInfo describes one live index as recorded by the catalog.
type IndexInfo struct {
	Name  string
	Table string
	SQL   string
}

// IndexStats is a snapshot of the live index catalog.
type IndexStats struct {
	Total    int
	Indexes  []IndexInfo
	PerTable map[string]int
}

// Stats lists the live indexes from sqlite_master, skipping SQLite's
// internal autoindexes.
func (m *IndexManager) Stats(ctx context.Context) (*IndexStats, error) {
	rows, err := m.pool.QueryContext(ctx, `
		SELECT name, tbl_name, COALESCE(sql, '')
		FROM sqlite_master
		WHERE type = 'index' AND name NOT LIKE 'sqlite_%'
		ORDER BY tbl_name, name`)
	if err != nil {
		return nil, fmt.Errorf("listing indexes: %w", err)
	}
	defer rows.Close()

	stats := &IndexStats{PerTable: make(map[string]int)}
	for rows.Next() {
		var info IndexInfo
		if err := rows.Scan(&info.Name, &info.Table, &info.SQL); err != nil {
			return nil, fmt.Errorf("scanning index row: %w", err)
		}
		stats.Indexes = append(stats.Indexes, info)
		stats.PerTable[info.Table]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing indexes: %w", err)
	}
	stats.Total = len(stats.Indexes)
	return stats, nil
}

// Recommendation kinds produced by Analyze.
const (
	RecommendMissingIndexes = "missing_indexes"
	RecommendOverIndexed    = "over_indexed"
)

// IndexRecommendation is one finding from Analyze.
type IndexRecommendation struct {
	Kind     string
	Table    string
	Message  string
	Priority string
}

// IndexAnalysis is the result of an Analyze pass.
type IndexAnalysis struct {
	TableRows       map[string]int64
	IndexCounts     map[string]int
	Recommendations []IndexRecommendation
	AnalyzedAt      time.Time
}

var analyzedTables = []string{
	"emails", "classifications", "attachments", "rules", "history", "tags", "email_tags",
}

// Analyze compares row counts against index counts and flags tables that
// look under- or over-indexed per the configured thresholds.
func (m *IndexManager) Analyze(ctx context.Context) (*IndexAnalysis, error) {
	analysis := &IndexAnalysis{
		TableRows:   make(map[string]int64),
		IndexCounts: make(map[string]int),
		AnalyzedAt:  time.Now().UTC(),
	}

	for _, table := range analyzedTables {
		var count int64
		if err := m.pool.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return nil, fmt.Errorf("counting rows in %s: %w", table, err)
		}
		analysis.TableRows[table] = count
	}

	rows, err := m.pool.QueryContext(ctx, `
		SELECT tbl_name, COUNT(*)
		FROM sqlite_master
		WHERE type = 'index' AND name NOT LIKE 'sqlite_%'
		GROUP BY tbl_name`)
	if err != nil {
		return nil, fmt.Errorf("counting indexes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var table string
		var count int
		if err := rows.Scan(&table, &count); err != nil {
			return nil, fmt.Errorf("scanning index count: %w", err)
		}
		analysis.IndexCounts[table] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting indexes: %w", err)
	}

	for _, table := range analyzedTables {
		rowCount := analysis.TableRows[table]
		idxCount := analysis.IndexCounts[table]
		if rowCount > m.thresholds.MinRowsForIndex && idxCount == 0 {
			analysis.Recommendations = append(analysis.Recommendations, IndexRecommendation{
				Kind:     RecommendMissingIndexes,
				Table:    table,
				Message:  fmt.Sprintf("table %q has %d rows but no indexes", table, rowCount),
				Priority: "high",
			})
		}
		if idxCount > m.thresholds.MaxIndexesSmallTable && rowCount < m.thresholds.SmallTableRows {
			analysis.Recommendations = append(analysis.Recommendations, IndexRecommendation{
				Kind:     RecommendOverIndexed,
				Table:    table,
				Message:  fmt.Sprintf("table %q has %d indexes but only %d rows", table, idxCount, rowCount),
				Priority: "medium",
			})
		}
	}

	return analysis, nil
}

// Optimize refreshes the query planner's statistics and lets SQLite rebuild
// whatever it decides is worth rebuilding.
func (m *IndexManager) Optimize(ctx context.Context) error {
	if _, err := m.pool.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyzing database: %w", err)
	}
	if _, err := m.pool.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("optimizing database: %w", err)
	}
	m.logger.Debug("index statistics refreshed")
	return nil
}

// BackupToFile writes the CREATE statements of every live index to a SQL
// file, one statement per block.
func (m *IndexManager) BackupToFile(ctx context.Context, path string) error {
	stats, err := m.Stats(ctx)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("-- index definitions\n")
	fmt.Fprintf(&b, "-- generated at %s\n\n", time.Now().UTC().Format(time.RFC3339))
	for _, info := range stats.Indexes {
		if info.SQL == "" {
			continue
		}
		b.WriteString(info.SQL)
		b.WriteString(";\n\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing index backup: %w", err)
	}
	m.logger.Info("index definitions backed up", "path", path, "count", stats.Total)
	return nil
}

// RestoreFromFile replays the CREATE statements from a backup produced by
// BackupToFile. Statements that fail are logged and skipped so one bad
// definition does not block the rest.
func (m *IndexManager) RestoreFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading index backup: %w", err)
	}

	restored := 0
	for _, chunk := range strings.Split(string(data), ";") {
		var lines []string
		for _, line := range strings.Split(chunk, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt == "" {
			continue
		}
		if _, err := m.pool.ExecContext(ctx, stmt); err != nil {
			m.logger.Warn("skipping index statement from backup", "error", err)
			continue
		}
		restored++
	}

	m.logger.Info("index definitions restored", "path", path, "count", restored)
	return nil
}
