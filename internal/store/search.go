// ABOUTME: Full-text search over the trigger-synced emails_fts projection
// ABOUTME: The engine only reads the index; rebuild and optimize are its only writes

package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const defaultSnippetLen = 200

// Scope selects which projected columns a search runs against.
type Scope string

const (
	ScopeAll        Scope = "all"
	ScopeSubject    Scope = "subject"
	ScopeSender     Scope = "sender"
	ScopeRecipients Scope = "recipients"
	ScopeBody       Scope = "body"
)

// column returns the FTS column behind the scope, or "" for all columns.
func (s Scope) column() (string, error) {
	switch s {
	case ScopeAll, "":
		return "", nil
	case ScopeSubject:
		return "subject", nil
	case ScopeSender:
		return "sender", nil
	case ScopeRecipients:
		return "recipients", nil
	case ScopeBody:
		return "body_text", nil
	}
	return "", fmt.Errorf("%w: search scope %q", ErrInvalid, s)
}

// Operator says how multiple search terms combine.
type Operator string

const (
	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"
	// OperatorNot matches the first term and excludes the rest.
	OperatorNot Operator = "NOT"
)

// SearchOptions tunes a full-text Search call. The zero value searches all
// columns, requires every term, and returns the first 50 matches.
type SearchOptions struct {
	Scope    Scope
	Operator Operator
	// Filters are ANDed onto the match. Fields go through the query
	// composer's whitelist.
	Filters []Filter
	Limit   int
	Offset  int
}

// SearchResult is one matched email. Score is the bm25 rank straight from
// the index (more negative = better) and 0 for non-FTS searches; the
// priority fields are populated only by SearchByPriority.
type SearchResult struct {
	EmailID    int64
	MessageID  string
	Subject    string
	Sender     string
	Recipients []string
	Snippet    string
	Score      float64
	ReceivedAt time.Time

	PriorityScore int
	Urgency       Level
	Importance    Level
}

// Suggestion is one completion candidate for a partial query.
type Suggestion struct {
	Text string
	Kind string
}

// SearchEngine answers full-text queries against emails_fts. It never
// writes rows there; the schema triggers keep the index in step with the
// emails table.
type SearchEngine struct {
	pool       *Pool
	logger     *slog.Logger
	snippetLen int
}

// NewSearchEngine returns an engine over pool. snippetLen bounds result
// snippets in runes; 0 or negative takes the default of 200.
func NewSearchEngine(pool *Pool, snippetLen int, logger *slog.Logger) *SearchEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if snippetLen <= 0 {
		snippetLen = defaultSnippetLen
	}
	return &SearchEngine{
		pool:       pool,
		logger:     logger.With("component", "search"),
		snippetLen: snippetLen,
	}
}

// ftsQuote wraps a term in FTS5 string quotes so user input is never
// parsed as match syntax.
func ftsQuote(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}

// buildMatchQuery turns whitespace-separated terms into one FTS5 match
// expression, scoped to a single column when asked. NOT keeps the first
// term and excludes everything after it.
func buildMatchQuery(query string, scope Scope, op Operator) (string, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return "", nil
	}

	column, err := scope.column()
	if err != nil {
		return "", err
	}

	quoted := make([]string, len(terms))
	for i, term := range terms {
		q := ftsQuote(term)
		if column != "" {
			q = column + ":" + q
		}
		quoted[i] = q
	}

	switch op {
	case OperatorAnd, "":
		return strings.Join(quoted, " "), nil
	case OperatorOr:
		return strings.Join(quoted, " OR "), nil
	case OperatorNot:
		if len(quoted) == 1 {
			return quoted[0], nil
		}
		return quoted[0] + " NOT (" + strings.Join(quoted[1:], " ") + ")", nil
	}
	return "", fmt.Errorf("%w: search operator %q", ErrInvalid, op)
}

// Search runs a full-text query. A blank query returns an empty result set
// without touching the database. Results come back best match first, ties
// broken newest first.
func (e *SearchEngine) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	match, err := buildMatchQuery(query, opts.Scope, opts.Operator)
	if err != nil {
		return nil, err
	}
	if match == "" {
		return []SearchResult{}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	// classifications joins 1:1 on email_id, so filters may reference its
	// columns without multiplying match rows.
	sql := `
		SELECT e.id, e.message_id, e.subject, e.sender, e.recipients,
			e.body_text, e.received_at, emails_fts.rank AS score
		FROM emails e
		JOIN emails_fts ON emails_fts.rowid = e.id
		LEFT JOIN classifications c ON c.email_id = e.id
		WHERE emails_fts MATCH ?
	`
	args := []any{match}

	if len(opts.Filters) > 0 {
		clause, filterArgs, err := buildFilterClause(opts.Filters)
		if err != nil {
			return nil, err
		}
		sql += " AND (" + clause + ")"
		args = append(args, filterArgs...)
	}

	// bm25 rank is negative with better matches more negative, so
	// ascending order puts the best match first.
	sql += " ORDER BY emails_fts.rank, e.received_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	return e.queryResults(ctx, sql, args, false)
}

// SearchByPriority returns classified emails inside a priority band,
// optionally narrowed to certain urgency levels, highest priority first.
// Zero bounds fall back to the full 1..5 band.
func (e *SearchEngine) SearchByPriority(ctx context.Context, minPriority, maxPriority int, urgency []Level, limit int) ([]SearchResult, error) {
	if minPriority <= 0 {
		minPriority = 1
	}
	if maxPriority <= 0 {
		maxPriority = 5
	}
	if minPriority > maxPriority {
		return nil, fmt.Errorf("%w: priority range %d-%d", ErrInvalid, minPriority, maxPriority)
	}
	if limit <= 0 {
		limit = 50
	}

	sql := `
		SELECT e.id, e.message_id, e.subject, e.sender, e.recipients,
			e.body_text, e.received_at,
			c.priority_score, c.urgency_level, c.importance_level
		FROM emails e
		JOIN classifications c ON c.email_id = e.id
		WHERE c.priority_score BETWEEN ? AND ?
	`
	args := []any{minPriority, maxPriority}

	if len(urgency) > 0 {
		placeholders := make([]string, len(urgency))
		for i, level := range urgency {
			if !level.Valid() {
				return nil, fmt.Errorf("%w: urgency_level %q", ErrInvalid, level)
			}
			placeholders[i] = "?"
			args = append(args, string(level))
		}
		sql += " AND c.urgency_level IN (" + strings.Join(placeholders, ",") + ")"
	}

	sql += " ORDER BY c.priority_score DESC, e.received_at DESC LIMIT ?"
	args = append(args, limit)

	return e.queryResults(ctx, sql, args, true)
}

// SenderSearchOptions tunes SearchBySender.
type SenderSearchOptions struct {
	// Partial matches the sender as a substring instead of exactly.
	Partial bool
	// IncludeBody also matches emails whose body mentions the sender.
	IncludeBody bool
	Limit       int
}

// SearchBySender returns emails from a sender, newest first.
func (e *SearchEngine) SearchBySender(ctx context.Context, sender string, opts SenderSearchOptions) ([]SearchResult, error) {
	if strings.TrimSpace(sender) == "" {
		return []SearchResult{}, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		cond string
		args []any
	)
	if opts.Partial {
		cond = "e.sender LIKE ?"
		args = append(args, "%"+sender+"%")
	} else {
		cond = "e.sender = ?"
		args = append(args, sender)
	}
	if opts.IncludeBody {
		cond = "(" + cond + " OR e.id IN (SELECT rowid FROM emails_fts WHERE emails_fts MATCH ?))"
		args = append(args, "body_text:"+ftsQuote(sender))
	}

	sql := `
		SELECT e.id, e.message_id, e.subject, e.sender, e.recipients,
			e.body_text, e.received_at, 0 AS score
		FROM emails e
		WHERE ` + cond + `
		ORDER BY e.received_at DESC
		LIMIT ?
	`
	args = append(args, limit)

	return e.queryResults(ctx, sql, args, false)
}

// SearchByDateRange returns emails received inside [start, end], newest
// first.
func (e *SearchEngine) SearchByDateRange(ctx context.Context, start, end time.Time, limit int) ([]SearchResult, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: date range ends before it starts", ErrInvalid)
	}
	if limit <= 0 {
		limit = 50
	}

	sql := `
		SELECT e.id, e.message_id, e.subject, e.sender, e.recipients,
			e.body_text, e.received_at, 0 AS score
		FROM emails e
		WHERE e.received_at BETWEEN ? AND ?
		ORDER BY e.received_at DESC
		LIMIT ?
	`

	return e.queryResults(ctx, sql, []any{formatTime(start), formatTime(end), limit}, false)
}

// Suggestions completes a partial query from stored subjects and senders,
// shortest candidates first, half the limit from each kind. A blank input
// suggests nothing.
func (e *SearchEngine) Suggestions(ctx context.Context, partial string, limit int) ([]Suggestion, error) {
	if strings.TrimSpace(partial) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	perKind := limit / 2
	if perKind < 1 {
		perKind = 1
	}

	var suggestions []Suggestion
	for _, kind := range []struct{ column, name string }{
		{"subject", "subject"},
		{"sender", "sender"},
	} {
		sql := fmt.Sprintf(`
			SELECT DISTINCT %s
			FROM emails
			WHERE %s LIKE ?
			ORDER BY LENGTH(%s) ASC
			LIMIT ?`, kind.column, kind.column, kind.column)

		rows, err := e.pool.QueryContext(ctx, sql, "%"+partial+"%", perKind)
		if err != nil {
			return nil, fmt.Errorf("querying %s suggestions: %w", kind.name, err)
		}
		for rows.Next() {
			var text string
			if err := rows.Scan(&text); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning suggestion: %w", err)
			}
			suggestions = append(suggestions, Suggestion{Text: text, Kind: kind.name})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterating suggestions: %w", err)
		}
		rows.Close()
	}

	return suggestions, nil
}

// RebuildIndex drops and repopulates the FTS index from the emails table,
// then optimizes it. Use after bulk imports done with triggers disabled or
// when the index is suspected stale.
func (e *SearchEngine) RebuildIndex(ctx context.Context) error {
	if _, err := e.pool.ExecContext(ctx, "INSERT INTO emails_fts(emails_fts) VALUES('rebuild')"); err != nil {
		return &SearchIndexError{Op: "rebuild", Err: err}
	}
	if _, err := e.pool.ExecContext(ctx, "INSERT INTO emails_fts(emails_fts) VALUES('optimize')"); err != nil {
		return &SearchIndexError{Op: "optimize", Err: err}
	}
	e.logger.Info("search index rebuilt")
	return nil
}

// Optimize merges the FTS index's internal b-trees without a rebuild.
func (e *SearchEngine) Optimize(ctx context.Context) error {
	if _, err := e.pool.ExecContext(ctx, "INSERT INTO emails_fts(emails_fts) VALUES('optimize')"); err != nil {
		return &SearchIndexError{Op: "optimize", Err: err}
	}
	e.logger.Debug("search index optimized")
	return nil
}

// queryResults runs a result-shaped query and decodes each row, attaching
// snippets. withPriority flips the trailing columns between a score and
// the classification triple.
func (e *SearchEngine) queryResults(ctx context.Context, sql string, args []any, withPriority bool) ([]SearchResult, error) {
	rows, err := e.pool.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching emails: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r          SearchResult
			recipients string
			bodyText   *string
			receivedAt string
		)
		if withPriority {
			err = rows.Scan(&r.EmailID, &r.MessageID, &r.Subject, &r.Sender, &recipients,
				&bodyText, &receivedAt, &r.PriorityScore, &r.Urgency, &r.Importance)
		} else {
			err = rows.Scan(&r.EmailID, &r.MessageID, &r.Subject, &r.Sender, &recipients,
				&bodyText, &receivedAt, &r.Score)
		}
		if err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}

		r.Recipients = splitAddressList(recipients)
		if r.ReceivedAt, err = parseTime(receivedAt, "received_at"); err != nil {
			return nil, err
		}
		if bodyText != nil {
			r.Snippet = e.snippet(*bodyText)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}

// snippet bounds body text for result display, ellipsized at the limit.
func (e *SearchEngine) snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= e.snippetLen {
		return text
	}
	return string(runes[:e.snippetLen-3]) + "..."
}
