// ABOUTME: Composed read queries: priority/urgency/sender/date listings with
// ABOUTME: whitelisted filters and ordering, full email detail, and statistics

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// FilterOp is a comparison operator accepted in a Filter.
type FilterOp string

const (
	FilterEq   FilterOp = "="
	FilterNe   FilterOp = "!="
	FilterLt   FilterOp = "<"
	FilterGt   FilterOp = ">"
	FilterLe   FilterOp = "<="
	FilterGe   FilterOp = ">="
	FilterLike FilterOp = "LIKE"
	FilterIn   FilterOp = "IN"
)

// FilterLogic joins a filter to the one before it.
type FilterLogic string

const (
	LogicAnd FilterLogic = "AND"
	LogicOr  FilterLogic = "OR"
)

// Filter narrows a listing query by one field. Field names come from a
// fixed whitelist and values are always bound as parameters, so filters
// can be built from user input. For FilterIn the value must be a slice.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
	// Logic joins this filter to the previous one; AND when empty. The
	// first filter's Logic is ignored.
	Logic FilterLogic
}

// filterColumns maps public filter field names to qualified columns.
// Listing queries always join classifications, so both prefixes resolve.
var filterColumns = map[string]string{
	"sender":           "e.sender",
	"subject":          "e.subject",
	"received_at":      "e.received_at",
	"sent_at":          "e.sent_at",
	"size_bytes":       "e.size_bytes",
	"is_read":          "e.is_read",
	"is_flagged":       "e.is_flagged",
	"has_attachments":  "e.has_attachments",
	"priority_score":   "c.priority_score",
	"urgency_level":    "c.urgency_level",
	"importance_level": "c.importance_level",
	"confidence_score": "c.confidence_score",
}

// orderColumns maps public sort field names to qualified columns.
var orderColumns = map[string]string{
	"received_at":    "e.received_at",
	"priority_score": "c.priority_score",
	"sender":         "e.sender",
	"subject":        "e.subject",
	"size_bytes":     "e.size_bytes",
	"created_at":     "e.created_at",
}

// QueryOptions controls pagination and ordering for listing queries. The
// zero value lists the newest 50 emails without a total count.
type QueryOptions struct {
	Limit  int
	Offset int
	// OrderBy names a whitelisted sort field; received_at when empty.
	OrderBy string
	// Direction is ASC or DESC; DESC when empty.
	Direction string
	// IncludeTotal adds a count of all matching rows to the response.
	IncludeTotal bool
}

func (o QueryOptions) withDefaults() QueryOptions {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// orderClause validates the sort field and direction and appends e.id so
// pages of a stable query never overlap or skip rows.
func (o QueryOptions) orderClause() (string, error) {
	orderBy := o.OrderBy
	if orderBy == "" {
		orderBy = "received_at"
	}
	column, ok := orderColumns[orderBy]
	if !ok {
		return "", fmt.Errorf("%w: order field %q", ErrInvalid, o.OrderBy)
	}

	direction := strings.ToUpper(o.Direction)
	switch direction {
	case "":
		direction = "DESC"
	case "ASC", "DESC":
	default:
		return "", fmt.Errorf("%w: order direction %q", ErrInvalid, o.Direction)
	}

	return fmt.Sprintf("ORDER BY %s %s, e.id %s", column, direction, direction), nil
}

// EmailSummary is one row of a listing query. Classification fields stay
// zero for unclassified emails.
type EmailSummary struct {
	ID              int64
	MessageID       string
	Subject         string
	Sender          string
	Recipients      []string
	ReceivedAt      time.Time
	HasAttachments  bool
	IsRead          bool
	IsFlagged       bool
	PriorityScore   int
	Urgency         Level
	Importance      Level
	ConfidenceScore float64
	AttachmentCount int
	TagCount        int
}

// EmailDetail is everything stored about one email.
type EmailDetail struct {
	Email
	// Classification is nil when the email has not been classified.
	Classification *Classification
	Attachments    []Attachment
	Tags           []EmailTag
	History        []HistoryEntry
}

// Statistics summarizes the whole mailbox. Rates are percentages of the
// total and zero when the store is empty.
type Statistics struct {
	TotalEmails          int64
	PriorityDistribution map[int]int64
	UrgencyDistribution  map[Level]int64
	WithAttachments      int64
	Unread               int64
	Flagged              int64
	ReceivedLastWeek     int64
	AttachmentRate       float64
	UnreadRate           float64
	FlaggedRate          float64
}

// SenderStat is one sender's aggregate in TopSenders.
type SenderStat struct {
	Sender         string
	EmailCount     int64
	LastReceivedAt time.Time
}

// Queries answers composed read queries. It never writes.
type Queries struct {
	pool   *Pool
	logger *slog.Logger
}

// NewQueries returns a query composer over pool.
func NewQueries(pool *Pool, logger *slog.Logger) *Queries {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queries{
		pool:   pool,
		logger: logger.With("component", "queries"),
	}
}

// bindValue converts Go-side values to their stored representation before
// binding.
func bindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return formatTime(t)
	case Level:
		return string(t)
	}
	return v
}

// expandIn flattens a FilterIn value into bind arguments.
func expandIn(value any) ([]any, error) {
	var out []any
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			out = append(out, bindValue(item))
		}
	case []string:
		for _, item := range v {
			out = append(out, item)
		}
	case []int:
		for _, item := range v {
			out = append(out, item)
		}
	case []int64:
		for _, item := range v {
			out = append(out, item)
		}
	case []Level:
		for _, item := range v {
			out = append(out, string(item))
		}
	default:
		return nil, fmt.Errorf("%w: IN filter value must be a slice", ErrInvalid)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: IN filter needs at least one value", ErrInvalid)
	}
	return out, nil
}

// buildFilterClause renders filters into a parameterized SQL fragment.
// Unknown fields, operators, or logic words fail instead of reaching SQL.
func buildFilterClause(filters []Filter) (string, []any, error) {
	var (
		sb   strings.Builder
		args []any
	)
	for i, f := range filters {
		column, ok := filterColumns[f.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: filter field %q", ErrInvalid, f.Field)
		}

		if i > 0 {
			switch f.Logic {
			case LogicAnd, "":
				sb.WriteString(" AND ")
			case LogicOr:
				sb.WriteString(" OR ")
			default:
				return "", nil, fmt.Errorf("%w: filter logic %q", ErrInvalid, f.Logic)
			}
		}

		switch f.Op {
		case FilterEq, FilterNe, FilterLt, FilterGt, FilterLe, FilterGe, FilterLike:
			sb.WriteString(column)
			sb.WriteString(" ")
			sb.WriteString(string(f.Op))
			sb.WriteString(" ?")
			args = append(args, bindValue(f.Value))
		case FilterIn:
			values, err := expandIn(f.Value)
			if err != nil {
				return "", nil, err
			}
			sb.WriteString(column)
			sb.WriteString(" IN (")
			sb.WriteString(strings.TrimRight(strings.Repeat("?,", len(values)), ","))
			sb.WriteString(")")
			args = append(args, values...)
		default:
			return "", nil, fmt.Errorf("%w: filter operator %q", ErrInvalid, f.Op)
		}
	}
	return sb.String(), args, nil
}

const summarySelect = `
	SELECT
		e.id, e.message_id, e.subject, e.sender, e.recipients,
		e.received_at, e.has_attachments, e.is_read, e.is_flagged,
		c.priority_score, c.urgency_level, c.importance_level, c.confidence_score,
		COUNT(DISTINCT a.id) AS attachment_count,
		COUNT(DISTINCT et.tag_id) AS tag_count
	FROM emails e
	LEFT JOIN classifications c ON c.email_id = e.id
	LEFT JOIN attachments a ON a.email_id = e.id
	LEFT JOIN email_tags et ON et.email_id = e.id
`

// listSummaries runs a summary listing with the given base condition plus
// optional caller filters. The returned total is -1 unless IncludeTotal.
func (q *Queries) listSummaries(ctx context.Context, cond string, condArgs []any, filters []Filter, opts QueryOptions) ([]EmailSummary, int, error) {
	opts = opts.withDefaults()

	where := cond
	args := append([]any{}, condArgs...)
	if len(filters) > 0 {
		clause, filterArgs, err := buildFilterClause(filters)
		if err != nil {
			return nil, -1, err
		}
		where += " AND (" + clause + ")"
		args = append(args, filterArgs...)
	}

	order, err := opts.orderClause()
	if err != nil {
		return nil, -1, err
	}

	query := summarySelect + " WHERE " + where + " GROUP BY e.id " + order + " LIMIT ? OFFSET ?"
	rows, err := q.pool.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, -1, fmt.Errorf("listing emails: %w", err)
	}
	defer rows.Close()

	var summaries []EmailSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, -1, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, -1, fmt.Errorf("iterating emails: %w", err)
	}

	total := -1
	if opts.IncludeTotal {
		countQuery := `
			SELECT COUNT(DISTINCT e.id)
			FROM emails e
			LEFT JOIN classifications c ON c.email_id = e.id
			WHERE ` + where
		if err := q.pool.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
			return nil, -1, fmt.Errorf("counting emails: %w", err)
		}
	}

	return summaries, total, nil
}

func scanSummary(rows *sql.Rows) (EmailSummary, error) {
	var (
		s          EmailSummary
		recipients string
		receivedAt string
		priority   sql.NullInt64
		urgency    sql.NullString
		importance sql.NullString
		confidence sql.NullFloat64
	)
	err := rows.Scan(&s.ID, &s.MessageID, &s.Subject, &s.Sender, &recipients,
		&receivedAt, &s.HasAttachments, &s.IsRead, &s.IsFlagged,
		&priority, &urgency, &importance, &confidence,
		&s.AttachmentCount, &s.TagCount)
	if err != nil {
		return EmailSummary{}, fmt.Errorf("scanning email summary: %w", err)
	}

	s.Recipients = splitAddressList(recipients)
	if s.ReceivedAt, err = parseTime(receivedAt, "received_at"); err != nil {
		return EmailSummary{}, err
	}
	if priority.Valid {
		s.PriorityScore = int(priority.Int64)
	}
	if urgency.Valid {
		s.Urgency = Level(urgency.String)
	}
	if importance.Valid {
		s.Importance = Level(importance.String)
	}
	if confidence.Valid {
		s.ConfidenceScore = confidence.Float64
	}
	return s, nil
}

// ByPriorityRange lists classified emails whose priority score falls in
// [minPriority, maxPriority]. Zero bounds default to the full 1..5 band.
func (q *Queries) ByPriorityRange(ctx context.Context, minPriority, maxPriority int, opts QueryOptions, filters ...Filter) ([]EmailSummary, int, error) {
	if minPriority <= 0 {
		minPriority = 1
	}
	if maxPriority <= 0 {
		maxPriority = 5
	}
	if minPriority > maxPriority {
		return nil, -1, fmt.Errorf("%w: priority range %d-%d", ErrInvalid, minPriority, maxPriority)
	}
	return q.listSummaries(ctx, "c.priority_score BETWEEN ? AND ?", []any{minPriority, maxPriority}, filters, opts)
}

// ByUrgency lists classified emails at any of the given urgency levels.
func (q *Queries) ByUrgency(ctx context.Context, levels []Level, opts QueryOptions, filters ...Filter) ([]EmailSummary, int, error) {
	if len(levels) == 0 {
		return nil, -1, fmt.Errorf("%w: at least one urgency level required", ErrInvalid)
	}
	placeholders := make([]string, len(levels))
	args := make([]any, len(levels))
	for i, level := range levels {
		if !level.Valid() {
			return nil, -1, fmt.Errorf("%w: urgency_level %q", ErrInvalid, level)
		}
		placeholders[i] = "?"
		args[i] = string(level)
	}
	cond := "c.urgency_level IN (" + strings.Join(placeholders, ",") + ")"
	return q.listSummaries(ctx, cond, args, filters, opts)
}

// BySender lists emails from one sender. partial matches the sender as a
// substring instead of exactly.
func (q *Queries) BySender(ctx context.Context, sender string, partial bool, opts QueryOptions) ([]EmailSummary, int, error) {
	if partial {
		return q.listSummaries(ctx, "e.sender LIKE ?", []any{"%" + sender + "%"}, nil, opts)
	}
	return q.listSummaries(ctx, "e.sender = ?", []any{sender}, nil, opts)
}

// ByDateRange lists emails received inside [start, end].
func (q *Queries) ByDateRange(ctx context.Context, start, end time.Time, opts QueryOptions, filters ...Filter) ([]EmailSummary, int, error) {
	if end.Before(start) {
		return nil, -1, fmt.Errorf("%w: date range ends before it starts", ErrInvalid)
	}
	return q.listSummaries(ctx, "e.received_at BETWEEN ? AND ?", []any{formatTime(start), formatTime(end)}, filters, opts)
}

// ByID loads one email with its classification, attachments, tags, and
// history. Returns ErrNotFound when no email has the id.
func (q *Queries) ByID(ctx context.Context, id int64) (*EmailDetail, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE id = ?`
	email, err := scanEmail(q.pool.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("email %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting email %d: %w", id, err)
	}
	detail := &EmailDetail{Email: *email}

	clsQuery := `SELECT ` + classificationColumns + ` FROM classifications WHERE email_id = ?`
	cls, err := scanClassification(q.pool.QueryRowContext(ctx, clsQuery, id))
	switch {
	case err == nil:
		detail.Classification = cls
	case errors.Is(err, sql.ErrNoRows):
		// unclassified is fine
	default:
		return nil, fmt.Errorf("getting classification for email %d: %w", id, err)
	}

	attQuery := `SELECT ` + attachmentColumns + ` FROM attachments WHERE email_id = ? ORDER BY filename, id`
	rows, err := q.pool.QueryContext(ctx, attQuery, id)
	if err != nil {
		return nil, fmt.Errorf("listing attachments for email %d: %w", id, err)
	}
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		detail.Attachments = append(detail.Attachments, *att)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterating attachments for email %d: %w", id, err)
	}

	tagQuery := `
		SELECT t.id, t.name, t.description, t.color, t.created_at, et.assigned_at
		FROM tags t
		JOIN email_tags et ON et.tag_id = t.id
		WHERE et.email_id = ?
		ORDER BY t.name
	`
	rows, err = q.pool.QueryContext(ctx, tagQuery, id)
	if err != nil {
		return nil, fmt.Errorf("listing tags for email %d: %w", id, err)
	}
	for rows.Next() {
		tag, err := scanEmailTag(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		detail.Tags = append(detail.Tags, *tag)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterating tags for email %d: %w", id, err)
	}

	histQuery := `SELECT ` + historyColumns + ` FROM history WHERE email_id = ? ORDER BY performed_at DESC, id DESC`
	rows, err = q.pool.QueryContext(ctx, histQuery, id)
	if err != nil {
		return nil, fmt.Errorf("listing history for email %d: %w", id, err)
	}
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		detail.History = append(detail.History, *entry)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterating history for email %d: %w", id, err)
	}

	return detail, nil
}

// closeRows closes rows and reports the first of the iteration or close
// error.
func closeRows(rows *sql.Rows) error {
	iterErr := rows.Err()
	closeErr := rows.Close()
	if iterErr != nil {
		return iterErr
	}
	return closeErr
}

// Statistics aggregates mailbox-wide counts and distributions.
func (q *Queries) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		PriorityDistribution: make(map[int]int64),
		UrgencyDistribution:  make(map[Level]int64),
	}

	countsQuery := `
		SELECT
			COUNT(*),
			COALESCE(SUM(has_attachments), 0),
			COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(is_flagged), 0)
		FROM emails
	`
	err := q.pool.QueryRowContext(ctx, countsQuery).
		Scan(&stats.TotalEmails, &stats.WithAttachments, &stats.Unread, &stats.Flagged)
	if err != nil {
		return nil, fmt.Errorf("counting emails: %w", err)
	}

	rows, err := q.pool.QueryContext(ctx, `
		SELECT priority_score, COUNT(*)
		FROM classifications
		GROUP BY priority_score
		ORDER BY priority_score
	`)
	if err != nil {
		return nil, fmt.Errorf("counting by priority: %w", err)
	}
	for rows.Next() {
		var (
			score int
			count int64
		)
		if err := rows.Scan(&score, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning priority count: %w", err)
		}
		stats.PriorityDistribution[score] = count
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterating priority counts: %w", err)
	}

	rows, err = q.pool.QueryContext(ctx, `
		SELECT urgency_level, COUNT(*)
		FROM classifications
		GROUP BY urgency_level
	`)
	if err != nil {
		return nil, fmt.Errorf("counting by urgency: %w", err)
	}
	for rows.Next() {
		var (
			level Level
			count int64
		)
		if err := rows.Scan(&level, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning urgency count: %w", err)
		}
		stats.UrgencyDistribution[level] = count
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterating urgency counts: %w", err)
	}

	weekAgo := formatTime(time.Now().AddDate(0, 0, -7))
	err = q.pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails WHERE received_at >= ?`, weekAgo).
		Scan(&stats.ReceivedLastWeek)
	if err != nil {
		return nil, fmt.Errorf("counting recent emails: %w", err)
	}

	if stats.TotalEmails > 0 {
		total := float64(stats.TotalEmails)
		stats.AttachmentRate = float64(stats.WithAttachments) / total * 100
		stats.UnreadRate = float64(stats.Unread) / total * 100
		stats.FlaggedRate = float64(stats.Flagged) / total * 100
	}

	return stats, nil
}

// TopSenders lists the most frequent senders, busiest first.
func (q *Queries) TopSenders(ctx context.Context, limit int) ([]SenderStat, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := q.pool.QueryContext(ctx, `
		SELECT sender, COUNT(*) AS email_count, MAX(received_at) AS last_received
		FROM emails
		GROUP BY sender
		ORDER BY email_count DESC, sender
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing top senders: %w", err)
	}
	defer rows.Close()

	var senders []SenderStat
	for rows.Next() {
		var (
			stat         SenderStat
			lastReceived string
		)
		if err := rows.Scan(&stat.Sender, &stat.EmailCount, &lastReceived); err != nil {
			return nil, fmt.Errorf("scanning sender stats: %w", err)
		}
		if stat.LastReceivedAt, err = parseTime(lastReceived, "received_at"); err != nil {
			return nil, err
		}
		senders = append(senders, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating top senders: %w", err)
	}
	return senders, nil
}
