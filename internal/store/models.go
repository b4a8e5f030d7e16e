// ABOUTME: Entity types for stored email records plus their row decoders
// ABOUTME: Decoders fail loudly on malformed rows instead of zeroing fields

package store

import (
	"fmt"
	"strings"
	"time"
)

// Level grades urgency and importance on classifications.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// RuleType says what part of a message a rule matches against.
type RuleType string

const (
	RuleTypeSender  RuleType = "sender"
	RuleTypeKeyword RuleType = "keyword"
	RuleTypeTime    RuleType = "time"
	RuleTypeCustom  RuleType = "custom"
)

// Valid reports whether t is one of the known rule types.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeSender, RuleTypeKeyword, RuleTypeTime, RuleTypeCustom:
		return true
	}
	return false
}

// RuleAction says what a matching rule does to a record.
type RuleAction string

const (
	ActionClassify RuleAction = "classify"
	ActionTag      RuleAction = "tag"
	ActionFlag     RuleAction = "flag"
	ActionMove     RuleAction = "move"
)

// Valid reports whether a is one of the known actions.
func (a RuleAction) Valid() bool {
	switch a {
	case ActionClassify, ActionTag, ActionFlag, ActionMove:
		return true
	}
	return false
}

// Email is one stored message. MessageID is the external identity and must
// be unique; ReceivedAt is required. Recipients, CC, and BCC keep their
// original order.
type Email struct {
	ID             int64
	MessageID      string
	Subject        string
	Sender         string
	Recipients     []string
	CC             []string
	BCC            []string
	BodyText       string
	BodyHTML       string
	ReceivedAt     time.Time
	SentAt         *time.Time
	SizeBytes      *int64
	HasAttachments bool
	IsRead         bool
	IsFlagged      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks the fields required before an insert.
func (e *Email) Validate() error {
	if e.MessageID == "" {
		return fmt.Errorf("%w: message_id is required", ErrInvalid)
	}
	if e.Sender == "" {
		return fmt.Errorf("%w: sender is required", ErrInvalid)
	}
	if e.ReceivedAt.IsZero() {
		return fmt.Errorf("%w: received_at is required", ErrInvalid)
	}
	return nil
}

// Attachment is a file carried by an email. FilePath points at the stored
// payload on disk. Rows are removed when their email is deleted.
type Attachment struct {
	ID          int64
	EmailID     int64
	Filename    string
	FilePath    string
	SizeBytes   *int64
	MimeType    string
	ContentHash string
	CreatedAt   time.Time
}

// Validate checks the fields required before an insert.
func (a *Attachment) Validate() error {
	if a.EmailID == 0 {
		return fmt.Errorf("%w: email_id is required", ErrInvalid)
	}
	if a.Filename == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalid)
	}
	if a.FilePath == "" {
		return fmt.Errorf("%w: file_path is required", ErrInvalid)
	}
	return nil
}

// Classification is the single priority assessment attached to an email.
// PriorityScore runs 1 (routine) to 5 (most critical); ConfidenceScore,
// when present, is a fraction in [0, 1]. Type records who produced the
// assessment, e.g. "ai", "rule", or "manual".
type Classification struct {
	ID              int64
	EmailID         int64
	PriorityScore   int
	Urgency         Level
	Importance      Level
	Type            string
	ConfidenceScore *float64
	AIAnalysis      string
	ClassifiedAt    time.Time
	UpdatedAt       time.Time
}

// Validate checks field ranges before an insert or update.
func (c *Classification) Validate() error {
	if c.EmailID == 0 {
		return fmt.Errorf("%w: email_id is required", ErrInvalid)
	}
	if c.PriorityScore < 1 || c.PriorityScore > 5 {
		return fmt.Errorf("%w: priority_score %d out of range 1-5", ErrInvalid, c.PriorityScore)
	}
	if !c.Urgency.Valid() {
		return fmt.Errorf("%w: urgency_level %q", ErrInvalid, c.Urgency)
	}
	if !c.Importance.Valid() {
		return fmt.Errorf("%w: importance_level %q", ErrInvalid, c.Importance)
	}
	if c.Type == "" {
		return fmt.Errorf("%w: classification_type is required", ErrInvalid)
	}
	if c.ConfidenceScore != nil && (*c.ConfidenceScore < 0 || *c.ConfidenceScore > 1) {
		return fmt.Errorf("%w: confidence_score %v out of range 0-1", ErrInvalid, *c.ConfidenceScore)
	}
	return nil
}

// Rule is a stored automation rule. Condition is the match expression in
// the syntax of its Type; higher Priority rules run first.
type Rule struct {
	ID          int64
	Name        string
	Description string
	Type        RuleType
	Condition   string
	Action      RuleAction
	Priority    int
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks the fields required before an insert or update.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: rule type %q", ErrInvalid, r.Type)
	}
	if r.Condition == "" {
		return fmt.Errorf("%w: condition is required", ErrInvalid)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("%w: action %q", ErrInvalid, r.Action)
	}
	return nil
}

// HistoryEntry records one action taken on an email. EmailID is nil once
// the email itself has been deleted; the audit row survives.
type HistoryEntry struct {
	ID          int64
	EmailID     *int64
	Action      string
	Details     string
	PerformedAt time.Time
}

// Tag is a named label. Names are unique.
type Tag struct {
	ID          int64
	Name        string
	Description string
	Color       string
	CreatedAt   time.Time
}

// EmailTag is a tag assignment on an email, carrying when it was assigned.
type EmailTag struct {
	Tag
	AssignedAt time.Time
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// DATETIME columns store RFC 3339 UTC strings written by Go, so parse
// failures mean the row was written by something else and should surface.
func parseTime(value, column string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", column, err)
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

const addressSeparator = ", "

func joinAddressList(addrs []string) string {
	return strings.Join(addrs, addressSeparator)
}

func splitAddressList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, addressSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// nullString converts empty strings to NULL for nullable TEXT columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

const emailColumns = `id, message_id, subject, sender, recipients, cc, bcc,
		body_text, body_html, received_at, sent_at, size_bytes,
		has_attachments, is_read, is_flagged, created_at, updated_at`

// prefixColumns qualifies each column in a comma-separated list with a
// table alias for use in joins.
func prefixColumns(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanEmail(row rowScanner) (*Email, error) {
	var (
		e          Email
		cc         *string
		bcc        *string
		bodyText   *string
		bodyHTML   *string
		recipients string
		receivedAt string
		sentAt     *string
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(&e.ID, &e.MessageID, &e.Subject, &e.Sender, &recipients, &cc, &bcc,
		&bodyText, &bodyHTML, &receivedAt, &sentAt, &e.SizeBytes,
		&e.HasAttachments, &e.IsRead, &e.IsFlagged, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if bodyText != nil {
		e.BodyText = *bodyText
	}
	if bodyHTML != nil {
		e.BodyHTML = *bodyHTML
	}
	e.Recipients = splitAddressList(recipients)
	if cc != nil {
		e.CC = splitAddressList(*cc)
	}
	if bcc != nil {
		e.BCC = splitAddressList(*bcc)
	}

	var err error
	if e.ReceivedAt, err = parseTime(receivedAt, "received_at"); err != nil {
		return nil, err
	}
	if sentAt != nil {
		t, err := parseTime(*sentAt, "sent_at")
		if err != nil {
			return nil, err
		}
		e.SentAt = &t
	}
	if e.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt, "updated_at"); err != nil {
		return nil, err
	}
	return &e, nil
}

const attachmentColumns = `id, email_id, filename, file_path, size_bytes,
		mime_type, content_hash, created_at`

func scanAttachment(row rowScanner) (*Attachment, error) {
	var (
		a           Attachment
		mimeType    *string
		contentHash *string
		createdAt   string
	)
	if err := row.Scan(&a.ID, &a.EmailID, &a.Filename, &a.FilePath, &a.SizeBytes,
		&mimeType, &contentHash, &createdAt); err != nil {
		return nil, err
	}
	if mimeType != nil {
		a.MimeType = *mimeType
	}
	if contentHash != nil {
		a.ContentHash = *contentHash
	}

	var err error
	if a.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return nil, err
	}
	return &a, nil
}

const classificationColumns = `id, email_id, priority_score, urgency_level,
		importance_level, classification_type, confidence_score, ai_analysis,
		classified_at, updated_at`

func scanClassification(row rowScanner) (*Classification, error) {
	var (
		c            Classification
		aiAnalysis   *string
		classifiedAt string
		updatedAt    string
	)
	if err := row.Scan(&c.ID, &c.EmailID, &c.PriorityScore, &c.Urgency,
		&c.Importance, &c.Type, &c.ConfidenceScore, &aiAnalysis,
		&classifiedAt, &updatedAt); err != nil {
		return nil, err
	}
	if aiAnalysis != nil {
		c.AIAnalysis = *aiAnalysis
	}

	var err error
	if c.ClassifiedAt, err = parseTime(classifiedAt, "classified_at"); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt, "updated_at"); err != nil {
		return nil, err
	}
	return &c, nil
}

const ruleColumns = `id, name, description, rule_type, condition, action,
		priority, is_active, created_at, updated_at`

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r           Rule
		description *string
		createdAt   string
		updatedAt   string
	)
	if err := row.Scan(&r.ID, &r.Name, &description, &r.Type, &r.Condition, &r.Action,
		&r.Priority, &r.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if description != nil {
		r.Description = *description
	}

	var err error
	if r.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt, "updated_at"); err != nil {
		return nil, err
	}
	return &r, nil
}

const historyColumns = `id, email_id, action_type, action_details, performed_at`

func scanHistory(row rowScanner) (*HistoryEntry, error) {
	var (
		h           HistoryEntry
		details     *string
		performedAt string
	)
	if err := row.Scan(&h.ID, &h.EmailID, &h.Action, &details, &performedAt); err != nil {
		return nil, err
	}
	if details != nil {
		h.Details = *details
	}

	var err error
	if h.PerformedAt, err = parseTime(performedAt, "performed_at"); err != nil {
		return nil, err
	}
	return &h, nil
}

const tagColumns = `id, name, description, color, created_at`

func scanTag(row rowScanner) (*Tag, error) {
	var (
		t           Tag
		description *string
		color       *string
		createdAt   string
	)
	if err := row.Scan(&t.ID, &t.Name, &description, &color, &createdAt); err != nil {
		return nil, err
	}
	if description != nil {
		t.Description = *description
	}
	if color != nil {
		t.Color = *color
	}

	var err error
	if t.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanEmailTag(row rowScanner) (*EmailTag, error) {
	var (
		et          EmailTag
		description *string
		color       *string
		createdAt   string
		assignedAt  string
	)
	if err := row.Scan(&et.ID, &et.Name, &description, &color, &createdAt,
		&assignedAt); err != nil {
		return nil, err
	}
	if description != nil {
		et.Description = *description
	}
	if color != nil {
		et.Color = *color
	}

	var err error
	if et.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return nil, err
	}
	if et.AssignedAt, err = parseTime(assignedAt, "assigned_at"); err != nil {
		return nil, err
	}
	return &et, nil
}
