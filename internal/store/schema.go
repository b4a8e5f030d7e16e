// ABOUTME: Ordered DDL for every table, index, and trigger in the store
// ABOUTME: Creation runs parents before dependents; teardown runs the exact reverse

package store

// Statement is one named DDL step. Names show up in logs and migration
// errors so a failed step is identifiable without reading SQL.
type Statement struct {
	Name string
	SQL  string
}

const createSchemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL,
	description TEXT
)`

const createEmailsTable = `
CREATE TABLE IF NOT EXISTS emails (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL UNIQUE,
	subject TEXT NOT NULL,
	sender TEXT NOT NULL,
	recipients TEXT NOT NULL,
	cc TEXT,
	bcc TEXT,
	body_text TEXT,
	body_html TEXT,
	received_at DATETIME NOT NULL,
	sent_at DATETIME,
	size_bytes INTEGER,
	has_attachments BOOLEAN NOT NULL DEFAULT 0,
	is_read BOOLEAN NOT NULL DEFAULT 0,
	is_flagged BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
)`

const createAttachmentsTable = `
CREATE TABLE IF NOT EXISTS attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email_id INTEGER NOT NULL,
	filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	size_bytes INTEGER,
	mime_type TEXT,
	content_hash TEXT,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (email_id) REFERENCES emails(id) ON DELETE CASCADE
)`

const createClassificationsTable = `
CREATE TABLE IF NOT EXISTS classifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email_id INTEGER NOT NULL UNIQUE,
	priority_score INTEGER NOT NULL CHECK (priority_score BETWEEN 1 AND 5),
	urgency_level TEXT NOT NULL CHECK (urgency_level IN ('low', 'medium', 'high', 'critical')),
	importance_level TEXT NOT NULL CHECK (importance_level IN ('low', 'medium', 'high', 'critical')),
	classification_type TEXT NOT NULL,
	confidence_score REAL CHECK (confidence_score BETWEEN 0 AND 1),
	ai_analysis TEXT,
	classified_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (email_id) REFERENCES emails(id) ON DELETE CASCADE
)`

const createRulesTable = `
CREATE TABLE IF NOT EXISTS rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	description TEXT,
	rule_type TEXT NOT NULL CHECK (rule_type IN ('sender', 'keyword', 'time', 'custom')),
	condition TEXT NOT NULL,
	action TEXT NOT NULL CHECK (action IN ('classify', 'tag', 'flag', 'move')),
	priority INTEGER NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
)`

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email_id INTEGER,
	action_type TEXT NOT NULL,
	action_details TEXT,
	performed_at DATETIME NOT NULL,
	FOREIGN KEY (email_id) REFERENCES emails(id) ON DELETE SET NULL
)`

const createTagsTable = `
CREATE TABLE IF NOT EXISTS tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	description TEXT,
	color TEXT,
	created_at DATETIME NOT NULL
)`

const createEmailTagsTable = `
CREATE TABLE IF NOT EXISTS email_tags (
	email_id INTEGER NOT NULL,
	tag_id INTEGER NOT NULL,
	assigned_at DATETIME NOT NULL,
	PRIMARY KEY (email_id, tag_id),
	FOREIGN KEY (email_id) REFERENCES emails(id) ON DELETE CASCADE,
	FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
)`

// emails_fts is an external-content FTS5 table projecting the searchable
// columns of emails. Rows live in emails; the triggers below keep the
// index in step with every insert, update, and delete.
const createSearchTable = `
CREATE VIRTUAL TABLE IF NOT EXISTS emails_fts USING fts5(
	subject,
	body_text,
	sender,
	recipients,
	content='emails',
	content_rowid='id'
)`

const createSearchInsertTrigger = `
CREATE TRIGGER IF NOT EXISTS emails_fts_insert AFTER INSERT ON emails BEGIN
	INSERT INTO emails_fts(rowid, subject, body_text, sender, recipients)
	VALUES (new.id, new.subject, new.body_text, new.sender, new.recipients);
END`

// External-content FTS5 removes rows through the special 'delete' insert
// carrying the old column values; a plain DELETE corrupts the index.
const createSearchDeleteTrigger = `
CREATE TRIGGER IF NOT EXISTS emails_fts_delete AFTER DELETE ON emails BEGIN
	INSERT INTO emails_fts(emails_fts, rowid, subject, body_text, sender, recipients)
	VALUES ('delete', old.id, old.subject, old.body_text, old.sender, old.recipients);
END`

const createSearchUpdateTrigger = `
CREATE TRIGGER IF NOT EXISTS emails_fts_update AFTER UPDATE ON emails BEGIN
	INSERT INTO emails_fts(emails_fts, rowid, subject, body_text, sender, recipients)
	VALUES ('delete', old.id, old.subject, old.body_text, old.sender, old.recipients);
	INSERT INTO emails_fts(rowid, subject, body_text, sender, recipients)
	VALUES (new.id, new.subject, new.body_text, new.sender, new.recipients);
END`

// CreateStatements returns every DDL step in creation order: the version
// ledger first, then entity tables with parents before their dependents,
// then secondary indexes, then the search table and its sync triggers.
func CreateStatements() []Statement {
	stmts := []Statement{
		{Name: "schema_version", SQL: createSchemaVersionTable},
		{Name: "emails", SQL: createEmailsTable},
		{Name: "attachments", SQL: createAttachmentsTable},
		{Name: "classifications", SQL: createClassificationsTable},
		{Name: "rules", SQL: createRulesTable},
		{Name: "history", SQL: createHistoryTable},
		{Name: "tags", SQL: createTagsTable},
		{Name: "email_tags", SQL: createEmailTagsTable},
	}
	for _, spec := range DeclaredIndexes() {
		stmts = append(stmts, Statement{Name: spec.Name, SQL: spec.CreateSQL()})
	}
	stmts = append(stmts,
		Statement{Name: "emails_fts", SQL: createSearchTable},
		Statement{Name: "emails_fts_insert", SQL: createSearchInsertTrigger},
		Statement{Name: "emails_fts_delete", SQL: createSearchDeleteTrigger},
		Statement{Name: "emails_fts_update", SQL: createSearchUpdateTrigger},
	)
	return stmts
}

// DropStatements returns the teardown steps, the exact reverse of
// CreateStatements: triggers before the search table they feed, indexes
// before their tables, dependent tables before the tables they reference,
// the version ledger last. Every step is idempotent via IF EXISTS.
func DropStatements() []Statement {
	stmts := []Statement{
		{Name: "emails_fts_update", SQL: `DROP TRIGGER IF EXISTS emails_fts_update`},
		{Name: "emails_fts_delete", SQL: `DROP TRIGGER IF EXISTS emails_fts_delete`},
		{Name: "emails_fts_insert", SQL: `DROP TRIGGER IF EXISTS emails_fts_insert`},
		{Name: "emails_fts", SQL: `DROP TABLE IF EXISTS emails_fts`},
	}
	specs := DeclaredIndexes()
	for i := len(specs) - 1; i >= 0; i-- {
		stmts = append(stmts, Statement{Name: specs[i].Name, SQL: specs[i].DropSQL()})
	}
	stmts = append(stmts,
		Statement{Name: "email_tags", SQL: `DROP TABLE IF EXISTS email_tags`},
		Statement{Name: "tags", SQL: `DROP TABLE IF EXISTS tags`},
		Statement{Name: "history", SQL: `DROP TABLE IF EXISTS history`},
		Statement{Name: "rules", SQL: `DROP TABLE IF EXISTS rules`},
		Statement{Name: "classifications", SQL: `DROP TABLE IF EXISTS classifications`},
		Statement{Name: "attachments", SQL: `DROP TABLE IF EXISTS attachments`},
		Statement{Name: "emails", SQL: `DROP TABLE IF EXISTS emails`},
		Statement{Name: "schema_version", SQL: `DROP TABLE IF EXISTS schema_version`},
	)
	return stmts
}
