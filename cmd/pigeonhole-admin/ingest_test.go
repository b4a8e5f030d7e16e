// ABOUTME: Tests for .eml ingestion into the store
// ABOUTME: Covers MIME extraction, attachment hashing, batch dedupe, and file collection

package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/pigeonhole-mail/pigeonhole/internal/dedupe"
	"github.com/pigeonhole-mail/pigeonhole/internal/store"
)

const upgradeEML = `Message-ID: <ops-123@example.com>
Date: Tue, 10 Jun 2025 09:30:00 +0000
From: Alice Operator <alice@example.com>
To: Bob <bob@example.com>, carol@example.com
Cc: dave@example.com
Subject: Server upgrade plan
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="frontier"

--frontier
Content-Type: text/plain; charset=us-ascii

The upgrade window opens at midnight. Runbook attached.
--frontier
Content-Type: application/pdf; name="runbook.pdf"
Content-Disposition: attachment; filename="runbook.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQKJcOkw7zDtsOf
--frontier--
`

// crlf rewrites test fixtures to the wire line endings mail carries.
func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// setupTestEnv builds a cliEnv around a migrated temporary database,
// bypassing config loading.
func setupTestEnv(t *testing.T) *cliEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	dbPath := filepath.Join(t.TempDir(), "mail.db")

	pool, err := store.Open(dbPath, store.PoolConfig{}, logger)
	require.NoError(t, err)
	migrator, err := store.NewMigrator(pool, logger)
	require.NoError(t, err)
	_, err = migrator.Up(context.Background(), 0)
	require.NoError(t, err)

	env := &cliEnv{logger: logger, store: store.New(pool, logger)}
	t.Cleanup(func() { env.store.Close() })
	return env
}

func TestIngestFile(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	tmpDir := t.TempDir()
	attachDir := filepath.Join(tmpDir, "attachments")

	raw := []byte(crlf(upgradeEML))
	emlPath := filepath.Join(tmpDir, "upgrade.eml")
	require.NoError(t, os.WriteFile(emlPath, raw, 0644))

	seen := dedupe.New(8)
	require.NoError(t, ingestFile(ctx, env, seen, attachDir, emlPath, true))

	got, err := env.store.GetEmailByMessageID(ctx, "ops-123@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Server upgrade plan", got.Subject)
	assert.Equal(t, "alice@example.com", got.Sender)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, got.Recipients)
	assert.Equal(t, []string{"dave@example.com"}, got.CC)
	assert.Contains(t, got.BodyText, "The upgrade window opens at midnight.")
	assert.True(t, got.HasAttachments)
	assert.True(t, got.IsRead)
	require.NotNil(t, got.SizeBytes)
	assert.Equal(t, int64(len(raw)), *got.SizeBytes)

	// Date header supplies both sent and received times
	wantSent := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(wantSent))
	assert.True(t, got.ReceivedAt.Equal(wantSent))

	// The attachment payload lands content-addressed under attachDir
	content, err := base64.StdEncoding.DecodeString("JVBERi0xLjQKJcOkw7zDtsOf")
	require.NoError(t, err)
	sum := blake3.Sum256(content)
	wantHash := hex.EncodeToString(sum[:])

	attachments, err := env.store.ListAttachments(ctx, got.ID)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	att := attachments[0]
	assert.Equal(t, "runbook.pdf", att.Filename)
	assert.Equal(t, "application/pdf", att.MimeType)
	assert.Equal(t, wantHash, att.ContentHash)
	require.NotNil(t, att.SizeBytes)
	assert.Equal(t, int64(len(content)), *att.SizeBytes)
	assert.Equal(t, filepath.Join(attachDir, wantHash[:2], wantHash+".pdf"), att.FilePath)

	payload, err := os.ReadFile(att.FilePath)
	require.NoError(t, err)
	assert.Equal(t, content, payload)

	history, err := env.store.ListEmailHistory(ctx, got.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ingested", history[0].Action)
	assert.Equal(t, emlPath, history[0].Details)
}

func TestIngestFile_SkipsDuplicates(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	tmpDir := t.TempDir()
	attachDir := filepath.Join(tmpDir, "attachments")
	seen := dedupe.New(8)

	original := filepath.Join(tmpDir, "original.eml")
	require.NoError(t, os.WriteFile(original, []byte(crlf(upgradeEML)), 0644))
	require.NoError(t, ingestFile(ctx, env, seen, attachDir, original, false))

	// Byte-identical copy in the same batch is caught before parsing
	copyPath := filepath.Join(tmpDir, "copy.eml")
	require.NoError(t, os.WriteFile(copyPath, []byte(crlf(upgradeEML)), 0644))
	err := ingestFile(ctx, env, seen, attachDir, copyPath, false)
	assert.ErrorIs(t, err, errSeenInBatch)

	// Different bytes, same Message-ID: the store's uniqueness wins
	rewrite := strings.Replace(upgradeEML, "Subject: Server upgrade plan", "Subject: Server upgrade plan v2", 1)
	rewritePath := filepath.Join(tmpDir, "rewrite.eml")
	require.NoError(t, os.WriteFile(rewritePath, []byte(crlf(rewrite)), 0644))
	err = ingestFile(ctx, env, seen, attachDir, rewritePath, false)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	count, err := env.store.CountEmails(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestIngestFile_GeneratesMessageID(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	tmpDir := t.TempDir()

	eml := `From: noreply@example.com
To: inbox@example.com
Subject: No message id here

Plain body.
`
	path := filepath.Join(tmpDir, "anon.eml")
	require.NoError(t, os.WriteFile(path, []byte(crlf(eml)), 0644))

	require.NoError(t, ingestFile(ctx, env, dedupe.New(8), tmpDir, path, false))

	emails, err := env.store.ListEmails(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.True(t, strings.HasSuffix(emails[0].MessageID, "@pigeonhole.generated"))
	assert.Greater(t, len(emails[0].MessageID), len("@pigeonhole.generated"))
}

func TestIngestFile_RequiresFrom(t *testing.T) {
	env := setupTestEnv(t)
	tmpDir := t.TempDir()

	eml := `Message-ID: <senderless@example.com>
To: inbox@example.com
Subject: Nobody sent this

Plain body.
`
	path := filepath.Join(tmpDir, "senderless.eml")
	require.NoError(t, os.WriteFile(path, []byte(crlf(eml)), 0644))

	err := ingestFile(context.Background(), env, dedupe.New(8), tmpDir, path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no From header")
}

func TestCollectMessages(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.eml"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "nested", "b.EML"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "nested", "notes.txt"), []byte("x"), 0644))

	// Directories are walked for .eml files, case-insensitively
	files, err := collectMessages(tmpDir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(tmpDir, "a.eml"),
		filepath.Join(tmpDir, "nested", "b.EML"),
	}, files)

	// An explicit file argument is taken as-is, whatever its extension
	files, err = collectMessages(filepath.Join(tmpDir, "nested", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(tmpDir, "nested", "notes.txt")}, files)

	_, err = collectMessages(filepath.Join(tmpDir, "missing"))
	assert.Error(t, err)
}

func TestRunIngest_RequiresPaths(t *testing.T) {
	err := runIngest(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one .eml file")
}
