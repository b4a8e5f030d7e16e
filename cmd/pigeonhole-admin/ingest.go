// ABOUTME: Ingest command: parses .eml files and loads them into the store
// ABOUTME: Attachment payloads are written content-addressed by blake3 hash

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/zeebo/blake3"

	"github.com/pigeonhole-mail/pigeonhole/internal/dedupe"
	"github.com/pigeonhole-mail/pigeonhole/internal/store"
)

// errSeenInBatch marks a file whose bytes already went in during this run.
var errSeenInBatch = errors.New("duplicate payload in batch")

func runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	attachDir := fs.String("attachments", "", "Directory for attachment payloads (default: <db dir>/attachments)")
	markRead := fs.Bool("read", false, "Mark ingested emails as already read")
	fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("ingest: at least one .eml file or directory required")
	}

	env, err := setup()
	if err != nil {
		return err
	}
	defer env.close()

	dir := *attachDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(env.cfg.Database.Path), "attachments")
	}

	var files []string
	for _, path := range paths {
		found, err := collectMessages(path)
		if err != nil {
			return fmt.Errorf("collecting messages from %s: %w", path, err)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return fmt.Errorf("ingest: no .eml files found")
	}

	seen := dedupe.New(len(files))
	var imported, skipped int
	for _, file := range files {
		switch err := ingestFile(ctx, env, seen, dir, file, *markRead); {
		case err == nil:
			imported++
		case errors.Is(err, errSeenInBatch):
			skipped++
			env.logger.Debug("duplicate payload in batch", "file", file)
		case errors.Is(err, store.ErrDuplicate):
			skipped++
			env.logger.Debug("message already stored", "file", file)
		default:
			return fmt.Errorf("ingesting %s: %w", file, err)
		}
	}

	fmt.Printf("ingested %d message(s), %d already stored\n", imported, skipped)
	return nil
}

// collectMessages expands a path into the .eml files beneath it.
func collectMessages(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".eml") {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func ingestFile(ctx context.Context, env *cliEnv, seen *dedupe.Cache, attachDir, path string, markRead bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Byte-identical files (maildir copies, re-listed arguments) are
	// skipped before parsing.
	sum := blake3.Sum256(raw)
	if seen.Seen(hex.EncodeToString(sum[:])) {
		return errSeenInBatch
	}

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parsing message: %w", err)
	}

	messageID := strings.Trim(envelope.GetHeader("Message-ID"), "<> \t")
	if messageID == "" {
		messageID = uuid.NewString() + "@pigeonhole.generated"
		env.logger.Warn("message has no Message-ID, generated one",
			"file", path, "message_id", messageID)
	}

	sender := firstAddress(envelope, "From")
	if sender == "" {
		return fmt.Errorf("message has no From header")
	}

	// The Date header is the best received-time proxy when ingesting an
	// archive; fall back to the file's mtime.
	received := time.Now().UTC()
	if info, err := os.Stat(path); err == nil {
		received = info.ModTime().UTC()
	}
	var sentAt *time.Time
	if d, err := mail.ParseDate(envelope.GetHeader("Date")); err == nil {
		utc := d.UTC()
		sentAt = &utc
		received = utc
	}
	size := int64(len(raw))

	email := &store.Email{
		MessageID:      messageID,
		Subject:        envelope.GetHeader("Subject"),
		Sender:         sender,
		Recipients:     addressList(envelope, "To"),
		CC:             addressList(envelope, "Cc"),
		BCC:            addressList(envelope, "Bcc"),
		BodyText:       envelope.Text,
		BodyHTML:       envelope.HTML,
		ReceivedAt:     received,
		SentAt:         sentAt,
		SizeBytes:      &size,
		HasAttachments: len(envelope.Attachments) > 0,
		IsRead:         markRead,
	}
	if err := env.store.CreateEmail(ctx, email); err != nil {
		return err
	}

	for _, part := range envelope.Attachments {
		if err := storeAttachment(ctx, env, attachDir, email.ID, part); err != nil {
			return err
		}
	}

	entry := &store.HistoryEntry{
		EmailID: &email.ID,
		Action:  "ingested",
		Details: path,
	}
	if err := env.store.AddHistory(ctx, entry); err != nil {
		return err
	}

	return nil
}

// storeAttachment writes the payload content-addressed under attachDir and
// records it. Identical payloads from different messages share one file.
func storeAttachment(ctx context.Context, env *cliEnv, attachDir string, emailID int64, part *enmime.Part) error {
	sum := blake3.Sum256(part.Content)
	hash := hex.EncodeToString(sum[:])

	filename := part.FileName
	if filename == "" {
		filename = "unnamed"
	}

	payloadPath := filepath.Join(attachDir, hash[:2], hash+filepath.Ext(filename))
	if _, err := os.Stat(payloadPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(payloadPath), 0755); err != nil {
			return fmt.Errorf("creating attachment dir: %w", err)
		}
		if err := os.WriteFile(payloadPath, part.Content, 0644); err != nil {
			return fmt.Errorf("writing attachment payload: %w", err)
		}
	}

	size := int64(len(part.Content))
	att := &store.Attachment{
		EmailID:     emailID,
		Filename:    filename,
		FilePath:    payloadPath,
		SizeBytes:   &size,
		MimeType:    part.ContentType,
		ContentHash: hash,
	}
	if err := env.store.CreateAttachment(ctx, att); err != nil {
		return fmt.Errorf("recording attachment %q: %w", filename, err)
	}
	return nil
}

// firstAddress returns the first parsed address for a header, or the raw
// header value when parsing fails.
func firstAddress(envelope *enmime.Envelope, header string) string {
	if addrs, err := envelope.AddressList(header); err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return strings.TrimSpace(envelope.GetHeader(header))
}

// addressList returns every parsed address for a header, falling back to
// the raw header value when parsing fails.
func addressList(envelope *enmime.Envelope, header string) []string {
	if addrs, err := envelope.AddressList(header); err == nil && len(addrs) > 0 {
		out := make([]string, len(addrs))
		for i, a := range addrs {
			out[i] = a.Address
		}
		return out
	}
	raw := strings.TrimSpace(envelope.GetHeader(header))
	if raw == "" {
		return nil
	}
	return []string{raw}
}
