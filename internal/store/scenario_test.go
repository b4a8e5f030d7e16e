// ABOUTME: End-to-end scenario tests for the store using real SQLite
// ABOUTME: Walks an email through ingest, classify, tag, search, and delete

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_EmailLifecycle(t *testing.T) {
	// 1. Migrated store on a real database file
	store := setupTestStore(t)
	ctx := context.Background()

	// 2. Ingest
	size := int64(20480)
	email := &Email{
		MessageID:      "lifecycle-1@example.com",
		Subject:        "Kubernetes upgrade window",
		Sender:         "ops@example.com",
		Recipients:     []string{"team@example.com"},
		BodyText:       "The cluster upgrade starts Saturday at 06:00 UTC.",
		ReceivedAt:     time.Date(2025, 7, 5, 8, 30, 0, 0, time.UTC),
		SizeBytes:      &size,
		HasAttachments: true,
	}
	require.NoError(t, store.CreateEmail(ctx, email))
	require.NotZero(t, email.ID)

	// 3. Classify
	confidence := 0.88
	cls := &Classification{
		EmailID:         email.ID,
		PriorityScore:   4,
		Urgency:         LevelHigh,
		Importance:      LevelHigh,
		Type:            "ai",
		ConfidenceScore: &confidence,
	}
	require.NoError(t, store.CreateClassification(ctx, cls))

	// 4. Tag
	tag := &Tag{Name: "maintenance", Color: "#AA3377"}
	require.NoError(t, store.CreateTag(ctx, tag))
	require.NoError(t, store.AssignTag(ctx, email.ID, tag.ID))

	// 5. Attachment metadata
	att := &Attachment{EmailID: email.ID, Filename: "runbook.pdf", FilePath: "/tmp/runbook.pdf", MimeType: "application/pdf"}
	require.NoError(t, store.CreateAttachment(ctx, att))

	// 6. History
	require.NoError(t, store.AddHistory(ctx, &HistoryEntry{
		EmailID: &email.ID,
		Action:  "classified",
		Details: "model pass",
	}))

	// 7. Search finds it through the trigger-maintained index
	results, err := store.Search().Search(ctx, "upgrade", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, email.ID, results[0].EmailID)

	// 8. Full detail carries every related record
	detail, err := store.Queries().ByID(ctx, email.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Classification)
	assert.Equal(t, 4, detail.Classification.PriorityScore)
	require.Len(t, detail.Attachments, 1)
	assert.Equal(t, "runbook.pdf", detail.Attachments[0].Filename)
	require.Len(t, detail.Tags, 1)
	assert.Equal(t, "maintenance", detail.Tags[0].Name)
	require.Len(t, detail.History, 1)

	// 9. Statistics reflect the mailbox
	stats, err := store.Queries().Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEmails)
	assert.Equal(t, int64(1), stats.WithAttachments)
	assert.Equal(t, map[int]int64{4: 1}, stats.PriorityDistribution)

	// 10. Read, then delete; dependent rows go with the email
	require.NoError(t, store.MarkEmailRead(ctx, email.ID, true))
	require.NoError(t, store.DeleteEmail(ctx, email.ID))

	_, err = store.Queries().ByID(ctx, email.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	results, err = store.Search().Search(ctx, "upgrade", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)

	// The tag itself survives; its assignment does not
	tagged, err := store.ListEmailsByTag(ctx, "maintenance", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, tagged)

	// History keeps the audit row with the email reference cleared
	entries, err := store.ListRecentHistory(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].EmailID)
}

func TestScenario_ConcurrentReadersDuringWrites(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const writes = 25
	var wg sync.WaitGroup
	errCh := make(chan error, 1+4)
	done := make(chan struct{})

	// One writer streams emails in while readers stay on their own
	// connections; WAL keeps both sides moving.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < writes; i++ {
			email := &Email{
				MessageID:  fmt.Sprintf("concurrent-%d@example.com", i),
				Subject:    fmt.Sprintf("Load message %d", i),
				Sender:     "writer@example.com",
				Recipients: []string{"reader@example.com"},
				ReceivedAt: time.Now().UTC(),
			}
			if err := store.CreateEmail(ctx, email); err != nil {
				errCh <- err
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := store.CountEmails(ctx); err != nil {
					errCh <- err
					return
				}
				if _, err := store.ListEmails(ctx, 10, 0); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	count, err := store.CountEmails(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(writes), count)
}
