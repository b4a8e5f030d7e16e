// ABOUTME: Tests for attachment row CRUD hanging off email records
// ABOUTME: Covers creation, foreign key enforcement, listing order, deletion

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateAttachment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	email := newStoredEmail(t, store, "msg-att@example.com", nil)

	size := int64(123456)
	att := &Attachment{
		EmailID:     email.ID,
		Filename:    "report.pdf",
		FilePath:    "/var/mail/attachments/ab/abcd1234.pdf",
		SizeBytes:   &size,
		MimeType:    "application/pdf",
		ContentHash: "abcd1234",
	}
	require.NoError(t, store.CreateAttachment(ctx, att))
	assert.Greater(t, att.ID, int64(0))

	got, err := store.GetAttachment(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, email.ID, got.EmailID)
	assert.Equal(t, "report.pdf", got.Filename)
	assert.Equal(t, "application/pdf", got.MimeType)
	assert.Equal(t, "abcd1234", got.ContentHash)
	require.NotNil(t, got.SizeBytes)
	assert.Equal(t, size, *got.SizeBytes)
}

func TestStore_CreateAttachment_DanglingEmail(t *testing.T) {
	store := setupTestStore(t)

	att := &Attachment{EmailID: 9999, Filename: "ghost.txt", FilePath: "/tmp/ghost.txt"}
	err := store.CreateAttachment(context.Background(), att)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestStore_CreateAttachment_MissingFields(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	email := newStoredEmail(t, store, "msg-att-invalid@example.com", nil)

	err := store.CreateAttachment(ctx, &Attachment{EmailID: email.ID, FilePath: "/tmp/x"})
	assert.ErrorIs(t, err, ErrInvalid)

	err = store.CreateAttachment(ctx, &Attachment{EmailID: email.ID, Filename: "x"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestStore_GetAttachment_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetAttachment(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListAttachments_OrderedByFilename(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	email := newStoredEmail(t, store, "msg-att-list@example.com", nil)
	for _, name := range []string{"zeta.txt", "alpha.txt", "midway.txt"} {
		require.NoError(t, store.CreateAttachment(ctx, &Attachment{
			EmailID:  email.ID,
			Filename: name,
			FilePath: "/tmp/" + name,
		}))
	}

	atts, err := store.ListAttachments(ctx, email.ID)
	require.NoError(t, err)
	require.Len(t, atts, 3)
	assert.Equal(t, "alpha.txt", atts[0].Filename)
	assert.Equal(t, "midway.txt", atts[1].Filename)
	assert.Equal(t, "zeta.txt", atts[2].Filename)

	// An email without attachments lists empty, not an error
	other := newStoredEmail(t, store, "msg-att-none@example.com", nil)
	atts, err = store.ListAttachments(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestStore_DeleteAttachment(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	email := newStoredEmail(t, store, "msg-att-del@example.com", nil)
	att := &Attachment{EmailID: email.ID, Filename: "gone.txt", FilePath: "/tmp/gone.txt"}
	require.NoError(t, store.CreateAttachment(ctx, att))

	require.NoError(t, store.DeleteAttachment(ctx, att.ID))

	_, err := store.GetAttachment(ctx, att.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.DeleteAttachment(ctx, att.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
