// ABOUTME: Tests for composed read queries: filter/order whitelists, listing
// ABOUTME: queries with totals, full detail by id, statistics, and top senders

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queryCorpus is a small fixed mailbox for listing assertions.
type queryCorpus struct {
	urgent     *Email // ceo@corp.example.com, priority 5, flagged, 2 attachments, 2 tags
	report     *Email // alice@corp.example.com, priority 3, read
	newsletter *Email // news@list.example.net, priority 1, read
	personal   *Email // alice@corp.example.com, unclassified, unread
}

func seedQueryCorpus(t *testing.T, store *Store) queryCorpus {
	t.Helper()
	ctx := context.Background()

	var c queryCorpus
	c.urgent = newStoredEmail(t, store, "query-urgent@corp.example.com", func(e *Email) {
		e.Subject = "Board meeting moved"
		e.Sender = "ceo@corp.example.com"
		e.ReceivedAt = time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)
		e.HasAttachments = true
		e.IsFlagged = true
	})
	c.report = newStoredEmail(t, store, "query-report@corp.example.com", func(e *Email) {
		e.Subject = "Weekly metrics report"
		e.Sender = "alice@corp.example.com"
		e.ReceivedAt = time.Date(2025, 6, 19, 10, 0, 0, 0, time.UTC)
		e.IsRead = true
	})
	c.newsletter = newStoredEmail(t, store, "query-digest@list.example.net", func(e *Email) {
		e.Subject = "Digest issue 42"
		e.Sender = "news@list.example.net"
		e.ReceivedAt = time.Date(2025, 6, 18, 11, 0, 0, 0, time.UTC)
		e.IsRead = true
	})
	c.personal = newStoredEmail(t, store, "query-lunch@corp.example.com", func(e *Email) {
		e.Subject = "Lunch on Friday?"
		e.Sender = "alice@corp.example.com"
		e.ReceivedAt = time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)
	})

	for _, cls := range []*Classification{
		{EmailID: c.urgent.ID, PriorityScore: 5, Urgency: LevelCritical, Importance: LevelHigh, Type: "ai"},
		{EmailID: c.report.ID, PriorityScore: 3, Urgency: LevelMedium, Importance: LevelMedium, Type: "rule"},
		{EmailID: c.newsletter.ID, PriorityScore: 1, Urgency: LevelLow, Importance: LevelLow, Type: "rule"},
	} {
		require.NoError(t, store.CreateClassification(ctx, cls))
	}

	for _, filename := range []string{"agenda.pdf", "minutes.docx"} {
		att := &Attachment{EmailID: c.urgent.ID, Filename: filename, FilePath: "/tmp/" + filename, MimeType: "application/pdf"}
		require.NoError(t, store.CreateAttachment(ctx, att))
	}

	for _, name := range []string{"board", "action-required"} {
		tag := &Tag{Name: name}
		require.NoError(t, store.CreateTag(ctx, tag))
		require.NoError(t, store.AssignTag(ctx, c.urgent.ID, tag.ID))
	}

	return c
}

func summaryIDs(summaries []EmailSummary) []int64 {
	ids := make([]int64, len(summaries))
	for i, s := range summaries {
		ids[i] = s.ID
	}
	return ids
}

func TestQueryOptions_OrderClause(t *testing.T) {
	tests := []struct {
		name string
		opts QueryOptions
		want string
	}{
		{"defaults to newest first", QueryOptions{}, "ORDER BY e.received_at DESC, e.id DESC"},
		{"priority ascending", QueryOptions{OrderBy: "priority_score", Direction: "asc"}, "ORDER BY c.priority_score ASC, e.id ASC"},
		{"sender descending", QueryOptions{OrderBy: "sender", Direction: "DESC"}, "ORDER BY e.sender DESC, e.id DESC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.orderClause()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := QueryOptions{OrderBy: "body_text"}.orderClause()
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = QueryOptions{Direction: "sideways"}.orderClause()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestBuildFilterClause(t *testing.T) {
	receivedAfter := time.Date(2025, 6, 19, 0, 0, 0, 0, time.UTC)

	clause, args, err := buildFilterClause([]Filter{
		{Field: "is_read", Op: FilterEq, Value: false},
	})
	require.NoError(t, err)
	assert.Equal(t, "e.is_read = ?", clause)
	assert.Equal(t, []any{false}, args)

	clause, args, err = buildFilterClause([]Filter{
		{Field: "sender", Op: FilterLike, Value: "%corp%"},
		{Field: "priority_score", Op: FilterGe, Value: 3},
		{Field: "is_flagged", Op: FilterEq, Value: true, Logic: LogicOr},
	})
	require.NoError(t, err)
	assert.Equal(t, "e.sender LIKE ? AND c.priority_score >= ? OR e.is_flagged = ?", clause)
	assert.Len(t, args, 3)

	clause, args, err = buildFilterClause([]Filter{
		{Field: "urgency_level", Op: FilterIn, Value: []Level{LevelHigh, LevelCritical}},
	})
	require.NoError(t, err)
	assert.Equal(t, "c.urgency_level IN (?,?)", clause)
	assert.Equal(t, []any{"high", "critical"}, args)

	// Times bind in their stored representation
	_, args, err = buildFilterClause([]Filter{
		{Field: "received_at", Op: FilterGe, Value: receivedAfter},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{formatTime(receivedAfter)}, args)

	for name, filters := range map[string][]Filter{
		"unknown field":  {{Field: "password", Op: FilterEq, Value: "x"}},
		"unknown op":     {{Field: "sender", Op: FilterOp("~"), Value: "x"}},
		"bad logic":      {{Field: "sender", Op: FilterEq, Value: "a"}, {Field: "subject", Op: FilterEq, Value: "b", Logic: "XOR"}},
		"IN not a slice": {{Field: "priority_score", Op: FilterIn, Value: 3}},
		"IN empty slice": {{Field: "priority_score", Op: FilterIn, Value: []int{}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := buildFilterClause(filters)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestQueries_ByPriorityRange(t *testing.T) {
	store := setupTestStore(t)
	corpus := seedQueryCorpus(t, store)
	ctx := context.Background()

	summaries, total, err := store.Queries().ByPriorityRange(ctx, 4, 5, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, -1, total, "total is only computed on request")

	urgent := summaries[0]
	assert.Equal(t, corpus.urgent.ID, urgent.ID)
	assert.Equal(t, 5, urgent.PriorityScore)
	assert.Equal(t, LevelCritical, urgent.Urgency)
	assert.True(t, urgent.IsFlagged)
	assert.True(t, urgent.HasAttachments)
	assert.Equal(t, 2, urgent.AttachmentCount)
	assert.Equal(t, 2, urgent.TagCount)
	assert.NotEmpty(t, urgent.Recipients)

	// Zero bounds cover the whole band; unclassified emails stay out
	summaries, _, err = store.Queries().ByPriorityRange(ctx, 0, 0, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{corpus.urgent.ID, corpus.report.ID, corpus.newsletter.ID}, summaryIDs(summaries))

	summaries, _, err = store.Queries().ByPriorityRange(ctx, 0, 0, QueryOptions{OrderBy: "priority_score", Direction: "ASC"})
	require.NoError(t, err)
	assert.Equal(t, []int64{corpus.newsletter.ID, corpus.report.ID, corpus.urgent.ID}, summaryIDs(summaries))

	summaries, total, err = store.Queries().ByPriorityRange(ctx, 0, 0, QueryOptions{Limit: 1, IncludeTotal: true})
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
	assert.Equal(t, 3, total)

	summaries, _, err = store.Queries().ByPriorityRange(ctx, 0, 0, QueryOptions{},
		Filter{Field: "is_read", Op: FilterEq, Value: false})
	require.NoError(t, err)
	assert.Equal(t, []int64{corpus.urgent.ID}, summaryIDs(summaries))

	_, _, err = store.Queries().ByPriorityRange(ctx, 4, 2, QueryOptions{})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestQueries_ByUrgency(t *testing.T) {
	store := setupTestStore(t)
	corpus := seedQueryCorpus(t, store)
	ctx := context.Background()

	summaries, _, err := store.Queries().ByUrgency(ctx, []Level{LevelCritical}, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{corpus.urgent.ID}, summaryIDs(summaries))

	summaries, _, err = store.Queries().ByUrgency(ctx, []Level{LevelLow, LevelMedium}, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{corpus.report.ID, corpus.newsletter.ID}, summaryIDs(summaries))

	_, _, err = store.Queries().ByUrgency(ctx, nil, QueryOptions{})
	assert.ErrorIs(t, err, ErrInvalid)

	_, _, err = store.Queries().ByUrgency(ctx, []Level{"panic"}, QueryOptions{})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestQueries_BySender(t *testing.T) {
	store := setupTestStore(t)
	corpus := seedQueryCorpus(t, store)
	ctx := context.Background()

	summaries, _, err := store.Queries().BySender(ctx, "alice@corp.example.com", false, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{corpus.personal.ID, corpus.report.ID}, summaryIDs(summaries))

	summaries, _, err = store.Queries().BySender(ctx, "corp.example.com", true, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{corpus.personal.ID, corpus.urgent.ID, corpus.report.ID}, summaryIDs(summaries))

	summaries, total, err := store.Queries().BySender(ctx, "nobody@example.org", false, QueryOptions{IncludeTotal: true})
	require.NoError(t, err)
	assert.Empty(t, summaries)
	assert.Equal(t, 0, total)
}

func TestQueries_ByDateRange(t *testing.T) {
	store := setupTestStore(t)
	corpus := seedQueryCorpus(t, store)
	ctx := context.Background()

	// Bounds are inclusive on both ends
	start := time.Date(2025, 6, 18, 11, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 19, 10, 0, 0, 0, time.UTC)
	summaries, total, err := store.Queries().ByDateRange(ctx, start, end, QueryOptions{IncludeTotal: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{corpus.report.ID, corpus.newsletter.ID}, summaryIDs(summaries))
	assert.Equal(t, 2, total)

	_, _, err = store.Queries().ByDateRange(ctx, end, start, QueryOptions{})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestQueries_Pagination_Disjoint(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Identical timestamps force the id tiebreak to keep pages disjoint
	when := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		newStoredEmail(t, store, fmt.Sprintf("page-%d@example.com", i), func(e *Email) {
			e.Sender = "pager@example.com"
			e.ReceivedAt = when
		})
	}

	seen := make(map[int64]bool)
	for offset := 0; offset < 5; offset += 2 {
		page, _, err := store.Queries().BySender(ctx, "pager@example.com", false, QueryOptions{Limit: 2, Offset: offset})
		require.NoError(t, err)
		for _, s := range page {
			assert.False(t, seen[s.ID], "email %d appeared on two pages", s.ID)
			seen[s.ID] = true
		}
	}
	assert.Len(t, seen, 5)
}

func TestQueries_ByID(t *testing.T) {
	store := setupTestStore(t)
	corpus := seedQueryCorpus(t, store)
	ctx := context.Background()

	for _, action := range []string{"ingested", "classified"} {
		entry := &HistoryEntry{EmailID: &corpus.urgent.ID, Action: action}
		require.NoError(t, store.AddHistory(ctx, entry))
	}

	detail, err := store.Queries().ByID(ctx, corpus.urgent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Board meeting moved", detail.Subject)
	assert.Equal(t, "ceo@corp.example.com", detail.Sender)

	require.NotNil(t, detail.Classification)
	assert.Equal(t, 5, detail.Classification.PriorityScore)
	assert.Equal(t, LevelCritical, detail.Classification.Urgency)

	require.Len(t, detail.Attachments, 2)
	assert.Equal(t, "agenda.pdf", detail.Attachments[0].Filename)
	assert.Equal(t, "minutes.docx", detail.Attachments[1].Filename)

	require.Len(t, detail.Tags, 2)
	assert.Equal(t, "action-required", detail.Tags[0].Name)
	assert.Equal(t, "board", detail.Tags[1].Name)

	require.Len(t, detail.History, 2)
	assert.Equal(t, "classified", detail.History[0].Action)
	assert.Equal(t, "ingested", detail.History[1].Action)
}

func TestQueries_ByID_Unclassified(t *testing.T) {
	store := setupTestStore(t)
	corpus := seedQueryCorpus(t, store)

	detail, err := store.Queries().ByID(context.Background(), corpus.personal.ID)
	require.NoError(t, err)
	assert.Nil(t, detail.Classification)
	assert.Empty(t, detail.Attachments)
	assert.Empty(t, detail.Tags)
	assert.Empty(t, detail.History)
}

func TestQueries_ByID_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Queries().ByID(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueries_Statistics(t *testing.T) {
	store := setupTestStore(t)
	seedQueryCorpus(t, store)
	ctx := context.Background()

	// One email received now so the weekly window has something to count
	newStoredEmail(t, store, "query-fresh@example.com", func(e *Email) {
		e.Sender = "fresh@example.com"
		e.ReceivedAt = time.Now().UTC().Truncate(time.Second)
	})

	stats, err := store.Queries().Statistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(5), stats.TotalEmails)
	assert.Equal(t, int64(1), stats.WithAttachments)
	assert.Equal(t, int64(3), stats.Unread)
	assert.Equal(t, int64(1), stats.Flagged)
	assert.Equal(t, int64(1), stats.ReceivedLastWeek)

	assert.Equal(t, map[int]int64{1: 1, 3: 1, 5: 1}, stats.PriorityDistribution)
	assert.Equal(t, map[Level]int64{LevelLow: 1, LevelMedium: 1, LevelCritical: 1}, stats.UrgencyDistribution)

	assert.InDelta(t, 20.0, stats.AttachmentRate, 0.01)
	assert.InDelta(t, 60.0, stats.UnreadRate, 0.01)
	assert.InDelta(t, 20.0, stats.FlaggedRate, 0.01)
}

func TestQueries_Statistics_EmptyStore(t *testing.T) {
	store := setupTestStore(t)

	stats, err := store.Queries().Statistics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEmails)
	assert.Empty(t, stats.PriorityDistribution)
	assert.Zero(t, stats.AttachmentRate)
	assert.Zero(t, stats.UnreadRate)
	assert.Zero(t, stats.FlaggedRate)
}

func TestQueries_TopSenders(t *testing.T) {
	store := setupTestStore(t)
	corpus := seedQueryCorpus(t, store)
	ctx := context.Background()

	senders, err := store.Queries().TopSenders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, senders, 3)

	assert.Equal(t, "alice@corp.example.com", senders[0].Sender)
	assert.Equal(t, int64(2), senders[0].EmailCount)
	assert.True(t, senders[0].LastReceivedAt.Equal(corpus.personal.ReceivedAt))

	// Ties on count break alphabetically
	assert.Equal(t, "ceo@corp.example.com", senders[1].Sender)
	assert.Equal(t, "news@list.example.net", senders[2].Sender)

	senders, err = store.Queries().TopSenders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, senders, 1)
	assert.Equal(t, "alice@corp.example.com", senders[0].Sender)
}
