package store

import (
	"context"
	"iter"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/recurrence"
)

const fixture = `
messages:
  - id: m1
    folder: INBOX
    subject: Budget review
    from: Alice <alice@example.com>
    to: [me@example.com]
    conversation_id: conv-1
    message_id: "<m1@example.com>"
    received: 2025-06-02T09:00:00Z
    body: |
      Please review
      the budget.
    attachments:
      - name: budget.csv
        content_type: text/csv
        content: "q,amount\nq2,1200\n"
  - id: m2
    folder: INBOX
    subject: Lunch?
    from: bob@example.com
    to: [me@example.com, Carol <carol@example.com>]
    received: 2025-06-03T12:00:00Z
    flags: ['\Seen']
    body: Lunch tomorrow?
  - id: m3
    folder: Clients
    subject: Offer
    from: dan@example.com
    received: 2025-06-01T08:00:00Z
events:
  - ref: standup
    subject: Standup
    organizer: me@example.com
    attendees: [alice@example.com]
    start: 2025-06-02T09:00:00Z
    end: 2025-06-02T09:15:00Z
    rule: FREQ=DAILY;COUNT=5
    exceptions:
      - original: 2025-06-04T09:00:00Z
        cancelled: true
  - ref: review
    subject: Quarterly review
    organizer: Alice <alice@example.com>
    start: 2025-06-03T14:00:00Z
    end: 2025-06-03T15:00:00Z
    show_as: tentative
tasks:
  - id: t1
    title: File taxes
    due: 2025-06-05T17:00:00Z
  - id: t2
    list: Home
    title: Buy milk
    created: 2025-06-01T10:00:00Z
busy:
  - attendee: Alice@Example.com
    start: 2025-06-02T13:07:00Z
    end: 2025-06-02T13:50:00Z
    status: oof
`

var clock = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func day(d, h, m int) time.Time {
	return time.Date(2025, 6, d, h, m, 0, 0, time.UTC)
}

var june = model.Window{Start: day(1, 0, 0), End: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mailbridge.db"), Options{
		Self: "Me <me@example.com>",
		Now:  func() time.Time { return clock },
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	stats, err := s.Import(context.Background(), strings.NewReader(fixture))
	require.NoError(t, err)
	require.Equal(t, ImportStats{Messages: 3, Events: 2, Tasks: 2, Blocks: 1}, stats)
	return s
}

func collect(t *testing.T) func(seq iter.Seq2[model.Item, error], err error) []model.Item {
	t.Helper()
	return func(seq iter.Seq2[model.Item, error], err error) []model.Item {
		t.Helper()
		require.NoError(t, err)
		var out []model.Item
		for it, err := range seq {
			require.NoError(t, err)
			out = append(out, it)
		}
		return out
	}
}

func refsOf(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Ref
	}
	return out
}

func TestOpenMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbridge.db")
	ctx := context.Background()

	s, err := Open(path, Options{}, nil)
	require.NoError(t, err)
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
	require.NoError(t, s.Close())

	s, err = Open(path, Options{}, nil)
	require.NoError(t, err, "reopening applies nothing twice")
	v, err = s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
	require.NoError(t, s.Close())
}

func TestListMessages(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	items := collect(t)(s.ListCollection(ctx, model.KindMessage, "INBOX", june))
	require.Equal(t, []string{"m2", "m1"}, refsOf(items), "newest first")
	assert.Equal(t, "alice@example.com", items[1].FromAddress)
	assert.Equal(t, "conv-1", items[1].ConversationID)
	assert.Equal(t, "Please review the budget.", items[1].Preview)
	assert.True(t, items[0].HasFlag(model.FlagSeen))
	assert.Equal(t, []string{"me@example.com", "carol@example.com"}, items[0].To)

	items = collect(t)(s.ListCollection(ctx, model.KindMessage, "INBOX", model.Window{Start: day(2, 10, 0), End: day(30, 0, 0)}))
	assert.Equal(t, []string{"m2"}, refsOf(items))

	colls, err := s.Collections(ctx, model.KindMessage)
	require.NoError(t, err)
	require.Len(t, colls, 2)
	assert.Equal(t, "Clients", colls[0].Name)
	assert.Equal(t, uint32(2), colls[1].Items)

	_, err = s.ListCollection(ctx, model.KindEvent, "Calendar", june)
	assert.True(t, apperr.IsCode(err, apperr.CodeUnsupported))
}

func TestMessageDetail(t *testing.T) {
	s := openStore(t)

	d, err := s.FetchItemDetail(context.Background(), model.KindMessage, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Please review\nthe budget.\n", d.Body)
	assert.Equal(t, "Budget review", d.Subject)
	assert.Equal(t, []model.Attachment{{Name: "budget.csv", ContentType: "text/csv", Size: 17}}, d.Attachments)

	_, err = s.FetchItemDetail(context.Background(), model.KindMessage, "nope")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestFetchAttachments(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	files, err := s.FetchAttachments(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "budget.csv", files[0].Name)
	assert.Equal(t, "q,amount\nq2,1200\n", string(files[0].Data))

	files, err = s.FetchAttachments(ctx, "m2")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = s.FetchAttachments(ctx, "nope")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	_, err = s.Import(ctx, strings.NewReader(`
messages:
  - id: m1
    subject: Budget review v2
    received: 2025-06-02T09:00:00Z
    attachments:
      - name: budget-v2.csv
        content: "q,amount"
`))
	require.NoError(t, err)
	files, err = s.FetchAttachments(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, files, 1, "reimport replaces attachments")
	assert.Equal(t, "budget-v2.csv", files[0].Name)
	assert.Equal(t, "application/octet-stream", files[0].ContentType)
}

func TestReplyRecordsSentAndAnswered(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	out, err := s.SendMutation(ctx, model.KindMessage, "m1", model.Mutation{Kind: model.MutationReply, Body: "Looks fine."})
	require.NoError(t, err)
	assert.Contains(t, out, "alice@example.com")

	sent := collect(t)(s.ListCollection(ctx, model.KindMessage, DefaultSentFolder, june))
	require.Len(t, sent, 1)
	assert.Equal(t, "Re: Budget review", sent[0].Subject)
	assert.Equal(t, "conv-1", sent[0].ConversationID)
	assert.Equal(t, []string{"alice@example.com"}, sent[0].To)
	assert.Equal(t, "me@example.com", sent[0].FromAddress)
	assert.True(t, sent[0].Timestamp.Equal(clock))

	d, err := s.FetchItemDetail(ctx, model.KindMessage, sent[0].Ref)
	require.NoError(t, err)
	assert.Equal(t, "<m1@example.com>", d.InReplyTo)

	orig, err := s.FetchItemDetail(ctx, model.KindMessage, "m1")
	require.NoError(t, err)
	assert.True(t, orig.HasFlag(model.FlagAnswered))
}

func TestReplyAllSkipsSelf(t *testing.T) {
	s := openStore(t)

	out, err := s.SendMutation(context.Background(), model.KindMessage, "m2", model.Mutation{Kind: model.MutationReply, ReplyAll: true})
	require.NoError(t, err)
	assert.Equal(t, "replied to bob@example.com, carol@example.com", out)
}

func TestMoveArchiveDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.SendMutation(ctx, model.KindMessage, "m3", model.Mutation{Kind: model.MutationArchive})
	require.NoError(t, err)
	archived := collect(t)(s.ListCollection(ctx, model.KindMessage, DefaultArchiveFolder, june))
	assert.Equal(t, []string{"m3"}, refsOf(archived))

	_, err = s.SendMutation(ctx, model.KindMessage, "m2", model.Mutation{Kind: model.MutationMove})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument), "move needs a folder")

	_, err = s.SendMutation(ctx, model.KindMessage, "m1", model.Mutation{Kind: model.MutationDelete})
	require.NoError(t, err)
	trash := collect(t)(s.ListCollection(ctx, model.KindMessage, DefaultTrashFolder, june))
	assert.Equal(t, []string{"m1"}, refsOf(trash), "first delete moves to trash")

	out, err := s.SendMutation(ctx, model.KindMessage, "m1", model.Mutation{Kind: model.MutationDelete})
	require.NoError(t, err)
	assert.Contains(t, out, "permanently")
	_, err = s.FetchItemDetail(ctx, model.KindMessage, "m1")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestFlags(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	tests := []struct {
		ref  string
		kind model.MutationKind
		flag string
		want bool
	}{
		{"m1", model.MutationMarkRead, model.FlagSeen, true},
		{"m2", model.MutationMarkUnread, model.FlagSeen, false},
		{"m1", model.MutationFlag, model.FlagFlagged, true},
		{"m1", model.MutationUnflag, model.FlagFlagged, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			_, err := s.SendMutation(ctx, model.KindMessage, tt.ref, model.Mutation{Kind: tt.kind})
			require.NoError(t, err)
			d, err := s.FetchItemDetail(ctx, model.KindMessage, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.HasFlag(tt.flag))
		})
	}

	_, err := s.SendMutation(ctx, model.KindMessage, "m1", model.Mutation{Kind: model.MutationComplete})
	assert.True(t, apperr.IsCode(err, apperr.CodeUnsupported))
}

func TestCreateMessage(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.SendMutation(ctx, model.KindMessage, "", model.Mutation{Kind: model.MutationCreate, Subject: "Hi"})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))

	_, err = s.SendMutation(ctx, model.KindMessage, "", model.Mutation{Kind: model.MutationCreate, Subject: "Hi", To: []string{"x@example.com"}, Body: "hello"})
	require.NoError(t, err)
	sent := collect(t)(s.ListCollection(ctx, model.KindMessage, DefaultSentFolder, june))
	require.Len(t, sent, 1)
	assert.NotEmpty(t, sent[0].ConversationID)
}

func TestSeriesListingAndOccurrences(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	listSeries := func(w model.Window) []model.Series {
		seq, err := s.ListSeries(ctx, "", w)
		require.NoError(t, err)
		var out []model.Series
		for sr, err := range seq {
			require.NoError(t, err)
			out = append(out, sr)
		}
		return out
	}

	all := listSeries(model.Window{Start: day(2, 0, 0), End: day(9, 0, 0)})
	require.Len(t, all, 2)
	assert.Equal(t, "standup", all[0].Ref)
	require.Len(t, all[0].Exceptions, 1)
	assert.True(t, all[0].Exceptions[0].Cancelled)
	assert.Equal(t, model.StatusTentative, all[1].ShowAs)
	assert.Equal(t, model.StatusBusy, all[0].ShowAs)

	later := listSeries(model.Window{Start: day(10, 0, 0), End: day(11, 0, 0)})
	assert.Len(t, later, 1, "recurring series are returned for the expander to bound")

	d, err := s.FetchItemDetail(ctx, model.KindEvent, recurrence.OccurrenceRef("standup", day(3, 9, 0)))
	require.NoError(t, err)
	assert.True(t, d.Timestamp.Equal(day(3, 9, 0)))
	assert.True(t, d.Recurring)

	_, err = s.FetchItemDetail(ctx, model.KindEvent, recurrence.OccurrenceRef("standup", day(4, 9, 0)))
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound), "cancelled occurrences are gone")

	_, err = s.SendMutation(ctx, model.KindEvent, recurrence.OccurrenceRef("standup", day(5, 9, 0)), model.Mutation{Kind: model.MutationCancel})
	require.NoError(t, err)
	all = listSeries(model.Window{Start: day(2, 0, 0), End: day(9, 0, 0)})
	require.Len(t, all[0].Exceptions, 2)

	out, err := s.SendMutation(ctx, model.KindEvent, "review", model.Mutation{Kind: model.MutationDelete})
	require.NoError(t, err)
	assert.Contains(t, out, "Quarterly review")
	assert.Len(t, listSeries(model.Window{Start: day(2, 0, 0), End: day(9, 0, 0)}), 1)
}

func TestCreateEvent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.SendMutation(ctx, model.KindEvent, "", model.Mutation{
		Kind: model.MutationCreate, Subject: "Sync", Start: day(6, 10, 0), End: day(6, 11, 0), Rule: "FREQ=HOURLY",
	})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))

	_, err = s.SendMutation(ctx, model.KindEvent, "", model.Mutation{
		Kind: model.MutationCreate, Subject: "Sync", Start: day(6, 10, 0), End: day(6, 11, 0), To: []string{"Bob <BOB@example.com>"},
	})
	require.NoError(t, err)

	colls, err := s.Collections(ctx, model.KindEvent)
	require.NoError(t, err)
	require.Len(t, colls, 1)
	assert.Equal(t, DefaultCalendar, colls[0].Name)
	assert.Equal(t, uint32(3), colls[0].Items)

	busy, err := s.QueryFreeBusy(ctx, "bob@example.com", model.Window{Start: day(6, 0, 0), End: day(7, 0, 0)}, 0)
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.True(t, busy[0].Start.Equal(day(6, 10, 0)))
}

func TestTasks(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	items := collect(t)(s.ListCollection(ctx, model.KindTask, DefaultTaskList, june))
	require.Equal(t, []string{"t1"}, refsOf(items))
	assert.True(t, items[0].Timestamp.Equal(day(5, 17, 0)))

	items = collect(t)(s.ListCollection(ctx, model.KindTask, "Home", june))
	require.Equal(t, []string{"t2"}, refsOf(items))
	assert.True(t, items[0].Timestamp.Equal(day(1, 10, 0)), "undated tasks sort by creation")

	_, err := s.SendMutation(ctx, model.KindTask, "t1", model.Mutation{Kind: model.MutationComplete})
	require.NoError(t, err)
	d, err := s.FetchItemDetail(ctx, model.KindTask, "t1")
	require.NoError(t, err)
	assert.True(t, d.Completed)

	out, err := s.SendMutation(ctx, model.KindTask, "t1", model.Mutation{Kind: model.MutationComplete})
	require.NoError(t, err)
	assert.Contains(t, out, "already")

	_, err = s.SendMutation(ctx, model.KindTask, "", model.Mutation{Kind: model.MutationCreate, Subject: "Call mom", Due: day(7, 18, 0)})
	require.NoError(t, err)
	items = collect(t)(s.ListCollection(ctx, model.KindTask, DefaultTaskList, june))
	assert.Len(t, items, 2)

	out, err = s.SendMutation(ctx, model.KindTask, "t2", model.Mutation{Kind: model.MutationUpdate, Subject: "Buy oat milk", Due: day(8, 9, 0)})
	require.NoError(t, err)
	assert.Contains(t, out, "Buy oat milk")
	d, err = s.FetchItemDetail(ctx, model.KindTask, "t2")
	require.NoError(t, err)
	assert.Equal(t, "Buy oat milk", d.Subject)
	assert.True(t, d.Timestamp.Equal(day(8, 9, 0)))
	assert.Equal(t, "Home", d.Collection)

	_, err = s.SendMutation(ctx, model.KindTask, "t2", model.Mutation{Kind: model.MutationUpdate})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))
	_, err = s.SendMutation(ctx, model.KindTask, "nope", model.Mutation{Kind: model.MutationUpdate, Body: "x"})
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	_, err = s.SendMutation(ctx, model.KindTask, "t2", model.Mutation{Kind: model.MutationDelete})
	require.NoError(t, err)
	_, err = s.SendMutation(ctx, model.KindTask, "t2", model.Mutation{Kind: model.MutationDelete})
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestQueryFreeBusy(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	monday := model.Window{Start: day(2, 0, 0), End: day(3, 0, 0)}

	busy, err := s.QueryFreeBusy(ctx, "alice@example.com", monday, 0)
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.True(t, busy[0].Start.Equal(day(2, 9, 0)))
	assert.True(t, busy[0].End.Equal(day(2, 9, 15)))
	assert.Equal(t, model.StatusBusy, busy[0].Status)
	assert.True(t, busy[1].Start.Equal(day(2, 13, 7)))
	assert.Equal(t, model.StatusOutOfOffice, busy[1].Status)

	busy, err = s.QueryFreeBusy(ctx, "Alice <alice@example.com>", monday, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.True(t, busy[0].End.Equal(day(2, 9, 30)))
	assert.True(t, busy[1].Start.Equal(day(2, 13, 0)))
	assert.True(t, busy[1].End.Equal(day(2, 14, 0)))

	midStandup := model.Window{Start: day(2, 9, 5), End: day(2, 12, 0)}
	busy, err = s.QueryFreeBusy(ctx, "alice@example.com", midStandup, 0)
	require.NoError(t, err)
	require.Len(t, busy, 1, "an occurrence already running at the window start is still busy")
	assert.True(t, busy[0].Start.Equal(day(2, 9, 5)))
	assert.True(t, busy[0].End.Equal(day(2, 9, 15)))

	tuesday := model.Window{Start: day(3, 0, 0), End: day(4, 0, 0)}
	busy, err = s.QueryFreeBusy(ctx, "alice@example.com", tuesday, 0)
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.Equal(t, model.StatusTentative, busy[1].Status, "organizer of the review")

	wednesday := model.Window{Start: day(4, 0, 0), End: day(5, 0, 0)}
	busy, err = s.QueryFreeBusy(ctx, "me@example.com", wednesday, 0)
	require.NoError(t, err)
	assert.Empty(t, busy, "the cancelled standup leaves the day free")

	_, err = s.QueryFreeBusy(ctx, "stranger@example.com", monday, 0)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestImportRejectsBadFixtures(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "mailbridge.db"), Options{}, nil)
	require.NoError(t, err)
	defer s.Close()

	tests := []struct {
		name    string
		fixture string
	}{
		{"unknown field", "messages:\n  - subjct: typo\n"},
		{"missing received", "messages:\n  - subject: x\n"},
		{"nameless attachment", "messages:\n  - subject: x\n    received: 2025-06-02T09:00:00Z\n    attachments:\n      - content: y\n"},
		{"bad rule", "events:\n  - subject: x\n    start: 2025-06-02T09:00:00Z\n    end: 2025-06-02T10:00:00Z\n    rule: FREQ=SECONDLY\n"},
		{"empty block", "busy:\n  - attendee: a@example.com\n    start: 2025-06-02T09:00:00Z\n    end: 2025-06-02T09:00:00Z\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Import(context.Background(), strings.NewReader(tt.fixture))
			assert.Error(t, err)
		})
	}

	stats, err := s.Import(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, ImportStats{}, stats)
}
