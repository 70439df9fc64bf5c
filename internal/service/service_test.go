package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/config"
	"github.com/greeddj/mailbridge-go/internal/correlate"
	"github.com/greeddj/mailbridge-go/internal/features"
	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/provider/providertest"
)

// Tuesday.
var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Correlation.UserAddresses = []string{"me@example.com"}
	cfg.FreeBusy.Timezone = "UTC"
	cfg.Store.Calendars = []string{"Calendar"}
	return cfg
}

func newService(t *testing.T, cfg *config.Config, fake *providertest.Fake) *Service {
	t.Helper()
	s := New(cfg, fake, Options{Now: func() time.Time { return now }})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func lastWeek() model.Window {
	return model.Window{Start: now.AddDate(0, 0, -7), End: now.Add(time.Minute)}
}

func message(ref, from, subject string, age time.Duration) model.Item {
	return model.Item{
		Ref:         ref,
		Kind:        model.KindMessage,
		Subject:     subject,
		From:        from,
		FromAddress: model.NormalizeAddress(from),
		To:          []string{"me@example.com"},
		Timestamp:   now.Add(-age),
	}
}

func seedInbox(fake *providertest.Fake, n int) {
	for i := 1; i <= n; i++ {
		fake.AddItems("INBOX", message(fmt.Sprintf("m%d", i), "alice@example.com", fmt.Sprintf("Message %d", i), time.Duration(i)*time.Hour))
	}
}

func TestReplyInvalidatesOnlyItsOrdinal(t *testing.T) {
	fake := &providertest.Fake{}
	seedInbox(fake, 10)
	s := newService(t, testConfig(), fake)
	ctx := context.Background()

	res, err := s.List(ctx, model.KindMessage, ListOptions{Window: lastWeek()})
	require.NoError(t, err)
	require.Len(t, res.Items, 10)
	for i, e := range res.Items {
		assert.Equal(t, i+1, e.Ordinal)
	}
	third, fourth := res.Items[2], res.Items[3]

	conf, err := s.Act(ctx, model.KindMessage, 3, model.Mutation{Kind: model.MutationReply, Body: "Thanks"})
	require.NoError(t, err)
	assert.Equal(t, third.Ref, conf.Ref)
	assert.Equal(t, 3, conf.Ordinal)

	_, err = s.Resolve(model.KindMessage, 3)
	assert.True(t, apperr.IsCode(err, apperr.CodeStaleReference), "got %v", err)

	e, err := s.Resolve(model.KindMessage, 4)
	require.NoError(t, err)
	assert.Equal(t, fourth.Ref, e.Ref)

	muts := fake.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, third.Ref, muts[0].Ref)
}

func TestListRejectsWindowBeforeProviderCall(t *testing.T) {
	tests := []struct {
		name   string
		kind   model.Kind
		window model.Window
	}{
		{name: "reversed", kind: model.KindMessage, window: model.Window{Start: now, End: now.Add(-time.Hour)}},
		{name: "empty", kind: model.KindMessage, window: model.Window{Start: now, End: now}},
		{name: "mail over 30 days", kind: model.KindMessage, window: model.Window{Start: now.AddDate(0, 0, -31), End: now}},
		{name: "events over 90 days", kind: model.KindEvent, window: model.Window{Start: now, End: now.AddDate(0, 0, 91)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &providertest.Fake{}
			s := newService(t, testConfig(), fake)

			_, err := s.List(context.Background(), tt.kind, ListOptions{Window: tt.window})
			assert.True(t, apperr.IsCode(err, apperr.CodeInvalidWindow), "got %v", err)
			assert.Zero(t, fake.Calls())
		})
	}
}

func TestListFiltersAndTruncates(t *testing.T) {
	fake := &providertest.Fake{}
	seedInbox(fake, 5)
	unread := message("u1", "bob@example.com", "Invoice March", 30*time.Minute)
	fake.AddItems("Archive", unread)
	read := message("r1", "bob@example.com", "Invoice April", 40*time.Minute)
	read.Flags = []string{model.FlagSeen}
	fake.AddItems("Archive", read)
	s := newService(t, testConfig(), fake)
	ctx := context.Background()

	res, err := s.List(ctx, model.KindMessage, ListOptions{Window: lastWeek(), MaxResults: 3})
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
	assert.True(t, res.Truncated)

	res, err = s.List(ctx, model.KindMessage, ListOptions{
		Window:      lastWeek(),
		Collections: []string{"INBOX", "Archive"},
		Query:       "invoice",
		UnreadOnly:  true,
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "u1", res.Items[0].Ref)
	assert.Equal(t, 2, res.CollectionsScanned)
}

func TestListEventsExpandsSeries(t *testing.T) {
	fake := &providertest.Fake{}
	start := time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC)
	fake.AddSeries("Calendar",
		model.Series{
			Ref:       "standup",
			Subject:   "Standup",
			Organizer: "me@example.com",
			Start:     start,
			End:       start.Add(15 * time.Minute),
			Rule:      "FREQ=DAILY",
			Exceptions: []model.Exception{
				{Original: start.AddDate(0, 0, 2), Cancelled: true},
			},
		},
		model.Series{
			Ref:     "review",
			Subject: "Quarterly review",
			Start:   start.AddDate(0, 0, 1).Add(5 * time.Hour),
			End:     start.AddDate(0, 0, 1).Add(6 * time.Hour),
		},
	)
	s := newService(t, testConfig(), fake)

	w := model.Window{Start: start.Add(-time.Hour), End: start.AddDate(0, 0, 7).Add(-time.Hour)}
	res, err := s.List(context.Background(), model.KindEvent, ListOptions{Window: w, MaxResults: 50})
	require.NoError(t, err)

	var standups int
	for i, e := range res.Items {
		if i > 0 {
			assert.False(t, e.Snapshot.Timestamp.Before(res.Items[i-1].Snapshot.Timestamp), "events must be ascending")
		}
		if e.Snapshot.Subject == "Standup" {
			standups++
			assert.True(t, e.Snapshot.Recurring)
			assert.NotEqual(t, start.AddDate(0, 0, 2), e.Snapshot.Timestamp, "cancelled occurrence listed")
		}
	}
	assert.Equal(t, 6, standups)
	assert.Len(t, res.Items, 7)
}

func TestDetailNotFoundInvalidates(t *testing.T) {
	fake := &providertest.Fake{}
	seedInbox(fake, 2)
	s := newService(t, testConfig(), fake)
	ctx := context.Background()

	res, err := s.List(ctx, model.KindMessage, ListOptions{Window: lastWeek()})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	d, err := s.Detail(ctx, model.KindMessage, 1)
	require.NoError(t, err)
	assert.Equal(t, "body of Message 1", d.Body)

	// The second message disappears upstream.
	_, err = fake.SendMutation(ctx, model.KindMessage, res.Items[1].Ref, model.Mutation{Kind: model.MutationDelete})
	require.NoError(t, err)

	_, err = s.Detail(ctx, model.KindMessage, 2)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound), "got %v", err)
	_, err = s.Resolve(model.KindMessage, 2)
	assert.True(t, apperr.IsCode(err, apperr.CodeStaleReference), "got %v", err)

	_, err = s.Detail(ctx, model.KindMessage, 42)
	assert.True(t, apperr.IsCode(err, apperr.CodeStaleReference), "got %v", err)
}

func TestActErrors(t *testing.T) {
	fake := &providertest.Fake{}
	seedInbox(fake, 2)
	s := newService(t, testConfig(), fake)
	ctx := context.Background()

	_, err := s.List(ctx, model.KindMessage, ListOptions{Window: lastWeek()})
	require.NoError(t, err)

	_, err = s.Act(ctx, model.KindMessage, 99, model.Mutation{Kind: model.MutationFlag})
	assert.True(t, apperr.IsCode(err, apperr.CodeStaleReference), "got %v", err)

	_, err = s.Act(ctx, model.KindMessage, 1, model.Mutation{Kind: model.MutationComplete})
	assert.True(t, apperr.IsCode(err, apperr.CodeUnsupported), "got %v", err)

	_, err = s.Act(ctx, model.KindTask, 1, model.Mutation{Kind: model.MutationUpdate})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument), "got %v", err)

	fake.FailMutations(errors.New("connection reset"))
	_, err = s.Act(ctx, model.KindMessage, 1, model.Mutation{Kind: model.MutationFlag})
	assert.True(t, apperr.IsCode(err, apperr.CodeProviderUnavailable), "got %v", err)
	_, err = s.Resolve(model.KindMessage, 1)
	assert.NoError(t, err, "a failed action must keep the ordinal")
}

func TestActMany(t *testing.T) {
	fake := &providertest.Fake{}
	seedInbox(fake, 5)
	fake.FailMutationsOf("m2", errors.New("connection reset"))
	s := newService(t, testConfig(), fake)
	ctx := context.Background()

	_, err := s.List(ctx, model.KindMessage, ListOptions{Window: lastWeek()})
	require.NoError(t, err)

	results, err := s.ActMany(ctx, model.KindMessage, []int{1, 2, 4, 1, 99}, model.Mutation{Kind: model.MutationArchive})
	require.NoError(t, err)
	require.Len(t, results, 4, "repeated ordinals run once")

	assert.Equal(t, 1, results[0].Ordinal)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "m1", results[0].Confirmation.Ref)
	assert.True(t, apperr.IsCode(results[1].Err, apperr.CodeProviderUnavailable), "got %v", results[1].Err)
	assert.Nil(t, results[1].Confirmation)
	assert.Contains(t, results[1].String(), "#2:")
	require.NoError(t, results[2].Err)
	assert.Equal(t, "m4", results[2].Confirmation.Ref)
	assert.True(t, apperr.IsCode(results[3].Err, apperr.CodeStaleReference), "got %v", results[3].Err)

	_, err = s.Resolve(model.KindMessage, 1)
	assert.True(t, apperr.IsCode(err, apperr.CodeStaleReference), "got %v", err)
	_, err = s.Resolve(model.KindMessage, 2)
	assert.NoError(t, err, "a failed ordinal stays valid")
	_, err = s.Resolve(model.KindMessage, 4)
	assert.True(t, apperr.IsCode(err, apperr.CodeStaleReference), "got %v", err)
	assert.Len(t, fake.Mutations(), 2)

	results, err = s.ActMany(ctx, model.KindMessage, []int{1, 3}, model.Mutation{Kind: model.MutationFlag})
	require.NoError(t, err)
	assert.True(t, apperr.IsCode(results[0].Err, apperr.CodeStaleReference), "got %v", results[0].Err)
	assert.NoError(t, results[1].Err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	results, err = s.ActMany(cctx, model.KindMessage, []int{5}, model.Mutation{Kind: model.MutationFlag})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	_, err = s.Resolve(model.KindMessage, 5)
	assert.NoError(t, err)
}

func TestActManyValidation(t *testing.T) {
	fake := &providertest.Fake{}
	s := newService(t, testConfig(), fake)
	ctx := context.Background()

	tooMany := make([]int, MaxBatch+1)
	for i := range tooMany {
		tooMany[i] = i + 1
	}
	tests := []struct {
		name     string
		kind     model.Kind
		ordinals []int
		m        model.Mutation
		code     apperr.Code
	}{
		{name: "empty", kind: model.KindMessage, m: model.Mutation{Kind: model.MutationFlag}, code: apperr.CodeInvalidArgument},
		{name: "too many", kind: model.KindMessage, ordinals: tooMany, m: model.Mutation{Kind: model.MutationFlag}, code: apperr.CodeInvalidArgument},
		{name: "create", kind: model.KindTask, ordinals: []int{1}, m: model.Mutation{Kind: model.MutationCreate}, code: apperr.CodeInvalidArgument},
		{name: "wrong kind", kind: model.KindTask, ordinals: []int{1}, m: model.Mutation{Kind: model.MutationArchive}, code: apperr.CodeUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ActMany(ctx, tt.kind, tt.ordinals, tt.m)
			assert.True(t, apperr.IsCode(err, tt.code), "got %v", err)
		})
	}
	assert.Zero(t, fake.Calls())

	cfg := testConfig()
	cfg.Features = features.Settings{DisabledTools: []string{features.BatchAction.Name}}
	gated := newService(t, cfg, fake)
	_, err := gated.ActMany(ctx, model.KindMessage, []int{1}, model.Mutation{Kind: model.MutationFlag})
	assert.True(t, apperr.IsCode(err, apperr.CodeDisabled), "got %v", err)
}

func TestThread(t *testing.T) {
	fake := &providertest.Fake{}
	fake.AddItems("INBOX",
		message("a1", "Alice <alice@example.com>", "Budget review", 48*time.Hour),
		message("b1", "bob@example.com", "Lunch", time.Hour),
		message("a2", "alice@example.com", "Re: Budget review", 2*time.Hour),
	)
	fake.AddItems("Sent", model.Item{
		Ref:         "s1",
		Kind:        model.KindMessage,
		Subject:     "RE: Budget review",
		FromAddress: "me@example.com",
		To:          []string{"alice@example.com"},
		Timestamp:   now.Add(-24 * time.Hour),
	})
	s := newService(t, testConfig(), fake)
	ctx := context.Background()

	res, err := s.List(ctx, model.KindMessage, ListOptions{Window: lastWeek()})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	require.Equal(t, "a1", res.Items[2].Ref)

	thread, err := s.Thread(ctx, 3, ThreadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "a1", thread.Focus.Ref)
	var refs []string
	for _, it := range thread.Items {
		refs = append(refs, it.Ref)
	}
	assert.Equal(t, []string{"a1", "s1", "a2"}, refs, "oldest first, unrelated mail left out")
	assert.False(t, thread.Truncated)

	thread, err = s.Thread(ctx, 3, ThreadOptions{MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, thread.Items, 2)
	assert.Equal(t, "s1", thread.Items[0].Ref, "the newest messages are kept")
	assert.True(t, thread.Truncated)

	_, err = s.Thread(ctx, 3, ThreadOptions{LookbackDays: 1000})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument), "got %v", err)
	_, err = s.Thread(ctx, 42, ThreadOptions{})
	assert.True(t, apperr.IsCode(err, apperr.CodeStaleReference), "got %v", err)

	_, err = s.Resolve(model.KindMessage, 3)
	assert.NoError(t, err, "thread lookups keep the ordinal tables")
}

func TestSaveAttachments(t *testing.T) {
	fake := &providertest.Fake{}
	seedInbox(fake, 2)
	fake.AddAttachments("m1",
		model.AttachmentContent{Attachment: model.Attachment{Name: "report.pdf", ContentType: "application/pdf", Size: 3}, Data: []byte("pdf")},
		model.AttachmentContent{Attachment: model.Attachment{Name: "../../etc/passwd", Size: 4}, Data: []byte("root")},
		model.AttachmentContent{Attachment: model.Attachment{Name: "", Size: 1}, Data: []byte("x")},
	)
	s := newService(t, testConfig(), fake)
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("older"), 0o600))

	_, err := s.List(ctx, model.KindMessage, ListOptions{Window: lastWeek()})
	require.NoError(t, err)

	saved, err := s.SaveAttachments(ctx, 1, dir)
	require.NoError(t, err)
	require.Len(t, saved, 3)
	assert.Equal(t, filepath.Join(dir, "report_1.pdf"), saved[0].Path)
	assert.Equal(t, filepath.Join(dir, "passwd"), saved[1].Path)
	assert.Equal(t, filepath.Join(dir, "attachment-3"), saved[2].Path)

	data, err := os.ReadFile(saved[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(data))
	data, err = os.ReadFile(filepath.Join(dir, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "older", string(data), "existing files are never overwritten")

	saved, err = s.SaveAttachments(ctx, 2, dir)
	require.NoError(t, err)
	assert.Empty(t, saved)

	_, err = s.SaveAttachments(ctx, 1, filepath.Join(dir, "missing"))
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument), "got %v", err)

	_, err = fake.SendMutation(ctx, model.KindMessage, "m2", model.Mutation{Kind: model.MutationDelete})
	require.NoError(t, err)
	_, err = s.Attachments(ctx, 2)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound), "got %v", err)
	_, err = s.Resolve(model.KindMessage, 2)
	assert.True(t, apperr.IsCode(err, apperr.CodeStaleReference), "got %v", err)
}

func TestCreate(t *testing.T) {
	fake := &providertest.Fake{}
	s := newService(t, testConfig(), fake)
	ctx := context.Background()

	_, err := s.Create(ctx, model.KindEvent, model.Mutation{Subject: "Sync", Start: now})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument), "got %v", err)

	conf, err := s.Create(ctx, model.KindTask, model.Mutation{Subject: "File taxes", Due: now.AddDate(0, 0, 3)})
	require.NoError(t, err)
	assert.Zero(t, conf.Ordinal)
	assert.Equal(t, conf.Message, conf.String())

	muts := fake.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, model.MutationCreate, muts[0].Mutation.Kind)
	assert.Equal(t, model.KindTask, muts[0].Kind)
	assert.Empty(t, muts[0].Ref)
}

func TestPendingReplies(t *testing.T) {
	fake := &providertest.Fake{}

	answered := message("in-1", "Alice <alice@example.com>", "Budget", 48*time.Hour)
	answered.ConversationID = "conv-1"
	waiting := message("in-2", "bob@example.com", "Contract", 24*time.Hour)
	waiting.ConversationID = "conv-2"
	own := message("in-3", "me@example.com", "Note to self", 3*time.Hour)
	promo := message("in-4", "news@shop.example", "Our June newsletter", 2*time.Hour)
	fake.AddItems("INBOX", answered, waiting, own, promo)
	fake.AddItems("Sent", model.Item{
		Ref:            "out-1",
		Subject:        "Re: Budget",
		FromAddress:    "me@example.com",
		To:             []string{"alice@example.com"},
		Timestamp:      answered.Timestamp.Add(time.Hour),
		ConversationID: "conv-1",
	})

	var progress [][2]int
	s := New(testConfig(), fake, Options{
		Now:        func() time.Time { return now },
		OnProgress: func(settled, total int) { progress = append(progress, [2]int{settled, total}) },
	})
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	res, err := s.PendingReplies(ctx, PendingOptions{Days: 7})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned, "own and promotional messages are skipped")
	assert.Equal(t, 14, res.LookbackDays, "max(2*7, 14)")
	require.Len(t, res.Results, 1)
	assert.Equal(t, "in-2", res.Results[0].InboundRef)
	assert.Equal(t, correlate.StatusPending, res.Results[0].Status)
	assert.False(t, res.UnknownIdentity)
	assert.NotEmpty(t, progress)

	entry, err := s.Resolve(model.KindMessage, res.Results[0].Ordinal)
	require.NoError(t, err, "pending items are actionable by ordinal")
	assert.Equal(t, "in-2", entry.Ref)

	res, err = s.PendingReplies(ctx, PendingOptions{Days: 7, IncludeReplied: true})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	byRef := map[string]correlate.Result{}
	for _, r := range res.Results {
		byRef[r.InboundRef] = r
	}
	assert.Equal(t, correlate.StatusReplied, byRef["in-1"].Status)
	assert.Equal(t, "out-1", byRef["in-1"].MatchedOutboundRef)
}

func TestPendingRepliesValidation(t *testing.T) {
	tests := []struct {
		name string
		opts PendingOptions
		code apperr.Code
	}{
		{name: "too many days", opts: PendingOptions{Days: 31}, code: apperr.CodeInvalidWindow},
		{name: "negative days", opts: PendingOptions{Days: -1}, code: apperr.CodeInvalidWindow},
		{name: "lookback over max", opts: PendingOptions{LookbackDays: 181}, code: apperr.CodeInvalidArgument},
		{name: "max lookback over config", opts: PendingOptions{MaxLookbackDays: 400}, code: apperr.CodeInvalidArgument},
		{name: "too many results", opts: PendingOptions{MaxResults: 201}, code: apperr.CodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &providertest.Fake{}
			s := newService(t, testConfig(), fake)
			_, err := s.PendingReplies(context.Background(), tt.opts)
			assert.True(t, apperr.IsCode(err, tt.code), "got %v", err)
			assert.Zero(t, fake.Calls())
		})
	}
}

func busy(attendee string, from, to string) model.BusyInterval {
	parse := func(s string) time.Time {
		tm, err := time.Parse("15:04", s)
		if err != nil {
			panic(err)
		}
		return time.Date(now.Year(), now.Month(), now.Day(), tm.Hour(), tm.Minute(), 0, 0, time.UTC)
	}
	return model.BusyInterval{Attendee: attendee, Start: parse(from), End: parse(to), Status: model.StatusBusy}
}

func morning() model.Window {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return model.Window{Start: day.Add(9 * time.Hour), End: day.Add(12 * time.Hour)}
}

func TestFreeBusy(t *testing.T) {
	fake := &providertest.Fake{}
	fake.SetBusy("a@example.com", busy("a@example.com", "09:00", "10:00"))
	fake.SetBusy("b@example.com", busy("b@example.com", "09:30", "10:30"))
	s := newService(t, testConfig(), fake)
	ctx := context.Background()

	res, err := s.FreeBusy(ctx, []string{"A@example.com; b@example.com", "ghost@example.com"}, morning(), time.Hour, FreeBusyOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Slots)
	assert.Equal(t, morning().Start.Add(90*time.Minute), res.Slots[0].Start)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, res.Participants)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "ghost@example.com", res.Failures[0].Attendee)

	_, err = s.FreeBusy(ctx, []string{"ghost@example.com"}, morning(), time.Hour, FreeBusyOptions{})
	assert.True(t, apperr.IsCode(err, apperr.CodeProviderUnavailable), "got %v", err)

	_, err = s.FreeBusy(ctx, nil, morning(), time.Hour, FreeBusyOptions{})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument), "got %v", err)

	_, err = s.FreeBusy(ctx, []string{"a@example.com"}, morning(), 30*time.Second, FreeBusyOptions{})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument), "got %v", err)

	_, err = s.FreeBusy(ctx, []string{"a@example.com"}, morning(), time.Hour, FreeBusyOptions{WorkStart: "7pm"})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument), "got %v", err)
}

func TestAvailability(t *testing.T) {
	fake := &providertest.Fake{}
	fake.SetBusy("a@example.com", busy("a@example.com", "10:00", "11:00"))
	s := newService(t, testConfig(), fake)

	runs, err := s.Availability(context.Background(), "Alice <a@example.com>", morning())
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, model.StatusFree, runs[0].Status)
	assert.Equal(t, model.StatusBusy, runs[1].Status)
	assert.Equal(t, model.StatusFree, runs[2].Status)
}

func TestFeatureGate(t *testing.T) {
	cfg := testConfig()
	cfg.Features = features.Settings{DisabledGroups: []string{"mail"}}
	fake := &providertest.Fake{}
	seedInbox(fake, 1)
	s := newService(t, cfg, fake)
	ctx := context.Background()

	_, err := s.List(ctx, model.KindMessage, ListOptions{Window: lastWeek()})
	assert.True(t, apperr.IsCode(err, apperr.CodeDisabled), "got %v", err)
	_, err = s.PendingReplies(ctx, PendingOptions{})
	assert.True(t, apperr.IsCode(err, apperr.CodeDisabled), "got %v", err)
	assert.Contains(t, s.DisabledTools(), features.ListMessages.Name)

	_, err = s.List(ctx, model.KindEvent, ListOptions{Window: lastWeek()})
	assert.NoError(t, err)

	reloaded := testConfig()
	reloaded.Features = features.Settings{DisabledTools: []string{features.ResetCache.Name}}
	s.Reload(reloaded)

	_, err = s.List(ctx, model.KindMessage, ListOptions{Window: lastWeek()})
	assert.NoError(t, err)
	assert.True(t, apperr.IsCode(s.Reset(), apperr.CodeDisabled))
}

func TestResetKeepsCounting(t *testing.T) {
	fake := &providertest.Fake{}
	seedInbox(fake, 3)
	s := newService(t, testConfig(), fake)
	ctx := context.Background()

	_, err := s.List(ctx, model.KindMessage, ListOptions{Window: lastWeek()})
	require.NoError(t, err)
	require.NoError(t, s.Reset(model.KindMessage))

	_, err = s.Resolve(model.KindMessage, 1)
	assert.True(t, apperr.IsCode(err, apperr.CodeStaleReference), "got %v", err)

	res, err := s.List(ctx, model.KindMessage, ListOptions{Window: lastWeek()})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Items[0].Ordinal, "ordinals are never reused")

	stats, err := s.CacheStats()
	require.NoError(t, err)
	require.NotEmpty(t, stats)
	assert.Equal(t, model.KindMessage, stats[0].Kind)
	assert.Equal(t, 3, stats[0].Size)
}

func TestCollections(t *testing.T) {
	fake := &providertest.Fake{}
	seedInbox(fake, 2)
	fake.AddItems("Archive", message("a1", "x@example.com", "Old", time.Hour))
	s := newService(t, testConfig(), fake)

	infos, err := s.Collections(context.Background(), model.KindMessage)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "Archive", infos[0].Name)
	assert.Equal(t, uint32(2), infos[1].Items)
}

func TestPromotional(t *testing.T) {
	keywords := []string{"newsletter", "promo "}
	tests := []struct {
		name string
		item model.Item
		want bool
	}{
		{name: "subject", item: model.Item{Subject: "Weekly Newsletter"}, want: true},
		{name: "trailing keyword at end", item: model.Item{Subject: "Summer promo"}, want: true},
		{name: "keyword inside a word", item: model.Item{Subject: "Promotion review"}, want: false},
		{name: "preview", item: model.Item{Subject: "Hi", Preview: "see our newsletter"}, want: true},
		{name: "plain", item: model.Item{Subject: "Contract draft", From: "bob@example.com"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, promotional(tt.item, keywords))
		})
	}
	assert.False(t, promotional(model.Item{Subject: "newsletter"}, nil))
}
