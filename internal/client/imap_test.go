package client

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
)

type sentMail struct {
	from string
	to   []string
	raw  string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(_ context.Context, from string, to []string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{from: from, to: to, raw: string(msg)})
	return nil
}

var june = model.Window{
	Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
}

// newTestClient starts an in-memory IMAP server and logs in to it.
func newTestClient(t *testing.T, sender Sender) *Client {
	t.Helper()

	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() { _ = s.Close() })

	c, err := New(Options{
		Addr:     ln.Addr().String(),
		Username: "username",
		Password: "password",
		Label:    "test",
		From:     "Me <me@example.com>",
		Sender:   sender,
		Now:      func() time.Time { return time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func appendMessage(t *testing.T, c *Client, folder string, date time.Time, headers []string, body string) {
	t.Helper()
	raw := strings.Join(headers, "\r\n") + "\r\n\r\n" + body
	if err := c.Append(folder, nil, date, strings.NewReader(raw)); err != nil {
		t.Fatalf("append to %s: %v", folder, err)
	}
}

// seedInbox stores three June messages and one just outside the window.
func seedInbox(t *testing.T, c *Client) {
	t.Helper()
	appendMessage(t, c, "INBOX", time.Date(2025, 5, 31, 23, 0, 0, 0, time.UTC), []string{
		"From: Early <early@example.com>",
		"To: me@example.com",
		"Subject: Too early",
		"Message-ID: <m0@example.com>",
	}, "Out of the window.")
	appendMessage(t, c, "INBOX", time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), []string{
		"From: Alice <alice@example.com>",
		"To: me@example.com, carol@example.com",
		"Subject: Quarterly report",
		"Message-ID: <m1@example.com>",
		"Content-Type: text/plain; charset=utf-8",
	}, "Please review the numbers.")
	appendMessage(t, c, "INBOX", time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC), []string{
		"From: Bob <bob@example.com>",
		"To: me@example.com",
		"Subject: Re: Offsite",
		"Message-ID: <m2@example.com>",
		"In-Reply-To: <offsite@example.com>",
	}, "Count me in.")
	appendMessage(t, c, "INBOX", time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC), []string{
		"From: Carol <carol@example.com>",
		"To: me@example.com",
		"Subject: Re: Re: Launch",
		"Message-ID: <m3@example.com>",
		"In-Reply-To: <mid@example.com>",
		"References: <root@example.com> <mid@example.com>",
	}, "Shipping Friday.")
}

func listAll(t *testing.T, c *Client, folder string, w model.Window) []model.Item {
	t.Helper()
	seq, err := c.ListCollection(context.Background(), model.KindMessage, folder, w)
	if err != nil {
		t.Fatalf("ListCollection(%s) error: %v", folder, err)
	}
	var items []model.Item
	for it, err := range seq {
		if err != nil {
			t.Fatalf("ListCollection(%s) iteration error: %v", folder, err)
		}
		items = append(items, it)
	}
	return items
}

func findSubject(items []model.Item, subject string) (model.Item, bool) {
	for _, it := range items {
		if it.Subject == subject {
			return it, true
		}
	}
	return model.Item{}, false
}

func TestListCollection(t *testing.T) {
	c := newTestClient(t, nil)
	seedInbox(t, c)

	items := listAll(t, c, "INBOX", june)
	if len(items) != 3 {
		t.Fatalf("expected 3 June messages, got %d", len(items))
	}

	wantSubjects := []string{"Re: Re: Launch", "Re: Offsite", "Quarterly report"}
	for i, want := range wantSubjects {
		if items[i].Subject != want {
			t.Errorf("item %d subject = %q; want %q", i, items[i].Subject, want)
		}
	}

	tests := []struct {
		subject      string
		conversation string
		fromAddress  string
	}{
		{"Re: Re: Launch", "root@example.com", "carol@example.com"},
		{"Re: Offsite", "offsite@example.com", "bob@example.com"},
		{"Quarterly report", "m1@example.com", "alice@example.com"},
	}
	for _, tt := range tests {
		it, ok := findSubject(items, tt.subject)
		if !ok {
			t.Fatalf("missing %q", tt.subject)
		}
		if it.ConversationID != tt.conversation {
			t.Errorf("%q conversation = %q; want %q", tt.subject, it.ConversationID, tt.conversation)
		}
		if it.FromAddress != tt.fromAddress {
			t.Errorf("%q from = %q; want %q", tt.subject, it.FromAddress, tt.fromAddress)
		}
		if !strings.HasPrefix(it.Ref, "imap:") || !strings.HasSuffix(it.Ref, ":INBOX") {
			t.Errorf("%q ref = %q", tt.subject, it.Ref)
		}
	}

	report, _ := findSubject(items, "Quarterly report")
	if strings.Join(report.To, ",") != "me@example.com,carol@example.com" {
		t.Errorf("recipients = %v", report.To)
	}
}

func TestListCollectionBatches(t *testing.T) {
	c := newTestClient(t, nil)
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	const total = fetchBatch + 7
	for i := range total {
		appendMessage(t, c, "INBOX", base.Add(time.Duration(i)*time.Hour), []string{
			"From: bulk@example.com",
			"To: me@example.com",
			fmt.Sprintf("Subject: Batch %d", i),
			fmt.Sprintf("Message-ID: <batch-%d@example.com>", i),
		}, "x")
	}

	items := listAll(t, c, "INBOX", june)
	if len(items) != total {
		t.Fatalf("expected %d items, got %d", total, len(items))
	}
	for i := 1; i < len(items); i++ {
		if !items[i].Timestamp.Before(items[i-1].Timestamp) {
			t.Fatalf("items not newest first at %d: %v then %v", i, items[i-1].Timestamp, items[i].Timestamp)
		}
	}

	seq, err := c.ListCollection(context.Background(), model.KindMessage, "INBOX", june)
	if err != nil {
		t.Fatalf("ListCollection() error: %v", err)
	}
	seen := 0
	for _, err := range seq {
		if err != nil {
			t.Fatalf("iteration error: %v", err)
		}
		seen++
		if seen == 3 {
			break
		}
	}
	if seen != 3 {
		t.Errorf("early stop consumed %d items", seen)
	}
}

func TestListCollectionRejects(t *testing.T) {
	c := newTestClient(t, nil)

	if _, err := c.ListCollection(context.Background(), model.KindTask, "INBOX", june); !apperr.IsCode(err, apperr.CodeUnsupported) {
		t.Errorf("task listing error = %v; want unsupported", err)
	}
	reversed := model.Window{Start: june.End, End: june.Start}
	if _, err := c.ListCollection(context.Background(), model.KindMessage, "INBOX", reversed); !apperr.IsCode(err, apperr.CodeInvalidWindow) {
		t.Errorf("reversed window error = %v; want invalid window", err)
	}
	if _, err := c.ListCollection(context.Background(), model.KindMessage, "No Such Folder", june); err == nil {
		t.Error("expected an error for a missing folder")
	}
}

func TestFetchItemDetail(t *testing.T) {
	c := newTestClient(t, nil)
	seedInbox(t, c)
	items := listAll(t, c, "INBOX", june)
	launch, _ := findSubject(items, "Re: Re: Launch")

	d, err := c.FetchItemDetail(context.Background(), model.KindMessage, launch.Ref)
	if err != nil {
		t.Fatalf("FetchItemDetail() error: %v", err)
	}
	if d.Body != "Shipping Friday." {
		t.Errorf("body = %q", d.Body)
	}
	if strings.Join(d.References, " ") != "root@example.com mid@example.com" {
		t.Errorf("references = %v", d.References)
	}
	if d.Subject != "Re: Re: Launch" || d.ConversationID != "root@example.com" {
		t.Errorf("detail item = %+v", d.Item)
	}

	r, _ := parseRef(launch.Ref)
	r.Validity++
	if _, err := c.FetchItemDetail(context.Background(), model.KindMessage, r.String()); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("stale uidvalidity error = %v; want not found", err)
	}

	r, _ = parseRef(launch.Ref)
	r.UID += 100
	if _, err := c.FetchItemDetail(context.Background(), model.KindMessage, r.String()); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("unknown uid error = %v; want not found", err)
	}
}

func TestFetchAttachments(t *testing.T) {
	c := newTestClient(t, nil)
	appendMessage(t, c, "INBOX", time.Date(2025, 6, 5, 8, 0, 0, 0, time.UTC), []string{
		"From: Alice <alice@example.com>",
		"To: me@example.com",
		"Subject: Figures",
		"Message-ID: <figures@example.com>",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="b1"`,
	}, strings.Join([]string{
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"See attached.",
		"--b1",
		"Content-Type: text/csv",
		`Content-Disposition: attachment; filename="q2.csv"`,
		"Content-Transfer-Encoding: base64",
		"",
		"YSxiLGMKMSwyLDMK",
		"--b1--",
		"",
	}, "\r\n"))
	items := listAll(t, c, "INBOX", june)
	figures, ok := findSubject(items, "Figures")
	if !ok {
		t.Fatal("message not listed")
	}

	files, err := c.FetchAttachments(context.Background(), figures.Ref)
	if err != nil {
		t.Fatalf("FetchAttachments() error: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(files))
	}
	if files[0].Name != "q2.csv" || string(files[0].Data) != "a,b,c\n1,2,3\n" {
		t.Errorf("attachment = %q %q", files[0].Name, files[0].Data)
	}
	if files[0].Size != uint64(len(files[0].Data)) {
		t.Errorf("size = %d", files[0].Size)
	}

	r, _ := parseRef(figures.Ref)
	r.UID += 100
	if _, err := c.FetchAttachments(context.Background(), r.String()); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("unknown uid error = %v; want not found", err)
	}
}

func TestFlags(t *testing.T) {
	c := newTestClient(t, nil)
	seedInbox(t, c)
	report, _ := findSubject(listAll(t, c, "INBOX", june), "Quarterly report")
	ctx := context.Background()

	steps := []struct {
		kind    model.MutationKind
		flag    string
		present bool
	}{
		{model.MutationMarkRead, imap.SeenFlag, true},
		{model.MutationFlag, imap.FlaggedFlag, true},
		{model.MutationMarkUnread, imap.SeenFlag, false},
		{model.MutationUnflag, imap.FlaggedFlag, false},
	}
	for _, step := range steps {
		if _, err := c.SendMutation(ctx, model.KindMessage, report.Ref, model.Mutation{Kind: step.kind}); err != nil {
			t.Fatalf("%s error: %v", step.kind, err)
		}
		got, _ := findSubject(listAll(t, c, "INBOX", june), "Quarterly report")
		if got.HasFlag(step.flag) != step.present {
			t.Errorf("after %s: flag %s present = %v; want %v (flags %v)", step.kind, step.flag, !step.present, step.present, got.Flags)
		}
	}
}

func TestReply(t *testing.T) {
	sender := &fakeSender{}
	c := newTestClient(t, sender)
	seedInbox(t, c)
	report, _ := findSubject(listAll(t, c, "INBOX", june), "Quarterly report")

	msg, err := c.SendMutation(context.Background(), model.KindMessage, report.Ref, model.Mutation{
		Kind:     model.MutationReply,
		Body:     "Looks right to me.",
		ReplyAll: true,
	})
	if err != nil {
		t.Fatalf("reply error: %v", err)
	}
	if msg != "replied to alice@example.com, carol@example.com" {
		t.Errorf("confirmation = %q", msg)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(sender.sent))
	}
	out := sender.sent[0]
	if out.from != "me@example.com" {
		t.Errorf("envelope from = %q", out.from)
	}
	if strings.Join(out.to, ",") != "alice@example.com,carol@example.com" {
		t.Errorf("envelope to = %v", out.to)
	}
	for _, want := range []string{"In-Reply-To: <m1@example.com>", "Subject: Re: Quarterly report", "Looks right to me."} {
		if !strings.Contains(out.raw, want) {
			t.Errorf("sent message lacks %q:\n%s", want, out.raw)
		}
	}

	sent := listAll(t, c, "Sent", june)
	if len(sent) != 1 {
		t.Fatalf("expected the reply in Sent, got %d items", len(sent))
	}
	if sent[0].ConversationID != "m1@example.com" {
		t.Errorf("sent conversation = %q; want m1@example.com", sent[0].ConversationID)
	}
	if !sent[0].HasFlag(imap.SeenFlag) {
		t.Errorf("sent copy flags = %v; want \\Seen", sent[0].Flags)
	}

	report, _ = findSubject(listAll(t, c, "INBOX", june), "Quarterly report")
	if !report.HasFlag(imap.AnsweredFlag) {
		t.Errorf("original flags = %v; want \\Answered", report.Flags)
	}
}

func TestReplyWithoutTransport(t *testing.T) {
	c := newTestClient(t, nil)
	seedInbox(t, c)
	report, _ := findSubject(listAll(t, c, "INBOX", june), "Quarterly report")

	_, err := c.SendMutation(context.Background(), model.KindMessage, report.Ref, model.Mutation{Kind: model.MutationReply, Body: "x"})
	if !apperr.IsCode(err, apperr.CodeUnsupported) {
		t.Errorf("error = %v; want unsupported", err)
	}
}

func TestForwardAndCreate(t *testing.T) {
	sender := &fakeSender{}
	c := newTestClient(t, sender)
	seedInbox(t, c)
	offsite, _ := findSubject(listAll(t, c, "INBOX", june), "Re: Offsite")
	ctx := context.Background()

	if _, err := c.SendMutation(ctx, model.KindMessage, offsite.Ref, model.Mutation{Kind: model.MutationForward}); !apperr.IsCode(err, apperr.CodeInvalidArgument) {
		t.Errorf("forward without recipients error = %v; want invalid argument", err)
	}
	if _, err := c.SendMutation(ctx, model.KindMessage, offsite.Ref, model.Mutation{
		Kind: model.MutationForward,
		To:   []string{"dana@example.com"},
		Body: "FYI",
	}); err != nil {
		t.Fatalf("forward error: %v", err)
	}
	if _, err := c.SendMutation(ctx, model.KindMessage, "", model.Mutation{
		Kind:    model.MutationCreate,
		To:      []string{"erin@example.com"},
		Subject: "Lunch?",
		Body:    "Noon works.",
	}); err != nil {
		t.Fatalf("create error: %v", err)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 sent messages, got %d", len(sender.sent))
	}
	fwd := sender.sent[0].raw
	for _, want := range []string{"Subject: Fwd: Re: Offsite", "Forwarded message", "Count me in."} {
		if !strings.Contains(fwd, want) {
			t.Errorf("forward lacks %q:\n%s", want, fwd)
		}
	}
	if !strings.Contains(sender.sent[1].raw, "Subject: Lunch?") {
		t.Errorf("created message:\n%s", sender.sent[1].raw)
	}
	if got := len(listAll(t, c, "Sent", june)); got != 2 {
		t.Errorf("Sent holds %d messages; want 2", got)
	}
}

func TestMoveArchiveDelete(t *testing.T) {
	c := newTestClient(t, nil)
	seedInbox(t, c)
	items := listAll(t, c, "INBOX", june)
	report, _ := findSubject(items, "Quarterly report")
	offsite, _ := findSubject(items, "Re: Offsite")
	launch, _ := findSubject(items, "Re: Re: Launch")
	ctx := context.Background()

	if _, err := c.SendMutation(ctx, model.KindMessage, report.Ref, model.Mutation{Kind: model.MutationMove}); !apperr.IsCode(err, apperr.CodeInvalidArgument) {
		t.Errorf("move without folder error = %v; want invalid argument", err)
	}

	if _, err := c.CreateMailbox("Clients"); err != nil {
		t.Fatalf("CreateMailbox() error: %v", err)
	}
	if _, err := c.SendMutation(ctx, model.KindMessage, report.Ref, model.Mutation{Kind: model.MutationMove, Folder: "Clients"}); err != nil {
		t.Fatalf("move error: %v", err)
	}
	if got := listAll(t, c, "Clients", june); len(got) != 1 || got[0].Subject != "Quarterly report" {
		t.Errorf("Clients = %v", got)
	}
	if _, err := c.FetchItemDetail(ctx, model.KindMessage, report.Ref); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("moved message detail error = %v; want not found", err)
	}

	if _, err := c.SendMutation(ctx, model.KindMessage, offsite.Ref, model.Mutation{Kind: model.MutationArchive}); err != nil {
		t.Fatalf("archive error: %v", err)
	}
	if got := listAll(t, c, "Archive", june); len(got) != 1 || got[0].Subject != "Re: Offsite" {
		t.Errorf("Archive = %v", got)
	}

	// No Trash folder yet: delete expunges in place.
	msg, err := c.SendMutation(ctx, model.KindMessage, launch.Ref, model.Mutation{Kind: model.MutationDelete})
	if err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if !strings.Contains(msg, "permanently") {
		t.Errorf("confirmation = %q", msg)
	}
	if got := listAll(t, c, "INBOX", june); len(got) != 0 {
		t.Errorf("INBOX still holds %d June messages", len(got))
	}

	if _, err := c.CreateMailbox("Trash"); err != nil {
		t.Fatalf("CreateMailbox() error: %v", err)
	}
	archived := listAll(t, c, "Archive", june)
	if _, err := c.SendMutation(ctx, model.KindMessage, archived[0].Ref, model.Mutation{Kind: model.MutationDelete}); err != nil {
		t.Fatalf("delete to trash error: %v", err)
	}
	if got := listAll(t, c, "Trash", june); len(got) != 1 {
		t.Errorf("Trash holds %d messages; want 1", len(got))
	}
}

func TestCollections(t *testing.T) {
	c := newTestClient(t, nil)
	seedInbox(t, c)
	if _, err := c.CreateMailbox("Projects/2025"); err != nil {
		t.Fatalf("CreateMailbox() error: %v", err)
	}

	cols, err := c.Collections(context.Background(), model.KindMessage)
	if err != nil {
		t.Fatalf("Collections() error: %v", err)
	}
	names := make(map[string]model.CollectionInfo, len(cols))
	for _, col := range cols {
		names[col.Name] = col
	}
	for _, want := range []string{"INBOX", "Projects", "Projects/2025"} {
		if _, ok := names[want]; !ok {
			t.Errorf("missing folder %q in %v", want, cols)
		}
	}
	// The memory backend seeds one message of its own.
	if inbox := names["INBOX"]; inbox.Items != 5 || inbox.Size == 0 {
		t.Errorf("INBOX stats = %+v; want 5 messages with a size", inbox)
	}

	if _, err := c.Collections(context.Background(), model.KindEvent); !apperr.IsCode(err, apperr.CodeUnsupported) {
		t.Errorf("event collections error = %v; want unsupported", err)
	}
}
