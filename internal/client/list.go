package client

import (
	"bufio"
	"cmp"
	"context"
	"fmt"
	"io"
	"iter"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
)

// msgRef addresses one message: imap:<uidvalidity>:<uid>:<folder>.
type msgRef struct {
	Validity uint32
	UID      uint32
	Folder   string
}

func (r msgRef) String() string {
	return fmt.Sprintf("imap:%d:%d:%s", r.Validity, r.UID, r.Folder)
}

func parseRef(ref string) (msgRef, error) {
	parts := strings.SplitN(ref, ":", 4)
	if len(parts) != 4 || parts[0] != "imap" || parts[3] == "" {
		return msgRef{}, apperr.InvalidArgument("malformed message reference %q", ref)
	}
	validity, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return msgRef{}, apperr.InvalidArgument("malformed uidvalidity in %q", ref)
	}
	uid, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil || uid == 0 {
		return msgRef{}, apperr.InvalidArgument("malformed uid in %q", ref)
	}
	return msgRef{Validity: uint32(validity), UID: uint32(uid), Folder: parts[3]}, nil
}

var threadSection = &imap.BodySectionName{
	BodyPartName: imap.BodyPartName{
		Specifier: imap.HeaderSpecifier,
		Fields:    []string{"References", "In-Reply-To"},
	},
	Peek: true,
}

func (c *Client) previewSection() *imap.BodySectionName {
	if c.opts.PreviewBytes <= 0 {
		return nil
	}
	return &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Path: []int{1}},
		Peek:         true,
		Partial:      []int{0, c.opts.PreviewBytes},
	}
}

// ListCollection implements provider.Lister. The folder is searched by day and
// fetched lazily, newest UIDs first, in batches of fetchBatch.
func (c *Client) ListCollection(ctx context.Context, kind model.Kind, folder string, w model.Window) (iter.Seq2[model.Item, error], error) {
	if kind != model.KindMessage {
		return nil, apperr.Unsupported("the IMAP backend serves only mail, not %s", kind)
	}
	if !w.Valid() {
		return nil, apperr.InvalidWindow("empty or reversed window %s", w)
	}
	folder = cmp.Or(folder, "INBOX")

	criteria := imap.NewSearchCriteria()
	criteria.Since = day(w.Start).AddDate(0, 0, -1)
	criteria.Before = day(w.End).AddDate(0, 0, 1)

	var (
		validity uint32
		uids     []uint32
	)
	c.UpdateProgress(fmt.Sprintf("[%s] Searching folder %s...", c.opts.Label, folder))
	err := c.safeCall(func() error {
		mbox, err := c.Select(folder, true)
		if err != nil {
			return err
		}
		validity = mbox.UidValidity
		uids, err = c.UidSearch(criteria)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] cannot search folder %s: %w", c.opts.Label, folder, err)
	}
	slices.SortFunc(uids, func(a, b uint32) int { return cmp.Compare(b, a) })
	c.log.Debug("folder searched", "folder", folder, "window", w.String(), "candidates", len(uids))

	return func(yield func(model.Item, error) bool) {
		fetched := 0
		for batch := range slices.Chunk(uids, fetchBatch) {
			if err := ctx.Err(); err != nil {
				yield(model.Item{}, err)
				return
			}
			items, err := c.fetchItems(folder, validity, batch)
			if err != nil {
				yield(model.Item{}, err)
				return
			}
			fetched += len(batch)
			if fetched%progressUpdateInterval == 0 || fetched == len(uids) {
				c.UpdateProgress(fmt.Sprintf("[%s] Fetched %d/%d messages from %s...", c.opts.Label, fetched, len(uids), folder))
			}
			for _, it := range items {
				if !w.Contains(it.Timestamp) {
					continue
				}
				if !yield(it, nil) {
					return
				}
			}
		}
	}, nil
}

// fetchItems fetches one batch of UIDs and returns them newest first.
func (c *Client) fetchItems(folder string, validity uint32, uids []uint32) ([]model.Item, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	items := []imap.FetchItem{
		imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid,
		imap.FetchInternalDate, imap.FetchRFC822Size,
		threadSection.FetchItem(),
	}
	preview := c.previewSection()
	if preview != nil {
		items = append(items, preview.FetchItem())
	}

	var out []model.Item
	err := c.safeCall(func() error {
		out = out[:0]
		if _, err := c.ensureSelected(folder, true); err != nil {
			return err
		}
		messages := make(chan *imap.Message, messageChanBuffer)
		done := make(chan error, 1)
		go func() { done <- c.UidFetch(seqset, items, messages) }()

		for msg := range messages {
			it := toItem(msg, msgRef{Validity: validity, UID: msg.Uid, Folder: folder})
			if preview != nil {
				if body := bodyOf(msg, preview); body != nil {
					it.Preview = model.Preview(string(body), model.PreviewLength)
				}
			}
			out = append(out, it)
		}
		return <-done
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] fetch error in %s: %w", c.opts.Label, folder, err)
	}
	slices.SortFunc(out, func(a, b model.Item) int { return b.Timestamp.Compare(a.Timestamp) })
	return out, nil
}

func toItem(msg *imap.Message, ref msgRef) model.Item {
	it := model.Item{
		Ref:        ref.String(),
		Kind:       model.KindMessage,
		Collection: ref.Folder,
		Timestamp:  msg.InternalDate,
		Flags:      msg.Flags,
		Size:       msg.Size,
	}
	env := msg.Envelope
	if env == nil {
		return it
	}
	it.Subject = env.Subject
	it.MessageID = env.MessageId
	if len(env.From) > 0 {
		it.From = formatAddress(env.From[0])
		it.FromAddress = model.NormalizeAddress(env.From[0].Address())
	}
	for _, a := range env.To {
		it.To = append(it.To, model.NormalizeAddress(a.Address()))
	}
	if it.Timestamp.IsZero() {
		it.Timestamp = env.Date
	}

	var refs []string
	inReplyTo := env.InReplyTo
	if raw := bodyOf(msg, threadSection); raw != nil {
		h := parseHeader(raw)
		refs, _ = h.MsgIDList("References")
		if ids, _ := h.MsgIDList("In-Reply-To"); len(ids) > 0 {
			inReplyTo = ids[0]
		}
	}
	it.ConversationID = conversationID(refs, inReplyTo, env.MessageId)
	return it
}

// conversationID is the thread root: the first References id, else In-Reply-To, else the Message-ID.
func conversationID(references []string, inReplyTo, messageID string) string {
	if len(references) > 0 {
		return strings.Trim(references[0], "<> ")
	}
	if id := strings.Trim(inReplyTo, "<> "); id != "" {
		return id
	}
	return strings.Trim(messageID, "<> ")
}

func parseHeader(raw []byte) mail.Header {
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(string(raw) + "\r\n")))
	if err != nil {
		return mail.Header{}
	}
	return mail.Header{Header: message.Header{Header: h}}
}

// bodyOf returns the fetched section. Servers echo section names with small
// differences, so it falls back to matching specifier and path only.
func bodyOf(msg *imap.Message, section *imap.BodySectionName) []byte {
	lit := msg.GetBody(section)
	if lit == nil {
		for s, l := range msg.Body {
			if s.Specifier == section.Specifier && slices.Equal(s.Path, section.Path) {
				lit = l
				break
			}
		}
	}
	if lit == nil {
		return nil
	}
	buf := make([]byte, lit.Len())
	n, _ := io.ReadFull(lit, buf)
	return buf[:n]
}

func formatAddress(a *imap.Address) string {
	if a.PersonalName == "" {
		return a.Address()
	}
	return fmt.Sprintf("%s <%s>", a.PersonalName, a.Address())
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
