package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // decoders for non-UTF-8 bodies
	"github.com/emersion/go-message/mail"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
)

var fullSection = &imap.BodySectionName{Peek: true}

// FetchItemDetail implements provider.Detailer.
func (c *Client) FetchItemDetail(_ context.Context, kind model.Kind, ref string) (*model.Detail, error) {
	if kind != model.KindMessage {
		return nil, apperr.Unsupported("the IMAP backend serves only mail, not %s", kind)
	}
	r, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	msg, err := c.fetchOne(r, true)
	if err != nil {
		return nil, err
	}

	d := &model.Detail{Item: toItem(msg, r)}
	if env := msg.Envelope; env != nil {
		for _, a := range env.Cc {
			d.Cc = append(d.Cc, model.NormalizeAddress(a.Address()))
		}
		d.InReplyTo = env.InReplyTo
	}
	if raw := bodyOf(msg, threadSection); raw != nil {
		h := parseHeader(raw)
		d.References, _ = h.MsgIDList("References")
	}
	if raw := bodyOf(msg, fullSection); raw != nil {
		d.Body, d.HTMLBody, d.Attachments = parseMIME(raw)
	}
	d.Preview = model.Preview(d.Body, model.PreviewLength)
	return d, nil
}

// fetchOne fetches the envelope, flags and thread headers of one message, plus
// the raw message when withBody is set.
func (c *Client) fetchOne(r msgRef, withBody bool) (*imap.Message, error) {
	items := []imap.FetchItem{
		imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid,
		imap.FetchInternalDate, imap.FetchRFC822Size,
		threadSection.FetchItem(),
	}
	if withBody {
		items = append(items, fullSection.FetchItem())
	}

	var msg *imap.Message
	err := c.safeCall(func() error {
		msg = nil
		if err := c.locate(r, true); err != nil {
			return err
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(r.UID)
		messages := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() { done <- c.UidFetch(seqset, items, messages) }()
		for m := range messages {
			msg = m
		}
		return <-done
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] fetching %s: %w", c.opts.Label, r, err)
	}
	if msg == nil {
		return nil, apperr.NotFound("message %s", r)
	}
	return msg, nil
}

// locate selects the ref's folder and checks the message still exists there.
func (c *Client) locate(r msgRef, readOnly bool) error {
	mbox, err := c.ensureSelected(r.Folder, readOnly)
	if err != nil {
		return err
	}
	if mbox.UidValidity != r.Validity {
		return apperr.NotFound("folder %s was renumbered, message %d is gone", r.Folder, r.UID)
	}
	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddNum(r.UID)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return apperr.NotFound("message %d in %s", r.UID, r.Folder)
	}
	return nil
}

// FetchAttachments implements provider.AttachmentFetcher.
func (c *Client) FetchAttachments(_ context.Context, ref string) ([]model.AttachmentContent, error) {
	r, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	msg, err := c.fetchOne(r, true)
	if err != nil {
		return nil, err
	}
	raw := bodyOf(msg, fullSection)
	if raw == nil {
		return nil, nil
	}
	_, _, files := parseParts(raw, true)
	return files, nil
}

// parseMIME extracts the text body, the HTML body and attachment metadata.
// Unparseable messages come back as plain text.
func parseMIME(raw []byte) (text, html string, attachments []model.Attachment) {
	text, html, files := parseParts(raw, false)
	for _, f := range files {
		attachments = append(attachments, f.Attachment)
	}
	return text, html, attachments
}

// parseParts walks the MIME tree. Attachment bytes are kept only when keepData is set.
func parseParts(raw []byte, keepData bool) (text, html string, files []model.AttachmentContent) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return string(raw), "", nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/html"):
				if html == "" {
					html = string(body)
				}
			case contentType == "" || strings.HasPrefix(contentType, "text/plain"):
				if text == "" {
					text = string(body)
				}
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			f := model.AttachmentContent{Attachment: model.Attachment{Name: filename, ContentType: contentType}}
			if keepData {
				data, readErr := io.ReadAll(part.Body)
				if readErr != nil {
					continue
				}
				f.Data = data
				f.Size = uint64(len(data))
			} else {
				n, readErr := io.Copy(io.Discard, part.Body)
				if readErr != nil {
					continue
				}
				f.Size = uint64(n)
			}
			files = append(files, f)
		}
	}

	return strings.TrimRight(text, "\r\n"), html, files
}
