package client

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/emersion/go-imap"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
)

// Fallback names tried when no folder carries the special-use attribute.
var (
	sentCandidates    = []string{"Sent", "Sent Items", "Sent Messages"}
	archiveCandidates = []string{"Archive", "Archives"}
	trashCandidates   = []string{"Trash", "Deleted Items", "Deleted Messages"}
)

// SendMutation implements provider.Mutator.
func (c *Client) SendMutation(ctx context.Context, kind model.Kind, ref string, m model.Mutation) (string, error) {
	if kind != model.KindMessage || !m.Kind.Supports(kind) {
		return "", apperr.Unsupported("%s on %s", m.Kind, kind)
	}
	if m.Kind == model.MutationCreate {
		return c.createMessage(ctx, m)
	}
	r, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	switch m.Kind {
	case model.MutationReply:
		return c.reply(ctx, r, m)
	case model.MutationForward:
		return c.forward(ctx, r, m)
	case model.MutationMove:
		if strings.TrimSpace(m.Folder) == "" {
			return "", apperr.InvalidArgument("move needs a target folder")
		}
		return c.move(r, m.Folder)
	case model.MutationArchive:
		folder, exists, err := c.specialFolder(c.opts.ArchiveFolder, imap.ArchiveAttr, archiveCandidates...)
		if err != nil {
			return "", err
		}
		if !exists {
			if _, err := c.CreateMailbox(folder); err != nil {
				return "", err
			}
		}
		return c.move(r, folder)
	case model.MutationDelete:
		trash, exists, err := c.specialFolder(c.opts.TrashFolder, imap.TrashAttr, trashCandidates...)
		if err != nil {
			return "", err
		}
		if exists && trash != r.Folder {
			return c.move(r, trash)
		}
		return c.expunge(r)
	case model.MutationMarkRead:
		return c.setFlag(r, imap.SeenFlag, true)
	case model.MutationMarkUnread:
		return c.setFlag(r, imap.SeenFlag, false)
	case model.MutationFlag:
		return c.setFlag(r, imap.FlaggedFlag, true)
	case model.MutationUnflag:
		return c.setFlag(r, imap.FlaggedFlag, false)
	}
	return "", apperr.Unsupported("%s on messages", m.Kind)
}

func (c *Client) move(r msgRef, folder string) (string, error) {
	err := c.safeCall(func() error {
		if err := c.locate(r, false); err != nil {
			return err
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(r.UID)
		return c.UidMove(seqset, folder)
	})
	if err != nil {
		return "", fmt.Errorf("[%s] moving %s to %s: %w", c.opts.Label, r, folder, err)
	}
	c.log.Info("message moved", "ref", r.String(), "to", folder)
	return fmt.Sprintf("moved message %d from %s to %s", r.UID, r.Folder, folder), nil
}

func (c *Client) expunge(r msgRef) (string, error) {
	err := c.safeCall(func() error {
		if err := c.locate(r, false); err != nil {
			return err
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(r.UID)
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.UidStore(seqset, item, []any{imap.DeletedFlag}, nil); err != nil {
			return err
		}
		return c.Expunge(nil)
	})
	if err != nil {
		return "", fmt.Errorf("[%s] deleting %s: %w", c.opts.Label, r, err)
	}
	c.log.Info("message expunged", "ref", r.String())
	return fmt.Sprintf("deleted message %d from %s permanently", r.UID, r.Folder), nil
}

func (c *Client) setFlag(r msgRef, flag string, on bool) (string, error) {
	var op imap.FlagsOp = imap.AddFlags
	if !on {
		op = imap.RemoveFlags
	}
	err := c.safeCall(func() error {
		if err := c.locate(r, false); err != nil {
			return err
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(r.UID)
		return c.UidStore(seqset, imap.FormatFlagsOp(op, true), []any{flag}, nil)
	})
	if err != nil {
		return "", fmt.Errorf("[%s] updating flags of %s: %w", c.opts.Label, r, err)
	}
	verb := "set"
	if !on {
		verb = "cleared"
	}
	return fmt.Sprintf("%s %s on message %d in %s", verb, flag, r.UID, r.Folder), nil
}

func (c *Client) reply(ctx context.Context, r msgRef, m model.Mutation) (string, error) {
	orig, err := c.fetchOne(r, false)
	if err != nil {
		return "", err
	}
	env := orig.Envelope
	if env == nil {
		return "", apperr.NotFound("message %s has no envelope", r)
	}

	to := addressesOf(env.ReplyTo)
	if len(to) == 0 {
		to = addressesOf(env.From)
	}
	if m.ReplyAll {
		self := model.NormalizeAddress(c.opts.From)
		for _, a := range slices.Concat(addressesOf(env.To), addressesOf(env.Cc)) {
			if a != self && !slices.Contains(to, a) {
				to = append(to, a)
			}
		}
	}

	var refs []string
	if raw := bodyOf(orig, threadSection); raw != nil {
		h := parseHeader(raw)
		refs, _ = h.MsgIDList("References")
	}
	d := draft{
		From:       c.opts.From,
		To:         to,
		Subject:    prefixed("Re: ", env.Subject),
		Body:       m.Body,
		Date:       c.opts.Now(),
		InReplyTo:  env.MessageId,
		References: refs,
	}
	if err := c.send(ctx, d); err != nil {
		return "", err
	}

	if _, err := c.setFlag(r, imap.AnsweredFlag, true); err != nil {
		c.log.Warn("could not flag original as answered", "ref", r.String(), "error", err)
	}
	return fmt.Sprintf("replied to %s", strings.Join(to, ", ")), nil
}

func (c *Client) forward(ctx context.Context, r msgRef, m model.Mutation) (string, error) {
	if len(m.To) == 0 {
		return "", apperr.InvalidArgument("forward needs at least one recipient")
	}
	orig, err := c.fetchOne(r, true)
	if err != nil {
		return "", err
	}
	item := toItem(orig, r)
	var text string
	if raw := bodyOf(orig, fullSection); raw != nil {
		text, _, _ = parseMIME(raw)
	}

	var b strings.Builder
	b.WriteString(m.Body)
	b.WriteString("\n\n---------- Forwarded message ----------\n")
	fmt.Fprintf(&b, "From: %s\nDate: %s\nSubject: %s\n\n", item.From, item.Timestamp.Format("Mon, 2 Jan 2006 15:04"), item.Subject)
	b.WriteString(text)

	d := draft{
		From:    c.opts.From,
		To:      m.To,
		Subject: prefixed("Fwd: ", item.Subject),
		Body:    b.String(),
		Date:    c.opts.Now(),
	}
	if err := c.send(ctx, d); err != nil {
		return "", err
	}
	return fmt.Sprintf("forwarded to %s", strings.Join(m.To, ", ")), nil
}

func (c *Client) createMessage(ctx context.Context, m model.Mutation) (string, error) {
	if len(m.To) == 0 {
		return "", apperr.InvalidArgument("a new message needs at least one recipient")
	}
	d := draft{
		From:    c.opts.From,
		To:      m.To,
		Subject: m.Subject,
		Body:    m.Body,
		Date:    c.opts.Now(),
	}
	if err := c.send(ctx, d); err != nil {
		return "", err
	}
	return fmt.Sprintf("sent %q to %s", m.Subject, strings.Join(m.To, ", ")), nil
}

// send composes d, hands it to the Sender and keeps a copy in the Sent folder.
// A failed copy is logged; the message has already left.
func (c *Client) send(ctx context.Context, d draft) error {
	if c.opts.Sender == nil {
		return apperr.Unsupported("no outgoing mail transport is configured")
	}
	if d.From == "" {
		return apperr.InvalidArgument("no sender address is configured")
	}
	raw, msgID, err := compose(d)
	if err != nil {
		return err
	}
	rcpts, err := parseAddresses(slices.Concat(d.To, d.Cc))
	if err != nil {
		return err
	}
	to := make([]string, 0, len(rcpts))
	for _, a := range rcpts {
		to = append(to, a.Address)
	}
	from := model.NormalizeAddress(d.From)
	if err := c.opts.Sender.Send(ctx, from, to, raw); err != nil {
		return apperr.ProviderUnavailable(err, "sending %q", d.Subject)
	}
	c.log.Info("message sent", "message_id", msgID, "recipients", len(to))

	if err := c.saveSent(raw, d); err != nil {
		c.log.Warn("could not save sent copy", "message_id", msgID, "error", err)
	}
	return nil
}

func (c *Client) saveSent(raw []byte, d draft) error {
	folder, exists, err := c.specialFolder(c.opts.SentFolder, imap.SentAttr, sentCandidates...)
	if err != nil {
		return err
	}
	if !exists {
		if _, err := c.CreateMailbox(folder); err != nil {
			return err
		}
	}
	return c.safeCall(func() error {
		return c.Append(folder, []string{imap.SeenFlag}, d.Date, bytes.NewReader(raw))
	})
}

func addressesOf(list []*imap.Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		if addr := model.NormalizeAddress(a.Address()); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func prefixed(prefix, subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), strings.ToLower(prefix)) {
		return subject
	}
	return prefix + subject
}
