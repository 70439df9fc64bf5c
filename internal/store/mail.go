package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
)

type messageRow struct {
	ID             string   `db:"id"`
	Folder         string   `db:"folder"`
	MessageID      string   `db:"message_id"`
	ConversationID string   `db:"conversation_id"`
	InReplyTo      string   `db:"in_reply_to"`
	Subject        string   `db:"subject"`
	Sender         string   `db:"sender"`
	SenderAddress  string   `db:"sender_address"`
	Recipients     jsonList `db:"recipients"`
	Cc             jsonList `db:"cc"`
	ReceivedAt     int64    `db:"received_at"`
	Flags          jsonList `db:"flags"`
	Body           string   `db:"body"`
	HTMLBody       string   `db:"html_body"`
	Size           int64    `db:"size"`
}

func (r *messageRow) item() model.Item {
	return model.Item{
		Ref:            r.ID,
		Kind:           model.KindMessage,
		Collection:     r.Folder,
		Subject:        r.Subject,
		From:           r.Sender,
		FromAddress:    r.SenderAddress,
		To:             r.Recipients,
		Timestamp:      fromUnix(r.ReceivedAt),
		ConversationID: r.ConversationID,
		MessageID:      r.MessageID,
		Flags:          r.Flags,
		Preview:        model.Preview(r.Body, model.PreviewLength),
		Size:           uint32(r.Size),
	}
}

const insertMessage = `
	INSERT INTO messages (
		id, folder, message_id, conversation_id, in_reply_to,
		subject, sender, sender_address, recipients, cc,
		received_at, flags, body, html_body, size
	) VALUES (
		:id, :folder, :message_id, :conversation_id, :in_reply_to,
		:subject, :sender, :sender_address, :recipients, :cc,
		:received_at, :flags, :body, :html_body, :size
	)`

func (s *Store) message(ctx context.Context, ref string) (*messageRow, error) {
	if ref == "" {
		return nil, apperr.InvalidArgument("message: %v", errEmptyRef)
	}
	var r messageRow
	err := s.db.GetContext(ctx, &r, "SELECT * FROM messages WHERE id = ?", ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("message %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("loading message %s: %w", ref, err)
	}
	return &r, nil
}

func (s *Store) messageDetail(ctx context.Context, ref string) (*model.Detail, error) {
	r, err := s.message(ctx, ref)
	if err != nil {
		return nil, err
	}
	d := &model.Detail{
		Item:      r.item(),
		Body:      r.Body,
		HTMLBody:  r.HTMLBody,
		Cc:        r.Cc,
		InReplyTo: r.InReplyTo,
	}
	if r.InReplyTo != "" {
		d.References = []string{r.InReplyTo}
	}
	atts, err := s.attachments(ctx, ref)
	if err != nil {
		return nil, err
	}
	for _, a := range atts {
		d.Attachments = append(d.Attachments, a.meta())
	}
	return d, nil
}

func (s *Store) mutateMessage(ctx context.Context, ref string, m model.Mutation) (string, error) {
	if m.Kind == model.MutationCreate {
		return s.createMessage(ctx, m)
	}
	r, err := s.message(ctx, ref)
	if err != nil {
		return "", err
	}

	switch m.Kind {
	case model.MutationReply:
		return s.reply(ctx, r, m)
	case model.MutationForward:
		return s.forward(ctx, r, m)
	case model.MutationMove:
		if strings.TrimSpace(m.Folder) == "" {
			return "", apperr.InvalidArgument("move needs a target folder")
		}
		return s.moveMessage(ctx, r, m.Folder)
	case model.MutationArchive:
		return s.moveMessage(ctx, r, s.opts.ArchiveFolder)
	case model.MutationDelete:
		if r.Folder != s.opts.TrashFolder {
			return s.moveMessage(ctx, r, s.opts.TrashFolder)
		}
		res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", r.ID)
		if err != nil {
			return "", fmt.Errorf("deleting message %s: %w", r.ID, err)
		}
		if err := affected(res, "message", r.ID); err != nil {
			return "", err
		}
		return fmt.Sprintf("deleted %q permanently", r.Subject), nil
	case model.MutationMarkRead:
		return s.setFlag(ctx, r, model.FlagSeen, true)
	case model.MutationMarkUnread:
		return s.setFlag(ctx, r, model.FlagSeen, false)
	case model.MutationFlag:
		return s.setFlag(ctx, r, model.FlagFlagged, true)
	case model.MutationUnflag:
		return s.setFlag(ctx, r, model.FlagFlagged, false)
	}
	return "", apperr.Unsupported("%s on messages", m.Kind)
}

func (s *Store) reply(ctx context.Context, orig *messageRow, m model.Mutation) (string, error) {
	to := []string{orig.SenderAddress}
	if m.ReplyAll {
		self := model.NormalizeAddress(s.opts.Self)
		for _, a := range slices.Concat([]string(orig.Recipients), []string(orig.Cc)) {
			if a = model.NormalizeAddress(a); a != "" && a != self && !slices.Contains(to, a) {
				to = append(to, a)
			}
		}
	}
	out := s.outgoing(prefixed("Re: ", orig.Subject), to, m.Body)
	out.ConversationID = conversationOf(orig)
	out.InReplyTo = orig.MessageID

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, insertMessage, out); err != nil {
		return "", fmt.Errorf("storing reply: %w", err)
	}
	flags := withFlag(orig.Flags, model.FlagAnswered, true)
	if _, err := tx.ExecContext(ctx, "UPDATE messages SET flags = ? WHERE id = ?", flags, orig.ID); err != nil {
		return "", fmt.Errorf("flagging %s answered: %w", orig.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return fmt.Sprintf("replied to %s", strings.Join(to, ", ")), nil
}

func (s *Store) forward(ctx context.Context, orig *messageRow, m model.Mutation) (string, error) {
	if len(m.To) == 0 {
		return "", apperr.InvalidArgument("forward needs at least one recipient")
	}
	body := m.Body + "\n\n---------- Forwarded message ----------\n" +
		"From: " + orig.Sender + "\nSubject: " + orig.Subject + "\n\n" + orig.Body
	out := s.outgoing(prefixed("Fwd: ", orig.Subject), m.To, body)
	out.ConversationID = conversationOf(orig)

	if _, err := s.db.NamedExecContext(ctx, insertMessage, out); err != nil {
		return "", fmt.Errorf("storing forward: %w", err)
	}
	return fmt.Sprintf("forwarded to %s", strings.Join(m.To, ", ")), nil
}

func (s *Store) createMessage(ctx context.Context, m model.Mutation) (string, error) {
	if len(m.To) == 0 {
		return "", apperr.InvalidArgument("a new message needs at least one recipient")
	}
	out := s.outgoing(m.Subject, m.To, m.Body)
	if _, err := s.db.NamedExecContext(ctx, insertMessage, out); err != nil {
		return "", fmt.Errorf("storing message: %w", err)
	}
	return fmt.Sprintf("sent %q to %s", m.Subject, strings.Join(m.To, ", ")), nil
}

// outgoing builds a Sent row from the configured user.
func (s *Store) outgoing(subject string, to []string, body string) *messageRow {
	id := uuid.NewString()
	msgID := "<" + id + "@mailbridge.local>"
	return &messageRow{
		ID:             id,
		Folder:         s.opts.SentFolder,
		MessageID:      msgID,
		ConversationID: strings.Trim(msgID, "<>"),
		Subject:        subject,
		Sender:         s.opts.Self,
		SenderAddress:  model.NormalizeAddress(s.opts.Self),
		Recipients:     to,
		ReceivedAt:     unix(s.opts.Now()),
		Flags:          jsonList{model.FlagSeen},
		Body:           body,
		Size:           int64(len(body)),
	}
}

func (s *Store) moveMessage(ctx context.Context, r *messageRow, folder string) (string, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET folder = ? WHERE id = ?", folder, r.ID)
	if err != nil {
		return "", fmt.Errorf("moving %s to %s: %w", r.ID, folder, err)
	}
	if err := affected(res, "message", r.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("moved %q to %s", r.Subject, folder), nil
}

func (s *Store) setFlag(ctx context.Context, r *messageRow, flag string, on bool) (string, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET flags = ? WHERE id = ?", withFlag(r.Flags, flag, on), r.ID)
	if err != nil {
		return "", fmt.Errorf("updating flags of %s: %w", r.ID, err)
	}
	if err := affected(res, "message", r.ID); err != nil {
		return "", err
	}
	verb := "set"
	if !on {
		verb = "cleared"
	}
	return fmt.Sprintf("%s %s on %q", verb, flag, r.Subject), nil
}

func withFlag(flags jsonList, flag string, on bool) jsonList {
	out := slices.DeleteFunc(slices.Clone(flags), func(f string) bool { return strings.EqualFold(f, flag) })
	if on {
		out = append(out, flag)
	}
	if out == nil {
		out = jsonList{}
	}
	return out
}

func conversationOf(r *messageRow) string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return strings.Trim(r.MessageID, "<>")
}

func prefixed(prefix, subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), strings.ToLower(prefix)) {
		return subject
	}
	return prefix + subject
}
