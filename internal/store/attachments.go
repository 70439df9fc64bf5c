package store

import (
	"cmp"
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/greeddj/mailbridge-go/internal/model"
)

type attachmentRow struct {
	MessageID   string `db:"message_id"`
	Position    int    `db:"position"`
	Name        string `db:"name"`
	ContentType string `db:"content_type"`
	Data        []byte `db:"data"`
}

func (r *attachmentRow) meta() model.Attachment {
	return model.Attachment{Name: r.Name, ContentType: r.ContentType, Size: uint64(len(r.Data))}
}

const insertAttachment = `
	INSERT INTO attachments (message_id, position, name, content_type, data)
	VALUES (:message_id, :position, :name, :content_type, :data)`

// FetchAttachments implements provider.AttachmentFetcher.
func (s *Store) FetchAttachments(ctx context.Context, ref string) ([]model.AttachmentContent, error) {
	if _, err := s.message(ctx, ref); err != nil {
		return nil, err
	}
	rows, err := s.attachments(ctx, ref)
	if err != nil {
		return nil, err
	}
	out := make([]model.AttachmentContent, len(rows))
	for i, r := range rows {
		out[i] = model.AttachmentContent{Attachment: r.meta(), Data: r.Data}
	}
	return out, nil
}

func (s *Store) attachments(ctx context.Context, ref string) ([]attachmentRow, error) {
	var rows []attachmentRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM attachments WHERE message_id = ? ORDER BY position", ref); err != nil {
		return nil, fmt.Errorf("loading attachments of %s: %w", ref, err)
	}
	return rows, nil
}

// replaceAttachments swaps the attachments of one message inside tx.
func replaceAttachments(ctx context.Context, tx *sqlx.Tx, messageID string, in []FixtureAttachment) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE message_id = ?", messageID); err != nil {
		return fmt.Errorf("clearing attachments of %s: %w", messageID, err)
	}
	for i, a := range in {
		if a.Name == "" {
			return fmt.Errorf("attachment %d of %s: name is required", i, messageID)
		}
		row := attachmentRow{
			MessageID:   messageID,
			Position:    i,
			Name:        a.Name,
			ContentType: cmp.Or(a.ContentType, "application/octet-stream"),
			Data:        []byte(a.Content),
		}
		if _, err := tx.NamedExecContext(ctx, insertAttachment, row); err != nil {
			return fmt.Errorf("storing attachment %q: %w", a.Name, err)
		}
	}
	return nil
}
