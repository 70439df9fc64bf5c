package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/recurrence"
)

// Fixture is the YAML document accepted by Import.
type Fixture struct {
	Messages []FixtureMessage `yaml:"messages"`
	Events   []FixtureEvent   `yaml:"events"`
	Tasks    []FixtureTask    `yaml:"tasks"`
	Busy     []FixtureBlock   `yaml:"busy"`
}

// FixtureMessage is one mailbox message.
type FixtureMessage struct {
	ID             string              `yaml:"id"`
	Folder         string              `yaml:"folder"`
	MessageID      string              `yaml:"message_id"`
	ConversationID string              `yaml:"conversation_id"`
	InReplyTo      string              `yaml:"in_reply_to"`
	Subject        string              `yaml:"subject"`
	From           string              `yaml:"from"`
	To             []string            `yaml:"to"`
	Cc             []string            `yaml:"cc"`
	Received       time.Time           `yaml:"received"`
	Flags          []string            `yaml:"flags"`
	Body           string              `yaml:"body"`
	HTMLBody       string              `yaml:"html_body"`
	Attachments    []FixtureAttachment `yaml:"attachments"`
}

// FixtureAttachment is a file attached to a message. Content is stored as given.
type FixtureAttachment struct {
	Name        string `yaml:"name"`
	ContentType string `yaml:"content_type"`
	Content     string `yaml:"content"`
}

// FixtureEvent is a single or recurring event. ShowAs defaults to busy.
type FixtureEvent struct {
	Ref        string            `yaml:"ref"`
	Calendar   string            `yaml:"calendar"`
	Subject    string            `yaml:"subject"`
	Organizer  string            `yaml:"organizer"`
	Location   string            `yaml:"location"`
	Attendees  []string          `yaml:"attendees"`
	Start      time.Time         `yaml:"start"`
	End        time.Time         `yaml:"end"`
	Rule       string            `yaml:"rule"`
	Exceptions []model.Exception `yaml:"exceptions"`
	ShowAs     *model.BusyStatus `yaml:"show_as"`
	Body       string            `yaml:"body"`
}

// FixtureTask is one task.
type FixtureTask struct {
	ID        string    `yaml:"id"`
	List      string    `yaml:"list"`
	Title     string    `yaml:"title"`
	Body      string    `yaml:"body"`
	Due       time.Time `yaml:"due"`
	Completed bool      `yaml:"completed"`
	Created   time.Time `yaml:"created"`
}

// FixtureBlock is an explicit busy block. Status defaults to busy.
type FixtureBlock struct {
	Attendee string            `yaml:"attendee"`
	Start    time.Time         `yaml:"start"`
	End      time.Time         `yaml:"end"`
	Status   *model.BusyStatus `yaml:"status"`
}

// ImportStats counts imported rows.
type ImportStats struct {
	Messages int
	Events   int
	Tasks    int
	Blocks   int
}

func (st ImportStats) String() string {
	return fmt.Sprintf("%d messages, %d events, %d tasks, %d busy blocks", st.Messages, st.Events, st.Tasks, st.Blocks)
}

// Import loads a YAML fixture in one transaction. Rows without ids get fresh ones;
// rows with existing ids are replaced.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return ImportStats{}, fmt.Errorf("parsing fixture: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ImportStats{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var stats ImportStats
	for i, m := range fx.Messages {
		if m.Received.IsZero() {
			return ImportStats{}, fmt.Errorf("message %d (%q): received time is required", i, m.Subject)
		}
		msgID := m.MessageID
		if msgID == "" {
			msgID = "<" + uuid.NewString() + "@mailbridge.local>"
		}
		row := messageRow{
			ID:             cmp.Or(m.ID, uuid.NewString()),
			Folder:         cmp.Or(m.Folder, "INBOX"),
			MessageID:      msgID,
			ConversationID: m.ConversationID,
			InReplyTo:      m.InReplyTo,
			Subject:        m.Subject,
			Sender:         m.From,
			SenderAddress:  model.NormalizeAddress(m.From),
			Recipients:     normalized(m.To),
			Cc:             normalized(m.Cc),
			ReceivedAt:     unix(m.Received),
			Flags:          jsonList(m.Flags),
			Body:           m.Body,
			HTMLBody:       m.HTMLBody,
			Size:           int64(len(m.Body) + len(m.HTMLBody)),
		}
		if _, err := tx.NamedExecContext(ctx, strings.Replace(insertMessage, "INSERT", "INSERT OR REPLACE", 1), row); err != nil {
			return ImportStats{}, fmt.Errorf("importing message %d: %w", i, err)
		}
		if err := replaceAttachments(ctx, tx, row.ID, m.Attachments); err != nil {
			return ImportStats{}, fmt.Errorf("importing message %d: %w", i, err)
		}
		stats.Messages++
	}

	for i, sr := range fx.Events {
		if sr.Start.IsZero() || sr.End.Before(sr.Start) {
			return ImportStats{}, fmt.Errorf("event %d (%q): needs a start not after its end", i, sr.Subject)
		}
		if strings.TrimSpace(sr.Rule) != "" {
			if _, err := recurrence.Parse(sr.Rule); err != nil {
				return ImportStats{}, fmt.Errorf("event %d (%q): %w", i, sr.Subject, err)
			}
		}
		row := seriesRow{
			ID:        cmp.Or(sr.Ref, uuid.NewString()),
			Calendar:  cmp.Or(sr.Calendar, DefaultCalendar),
			Subject:   sr.Subject,
			Organizer: sr.Organizer,
			Location:  sr.Location,
			Attendees: normalized(sr.Attendees),
			StartAt:   unix(sr.Start),
			EndAt:     unix(sr.End),
			Rule:      sr.Rule,
			ShowAs:    int(model.StatusBusy),
			Body:      sr.Body,
		}
		if sr.ShowAs != nil {
			row.ShowAs = int(*sr.ShowAs)
		}
		if _, err := tx.NamedExecContext(ctx, strings.Replace(insertSeries, "INSERT", "INSERT OR REPLACE", 1), row); err != nil {
			return ImportStats{}, fmt.Errorf("importing event %d: %w", i, err)
		}
		for _, ex := range sr.Exceptions {
			_, err := tx.NamedExecContext(ctx, insertException, exceptionRow{
				SeriesID:   row.ID,
				OriginalAt: unix(ex.Original),
				Cancelled:  ex.Cancelled,
				StartAt:    unix(ex.Start),
				EndAt:      unix(ex.End),
				Subject:    ex.Subject,
			})
			if err != nil {
				return ImportStats{}, fmt.Errorf("importing exception of event %d: %w", i, err)
			}
		}
		stats.Events++
	}

	now := s.opts.Now()
	for i, t := range fx.Tasks {
		if strings.TrimSpace(t.Title) == "" {
			return ImportStats{}, fmt.Errorf("task %d: title is required", i)
		}
		row := taskRow{
			ID:        cmp.Or(t.ID, uuid.NewString()),
			List:      cmp.Or(t.List, DefaultTaskList),
			Title:     t.Title,
			Body:      t.Body,
			DueAt:     unix(t.Due),
			Completed: t.Completed,
			CreatedAt: unix(cmp.Or(t.Created, now)),
		}
		if t.Completed {
			row.CompletedAt = row.CreatedAt
		}
		if _, err := tx.NamedExecContext(ctx, strings.Replace(insertTask, "INSERT", "INSERT OR REPLACE", 1), row); err != nil {
			return ImportStats{}, fmt.Errorf("importing task %d: %w", i, err)
		}
		stats.Tasks++
	}

	for i, b := range fx.Busy {
		if b.Attendee == "" || !b.End.After(b.Start) {
			return ImportStats{}, fmt.Errorf("busy block %d: needs an attendee and a start before its end", i)
		}
		row := blockRow{
			ID:       uuid.NewString(),
			Attendee: model.NormalizeAddress(b.Attendee),
			StartAt:  unix(b.Start),
			EndAt:    unix(b.End),
			Status:   int(model.StatusBusy),
		}
		if b.Status != nil {
			row.Status = int(*b.Status)
		}
		_, err := tx.NamedExecContext(ctx, insertBlock, row)
		if err != nil {
			return ImportStats{}, fmt.Errorf("importing busy block %d: %w", i, err)
		}
		stats.Blocks++
	}

	if err := tx.Commit(); err != nil {
		return ImportStats{}, fmt.Errorf("committing import: %w", err)
	}
	s.log.Info("fixture imported", "messages", stats.Messages, "events", stats.Events, "tasks", stats.Tasks, "blocks", stats.Blocks)
	return stats, nil
}

func normalized(addrs []string) jsonList {
	out := make(jsonList, 0, len(addrs))
	for _, a := range addrs {
		if a = model.NormalizeAddress(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
