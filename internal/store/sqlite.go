// Package store is the embedded SQLite backend: an offline mailbox, calendars,
// task lists and free/busy blocks.
package store

import (
	"cmp"
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/provider"
)

// Default collection names.
const (
	DefaultSentFolder    = "Sent"
	DefaultArchiveFolder = "Archive"
	DefaultTrashFolder   = "Trash"
	DefaultCalendar      = "Calendar"
	DefaultTaskList      = "Tasks"
)

// DefaultOccurrenceCap bounds occurrences expanded per series for free/busy.
const DefaultOccurrenceCap = 500

// Options tunes a Store.
type Options struct {
	Self          string // Sender address used for replies and new messages.
	SentFolder    string
	ArchiveFolder string
	TrashFolder   string
	OccurrenceCap int
	Now           func() time.Time
}

// Store implements provider.Provider on a SQLite database.
type Store struct {
	db   *sqlx.DB
	opts Options
	log  *slog.Logger
}

var _ provider.Provider = (*Store)(nil)

// Open opens (or creates) the database at path, enables WAL and foreign keys,
// and applies pending migrations.
func Open(path string, opts Options, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	opts.SentFolder = cmp.Or(opts.SentFolder, DefaultSentFolder)
	opts.ArchiveFolder = cmp.Or(opts.ArchiveFolder, DefaultArchiveFolder)
	opts.TrashFolder = cmp.Or(opts.TrashFolder, DefaultTrashFolder)
	opts.OccurrenceCap = cmp.Or(opts.OccurrenceCap, DefaultOccurrenceCap)
	if opts.Now == nil {
		opts.Now = time.Now
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, opts: opts, log: log}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func (s *Store) runMigrations() error {
	current := 0

	var tables int
	err := s.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
		s.log.Debug("schema migrated", "version", m.version)
	}
	return nil
}

// Collections implements provider.Lister.
func (s *Store) Collections(ctx context.Context, kind model.Kind) ([]model.CollectionInfo, error) {
	var q string
	switch kind {
	case model.KindMessage:
		q = "SELECT folder AS name, COUNT(*) AS items, COALESCE(SUM(size), 0) AS size FROM messages GROUP BY folder ORDER BY folder"
	case model.KindEvent:
		q = "SELECT calendar AS name, COUNT(*) AS items, 0 AS size FROM series GROUP BY calendar ORDER BY calendar"
	case model.KindTask:
		q = "SELECT list AS name, COUNT(*) AS items, 0 AS size FROM tasks GROUP BY list ORDER BY list"
	default:
		return nil, apperr.InvalidArgument("unknown kind %d", int(kind))
	}

	var rows []struct {
		Name  string `db:"name"`
		Items int64  `db:"items"`
		Size  int64  `db:"size"`
	}
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("listing %s collections: %w", kind, err)
	}
	out := make([]model.CollectionInfo, len(rows))
	for i, r := range rows {
		out[i] = model.CollectionInfo{Name: r.Name, Kind: kind, Items: uint32(r.Items), Size: uint64(r.Size)}
	}
	return out, nil
}

// ListCollection implements provider.Lister. Messages come newest first, tasks by
// due date. Events are served as series through ListSeries.
func (s *Store) ListCollection(ctx context.Context, kind model.Kind, collection string, w model.Window) (iter.Seq2[model.Item, error], error) {
	switch kind {
	case model.KindMessage:
		return rowSeq(ctx, s.db, (*messageRow).item,
			`SELECT * FROM messages WHERE folder = ? AND received_at >= ? AND received_at < ? ORDER BY received_at DESC, id`,
			collection, unix(w.Start), unix(w.End)), nil
	case model.KindTask:
		return rowSeq(ctx, s.db, (*taskRow).item,
			`SELECT * FROM tasks WHERE list = ?
				AND COALESCE(NULLIF(due_at, 0), created_at) >= ? AND COALESCE(NULLIF(due_at, 0), created_at) < ?
				ORDER BY COALESCE(NULLIF(due_at, 0), created_at), id`,
			collection, unix(w.Start), unix(w.End)), nil
	case model.KindEvent:
		return nil, apperr.Unsupported("events are listed through series expansion")
	default:
		return nil, apperr.InvalidArgument("unknown kind %d", int(kind))
	}
}

// FetchItemDetail implements provider.Detailer.
func (s *Store) FetchItemDetail(ctx context.Context, kind model.Kind, ref string) (*model.Detail, error) {
	switch kind {
	case model.KindMessage:
		return s.messageDetail(ctx, ref)
	case model.KindEvent:
		return s.eventDetail(ctx, ref)
	case model.KindTask:
		return s.taskDetail(ctx, ref)
	default:
		return nil, apperr.InvalidArgument("unknown kind %d", int(kind))
	}
}

// SendMutation implements provider.Mutator.
func (s *Store) SendMutation(ctx context.Context, kind model.Kind, ref string, m model.Mutation) (string, error) {
	if !m.Kind.Supports(kind) {
		return "", apperr.Unsupported("%s does not apply to %s items", m.Kind, kind)
	}
	switch kind {
	case model.KindMessage:
		return s.mutateMessage(ctx, ref, m)
	case model.KindEvent:
		return s.mutateEvent(ctx, ref, m)
	default:
		return s.mutateTask(ctx, ref, m)
	}
}

// rowSeq runs query lazily and converts each row of type R.
func rowSeq[R any](ctx context.Context, db *sqlx.DB, conv func(*R) model.Item, query string, args ...any) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		rows, err := db.QueryxContext(ctx, query, args...)
		if err != nil {
			yield(model.Item{}, fmt.Errorf("querying: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var r R
			if err := rows.StructScan(&r); err != nil {
				yield(model.Item{}, fmt.Errorf("scanning row: %w", err))
				return
			}
			if !yield(conv(&r), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Item{}, err)
		}
	}
}

// affected turns a zero-row update into NotFound.
func affected(res interface{ RowsAffected() (int64, error) }, what, ref string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("%s %s", what, ref)
	}
	return nil
}

// unix stores times as Unix seconds; the zero time is 0.
func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

// jsonList is a string slice kept as a JSON array column.
type jsonList []string

// Value implements driver.Valuer.
func (l jsonList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *jsonList) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("jsonList: unsupported source %T", src)
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

var errEmptyRef = errors.New("empty reference")
