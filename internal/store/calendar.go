package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/recurrence"
)

type seriesRow struct {
	ID        string   `db:"id"`
	Calendar  string   `db:"calendar"`
	Subject   string   `db:"subject"`
	Organizer string   `db:"organizer"`
	Location  string   `db:"location"`
	Attendees jsonList `db:"attendees"`
	StartAt   int64    `db:"start_at"`
	EndAt     int64    `db:"end_at"`
	Rule      string   `db:"rule"`
	ShowAs    int      `db:"show_as"`
	Body      string   `db:"body"`
}

type exceptionRow struct {
	SeriesID   string `db:"series_id"`
	OriginalAt int64  `db:"original_at"`
	Cancelled  bool   `db:"cancelled"`
	StartAt    int64  `db:"start_at"`
	EndAt      int64  `db:"end_at"`
	Subject    string `db:"subject"`
}

func (r *seriesRow) series(exceptions []exceptionRow) model.Series {
	s := model.Series{
		Ref:       r.ID,
		Calendar:  r.Calendar,
		Subject:   r.Subject,
		Organizer: r.Organizer,
		Location:  r.Location,
		Attendees: r.Attendees,
		Start:     fromUnix(r.StartAt),
		End:       fromUnix(r.EndAt),
		Rule:      r.Rule,
		ShowAs:    model.BusyStatus(r.ShowAs),
		Body:      r.Body,
	}
	for _, e := range exceptions {
		s.Exceptions = append(s.Exceptions, model.Exception{
			Original:  fromUnix(e.OriginalAt),
			Cancelled: e.Cancelled,
			Start:     fromUnix(e.StartAt),
			End:       fromUnix(e.EndAt),
			Subject:   e.Subject,
		})
	}
	return s
}

const (
	insertSeries = `
		INSERT INTO series (id, calendar, subject, organizer, location, attendees, start_at, end_at, rule, show_as, body)
		VALUES (:id, :calendar, :subject, :organizer, :location, :attendees, :start_at, :end_at, :rule, :show_as, :body)`
	insertException = `
		INSERT OR REPLACE INTO exceptions (series_id, original_at, cancelled, start_at, end_at, subject)
		VALUES (:series_id, :original_at, :cancelled, :start_at, :end_at, :subject)`

	// seriesInWindow keeps single events overlapping [?, ?) and recurring series
	// starting before the window end.
	seriesInWindow = `(
		(rule = '' AND start_at < :end AND (end_at > :start OR start_at >= :start))
		OR (rule <> '' AND start_at < :end)
	)`
)

// ListSeries implements provider.SeriesLister. An empty calendar means every calendar.
func (s *Store) ListSeries(ctx context.Context, calendar string, w model.Window) (iter.Seq2[model.Series, error], error) {
	series, err := s.loadSeries(ctx, calendar, w)
	if err != nil {
		return nil, err
	}
	return func(yield func(model.Series, error) bool) {
		for _, sr := range series {
			if !yield(sr, nil) {
				return
			}
		}
	}, nil
}

// loadSeries reads the series that can have occurrences in w, with their exceptions.
func (s *Store) loadSeries(ctx context.Context, calendar string, w model.Window) ([]model.Series, error) {
	q := "SELECT * FROM series WHERE " + seriesInWindow
	args := map[string]any{"start": unix(w.Start), "end": unix(w.End)}
	if calendar != "" {
		q += " AND calendar = :calendar"
		args["calendar"] = calendar
	}
	q += " ORDER BY start_at, id"

	named, namedArgs, err := sqlx.Named(q, args)
	if err != nil {
		return nil, fmt.Errorf("building series query: %w", err)
	}
	var rows []seriesRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(named), namedArgs...); err != nil {
		return nil, fmt.Errorf("listing series: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	exceptions, err := s.exceptions(ctx, ids...)
	if err != nil {
		return nil, err
	}

	out := make([]model.Series, len(rows))
	for i := range rows {
		out[i] = rows[i].series(exceptions[rows[i].ID])
	}
	return out, nil
}

func (s *Store) exceptions(ctx context.Context, ids ...string) (map[string][]exceptionRow, error) {
	q, args, err := sqlx.In("SELECT * FROM exceptions WHERE series_id IN (?) ORDER BY original_at", ids)
	if err != nil {
		return nil, fmt.Errorf("building exceptions query: %w", err)
	}
	var rows []exceptionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("listing exceptions: %w", err)
	}
	out := make(map[string][]exceptionRow, len(ids))
	for _, r := range rows {
		out[r.SeriesID] = append(out[r.SeriesID], r)
	}
	return out, nil
}

// seriesByRef loads one series with its exceptions.
func (s *Store) seriesByRef(ctx context.Context, ref string) (model.Series, error) {
	var r seriesRow
	err := s.db.GetContext(ctx, &r, "SELECT * FROM series WHERE id = ?", ref)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Series{}, apperr.NotFound("event %s", ref)
	}
	if err != nil {
		return model.Series{}, fmt.Errorf("loading event %s: %w", ref, err)
	}
	ex, err := s.exceptions(ctx, ref)
	if err != nil {
		return model.Series{}, err
	}
	return r.series(ex[ref]), nil
}

// occurrence resolves a series or occurrence ref to the series and the concrete
// occurrence it names.
func (s *Store) occurrence(ctx context.Context, ref string) (model.Series, recurrence.Occurrence, error) {
	seriesRef, original, isOccurrence := recurrence.SplitRef(ref)
	sr, err := s.seriesByRef(ctx, seriesRef)
	if err != nil {
		return model.Series{}, recurrence.Occurrence{}, err
	}
	if !isOccurrence {
		return sr, recurrence.Occurrence{Ref: sr.Ref, Original: sr.Start, Start: sr.Start, End: sr.End, Subject: sr.Subject}, nil
	}

	// Any window containing the original start finds the occurrence, moved or not.
	w := model.Window{Start: original, End: original.Add(time.Second)}
	for _, ex := range sr.Exceptions {
		if ex.Original.Equal(original) && ex.Moved() {
			if ex.Start.Before(w.Start) {
				w.Start = ex.Start
			}
			if end := ex.Start.Add(time.Second); end.After(w.End) {
				w.End = end
			}
		}
	}
	exp, err := recurrence.Expand(sr, w, 0)
	if err != nil {
		return model.Series{}, recurrence.Occurrence{}, fmt.Errorf("expanding %s: %w", seriesRef, err)
	}
	for _, o := range exp.Occurrences {
		if o.Original.Equal(original) {
			return sr, o, nil
		}
	}
	return model.Series{}, recurrence.Occurrence{}, apperr.NotFound("occurrence %s", ref)
}

func (s *Store) eventDetail(ctx context.Context, ref string) (*model.Detail, error) {
	sr, occ, err := s.occurrence(ctx, ref)
	if err != nil {
		return nil, err
	}
	it := occ.Item(sr)
	it.FromAddress = model.NormalizeAddress(sr.Organizer)
	return &model.Detail{Item: it, Body: sr.Body}, nil
}

func (s *Store) mutateEvent(ctx context.Context, ref string, m model.Mutation) (string, error) {
	if m.Kind == model.MutationCreate {
		return s.createEvent(ctx, m)
	}
	sr, occ, err := s.occurrence(ctx, ref)
	if err != nil {
		return "", err
	}

	// A single occurrence of a recurring series is cancelled through an exception;
	// anything else removes the whole series.
	if occ.Ref != sr.Ref {
		_, err := s.db.NamedExecContext(ctx, insertException, exceptionRow{
			SeriesID:   sr.Ref,
			OriginalAt: unix(occ.Original),
			Cancelled:  true,
		})
		if err != nil {
			return "", fmt.Errorf("cancelling occurrence %s: %w", ref, err)
		}
		return fmt.Sprintf("cancelled %q on %s", occ.Subject, occ.Start.Format(time.DateTime)), nil
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM series WHERE id = ?", sr.Ref)
	if err != nil {
		return "", fmt.Errorf("deleting event %s: %w", sr.Ref, err)
	}
	if err := affected(res, "event", sr.Ref); err != nil {
		return "", err
	}
	if sr.Recurring() {
		return fmt.Sprintf("removed recurring event %q", sr.Subject), nil
	}
	return fmt.Sprintf("removed event %q", sr.Subject), nil
}

func (s *Store) createEvent(ctx context.Context, m model.Mutation) (string, error) {
	if strings.TrimSpace(m.Subject) == "" {
		return "", apperr.InvalidArgument("an event needs a subject")
	}
	if m.Start.IsZero() || !m.End.After(m.Start) {
		return "", apperr.InvalidArgument("an event needs a start before its end")
	}
	if m.Rule != "" {
		if _, err := recurrence.Parse(m.Rule); err != nil {
			return "", apperr.InvalidArgument("recurrence: %v", err)
		}
	}
	attendees := make(jsonList, 0, len(m.To))
	for _, a := range m.To {
		attendees = append(attendees, model.NormalizeAddress(a))
	}
	row := seriesRow{
		ID:        uuid.NewString(),
		Calendar:  cmp.Or(m.Calendar, DefaultCalendar),
		Subject:   m.Subject,
		Organizer: s.opts.Self,
		Location:  m.Location,
		Attendees: attendees,
		StartAt:   unix(m.Start),
		EndAt:     unix(m.End),
		Rule:      m.Rule,
		ShowAs:    int(model.StatusBusy),
		Body:      m.Body,
	}
	if _, err := s.db.NamedExecContext(ctx, insertSeries, row); err != nil {
		return "", fmt.Errorf("creating event: %w", err)
	}
	return fmt.Sprintf("created event %q (%s)", m.Subject, row.ID), nil
}

type blockRow struct {
	ID       string `db:"id"`
	Attendee string `db:"attendee"`
	StartAt  int64  `db:"start_at"`
	EndAt    int64  `db:"end_at"`
	Status   int    `db:"status"`
}

const insertBlock = `
	INSERT INTO busy_blocks (id, attendee, start_at, end_at, status)
	VALUES (:id, :attendee, :start_at, :end_at, :status)`

// QueryFreeBusy implements provider.FreeBusyQuerier. Busy time is the union of the
// attendee's event occurrences and explicit busy blocks, widened to interval
// boundaries counted from the window start. Attendees the store has never seen are
// NotFound.
func (s *Store) QueryFreeBusy(ctx context.Context, attendee string, w model.Window, interval time.Duration) ([]model.BusyInterval, error) {
	if !w.Valid() {
		return nil, apperr.InvalidWindow("free/busy window %s", w)
	}
	addr := model.NormalizeAddress(attendee)

	known, err := s.knows(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, apperr.NotFound("attendee %s", attendee)
	}

	var out []model.BusyInterval
	series, err := s.loadSeries(ctx, "", w)
	if err != nil {
		return nil, err
	}
	for _, sr := range series {
		if !sr.Involves(addr) || sr.ShowAs == model.StatusFree {
			continue
		}
		exp, err := recurrence.ExpandOverlapping(sr, w, s.opts.OccurrenceCap)
		if err != nil {
			s.log.Warn("skipping unexpandable series", "series", sr.Ref, "error", err)
			continue
		}
		for _, o := range exp.Occurrences {
			out = append(out, model.BusyInterval{Attendee: attendee, Start: o.Start, End: o.End, Status: sr.ShowAs})
		}
	}

	var blocks []blockRow
	err = s.db.SelectContext(ctx, &blocks,
		"SELECT * FROM busy_blocks WHERE attendee = ? AND start_at < ? AND end_at > ? ORDER BY start_at",
		addr, unix(w.End), unix(w.Start))
	if err != nil {
		return nil, fmt.Errorf("listing busy blocks: %w", err)
	}
	for _, b := range blocks {
		out = append(out, model.BusyInterval{
			Attendee: attendee,
			Start:    fromUnix(b.StartAt),
			End:      fromUnix(b.EndAt),
			Status:   model.BusyStatus(b.Status),
		})
	}

	for i := range out {
		out[i].Start, out[i].End = quantize(out[i].Start, out[i].End, w, interval)
	}
	slices.SortFunc(out, func(a, b model.BusyInterval) int {
		return cmp.Or(a.Start.Compare(b.Start), a.End.Compare(b.End))
	})
	return out, nil
}

// knows reports whether addr organizes, attends or has blocks in the store.
func (s *Store) knows(ctx context.Context, addr string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM busy_blocks WHERE attendee = ?", addr); err != nil {
		return false, fmt.Errorf("looking up %s: %w", addr, err)
	}
	if n > 0 {
		return true, nil
	}

	var people []struct {
		Organizer string   `db:"organizer"`
		Attendees jsonList `db:"attendees"`
	}
	if err := s.db.SelectContext(ctx, &people, "SELECT organizer, attendees FROM series"); err != nil {
		return false, fmt.Errorf("looking up %s: %w", addr, err)
	}
	for _, p := range people {
		if (model.Series{Organizer: p.Organizer, Attendees: p.Attendees}).Involves(addr) {
			return true, nil
		}
	}
	return false, nil
}

// quantize clips [start, end) to w and widens it to interval steps from w.Start.
func quantize(start, end time.Time, w model.Window, interval time.Duration) (time.Time, time.Time) {
	if start.Before(w.Start) {
		start = w.Start
	}
	if end.After(w.End) {
		end = w.End
	}
	if interval <= 0 {
		return start, end
	}
	start = w.Start.Add(start.Sub(w.Start) / interval * interval)
	if rem := end.Sub(w.Start) % interval; rem != 0 {
		end = end.Add(interval - rem)
	}
	if end.After(w.End) {
		end = w.End
	}
	return start, end
}
