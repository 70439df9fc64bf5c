package recurrence

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/greeddj/mailbridge-go/internal/model"
)

// refSeparator joins a series ref and an occurrence's original start.
const refSeparator = "@"

// Occurrence is one concrete instance of a series.
type Occurrence struct {
	Ref      string    // Series ref for single events, OccurrenceRef otherwise.
	Original time.Time // Pattern start before any exception.
	Start    time.Time
	End      time.Time
	Subject  string
	Moved    bool
}

// Expansion is the result of expanding one series over a window.
type Expansion struct {
	Occurrences []Occurrence
	Partial     bool // The per-series cap cut the expansion short.
}

// OccurrenceRef builds the stable ref of the occurrence originally starting at original.
func OccurrenceRef(seriesRef string, original time.Time) string {
	return seriesRef + refSeparator + original.UTC().Format(time.RFC3339)
}

// SplitRef splits an occurrence ref. ok is false for plain series refs.
func SplitRef(ref string) (seriesRef string, original time.Time, ok bool) {
	i := strings.LastIndex(ref, refSeparator)
	if i < 0 {
		return ref, time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, ref[i+1:])
	if err != nil {
		return ref, time.Time{}, false
	}
	return ref[:i], t, true
}

// Expand lists the occurrences of s that start inside w, in start order, honoring
// cancelled and moved exceptions. A moved occurrence counts by its new start. At
// most limit occurrences are returned; when more exist the expansion is marked
// Partial. A limit of 0 or less means no cap.
func Expand(s model.Series, w model.Window, limit int) (Expansion, error) {
	return expand(s, w, limit, func(start, _ time.Time) bool { return w.Contains(start) })
}

// ExpandOverlapping is Expand for occurrences that intersect w at all, including
// ones that started before it. Free/busy uses it; listings use Expand.
func ExpandOverlapping(s model.Series, w model.Window, limit int) (Expansion, error) {
	return expand(s, w, limit, func(start, end time.Time) bool {
		return w.Overlaps(start, end) || (start.Equal(end) && w.Contains(start))
	})
}

func expand(s model.Series, w model.Window, limit int, keep func(start, end time.Time) bool) (Expansion, error) {
	if !w.Valid() {
		return Expansion{}, fmt.Errorf("invalid window %s", w)
	}
	dur := s.Duration()
	if dur < 0 {
		return Expansion{}, fmt.Errorf("series %s ends before it starts", s.Ref)
	}

	if !s.Recurring() {
		var exp Expansion
		if keep(s.Start, s.End) {
			exp.Occurrences = []Occurrence{{Ref: s.Ref, Original: s.Start, Start: s.Start, End: s.End, Subject: s.Subject}}
		}
		return exp, nil
	}

	rule, err := Parse(s.Rule)
	if err != nil {
		return Expansion{}, fmt.Errorf("series %s: %w", s.Ref, err)
	}

	exceptions := make(map[int64]model.Exception, len(s.Exceptions))
	// A moved exception can pull an occurrence from outside the window into it, so the
	// pattern is walked until the latest such original as well.
	scanEnd := w.End
	for _, ex := range s.Exceptions {
		exceptions[ex.Original.UnixNano()] = ex
		if ex.Moved() && !ex.Original.Before(scanEnd) && keep(ex.Start, exEnd(ex, dur)) {
			scanEnd = ex.Original.Add(time.Nanosecond)
		}
	}

	var exp Expansion
	for start := range rule.Starts(s.Start, scanEnd) {
		if !start.Before(scanEnd) {
			break
		}
		occ := Occurrence{
			Ref:      OccurrenceRef(s.Ref, start),
			Original: start,
			Start:    start,
			End:      start.Add(dur),
			Subject:  s.Subject,
		}
		if ex, ok := exceptions[start.UnixNano()]; ok {
			if ex.Cancelled {
				continue
			}
			if ex.Moved() {
				occ.Start, occ.End, occ.Moved = ex.Start, exEnd(ex, dur), true
			}
			if ex.Subject != "" {
				occ.Subject = ex.Subject
			}
		}
		if !keep(occ.Start, occ.End) {
			continue
		}
		if limit > 0 && len(exp.Occurrences) >= limit {
			exp.Partial = true
			break
		}
		exp.Occurrences = append(exp.Occurrences, occ)
	}

	slices.SortStableFunc(exp.Occurrences, func(a, b Occurrence) int { return a.Start.Compare(b.Start) })
	return exp, nil
}

func exEnd(ex model.Exception, dur time.Duration) time.Time {
	if !ex.End.IsZero() {
		return ex.End
	}
	return ex.Start.Add(dur)
}

// Item converts the occurrence into a listing item of series s.
func (o Occurrence) Item(s model.Series) model.Item {
	return model.Item{
		Ref:        o.Ref,
		Kind:       model.KindEvent,
		Collection: s.Calendar,
		Subject:    o.Subject,
		From:       s.Organizer,
		To:         slices.Clone(s.Attendees),
		Timestamp:  o.Start,
		End:        o.End,
		Location:   s.Location,
		Recurring:  s.Recurring(),
	}
}
