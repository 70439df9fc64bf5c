// Package freebusy computes common free time from per-attendee busy intervals.
package freebusy

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/model"
)

const (
	// DefaultMaxResults bounds the number of returned slots.
	DefaultMaxResults = 10
	// MaxResultsLimit is the largest accepted MaxResults.
	MaxResultsLimit = 100
	// mergeGap joins free spans separated by less than this.
	mergeGap = time.Minute
)

// WorkingHours limits slots to a daily time-of-day range in Location.
// A zero value applies no daily clipping.
type WorkingHours struct {
	Start        time.Duration  // Offset from local midnight.
	End          time.Duration  // Offset from local midnight, after Start.
	Location     *time.Location // nil means the window's location.
	SkipWeekends bool
}

// DefaultWorkingHours returns 08:00-18:00 in loc.
func DefaultWorkingHours(loc *time.Location) WorkingHours {
	return WorkingHours{Start: 8 * time.Hour, End: 18 * time.Hour, Location: loc}
}

func (h WorkingHours) unbounded() bool {
	return h.Start == 0 && h.End == 0 && !h.SkipWeekends
}

// ParseClock parses "HH:MM" into an offset from midnight. "24:00" is accepted.
func ParseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// Options tunes which statuses block time and how many slots come back.
type Options struct {
	TentativeFree   bool // Treat tentative as free.
	OutOfOfficeFree bool // Treat out-of-office as free.
	MaxResults      int  // 0 means DefaultMaxResults.
}

func (o Options) blocks(s model.BusyStatus) bool {
	switch s {
	case model.StatusFree:
		return false
	case model.StatusTentative:
		return !o.TentativeFree
	case model.StatusOutOfOffice:
		return !o.OutOfOfficeFree
	default:
		return true
	}
}

// Slot is a span where every participant is free.
type Slot struct {
	Start        time.Time
	End          time.Time
	Participants []string
}

// Duration returns the slot length.
func (s Slot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

type span struct {
	start, end time.Time
}

// Merge finds spans of at least minDuration inside w, within working hours, where
// every attendee in byAttendee is free. Results are sorted by start.
func Merge(byAttendee map[string][]model.BusyInterval, minDuration time.Duration, w model.Window, hours WorkingHours, opts Options) ([]Slot, error) {
	if !w.Valid() {
		return nil, apperr.InvalidWindow("free/busy window %s is empty or reversed", w)
	}
	if minDuration <= 0 {
		return nil, apperr.InvalidArgument("meeting duration must be positive, got %s", minDuration)
	}
	if (hours.Start != 0 || hours.End != 0) && hours.End <= hours.Start {
		return nil, apperr.InvalidArgument("working hours end must be after start")
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults > MaxResultsLimit {
		return nil, apperr.InvalidArgument("max results must be between 1 and %d", MaxResultsLimit)
	}

	participants := make([]string, 0, len(byAttendee))
	free := []span{{w.Start, w.End}}
	for attendee, intervals := range byAttendee {
		participants = append(participants, attendee)
		var busy []span
		for _, iv := range intervals {
			if opts.blocks(iv.Status) {
				busy = append(busy, span{iv.Start, iv.End})
			}
		}
		free = intersect(free, complement(busy, w))
	}
	slices.Sort(participants)

	if !hours.unbounded() {
		free = intersect(free, workingSpans(w, hours))
	}
	free = join(free, mergeGap)

	var slots []Slot
	for _, s := range free {
		if s.end.Sub(s.start) < minDuration {
			continue
		}
		slots = append(slots, Slot{Start: s.start, End: s.end, Participants: participants})
		if len(slots) == maxResults {
			break
		}
	}
	return slots, nil
}

// normalize sorts spans and merges overlapping or touching ones.
func normalize(spans []span) []span {
	spans = slices.DeleteFunc(slices.Clone(spans), func(s span) bool { return !s.end.After(s.start) })
	slices.SortFunc(spans, func(a, b span) int { return a.start.Compare(b.start) })
	return join(spans, time.Nanosecond)
}

// join merges sorted spans separated by less than within.
func join(spans []span, within time.Duration) []span {
	var out []span
	for _, s := range spans {
		if n := len(out); n > 0 && s.start.Sub(out[n-1].end) < within {
			if s.end.After(out[n-1].end) {
				out[n-1].end = s.end
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// complement returns the parts of w not covered by busy.
func complement(busy []span, w model.Window) []span {
	var out []span
	cursor := w.Start
	for _, b := range normalize(busy) {
		if !b.end.After(cursor) {
			continue
		}
		if !b.start.Before(w.End) {
			break
		}
		if b.start.After(cursor) {
			out = append(out, span{cursor, b.start})
		}
		cursor = b.end
	}
	if cursor.Before(w.End) {
		out = append(out, span{cursor, w.End})
	}
	return out
}

// intersect returns the overlap of two sorted, disjoint span lists.
func intersect(a, b []span) []span {
	var out []span
	for i, j := 0, 0; i < len(a) && j < len(b); {
		start := later(a[i].start, b[j].start)
		end := earlier(a[i].end, b[j].end)
		if start.Before(end) {
			out = append(out, span{start, end})
		}
		if a[i].end.Before(b[j].end) {
			i++
		} else {
			j++
		}
	}
	return out
}

// workingSpans lists the daily working-hour spans that touch w.
func workingSpans(w model.Window, hours WorkingHours) []span {
	loc := hours.Location
	if loc == nil {
		loc = w.Start.Location()
	}
	first := w.Start.In(loc)
	day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)

	var out []span
	for ; day.Before(w.End); day = day.AddDate(0, 0, 1) {
		if hours.SkipWeekends && (day.Weekday() == time.Saturday || day.Weekday() == time.Sunday) {
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, int(hours.Start/time.Minute), 0, 0, loc)
		end := time.Date(day.Year(), day.Month(), day.Day(), 0, int(hours.End/time.Minute), 0, 0, loc)
		if hours.Start == 0 && hours.End == 0 {
			end = day.AddDate(0, 0, 1)
		}
		out = append(out, span{start, end})
	}
	return out
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
