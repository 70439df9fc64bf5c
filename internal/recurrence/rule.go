// Package recurrence expands calendar series into concrete occurrences.
package recurrence

import (
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Frequency is the RRULE FREQ value.
type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

// maxPeriods stops a generator that cannot produce anything (e.g. BYMONTHDAY=30 every February).
const maxPeriods = 100000

var weekdays = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var untilLayouts = []string{"20060102T150405Z", "20060102T150405", "20060102", time.RFC3339}

// Rule is the supported RRULE subset.
type Rule struct {
	Frequency  Frequency      // FREQ
	Interval   int            // INTERVAL, at least 1
	Count      int            // COUNT, 0 when unbounded
	Until      time.Time      // UNTIL, zero when unbounded
	ByDay      []time.Weekday // BYDAY for WEEKLY
	ByMonthDay []int          // BYMONTHDAY for MONTHLY; negative counts from the month end
}

// Parse reads an RRULE value such as "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=10".
// A leading "RRULE:" is accepted.
func Parse(s string) (*Rule, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "RRULE:")
	if s == "" {
		return nil, fmt.Errorf("empty recurrence rule")
	}

	rule := &Rule{Interval: 1}
	for part := range strings.SplitSeq(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed rule part %q", part)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.ToUpper(strings.TrimSpace(value))

		var err error
		switch key {
		case "FREQ":
			rule.Frequency = Frequency(value)
		case "INTERVAL":
			rule.Interval, err = positiveInt(key, value)
		case "COUNT":
			rule.Count, err = positiveInt(key, value)
		case "UNTIL":
			rule.Until, err = parseUntil(value)
		case "BYDAY":
			rule.ByDay, err = parseByDay(value)
		case "BYMONTHDAY":
			rule.ByMonthDay, err = parseMonthDays(value)
		case "WKST":
			// Weeks always start on Monday.
		default:
			return nil, fmt.Errorf("unsupported rule part %s", key)
		}
		if err != nil {
			return nil, err
		}
	}

	switch rule.Frequency {
	case Daily, Weekly, Monthly, Yearly:
	case "":
		return nil, fmt.Errorf("missing required FREQ in rule %q", s)
	default:
		return nil, fmt.Errorf("unsupported FREQ %s", rule.Frequency)
	}
	return rule, nil
}

func positiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, value)
	}
	return n, nil
}

func parseUntil(value string) (time.Time, error) {
	for _, layout := range untilLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			if layout == "20060102" {
				t = t.Add(24*time.Hour - time.Nanosecond)
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid UNTIL %q", value)
}

func parseByDay(value string) ([]time.Weekday, error) {
	var days []time.Weekday
	for part := range strings.SplitSeq(value, ",") {
		part = strings.TrimSpace(part)
		// Ordinal prefixes such as "1MO" only make sense for monthly rules; keep the day.
		part = strings.TrimLeft(part, "+-0123456789")
		d, ok := weekdays[part]
		if !ok {
			return nil, fmt.Errorf("invalid BYDAY value %q", value)
		}
		if !slices.Contains(days, d) {
			days = append(days, d)
		}
	}
	slices.SortFunc(days, func(a, b time.Weekday) int { return weekIndex(a) - weekIndex(b) })
	return days, nil
}

func parseMonthDays(value string) ([]int, error) {
	var days []int
	for part := range strings.SplitSeq(value, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n == 0 || n > 31 || n < -31 {
			return nil, fmt.Errorf("invalid BYMONTHDAY value %q", value)
		}
		days = append(days, n)
	}
	return days, nil
}

// weekIndex numbers weekdays from Monday (0) to Sunday (6).
func weekIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Starts yields the pattern's occurrence starts in chronological order, beginning at
// start, honoring COUNT and UNTIL, and stopping once a period begins after limit.
func (r *Rule) Starts(start, limit time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		emitted := 0
		emit := func(t time.Time) bool {
			if t.Before(start) {
				return true
			}
			if !r.Until.IsZero() && t.After(r.Until) {
				return false
			}
			if r.Count > 0 && emitted >= r.Count {
				return false
			}
			emitted++
			return yield(t)
		}

		for k := 0; k < maxPeriods; k++ {
			period := r.period(start, k)
			if period.After(limit) || (!r.Until.IsZero() && period.After(r.Until)) {
				return
			}
			for _, t := range r.expandPeriod(start, period) {
				if !emit(t) {
					return
				}
			}
		}
	}
}

// period returns the first instant of the k-th period.
func (r *Rule) period(start time.Time, k int) time.Time {
	y, m, d := start.Date()
	h, mi, s := start.Clock()
	loc := start.Location()
	n := k * r.Interval

	switch r.Frequency {
	case Weekly:
		monday := d - weekIndex(start.Weekday())
		return time.Date(y, m, monday+7*n, 0, 0, 0, 0, loc)
	case Monthly:
		return time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, loc)
	case Yearly:
		return time.Date(y+n, m, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d+n, h, mi, s, start.Nanosecond(), loc)
	}
}

// expandPeriod lists the candidate starts inside one period.
func (r *Rule) expandPeriod(start, period time.Time) []time.Time {
	h, mi, s := start.Clock()
	ns := start.Nanosecond()
	loc := start.Location()
	y, m, d := period.Date()

	switch r.Frequency {
	case Weekly:
		days := r.ByDay
		if len(days) == 0 {
			days = []time.Weekday{start.Weekday()}
		}
		out := make([]time.Time, 0, len(days))
		for _, wd := range days {
			out = append(out, time.Date(y, m, d+weekIndex(wd), h, mi, s, ns, loc))
		}
		return out
	case Monthly:
		days := r.ByMonthDay
		if len(days) == 0 {
			days = []int{start.Day()}
		}
		n := daysIn(y, m, loc)
		out := make([]time.Time, 0, len(days))
		for _, md := range days {
			if md < 0 {
				md = n + md + 1
			}
			if md < 1 || md > n {
				continue
			}
			out = append(out, time.Date(y, m, md, h, mi, s, ns, loc))
		}
		slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
		return out
	case Yearly:
		if start.Day() > daysIn(y, m, loc) {
			return nil
		}
		return []time.Time{time.Date(y, m, start.Day(), h, mi, s, ns, loc)}
	default:
		return []time.Time{period}
	}
}
