package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/greeddj/mailbridge-go/internal/apperr"
	"github.com/greeddj/mailbridge-go/internal/features"
	"github.com/greeddj/mailbridge-go/internal/freebusy"
	"github.com/greeddj/mailbridge-go/internal/model"
)

// freeBusyFanOut bounds concurrent attendee queries. They still run one at a
// time on the lane; the group only overlaps the waiting.
const freeBusyFanOut = 4

// FreeBusyOptions overrides the configured search settings.
type FreeBusyOptions struct {
	WorkStart  string // HH:MM
	WorkEnd    string // HH:MM
	MaxResults int
	Interval   time.Duration // Provider quantization.
}

// AttendeeFailure notes an attendee whose schedule could not be read.
type AttendeeFailure struct {
	Attendee string
	Err      error
}

func (f AttendeeFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Attendee, f.Err)
}

// FreeBusyResult is the outcome of a free-time search.
type FreeBusyResult struct {
	Slots        []freebusy.Slot
	Participants []string // Attendees whose schedules were used.
	Failures     []AttendeeFailure
	Hours        freebusy.WorkingHours
}

// FreeBusy finds common free slots of at least duration. Attendees that cannot be
// read are reported in Failures and left out; when none can be read the error is
// ProviderUnavailable.
func (s *Service) FreeBusy(ctx context.Context, attendees []string, w model.Window, duration time.Duration, opts FreeBusyOptions) (*FreeBusyResult, error) {
	if err := s.allow(features.FindFreeTime); err != nil {
		return nil, err
	}
	attendees = normalizeAttendees(attendees)
	if len(attendees) == 0 {
		return nil, apperr.InvalidArgument("at least one attendee is required")
	}
	if err := s.checkWindow(model.KindEvent, w); err != nil {
		return nil, err
	}
	if duration < time.Minute {
		return nil, apperr.InvalidArgument("meeting duration must be at least one minute, got %s", duration)
	}
	hours, err := s.workingHours(opts)
	if err != nil {
		return nil, err
	}
	interval := cmp.Or(opts.Interval, time.Duration(s.cfg.FreeBusy.IntervalMinutes)*time.Minute)

	log, started := s.begin("freebusy", model.KindEvent)
	intervals := make([][]model.BusyInterval, len(attendees))
	errs := make([]error, len(attendees))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(freeBusyFanOut)
	for i, a := range attendees {
		g.Go(func() error {
			intervals[i], errs[i] = s.gw.FreeBusy(gctx, a, w, interval)
			// Per-attendee failures are notes, not group errors.
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		done(log, started, err)
		return nil, err
	}

	res := &FreeBusyResult{Hours: hours}
	byAttendee := make(map[string][]model.BusyInterval, len(attendees))
	for i, a := range attendees {
		if errs[i] != nil {
			res.Failures = append(res.Failures, AttendeeFailure{Attendee: a, Err: errs[i]})
			continue
		}
		byAttendee[a] = intervals[i]
		res.Participants = append(res.Participants, a)
	}
	if len(res.Participants) == 0 {
		joined := make([]error, 0, len(res.Failures))
		for _, f := range res.Failures {
			joined = append(joined, fmt.Errorf("%s: %w", f.Attendee, f.Err))
		}
		err := apperr.ProviderUnavailable(errors.Join(joined...), "no schedule could be read for %d attendees", len(attendees))
		done(log, started, err)
		return nil, err
	}

	res.Slots, err = freebusy.Merge(byAttendee, duration, w, hours, freebusy.Options{
		TentativeFree:   s.cfg.FreeBusy.TentativeFree,
		OutOfOfficeFree: s.cfg.FreeBusy.OOFFree,
		MaxResults:      cmp.Or(opts.MaxResults, s.cfg.FreeBusy.MaxResults),
	})
	done(log, started, err, "attendees", len(attendees), "failures", len(res.Failures), "slots", len(res.Slots))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Availability returns one attendee's status timeline over w.
func (s *Service) Availability(ctx context.Context, attendee string, w model.Window) ([]freebusy.Run, error) {
	if err := s.allow(features.Availability); err != nil {
		return nil, err
	}
	attendee = model.NormalizeAddress(attendee)
	if attendee == "" {
		return nil, apperr.InvalidArgument("an attendee is required")
	}
	if err := s.checkWindow(model.KindEvent, w); err != nil {
		return nil, err
	}

	log, started := s.begin("availability", model.KindEvent)
	intervals, err := s.gw.FreeBusy(ctx, attendee, w, time.Duration(s.cfg.FreeBusy.IntervalMinutes)*time.Minute)
	done(log, started, err, "intervals", len(intervals))
	if err != nil {
		return nil, err
	}
	return freebusy.Timeline(intervals, w), nil
}

func (s *Service) workingHours(opts FreeBusyOptions) (freebusy.WorkingHours, error) {
	fb := s.cfg.FreeBusy
	fb.WorkStart = cmp.Or(opts.WorkStart, fb.WorkStart)
	fb.WorkEnd = cmp.Or(opts.WorkEnd, fb.WorkEnd)
	hours, err := fb.WorkingHours()
	if err != nil {
		return freebusy.WorkingHours{}, apperr.Wrap(apperr.CodeInvalidArgument, err, "working hours")
	}
	return hours, nil
}

// normalizeAttendees splits comma or semicolon separated entries and drops duplicates.
func normalizeAttendees(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, a := range strings.FieldsFunc(entry, func(r rune) bool { return r == ',' || r == ';' }) {
			if a = model.NormalizeAddress(a); a != "" && !slices.Contains(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}
