package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/service"
)

// defaultSearchDays is the free-time search span when --to is unset.
const defaultSearchDays = 5

func (s *Session) freeBusyCommand() *cli.Command {
	return &cli.Command{
		Name:  "freebusy",
		Usage: "find meeting slots free for every attendee",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "attendee", Aliases: []string{"a"}, Usage: "attendee address (repeatable, or comma separated)", Required: true},
			&cli.StringFlag{Name: "from", Usage: "search start (default: now)"},
			&cli.StringFlag{Name: "to", Usage: "search end (default: five days after start)"},
			&cli.DurationFlag{Name: "duration", Value: 30 * time.Minute, Usage: "meeting length"},
			&cli.StringFlag{Name: "work-start", Usage: "working day start, HH:MM"},
			&cli.StringFlag{Name: "work-end", Usage: "working day end, HH:MM"},
			&cli.IntFlag{Name: "max", Aliases: []string{"n"}, Usage: "maximum number of slots"},
		},
		Action: s.freeBusy,
	}
}

func (s *Session) freeBusy(cCtx *cli.Context) error {
	svc, release, err := s.service(cCtx)
	if err != nil {
		return err
	}
	defer release()

	w, err := s.searchWindow(cCtx)
	if err != nil {
		return err
	}

	s.spin.Start("Reading schedules...")
	res, err := svc.FreeBusy(cCtx.Context, cCtx.StringSlice("attendee"), w, cCtx.Duration("duration"), service.FreeBusyOptions{
		WorkStart:  cCtx.String("work-start"),
		WorkEnd:    cCtx.String("work-end"),
		MaxResults: cCtx.Int("max"),
	})
	s.spin.Stop()
	if err != nil {
		return err
	}

	for _, f := range res.Failures {
		s.warnf("%s left out: %v", f.Attendee, f.Err)
	}
	if len(res.Slots) == 0 {
		fmt.Fprintf(s.Out, "No free slot of %s for %s.\n", cCtx.Duration("duration"), strings.Join(res.Participants, ", "))
		return nil
	}

	loc := res.Hours.Location
	if loc == nil {
		loc = s.location()
	}
	t := newTable(s.Out)
	t.SetTitle("Free for " + strings.Join(res.Participants, ", "))
	t.AppendHeader(table.Row{"#", "Day", "Start", "End", "Length"})
	for i, slot := range res.Slots {
		start, end := slot.Start.In(loc), slot.End.In(loc)
		t.AppendRow(table.Row{i + 1, start.Format("Mon 2006-01-02"), start.Format("15:04"), end.Format("15:04"), slot.End.Sub(slot.Start).String()})
	}
	t.Render()
	return nil
}

func (s *Session) availabilityCommand() *cli.Command {
	return &cli.Command{
		Name:  "availability",
		Usage: "show one attendee's busy and free periods",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "attendee", Aliases: []string{"a"}, Usage: "attendee address", Required: true},
			&cli.StringFlag{Name: "from", Usage: "period start (default: now)"},
			&cli.StringFlag{Name: "to", Usage: "period end (default: five days after start)"},
		},
		Action: s.availability,
	}
}

func (s *Session) availability(cCtx *cli.Context) error {
	svc, release, err := s.service(cCtx)
	if err != nil {
		return err
	}
	defer release()

	w, err := s.searchWindow(cCtx)
	if err != nil {
		return err
	}

	runs, err := svc.Availability(cCtx.Context, cCtx.String("attendee"), w)
	if err != nil {
		return err
	}

	loc := s.location()
	t := newTable(s.Out)
	t.SetTitle(model.NormalizeAddress(cCtx.String("attendee")))
	t.AppendHeader(table.Row{"From", "To", "Status"})
	for _, r := range runs {
		t.AppendRow(table.Row{formatTime(r.Start, loc), formatTime(r.End, loc), r.Status})
	}
	t.Render()
	return nil
}

// searchWindow reads --from and --to.
func (s *Session) searchWindow(cCtx *cli.Context) (model.Window, error) {
	start, err := s.timeFlag(cCtx, "from", s.Now())
	if err != nil {
		return model.Window{}, err
	}
	end, err := s.timeFlag(cCtx, "to", start.AddDate(0, 0, defaultSearchDays))
	if err != nil {
		return model.Window{}, err
	}
	return model.Window{Start: start, End: end}, nil
}
