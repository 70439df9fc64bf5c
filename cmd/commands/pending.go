package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/greeddj/mailbridge-go/internal/correlate"
	"github.com/greeddj/mailbridge-go/internal/progress"
	"github.com/greeddj/mailbridge-go/internal/service"
)

func (s *Session) pendingCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "list received messages that still wait for a reply",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Value: 14, Usage: "inbound window in days"},
			&cli.StringSliceFlag{Name: "folder", Aliases: []string{"f"}, Usage: "inbound folder (repeatable)"},
			&cli.IntFlag{Name: "lookback", Usage: "initial reply lookback in days (default: twice --days)"},
			&cli.IntFlag{Name: "max-lookback", Usage: "largest reply lookback in days"},
			&cli.IntFlag{Name: "max", Aliases: []string{"n"}, Usage: "maximum number of results"},
			&cli.BoolFlag{Name: "unread", Aliases: []string{"u"}, Usage: "unread messages only"},
			&cli.BoolFlag{Name: "all", Usage: "include messages that were answered"},
		},
		Action: s.pending,
	}
}

func (s *Session) pending(cCtx *cli.Context) error {
	svc, release, err := s.service(cCtx)
	if err != nil {
		return err
	}
	defer release()

	pw := progress.NewWriter(s.Err, s.quiet)
	tracker := pw.Track("Checking replies", 1)
	s.track(tracker.Set)
	pw.Start()

	res, err := svc.PendingReplies(cCtx.Context, service.PendingOptions{
		Days:            cCtx.Int("days"),
		Folders:         cCtx.StringSlice("folder"),
		MaxResults:      cCtx.Int("max"),
		UnreadOnly:      cCtx.Bool("unread"),
		LookbackDays:    cCtx.Int("lookback"),
		MaxLookbackDays: cCtx.Int("max-lookback"),
		IncludeReplied:  cCtx.Bool("all"),
	})
	s.track(nil)
	if err != nil {
		tracker.Fail()
	} else {
		tracker.Done()
	}
	pw.Stop()
	if err != nil {
		return err
	}

	for _, f := range res.Failures {
		s.warnf("folder %q skipped: %v", f.Collection, f.Err)
	}
	if res.UnknownIdentity {
		s.warnf("no user address configured; your own messages may be listed")
	}
	if len(res.Results) == 0 {
		fmt.Fprintf(s.Out, "Nothing pending among %d messages.\n", res.Scanned)
		return nil
	}

	loc := s.location()
	t := newTable(s.Out)
	t.AppendHeader(table.Row{"#", "Received", "From", "Subject", "Status", "Lookback"})
	degraded := 0
	for _, r := range res.Results {
		status := string(r.Status)
		if r.Status == correlate.StatusReplied {
			status = fmt.Sprintf("replied %s", formatTime(r.MatchedAt, loc))
		}
		if r.Degraded {
			status += " (?)"
			degraded++
		}
		t.AppendRow(table.Row{r.Ordinal, formatTime(r.ReceivedAt, loc), clip(r.From, 30), clip(r.Subject, subjectWidth), status, fmt.Sprintf("%dd", r.EffectiveLookbackDays)})
	}
	footer := fmt.Sprintf("%d of %d messages", len(res.Results), res.Scanned)
	if res.Truncated {
		footer += ", more available"
	}
	t.AppendFooter(table.Row{"", bold("%s", footer)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignCenter},
	})
	t.Render()

	if degraded > 0 {
		s.warnf("%d results marked (?) could not be fully checked", degraded)
	}
	return nil
}
