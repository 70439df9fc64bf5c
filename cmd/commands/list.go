package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/greeddj/mailbridge-go/internal/aggregate"
	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/service"
	"github.com/greeddj/mailbridge-go/internal/utils"
)

// listDefaults are the window edges in days when --days and --ahead are unset.
var listDefaults = map[model.Kind][2]int{
	model.KindMessage: {7, 0},
	model.KindEvent:   {0, 7},
	model.KindTask:    {30, 30},
}

func (s *Session) listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list messages, events or tasks and number them",
		Flags: []cli.Flag{
			kindFlag(),
			&cli.StringSliceFlag{Name: "folder", Aliases: []string{"f"}, Usage: "folder, calendar or task list (repeatable)"},
			&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Usage: "days back from now"},
			&cli.IntFlag{Name: "ahead", Aliases: []string{"a"}, Usage: "days ahead of now"},
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "keywords; OR separates alternatives"},
			&cli.BoolFlag{Name: "body", Usage: "match keywords against the body preview too"},
			&cli.IntFlag{Name: "max", Aliases: []string{"n"}, Usage: "maximum number of items"},
			&cli.BoolFlag{Name: "unread", Aliases: []string{"u"}, Usage: "unread messages only"},
		},
		Action: s.list,
	}
}

func (s *Session) list(cCtx *cli.Context) error {
	kind, err := kindOf(cCtx)
	if err != nil {
		return err
	}
	svc, release, err := s.service(cCtx)
	if err != nil {
		return err
	}
	defer release()

	back, ahead := listDefaults[kind][0], listDefaults[kind][1]
	if cCtx.IsSet("days") {
		back = cCtx.Int("days")
	}
	if cCtx.IsSet("ahead") {
		ahead = cCtx.Int("ahead")
	}
	now := s.Now()
	w := model.Window{Start: now.AddDate(0, 0, -back), End: now.AddDate(0, 0, ahead)}
	if kind == model.KindMessage && ahead == 0 {
		w.End = now.Add(time.Minute)
	}

	s.spin.Start(fmt.Sprintf("Listing %s...", kind))
	res, err := svc.List(cCtx.Context, kind, service.ListOptions{
		Collections: cCtx.StringSlice("folder"),
		Window:      w,
		Query:       cCtx.String("search"),
		SearchBody:  cCtx.Bool("body"),
		MaxResults:  cCtx.Int("max"),
		UnreadOnly:  cCtx.Bool("unread"),
	})
	s.spin.Stop()
	if err != nil {
		return err
	}

	s.printItems(kind, res)
	return nil
}

func (s *Session) printItems(kind model.Kind, res *aggregate.Result) {
	for _, f := range res.Failures {
		s.warnf("%s %q skipped: %v", kind, f.Collection, f.Err)
	}
	if len(res.Items) == 0 {
		fmt.Fprintf(s.Out, "No %s items found.\n", kind)
		return
	}

	loc := s.location()
	t := newTable(s.Out)
	switch kind {
	case model.KindMessage:
		t.AppendHeader(table.Row{"#", "", "Received", "From", "Subject", "Folder"})
		for _, e := range res.Items {
			it := e.Snapshot
			mark := ""
			if !it.HasFlag(model.FlagSeen) {
				mark = "●"
			}
			if it.HasFlag(model.FlagFlagged) {
				mark += "⚑"
			}
			t.AppendRow(table.Row{e.Ordinal, mark, formatTime(it.Timestamp, loc), clip(it.From, 30), clip(it.Subject, subjectWidth), it.Collection})
		}
	case model.KindEvent:
		t.AppendHeader(table.Row{"#", "Start", "End", "Subject", "Location", "Calendar"})
		for _, e := range res.Items {
			it := e.Snapshot
			subject := clip(it.Subject, subjectWidth)
			if it.Recurring {
				subject = "↻ " + subject
			}
			t.AppendRow(table.Row{e.Ordinal, formatTime(it.Timestamp, loc), formatTime(it.End, loc), subject, clip(it.Location, 25), it.Collection})
		}
	case model.KindTask:
		t.AppendHeader(table.Row{"#", "Due", "Subject", "Status", "List"})
		for _, e := range res.Items {
			it := e.Snapshot
			status := "open"
			if it.Completed {
				status = "done"
			}
			t.AppendRow(table.Row{e.Ordinal, formatTime(it.Timestamp, loc), clip(it.Subject, subjectWidth), status, it.Collection})
		}
	}

	footer := fmt.Sprintf("%d items from %d collections", len(res.Items), res.CollectionsScanned)
	if res.Truncated {
		footer += ", more available"
	}
	t.AppendFooter(table.Row{"", bold("%s", footer)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignCenter},
	})
	t.Render()
}

func (s *Session) detailCommand() *cli.Command {
	return &cli.Command{
		Name:      "detail",
		Usage:     "show the full content of a listed item",
		ArgsUsage: "<n>",
		Flags:     []cli.Flag{kindFlag()},
		Action:    s.detail,
	}
}

func (s *Session) detail(cCtx *cli.Context) error {
	kind, err := kindOf(cCtx)
	if err != nil {
		return err
	}
	n, err := ordinalArg(cCtx, 0)
	if err != nil {
		return err
	}
	svc, release, err := s.service(cCtx)
	if err != nil {
		return err
	}
	defer release()

	d, err := svc.Detail(cCtx.Context, kind, n)
	if err != nil {
		return err
	}

	loc := s.location()
	rows := []table.Row{{"Subject", d.Subject}}
	switch kind {
	case model.KindMessage:
		rows = append(rows,
			table.Row{"From", d.From},
			table.Row{"To", strings.Join(d.To, ", ")},
		)
		if len(d.Cc) > 0 {
			rows = append(rows, table.Row{"Cc", strings.Join(d.Cc, ", ")})
		}
		rows = append(rows,
			table.Row{"Date", formatTime(d.Timestamp, loc)},
			table.Row{"Folder", d.Collection},
		)
		if len(d.Flags) > 0 {
			rows = append(rows, table.Row{"Flags", strings.Join(d.Flags, " ")})
		}
	case model.KindEvent:
		rows = append(rows,
			table.Row{"Organizer", d.From},
			table.Row{"Start", formatTime(d.Timestamp, loc)},
			table.Row{"End", formatTime(d.End, loc)},
			table.Row{"Location", d.Location},
			table.Row{"Attendees", strings.Join(d.To, ", ")},
			table.Row{"Calendar", d.Collection},
		)
	case model.KindTask:
		status := "open"
		if d.Completed {
			status = "done"
		}
		rows = append(rows,
			table.Row{"Due", formatTime(d.Timestamp, loc)},
			table.Row{"Status", status},
			table.Row{"List", d.Collection},
		)
	}
	renderPairs(s.Out, fmt.Sprintf("%s #%d", kind, n), rows)

	if body := strings.TrimSpace(d.Body); body != "" {
		fmt.Fprintln(s.Out)
		fmt.Fprintln(s.Out, body)
	}
	if len(d.Attachments) > 0 {
		fmt.Fprintln(s.Out)
		t := newTable(s.Out)
		t.AppendHeader(table.Row{"Attachment", "Type", "Size"})
		for _, a := range d.Attachments {
			t.AppendRow(table.Row{a.Name, a.ContentType, utils.FormatSize(a.Size)})
		}
		t.Render()
	}
	return nil
}

func (s *Session) foldersCommand() *cli.Command {
	return &cli.Command{
		Name:   "folders",
		Usage:  "show folders, calendars or task lists",
		Flags: []cli.Flag{
			kindFlag(),
			&cli.BoolFlag{
				Name:  "cached",
				Usage: "use the last snapshot if available (faster, but may be outdated)",
			},
		},
		Action: s.folders,
	}
}

func (s *Session) folders(cCtx *cli.Context) error {
	kind, err := kindOf(cCtx)
	if err != nil {
		return err
	}
	cfg, err := s.config(cCtx)
	if err != nil {
		return err
	}
	snaps, err := s.snapshots(cfg)
	if err != nil {
		return err
	}
	if cCtx.Bool("cached") {
		if infos, updated, ok := snaps.Get(kind); ok {
			fmt.Fprintf(s.Err, "Using snapshot from %s\n", formatTime(updated, s.location()))
			s.printCollections(kind, infos)
			return nil
		}
	}

	svc, release, err := s.service(cCtx)
	if err != nil {
		return err
	}
	defer release()

	s.spin.Start("Fetching collections...")
	infos, err := svc.Collections(cCtx.Context, kind)
	s.spin.Stop()
	if err != nil {
		return err
	}
	snaps.Put(kind, infos)
	if err := snaps.Save(); err != nil {
		s.log.Warn("saving folder snapshot", "error", err)
	}
	s.printCollections(kind, infos)
	return nil
}

func (s *Session) printCollections(kind model.Kind, infos []model.CollectionInfo) {
	if len(infos) == 0 {
		fmt.Fprintf(s.Out, "No %s collections.\n", kind)
		return
	}

	t := newTable(s.Out)
	t.AppendHeader(table.Row{"Name", "Items", "Size"})
	var totalItems uint32
	var totalSize uint64
	for _, info := range infos {
		totalItems += info.Items
		totalSize += info.Size
		t.AppendRow(table.Row{info.Name, info.Items, utils.FormatSize(info.Size)})
	}
	t.AppendFooter(table.Row{
		bold("total %d", len(infos)),
		bold("%d", totalItems),
		bold("%s", utils.FormatSize(totalSize)),
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignCenter},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignCenter},
	})
	t.Render()
}
