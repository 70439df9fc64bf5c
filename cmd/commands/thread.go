package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/greeddj/mailbridge-go/internal/service"
	"github.com/greeddj/mailbridge-go/internal/utils"
)

func (s *Session) threadCommand() *cli.Command {
	return &cli.Command{
		Name:      "thread",
		Usage:     "show the conversation around a listed message",
		ArgsUsage: "<n>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "lookback", Aliases: []string{"d"}, Usage: "days before the message to search (default 45)"},
			&cli.IntFlag{Name: "max", Aliases: []string{"n"}, Usage: "maximum number of messages (default 6)"},
		},
		Action: s.thread,
	}
}

func (s *Session) thread(cCtx *cli.Context) error {
	n, err := ordinalArg(cCtx, 0)
	if err != nil {
		return err
	}
	svc, release, err := s.service(cCtx)
	if err != nil {
		return err
	}
	defer release()

	s.spin.Start("Collecting the conversation...")
	res, err := svc.Thread(cCtx.Context, n, service.ThreadOptions{
		LookbackDays: cCtx.Int("lookback"),
		MaxResults:   cCtx.Int("max"),
	})
	s.spin.Stop()
	if err != nil {
		return err
	}

	for _, f := range res.Failures {
		s.warnf("folder %q skipped: %v", f.Collection, f.Err)
	}
	loc := s.location()
	t := newTable(s.Out)
	t.SetTitle(fmt.Sprintf("Conversation of #%d", n))
	t.AppendHeader(table.Row{"", "Date", "From", "To", "Subject", "Folder"})
	for _, it := range res.Items {
		mark := ""
		if it.Ref == res.Focus.Ref {
			mark = "▶"
		}
		to := ""
		if len(it.To) > 0 {
			to = it.To[0]
			if len(it.To) > 1 {
				to += fmt.Sprintf(" +%d", len(it.To)-1)
			}
		}
		t.AppendRow(table.Row{mark, formatTime(it.Timestamp, loc), clip(it.From, 30), clip(to, 30), clip(it.Subject, subjectWidth), it.Collection})
	}
	footer := fmt.Sprintf("%d messages", len(res.Items))
	if res.Truncated {
		footer += ", older ones left out"
	}
	t.AppendFooter(table.Row{"", bold("%s", footer)})
	t.Render()
	return nil
}

func (s *Session) attachmentsCommand() *cli.Command {
	return &cli.Command{
		Name:      "attachments",
		Usage:     "list or save the attachments of a listed message",
		ArgsUsage: "<n>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "save", Usage: "write the files into this directory"},
		},
		Action: s.attachments,
	}
}

func (s *Session) attachments(cCtx *cli.Context) error {
	n, err := ordinalArg(cCtx, 0)
	if err != nil {
		return err
	}
	svc, release, err := s.service(cCtx)
	if err != nil {
		return err
	}
	defer release()

	if dir := cCtx.String("save"); dir != "" {
		saved, err := svc.SaveAttachments(cCtx.Context, n, dir)
		for _, f := range saved {
			fmt.Fprintf(s.Out, "Saved %s (%s)\n", f.Path, utils.FormatSize(f.Size))
		}
		if err != nil {
			return err
		}
		if len(saved) == 0 {
			fmt.Fprintf(s.Out, "Message #%d has no attachments.\n", n)
		}
		return nil
	}

	files, err := svc.Attachments(cCtx.Context, n)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(s.Out, "Message #%d has no attachments.\n", n)
		return nil
	}
	t := newTable(s.Out)
	t.AppendHeader(table.Row{"Attachment", "Type", "Size"})
	for _, f := range files {
		t.AppendRow(table.Row{f.Name, f.ContentType, utils.FormatSize(f.Size)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	t.Render()
	return nil
}
