package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/service"
)

// errCancelled is returned when a confirmation prompt is declined.
var errCancelled = errors.New("cancelled")

func (s *Session) actCommand() *cli.Command {
	return &cli.Command{
		Name:      "act",
		Usage:     "apply an action to one or more listed items",
		ArgsUsage: "<n[,n...]> <reply|forward|move|archive|mark-read|mark-unread|flag|unflag|delete|complete|update|cancel>",
		Flags: []cli.Flag{
			kindFlag(),
			&cli.StringFlag{Name: "body", Aliases: []string{"b"}, Usage: "reply or forward text, or new task notes"},
			&cli.StringFlag{Name: "folder", Aliases: []string{"f"}, Usage: "move target folder"},
			&cli.BoolFlag{Name: "all", Usage: "reply to all recipients"},
			&cli.StringSliceFlag{Name: "to", Usage: "forward recipient (repeatable)"},
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "new task title"},
			&cli.StringFlag{Name: "due", Usage: "new task due date"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "skip the confirmation prompt"},
		},
		Action: s.act,
	}
}

func (s *Session) act(cCtx *cli.Context) error {
	kind, err := kindOf(cCtx)
	if err != nil {
		return err
	}
	ordinals, err := ordinalsArg(cCtx, 0)
	if err != nil {
		return err
	}
	if cCtx.Args().Len() < 2 {
		return fmt.Errorf("missing action for item %s", cCtx.Args().Get(0))
	}
	action, err := model.ParseMutationKind(cCtx.Args().Get(1))
	if err != nil {
		return err
	}
	m := model.Mutation{
		Kind:     action,
		Body:     cCtx.String("body"),
		Folder:   cCtx.String("folder"),
		ReplyAll: cCtx.Bool("all"),
		To:       cCtx.StringSlice("to"),
		Subject:  cCtx.String("subject"),
	}
	if m.Due, err = s.timeFlag(cCtx, "due", time.Time{}); err != nil {
		return err
	}

	svc, release, err := s.service(cCtx)
	if err != nil {
		return err
	}
	defer release()

	if action.Destructive() && !cCtx.Bool("yes") {
		ok, err := s.Prompt.Confirm(s.actPrompt(svc, kind, action, ordinals))
		if err != nil {
			return err
		}
		if !ok {
			return errCancelled
		}
	}

	if len(ordinals) == 1 {
		conf, err := svc.Act(cCtx.Context, kind, ordinals[0], m)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.Out, conf)
		return nil
	}

	results, err := svc.ActMany(cCtx.Context, kind, ordinals, m)
	failed := 0
	for _, r := range results {
		fmt.Fprintln(s.Out, r)
		if r.Err != nil {
			failed++
		}
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d actions failed", failed, len(results))
	}
	return nil
}

func (s *Session) actPrompt(svc *service.Service, kind model.Kind, action model.MutationKind, ordinals []int) string {
	if len(ordinals) > 1 {
		refs := make([]string, len(ordinals))
		for i, n := range ordinals {
			refs[i] = "#" + strconv.Itoa(n)
		}
		return fmt.Sprintf("%s %d %s items (%s)?", action, len(ordinals), kind, strings.Join(refs, ", "))
	}
	n := ordinals[0]
	if entry, err := svc.Resolve(kind, n); err == nil {
		return fmt.Sprintf("%s %s #%d %q?", action, kind, n, clip(entry.Snapshot.Subject, subjectWidth))
	}
	return fmt.Sprintf("%s %s #%d?", action, kind, n)
}

func (s *Session) createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "send a message or create an event or task",
		Flags: []cli.Flag{
			kindFlag(),
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "subject or title"},
			&cli.StringSliceFlag{Name: "to", Usage: "recipient or attendee (repeatable)"},
			&cli.StringFlag{Name: "body", Aliases: []string{"b"}, Usage: "message text or notes"},
			&cli.StringFlag{Name: "start", Usage: "event start"},
			&cli.StringFlag{Name: "end", Usage: "event end (default: start plus --duration)"},
			&cli.DurationFlag{Name: "duration", Value: 30 * time.Minute, Usage: "event length when --end is unset"},
			&cli.StringFlag{Name: "location", Usage: "event location"},
			&cli.StringFlag{Name: "rule", Usage: "event recurrence rule, e.g. FREQ=WEEKLY;BYDAY=MO"},
			&cli.StringFlag{Name: "due", Usage: "task due date"},
			&cli.StringFlag{Name: "calendar", Usage: "calendar or task list"},
		},
		Action: s.create,
	}
}

func (s *Session) create(cCtx *cli.Context) error {
	kind, err := kindOf(cCtx)
	if err != nil {
		return err
	}
	m := model.Mutation{
		Subject:  cCtx.String("subject"),
		To:       cCtx.StringSlice("to"),
		Body:     cCtx.String("body"),
		Location: cCtx.String("location"),
		Rule:     cCtx.String("rule"),
		Calendar: cCtx.String("calendar"),
	}

	switch kind {
	case model.KindEvent:
		if !cCtx.IsSet("start") {
			return fmt.Errorf("--start is required for events")
		}
		if m.Start, err = s.timeFlag(cCtx, "start", time.Time{}); err != nil {
			return err
		}
		if m.End, err = s.timeFlag(cCtx, "end", m.Start.Add(cCtx.Duration("duration"))); err != nil {
			return err
		}
	case model.KindTask:
		if m.Due, err = s.timeFlag(cCtx, "due", time.Time{}); err != nil {
			return err
		}
	case model.KindMessage:
		if len(m.To) == 0 {
			return fmt.Errorf("--to is required for messages")
		}
	}

	svc, release, err := s.service(cCtx)
	if err != nil {
		return err
	}
	defer release()

	conf, err := svc.Create(cCtx.Context, kind, m)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.Out, conf)
	return nil
}
