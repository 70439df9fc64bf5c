package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/greeddj/mailbridge-go/internal/config"
	"github.com/greeddj/mailbridge-go/internal/utils"
)

const shellPrompt = "mailbridge> "

func (s *Session) shellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "run commands interactively; item numbers stay valid between lines",
		Action: func(cCtx *cli.Context) error {
			return s.Shell(cCtx.Context, cCtx)
		},
	}
}

// Shell reads commands until EOF or "exit". It keeps one service open and
// reloads the tool gate when the configuration file changes.
func (s *Session) Shell(ctx context.Context, cCtx *cli.Context) error {
	cfg, err := s.config(cCtx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.keep = true
	s.mu.Unlock()
	defer func() {
		if err := s.Close(); err != nil {
			s.log.Warn("closing backends", "error", err)
		}
	}()

	svc, _, err := s.service(cCtx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Path != "" {
		err := config.Watch(ctx, cfg.Path, func(next *config.Config, err error) {
			if err != nil {
				s.log.Warn("config reload failed", "error", err)
				return
			}
			svc.Reload(next)
			s.log.Info("config reloaded", "path", next.Path, "disabled_tools", svc.DisabledTools())
		})
		if err != nil {
			s.log.Warn("config changes will not be picked up", "error", err)
		}
	}

	for {
		line, err := s.Prompt.ReadLine(shellPrompt)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.Err)
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		args, err := utils.SplitArgs(line)
		if err != nil {
			fmt.Fprintf(s.Err, "Error: %v\n", err)
			continue
		}
		if err := s.lineApp().RunContext(ctx, append([]string{"mailbridge"}, args...)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(s.Err, "Error: %v\n", err)
		}
	}
}

// lineApp builds the application for one shell line.
func (s *Session) lineApp() *cli.App {
	return &cli.App{
		Name:            "mailbridge",
		Usage:           "commands: list, detail, thread, attachments, act, create, pending, freebusy, availability, folders, cache, reset, import, keyring, exit",
		HideVersion:     true,
		Writer:          s.Out,
		ErrWriter:       s.Err,
		Commands:        s.lineCommands(),
		CommandNotFound: func(cCtx *cli.Context, name string) { fmt.Fprintf(s.Err, "Unknown command %q; try help.\n", name) },
		ExitErrHandler:  func(*cli.Context, error) {},
	}
}
