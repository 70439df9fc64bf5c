// Package cmd wires CLI configuration and subcommands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/greeddj/mailbridge-go/cmd/commands"
)

var (
	// gitRef stores the version tag from build-time injection.
	gitRef = "v0.0.0-dev"
	// gitCommit stores the git commit hash from build-time injection.
	gitCommit = "0000000"
	// appName is the application name.
	appName = "mailbridge"
)

// Run configures and executes the mailbridge CLI application.
func Run() error {
	sess := commands.NewSession(os.Stdin, os.Stdout, os.Stderr)
	defer func() { _ = sess.Close() }()

	if err := newApp(sess, os.Stdout, os.Stderr).Run(os.Args); err != nil {
		return fmt.Errorf("app.Run: %w", err)
	}
	return nil
}

func newApp(sess *commands.Session, out, errOut io.Writer) *cli.App {
	cli.VersionPrinter = func(cCtx *cli.Context) {
		fmt.Fprintln(cCtx.App.Writer, cCtx.App.Version)
	}
	return &cli.App{
		Name:                   appName,
		Suggest:                false,
		Usage:                  "numbered access to mail, calendars and tasks",
		UseShortOptionHandling: true,
		Version:                fmt.Sprintf("%s (%s) // %s", gitRef, gitCommit, runtime.Version()),
		Writer:                 out,
		ErrWriter:              errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to configuration file (JSON or YAML)",
				EnvVars: []string{"MAILBRIDGE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"MAILBRIDGE_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "text or json",
				EnvVars: []string{"MAILBRIDGE_LOG_FORMAT"},
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "hide spinners and progress bars",
				EnvVars: []string{"MAILBRIDGE_QUIET"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"V"},
				Usage:   "print every progress message on its own line",
				EnvVars: []string{"MAILBRIDGE_VERBOSE"},
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "path to the local SQLite store",
				EnvVars: []string{"MAILBRIDGE_STORE"},
			},
			&cli.Float64Flag{
				Name:    "rate",
				Usage:   "provider calls per second (0 disables the limit)",
				EnvVars: []string{"MAILBRIDGE_RATE"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "timeout of a single provider call",
				EnvVars: []string{"MAILBRIDGE_TIMEOUT"},
			},
		},
		Before:   sess.Setup,
		Commands: sess.Commands(),
	}
}
