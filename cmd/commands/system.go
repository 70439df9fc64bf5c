package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/greeddj/mailbridge-go/internal/config"
	"github.com/greeddj/mailbridge-go/internal/credential"
	"github.com/greeddj/mailbridge-go/internal/model"
	"github.com/greeddj/mailbridge-go/internal/service"
)

func (s *Session) cacheCommand() *cli.Command {
	return &cli.Command{
		Name:   "cache",
		Usage:  "show the item number tables",
		Action: s.cacheStats,
	}
}

func (s *Session) cacheStats(cCtx *cli.Context) error {
	svc, release, err := s.service(cCtx)
	if err != nil {
		return err
	}
	defer release()

	stats, err := svc.CacheStats()
	if err != nil {
		return err
	}
	t := newTable(s.Out)
	t.AppendHeader(table.Row{"Kind", "Entries", "Capacity", "TTL", "Next #"})
	for _, st := range stats {
		t.AppendRow(table.Row{st.Kind, st.Size, st.Capacity, st.TTL, st.NextOrdinal})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	t.Render()

	pending, executed := svc.LaneStats()
	fmt.Fprintf(s.Out, "\nProvider lane: %d queued, %d calls run\n", pending, executed)

	if disabled := svc.DisabledTools(); len(disabled) > 0 {
		fmt.Fprintf(s.Out, "\nDisabled tools: %s\n", strings.Join(disabled, ", "))
	}

	cfg, err := s.config(cCtx)
	if err != nil {
		return err
	}
	snaps, err := s.snapshots(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "\n%s", snaps.Info())
	return nil
}

func (s *Session) resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "forget listed item numbers",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "kind", Aliases: []string{"k"}, Usage: "kind to reset (repeatable; default all)"},
			&cli.BoolFlag{Name: "snapshots", Usage: "also remove the cached folder overview"},
		},
		Action: s.reset,
	}
}

func (s *Session) reset(cCtx *cli.Context) error {
	var kinds []model.Kind
	for _, name := range cCtx.StringSlice("kind") {
		k, err := model.ParseKind(name)
		if err != nil {
			return err
		}
		kinds = append(kinds, k)
	}

	svc, release, err := s.service(cCtx)
	if err != nil {
		return err
	}
	defer release()

	if err := svc.Reset(kinds...); err != nil {
		return err
	}
	if len(kinds) == 0 {
		kinds = model.Kinds
	}
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.String())
	}
	fmt.Fprintf(s.Out, "Reset %s item numbers.\n", strings.Join(names, ", "))

	if cCtx.Bool("snapshots") {
		cfg, err := s.config(cCtx)
		if err != nil {
			return err
		}
		snaps, err := s.snapshots(cfg)
		if err != nil {
			return err
		}
		if err := snaps.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(s.Out, "Removed %s.\n", snaps.Path())
	}
	return nil
}

func (s *Session) importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "load messages, events, tasks and busy blocks into the local store",
		ArgsUsage: "<file.yaml>",
		Action:    s.importFixture,
	}
}

func (s *Session) importFixture(cCtx *cli.Context) error {
	path := cCtx.Args().First()
	if path == "" {
		return fmt.Errorf("missing fixture file")
	}
	cfg, err := s.config(cCtx)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fixture: %w", err)
	}
	defer func() { _ = f.Close() }()

	stats, err := service.ImportFixture(cCtx.Context, cfg, f, s.log)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	fmt.Fprintf(s.Out, "Imported %s into %s.\n", stats, cfg.Store.Path)
	return nil
}

// keyringCommand manages the IMAP password in the system keyring.
func (s *Session) keyringCommand() *cli.Command {
	return &cli.Command{
		Name:  "keyring",
		Usage: "store or remove the IMAP password in the system keyring",
		Subcommands: []*cli.Command{
			{
				Name:   "set",
				Usage:  "prompt for the IMAP password and store it",
				Action: s.keyringSet,
			},
			{
				Name:   "delete",
				Usage:  "remove the stored IMAP password",
				Action: s.keyringDelete,
			},
		},
	}
}

func (s *Session) keyringSet(cCtx *cli.Context) error {
	cfg, err := s.rawConfig(cCtx)
	if err != nil {
		return err
	}
	pass, err := s.Prompt.ReadLine(fmt.Sprintf("Password for %s on %s: ", cfg.IMAP.User, cfg.IMAP.Server))
	if err != nil {
		return err
	}
	if pass == "" {
		return errCancelled
	}
	if err := credential.Set(cfg.IMAP.KeyringKey(), pass); err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "Stored password for %s.\n", cfg.IMAP.KeyringKey())
	return nil
}

func (s *Session) keyringDelete(cCtx *cli.Context) error {
	cfg, err := s.rawConfig(cCtx)
	if err != nil {
		return err
	}
	err = credential.Delete(cfg.IMAP.KeyringKey())
	if errors.Is(err, credential.ErrNotFound) {
		fmt.Fprintf(s.Out, "No password stored for %s.\n", cfg.IMAP.KeyringKey())
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "Removed password for %s.\n", cfg.IMAP.KeyringKey())
	return nil
}

// rawConfig loads the file without resolving or requiring a password.
func (s *Session) rawConfig(cCtx *cli.Context) (*config.Config, error) {
	s.mu.Lock()
	loaded := s.cfg
	s.mu.Unlock()
	if loaded != nil {
		return loaded, nil
	}
	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return nil, err
	}
	if cfg.IMAP.Server == "" || cfg.IMAP.User == "" {
		return nil, fmt.Errorf("imap.server and imap.user must be set in %s", cfg.Path)
	}
	return cfg, nil
}
