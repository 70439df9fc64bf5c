// Package commands implements CLI subcommands for mailbridge.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/greeddj/mailbridge-go/internal/cache"
	"github.com/greeddj/mailbridge-go/internal/config"
	"github.com/greeddj/mailbridge-go/internal/logging"
	"github.com/greeddj/mailbridge-go/internal/service"
	"github.com/greeddj/mailbridge-go/internal/stdout"
	"github.com/greeddj/mailbridge-go/internal/utils"
)

// OpenFunc builds a service from a loaded configuration.
type OpenFunc func(cfg *config.Config, opts service.Options, progress service.ProgressReporter) (*service.Service, error)

// Session is the state shared by the commands of one process. One-shot runs
// open a service per command; the shell keeps a single service for every line
// so that ordinals stay valid between commands.
type Session struct {
	Out    io.Writer
	Err    io.Writer
	Prompt *utils.Prompter
	Now    func() time.Time
	Open   OpenFunc

	mu       sync.Mutex
	cfg      *config.Config
	svc      *service.Service
	keep     bool
	log      *slog.Logger
	spin     *stdout.Spinner
	quiet    bool
	onUpdate func(settled, total int)
}

// NewSession reads answers from in and writes results to out and progress to errOut.
func NewSession(in io.Reader, out, errOut io.Writer) *Session {
	return &Session{
		Out:    out,
		Err:    errOut,
		Prompt: utils.NewPrompter(in, errOut),
		Now:    time.Now,
		Open:   service.Open,
		log:    logging.Discard(),
		spin:   stdout.New(errOut, true, false),
		quiet:  true,
	}
}

// Setup applies the global flags. It is the application's Before hook.
func (s *Session) Setup(cCtx *cli.Context) error {
	log, err := logging.New(s.Err, cCtx.String("log-level"), cCtx.String("log-format"))
	if err != nil {
		return err
	}
	s.log = log
	s.quiet = cCtx.Bool("quiet")
	s.spin = stdout.New(s.Err, s.quiet, cCtx.Bool("verbose"))
	return nil
}

// Close releases a service kept by the shell.
func (s *Session) Close() error {
	s.mu.Lock()
	svc := s.svc
	s.svc, s.keep = nil, false
	s.mu.Unlock()
	if svc == nil {
		return nil
	}
	return svc.Close()
}

// config loads the configuration once per process.
func (s *Session) config(cCtx *cli.Context) (*config.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil {
		return s.cfg, nil
	}
	cfg, err := config.New(cCtx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	s.cfg = cfg
	return cfg, nil
}

// service returns the shared service, or opens one that the returned release
// function closes.
func (s *Session) service(cCtx *cli.Context) (*service.Service, func(), error) {
	cfg, err := s.config(cCtx)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.svc != nil {
		return s.svc, func() {}, nil
	}

	s.spin.Start("Opening backends...")
	svc, err := s.Open(cfg, service.Options{Log: s.log, Now: s.Now, OnProgress: s.progress}, s.spin)
	if err != nil {
		s.spin.Error(err.Error())
		return nil, nil, err
	}
	s.spin.Stop()

	if s.keep {
		s.svc = svc
		return svc, func() {}, nil
	}
	return svc, func() {
		if err := svc.Close(); err != nil {
			s.log.Warn("closing backends", "error", err)
		}
	}, nil
}

// progress forwards reply-check progress to the active tracker.
func (s *Session) progress(settled, total int) {
	s.mu.Lock()
	fn := s.onUpdate
	s.mu.Unlock()
	if fn != nil {
		fn(settled, total)
	}
}

func (s *Session) track(fn func(settled, total int)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// snapshots opens the folder snapshot file of the configured account.
func (s *Session) snapshots(cfg *config.Config) (*cache.Snapshots, error) {
	account, secret := "store:"+cfg.Store.Path, ""
	if cfg.IMAP.Server != "" {
		account, secret = cfg.IMAP.Server+":"+cfg.IMAP.User, cfg.IMAP.Pass
	}
	snaps, err := cache.New(cfg.Cache.Dir, account, secret)
	if err != nil {
		return nil, err
	}
	if err := snaps.Load(); err != nil {
		s.log.Warn("discarding unreadable folder snapshot", "error", err)
		if err := snaps.Clear(); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

// location is the zone times are read and shown in.
func (s *Session) location() *time.Location {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if cfg == nil {
		return time.Local
	}
	loc, err := cfg.FreeBusy.Location()
	if err != nil {
		return time.Local
	}
	return loc
}

func (s *Session) warnf(format string, args ...any) {
	fmt.Fprintf(s.Err, "warning: "+format+"\n", args...)
}

// Commands returns every subcommand.
func (s *Session) Commands() []*cli.Command {
	return append(s.lineCommands(), s.shellCommand())
}

// lineCommands are the commands available inside the shell.
func (s *Session) lineCommands() []*cli.Command {
	return []*cli.Command{
		s.listCommand(),
		s.detailCommand(),
		s.threadCommand(),
		s.attachmentsCommand(),
		s.actCommand(),
		s.createCommand(),
		s.pendingCommand(),
		s.freeBusyCommand(),
		s.availabilityCommand(),
		s.foldersCommand(),
		s.cacheCommand(),
		s.resetCommand(),
		s.importCommand(),
		s.keyringCommand(),
	}
}
