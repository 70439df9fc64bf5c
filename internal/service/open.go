package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/greeddj/mailbridge-go/internal/client"
	"github.com/greeddj/mailbridge-go/internal/config"
	"github.com/greeddj/mailbridge-go/internal/logging"
	"github.com/greeddj/mailbridge-go/internal/provider"
	"github.com/greeddj/mailbridge-go/internal/store"
)

// smtpTimeout bounds one SMTP session.
const smtpTimeout = 30 * time.Second

// ProgressReporter receives connection progress from the IMAP backend.
type ProgressReporter interface {
	Update(message string)
	IsQuiet() bool
}

// Open builds the configured backends and a Service over them. The SQLite store
// always serves calendars and tasks; mail goes to IMAP when a server is
// configured and to the store's offline mailbox otherwise.
func Open(cfg *config.Config, opts Options, progress ProgressReporter) (*Service, error) {
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}

	st, err := openStore(cfg, opts)
	if err != nil {
		return nil, err
	}
	router := &provider.Router{Store: st}
	closers := []func() error{st.Close}

	if cfg.IMAP.Server != "" {
		var sender client.Sender
		if cfg.SMTP.Server != "" {
			sender = &client.SMTP{
				Addr:     cfg.SMTP.Server,
				Username: cfg.SMTP.User,
				Password: cfg.SMTP.Pass,
				TLS:      cfg.SMTP.TLS,
				Timeout:  smtpTimeout,
			}
		}
		if progress != nil {
			progress.Update(fmt.Sprintf("[%s] Connecting to %s...", cfg.IMAP.Label, cfg.IMAP.Server))
		}
		imapClient, err := client.New(client.Options{
			Addr:          cfg.IMAP.Server,
			Username:      cfg.IMAP.User,
			Password:      cfg.IMAP.Pass,
			TLS:           cfg.IMAP.UseTLS(),
			Label:         cfg.IMAP.Label,
			SentFolder:    cfg.IMAP.Sent,
			ArchiveFolder: cfg.IMAP.Archive,
			TrashFolder:   cfg.IMAP.Trash,
			PreviewBytes:  cfg.IMAP.Preview,
			From:          cfg.SMTP.From,
			Sender:        sender,
			Now:           opts.Now,
			Log:           opts.Log,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("connect imap: %w", err)
		}
		if progress != nil {
			imapClient.SetProgress(progress)
		}
		router.Mail = imapClient
		closers = append(closers, imapClient.Close)
	}

	s := New(cfg, router, opts)
	s.closers = closers
	return s, nil
}

// ImportFixture loads a YAML fixture into the configured store.
func ImportFixture(ctx context.Context, cfg *config.Config, r io.Reader, log *slog.Logger) (store.ImportStats, error) {
	st, err := openStore(cfg, Options{Log: cmp.Or(log, logging.Discard())})
	if err != nil {
		return store.ImportStats{}, err
	}
	stats, err := st.Import(ctx, r)
	return stats, errors.Join(err, st.Close())
}

func openStore(cfg *config.Config, opts Options) (*store.Store, error) {
	st, err := store.Open(cfg.Store.Path, store.Options{
		Self:          cfg.SMTP.From,
		SentFolder:    cfg.IMAP.Sent,
		ArchiveFolder: cfg.IMAP.Archive,
		TrashFolder:   cfg.IMAP.Trash,
		OccurrenceCap: cfg.Limits.OccurrenceCap,
		Now:           opts.Now,
	}, logging.Component(opts.Log, "store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
