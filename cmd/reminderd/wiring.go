package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nhle/reminders/internal/bus"
	"github.com/nhle/reminders/internal/clientstore"
	"github.com/nhle/reminders/internal/credential"
	"github.com/nhle/reminders/internal/dispatch"
	"github.com/nhle/reminders/internal/mailer"
	"github.com/nhle/reminders/internal/model"
	"github.com/nhle/reminders/internal/scanner"
	"github.com/nhle/reminders/internal/store"
)

// smtpPasswordEnv is consulted when the keyring has no SMTP password.
const smtpPasswordEnv = "REMINDERS_SMTP_PASSWORD"

func componentLogger(out io.Writer, name string) *log.Logger {
	return log.New(out, "["+name+"] ", log.LstdFlags)
}

func openStore(cfg *model.AppConfig) (*store.SQLStore, error) {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
	}
	return db, nil
}

// newTransport returns the SMTP transport, or a logging stand-in when no
// SMTP host is configured.
func newTransport(cfg *model.AppConfig, logger *log.Logger) (mailer.Transport, error) {
	if cfg.SMTP.Host == "" {
		logger.Println("smtp.host not set, reminder emails will only be logged")
		return mailer.LogTransport{Logger: logger}, nil
	}

	password := ""
	if cfg.SMTP.Username != "" {
		p, err := credential.Lookup(cfg.SMTP.PasswordKey, smtpPasswordEnv)
		if err != nil {
			return nil, fmt.Errorf("smtp password: %w", err)
		}
		password = p
	}
	return mailer.NewSMTPTransport(cfg.SMTP, password), nil
}

func newDispatcher(cfg *model.AppConfig, transport mailer.Transport, out io.Writer) *dispatch.Dispatcher {
	opts := []dispatch.Option{
		dispatch.WithWindow(time.Duration(cfg.Dispatcher.WindowSec) * time.Second),
		dispatch.WithLogger(componentLogger(out, "dispatch")),
	}
	if cfg.Dispatcher.SweepSec > 0 {
		opts = append(opts, dispatch.WithSweepInterval(time.Duration(cfg.Dispatcher.SweepSec)*time.Second))
	}
	return dispatch.New(transport, opts...)
}

// pipeline is the scan side of the service: relational store, dispatcher
// and scanner publishing to an in-process bus.
type pipeline struct {
	db         *store.SQLStore
	dispatcher *dispatch.Dispatcher
	bus        *bus.Bus
	scanner    *scanner.Scanner
}

func newPipeline(cfg *model.AppConfig, logger *log.Logger) (*pipeline, error) {
	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	transport, err := newTransport(cfg, componentLogger(os.Stdout, "mailer"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	d := newDispatcher(cfg, transport, os.Stdout)
	d.Start()

	b := bus.New("notifications")
	s := scanner.New(db, d,
		scanner.WithPublisher(b),
		scanner.WithLookahead(cfg.Scanner.Lookahead()),
		scanner.WithLogger(componentLogger(os.Stdout, "scanner")),
	)

	logger.Printf("pipeline ready (db=%s, lookahead=%s)", cfg.Database.Driver, cfg.Scanner.Lookahead())
	return &pipeline{db: db, dispatcher: d, bus: b, scanner: s}, nil
}

func (p *pipeline) Close() {
	p.dispatcher.Close()
	_ = p.db.Close()
}

// openBackend opens the durable client store selected by cfg.Inbox.Backend.
// The returned func releases it.
func openBackend(ctx context.Context, cfg model.InboxConfig) (clientstore.Backend, func(), error) {
	switch cfg.Backend {
	case "", "sqlite":
		s, err := clientstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case "redis":
		ttl := 2 * retention(cfg)
		r := clientstore.NewRedis(redis.Options{Addr: cfg.RedisAddr}, ttl)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := r.Ping(pingCtx); err != nil {
			_ = r.Close()
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil

	case "memory":
		return clientstore.NewMemory(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown inbox backend %q", cfg.Backend)
	}
}

func retention(cfg model.InboxConfig) time.Duration {
	if cfg.RetentionDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(cfg.RetentionDays) * 24 * time.Hour
}
