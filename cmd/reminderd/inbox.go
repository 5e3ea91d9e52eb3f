package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/reminders/internal/backfill"
	"github.com/nhle/reminders/internal/bus"
	"github.com/nhle/reminders/internal/feed"
	"github.com/nhle/reminders/internal/inbox"
	"github.com/nhle/reminders/internal/keys"
	"github.com/nhle/reminders/internal/model"
	"github.com/nhle/reminders/internal/ui/notifications"
)

func runInbox(args []string, _ *log.Logger) error {
	fs := newFlagSet("inbox")
	accountID := fs.String("account", "", "account id to view (required)")
	delegateEmail := fs.String("delegate", "", "also open the list of the delegate with this email")
	logPath := fs.String("log", "", "append logs to this file")
	cfg, err := fs.parse(args)
	if err != nil {
		return err
	}
	if *accountID == "" {
		return errors.New("--account is required")
	}

	// The terminal is owned by the UI; logs go to a file or nowhere.
	var out io.Writer = io.Discard
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		out = f
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	backend, closeBackend, err := openBackend(ctx, cfg.Inbox)
	if err != nil {
		return fmt.Errorf("inbox backend: %w", err)
	}
	defer closeBackend()

	b := bus.New("notifications")
	storeOpts := []inbox.Option{
		inbox.WithRetention(retention(cfg.Inbox)),
		inbox.WithMaxEntries(cfg.Inbox.MaxEntries),
		inbox.WithLogger(componentLogger(out, "inbox")),
	}

	type viewer struct {
		label string
		id    model.Identity
	}
	viewers := []viewer{{label: "account", id: model.AccountIdentity(*accountID)}}
	if *delegateEmail != "" {
		viewers = append(viewers, viewer{
			label: "delegate " + model.NormalizeEmail(*delegateEmail),
			id:    model.DelegateIdentity(*accountID, *delegateEmail),
		})
	}

	loader := backfill.New(db,
		backfill.WithRetention(retention(cfg.Inbox)),
		backfill.WithLimit(cfg.Inbox.MaxEntries),
		backfill.WithLogger(componentLogger(out, "backfill")),
	)

	// The feed floor trails the backfill query by one lookback, so reminders
	// committed late behind it still arrive; the stores dedup the overlap.
	feedSince := time.Now().Add(-feed.DefaultLookback)

	panes := make([]notifications.Pane, 0, len(viewers))
	for _, entry := range viewers {
		s := inbox.New(entry.id.Kind, backend, storeOpts...)
		if err := s.SetIdentity(ctx, entry.id); err != nil {
			return fmt.Errorf("loading %s: %w", entry.id, err)
		}
		s.Attach(b)
		s.Start()
		defer s.Close()

		if _, err := loader.Load(ctx, s); err != nil {
			// Not fatal: the view can retry with refresh.
			componentLogger(out, "backfill").Printf("%s: %v", entry.id, err)
		}
		panes = append(panes, notifications.Pane{Label: entry.label, Store: s})
	}

	poller := feed.New(db, b, *accountID,
		feed.WithInterval(time.Duration(cfg.Inbox.PollIntervalSec)*time.Second),
		feed.WithSince(feedSince),
		feed.WithLogger(componentLogger(out, "feed")),
	)
	poller.Start()
	defer poller.Close()

	refresh := func(ctx context.Context, s *inbox.Store) (int, error) {
		loader.Reset()
		return loader.Load(ctx, s)
	}

	m := notifications.New(panes, keys.DefaultKeyMap(), refresh)
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("running inbox: %w", err)
	}
	return nil
}
