package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nhle/reminders/internal/httpapi"
	"github.com/nhle/reminders/internal/inbox"
	"github.com/nhle/reminders/internal/scanner"
	"github.com/nhle/reminders/internal/store"
)

func runServe(args []string, logger *log.Logger) error {
	fs := newFlagSet("serve")
	addr := fs.String("addr", "", "listen address (overrides http.addr)")
	cfg, err := fs.parse(args)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	backend, closeBackend, err := openBackend(context.Background(), cfg.Inbox)
	if err != nil {
		return fmt.Errorf("inbox backend: %w", err)
	}
	defer closeBackend()

	fanout := inbox.NewFanout(backend, componentLogger(os.Stdout, "inbox"),
		inbox.WithRetention(retention(cfg.Inbox)),
		inbox.WithMaxEntries(cfg.Inbox.MaxEntries),
	)
	defer fanout.Close()
	fanout.Attach(p.bus)

	sched, err := scanner.NewScheduler(p.scanner, cfg.Scanner.Schedule, componentLogger(os.Stdout, "scheduler"))
	if err != nil {
		return err
	}
	sched.Start()

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(httpapi.Options{
			Scanner:       p.scanner,
			Notifications: backend,
			Retention:     retention(cfg.Inbox),
			Logger:        componentLogger(os.Stdout, "http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("server starting on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(server, sched, logger)
	return nil
}

func waitForShutdown(server *http.Server, sched *scanner.Scheduler, logger *log.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
	sched.Stop(ctx)
}

func runScan(args []string, logger *log.Logger) error {
	fs := newFlagSet("scan")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	cfg, err := fs.parse(args)
	if err != nil {
		return err
	}

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res := p.scanner.Scan(ctx)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Println(res.String())
		for _, e := range res.Errors {
			fmt.Printf("  %s %s: %s (%s)\n", e.Kind, e.ReminderID, e.Message, e.Class)
		}
	}

	if res.HasErrors() {
		return fmt.Errorf("%d reminder(s) failed", len(res.Errors))
	}
	return nil
}

func runMigrate(args []string, logger *log.Logger) error {
	fs := newFlagSet("migrate")
	cfg, err := fs.parse(args)
	if err != nil {
		return err
	}

	if cfg.Database.Driver != store.DriverSQLite {
		logger.Printf("driver %s: schema is managed outside reminderd, nothing to do", cfg.Database.Driver)
		return nil
	}

	db, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return err
	}
	logger.Printf("migrations applied to %s", cfg.Database.DSN)
	return db.Close()
}
