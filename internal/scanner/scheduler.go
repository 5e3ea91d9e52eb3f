package scanner

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a scan every minute.
const DefaultSchedule = "@every 1m"

// runTimeout bounds a single scheduled scan.
const runTimeout = 5 * time.Minute

// Scheduler runs Scan on a cron schedule. Runs are not serialized: a slow
// scan may overlap the next tick.
type Scheduler struct {
	scanner *Scanner
	cron    *cron.Cron
	logger  *log.Logger

	mu   sync.Mutex
	last Result
	runs int
}

// NewScheduler registers s on spec. spec accepts standard five-field cron
// expressions and descriptors such as "@every 30s".
func NewScheduler(s *Scanner, spec string, logger *log.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if spec == "" {
		spec = DefaultSchedule
	}

	sch := &Scheduler{
		scanner: s,
		cron:    cron.New(),
		logger:  logger,
	}
	if _, err := sch.cron.AddFunc(spec, sch.run); err != nil {
		return nil, fmt.Errorf("parsing scan schedule %q: %w", spec, err)
	}
	return sch, nil
}

// Start begins running scans in the background.
func (sch *Scheduler) Start() {
	sch.cron.Start()
}

// Stop stops scheduling new scans and waits for running ones to finish or
// ctx to expire.
func (sch *Scheduler) Stop(ctx context.Context) {
	done := sch.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Last returns the most recent completed scan result and how many scans
// have run.
func (sch *Scheduler) Last() (Result, int) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.last, sch.runs
}

func (sch *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	res := sch.scanner.Scan(ctx)
	sch.logger.Printf("scan: %s", res)

	sch.mu.Lock()
	sch.last = res
	sch.runs++
	sch.mu.Unlock()
}
