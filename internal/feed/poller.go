// Package feed turns newly sent reminders into bus events for a viewer
// process, on a polling cadence.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/nhle/reminders/internal/bus"
	"github.com/nhle/reminders/internal/model"
	"github.com/nhle/reminders/internal/store"
)

// DefaultInterval is the poll cadence when none is configured.
const DefaultInterval = 30 * time.Second

// DefaultLookback is how far behind the high-water mark each poll reads
// again. Overlapping scans can commit an older sent_at after a newer one;
// the lookback must exceed the longest scan.
const DefaultLookback = 10 * time.Minute

// fetchTimeout bounds a single poll.
const fetchTimeout = 30 * time.Second

// Source is the slice of the relational store the poller reads.
type Source interface {
	SentRemindersSince(ctx context.Context, filter store.SentFilter) ([]model.Reminder, error)
	DelegateByID(ctx context.Context, accountID, delegateID string) (*model.Delegate, error)
}

// Poller publishes an event for every reminder of one account sent at or
// after its floor. Each poll rereads a lookback window behind the newest
// sent_at seen, and a seen-set keyed by kind and id keeps republishing out.
type Poller struct {
	src       Source
	publisher bus.Publisher
	accountID string
	interval  time.Duration
	lookback  time.Duration
	now       func() time.Time
	logger    *log.Logger

	mu        sync.Mutex
	floor     time.Time
	mark      time.Time
	seen      map[string]time.Time
	delegates map[string]*model.Delegate
	running   bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the poll cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *log.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithLookback overrides DefaultLookback.
func WithLookback(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.lookback = d
		}
	}
}

// WithSince sets the floor to t instead of the current time. Reminders
// sent before the floor are never published; callers backfill them.
func WithSince(t time.Time) Option {
	return func(p *Poller) { p.floor = t }
}

// New creates a Poller for accountID publishing to pub.
func New(src Source, pub bus.Publisher, accountID string, opts ...Option) *Poller {
	p := &Poller{
		src:       src,
		publisher: pub,
		accountID: accountID,
		interval:  DefaultInterval,
		lookback:  DefaultLookback,
		now:       time.Now,
		logger:    log.New(io.Discard, "", 0),
		seen:      make(map[string]time.Time),
		delegates: make(map[string]*model.Delegate),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.floor.IsZero() {
		p.floor = p.now()
	}
	// Stored timestamps have second precision.
	p.floor = p.floor.UTC().Truncate(time.Second)
	p.mark = p.floor
	return p
}

// Mark returns the newest sent_at published so far, or the floor.
func (p *Poller) Mark() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mark
}

// Poll publishes events for reminders in the lookback window that have not
// been published yet, oldest first. It returns how many were published.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	since := p.windowStartLocked()
	reminders, err := p.src.SentRemindersSince(ctx, store.SentFilter{
		AccountID: p.accountID,
		Since:     since,
	})
	if err != nil {
		return 0, fmt.Errorf("polling sent reminders: %w", err)
	}

	published := 0
	// Results are newest first; publish in send order.
	for i := len(reminders) - 1; i >= 0; i-- {
		r := reminders[i]
		if r.SentAt == nil || r.SentAt.Before(p.floor) {
			continue
		}

		key := string(r.Kind) + ":" + r.ID
		if _, ok := p.seen[key]; ok {
			continue
		}
		sent := r.SentAt.UTC()
		p.seen[key] = sent
		if sent.After(p.mark) {
			p.mark = sent
		}

		p.publisher.Publish(model.ReminderEvent(r, p.delegateLocked(ctx, r)))
		published++
	}

	p.pruneLocked()
	return published, nil
}

// Pending returns how many published reminders are still remembered.
func (p *Poller) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func (p *Poller) windowStartLocked() time.Time {
	since := p.mark.Add(-p.lookback)
	if since.Before(p.floor) {
		return p.floor
	}
	return since
}

// pruneLocked forgets reminders the next query can no longer return.
func (p *Poller) pruneLocked() {
	since := p.windowStartLocked()
	for key, sent := range p.seen {
		if sent.Before(since) {
			delete(p.seen, key)
		}
	}
}

// delegateLocked returns the creating delegate when known. Lookup failures
// only drop the email from the event; id targeting still applies.
func (p *Poller) delegateLocked(ctx context.Context, r model.Reminder) *model.Delegate {
	if r.Creator() != model.IdentityDelegate {
		return nil
	}
	id := *r.CreatedByDelegateID
	if d, ok := p.delegates[id]; ok {
		return d
	}

	d, err := p.src.DelegateByID(ctx, r.AccountID, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Printf("feed: looking up delegate %s: %v", id, err)
		}
		return nil
	}
	p.delegates[id] = d
	return d
}

// Start polls immediately and then on every interval until Close.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()
}

// Close stops the polling goroutine and waits for it to exit.
func (p *Poller) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})

	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if running {
		<-p.doneCh
	}
}

func (p *Poller) loop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Poller) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	n, err := p.Poll(ctx)
	if err != nil {
		p.logger.Printf("feed: %v", err)
		return
	}
	if n > 0 {
		p.logger.Printf("feed: published %d reminder events", n)
	}
}
