package dispatch

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/reminders/internal/mailer"
	"github.com/nhle/reminders/internal/model"
)

const (
	// DefaultWindow is how long a dedup key suppresses repeat sends.
	DefaultWindow = 10 * time.Minute

	// DefaultSweepInterval is how often expired keys are dropped.
	DefaultSweepInterval = time.Minute
)

// Outcome describes how a successful Send was satisfied.
type Outcome int

const (
	// Delivered means the transport accepted the message.
	Delivered Outcome = iota
	// Suppressed means the key was sent within the window and the
	// transport was not called again.
	Suppressed
)

func (o Outcome) String() string {
	if o == Suppressed {
		return "suppressed"
	}
	return "delivered"
}

// Dispatcher wraps an email transport with a short-lived send-dedup cache.
// Concurrent sends for the same key share a single transport call.
type Dispatcher struct {
	transport     mailer.Transport
	window        time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *log.Logger

	mu   sync.Mutex
	sent map[string]time.Time

	inflight singleflight.Group

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWindow overrides the suppression window.
func WithWindow(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d > 0 {
			x.window = d
		}
	}
}

// WithSweepInterval overrides how often expired keys are removed.
func WithSweepInterval(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d > 0 {
			x.sweepInterval = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(x *Dispatcher) { x.now = now }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *log.Logger) Option {
	return func(x *Dispatcher) {
		if l != nil {
			x.logger = l
		}
	}
}

// New creates a dispatcher for transport.
func New(transport mailer.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport:     transport,
		window:        DefaultWindow,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		logger:        log.New(io.Discard, "", 0),
		sent:          make(map[string]time.Time),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DedupKey builds the cache key for a reminder and recipient.
func DedupKey(kind model.ReminderKind, reminderID, recipient string) string {
	return fmt.Sprintf("%s:%s:%s", kind, reminderID, model.NormalizeEmail(recipient))
}

// Send delivers content to the recipient unless dedupKey was sent within
// the suppression window. A missing or malformed address yields a
// *model.RecipientError; a transport rejection yields a *model.TransportError.
func (d *Dispatcher) Send(
	ctx context.Context,
	to string,
	content mailer.Content,
	dedupKey string,
) (Outcome, error) {
	addr, err := parseRecipient(to)
	if err != nil {
		return 0, &model.RecipientError{To: to, Reason: err.Error()}
	}

	if d.recentlySent(dedupKey) {
		d.logger.Printf("suppressed duplicate send key=%s", dedupKey)
		return Suppressed, nil
	}

	v, err, _ := d.inflight.Do(dedupKey, func() (interface{}, error) {
		// A racing caller may have finished between the check above and
		// joining the flight.
		if d.recentlySent(dedupKey) {
			return Suppressed, nil
		}

		msg := mailer.Message{To: addr, Subject: content.Subject, Body: content.Body}
		if err := d.transport.Send(ctx, msg); err != nil {
			return nil, &model.TransportError{To: addr, Err: err}
		}

		d.record(dedupKey)
		return Delivered, nil
	})
	if err != nil {
		return 0, err
	}

	return v.(Outcome), nil
}

// parseRecipient validates to and returns the bare address.
func parseRecipient(to string) (string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return "", fmt.Errorf("recipient address is empty")
	}
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return "", fmt.Errorf("invalid recipient address %q: %w", to, err)
	}
	return addr.Address, nil
}

func (d *Dispatcher) recentlySent(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	at, ok := d.sent[key]
	return ok && d.now().Sub(at) < d.window
}

func (d *Dispatcher) record(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[key] = d.now()
}

// Sweep drops keys whose suppression window has elapsed and returns how
// many were removed.
func (d *Dispatcher) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for key, at := range d.sent {
		if now.Sub(at) >= d.window {
			delete(d.sent, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached keys.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

// Start runs the periodic sweep until Close is called.
func (d *Dispatcher) Start() {
	go func() {
		ticker := time.NewTicker(d.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-d.stopCh:
				return
			case <-ticker.C:
				if n := d.Sweep(); n > 0 {
					d.logger.Printf("swept %d expired dedup keys", n)
				}
			}
		}
	}()
}

// Close stops the sweep goroutine started by Start. It is safe to call
// more than once, and without Start.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}
