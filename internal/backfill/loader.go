// Package backfill reconciles a notification store against reminders that
// were sent while nothing was listening.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/nhle/reminders/internal/inbox"
	"github.com/nhle/reminders/internal/model"
	"github.com/nhle/reminders/internal/store"
)

const DefaultLimit = 100

// Source is the slice of the relational store the loader reads.
type Source interface {
	SentRemindersSince(ctx context.Context, filter store.SentFilter) ([]model.Reminder, error)
	DelegateByEmail(ctx context.Context, accountID, email string) (*model.Delegate, error)
}

// Loader runs the backfill at most once per identity.
type Loader struct {
	src       Source
	logger    *log.Logger
	now       func() time.Time
	retention time.Duration
	limit     int

	mu   sync.Mutex
	done map[string]bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(lg *log.Logger) Option {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// WithRetention sets how far back sent reminders are considered.
func WithRetention(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.retention = d
		}
	}
}

// WithLimit caps how many reminders one backfill reads.
func WithLimit(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.limit = n
		}
	}
}

// New creates a Loader reading from src.
func New(src Source, opts ...Option) *Loader {
	l := &Loader{
		src:       src,
		logger:    log.New(io.Discard, "", 0),
		now:       time.Now,
		retention: inbox.DefaultRetention,
		limit:     DefaultLimit,
		done:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load backfills s for its active identity and returns how many
// notifications were added. Repeated calls for an identity that has
// already been reconciled are no-ops. A failed run may be retried.
func (l *Loader) Load(ctx context.Context, s *inbox.Store) (int, error) {
	id, ok := s.Identity()
	if !ok {
		return 0, nil
	}

	key := id.StorageKey()
	if !l.claim(key) {
		return 0, nil
	}

	added, err := l.load(ctx, s, id)
	if err != nil {
		l.release(key)
		return 0, err
	}
	if added > 0 {
		l.logger.Printf("backfilled %d notifications for %s", added, id)
	}
	return added, nil
}

// Reset forgets which identities were reconciled, e.g. on sign-out.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done = make(map[string]bool)
}

func (l *Loader) load(ctx context.Context, s *inbox.Store, id model.Identity) (int, error) {
	filter := store.SentFilter{
		AccountID: id.AccountID,
		Creator:   id.Kind,
		Since:     l.now().Add(-l.retention),
		Limit:     l.limit,
	}

	if id.Kind == model.IdentityDelegate {
		delegateID, err := l.resolveDelegate(ctx, s, id)
		if err != nil {
			return 0, err
		}
		if delegateID == "" {
			return 0, nil
		}
		filter.DelegateID = delegateID
	}

	reminders, err := l.src.SentRemindersSince(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("backfilling %s: %w", id, err)
	}

	items := make([]model.StoredNotification, 0, len(reminders))
	for _, r := range reminders {
		if r.SentAt == nil {
			continue
		}
		items = append(items, toStored(r))
	}

	return s.Merge(ctx, id, items), nil
}

// resolveDelegate returns the durable delegate id for id, resolving it from
// the directory when the session only knows an email. An unknown email
// resolves to "" without error.
func (l *Loader) resolveDelegate(ctx context.Context, s *inbox.Store, id model.Identity) (string, error) {
	if id.DelegateID != "" {
		return id.DelegateID, nil
	}

	d, err := l.src.DelegateByEmail(ctx, id.AccountID, id.Email)
	if errors.Is(err, store.ErrNotFound) {
		l.logger.Printf("no delegate %s under account %s", id.Email, id.AccountID)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving delegate %s: %w", id.Email, err)
	}

	s.ResolveDelegateID(id, d.ID)
	return d.ID, nil
}

func (l *Loader) claim(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done[key] {
		return false
	}
	l.done[key] = true
	return true
}

func (l *Loader) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.done, key)
}

// toStored synthesizes the notification a live trigger for r would have
// produced, keyed identically so later live events are deduplicated.
func toStored(r model.Reminder) model.StoredNotification {
	ev := model.ReminderEvent(r, nil)
	return model.StoredNotification{
		ID:         ev.NaturalKey(),
		Type:       ev.Type,
		Title:      ev.Title,
		Message:    ev.Message,
		CreatedAt:  *r.SentAt,
		ActionData: ev.ActionData,
	}
}
