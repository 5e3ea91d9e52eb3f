// Package inbox implements the per-audience notification stores. Two
// instances are constructed, one for the account holder and one for
// delegates; each owns its own caches and storage keys and never reads the
// other's state.
package inbox

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/reminders/internal/bus"
	"github.com/nhle/reminders/internal/clientstore"
	"github.com/nhle/reminders/internal/model"
)

const (
	DefaultMaxEntries     = 100
	DefaultRetention      = 7 * 24 * time.Hour
	DefaultSoftDedup      = 60 * time.Second
	DefaultHighlight      = 5 * time.Second
	DefaultRetentionSweep = time.Hour
	DefaultDedupSweep     = time.Minute
)

// Store is the notification list for one audience class, loaded for one
// identity at a time.
type Store struct {
	kind    model.IdentityKind
	backend clientstore.Backend
	logger  *log.Logger
	now     func() time.Time
	newID   func() string

	maxEntries     int
	retention      time.Duration
	softDedup      time.Duration
	highlight      time.Duration
	retentionSweep time.Duration
	dedupSweep     time.Duration

	mu           sync.Mutex
	identity     model.Identity
	loaded       bool
	items        []model.StoredNotification
	fingerprints map[string]time.Time
	latestID     string
	latestAt     time.Time

	changes chan struct{}

	unsubscribe func()
	stopOnce    sync.Once
	stopCh      chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxEntries caps the per-identity list length.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithRetention sets how long notifications are kept.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithSweepIntervals sets the retention and dedup-cache sweep cadences.
func WithSweepIntervals(retention, dedup time.Duration) Option {
	return func(s *Store) {
		if retention > 0 {
			s.retentionSweep = retention
		}
		if dedup > 0 {
			s.dedupSweep = dedup
		}
	}
}

// WithIDGenerator overrides random id generation for notifications
// without a natural key.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// New creates an unloaded store for the given audience class.
func New(kind model.IdentityKind, backend clientstore.Backend, opts ...Option) *Store {
	s := &Store{
		kind:           kind,
		backend:        backend,
		logger:         log.New(io.Discard, "", 0),
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
		maxEntries:     DefaultMaxEntries,
		retention:      DefaultRetention,
		softDedup:      DefaultSoftDedup,
		highlight:      DefaultHighlight,
		retentionSweep: DefaultRetentionSweep,
		dedupSweep:     DefaultDedupSweep,
		fingerprints:   make(map[string]time.Time),
		changes:        make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns the audience class this store serves.
func (s *Store) Kind() model.IdentityKind {
	return s.kind
}

// Attach subscribes the store to b. Calling it again replaces the
// previous subscription.
func (s *Store) Attach(b *bus.Bus) {
	unsub := b.Subscribe(func(ev model.NotificationEvent) { s.OnEvent(ev) })

	s.mu.Lock()
	prev := s.unsubscribe
	s.unsubscribe = unsub
	s.mu.Unlock()

	if prev != nil {
		prev()
	}
}

// SetIdentity loads the list for id. Switching to a different viewer
// discards all in-memory dedup state before the new list is read; the
// switch happens under the store lock, so no caller ever observes the old
// viewer's entries attributed to the new one. Re-setting the same viewer
// only updates the resolved delegate id.
func (s *Store) SetIdentity(ctx context.Context, id model.Identity) error {
	if id.Kind != s.kind {
		return fmt.Errorf("%s store cannot load %s identity", s.kind, id.Kind)
	}
	if !id.Valid() {
		return fmt.Errorf("incomplete %s identity", id.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded && s.identity.SameViewer(id) {
		if id.DelegateID != "" {
			s.identity.DelegateID = id.DelegateID
		}
		return nil
	}

	s.identity = model.Identity{}
	s.loaded = false
	s.items = nil
	s.fingerprints = make(map[string]time.Time)
	s.latestID = ""
	s.latestAt = time.Time{}

	items := s.load(ctx, id)

	s.identity = id
	s.items = items
	s.loaded = true
	if s.purgeExpiredLocked() > 0 {
		s.persistLocked(ctx)
	}
	s.notify()

	return nil
}

// ClearIdentity unloads the store, e.g. on sign-out.
func (s *Store) ClearIdentity() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identity = model.Identity{}
	s.loaded = false
	s.items = nil
	s.fingerprints = make(map[string]time.Time)
	s.latestID = ""
	s.notify()
}

// Identity returns the active identity.
func (s *Store) Identity() (model.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.loaded
}

// ResolveDelegateID records the durable id for the active delegate so
// later events can be matched by id. It is ignored if the store has since
// switched to another viewer.
func (s *Store) ResolveDelegateID(viewer model.Identity, delegateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded || !s.identity.SameViewer(viewer) {
		return
	}
	s.identity.DelegateID = delegateID
}

// OnEvent applies the audience gate, hard and soft dedup, and stores the
// event if it survives. It reports whether a notification was added.
func (s *Store) OnEvent(ev model.NotificationEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded || !Accepts(s.identity, ev) {
		return false
	}

	now := s.now()
	key := ev.NaturalKey()
	if key != "" && s.indexLocked(key) >= 0 {
		return false
	}

	fp := fingerprint(ev)
	if at, ok := s.fingerprints[fp]; ok && now.Sub(at) < s.softDedup {
		return false
	}

	created := now
	if !ev.OccurredAt.IsZero() && ev.OccurredAt.Before(now) {
		created = ev.OccurredAt
	}
	if now.Sub(created) > s.retention {
		return false
	}

	id := key
	if id == "" {
		id = s.newID()
	}

	n := model.StoredNotification{
		ID:         id,
		Type:       ev.Type,
		Title:      ev.Title,
		Message:    ev.Message,
		CreatedAt:  created,
		ActionData: copyActionData(ev.ActionData),
	}

	s.fingerprints[fp] = now
	s.items = append([]model.StoredNotification{n}, s.items...)
	s.sortLocked()
	s.truncateLocked()
	s.latestID = n.ID
	s.latestAt = now
	s.persistLocked(context.Background())
	s.notify()

	return true
}

// Merge inserts backfilled notifications whose id is not already present,
// keeps the list newest first, and caps it. It returns how many were added.
// Notifications for a different viewer than the active one are dropped.
func (s *Store) Merge(ctx context.Context, viewer model.Identity, items []model.StoredNotification) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded || !s.identity.SameViewer(viewer) {
		return 0
	}

	now := s.now()
	fresh := make(map[string]bool)
	for _, n := range items {
		if n.ID == "" || fresh[n.ID] || s.indexLocked(n.ID) >= 0 {
			continue
		}
		if now.Sub(n.CreatedAt) > s.retention {
			continue
		}
		n.ActionData = copyActionData(n.ActionData)
		s.items = append(s.items, n)
		fresh[n.ID] = true
	}
	if len(fresh) == 0 {
		return 0
	}

	s.sortLocked()
	s.truncateLocked()
	s.persistLocked(ctx)
	s.notify()

	// Count only what survived the cap.
	added := 0
	for _, n := range s.items {
		if fresh[n.ID] {
			added++
		}
	}
	return added
}

// Has reports whether a notification with id exists for the active viewer.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(id) >= 0
}

// List returns a copy of the active viewer's notifications, newest first.
func (s *Store) List() []model.StoredNotification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.StoredNotification, len(s.items))
	copy(out, s.items)
	return out
}

// UnreadCount returns how many notifications are unread.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, item := range s.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// Latest returns the most recently accepted live notification while it is
// still inside the highlight window.
func (s *Store) Latest() (model.StoredNotification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latestID == "" || s.now().Sub(s.latestAt) >= s.highlight {
		return model.StoredNotification{}, false
	}
	i := s.indexLocked(s.latestID)
	if i < 0 {
		return model.StoredNotification{}, false
	}
	return s.items[i], true
}

// MarkRead marks one notification read. It reports whether id was found.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	if !s.items[i].Read {
		s.items[i].Read = true
		s.persistLocked(context.Background())
		s.notify()
	}
	return true
}

// MarkAllRead marks every notification read.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return
	}
	for i := range s.items {
		s.items[i].Read = true
	}
	s.persistLocked(context.Background())
	s.notify()
}

// ClearAll removes every notification for the active viewer.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return
	}
	s.items = nil
	s.latestID = ""
	s.persistLocked(context.Background())
	s.notify()
}

// Sweep purges notifications past the retention window and returns how
// many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return 0
	}
	n := s.purgeExpiredLocked()
	if n > 0 {
		s.persistLocked(context.Background())
		s.notify()
	}
	return n
}

// SweepFingerprints drops soft-dedup entries older than the window.
func (s *Store) SweepFingerprints() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for fp, at := range s.fingerprints {
		if now.Sub(at) >= s.softDedup {
			delete(s.fingerprints, fp)
			removed++
		}
	}
	return removed
}

// Changes signals (coalesced) whenever the visible list changes.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Start runs the retention and dedup-cache sweeps until Close.
func (s *Store) Start() {
	go func() {
		retention := time.NewTicker(s.retentionSweep)
		defer retention.Stop()
		dedup := time.NewTicker(s.dedupSweep)
		defer dedup.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-retention.C:
				if n := s.Sweep(); n > 0 {
					s.logger.Printf("%s store: purged %d expired notifications", s.kind, n)
				}
			case <-dedup.C:
				s.SweepFingerprints()
			}
		}
	}()
}

// Close stops the sweeps and detaches from the bus.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Snapshot reads the persisted list for id without loading a store or
// writing to backend. Expired entries are left out of the result but stay
// persisted until a store loaded for id purges them.
func Snapshot(ctx context.Context, backend clientstore.Backend, id model.Identity, opts ...Option) ([]model.StoredNotification, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("incomplete %s identity", id.Kind)
	}

	s := New(id.Kind, backend, opts...)
	cutoff := s.now().Add(-s.retention)

	items := s.load(ctx, id)
	kept := items[:0]
	for _, n := range items {
		if !n.CreatedAt.Before(cutoff) {
			kept = append(kept, n)
		}
	}
	return kept, nil
}

// load reads and decodes the persisted list for id. Backend and decode
// failures degrade to an empty list.
func (s *Store) load(ctx context.Context, id model.Identity) []model.StoredNotification {
	data, err := s.backend.Load(ctx, id.StorageKey())
	if err != nil {
		s.logger.Printf("%s store: loading %s: %v", s.kind, id, err)
		return nil
	}
	items, err := decodeList(data)
	if err != nil {
		s.logger.Printf("%s store: discarding corrupt list for %s: %v", s.kind, id, err)
		return nil
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > s.maxEntries {
		items = items[:s.maxEntries]
	}
	return items
}

func (s *Store) persistLocked(ctx context.Context) {
	if !s.loaded {
		return
	}
	data, err := encodeList(s.items)
	if err != nil {
		s.logger.Printf("%s store: %v", s.kind, err)
		return
	}
	if err := s.backend.Save(ctx, s.identity.StorageKey(), data); err != nil {
		s.logger.Printf("%s store: saving %s: %v", s.kind, s.identity, err)
	}
}

func (s *Store) purgeExpiredLocked() int {
	cutoff := s.now().Add(-s.retention)
	kept := s.items[:0]
	removed := 0
	for _, n := range s.items {
		if n.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	s.items = kept
	return removed
}

func (s *Store) indexLocked(id string) int {
	for i, n := range s.items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].CreatedAt.After(s.items[j].CreatedAt)
	})
}

func (s *Store) truncateLocked() {
	if len(s.items) > s.maxEntries {
		s.items = s.items[:s.maxEntries]
	}
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func copyActionData(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
