package inbox

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/nhle/reminders/internal/bus"
	"github.com/nhle/reminders/internal/clientstore"
	"github.com/nhle/reminders/internal/model"
)

// Fanout persists targeted bus events into per-identity stores opened on
// demand. It serves processes with no interactive viewer, such as the API
// server. Untargeted events cannot be attributed to a storage key and are
// dropped.
type Fanout struct {
	backend clientstore.Backend
	opts    []Option
	logger  *log.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewFanout creates a Fanout writing to backend. opts apply to every store
// it opens.
func NewFanout(backend clientstore.Backend, logger *log.Logger, opts ...Option) *Fanout {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Fanout{
		backend: backend,
		opts:    append([]Option{WithLogger(logger)}, opts...),
		logger:  logger,
		stores:  make(map[string]*Store),
	}
}

// Attach subscribes the fanout to b and returns the unsubscribe func.
func (f *Fanout) Attach(b *bus.Bus) func() {
	return b.Subscribe(func(ev model.NotificationEvent) { f.Handle(ev) })
}

// Handle routes ev to the store for its recipient and reports whether it
// was stored.
func (f *Fanout) Handle(ev model.NotificationEvent) bool {
	id, ok := recipientOf(ev)
	if !ok {
		return false
	}

	s, err := f.storeFor(id, ev.RecipientDelegateID)
	if err != nil {
		f.logger.Printf("fanout: %v", err)
		return false
	}
	return s.OnEvent(ev)
}

// Len returns how many identities have an open store.
func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stores)
}

// Close stops every open store.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, s := range f.stores {
		s.Close()
		delete(f.stores, key)
	}
}

func (f *Fanout) storeFor(id model.Identity, delegateID string) (*Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := id.StorageKey()
	if s, ok := f.stores[key]; ok {
		return s, nil
	}

	s := New(id.Kind, f.backend, f.opts...)
	id.DelegateID = delegateID
	if err := s.SetIdentity(context.Background(), id); err != nil {
		return nil, err
	}
	s.Start()
	f.stores[key] = s
	return s, nil
}

// recipientOf derives the storage identity an event is addressed to. A
// delegate known only by id has no storage key and is skipped.
func recipientOf(ev model.NotificationEvent) (model.Identity, bool) {
	if ev.RecipientAccountID == "" {
		return model.Identity{}, false
	}
	if ev.HasDelegateRecipient() {
		if model.NormalizeEmail(ev.RecipientDelegateEmail) == "" {
			return model.Identity{}, false
		}
		return model.DelegateIdentity(ev.RecipientAccountID, ev.RecipientDelegateEmail), true
	}
	if ev.TargetAudience == model.AudienceDelegate {
		return model.Identity{}, false
	}
	return model.AccountIdentity(ev.RecipientAccountID), true
}
