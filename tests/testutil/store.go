package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nhle/reminders/internal/model"
	"github.com/nhle/reminders/internal/store"
)

// NewTestStore creates an in-memory SQLStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedAccount inserts an account with the given id and email.
func SeedAccount(t *testing.T, s *store.SQLStore, id, email string) {
	t.Helper()

	if _, err := s.CreateAccount(context.Background(), model.Account{ID: id, Email: email}); err != nil {
		t.Fatalf("seeding account %s: %v", id, err)
	}
}

// SeedDelegate inserts a delegate under accountID.
func SeedDelegate(t *testing.T, s *store.SQLStore, accountID, id, email string) {
	t.Helper()

	d := model.Delegate{ID: id, AccountID: accountID, Email: email}
	if _, err := s.CreateDelegate(context.Background(), d); err != nil {
		t.Fatalf("seeding delegate %s: %v", id, err)
	}
}

// SeedReminder inserts r and returns its id.
func SeedReminder(t *testing.T, s *store.SQLStore, r model.Reminder) string {
	t.Helper()

	id, err := s.CreateReminder(context.Background(), r)
	if err != nil {
		t.Fatalf("seeding %s reminder: %v", r.Kind, err)
	}
	return id
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// FixedClock returns a clock func and a setter for tests that move time.
// Both are safe for concurrent use.
func FixedClock(start time.Time) (func() time.Time, func(time.Time)) {
	var mu sync.Mutex
	now := start
	get := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	set := func(t time.Time) {
		mu.Lock()
		defer mu.Unlock()
		now = t
	}
	return get, set
}
