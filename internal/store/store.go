package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/reminders/internal/model"
)

// ErrNotFound is returned when a directory lookup matches no row.
var ErrNotFound = errors.New("not found")

// SentFilter selects already-sent reminders attributed to one identity.
type SentFilter struct {
	AccountID string

	// Creator selects reminders created by the account holder or by the
	// delegate named in DelegateID. Empty matches every creator.
	Creator    model.IdentityKind
	DelegateID string

	// Since is the inclusive lower bound on sent_at.
	Since time.Time

	Limit int
}

// ReminderStore reads due reminders and records their delivery.
type ReminderStore interface {
	// DueReminders returns unsent, non-deleted reminders of kind with
	// scheduled time at or before cutoff. Task reminders ignore their
	// email flag; the other kinds require it.
	DueReminders(ctx context.Context, kind model.ReminderKind, cutoff time.Time) ([]model.Reminder, error)

	// MarkReminderSent sets sent_at only if it is still NULL and reports
	// whether this call was the one that set it.
	MarkReminderSent(ctx context.Context, kind model.ReminderKind, id string, at time.Time) (bool, error)

	// SentRemindersSince returns reminders of every kind matching filter,
	// newest sent first.
	SentRemindersSince(ctx context.Context, filter SentFilter) ([]model.Reminder, error)
}

// Directory resolves account and delegate addresses.
type Directory interface {
	AccountEmail(ctx context.Context, accountID string) (string, error)
	DelegateByID(ctx context.Context, accountID, delegateID string) (*model.Delegate, error)
	DelegateByEmail(ctx context.Context, accountID, email string) (*model.Delegate, error)
}

// Store is the relational store surface used by the pipeline.
type Store interface {
	ReminderStore
	Directory
}
