package model

import "time"

// ReminderKind identifies which record set a reminder lives in.
type ReminderKind string

const (
	ReminderKindTask   ReminderKind = "task"
	ReminderKindEvent  ReminderKind = "event"
	ReminderKindCustom ReminderKind = "custom"
)

// ReminderKinds lists every kind in scan order.
var ReminderKinds = []ReminderKind{
	ReminderKindTask,
	ReminderKindEvent,
	ReminderKindCustom,
}

// NotificationType returns the bus event type produced for this kind.
func (k ReminderKind) NotificationType() NotificationType {
	switch k {
	case ReminderKindTask:
		return NotificationTaskReminder
	case ReminderKindEvent:
		return NotificationEventReminder
	default:
		return NotificationCustomReminder
	}
}

// Reminder is the unified view of a task, event, or custom reminder row
// as the scanner and the backfill loader see it.
type Reminder struct {
	// ID is the record's primary key within its kind's table.
	ID string `db:"id" json:"id"`

	// Kind identifies the record set.
	Kind ReminderKind `db:"-" json:"kind"`

	// AccountID is the owning tenant.
	AccountID string `db:"account_id" json:"account_id"`

	// CreatedByDelegateID is set when a delegate created the record.
	CreatedByDelegateID *string `db:"created_by_delegate_id" json:"created_by_delegate_id,omitempty"`

	// ScheduledAt is when the reminder is due.
	ScheduledAt time.Time `db:"scheduled_at" json:"scheduled_at"`

	// SentAt is set exactly once, when the email was accepted by the transport.
	SentAt *time.Time `db:"sent_at" json:"sent_at,omitempty"`

	// EmailEnabled is the per-record enablement flag. Task reminders are
	// sent regardless of it.
	EmailEnabled bool `db:"email_enabled" json:"email_enabled"`

	// StartsAt is the event start for event reminders.
	StartsAt *time.Time `db:"starts_at" json:"starts_at,omitempty"`

	// Title is the short subject of the reminder.
	Title string `db:"title" json:"title"`

	// Body is the task/event description or custom reminder message.
	Body string `db:"body" json:"body"`

	// DeletedAt is the soft-delete marker.
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Creator returns the identity kind that created the reminder.
func (r Reminder) Creator() IdentityKind {
	if r.CreatedByDelegateID != nil && *r.CreatedByDelegateID != "" {
		return IdentityDelegate
	}
	return IdentityAccount
}

// Sent reports whether sent_time has been recorded.
func (r Reminder) Sent() bool {
	return r.SentAt != nil
}

// Account is the primary tenant.
type Account struct {
	ID          string `db:"id" json:"id"`
	Email       string `db:"email" json:"email"`
	DisplayName string `db:"display_name" json:"display_name"`
}

// Delegate is a scoped sub-user on an account's shared board.
type Delegate struct {
	ID          string `db:"id" json:"id"`
	AccountID   string `db:"account_id" json:"account_id"`
	Email       string `db:"email" json:"email"`
	DisplayName string `db:"display_name" json:"display_name"`
}
