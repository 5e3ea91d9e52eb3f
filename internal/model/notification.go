package model

import "time"

// NotificationType classifies a bus event and the stored notification it
// produces.
type NotificationType string

const (
	NotificationTaskReminder   NotificationType = "task_reminder"
	NotificationEventReminder  NotificationType = "event_reminder"
	NotificationCustomReminder NotificationType = "custom_reminder"
	NotificationBookingCreated NotificationType = "booking_created"
	NotificationGeneric        NotificationType = "generic"
)

// naturalKeyFields maps reminder types to the action payload field holding
// the reminder id.
var naturalKeyFields = map[NotificationType]string{
	NotificationTaskReminder:   "taskId",
	NotificationEventReminder:  "eventId",
	NotificationCustomReminder: "reminderId",
}

// NaturalKeyField returns the action payload field carrying the natural key
// for t, or "" when the type has none.
func (t NotificationType) NaturalKeyField() string {
	return naturalKeyFields[t]
}

// Audience restricts which viewer class an event is meant for.
type Audience string

const (
	AudienceUnspecified Audience = ""
	AudienceAccount     Audience = "account"
	AudienceDelegate    Audience = "delegate"
)

// AudienceFor maps an identity kind to its audience class.
func AudienceFor(kind IdentityKind) Audience {
	if kind == IdentityDelegate {
		return AudienceDelegate
	}
	return AudienceAccount
}

// NotificationEvent is the ephemeral bus payload.
type NotificationEvent struct {
	Type                   NotificationType  `json:"type"`
	Title                  string            `json:"title"`
	Message                string            `json:"message"`
	ActionData             map[string]string `json:"actionData,omitempty"`
	TargetAudience         Audience          `json:"targetAudience,omitempty"`
	RecipientAccountID     string            `json:"recipientAccountId,omitempty"`
	RecipientDelegateID    string            `json:"recipientDelegateId,omitempty"`
	RecipientDelegateEmail string            `json:"recipientDelegateEmail,omitempty"`

	// OccurredAt is the trigger time when known (e.g. a reminder's sent_at).
	// Zero means "now" to the receiving store.
	OccurredAt time.Time `json:"occurredAt,omitempty"`
}

// NaturalKey returns "<type>:<id>" for reminder events that carry their
// reminder id, or "" otherwise.
func (e NotificationEvent) NaturalKey() string {
	field := e.Type.NaturalKeyField()
	if field == "" {
		return ""
	}
	id := e.ActionData[field]
	if id == "" {
		return ""
	}
	return string(e.Type) + ":" + id
}

// HasDelegateRecipient reports whether the event names a specific delegate.
func (e NotificationEvent) HasDelegateRecipient() bool {
	return e.RecipientDelegateID != "" || NormalizeEmail(e.RecipientDelegateEmail) != ""
}

// StoredNotification is the durable, per-identity notification record.
type StoredNotification struct {
	// ID is derived from the natural key when there is one, else random.
	ID string `json:"id"`

	// Type is the originating event type.
	Type NotificationType `json:"type"`

	Title   string `json:"title"`
	Message string `json:"message"`

	// CreatedAt drives newest-first ordering and the retention window.
	CreatedAt time.Time `json:"created_at"`

	// Read indicates whether the viewer has seen this notification.
	Read bool `json:"read"`

	// ActionData is the opaque payload copied from the event.
	ActionData map[string]string `json:"action_data,omitempty"`
}

// ReminderEvent builds the bus event for a reminder addressed to its creator.
func ReminderEvent(r Reminder, delegate *Delegate) NotificationEvent {
	t := r.Kind.NotificationType()
	ev := NotificationEvent{
		Type:       t,
		Title:      r.Title,
		Message:    r.Body,
		ActionData: map[string]string{t.NaturalKeyField(): r.ID},
	}
	if r.SentAt != nil {
		ev.OccurredAt = *r.SentAt
	}
	if ev.Message == "" {
		ev.Message = r.Title
	}

	if r.Creator() == IdentityDelegate {
		ev.TargetAudience = AudienceDelegate
		ev.RecipientAccountID = r.AccountID
		ev.RecipientDelegateID = *r.CreatedByDelegateID
		if delegate != nil {
			ev.RecipientDelegateEmail = delegate.Email
		}
		return ev
	}

	ev.TargetAudience = AudienceAccount
	ev.RecipientAccountID = r.AccountID
	return ev
}
