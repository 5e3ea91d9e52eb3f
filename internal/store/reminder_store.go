package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/reminders/internal/model"
)

// reminderTable maps a reminder kind onto its table's column names.
type reminderTable struct {
	name      string
	scheduled string
	sent      string
	enabled   string
	body      string
	starts    string
	confirmed string
}

var reminderTables = map[model.ReminderKind]reminderTable{
	model.ReminderKindTask: {
		name:      "tasks",
		scheduled: "reminder_at",
		sent:      "reminder_sent_at",
		enabled:   "email_reminder_enabled",
		body:      "description",
		starts:    "NULL",
	},
	model.ReminderKindEvent: {
		name:      "events",
		scheduled: "reminder_at",
		sent:      "reminder_sent_at",
		enabled:   "email_reminder_enabled",
		body:      "description",
		starts:    "start_at",
	},
	model.ReminderKindCustom: {
		name:      "custom_reminders",
		scheduled: "remind_at",
		sent:      "sent_at",
		enabled:   "email_enabled",
		body:      "message",
		starts:    "NULL",
		confirmed: "email_confirmed",
	},
}

func tableFor(kind model.ReminderKind) (reminderTable, error) {
	t, ok := reminderTables[kind]
	if !ok {
		return reminderTable{}, fmt.Errorf("unknown reminder kind %q", kind)
	}
	return t, nil
}

// selectColumns projects a kind's table onto model.Reminder's db tags.
func (t reminderTable) selectColumns() string {
	return fmt.Sprintf(
		"id, account_id, created_by_delegate_id, %s AS scheduled_at, %s AS sent_at, "+
			"%s AS email_enabled, %s AS starts_at, title, %s AS body, deleted_at",
		t.scheduled, t.sent, t.enabled, t.starts, t.body,
	)
}

// DueReminders returns unsent, non-deleted reminders of kind scheduled at
// or before cutoff. Task reminders are returned regardless of their
// email_reminder_enabled flag.
func (s *SQLStore) DueReminders(
	ctx context.Context,
	kind model.ReminderKind,
	cutoff time.Time,
) ([]model.Reminder, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	conditions := []string{
		t.scheduled + " IS NOT NULL",
		t.scheduled + " <= ?",
		t.sent + " IS NULL",
		"deleted_at IS NULL",
	}
	args := []interface{}{dbTime(cutoff)}

	// TODO: confirm with product whether task reminders should honour
	// email_reminder_enabled once the flag is kept in sync with status changes.
	if kind != model.ReminderKindTask {
		conditions = append(conditions, t.enabled+" = ?")
		args = append(args, true)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s ORDER BY %s ASC",
		t.selectColumns(), t.name, strings.Join(conditions, " AND "), t.scheduled,
	)

	var reminders []model.Reminder
	if err := s.db.SelectContext(ctx, &reminders, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying due %s reminders: %w", kind, err)
	}
	for i := range reminders {
		reminders[i].Kind = kind
	}

	return reminders, nil
}

// MarkReminderSent records delivery. The sent column is only written while
// it is NULL, so a concurrent scan can never overwrite an earlier value.
func (s *SQLStore) MarkReminderSent(
	ctx context.Context,
	kind model.ReminderKind,
	id string,
	at time.Time,
) (bool, error) {
	t, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	set := t.sent + " = ?"
	args := []interface{}{dbTime(at)}
	if t.confirmed != "" {
		set += ", " + t.confirmed + " = ?"
		args = append(args, true)
	}
	args = append(args, id)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = ? AND %s IS NULL",
		t.name, set, t.sent,
	)

	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("marking %s reminder %s sent: %w", kind, id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected for %s reminder %s: %w", kind, id, err)
	}
	return rows == 1, nil
}

// SentRemindersSince returns sent reminders matching filter across all
// kinds, newest sent first.
func (s *SQLStore) SentRemindersSince(
	ctx context.Context,
	filter SentFilter,
) ([]model.Reminder, error) {
	var all []model.Reminder

	for _, kind := range model.ReminderKinds {
		t := reminderTables[kind]

		conditions := []string{
			"account_id = ?",
			t.sent + " IS NOT NULL",
			t.sent + " >= ?",
			"deleted_at IS NULL",
		}
		args := []interface{}{filter.AccountID, dbTime(filter.Since)}

		switch filter.Creator {
		case model.IdentityDelegate:
			conditions = append(conditions, "created_by_delegate_id = ?")
			args = append(args, filter.DelegateID)
		case model.IdentityAccount:
			conditions = append(conditions, "(created_by_delegate_id IS NULL OR created_by_delegate_id = '')")
		}

		query := fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s ORDER BY %s DESC",
			t.selectColumns(), t.name, strings.Join(conditions, " AND "), t.sent,
		)
		if filter.Limit > 0 {
			query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		}

		var reminders []model.Reminder
		if err := s.db.SelectContext(ctx, &reminders, s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("querying sent %s reminders: %w", kind, err)
		}
		for i := range reminders {
			reminders[i].Kind = kind
		}
		all = append(all, reminders...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].SentAt.After(*all[j].SentAt)
	})
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}

	return all, nil
}

// CreateReminder inserts a reminder row into its kind's table. Generates a
// UUID if ID is empty. Used by seeding and tests; the pipeline itself never
// creates reminders.
func (s *SQLStore) CreateReminder(ctx context.Context, r model.Reminder) (string, error) {
	if strings.TrimSpace(r.Title) == "" {
		return "", fmt.Errorf("reminder title must not be empty")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	var (
		query string
		args  []interface{}
	)

	switch r.Kind {
	case model.ReminderKindTask:
		query = `
			INSERT INTO tasks (
				id, account_id, title, description, reminder_at, reminder_sent_at,
				email_reminder_enabled, created_by_delegate_id, deleted_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
		args = []interface{}{
			r.ID, r.AccountID, r.Title, r.Body, dbTime(r.ScheduledAt), dbTimePtr(r.SentAt),
			r.EmailEnabled, r.CreatedByDelegateID, dbTimePtr(r.DeletedAt),
		}
	case model.ReminderKindEvent:
		starts := r.ScheduledAt
		if r.StartsAt != nil {
			starts = *r.StartsAt
		}
		query = `
			INSERT INTO events (
				id, account_id, title, description, start_at, reminder_at, reminder_sent_at,
				email_reminder_enabled, created_by_delegate_id, deleted_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		args = []interface{}{
			r.ID, r.AccountID, r.Title, r.Body, dbTime(starts), dbTime(r.ScheduledAt), dbTimePtr(r.SentAt),
			r.EmailEnabled, r.CreatedByDelegateID, dbTimePtr(r.DeletedAt),
		}
	case model.ReminderKindCustom:
		query = `
			INSERT INTO custom_reminders (
				id, account_id, title, message, remind_at, sent_at,
				email_enabled, email_confirmed, created_by_delegate_id, deleted_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		args = []interface{}{
			r.ID, r.AccountID, r.Title, r.Body, dbTime(r.ScheduledAt), dbTimePtr(r.SentAt),
			r.EmailEnabled, r.SentAt != nil, r.CreatedByDelegateID, dbTimePtr(r.DeletedAt),
		}
	default:
		return "", fmt.Errorf("unknown reminder kind %q", r.Kind)
	}

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return "", fmt.Errorf("creating %s reminder: %w", r.Kind, err)
	}
	return r.ID, nil
}

// GetReminder retrieves a single reminder by kind and ID.
func (s *SQLStore) GetReminder(
	ctx context.Context,
	kind model.ReminderKind,
	id string,
) (*model.Reminder, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", t.selectColumns(), t.name)

	var r model.Reminder
	if err := s.db.GetContext(ctx, &r, s.db.Rebind(query), id); err != nil {
		return nil, fmt.Errorf("getting %s reminder %s: %w", kind, id, notFound(err))
	}
	r.Kind = kind
	return &r, nil
}

// CustomReminderConfirmed reports the email-confirmation flag of a custom
// reminder.
func (s *SQLStore) CustomReminderConfirmed(ctx context.Context, id string) (bool, error) {
	var confirmed bool
	err := s.db.GetContext(ctx, &confirmed,
		s.db.Rebind("SELECT email_confirmed FROM custom_reminders WHERE id = ?"), id)
	if err != nil {
		return false, fmt.Errorf("getting custom reminder %s: %w", id, notFound(err))
	}
	return confirmed, nil
}
