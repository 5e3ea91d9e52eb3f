// Package scanner delivers due reminders by email and records their
// delivery.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/nhle/reminders/internal/bus"
	"github.com/nhle/reminders/internal/dispatch"
	"github.com/nhle/reminders/internal/mailer"
	"github.com/nhle/reminders/internal/model"
	"github.com/nhle/reminders/internal/store"
)

// DefaultLookahead absorbs the gap between scan ticks.
const DefaultLookahead = 60 * time.Second

// Dispatcher sends rendered reminder email. *dispatch.Dispatcher is the
// production implementation.
type Dispatcher interface {
	Send(ctx context.Context, to string, content mailer.Content, dedupKey string) (dispatch.Outcome, error)
}

// KindCount tallies one reminder kind within a scan.
type KindCount struct {
	Candidates int `json:"candidates"`
	Sent       int `json:"sent"`

	// Suppressed counts sends satisfied by the dispatcher's dedup cache.
	Suppressed int `json:"suppressed"`

	// Raced counts records another scan marked sent first.
	Raced int `json:"raced"`

	Failed int `json:"failed"`
}

// RecordError is a failure isolated to one reminder.
type RecordError struct {
	Kind       model.ReminderKind `json:"kind"`
	ReminderID string             `json:"reminder_id,omitempty"`
	Class      model.ErrorClass   `json:"class"`
	Message    string             `json:"message"`
	Err        error              `json:"-"`
}

// Result aggregates one scan.
type Result struct {
	StartedAt  time.Time                         `json:"started_at"`
	FinishedAt time.Time                         `json:"finished_at"`
	Kinds      map[model.ReminderKind]*KindCount `json:"kinds"`
	Errors     []RecordError                     `json:"errors"`
}

// Sent returns the number of reminders marked sent across all kinds.
func (r Result) Sent() int {
	n := 0
	for _, c := range r.Kinds {
		n += c.Sent
	}
	return n
}

// HasErrors reports whether any record failed.
func (r Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// String summarizes the result for logs.
func (r Result) String() string {
	parts := make([]string, 0, len(model.ReminderKinds))
	for _, kind := range model.ReminderKinds {
		c := r.Kinds[kind]
		if c == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d/%d", kind, c.Sent, c.Candidates))
	}
	return fmt.Sprintf("sent %s, %d errors in %s",
		strings.Join(parts, " "), len(r.Errors), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}

// Scanner finds due reminders, emails them, and records delivery.
// Concurrent Scan calls are safe; MarkReminderSent is the only gate
// against double delivery, backed by the dispatcher's dedup cache.
type Scanner struct {
	store      store.Store
	dispatcher Dispatcher
	publisher  bus.Publisher
	now        func() time.Time
	lookahead  time.Duration
	logger     *log.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPublisher publishes a notification event for each candidate before
// it is dispatched.
func WithPublisher(p bus.Publisher) Option {
	return func(s *Scanner) { s.publisher = p }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// WithLookahead sets the forward buffer added to now when selecting due
// reminders.
func WithLookahead(d time.Duration) Option {
	return func(s *Scanner) {
		if d >= 0 {
			s.lookahead = d
		}
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *log.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Scanner.
func New(st store.Store, d Dispatcher, opts ...Option) *Scanner {
	s := &Scanner{
		store:      st,
		dispatcher: d,
		now:        time.Now,
		lookahead:  DefaultLookahead,
		logger:     log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan processes every due reminder once. Per-record failures are
// collected in the result and never abort the batch.
func (s *Scanner) Scan(ctx context.Context) Result {
	res := Result{
		StartedAt: s.now(),
		Kinds:     make(map[model.ReminderKind]*KindCount, len(model.ReminderKinds)),
	}
	cutoff := res.StartedAt.Add(s.lookahead)

	for _, kind := range model.ReminderKinds {
		count := &KindCount{}
		res.Kinds[kind] = count

		reminders, err := s.store.DueReminders(ctx, kind, cutoff)
		if err != nil {
			s.fail(&res, count, model.Reminder{Kind: kind},
				&model.PersistenceError{Op: fmt.Sprintf("query due %s reminders", kind), Err: err})
			continue
		}
		count.Candidates = len(reminders)

		for _, r := range reminders {
			if ctx.Err() != nil {
				break
			}
			s.process(ctx, &res, count, r)
		}
	}

	res.FinishedAt = s.now()
	return res
}

func (s *Scanner) process(ctx context.Context, res *Result, count *KindCount, r model.Reminder) {
	if r.Sent() {
		return
	}

	to, delegate, resolveErr := s.resolveRecipient(ctx, r)

	if s.publisher != nil {
		s.publisher.Publish(model.ReminderEvent(r, delegate))
	}

	if resolveErr != nil {
		s.fail(res, count, r, resolveErr)
		return
	}

	outcome, err := s.dispatcher.Send(ctx, to, mailer.Render(r), dispatch.DedupKey(r.Kind, r.ID, to))
	if err != nil {
		var re *model.RecipientError
		if errors.As(err, &re) && re.ReminderID == "" {
			re.ReminderID = r.ID
		}
		s.fail(res, count, r, err)
		return
	}

	marked, err := s.store.MarkReminderSent(ctx, r.Kind, r.ID, s.now())
	if err != nil {
		s.fail(res, count, r, &model.PersistenceError{Op: "mark " + string(r.Kind) + " reminder sent", Err: err})
		return
	}

	switch {
	case !marked:
		count.Raced++
		s.logger.Printf("%s reminder %s already marked sent by another scan", r.Kind, r.ID)
	case outcome == dispatch.Suppressed:
		count.Sent++
		count.Suppressed++
	default:
		count.Sent++
	}
}

// resolveRecipient returns the creator's address: the delegate's for
// delegate-created reminders, else the account holder's. The delegate is
// returned when known so published events can carry its email.
func (s *Scanner) resolveRecipient(ctx context.Context, r model.Reminder) (string, *model.Delegate, error) {
	if r.Creator() == model.IdentityDelegate {
		d, err := s.store.DelegateByID(ctx, r.AccountID, *r.CreatedByDelegateID)
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, &model.RecipientError{
				ReminderID: r.ID,
				Reason:     fmt.Sprintf("delegate %s not found in account %s", *r.CreatedByDelegateID, r.AccountID),
			}
		}
		if err != nil {
			return "", nil, &model.PersistenceError{Op: "lookup delegate", Err: err}
		}
		if strings.TrimSpace(d.Email) == "" {
			return "", d, &model.RecipientError{ReminderID: r.ID, Reason: "delegate has no email"}
		}
		return d.Email, d, nil
	}

	email, err := s.store.AccountEmail(ctx, r.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, &model.RecipientError{
			ReminderID: r.ID,
			Reason:     fmt.Sprintf("account %s not found", r.AccountID),
		}
	}
	if err != nil {
		return "", nil, &model.PersistenceError{Op: "lookup account email", Err: err}
	}
	if strings.TrimSpace(email) == "" {
		return "", nil, &model.RecipientError{ReminderID: r.ID, Reason: "account has no email"}
	}
	return email, nil, nil
}

func (s *Scanner) fail(res *Result, count *KindCount, r model.Reminder, err error) {
	count.Failed++
	res.Errors = append(res.Errors, RecordError{
		Kind:       r.Kind,
		ReminderID: r.ID,
		Class:      model.ClassifyError(err),
		Message:    err.Error(),
		Err:        err,
	})
	if r.ID != "" {
		s.logger.Printf("%s reminder %s: %v", r.Kind, r.ID, err)
	} else {
		s.logger.Printf("%s reminders: %v", r.Kind, err)
	}
}
