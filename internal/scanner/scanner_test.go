package scanner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/reminders/internal/bus"
	"github.com/nhle/reminders/internal/dispatch"
	"github.com/nhle/reminders/internal/mailer"
	"github.com/nhle/reminders/internal/model"
	"github.com/nhle/reminders/internal/scanner"
	"github.com/nhle/reminders/internal/store"
	"github.com/nhle/reminders/tests/testutil"
)

var T = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// recordingTransport captures messages. It optionally fails or sleeps to
// widen race windows.
type recordingTransport struct {
	mu    sync.Mutex
	sent  []mailer.Message
	err   error
	delay time.Duration
}

func (r *recordingTransport) Send(_ context.Context, msg mailer.Message) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingTransport) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingTransport) messages() []mailer.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]mailer.Message, len(r.sent))
	copy(out, r.sent)
	return out
}

type fixture struct {
	db        *store.SQLStore
	transport *recordingTransport
	events    []model.NotificationEvent
	setNow    func(time.Time)
	scanner   *scanner.Scanner
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()

	f := &fixture{db: testutil.NewTestStore(t), transport: &recordingTransport{}}
	testutil.SeedAccount(t, f.db, "acct1", "owner@example.com")
	testutil.SeedDelegate(t, f.db, "acct1", "d1", "helper@example.com")

	clock, set := testutil.FixedClock(start)
	f.setNow = set

	var mu sync.Mutex
	b := bus.New("notifications")
	b.Subscribe(func(ev model.NotificationEvent) {
		mu.Lock()
		defer mu.Unlock()
		f.events = append(f.events, ev)
	})

	d := dispatch.New(f.transport, dispatch.WithClock(clock))
	f.scanner = scanner.New(f.db, d, scanner.WithClock(clock), scanner.WithPublisher(b))
	return f
}

func TestScan_CustomReminderScenario(t *testing.T) {
	f := newFixture(t, T.Add(30*time.Second))
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "r1", Kind: model.ReminderKindCustom, AccountID: "acct1",
		Title: "Follow up", Body: "Call client", ScheduledAt: T, EmailEnabled: true,
	})

	res := f.scanner.Scan(context.Background())
	require.False(t, res.HasErrors(), "%v", res.Errors)
	assert.Equal(t, 1, res.Kinds[model.ReminderKindCustom].Sent)
	assert.Equal(t, 1, res.Sent())

	r, err := f.db.GetReminder(context.Background(), model.ReminderKindCustom, "r1")
	require.NoError(t, err)
	require.NotNil(t, r.SentAt)
	assert.True(t, r.SentAt.Equal(T.Add(30*time.Second)))

	confirmed, err := f.db.CustomReminderConfirmed(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, confirmed)

	msgs := f.transport.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "owner@example.com", msgs[0].To)
	assert.Equal(t, "Reminder: Follow up", msgs[0].Subject)

	require.Len(t, f.events, 1)
	ev := f.events[0]
	assert.Equal(t, model.NotificationCustomReminder, ev.Type)
	assert.Equal(t, "r1", ev.ActionData["reminderId"])
	assert.Equal(t, model.AudienceAccount, ev.TargetAudience)
	assert.Equal(t, "acct1", ev.RecipientAccountID)
}

func TestScan_IdempotentAcrossRuns(t *testing.T) {
	f := newFixture(t, T)
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "r1", Kind: model.ReminderKindCustom, AccountID: "acct1",
		Title: "Follow up", ScheduledAt: T, EmailEnabled: true,
	})

	for i := 0; i < 5; i++ {
		f.setNow(T.Add(time.Duration(i) * 15 * time.Minute))
		res := f.scanner.Scan(context.Background())
		require.False(t, res.HasErrors())
	}

	assert.Len(t, f.transport.messages(), 1)
	r, err := f.db.GetReminder(context.Background(), model.ReminderKindCustom, "r1")
	require.NoError(t, err)
	assert.True(t, r.SentAt.Equal(T), "sent_at never rewritten")
}

func TestScan_IdempotentUnderOverlap(t *testing.T) {
	f := newFixture(t, T)
	f.transport.delay = 20 * time.Millisecond
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "r1", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Ship release", ScheduledAt: T,
	})

	const runs = 8
	results := make([]scanner.Result, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.scanner.Scan(context.Background())
		}(i)
	}
	wg.Wait()

	sent := 0
	for _, res := range results {
		require.False(t, res.HasErrors(), "%v", res.Errors)
		sent += res.Sent()
	}
	assert.Equal(t, 1, sent, "exactly one scan marks the record")
	assert.Len(t, f.transport.messages(), 1)
}

func TestScan_DelegateRecipient(t *testing.T) {
	f := newFixture(t, T)
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "e1", Kind: model.ReminderKindEvent, AccountID: "acct1",
		CreatedByDelegateID: testutil.Ptr("d1"), EmailEnabled: true,
		Title: "Client call", ScheduledAt: T, StartsAt: testutil.Ptr(T.Add(15 * time.Minute)),
	})

	res := f.scanner.Scan(context.Background())
	require.False(t, res.HasErrors(), "%v", res.Errors)

	msgs := f.transport.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "helper@example.com", msgs[0].To)
	assert.Contains(t, msgs[0].Body, "starts at")

	require.Len(t, f.events, 1)
	ev := f.events[0]
	assert.Equal(t, model.AudienceDelegate, ev.TargetAudience)
	assert.Equal(t, "d1", ev.RecipientDelegateID)
	assert.Equal(t, "helper@example.com", ev.RecipientDelegateEmail)
	assert.Equal(t, "e1", ev.ActionData["eventId"])
}

func TestScan_TransportFailureLeavesUnsent(t *testing.T) {
	f := newFixture(t, T)
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "r1", Kind: model.ReminderKindCustom, AccountID: "acct1",
		Title: "Follow up", ScheduledAt: T, EmailEnabled: true,
	})
	f.transport.setErr(errors.New("421 service not available"))

	res := f.scanner.Scan(context.Background())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.ErrorClassTransport, res.Errors[0].Class)
	assert.Equal(t, "r1", res.Errors[0].ReminderID)
	assert.Zero(t, res.Sent())

	r, err := f.db.GetReminder(context.Background(), model.ReminderKindCustom, "r1")
	require.NoError(t, err)
	assert.Nil(t, r.SentAt)

	// Retried on the next scan.
	f.transport.setErr(nil)
	f.setNow(T.Add(time.Minute))
	res = f.scanner.Scan(context.Background())
	require.False(t, res.HasErrors())
	assert.Equal(t, 1, res.Sent())
}

func TestScan_FailureIsolatedToRecord(t *testing.T) {
	f := newFixture(t, T)
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "orphan", Kind: model.ReminderKindTask, AccountID: "acct1",
		CreatedByDelegateID: testutil.Ptr("gone"),
		Title: "Orphaned", ScheduledAt: T.Add(-time.Minute),
	})
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "ok", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Fine", ScheduledAt: T,
	})

	res := f.scanner.Scan(context.Background())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.ErrorClassRecipient, res.Errors[0].Class)
	assert.Equal(t, "orphan", res.Errors[0].ReminderID)

	task := res.Kinds[model.ReminderKindTask]
	assert.Equal(t, 2, task.Candidates)
	assert.Equal(t, 1, task.Sent)
	assert.Equal(t, 1, task.Failed)

	// The trigger is still published for the failed record.
	assert.Len(t, f.events, 2)
}

func TestScan_MalformedAddressNamesReminder(t *testing.T) {
	f := newFixture(t, T)
	testutil.SeedAccount(t, f.db, "acct2", "not-an-address")
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "bad-addr", Kind: model.ReminderKindTask, AccountID: "acct2",
		Title: "Unreachable", ScheduledAt: T,
	})

	res := f.scanner.Scan(context.Background())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.ErrorClassRecipient, res.Errors[0].Class)

	var re *model.RecipientError
	require.ErrorAs(t, res.Errors[0].Err, &re)
	assert.Equal(t, "bad-addr", re.ReminderID)
	assert.Equal(t, "not-an-address", re.To)
	assert.Contains(t, res.Errors[0].Message, "bad-addr")
	assert.NotContains(t, res.Errors[0].Message, "task:bad-addr:")
	assert.Empty(t, f.transport.messages())
}

func TestScan_EnablementPerKind(t *testing.T) {
	f := newFixture(t, T)
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "t1", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Task ignores flag", ScheduledAt: T, EmailEnabled: false,
	})
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "e1", Kind: model.ReminderKindEvent, AccountID: "acct1",
		Title: "Event honours flag", ScheduledAt: T, EmailEnabled: false,
	})
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "c1", Kind: model.ReminderKindCustom, AccountID: "acct1",
		Title: "Custom honours flag", ScheduledAt: T, EmailEnabled: false,
	})

	res := f.scanner.Scan(context.Background())
	assert.Equal(t, 1, res.Kinds[model.ReminderKindTask].Sent)
	assert.Zero(t, res.Kinds[model.ReminderKindEvent].Candidates)
	assert.Zero(t, res.Kinds[model.ReminderKindCustom].Candidates)
}

func TestScan_LookaheadAndDeleted(t *testing.T) {
	f := newFixture(t, T)
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "soon", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Within lookahead", ScheduledAt: T.Add(30 * time.Second),
	})
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "later", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Beyond lookahead", ScheduledAt: T.Add(2 * time.Minute),
	})
	testutil.SeedReminder(t, f.db, model.Reminder{
		ID: "deleted", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Deleted", ScheduledAt: T.Add(-time.Hour), DeletedAt: testutil.Ptr(T.Add(-time.Minute)),
	})

	res := f.scanner.Scan(context.Background())
	require.False(t, res.HasErrors())
	assert.Equal(t, 1, res.Kinds[model.ReminderKindTask].Candidates)

	msgs := f.transport.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Task reminder: Within lookahead", msgs[0].Subject)
}

func TestScan_SuppressedSendStillMarks(t *testing.T) {
	clock, _ := testutil.FixedClock(T)
	db := testutil.NewTestStore(t)
	testutil.SeedAccount(t, db, "acct1", "owner@example.com")
	testutil.SeedReminder(t, db, model.Reminder{
		ID: "r1", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Retry after mark failure", ScheduledAt: T,
	})

	tr := &recordingTransport{}
	d := dispatch.New(tr, dispatch.WithClock(clock))
	// An earlier scan delivered but failed to record sent_at.
	_, err := d.Send(context.Background(), "owner@example.com", mailer.Content{Subject: "x"},
		dispatch.DedupKey(model.ReminderKindTask, "r1", "owner@example.com"))
	require.NoError(t, err)

	s := scanner.New(db, d, scanner.WithClock(clock))
	res := s.Scan(context.Background())
	require.False(t, res.HasErrors())
	assert.Equal(t, 1, res.Kinds[model.ReminderKindTask].Sent)
	assert.Equal(t, 1, res.Kinds[model.ReminderKindTask].Suppressed)
	assert.Len(t, tr.messages(), 1)
}
