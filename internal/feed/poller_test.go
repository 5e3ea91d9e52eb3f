package feed_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/reminders/internal/bus"
	"github.com/nhle/reminders/internal/feed"
	"github.com/nhle/reminders/internal/model"
	"github.com/nhle/reminders/tests/testutil"
)

var start = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type collector struct {
	events []model.NotificationEvent
}

func (c *collector) Publish(ev model.NotificationEvent) {
	c.events = append(c.events, ev)
}

func TestPoll_PublishesOncePerReminder(t *testing.T) {
	db := testutil.NewTestStore(t)
	testutil.SeedAccount(t, db, "acct1", "owner@example.com")
	testutil.SeedDelegate(t, db, "acct1", "d1", "helper@example.com")

	testutil.SeedReminder(t, db, model.Reminder{
		ID: "before", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Sent before start", ScheduledAt: start.Add(-time.Hour),
		SentAt: testutil.Ptr(start.Add(-time.Minute)),
	})
	testutil.SeedReminder(t, db, model.Reminder{
		ID: "c1", Kind: model.ReminderKindCustom, AccountID: "acct1", EmailEnabled: true,
		Title: "Follow up", ScheduledAt: start, SentAt: testutil.Ptr(start.Add(10 * time.Second)),
	})
	testutil.SeedReminder(t, db, model.Reminder{
		ID: "e1", Kind: model.ReminderKindEvent, AccountID: "acct1", EmailEnabled: true,
		CreatedByDelegateID: testutil.Ptr("d1"),
		Title: "Client call", ScheduledAt: start, SentAt: testutil.Ptr(start.Add(20 * time.Second)),
	})

	pub := &collector{}
	p := feed.New(db, pub, "acct1", feed.WithSince(start))

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.events, 2)

	assert.Equal(t, "c1", pub.events[0].ActionData["reminderId"], "oldest first")
	assert.Equal(t, model.AudienceAccount, pub.events[0].TargetAudience)

	delegated := pub.events[1]
	assert.Equal(t, "e1", delegated.ActionData["eventId"])
	assert.Equal(t, "d1", delegated.RecipientDelegateID)
	assert.Equal(t, "helper@example.com", delegated.RecipientDelegateEmail)
	assert.True(t, delegated.OccurredAt.Equal(start.Add(20*time.Second)))
	assert.True(t, p.Mark().Equal(start.Add(20*time.Second)))

	n, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "nothing new")

	// A reminder sent in the same second as the mark is still picked up.
	testutil.SeedReminder(t, db, model.Reminder{
		ID: "t2", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Same second", ScheduledAt: start, SentAt: testutil.Ptr(start.Add(20 * time.Second)),
	})
	testutil.SeedReminder(t, db, model.Reminder{
		ID: "t3", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Later", ScheduledAt: start, SentAt: testutil.Ptr(start.Add(time.Minute)),
	})

	n, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "t2", pub.events[2].ActionData["taskId"])
	assert.Equal(t, "t3", pub.events[3].ActionData["taskId"])
}

func TestPoll_LateCommitBehindMark(t *testing.T) {
	db := testutil.NewTestStore(t)
	testutil.SeedAccount(t, db, "acct1", "owner@example.com")

	testutil.SeedReminder(t, db, model.Reminder{
		ID: "a", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Committed first", ScheduledAt: start, SentAt: testutil.Ptr(start.Add(6 * time.Second)),
	})

	pub := &collector{}
	p := feed.New(db, pub, "acct1", feed.WithSince(start))
	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// An overlapping scan commits an older sent_at after the mark moved on.
	testutil.SeedReminder(t, db, model.Reminder{
		ID: "b", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Committed second", ScheduledAt: start, SentAt: testutil.Ptr(start.Add(5 * time.Second)),
	})

	for i := 0; i < 3; i++ {
		_, err = p.Poll(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, pub.events, 2)
	assert.Equal(t, "b", pub.events[1].ActionData["taskId"])
	assert.True(t, p.Mark().Equal(start.Add(6*time.Second)))
}

func TestPoll_ForgetsRemindersOutsideLookback(t *testing.T) {
	db := testutil.NewTestStore(t)
	testutil.SeedAccount(t, db, "acct1", "owner@example.com")

	testutil.SeedReminder(t, db, model.Reminder{
		ID: "old", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Early", ScheduledAt: start, SentAt: testutil.Ptr(start.Add(time.Second)),
	})
	pub := &collector{}
	p := feed.New(db, pub, "acct1", feed.WithSince(start), feed.WithLookback(time.Minute))

	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Pending())

	testutil.SeedReminder(t, db, model.Reminder{
		ID: "new", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Much later", ScheduledAt: start, SentAt: testutil.Ptr(start.Add(10 * time.Minute)),
	})
	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Pending(), "only the reminder inside the window is remembered")
	assert.Len(t, pub.events, 2)

	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, pub.events, 2, "the forgotten reminder is outside the query window")
}

func TestPoll_OtherAccountIgnored(t *testing.T) {
	db := testutil.NewTestStore(t)
	testutil.SeedAccount(t, db, "acct1", "owner@example.com")
	testutil.SeedAccount(t, db, "acct2", "other@example.com")
	testutil.SeedReminder(t, db, model.Reminder{
		ID: "x", Kind: model.ReminderKindTask, AccountID: "acct2",
		Title: "Not ours", ScheduledAt: start, SentAt: testutil.Ptr(start.Add(time.Second)),
	})

	pub := &collector{}
	p := feed.New(db, pub, "acct1", feed.WithSince(start))
	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartClose_DeliversToBus(t *testing.T) {
	db := testutil.NewTestStore(t)
	testutil.SeedAccount(t, db, "acct1", "owner@example.com")
	testutil.SeedReminder(t, db, model.Reminder{
		ID: "t1", Kind: model.ReminderKindTask, AccountID: "acct1",
		Title: "Standup", ScheduledAt: start, SentAt: testutil.Ptr(start.Add(time.Second)),
	})

	b := bus.New("notifications")
	got := make(chan model.NotificationEvent, 1)
	b.Subscribe(func(ev model.NotificationEvent) {
		select {
		case got <- ev:
		default:
		}
	})

	p := feed.New(db, b, "acct1", feed.WithSince(start), feed.WithInterval(time.Hour))
	p.Start()
	defer p.Close()

	select {
	case ev := <-got:
		assert.Equal(t, "t1", ev.ActionData["taskId"])
	case <-time.After(2 * time.Second):
		t.Fatal("initial poll did not publish")
	}
}
