package inbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/reminders/internal/bus"
	"github.com/nhle/reminders/internal/clientstore"
	"github.com/nhle/reminders/internal/model"
)

func TestFanout_PersistsPerRecipient(t *testing.T) {
	backend := clientstore.NewMemory()
	f := NewFanout(backend, nil)
	t.Cleanup(f.Close)

	b := bus.New("notifications")
	f.Attach(b)

	owner := model.Reminder{ID: "c1", Kind: model.ReminderKindCustom, AccountID: "acct1", Title: "Follow up"}
	byDelegate := model.Reminder{
		ID: "t1", Kind: model.ReminderKindTask, AccountID: "acct1", Title: "Prep slides",
		CreatedByDelegateID: func() *string { s := "d1"; return &s }(),
	}
	helper := &model.Delegate{ID: "d1", AccountID: "acct1", Email: "helper@example.com"}

	b.Publish(model.ReminderEvent(owner, nil))
	b.Publish(model.ReminderEvent(owner, nil))
	b.Publish(model.ReminderEvent(byDelegate, helper))
	assert.Equal(t, 2, f.Len())

	account := New(model.IdentityAccount, backend)
	require.NoError(t, account.SetIdentity(context.Background(), model.AccountIdentity("acct1")))
	require.Len(t, account.List(), 1)
	assert.Equal(t, "custom_reminder:c1", account.List()[0].ID)

	delegate := New(model.IdentityDelegate, backend)
	require.NoError(t, delegate.SetIdentity(context.Background(), model.DelegateIdentity("acct1", "helper@example.com")))
	require.Len(t, delegate.List(), 1)
	assert.Equal(t, "task_reminder:t1", delegate.List()[0].ID)
}

func TestFanout_SkipsUnattributable(t *testing.T) {
	f := NewFanout(clientstore.NewMemory(), nil)
	t.Cleanup(f.Close)

	assert.False(t, f.Handle(model.NotificationEvent{Title: "broadcast"}))
	assert.False(t, f.Handle(model.NotificationEvent{Title: "id only", RecipientAccountID: "acct1", RecipientDelegateID: "d1"}))
	assert.False(t, f.Handle(model.NotificationEvent{Title: "all delegates", RecipientAccountID: "acct1", TargetAudience: model.AudienceDelegate}))
	assert.Zero(t, f.Len())
}
