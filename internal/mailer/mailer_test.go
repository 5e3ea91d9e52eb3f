package mailer

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/reminders/internal/model"
)

func TestRender(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	starts := at.Add(15 * time.Minute)

	tests := []struct {
		name        string
		reminder    model.Reminder
		wantSubject string
		wantBody    []string
	}{
		{
			name:        "task",
			reminder:    model.Reminder{Kind: model.ReminderKindTask, Title: "Send invoice", Body: "Client A", ScheduledAt: at},
			wantSubject: "Task reminder: Send invoice",
			wantBody:    []string{`task "Send invoice"`, "Client A"},
		},
		{
			name:        "event with start",
			reminder:    model.Reminder{Kind: model.ReminderKindEvent, Title: "Standup", StartsAt: &starts, ScheduledAt: at},
			wantSubject: "Upcoming event: Standup",
			wantBody:    []string{"starts at Tue, 10 Mar 2026 09:15 UTC"},
		},
		{
			name:        "custom uses message",
			reminder:    model.Reminder{Kind: model.ReminderKindCustom, Title: "Follow up", Body: "Call client", ScheduledAt: at},
			wantSubject: "Reminder: Follow up",
			wantBody:    []string{"Call client"},
		},
		{
			name:        "custom without message falls back to title",
			reminder:    model.Reminder{Kind: model.ReminderKindCustom, Title: "Follow up", ScheduledAt: at},
			wantSubject: "Reminder: Follow up",
			wantBody:    []string{"Follow up\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.reminder)
			assert.Equal(t, tt.wantSubject, got.Subject)
			for _, want := range tt.wantBody {
				assert.Contains(t, got.Body, want)
			}
		})
	}
}

func TestComposeMessage(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	raw, err := ComposeMessage("Reminders <noreply@example.com>", Message{
		To:      "owner@example.com",
		Subject: "Reminder: Follow up",
		Body:    "Call client\n",
	}, at)
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer mr.Close()

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Reminder: Follow up", subject)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "owner@example.com", to[0].Address)

	date, err := mr.Header.Date()
	require.NoError(t, err)
	assert.True(t, date.Equal(at))

	msgID, err := mr.Header.MessageID()
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	part, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, "Call client\n", strings.ReplaceAll(string(body), "\r\n", "\n"))
}

func TestComposeMessage_InvalidRecipient(t *testing.T) {
	_, err := ComposeMessage("noreply@example.com", Message{To: "not an address"}, time.Now())
	require.Error(t, err)
}
