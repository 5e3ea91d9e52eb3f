package mailer

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nhle/reminders/internal/model"
)

// Message is a rendered email ready for a transport.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Transport delivers a rendered message. Implementations surface their own
// timeouts and provider errors.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Content is the subject and body rendered for a reminder.
type Content struct {
	Subject string
	Body    string
}

// Render produces the email content for a reminder of any kind.
func Render(r model.Reminder) Content {
	title := strings.TrimSpace(r.Title)

	var subject string
	var body strings.Builder

	switch r.Kind {
	case model.ReminderKindTask:
		subject = "Task reminder: " + title
		body.WriteString(fmt.Sprintf("This is a reminder for your task \"%s\".\n", title))
		if r.Body != "" {
			body.WriteString("\n" + r.Body + "\n")
		}
	case model.ReminderKindEvent:
		subject = "Upcoming event: " + title
		body.WriteString(fmt.Sprintf("Your event \"%s\"", title))
		if r.StartsAt != nil {
			body.WriteString(" starts at " + r.StartsAt.UTC().Format("Mon, 02 Jan 2006 15:04 MST"))
		}
		body.WriteString(".\n")
		if r.Body != "" {
			body.WriteString("\n" + r.Body + "\n")
		}
	default:
		subject = "Reminder: " + title
		if r.Body != "" {
			body.WriteString(r.Body + "\n")
		} else {
			body.WriteString(title + "\n")
		}
	}

	body.WriteString("\nScheduled for " + r.ScheduledAt.UTC().Format("Mon, 02 Jan 2006 15:04 MST") + ".\n")

	return Content{Subject: subject, Body: body.String()}
}

// LogTransport writes messages to a logger instead of sending them. It is
// used when no SMTP host is configured.
type LogTransport struct {
	Logger *log.Logger
}

// Send logs the message and always succeeds.
func (t LogTransport) Send(_ context.Context, msg Message) error {
	if t.Logger != nil {
		t.Logger.Printf("email to=%s subject=%q (%d bytes, not sent: no SMTP host)",
			msg.To, msg.Subject, len(msg.Body))
	}
	return nil
}
