package notifications

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/reminders/internal/model"
	"github.com/nhle/reminders/internal/theme"
)

// typeLabels maps notification types to their short list badges.
var typeLabels = map[model.NotificationType]string{
	model.NotificationTaskReminder:   "TASK",
	model.NotificationEventReminder:  "EVENT",
	model.NotificationCustomReminder: "REMIND",
	model.NotificationBookingCreated: "BOOKING",
}

func typeLabel(t model.NotificationType) string {
	if l, ok := typeLabels[t]; ok {
		return l
	}
	return "INFO"
}

// renderRow draws a single notification line.
func renderRow(n model.StoredNotification, selected, latest bool, now time.Time) string {
	marker := "●"
	if n.Read {
		marker = " "
	}

	badge := theme.TypeLabelStyle(string(n.Type)).Render(typeLabel(n.Type))

	text := n.Title
	if msg := strings.TrimSpace(n.Message); msg != "" && msg != n.Title {
		text += ": " + msg
	}

	when := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(n.CreatedAt, now))

	newTag := ""
	if latest {
		newTag = theme.LatestStyle.Render(" NEW")
	}

	line := fmt.Sprintf("%s %s %s%s  %s", marker, badge, text, newTag, when)

	if n.Read {
		line = theme.ReadStyle.Render(line)
	}
	if selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
