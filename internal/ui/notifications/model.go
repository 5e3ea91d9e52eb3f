// Package notifications is the terminal view over the account and delegate
// notification stores.
package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/reminders/internal/inbox"
	"github.com/nhle/reminders/internal/keys"
	"github.com/nhle/reminders/internal/model"
	"github.com/nhle/reminders/internal/theme"
)

// tickInterval refreshes relative times and expires the "new" highlight.
const tickInterval = time.Second

// Pane is one audience's list.
type Pane struct {
	Label string
	Store *inbox.Store
}

// RefreshFunc re-runs reconciliation for a store and reports how many
// notifications it added.
type RefreshFunc func(ctx context.Context, s *inbox.Store) (int, error)

// changedMsg is sent when a pane's store signals a change.
type changedMsg struct {
	pane int
}

type tickMsg time.Time

type refreshedMsg struct {
	added int
	err   error
}

// Model is the root inbox view.
type Model struct {
	panes   []Pane
	active  int
	cursor  int
	items   []model.StoredNotification
	latest  string
	keys    *keys.KeyMap
	help    help.Model
	refresh RefreshFunc
	now     func() time.Time

	showHelp     bool
	confirmClear bool
	status       string
	width        int
	height       int
}

// New creates the view. panes must not be empty.
func New(panes []Pane, k *keys.KeyMap, refresh RefreshFunc) Model {
	m := Model{
		panes:   panes,
		keys:    k,
		help:    help.New(),
		refresh: refresh,
		now:     time.Now,
		width:   80,
		height:  24,
	}
	m.reload()
	return m
}

// Init starts listening for store changes and the highlight ticker.
func (m Model) Init() tea.Cmd {
	cmds := make([]tea.Cmd, 0, len(m.panes)+1)
	for i := range m.panes {
		cmds = append(cmds, m.waitForChange(i))
	}
	cmds = append(cmds, tick())
	return tea.Batch(cmds...)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case changedMsg:
		if msg.pane == m.active {
			m.reload()
		}
		return m, m.waitForChange(msg.pane)

	case tickMsg:
		m.reload()
		return m, tick()

	case refreshedMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("refreshed, %d new", msg.added)
		}
		m.reload()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if !key.Matches(msg, m.keys.ClearAll) {
		m.confirmClear = false
	}

	store := m.panes[m.active].Store

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.SwitchAudience):
		m.active = (m.active + 1) % len(m.panes)
		m.cursor = 0
		m.status = ""
		m.reload()

	case key.Matches(msg, m.keys.MarkRead):
		if m.cursor < len(m.items) {
			store.MarkRead(m.items[m.cursor].ID)
			m.reload()
		}

	case key.Matches(msg, m.keys.MarkAllRead):
		store.MarkAllRead()
		m.reload()

	case key.Matches(msg, m.keys.ClearAll):
		if !m.confirmClear {
			m.confirmClear = true
			m.status = "press X again to clear all notifications"
			return m, nil
		}
		m.confirmClear = false
		store.ClearAll()
		m.status = "cleared"
		m.reload()

	case key.Matches(msg, m.keys.Refresh):
		if m.refresh == nil {
			return m, nil
		}
		m.status = "refreshing..."
		refresh := m.refresh
		return m, func() tea.Msg {
			added, err := refresh(context.Background(), store)
			return refreshedMsg{added: added, err: err}
		}
	}

	return m, nil
}

// reload snapshots the active store.
func (m *Model) reload() {
	store := m.panes[m.active].Store
	m.items = store.List()
	m.latest = ""
	if n, ok := store.Latest(); ok {
		m.latest = n.ID
	}
	if m.cursor >= len(m.items) {
		m.cursor = max(0, len(m.items)-1)
	}
}

func (m Model) waitForChange(i int) tea.Cmd {
	ch := m.panes[i].Store.Changes()
	return func() tea.Msg {
		<-ch
		return changedMsg{pane: i}
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// View renders the inbox.
func (m Model) View() string {
	header := m.renderHeader()
	footer := m.renderStatusBar()
	bodyHeight := max(1, m.height-lipgloss.Height(header)-lipgloss.Height(footer))

	var body string
	if m.showHelp {
		h := m.help
		h.ShowAll = true
		body = theme.PanelStyle.
			Width(max(0, m.width-4)).
			Render(lipgloss.JoinVertical(lipgloss.Left,
				lipgloss.NewStyle().Bold(true).MarginBottom(1).Render("Inbox Shortcuts"),
				h.View(m.keys),
			))
	} else {
		body = m.renderList(bodyHeight)
	}

	body = lipgloss.NewStyle().Height(bodyHeight).Render(body)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m Model) renderHeader() string {
	pane := m.panes[m.active]
	title := theme.HeaderStyle.Render("Inbox · " + pane.Label)

	unread := 0
	for _, n := range m.items {
		if !n.Read {
			unread++
		}
	}
	status := theme.HeaderStyle.Render(fmt.Sprintf("%d unread", unread))

	return fillBar(theme.HeaderStyle, m.width, title, status)
}

func (m Model) renderStatusBar() string {
	hint := m.status
	if hint == "" {
		hint = m.help.ShortHelpView(m.keys.ShortHelp())
	}
	return fillBar(theme.StatusBarStyle, m.width, theme.StatusBarStyle.Render(hint), "")
}

// fillBar pads between left and right with style's background.
func fillBar(style lipgloss.Style, width int, left, right string) string {
	gap := max(0, width-lipgloss.Width(left)-lipgloss.Width(right))
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")
	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

func (m Model) renderList(height int) string {
	if len(m.items) == 0 {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No notifications.")
	}

	// Keep the cursor in view.
	start := 0
	if m.cursor >= height {
		start = m.cursor - height + 1
	}
	end := min(len(m.items), start+height)

	now := m.now()
	rows := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		n := m.items[i]
		rows = append(rows, renderRow(n, i == m.cursor, n.ID == m.latest, now))
	}
	return strings.Join(rows, "\n")
}
