// Package tui is a terminal surface over the sync engine: it renders
// the session profile, online users, and unread state, re-rendering on
// every published snapshot. It never writes engine state.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/okineo/ripple/internal/presence"
	"github.com/okineo/ripple/internal/session"
	"github.com/okineo/ripple/internal/unread"
)

const maxChatRows = 20

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	badgeOnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	badgeOff     = lipgloss.NewStyle().Faint(true)
	onlineDot    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).SetString("●")
	sectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	faintStyle   = lipgloss.NewStyle().Faint(true)
	blockedStyle = lipgloss.NewStyle().Strikethrough(true).Faint(true)
	unreadCount  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
)

type sessionMsg session.Snapshot
type presenceMsg []string
type unreadMsg unread.Snapshot

// Run renders the engine state until the user quits. The returned
// error is the terminal program's, not the engine's.
func Run(store *session.Store, tracker *presence.Tracker, aggregator *unread.Aggregator) error {
	model := Model{
		session: store.Snapshot(),
		online:  tracker.Online(),
		unread:  aggregator.Snapshot(),
	}

	program := tea.NewProgram(model, tea.WithAltScreen())

	defer store.Subscribe(func(snap session.Snapshot) { program.Send(sessionMsg(snap)) })()
	defer tracker.Subscribe(func(online []string) { program.Send(presenceMsg(online)) })()
	defer aggregator.Subscribe(func(snap unread.Snapshot) { program.Send(unreadMsg(snap)) })()

	_, err := program.Run()
	return err
}

// Model is the bubbletea model for the watch surface.
type Model struct {
	session session.Snapshot
	online  []string
	unread  unread.Snapshot
	width   int
	height  int
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case sessionMsg:
		m.session = session.Snapshot(msg)
	case presenceMsg:
		m.online = []string(msg)
	case unreadMsg:
		m.unread = unread.Snapshot(msg)
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.headerView())
	b.WriteString("\n")

	if !m.session.Authenticated() {
		b.WriteString(faintStyle.Render("No active session. Run `ripple login` and restart."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.graphView())
	b.WriteString(m.presenceView())
	b.WriteString(m.chatsView())
	b.WriteString("\n" + faintStyle.Render("q: quit"))
	return b.String()
}

func (m Model) headerView() string {
	who := "signed out"
	if m.session.Authenticated() {
		who = m.session.Profile.Username
	}

	chats := badgeOff.Render("chats")
	if m.unread.HasUnreadChats {
		chats = badgeOnStyle.Render("chats ●")
	}
	notifs := badgeOff.Render("activity")
	if m.unread.HasUnreadNotifications {
		notifs = badgeOnStyle.Render("activity ●")
	}

	return titleStyle.Render(fmt.Sprintf("ripple · %s", who)) + "  " + chats + "  " + notifs
}

func (m Model) graphView() string {
	p := m.session.Profile
	line := fmt.Sprintf("followers %d · following %d · requests in %d / out %d",
		len(p.Followers), len(p.Following), len(p.PendingIncoming), len(p.PendingOutgoing))
	return sectionStyle.Render("Graph") + "\n" + line + "\n"
}

func (m Model) presenceView() string {
	out := sectionStyle.Render(fmt.Sprintf("Online (%d)", len(m.online))) + "\n"
	if len(m.online) == 0 {
		return out + faintStyle.Render("nobody online") + "\n"
	}
	for _, id := range m.online {
		out += onlineDot.String() + " " + id + "\n"
	}
	return out
}

func (m Model) chatsView() string {
	out := sectionStyle.Render("Chats") + "\n"
	if len(m.unread.Chats) == 0 {
		return out + faintStyle.Render("no conversations yet") + "\n"
	}

	blocked := m.session.Profile.BlockedUsers
	rows := m.unread.Chats
	if len(rows) > maxChatRows {
		rows = rows[:maxChatRows]
	}
	for _, chat := range rows {
		name := chat.Counterpart.Username
		if blocked.Has(chat.Counterpart.ID) {
			name = blockedStyle.Render(name)
		}
		line := name
		if m.isOnline(chat.Counterpart.ID) {
			line += " " + onlineDot.String()
		}
		if chat.LastMessage != nil {
			line += "  " + faintStyle.Render(truncate(chat.LastMessage.Content, 40))
		}
		if chat.UnreadCount > 0 {
			line += "  " + unreadCount.Render(fmt.Sprintf("(%d)", chat.UnreadCount))
		}
		out += line + "\n"
	}
	return out
}

// truncate shortens s to at most max runes. Previews carry user text,
// so slicing bytes could split a multibyte rune.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func (m Model) isOnline(userID string) bool {
	for _, id := range m.online {
		if id == userID {
			return true
		}
	}
	return false
}
