package tui

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/okineo/ripple/internal/models"
	"github.com/okineo/ripple/internal/session"
	"github.com/okineo/ripple/internal/unread"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short ascii", "hello", 40, "hello"},
		{"exact length", strings.Repeat("a", 40), 40, strings.Repeat("a", 40)},
		{"long ascii", strings.Repeat("a", 50), 40, strings.Repeat("a", 37) + "..."},
		{"multibyte at boundary", strings.Repeat("ä", 50), 40, strings.Repeat("ä", 37) + "..."},
		{"emoji content", strings.Repeat("🙂", 45), 40, strings.Repeat("🙂", 37) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			require.Equal(t, tt.want, got)
			require.True(t, utf8.ValidString(got))
		})
	}
}

func TestChatsViewRendersMultibytePreview(t *testing.T) {
	profile := (&models.Profile{ID: "u1", Username: "ada"}).Normalize()
	m := Model{
		session: session.Snapshot{State: session.StateAuthenticated, Version: 1, Profile: profile},
		unread: unread.Snapshot{
			Chats: []models.ChatSummary{{
				ID:          "c1",
				Counterpart: models.UserRef{ID: "u2", Username: "grace"},
				LastMessage: &models.LastMessage{Content: strings.Repeat("héllo wörld ", 10), SenderID: "u2"},
				UnreadCount: 1,
			}},
		},
	}

	view := m.View()
	require.True(t, utf8.ValidString(view))
	require.Contains(t, view, "grace")
	require.Contains(t, view, "...")
	require.NotContains(t, view, string(utf8.RuneError))
}
