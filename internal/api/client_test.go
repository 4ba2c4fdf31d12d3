package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogin_InstallsToken(t *testing.T) {
	var sawBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/login", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sawBody))
		json.NewEncoder(w).Encode(map[string]any{
			"token": "tok-123",
			"user":  map[string]any{"id": "u1", "username": "ada"},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	resp, err := client.Login(context.Background(), "ada", "secret")
	require.NoError(t, err)
	require.Equal(t, "tok-123", resp.Token)
	require.Equal(t, "u1", resp.User.ID)
	require.Equal(t, map[string]string{"username": "ada", "password": "secret"}, sawBody)

	client.mu.RLock()
	defer client.mu.RUnlock()
	require.Equal(t, "tok-123", client.token)
}

func TestLogin_RejectsIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"token": "tok-123"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.Login(context.Background(), "ada", "secret")
	require.Error(t, err)
}

func TestTokenHeaderAttachedToAuthorizedCalls(t *testing.T) {
	var sawToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawToken = r.Header.Get("token")
		json.NewEncoder(w).Encode(map[string]any{"id": "u1", "username": "ada"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	client.SetToken("tok-abc")

	_, err := client.FetchProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "tok-abc", sawToken)

	client.ClearToken()
	_, err = client.FetchProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "", sawToken)
}

func TestFetchProfile_NormalizesSets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/users/u1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"id":       "u1",
			"username":  "ada",
			"followers": []string{"u2", "u2", "u3"},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	profile, err := client.FetchProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, profile.Followers.Has("u2"))
	require.True(t, profile.Followers.Has("u3"))
	require.Len(t, profile.Followers, 2)
	require.NotNil(t, profile.Following)
	require.NotNil(t, profile.BlockedUsers)
}

func TestUnreadFlagEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chats/u1/has-unread":
			json.NewEncoder(w).Encode(map[string]bool{"hasUnreadChats": true})
		case "/api/notifications/u1/has-unread":
			json.NewEncoder(w).Encode(map[string]bool{"hasUnreadNotifications": false})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})

	chats, err := client.HasUnreadChats(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, chats)

	notifs, err := client.HasUnreadNotifications(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, notifs)
}

func TestSearchUsers_EscapesQuery(t *testing.T) {
	var sawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawQuery = r.URL.Query().Get("username")
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "u2", "username": "ada lovelace"},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	results, err := client.SearchUsers(context.Background(), "ada lovelace")
	require.NoError(t, err)
	require.Equal(t, "ada lovelace", sawQuery)
	require.Len(t, results, 1)
	require.Equal(t, "u2", results[0].ID)
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrUnauthorized)
			},
		},
		{
			name:   "forbidden maps to unauthorized",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrUnauthorized)
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNotFound)
			},
		},
		{
			name:   "other statuses carry the code",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				require.True(t, errors.As(err, &statusErr))
				require.Equal(t, http.StatusBadGateway, statusErr.Code)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewClient(Config{BaseURL: srv.URL})
			_, err := client.FetchProfile(context.Background(), "u1")
			tt.check(t, err)
		})
	}
}

func TestFetchChats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chats/u1", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"id":         "c1",
				"counterpart": map[string]any{"id": "u2", "username": "grace"},
				"lastMessage": map[string]any{"content": "hi", "senderId": "u2"},
				"unreadCount": 3,
			},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	chats, err := client.FetchChats(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, "c1", chats[0].ID)
	require.Equal(t, 3, chats[0].UnreadCount)
	require.NotNil(t, chats[0].LastMessage)
	require.Equal(t, "hi", chats[0].LastMessage.Content)
}
