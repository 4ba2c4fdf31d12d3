// Package api is the client for the authoritative request/response
// data service. It is deliberately thin: the engine treats every call
// here as a slow, fallible pull whose result may be superseded.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/okineo/ripple/internal/logging"
	"github.com/okineo/ripple/internal/models"
)

// Client errors.
var (
	ErrUnauthorized = errors.New("data service rejected the session token")
	ErrNotFound     = errors.New("resource not found")
)

// StatusError reports a non-2xx data-service response.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
}

// Config contains data-service client settings.
type Config struct {
	// BaseURL is the service root, e.g. https://api.example.com.
	BaseURL string

	// Timeout bounds a single request. Default: 15s.
	Timeout time.Duration
}

// Client talks to the data service. The session token is attached to
// every authorized call; SetToken swaps it on login/logout.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a data-service client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logging.Component("api"),
	}
}

// SetToken installs the session token used on authorized calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken removes the session token.
func (c *Client) ClearToken() {
	c.SetToken("")
}

// LoginResponse is the payload returned by a successful login.
type LoginResponse struct {
	Token string          `json:"token"`
	User  *models.Profile `json:"user"`
}

// Login authenticates with the data service. On success the returned
// token is installed on the client.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	body := map[string]string{"username": username, "password": password}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" || resp.User == nil {
		return nil, fmt.Errorf("login response missing token or user")
	}
	resp.User.Normalize()
	c.SetToken(resp.Token)
	c.logger.Debug().Str("token", logging.RedactToken(resp.Token)).Msg("session established")
	return &resp, nil
}

// Register creates an account. It has no session side effects.
func (c *Client) Register(ctx context.Context, fullname, username, password string) error {
	body := map[string]string{"fullname": fullname, "username": username, "password": password}
	return c.do(ctx, http.MethodPost, "/api/auth/register", body, nil)
}

// FetchProfile retrieves the full user record by ID.
func (c *Client) FetchProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID), nil, &profile); err != nil {
		return nil, err
	}
	return profile.Normalize(), nil
}

// SearchUsers runs a substring username query. Ranking is the
// server's concern; results are passed through untouched.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.UserRef, error) {
	var results []models.UserRef
	path := "/api/users/search?username=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// HasUnreadChats asks whether the user has any unread chats.
func (c *Client) HasUnreadChats(ctx context.Context, userID string) (bool, error) {
	var flags models.UnreadFlags
	path := "/api/chats/" + url.PathEscape(userID) + "/has-unread"
	if err := c.do(ctx, http.MethodGet, path, nil, &flags); err != nil {
		return false, err
	}
	return flags.HasUnreadChats, nil
}

// HasUnreadNotifications asks whether the user has unread notifications.
func (c *Client) HasUnreadNotifications(ctx context.Context, userID string) (bool, error) {
	var flags models.UnreadFlags
	path := "/api/notifications/" + url.PathEscape(userID) + "/has-unread"
	if err := c.do(ctx, http.MethodGet, path, nil, &flags); err != nil {
		return false, err
	}
	return flags.HasUnreadNotifications, nil
}

// FetchChats retrieves the ordered chat summaries for the user.
func (c *Client) FetchChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	var chats []models.ChatSummary
	if err := c.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(userID), nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// do issues one request and decodes the response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("token", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}
