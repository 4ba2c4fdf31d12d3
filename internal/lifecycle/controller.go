// Package lifecycle binds the push channel's identity to the signed-in
// user and wires the presence, session, and unread components to the
// channel for the lifetime of a session.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/okineo/ripple/internal/api"
	"github.com/okineo/ripple/internal/channel"
	"github.com/okineo/ripple/internal/db"
	"github.com/okineo/ripple/internal/logging"
	"github.com/okineo/ripple/internal/models"
	"github.com/okineo/ripple/internal/presence"
	"github.com/okineo/ripple/internal/session"
	"github.com/okineo/ripple/internal/unread"
)

// PushChannel is the subset of the push-channel client the controller
// drives. *channel.Client satisfies it.
type PushChannel interface {
	Connect(ctx context.Context) error
	Disconnect()
	Identify(userID string)
	EmitSync(event models.EventName, payload any) error
	On(event models.EventName, handler channel.EventHandler) func()
	OnConnectionChange(handler channel.StateHandler) func()
}

// Controller owns the bind/unbind lifecycle. It is the single writer
// of the channel identity; the session store remains the single writer
// of the profile.
type Controller struct {
	store    *session.Store
	channel  PushChannel
	tracker  *presence.Tracker
	unread   *unread.Aggregator
	data     *api.Client
	sessions *db.SessionRepository
	logger   zerolog.Logger

	mu         sync.Mutex
	runCtx     context.Context
	boundUser  string
	bindCtx    context.Context
	bindCancel context.CancelFunc
	disposers  []func()
	storeUnsub func()
}

// NewController wires the engine components together.
func NewController(
	store *session.Store,
	ch PushChannel,
	tracker *presence.Tracker,
	aggregator *unread.Aggregator,
	data *api.Client,
	sessions *db.SessionRepository,
) *Controller {
	return &Controller{
		store:    store,
		channel:  ch,
		tracker:  tracker,
		unread:   aggregator,
		data:     data,
		sessions: sessions,
		logger:   logging.Component("lifecycle"),
	}
}

// Start reads the persisted session to decide the initial state and
// begins reacting to store transitions. With a stored token the
// profile is fetched and a login transition applied; otherwise the
// process starts Unauthenticated.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.storeUnsub = c.store.Subscribe(c.onStoreChange)
	c.mu.Unlock()

	stored, err := c.sessions.Load(ctx)
	if err != nil {
		if errors.Is(err, db.ErrNoSession) {
			c.logger.Debug().Msg("no stored session, starting unauthenticated")
			return nil
		}
		return fmt.Errorf("failed to load stored session: %w", err)
	}

	c.data.SetToken(stored.Token)
	profile, err := c.data.FetchProfile(ctx, stored.UserID)
	if err != nil {
		// The token may simply be expired; fall back to unauthenticated
		// rather than failing startup.
		c.logger.Warn().Err(err).Msg("stored session unusable, starting unauthenticated")
		c.data.ClearToken()
		return nil
	}

	c.store.Apply(session.Login(profile))
	return nil
}

// Stop tears down the channel binding without logging out: the
// persisted session survives for the next process start.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.storeUnsub != nil {
		c.storeUnsub()
		c.storeUnsub = nil
	}
	c.mu.Unlock()

	c.unbind()
}

// Login authenticates against the data service, persists the session,
// and applies the login transition (which binds the channel).
func (c *Controller) Login(ctx context.Context, username, password string) error {
	resp, err := c.data.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := c.sessions.Save(ctx, resp.Token, resp.User.ID); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	c.store.Apply(session.Login(resp.User))
	return nil
}

// Logout applies the logout transition (which unbinds the channel and
// emits removeUser) and clears the persisted session and token.
func (c *Controller) Logout(ctx context.Context) error {
	c.store.Apply(session.Logout())
	c.data.ClearToken()
	if err := c.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear stored session: %w", err)
	}
	return nil
}

// onStoreChange reacts to session transitions: entering Authenticated
// binds the channel identity, leaving it unbinds.
func (c *Controller) onStoreChange(snap session.Snapshot) {
	if snap.Authenticated() {
		c.bind(snap.Profile.ID)
		return
	}
	c.unbind()
}

// bind connects and identifies the channel, registers every event
// handler for the engine components, and triggers the initial profile
// refetch plus initial unread pulls.
func (c *Controller) bind(userID string) {
	c.mu.Lock()
	if c.boundUser == userID {
		c.mu.Unlock()
		return
	}
	if c.boundUser != "" {
		c.mu.Unlock()
		// Re-login as a different identity: tear the old binding down
		// first so its in-flight work is discarded.
		c.unbind()
		c.mu.Lock()
	}

	runCtx := c.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	bindCtx, cancel := context.WithCancel(runCtx)
	c.boundUser = userID
	c.bindCtx = bindCtx
	c.bindCancel = cancel

	if err := c.channel.Connect(bindCtx); err != nil {
		c.logger.Error().Err(err).Msg("failed to start channel")
	}
	c.channel.Identify(userID)

	c.tracker.Bind(c.channel)
	c.unread.BindChannel(c.channel)
	c.disposers = c.registerProfileHandlers()
	c.mu.Unlock()

	c.logger.Info().Str("user_id", userID).Msg("channel identity bound")

	c.unread.BindIdentity(bindCtx, userID)
	c.refetchProfile(bindCtx, userID)
}

// unbind announces departure, unregisters every handler registered at
// bind time, and disconnects.
func (c *Controller) unbind() {
	c.mu.Lock()
	if c.boundUser == "" {
		c.mu.Unlock()
		return
	}
	userID := c.boundUser
	disposers := c.disposers
	cancel := c.bindCancel
	c.boundUser = ""
	c.bindCtx = nil
	c.bindCancel = nil
	c.disposers = nil
	c.mu.Unlock()

	// Announce departure while the connection's write side is still
	// alive: the bind context owns the write pump, so the emit must
	// precede cancellation or the frame never reaches the wire.
	if err := c.channel.EmitSync(models.EventRemoveUser, userID); err != nil {
		c.logger.Debug().Err(err).Msg("departure announcement not delivered")
	}
	cancel()

	for _, dispose := range disposers {
		dispose()
	}
	c.tracker.Unbind()
	c.unread.UnbindChannel()
	c.unread.UnbindIdentity()
	c.channel.Disconnect()

	c.logger.Info().Str("user_id", userID).Msg("channel identity unbound")
}

// registerProfileHandlers routes the social-graph push events into
// store actions. Caller holds c.mu.
func (c *Controller) registerProfileHandlers() []func() {
	route := func(event models.EventName, action session.ActionType) func() {
		return c.channel.On(event, func(env *models.Envelope) {
			sourceID, err := env.UserPayload()
			if err != nil || sourceID == "" {
				c.logger.Debug().Str("event", string(event)).Msg("dropping delta with bad payload")
				return
			}
			c.store.Apply(session.Delta(action, sourceID))
		})
	}

	return []func(){
		route(models.EventGetFollowed, session.ActionFollowed),
		route(models.EventGetUnfollowed, session.ActionUnfollowed),
		route(models.EventGetRequest, session.ActionRequestReceived),
		route(models.EventGetRequestAccepted, session.ActionRequestAccepted),
		route(models.EventGetRequestRejected, session.ActionRequestRejected),
	}
}

// refetchProfile re-syncs the profile from the data service. The
// result is discarded if the bound identity changed while in flight.
func (c *Controller) refetchProfile(ctx context.Context, userID string) {
	go func() {
		profile, err := c.data.FetchProfile(ctx, userID)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("profile refetch failed, keeping previous snapshot")
			}
			return
		}
		if c.store.UserID() != userID {
			return
		}
		c.store.Apply(session.Refetch(profile))
	}()
}
