// Package presence maintains the set of currently-online user IDs,
// driven solely by push-channel lifecycle and identity events.
package presence

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/okineo/ripple/internal/channel"
	"github.com/okineo/ripple/internal/logging"
	"github.com/okineo/ripple/internal/models"
)

// Listener receives the new online set after every change.
type Listener func(online []string)

// Tracker is the sole writer of the online set. The set is ephemeral:
// it is reconstructed per channel session and emptied on disconnect,
// assuming everyone offline until re-announced.
type Tracker struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	online    models.UserSet
	listeners map[int]Listener
	nextID    int

	disposers []func()
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		logger:    logging.Component("presence"),
		online:    models.UserSet{},
		listeners: make(map[int]Listener),
	}
}

// Channel is the subset of the push-channel client the tracker needs.
type Channel interface {
	On(event models.EventName, handler channel.EventHandler) func()
	OnConnectionChange(handler channel.StateHandler) func()
}

// Bind subscribes the tracker to the channel's presence events.
// Unbind releases the subscriptions.
func (t *Tracker) Bind(client Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.disposers) > 0 {
		return
	}

	t.disposers = append(t.disposers,
		client.On(models.EventUserConnected, t.onUserConnected),
		client.On(models.EventUserDisconnected, t.onUserDisconnected),
		client.On(models.EventOnlineUsers, t.onOnlineUsers),
		client.OnConnectionChange(t.onConnectionChange),
	)
}

// Unbind releases the channel subscriptions registered by Bind.
func (t *Tracker) Unbind() {
	t.mu.Lock()
	disposers := t.disposers
	t.disposers = nil
	t.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
}

// Subscribe registers a listener for online-set changes and returns a
// disposer. The listener is not called with the current state.
func (t *Tracker) Subscribe(listener Listener) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = listener
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

// Online returns the current online set in sorted order.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online.IDs()
}

// IsOnline reports whether the given user is currently announced online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online.Has(userID)
}

func (t *Tracker) onUserConnected(env *models.Envelope) {
	userID, err := env.UserPayload()
	if err != nil || userID == "" {
		return
	}
	t.mu.Lock()
	t.online.Add(userID)
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) onUserDisconnected(env *models.Envelope) {
	userID, err := env.UserPayload()
	if err != nil || userID == "" {
		return
	}
	t.mu.Lock()
	t.online.Remove(userID)
	t.mu.Unlock()
	t.notify()
}

// onOnlineUsers replaces the set wholesale from a server snapshot,
// reconciling any deltas missed across a reconnect.
func (t *Tracker) onOnlineUsers(env *models.Envelope) {
	ids, err := env.UserListPayload()
	if err != nil {
		t.logger.Debug().Err(err).Msg("dropping malformed online snapshot")
		return
	}
	t.mu.Lock()
	t.online = models.NewUserSet(ids...)
	t.mu.Unlock()
	t.notify()
}

// onConnectionChange empties the set when the channel drops: presence
// is only meaningful while deltas are flowing.
func (t *Tracker) onConnectionChange(connected bool) {
	if connected {
		return
	}
	t.mu.Lock()
	changed := len(t.online) > 0
	t.online = models.UserSet{}
	t.mu.Unlock()
	if changed {
		t.notify()
	}
}

func (t *Tracker) notify() {
	t.mu.RLock()
	listeners := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	online := t.online.IDs()
	t.mu.RUnlock()

	for _, l := range listeners {
		l(online)
	}
}
