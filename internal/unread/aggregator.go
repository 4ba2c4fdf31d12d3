// Package unread reconciles authoritative unread state against
// push-delivered invalidation signals. Push events only ever trigger a
// re-pull of server truth; no delta is applied locally, because read
// semantics across devices are the server's to adjudicate.
package unread

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/okineo/ripple/internal/channel"
	"github.com/okineo/ripple/internal/logging"
	"github.com/okineo/ripple/internal/models"
)

// DataSource is the authoritative pull side of the aggregator.
// *api.Client satisfies it.
type DataSource interface {
	HasUnreadChats(ctx context.Context, userID string) (bool, error)
	HasUnreadNotifications(ctx context.Context, userID string) (bool, error)
	FetchChats(ctx context.Context, userID string) ([]models.ChatSummary, error)
}

// Snapshot is the aggregator's current view.
type Snapshot struct {
	HasUnreadChats         bool
	HasUnreadNotifications bool
	Chats                  []models.ChatSummary
}

// Listener receives the snapshot after every applied update.
type Listener func(Snapshot)

// stream serializes one pull-on-invalidate pipeline: a response is
// applied only if its sequence number is the highest issued for the
// stream, so a slow stale pull can never overwrite a newer one.
type stream struct {
	issued  uint64
	applied uint64
}

// next reserves the next sequence number.
func (s *stream) next() uint64 {
	s.issued++
	return s.issued
}

// tryApply reports whether seq may be applied, recording it if so.
// Only the most recently issued pull may apply: if a newer pull is
// already in flight, this response is discarded even though it
// resolved first.
func (s *stream) tryApply(seq uint64) bool {
	if seq != s.issued || seq <= s.applied {
		return false
	}
	s.applied = seq
	return true
}

// Aggregator tracks unread chats, unread notifications, and the
// chat-list summaries for one bound identity.
type Aggregator struct {
	source DataSource
	logger zerolog.Logger

	mu        sync.Mutex
	identity  string
	gen       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	chats     stream
	notifs    stream
	chatList  stream
	state     Snapshot
	listeners map[int]Listener
	nextID    int
	disposers []func()
}

// NewAggregator creates an aggregator with no bound identity.
func NewAggregator(source DataSource) *Aggregator {
	return &Aggregator{
		source:    source,
		logger:    logging.Component("unread"),
		listeners: make(map[int]Listener),
	}
}

// BindIdentity starts tracking unread state for userID and issues the
// initial pulls for all streams. Results of pulls issued for a
// previous identity are discarded even if they resolve later.
func (a *Aggregator) BindIdentity(ctx context.Context, userID string) {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.identity = userID
	a.gen++
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.state = Snapshot{}
	a.chats = stream{}
	a.notifs = stream{}
	a.chatList = stream{}
	a.mu.Unlock()

	a.InvalidateChats()
	a.InvalidateNotifications()
	a.InvalidateChatList()
}

// UnbindIdentity stops tracking and cancels in-flight pulls. The
// snapshot resets to zero state.
func (a *Aggregator) UnbindIdentity() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.identity = ""
	a.ctx = nil
	a.state = Snapshot{}
	a.mu.Unlock()
	a.notify()
}

// Channel is the subset of the push-channel client the aggregator needs.
type Channel interface {
	On(event models.EventName, handler channel.EventHandler) func()
}

// BindChannel registers the invalidation triggers on the push channel.
// UnbindChannel releases them.
func (a *Aggregator) BindChannel(client Channel) {
	onChats := func(*models.Envelope) {
		a.InvalidateChats()
		a.InvalidateChatList()
	}
	onNotifs := func(*models.Envelope) {
		a.InvalidateNotifications()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.disposers) > 0 {
		return
	}
	a.disposers = append(a.disposers,
		client.On(models.EventGetMessage, onChats),
		client.On(models.EventCheckUnreadChats, onChats),
		client.On(models.EventGetNotification, onNotifs),
		client.On(models.EventCheckUnreadNotification, onNotifs),
	)
}

// UnbindChannel releases the channel subscriptions registered by BindChannel.
func (a *Aggregator) UnbindChannel() {
	a.mu.Lock()
	disposers := a.disposers
	a.disposers = nil
	a.mu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
}

// Subscribe registers a listener for snapshot changes and returns a
// disposer.
func (a *Aggregator) Subscribe(listener Listener) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = listener
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

// Snapshot returns the current view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// InvalidateChats re-pulls the unread-chats flag. The pull runs
// asynchronously; the caller (typically a push-event handler) is never
// blocked on the data service.
func (a *Aggregator) InvalidateChats() {
	a.invalidate(&a.chats, "unread-chats", func(ctx context.Context, userID string) (func(*Snapshot), error) {
		has, err := a.source.HasUnreadChats(ctx, userID)
		if err != nil {
			return nil, err
		}
		return func(s *Snapshot) { s.HasUnreadChats = has }, nil
	})
}

// InvalidateNotifications re-pulls the unread-notifications flag.
func (a *Aggregator) InvalidateNotifications() {
	a.invalidate(&a.notifs, "unread-notifications", func(ctx context.Context, userID string) (func(*Snapshot), error) {
		has, err := a.source.HasUnreadNotifications(ctx, userID)
		if err != nil {
			return nil, err
		}
		return func(s *Snapshot) { s.HasUnreadNotifications = has }, nil
	})
}

// InvalidateChatList re-pulls the full chat summaries.
func (a *Aggregator) InvalidateChatList() {
	a.invalidate(&a.chatList, "chat-list", func(ctx context.Context, userID string) (func(*Snapshot), error) {
		chats, err := a.source.FetchChats(ctx, userID)
		if err != nil {
			return nil, err
		}
		return func(s *Snapshot) { s.Chats = chats }, nil
	})
}

// invalidate issues one sequenced pull for a stream. The result is
// applied only when (a) the identity captured at request time still
// matches, and (b) no response with a higher sequence number has been
// applied. A failed pull logs and retains the previous snapshot.
func (a *Aggregator) invalidate(st *stream, name string, pull func(context.Context, string) (func(*Snapshot), error)) {
	a.mu.Lock()
	if a.identity == "" || a.ctx == nil {
		a.mu.Unlock()
		return
	}
	identity := a.identity
	gen := a.gen
	ctx := a.ctx
	seq := st.next()
	a.mu.Unlock()

	go func() {
		apply, err := pull(ctx, identity)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn().Err(err).Str("stream", name).Msg("pull failed, keeping previous state")
			}
			return
		}

		a.mu.Lock()
		// The generation guard also covers a logout/login of the same
		// identity while this pull was in flight.
		if a.gen != gen || a.identity != identity || !st.tryApply(seq) {
			// Superseded or re-bound: stale response, silently discarded.
			a.mu.Unlock()
			return
		}
		apply(&a.state)
		a.mu.Unlock()
		a.notify()
	}()
}

func (a *Aggregator) notify() {
	a.mu.Lock()
	listeners := make([]Listener, 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l)
	}
	state := a.state
	a.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}
