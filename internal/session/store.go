// Package session holds the authoritative, versioned representation of
// the signed-in user's profile and social-graph edges. The store is a
// single-writer state machine mutated only through Apply.
package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/okineo/ripple/internal/logging"
	"github.com/okineo/ripple/internal/models"
)

// State is the store's authentication state.
type State int

const (
	// StateUnauthenticated means no profile is present.
	StateUnauthenticated State = iota

	// StateAuthenticated means a profile is present.
	StateAuthenticated
)

// Snapshot is an immutable view handed to rendering consumers.
type Snapshot struct {
	State   State
	Version uint64
	Profile *models.Profile // nil when unauthenticated; deep copy otherwise
}

// Authenticated reports whether a profile is present.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated
}

// Listener receives a snapshot after every applied action.
type Listener func(Snapshot)

// Store is the session/profile state machine.
type Store struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	state     State
	version   uint64
	profile   *models.Profile
	listeners map[int]Listener
	nextID    int
}

// NewStore creates a store in the Unauthenticated state.
func NewStore() *Store {
	return &Store{
		logger:    logging.Component("session"),
		listeners: make(map[int]Listener),
	}
}

// Snapshot returns the current state with a deep copy of the profile.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{State: s.state, Version: s.version, Profile: s.profile.Clone()}
}

// UserID returns the signed-in user's ID, or "" when unauthenticated.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return ""
	}
	return s.profile.ID
}

// Subscribe registers a listener invoked after every applied action,
// with the post-action snapshot. Returns a disposer.
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Apply runs one transition. Every transition is total: actions that
// do not apply in the current state are discarded, and set removals of
// absent members are no-ops. Apply never fails.
func (s *Store) Apply(action Action) {
	s.mu.Lock()
	changed := s.reduce(action)
	var snap Snapshot
	var listeners []Listener
	if changed {
		s.version++
		snap = Snapshot{State: s.state, Version: s.version, Profile: s.profile.Clone()}
		listeners = make([]Listener, 0, len(s.listeners))
		for _, l := range s.listeners {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// reduce applies the action under the store lock and reports whether
// state changed.
func (s *Store) reduce(action Action) bool {
	switch action.Type {
	case ActionLogin:
		if action.Profile == nil {
			return false
		}
		// Re-login replaces the profile wholesale; the transition is
		// total rather than an error on a stale session.
		s.state = StateAuthenticated
		s.profile = action.Profile.Clone().Normalize()
		return true

	case ActionLogout:
		if s.state != StateAuthenticated {
			return false
		}
		s.state = StateUnauthenticated
		s.profile = nil
		return true

	case ActionRefetch:
		if s.state != StateAuthenticated || action.Profile == nil {
			return false
		}
		s.profile = action.Profile.Clone().Normalize()
		return true
	}

	// Social-graph deltas arrive only over a channel that should not
	// be bound while unauthenticated; discard defensively if one does.
	if s.state != StateAuthenticated || action.SourceID == "" {
		if action.SourceID != "" {
			s.logger.Debug().Str("action", string(action.Type)).Msg("discarding delta while unauthenticated")
		}
		return false
	}

	id := action.SourceID
	p := s.profile

	switch action.Type {
	case ActionFollowed:
		// Blocking and being followed are independent: no blockedUsers
		// removal here. A follower cannot also be pending-incoming.
		p.Followers.Add(id)
		p.PendingIncoming.Remove(id)

	case ActionUnfollowed:
		p.Followers.Remove(id)

	case ActionRequestReceived:
		p.PendingIncoming.Add(id)
		p.Followers.Remove(id)

	case ActionRequestAccepted:
		// The event always concerns an outgoing request; a payload ID
		// absent from the pending set is tolerated, not rejected.
		p.PendingOutgoing.Remove(id)
		p.Following.Add(id)

	case ActionRequestRejected:
		p.PendingOutgoing.Remove(id)

	default:
		return false
	}
	return true
}
