package models

import (
	"encoding/json"
	"sort"
)

// UserSet is a set of user IDs. The zero value is usable for reads;
// use NewUserSet or Add to build one.
type UserSet map[string]struct{}

// NewUserSet creates a set from the given IDs.
func NewUserSet(ids ...string) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s UserSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id. Inserting an existing id is a no-op.
func (s UserSet) Add(id string) {
	s[id] = struct{}{}
}

// Remove deletes id. Removing a missing id is a no-op.
func (s UserSet) Remove(id string) {
	delete(s, id)
}

// Clone returns an independent copy of the set.
func (s UserSet) Clone() UserSet {
	out := make(UserSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// IDs returns the members in sorted order.
func (s UserSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON encodes the set as a sorted JSON array of IDs, matching
// the wire shape the data service uses for edge lists.
func (s UserSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

// UnmarshalJSON decodes a JSON array of IDs.
func (s *UserSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewUserSet(ids...)
	return nil
}

// Profile is the signed-in user's aggregate: identity fields plus the
// social-graph edge sets. A given ID appears in at most one of
// {Following, PendingOutgoing} and at most one of {Followers, PendingIncoming};
// the session store's transitions maintain that.
type Profile struct {
	ID              string  `json:"id"`
	Fullname        string  `json:"fullname"`
	Username        string  `json:"username"`
	ProfilePicture  string  `json:"profilePicture,omitempty"`
	Followers       UserSet `json:"followers"`
	Following       UserSet `json:"following"`
	PendingIncoming UserSet `json:"pendingIncomingRequests"`
	PendingOutgoing UserSet `json:"pendingOutgoingRequests"`
	BlockedUsers    UserSet `json:"blockedUsers"`
}

// Normalize replaces nil edge sets with empty ones so callers can
// mutate without nil checks. Returns the receiver for chaining.
func (p *Profile) Normalize() *Profile {
	if p.Followers == nil {
		p.Followers = UserSet{}
	}
	if p.Following == nil {
		p.Following = UserSet{}
	}
	if p.PendingIncoming == nil {
		p.PendingIncoming = UserSet{}
	}
	if p.PendingOutgoing == nil {
		p.PendingOutgoing = UserSet{}
	}
	if p.BlockedUsers == nil {
		p.BlockedUsers = UserSet{}
	}
	return p
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Followers = p.Followers.Clone()
	out.Following = p.Following.Clone()
	out.PendingIncoming = p.PendingIncoming.Clone()
	out.PendingOutgoing = p.PendingOutgoing.Clone()
	out.BlockedUsers = p.BlockedUsers.Clone()
	return &out
}

// UserRef is the minimal public view of another user, as embedded in
// chat summaries and search results.
type UserRef struct {
	ID             string `json:"id"`
	Fullname       string `json:"fullname"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Validate checks that the profile has the fields the engine requires.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return ErrMissingUserID
	}
	if p.Username == "" {
		return ErrMissingUsername
	}
	return nil
}
