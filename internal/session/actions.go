package session

import "github.com/okineo/ripple/internal/models"

// ActionType names a store transition. Actions are the only way to
// mutate the profile; there is no direct field access for writers.
type ActionType string

const (
	// ActionLogin enters Authenticated with a full profile.
	ActionLogin ActionType = "login"

	// ActionRefetch replaces the profile wholesale after a re-sync
	// with the data service.
	ActionRefetch ActionType = "refetch"

	// ActionFollowed records that SourceID now follows this user.
	ActionFollowed ActionType = "followed"

	// ActionUnfollowed records that SourceID stopped following this user.
	ActionUnfollowed ActionType = "unfollowed"

	// ActionRequestReceived records an incoming follow request from SourceID.
	ActionRequestReceived ActionType = "request_received"

	// ActionRequestAccepted records that SourceID accepted this user's
	// outgoing follow request.
	ActionRequestAccepted ActionType = "request_accepted"

	// ActionRequestRejected records that SourceID rejected this user's
	// outgoing follow request.
	ActionRequestRejected ActionType = "request_rejected"

	// ActionLogout leaves Authenticated and discards the profile.
	ActionLogout ActionType = "logout"
)

// Action is the typed union applied to the store. Profile is set for
// login/refetch, SourceID for the social-graph deltas.
type Action struct {
	Type     ActionType
	Profile  *models.Profile
	SourceID string
}

// Login builds a login action.
func Login(profile *models.Profile) Action {
	return Action{Type: ActionLogin, Profile: profile}
}

// Refetch builds a refetch action.
func Refetch(profile *models.Profile) Action {
	return Action{Type: ActionRefetch, Profile: profile}
}

// Logout builds a logout action.
func Logout() Action {
	return Action{Type: ActionLogout}
}

// Delta builds a social-graph delta action for the given source user.
func Delta(t ActionType, sourceID string) Action {
	return Action{Type: t, SourceID: sourceID}
}
