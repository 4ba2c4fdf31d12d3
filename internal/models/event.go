package models

import "encoding/json"

// EventName identifies a push-channel event.
type EventName string

// Events consumed from the push channel.
const (
	// Social-graph deltas (payload: source user ID).
	EventGetFollowed        EventName = "getFollowed"
	EventGetUnfollowed      EventName = "getUnfollowed"
	EventGetRequest         EventName = "getRequest"
	EventGetRequestAccepted EventName = "getRequestAccepted"
	EventGetRequestRejected EventName = "getRequestRejected"

	// Unread invalidation triggers (no payload required).
	EventGetMessage              EventName = "getMessage"
	EventGetNotification         EventName = "getNotification"
	EventCheckUnreadChats        EventName = "checkUnreadChats"
	EventCheckUnreadNotification EventName = "checkUnreadNotifications"

	// Presence lifecycle (payload: user ID, or the full ID list for
	// onlineUsers snapshots).
	EventUserConnected    EventName = "userConnected"
	EventUserDisconnected EventName = "userDisconnected"
	EventOnlineUsers      EventName = "onlineUsers"
)

// Events emitted to the push channel.
const (
	EventAddUser    EventName = "addUser"
	EventRemoveUser EventName = "removeUser"
)

// Envelope is the wire frame for every push-channel message.
type Envelope struct {
	Event   EventName       `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UserPayload decodes the envelope payload as a bare user ID string.
func (e *Envelope) UserPayload() (string, error) {
	var id string
	if err := json.Unmarshal(e.Payload, &id); err != nil {
		return "", err
	}
	return id, nil
}

// UserListPayload decodes the envelope payload as a list of user IDs.
func (e *Envelope) UserListPayload() ([]string, error) {
	var ids []string
	if err := json.Unmarshal(e.Payload, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
