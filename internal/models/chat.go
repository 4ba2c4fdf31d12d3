package models

import "time"

// LastMessage is the trailing message preview on a chat summary.
type LastMessage struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatSummary is one row of the chat-list surface. LastMessage is nil
// for conversations with no messages yet.
type ChatSummary struct {
	ID          string       `json:"id"`
	Counterpart UserRef      `json:"counterpart"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount int          `json:"unreadCount"`
}

// UnreadFlags are the authoritative per-stream unread booleans.
type UnreadFlags struct {
	HasUnreadChats         bool `json:"hasUnreadChats"`
	HasUnreadNotifications bool `json:"hasUnreadNotifications"`
}
