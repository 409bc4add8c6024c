// Package model defines data structures for the messaging core.
package model

import (
	"time"
)

// Kind distinguishes the two conversation flavors.
type Kind string

const (
	// KindDirect is a two-party conversation with immutable membership.
	KindDirect Kind = "direct"
	// KindPublic is a named, open-membership conversation.
	KindPublic Kind = "public"
)

// Conversation represents a conversation thread.
type Conversation struct {
	ID        int64     `json:"id"`
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Participant is a member of a conversation as seen by the caller.
type Participant struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsMine   bool   `json:"is_mine"`
}

// ConversationSummary is one directory entry: a conversation annotated with
// preview and unread state for a specific user.
type ConversationSummary struct {
	ID            int64         `json:"id"`
	Kind          Kind          `json:"kind"`
	Name          string        `json:"name,omitempty"`
	Participants  []Participant `json:"participants"`
	LastMessage   string        `json:"last_message,omitempty"`
	LastMessageAt *time.Time    `json:"last_message_at,omitempty"`
	UnreadCount   int           `json:"unread_count"`
}

// CreateDirectRequest is the request to open a direct conversation with
// another user, addressed by username.
type CreateDirectRequest struct {
	Username string `json:"username"`
}

// CreatePublicRequest is the request to create a named public conversation.
type CreatePublicRequest struct {
	Name string `json:"name"`
}

// CreateConversationResponse echoes the id of a created (or, on conflict,
// the already existing) conversation.
type CreateConversationResponse struct {
	ConversationID int64 `json:"conversation_id"`
}

// ListConversationsResponse is the response for the conversation directory.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
}
