package model

import (
	"time"
)

// MaxBodyLength caps a message body, in runes.
const MaxBodyLength = 2000

// Message is one entry in a conversation's append-only log. Messages are
// immutable once persisted; ids are strictly increasing within a conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// HistoryMessage is a message annotated for a specific reader.
type HistoryMessage struct {
	Message
	IsMine bool `json:"is_mine"`
	Seen   bool `json:"seen"`
}

// SendMessageRequest is the request to append a message to a conversation.
type SendMessageRequest struct {
	Body string `json:"body"`
}

// HistoryPage is one page of a conversation's history together with the
// caller's read cursor after the fetch.
type HistoryPage struct {
	Page     int              `json:"page"`
	Messages []HistoryMessage `json:"messages"`
	Cursor   int64            `json:"cursor"`
}

// MarkReadRequest advances the caller's read cursor. When MessageID is zero
// the newest message not authored by the caller is used.
type MarkReadRequest struct {
	MessageID int64 `json:"message_id,omitempty"`
}

// MarkReadResponse carries the effective cursor after an advance.
type MarkReadResponse struct {
	Cursor int64 `json:"cursor"`
}
