package model

// EventType names the events exchanged over the live channel.
type EventType string

const (
	// EventNewMessage carries a freshly persisted message to room members.
	EventNewMessage EventType = "newMessage"
	// EventCursorAdvanced announces that a member's read cursor moved.
	EventCursorAdvanced EventType = "cursorAdvanced"
	// EventJoinedRoom acknowledges a successful room join to the caller.
	EventJoinedRoom EventType = "joinedRoom"
	// EventError reports a failure to the offending session only.
	EventError EventType = "error"
)

// Event is the server-to-client frame on the live channel.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	Message        *Message  `json:"message,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Cursor         int64     `json:"cursor,omitempty"`
	Code           string    `json:"code,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

// Client frame types on the live channel.
const (
	FrameJoinRoom    = "joinRoom"
	FrameLeaveRoom   = "leaveRoom"
	FrameSendMessage = "sendMessage"
)

// ClientFrame is the client-to-server frame on the live channel.
type ClientFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	Body           string `json:"body,omitempty"`
}
