package models

type EventType string

// Client -> server
const (
	EventSendMessage    EventType = "send_message"
	EventTypingStart    EventType = "typing_start"
	EventTypingStop     EventType = "typing_stop"
	EventMessageRead    EventType = "message_read"
	EventGetOnlineUsers EventType = "get_online_users"
)

// Server -> client
const (
	EventReceiveMessage     EventType = "receive_message"
	EventMessageSent        EventType = "message_sent"
	EventMessageError       EventType = "message_error"
	EventUserTyping         EventType = "user_typing"
	EventUserStoppedTyping  EventType = "user_stopped_typing"
	EventMessageReadReceipt EventType = "message_read_receipt"
	EventPresenceChanged    EventType = "presence_changed"
	EventOnlineUsers        EventType = "online_users"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event is the single frame type exchanged over a live connection.
// Which fields are set depends on Type.
type Event struct {
	Type EventType `json:"type"`

	// Inbound fields
	ReceiverID int    `json:"receiver_id,omitempty"`
	Content    string `json:"content,omitempty"`
	MessageID  int    `json:"message_id,omitempty"`

	// Outbound fields
	Message  *Message `json:"message,omitempty"`
	Error    string   `json:"error,omitempty"`
	UserID   int      `json:"user_id,omitempty"`
	UserName string   `json:"user_name,omitempty"`
	User     *User    `json:"user,omitempty"`
	Status   string   `json:"status,omitempty"`
	ReadBy   int      `json:"read_by,omitempty"`
	UserIDs  []int    `json:"user_ids,omitempty"`
}
