package protocol

import (
	"encoding/json"

	"github.com/harichopper/connect-world/internal/store"
)

// EventType names a wire event. The vocabulary is closed in both directions;
// anything outside it is rejected at the transport boundary.
type EventType string

// Client -> server.
const (
	EventRequestInitialData EventType = "request_initial_data"
	EventSendMessage        EventType = "send_message"
	EventMarkAsRead         EventType = "mark_as_read"
	EventStartDirectChat    EventType = "start_direct_chat"
	EventCreateGroup        EventType = "create_group"
	EventStartCall          EventType = "start_call"
	EventEndCall            EventType = "end_call"
	EventLogout             EventType = "logout"
)

// Server -> client.
const (
	EventInitialData         EventType = "initial_data"
	EventReceiveMessage      EventType = "receive_message"
	EventMessageStatusUpdate EventType = "message_status_update"
	EventUserStatusUpdate    EventType = "user_status_update"
	EventDirectChatStarted   EventType = "direct_chat_started"
	EventGroupCreated        EventType = "group_created"
	EventServerError         EventType = "server_error"
	EventAck                 EventType = "ack"
)

// Envelope frames every wire message. AckID is set on acknowledged requests
// and on the matching ack reply; it is zero everywhere else.
type Envelope struct {
	Event   EventType       `json:"event"`
	AckID   uint64          `json:"ack_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ack is the reply payload for acknowledged requests. Exactly one ack fires
// per request from the client's point of view; the transport enforces that
// with its pending table and timeout.
type Ack struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	MessageID string      `json:"message_id,omitempty"` // confirmed id for send/call requests
	Delivered bool        `json:"delivered,omitempty"`  // server reports immediate delivery
	Chat      *store.Chat `json:"chat,omitempty"`       // created chat for create_group
}

// ErrTimeout is the ack error reported when no acknowledgement arrives
// within the transport's deadline.
const ErrTimeout = "timeout"

// ErrConnectionLost is the ack error reported for requests in flight when
// the link drops.
const ErrConnectionLost = "connection lost"

// --- client -> server payloads ---

// SendMessage carries a full optimistic message under its local id. Used by
// send_message, start_call and end_call, which share the same shape.
type SendMessage struct {
	ChatID  string        `json:"chat_id"`
	Message store.Message `json:"message"`
}

// MarkAsRead mirrors a local unread reset to the server. Fire-and-forget.
type MarkAsRead struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

// StartDirectChat asks the server for a direct chat between two users. The
// server answers with a direct_chat_started broadcast carrying either the
// new chat or the existing one for the pair.
type StartDirectChat struct {
	SelfID      string `json:"self_id"`
	OtherUserID string `json:"other_user_id"`
}

// CreateGroup asks the server to create a group chat.
type CreateGroup struct {
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participant_ids"`
}

// Logout announces an explicit logout before the connection is torn down.
type Logout struct {
	UserID string `json:"user_id"`
}

// --- server -> client payloads ---

// InitialData is the full-state bootstrap snapshot.
type InitialData struct {
	Chats         []store.Chat `json:"chats"`
	OnlineUserIDs []string     `json:"online_user_ids"`
	Users         []store.User `json:"users"`
}

// ReceiveMessage is an unsolicited broadcast for a message this session did
// not originate.
type ReceiveMessage struct {
	ChatID  string        `json:"chat_id"`
	Message store.Message `json:"message"`
}

// MessageStatusUpdate broadcasts a delivered/read transition.
type MessageStatusUpdate struct {
	ChatID    string              `json:"chat_id"`
	MessageID string              `json:"message_id"`
	Status    store.MessageStatus `json:"status"`
}

// UserStatusUpdate is a presence delta.
type UserStatusUpdate struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// DirectChatStarted carries the authoritative chat for a start_direct_chat
// request, new or pre-existing.
type DirectChatStarted struct {
	Chat store.Chat `json:"chat"`
}

// GroupCreated is broadcast to invited members when a group appears. The
// creator may receive it in addition to its create_group ack; chat-id dedup
// in the store absorbs the overlap.
type GroupCreated struct {
	Chat store.Chat `json:"chat"`
}

// ServerError is a server-pushed error unrelated to any specific request.
type ServerError struct {
	Message string `json:"message"`
}
