package store

// User is a member of the roster. Identity fields are immutable; IsOnline is
// owned by the presence tracker and mirrored into participant copies.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarRef string `json:"avatar_ref,omitempty"`
	IsOnline  bool   `json:"is_online"`
}

// MessageType discriminates message payload kinds.
type MessageType string

const (
	TypeText      MessageType = "text"
	TypeImage     MessageType = "image"
	TypeVideo     MessageType = "video"
	TypeCallStart MessageType = "call_start"
	TypeCallEnd   MessageType = "call_end"
)

// MessageStatus tracks delivery progress.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders the forward-only delivery progression. Failed is not
// ranked: it is a terminal divert reachable only from pending.
var statusRank = map[MessageStatus]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// advances reports whether moving from one status to another goes forward
// along pending -> sent -> delivered -> read.
func advances(from, to MessageStatus) bool {
	fr, ok := statusRank[from]
	if !ok {
		return false // failed is terminal
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

// Message is a single chat message. ID is either a local id (allocated by
// internal/ids, never authoritative) or a server-confirmed id.
type Message struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"sender_id"`
	Content     string        `json:"content"`
	Timestamp   int64         `json:"timestamp"` // unix millis
	Type        MessageType   `json:"type"`
	Status      MessageStatus `json:"status"`
	ErrorReason string        `json:"error_reason,omitempty"`
}

// Chat is a direct or group conversation. Messages are kept in arrival /
// reconciliation order; LastMessage always mirrors the final entry.
type Chat struct {
	ID           string    `json:"id"`
	IsGroup      bool      `json:"is_group"`
	Name         string    `json:"name,omitempty"`
	Participants []User    `json:"participants,omitempty"`
	Messages     []Message `json:"messages,omitempty"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	UnreadCount  int       `json:"unread_count"`
	CreatedAt    int64     `json:"created_at"` // unix millis
}

// recencyKey is the timestamp used for top-level chat ordering.
func (c *Chat) recencyKey() int64 {
	if n := len(c.Messages); n > 0 {
		return c.Messages[n-1].Timestamp
	}
	return c.CreatedAt
}
