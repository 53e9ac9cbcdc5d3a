package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/harichopper/connect-world/internal/ids"
)

// ErrUnknownChat is returned when a message targets a chat that is not known
// locally. The caller must refresh from the server before retrying; the store
// never fabricates a chat shell around stray data.
var ErrUnknownChat = errors.New("unknown chat")

// Store is the in-memory source of truth for all chats, messages and the
// user directory. It is rebuilt from the server's initial_data snapshot on
// every fresh connection and cleared on disconnect. Mutations are applied
// under one lock so observers always read a consistent snapshot.
type Store struct {
	mu       sync.RWMutex
	selfID   string
	chats    []*Chat // most recent activity first
	index    map[string]*Chat
	users    map[string]User
	selected string
}

// New creates an empty store for the given session user.
func New(selfID string) *Store {
	return &Store{
		selfID: selfID,
		index:  make(map[string]*Chat),
		users:  make(map[string]User),
	}
}

// SelfID returns the session user's id.
func (s *Store) SelfID() string {
	return s.selfID
}

// Reset clears all chats, users and the selection. Used on disconnect so a
// reconnect never starts from a stale snapshot.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = nil
	s.index = make(map[string]*Chat)
	s.users = make(map[string]User)
	s.selected = ""
}

// Populate replaces the whole store with a server bootstrap snapshot and
// sorts chats by recency. Any previous state is discarded. Online flags
// embedded in the payload are dropped: the presence tracker owns them and
// pushes the authoritative set back in via SetUserOnline.
func (s *Store) Populate(chats []Chat, users []User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chats = nil
	s.index = make(map[string]*Chat)
	s.users = make(map[string]User)
	s.selected = ""

	for _, u := range users {
		u.IsOnline = false
		s.users[u.ID] = u
	}
	for i := range chats {
		c := chats[i]
		if c.CreatedAt == 0 {
			c.CreatedAt = time.Now().UnixMilli()
		}
		c.Participants = append([]User(nil), c.Participants...)
		for j := range c.Participants {
			c.Participants[j].IsOnline = false
		}
		touch(&c)
		cp := c
		s.chats = append(s.chats, &cp)
		s.index[cp.ID] = &cp
	}
	s.sortByRecencyLocked()
}

// Chats returns an ordered snapshot of all chats.
func (s *Store) Chats() []Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, copyChat(c))
	}
	return out
}

// Chat returns a snapshot of one chat.
func (s *Store) Chat(id string) (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.index[id]
	if !ok {
		return Chat{}, false
	}
	return copyChat(c), true
}

// Selected returns the currently selected chat id, or "".
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Select makes chatID the current chat and zeroes its unread count.
// Returns whether the unread count changed, so the caller knows to mirror
// the read state to the server. Unknown chats are ignored.
func (s *Store) Select(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.index[chatID]
	if !ok {
		return false
	}
	s.selected = chatID
	if c.UnreadCount == 0 {
		return false
	}
	c.UnreadCount = 0
	return true
}

// MarkRead zeroes the unread count of a chat. Returns whether a change
// occurred.
func (s *Store) MarkRead(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.index[chatID]
	if !ok || c.UnreadCount == 0 {
		return false
	}
	c.UnreadCount = 0
	return true
}

// UpsertChat inserts the chat if absent. If present, it replaces metadata and
// participants from the incoming payload but preserves locally pending
// messages the payload does not know about yet, merged by id. The chat list
// is re-sorted by recency afterwards.
func (s *Store) UpsertChat(in Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.CreatedAt == 0 {
		in.CreatedAt = time.Now().UnixMilli()
	}

	// Online flags come from the tracker-maintained directory, never from
	// the chat payload itself.
	in.Participants = append([]User(nil), in.Participants...)
	for i := range in.Participants {
		in.Participants[i].IsOnline = s.users[in.Participants[i].ID].IsOnline
	}

	existing, ok := s.index[in.ID]
	if ok {
		known := make(map[string]bool, len(in.Messages))
		for _, m := range in.Messages {
			known[m.ID] = true
		}
		merged := append([]Message(nil), in.Messages...)
		for _, m := range existing.Messages {
			if ids.IsLocal(m.ID) && !known[m.ID] {
				merged = append(merged, m)
			}
		}
		in.Messages = merged
		if existing.CreatedAt != 0 {
			in.CreatedAt = existing.CreatedAt
		}
		touch(&in)
		if s.selected == in.ID {
			in.UnreadCount = 0
		}
		*existing = in
	} else {
		touch(&in)
		if s.selected == in.ID {
			in.UnreadCount = 0
		}
		cp := in
		s.chats = append(s.chats, &cp)
		s.index[cp.ID] = &cp
	}
	s.sortByRecencyLocked()
}

// AppendMessage adds a message to a chat, deduplicating by id: appending the
// same id twice changes the store at most once. The chat moves to the front
// of the list and unread accounting applies when the chat is not selected.
// Returns ErrUnknownChat when the chat is absent locally.
func (s *Store) AppendMessage(chatID string, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.index[chatID]
	if !ok {
		return ErrUnknownChat
	}
	if findMessage(c, m.ID) >= 0 {
		return nil // already reconciled
	}
	c.Messages = append(c.Messages, m)
	touch(c)
	if chatID != s.selected && m.SenderID != s.selfID {
		c.UnreadCount++
	}
	s.reorderToFrontLocked(chatID)
	return nil
}

// UpdateMessageStatus applies a forward-only status transition. It is a
// no-op when the chat or message is absent (the message may have been
// dropped by a store reset racing the broadcast) or when the transition
// would regress. Returns whether the status was applied.
func (s *Store) UpdateMessageStatus(chatID, messageID string, status MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.index[chatID]
	if !ok {
		return false
	}
	i := findMessage(c, messageID)
	if i < 0 {
		return false
	}
	if !advances(c.Messages[i].Status, status) {
		return false
	}
	c.Messages[i].Status = status
	touch(c)
	return true
}

// MarkFailed diverts a pending message to the terminal failed status with
// the reported reason. A retry requires the user to re-send, which allocates
// a brand-new local id.
func (s *Store) MarkFailed(chatID, messageID, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.index[chatID]
	if !ok {
		return false
	}
	i := findMessage(c, messageID)
	if i < 0 || c.Messages[i].Status != StatusPending {
		return false
	}
	c.Messages[i].Status = StatusFailed
	c.Messages[i].ErrorReason = reason
	touch(c)
	return true
}

// ReplaceLocalID swaps a local id for its server-confirmed id in place: the
// entry keeps its position and content. If the confirmed id is already
// present (its broadcast raced ahead of the acknowledgement), the local
// entry is removed instead, leaving exactly one message with the confirmed
// id. Returns whether the store changed.
func (s *Store) ReplaceLocalID(chatID, localID, confirmedID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.index[chatID]
	if !ok {
		return false
	}
	li := findMessage(c, localID)
	if li < 0 {
		return false
	}
	if findMessage(c, confirmedID) >= 0 {
		c.Messages = append(c.Messages[:li], c.Messages[li+1:]...)
	} else {
		c.Messages[li].ID = confirmedID
	}
	touch(c)
	return true
}

// ReorderToFront moves a chat to index 0, keeping the relative order of all
// other chats.
func (s *Store) ReorderToFront(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reorderToFrontLocked(chatID)
}

// SetUserOnline updates the directory entry and every embedded participant
// copy for the user. Called by the presence tracker, which owns the flag.
func (s *Store) SetUserOnline(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok {
		u.IsOnline = online
		s.users[userID] = u
	}
	for _, c := range s.chats {
		for i := range c.Participants {
			if c.Participants[i].ID == userID {
				c.Participants[i].IsOnline = online
			}
		}
	}
}

// PutUsers merges users into the directory.
func (s *Store) PutUsers(users []User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.users[u.ID] = u
	}
}

// User returns a directory entry.
func (s *Store) User(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Users returns all known users sorted by name.
func (s *Store) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) reorderToFrontLocked(chatID string) {
	for i, c := range s.chats {
		if c.ID == chatID {
			if i > 0 {
				copy(s.chats[1:i+1], s.chats[:i])
				s.chats[0] = c
			}
			return
		}
	}
}

func (s *Store) sortByRecencyLocked() {
	sort.SliceStable(s.chats, func(i, j int) bool {
		return s.chats[i].recencyKey() > s.chats[j].recencyKey()
	})
}

// touch refreshes the LastMessage mirror after any message mutation.
func touch(c *Chat) {
	if n := len(c.Messages); n > 0 {
		m := c.Messages[n-1]
		c.LastMessage = &m
	} else {
		c.LastMessage = nil
	}
}

func findMessage(c *Chat, id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

func copyChat(c *Chat) Chat {
	out := *c
	out.Participants = append([]User(nil), c.Participants...)
	out.Messages = append([]Message(nil), c.Messages...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}
