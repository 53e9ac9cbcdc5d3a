// Package api is the surface the rendering layer programs against: read-only
// snapshots out of the store, operation triggers into the pipeline and
// lifecycle manager, and change notifications via the bus. Nothing here may
// mutate the store directly.
package api

import (
	"github.com/harichopper/connect-world/internal/bus"
	"github.com/harichopper/connect-world/internal/lifecycle"
	"github.com/harichopper/connect-world/internal/outbox"
	"github.com/harichopper/connect-world/internal/presence"
	"github.com/harichopper/connect-world/internal/status"
	"github.com/harichopper/connect-world/internal/store"
)

// ChatService exposes chat reads and chat-level operations.
type ChatService struct {
	st   *store.Store
	pipe *outbox.Pipeline
}

// NewChatService creates a chat service.
func NewChatService(st *store.Store, pipe *outbox.Pipeline) *ChatService {
	return &ChatService{st: st, pipe: pipe}
}

// Chats returns all chats ordered by most-recent activity.
func (s *ChatService) Chats() []store.Chat {
	return s.st.Chats()
}

// Chat returns a single chat snapshot.
func (s *ChatService) Chat(id string) (store.Chat, bool) {
	return s.st.Chat(id)
}

// Selected returns the currently selected chat id.
func (s *ChatService) Selected() string {
	return s.st.Selected()
}

// Select switches the current chat, clearing its unread count.
func (s *ChatService) Select(chatID string) {
	s.pipe.Select(chatID)
}

// StartDirectChat opens (or resumes) a direct chat with another user.
func (s *ChatService) StartDirectChat(otherUserID string) error {
	return s.pipe.StartDirectChat(otherUserID)
}

// CreateGroup creates a group chat with the given members.
func (s *ChatService) CreateGroup(name string, participantIDs []string) {
	s.pipe.CreateGroup(name, participantIDs)
}

// MessageService exposes message sends. Media content arrives here already
// encoded by the upload collaborator; it is treated as an opaque string.
type MessageService struct {
	pipe *outbox.Pipeline
}

// NewMessageService creates a message service.
func NewMessageService(pipe *outbox.Pipeline) *MessageService {
	return &MessageService{pipe: pipe}
}

// SendText sends a text message to a chat.
func (s *MessageService) SendText(chatID, content string) (string, error) {
	return s.pipe.SendText(chatID, content)
}

// SendImage sends an image message.
func (s *MessageService) SendImage(chatID, content string) (string, error) {
	return s.pipe.SendImage(chatID, content)
}

// SendVideo sends a video message.
func (s *MessageService) SendVideo(chatID, content string) (string, error) {
	return s.pipe.SendVideo(chatID, content)
}

// StartCall posts a call-start marker.
func (s *MessageService) StartCall(chatID string) (string, error) {
	return s.pipe.StartCall(chatID)
}

// EndCall posts a call-end marker.
func (s *MessageService) EndCall(chatID string) (string, error) {
	return s.pipe.EndCall(chatID)
}

// SessionService exposes session status, the user directory and logout.
type SessionService struct {
	st      *store.Store
	pres    *presence.Tracker
	machine *status.Machine
	manager *lifecycle.Manager
	bus     *bus.Bus
}

// NewSessionService creates a session service.
func NewSessionService(st *store.Store, pres *presence.Tracker, machine *status.Machine, manager *lifecycle.Manager, b *bus.Bus) *SessionService {
	return &SessionService{st: st, pres: pres, machine: machine, manager: manager, bus: b}
}

// Status returns the connection state.
func (s *SessionService) Status() status.State {
	return s.machine.Current()
}

// Users returns the known user directory.
func (s *SessionService) Users() []store.User {
	return s.st.Users()
}

// IsOnline reports a user's presence flag.
func (s *SessionService) IsOnline(userID string) bool {
	return s.pres.IsOnline(userID)
}

// Watch subscribes to change notifications under a namespace prefix, e.g.
// "message." or "notify.". The rendering layer re-reads snapshots on each
// event rather than interpreting payloads.
func (s *SessionService) Watch(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return s.bus.Subscribe(namespace, bufSize)
}

// Logout ends the session permanently.
func (s *SessionService) Logout() {
	s.manager.Logout()
}
