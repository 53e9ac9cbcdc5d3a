package outbox

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harichopper/connect-world/internal/bus"
	"github.com/harichopper/connect-world/internal/ids"
	"github.com/harichopper/connect-world/internal/protocol"
	"github.com/harichopper/connect-world/internal/store"
	"github.com/harichopper/connect-world/internal/transport"
)

// Pipeline applies user-initiated mutations optimistically and reconciles
// them against the eventual server acknowledgement. Every send follows the
// same path: allocate a local id, append the pending message to the store,
// emit one acknowledged request, and resolve exactly once — confirmed id on
// success, terminal failed status on rejection or timeout.
//
// There is no implicit auto-retry: a failed send stays failed, and retrying
// is a new user action with a brand-new local id. That keeps duplicate-send
// races impossible by construction.
type Pipeline struct {
	st     *store.Store
	alloc  *ids.Allocator
	conn   transport.Emitter
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]string // local id -> chat id
}

// NewPipeline creates a pipeline over the given store and connection handle.
func NewPipeline(st *store.Store, alloc *ids.Allocator, conn transport.Emitter, b *bus.Bus, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		st:       st,
		alloc:    alloc,
		conn:     conn,
		bus:      b,
		logger:   logger,
		inflight: make(map[string]string),
	}
}

// SendText sends a text message. Returns the allocated local id; the caller
// observes the outcome on the message itself via the store.
func (p *Pipeline) SendText(chatID, content string) (string, error) {
	return p.send(chatID, content, store.TypeText, ids.KindMessage, protocol.EventSendMessage)
}

// SendImage sends an image message. content is the opaque encoded payload or
// reference produced by the media collaborator; the pipeline never
// interprets it.
func (p *Pipeline) SendImage(chatID, content string) (string, error) {
	return p.send(chatID, content, store.TypeImage, ids.KindMessage, protocol.EventSendMessage)
}

// SendVideo sends a video message.
func (p *Pipeline) SendVideo(chatID, content string) (string, error) {
	return p.send(chatID, content, store.TypeVideo, ids.KindMessage, protocol.EventSendMessage)
}

// StartCall posts a call-start marker into the chat. Structurally identical
// to a message send: optimistic append under a local id, ack swaps the id.
func (p *Pipeline) StartCall(chatID string) (string, error) {
	return p.send(chatID, "", store.TypeCallStart, ids.KindCallStart, protocol.EventStartCall)
}

// EndCall posts a call-end marker into the chat.
func (p *Pipeline) EndCall(chatID string) (string, error) {
	return p.send(chatID, "", store.TypeCallEnd, ids.KindCallEnd, protocol.EventEndCall)
}

func (p *Pipeline) send(chatID, content string, typ store.MessageType, kind ids.Kind, event protocol.EventType) (string, error) {
	localID := p.alloc.Allocate(kind)
	msg := store.Message{
		ID:        localID,
		SenderID:  p.st.SelfID(),
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		Type:      typ,
		Status:    store.StatusPending,
	}

	if err := p.st.AppendMessage(chatID, msg); err != nil {
		return "", err
	}
	p.mu.Lock()
	p.inflight[localID] = chatID
	p.mu.Unlock()
	p.bus.Emit("message.upserted", protocol.ReceiveMessage{ChatID: chatID, Message: msg})

	p.conn.Request(event, protocol.SendMessage{ChatID: chatID, Message: msg}, func(ack protocol.Ack) {
		p.resolveSend(localID, ack)
	})
	return localID, nil
}

// resolveSend reconciles one acknowledgement. The in-flight table is keyed
// by local id and the entry is removed on first resolution, so a duplicate
// late reply is ignored.
func (p *Pipeline) resolveSend(localID string, ack protocol.Ack) {
	p.mu.Lock()
	chatID, ok := p.inflight[localID]
	if ok {
		delete(p.inflight, localID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	if !ack.Success || ack.MessageID == "" {
		reason := ack.Error
		if reason == "" {
			reason = "rejected"
		}
		p.st.MarkFailed(chatID, localID, reason)
		p.logger.Warn("send failed",
			zap.String("local_id", localID), zap.String("reason", reason))
		p.bus.Emit("message.send_failed", protocol.MessageStatusUpdate{
			ChatID: chatID, MessageID: localID, Status: store.StatusFailed,
		})
		return
	}

	p.st.ReplaceLocalID(chatID, localID, ack.MessageID)
	status := store.StatusSent
	if ack.Delivered {
		status = store.StatusDelivered
	}
	p.st.UpdateMessageStatus(chatID, ack.MessageID, status)
	p.logger.Info("send confirmed",
		zap.String("local_id", localID), zap.String("message_id", ack.MessageID))
	p.bus.Emit("message.send_ack", protocol.MessageStatusUpdate{
		ChatID: chatID, MessageID: ack.MessageID, Status: status,
	})
}

// Select makes chatID the current chat. When the selection clears unread
// messages, exactly one mark_as_read notice is mirrored to the server.
func (p *Pipeline) Select(chatID string) {
	changed := p.st.Select(chatID)
	p.bus.Emit("chat.selected", chatID)
	if !changed {
		return
	}
	err := p.conn.Emit(protocol.EventMarkAsRead, protocol.MarkAsRead{
		ChatID: chatID,
		UserID: p.st.SelfID(),
	})
	if err != nil {
		p.logger.Warn("mark_as_read not sent", zap.Error(err))
	}
}

// CreateGroup asks the server to create a group chat. The ack carries the
// authoritative chat; a group_created broadcast for the same id may land as
// well, absorbed by chat-id dedup in the store.
func (p *Pipeline) CreateGroup(name string, participantIDs []string) {
	p.conn.Request(protocol.EventCreateGroup, protocol.CreateGroup{
		Name:           name,
		ParticipantIDs: participantIDs,
	}, func(ack protocol.Ack) {
		if !ack.Success || ack.Chat == nil {
			p.logger.Warn("create_group failed", zap.String("error", ack.Error))
			p.bus.Emit("notify.server_error", ack.Error)
			return
		}
		p.st.UpsertChat(*ack.Chat)
		p.bus.Emit("chat.upserted", ack.Chat.ID)
	})
}

// StartDirectChat asks the server for a direct chat with the other user.
// The reply arrives as a direct_chat_started broadcast handled by the
// reconciliation engine; the server returns the existing chat when the pair
// already has one.
func (p *Pipeline) StartDirectChat(otherUserID string) error {
	return p.conn.Emit(protocol.EventStartDirectChat, protocol.StartDirectChat{
		SelfID:      p.st.SelfID(),
		OtherUserID: otherUserID,
	})
}
