package sync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/harichopper/connect-world/internal/bus"
	"github.com/harichopper/connect-world/internal/presence"
	"github.com/harichopper/connect-world/internal/protocol"
	"github.com/harichopper/connect-world/internal/store"
	"github.com/harichopper/connect-world/internal/transport"
)

// Engine reconciles inbound server events into the chat store and presence
// tracker. It subscribes to "server." events on the bus and processes them
// one at a time; correctness rests on per-id dedup and forward-only status
// transitions in the store, never on event arrival order.
type Engine struct {
	st     *store.Store
	pres   *presence.Tracker
	conn   transport.Emitter
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	// deferred holds broadcasts for chats unknown locally until the next
	// bootstrap lands. refreshing guards against issuing one refresh per
	// stray message.
	deferred   []protocol.ReceiveMessage
	refreshing bool
}

// NewEngine creates a reconciliation engine.
func NewEngine(st *store.Store, pres *presence.Tracker, conn transport.Emitter, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		st:     st,
		pres:   pres,
		conn:   conn,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to inbound server events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("server.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// RequestBootstrap asks the server for the full-state snapshot. Called by
// the lifecycle manager after every successful connect.
func (e *Engine) RequestBootstrap() {
	if err := e.conn.Emit(protocol.EventRequestInitialData, nil); err != nil {
		e.logger.Warn("bootstrap request failed", zap.Error(err))
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case *protocol.InitialData:
		e.handleInitialData(p)
	case *protocol.ReceiveMessage:
		e.handleReceiveMessage(*p)
	case *protocol.MessageStatusUpdate:
		e.handleStatusUpdate(p)
	case *protocol.UserStatusUpdate:
		e.pres.SetStatus(p.UserID, p.IsOnline)
		e.bus.Emit("presence.changed", *p)
	case *protocol.DirectChatStarted:
		// The server reply is authoritative: it carries either the new
		// direct chat or the pre-existing one for the pair.
		e.upsertChat(p.Chat)
	case *protocol.GroupCreated:
		e.upsertChat(p.Chat)
	case *protocol.ServerError:
		e.logger.Warn("server error", zap.String("message", p.Message))
		e.bus.Emit("notify.server_error", p.Message)
	}
}

func (e *Engine) handleInitialData(data *protocol.InitialData) {
	e.st.Populate(data.Chats, data.Users)
	e.pres.Reset()
	e.pres.BulkSet(data.OnlineUserIDs, e.st.SelfID())

	// Nothing is selected after a repopulate; select the most recent chat.
	if chats := e.st.Chats(); len(chats) > 0 {
		if e.st.Select(chats[0].ID) {
			e.mirrorRead(chats[0].ID)
		}
		e.bus.Emit("chat.selected", chats[0].ID)
	}

	e.logger.Info("bootstrap applied",
		zap.Int("chats", len(data.Chats)),
		zap.Int("users", len(data.Users)),
		zap.Int("online", len(data.OnlineUserIDs)))
	e.bus.Emit("sync.bootstrapped", nil)

	e.refreshing = false
	e.replayDeferred()
}

func (e *Engine) handleReceiveMessage(rm protocol.ReceiveMessage) {
	err := e.st.AppendMessage(rm.ChatID, rm.Message)
	if err == nil {
		e.bus.Emit("message.upserted", rm)
		return
	}
	if !errors.Is(err, store.ErrUnknownChat) {
		e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", rm.Message.ID))
		return
	}

	// First message of a chat created concurrently by someone else: never
	// fabricate a chat shell. Park the message, refresh from the source of
	// truth, re-apply after the snapshot lands.
	e.logger.Info("message for unknown chat, refreshing",
		zap.String("chat_id", rm.ChatID), zap.String("msg_id", rm.Message.ID))
	e.deferred = append(e.deferred, rm)
	if !e.refreshing {
		e.refreshing = true
		e.RequestBootstrap()
	}
}

func (e *Engine) handleStatusUpdate(upd *protocol.MessageStatusUpdate) {
	// No-op when chat or message is gone: the broadcast may have raced a
	// store reset.
	if e.st.UpdateMessageStatus(upd.ChatID, upd.MessageID, upd.Status) {
		e.bus.Emit("message.status_changed", *upd)
	}
}

func (e *Engine) upsertChat(c store.Chat) {
	e.st.UpsertChat(c)
	e.bus.Emit("chat.upserted", c.ID)
}

func (e *Engine) replayDeferred() {
	if len(e.deferred) == 0 {
		return
	}
	parked := e.deferred
	e.deferred = nil
	for _, rm := range parked {
		if err := e.st.AppendMessage(rm.ChatID, rm.Message); err != nil {
			// Still unknown after a fresh snapshot: the server does not
			// consider us a member of that chat. Drop it.
			e.logger.Warn("dropping deferred message",
				zap.String("chat_id", rm.ChatID), zap.String("msg_id", rm.Message.ID))
			continue
		}
		e.bus.Emit("message.upserted", rm)
	}
}

func (e *Engine) mirrorRead(chatID string) {
	err := e.conn.Emit(protocol.EventMarkAsRead, protocol.MarkAsRead{
		ChatID: chatID,
		UserID: e.st.SelfID(),
	})
	if err != nil {
		e.logger.Warn("mark_as_read not sent", zap.Error(err))
	}
}
