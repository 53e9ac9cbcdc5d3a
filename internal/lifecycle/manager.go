package lifecycle

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/harichopper/connect-world/internal/bus"
	"github.com/harichopper/connect-world/internal/presence"
	"github.com/harichopper/connect-world/internal/protocol"
	"github.com/harichopper/connect-world/internal/status"
	"github.com/harichopper/connect-world/internal/store"
)

// Transport is the slice of the websocket client the manager drives.
type Transport interface {
	Connect(ctx context.Context)
	Close()
	Emit(event protocol.EventType, payload any) error
}

// Bootstrapper requests the full-state snapshot after a connect.
// Implemented by the sync engine.
type Bootstrapper interface {
	RequestBootstrap()
}

// Manager owns the session's one connection and drives everything that must
// happen on link-state changes: state machine transitions, store and
// presence resets, bootstrap after connect, and explicit logout. Automatic
// reconnection itself is the transport's job; the manager only reacts to
// conn.up / conn.down.
type Manager struct {
	machine *status.Machine
	conn    Transport
	st      *store.Store
	pres    *presence.Tracker
	boot    Bootstrapper
	bus     *bus.Bus
	logger  *zap.Logger

	cancel context.CancelFunc
	once   sync.Once
}

// NewManager creates a lifecycle manager.
func NewManager(machine *status.Machine, conn Transport, st *store.Store, pres *presence.Tracker, boot Bootstrapper, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		machine: machine,
		conn:    conn,
		st:      st,
		pres:    pres,
		boot:    boot,
		bus:     b,
		logger:  logger,
	}
}

// Start begins connecting and watching link state. Non-blocking.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	// Subscribe before dialing so the first conn.up cannot be missed.
	ch, unsub := m.bus.Subscribe("conn.", 16)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				m.handleLinkEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	_ = m.machine.Transition(status.Connecting)
	m.conn.Connect(ctx)
}

// Stop stops watching link state without logging out.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Logout emits a logout notice when connected, then tears the connection
// down unconditionally and discards all per-session state. Terminal.
func (m *Manager) Logout() {
	m.once.Do(func() {
		if m.machine.Current() == status.Connected {
			err := m.conn.Emit(protocol.EventLogout, protocol.Logout{UserID: m.st.SelfID()})
			if err != nil {
				m.logger.Warn("logout notice not sent", zap.Error(err))
			}
		}
		m.conn.Close()
		m.st.Reset()
		m.pres.Reset()
		_ = m.machine.Transition(status.LoggedOut)
		m.logger.Info("logged out")
	})
}

func (m *Manager) handleLinkEvent(evt bus.Event) {
	switch evt.Kind {
	case "conn.up":
		if err := m.machine.Transition(status.Connected); err != nil {
			m.logger.Warn("unexpected conn.up", zap.Error(err))
			return
		}
		m.logger.Info("connected, requesting bootstrap")
		m.boot.RequestBootstrap()

	case "conn.down":
		// Never leave a stale snapshot visible while offline. The session
		// identity survives; the transport is already redialing.
		m.st.Reset()
		m.pres.Reset()
		_ = m.machine.Transition(status.Disconnected)
		_ = m.machine.Transition(status.Connecting)
		m.logger.Warn("connection lost, state cleared")
		m.bus.Emit("notify.connection_lost", nil)
	}
}
