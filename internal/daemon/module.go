package daemon

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/harichopper/connect-world/internal/api"
	"github.com/harichopper/connect-world/internal/bus"
	"github.com/harichopper/connect-world/internal/config"
	"github.com/harichopper/connect-world/internal/ids"
	"github.com/harichopper/connect-world/internal/lifecycle"
	"github.com/harichopper/connect-world/internal/lock"
	"github.com/harichopper/connect-world/internal/logging"
	"github.com/harichopper/connect-world/internal/outbox"
	"github.com/harichopper/connect-world/internal/presence"
	"github.com/harichopper/connect-world/internal/session"
	"github.com/harichopper/connect-world/internal/status"
	"github.com/harichopper/connect-world/internal/store"
	intsync "github.com/harichopper/connect-world/internal/sync"
	"github.com/harichopper/connect-world/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config // optional override for testing; nil = load from disk
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideAllocator,
			provideStore,
			providePresence,
			provideTransport,
			provideSyncEngine,
			providePipeline,
			provideManager,
			provideChatService,
			provideMessageService,
			provideSessionService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config (run with a populated %s): %w", session.ConfigPath(), err)
	}
	if cfg.ServerURL == "" || cfg.UserID == "" {
		return nil, fmt.Errorf("config is missing server_url or user_id")
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideAllocator() *ids.Allocator {
	return ids.New()
}

func provideStore(cfg *config.Config) *store.Store {
	return store.New(cfg.UserID)
}

func providePresence(st *store.Store) *presence.Tracker {
	return presence.NewTracker(st)
}

func provideTransport(cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*transport.Client, error) {
	return transport.New(cfg.ServerURL, cfg.UserID, cfg.Username, cfg.AckTimeout(), b, logger)
}

func provideSyncEngine(st *store.Store, pres *presence.Tracker, client *transport.Client, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(st, pres, client, b, logger)
}

func providePipeline(st *store.Store, alloc *ids.Allocator, client *transport.Client, b *bus.Bus, logger *zap.Logger) *outbox.Pipeline {
	return outbox.NewPipeline(st, alloc, client, b, logger)
}

func provideManager(machine *status.Machine, client *transport.Client, st *store.Store, pres *presence.Tracker, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *lifecycle.Manager {
	return lifecycle.NewManager(machine, client, st, pres, engine, b, logger)
}

func provideChatService(st *store.Store, pipe *outbox.Pipeline) *api.ChatService {
	return api.NewChatService(st, pipe)
}

func provideMessageService(pipe *outbox.Pipeline) *api.MessageService {
	return api.NewMessageService(pipe)
}

func provideSessionService(st *store.Store, pres *presence.Tracker, machine *status.Machine, manager *lifecycle.Manager, b *bus.Bus) *api.SessionService {
	return api.NewSessionService(st, pres, machine, manager, b)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, client *transport.Client, engine *intsync.Engine, manager *lifecycle.Manager, _ *api.ChatService, _ *api.MessageService, _ *api.SessionService, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Reconciliation first so the bootstrap reply cannot be missed.
			engine.Start(context.Background())
			manager.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			manager.Stop()
			engine.Stop()
			client.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
