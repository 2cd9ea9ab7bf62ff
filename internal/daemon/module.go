package daemon

import (
	"context"

	"github.com/matheus3301/chatd/internal/api"
	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/chat"
	"github.com/matheus3301/chatd/internal/config"
	"github.com/matheus3301/chatd/internal/conversations"
	"github.com/matheus3301/chatd/internal/lock"
	"github.com/matheus3301/chatd/internal/logging"
	"github.com/matheus3301/chatd/internal/messages"
	"github.com/matheus3301/chatd/internal/presence"
	"github.com/matheus3301/chatd/internal/profile"
	"github.com/matheus3301/chatd/internal/realtime"
	"github.com/matheus3301/chatd/internal/status"
	"github.com/matheus3301/chatd/internal/store"
	"github.com/matheus3301/chatd/internal/typing"
	"github.com/matheus3301/chatd/internal/users"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
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
			provideStore,
			provideRealtime,
			provideUsers,
			provideConversations,
			provideMessages,
			provideTyping,
			providePresence,
			provideChat,
			provideChatService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by a second
// daemon on the same profile.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRealtime(b *bus.Bus) *realtime.Store {
	return realtime.New(b)
}

func provideUsers(db *store.DB, cfg *config.Config, logger *zap.Logger) *users.Directory {
	return users.NewDirectory(db, cfg.Chat.SearchLimit, logger)
}

func provideConversations(db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *conversations.Directory {
	return conversations.NewDirectory(db, b, cfg.Chat.BroadcastTitle, logger)
}

func provideMessages(db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *messages.Store {
	return messages.NewStore(db, b, messages.Options{
		PageSize:      cfg.Chat.PageSize,
		PreviewLength: cfg.Chat.PreviewLength,
	}, logger)
}

func provideTyping(rt *realtime.Store, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *typing.Tracker {
	return typing.NewTracker(rt, b, cfg.Chat.TypingTimeout.Duration, logger)
}

func providePresence(rt *realtime.Store, b *bus.Bus, db *store.DB, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(rt, b, db, logger)
}

func provideChat(
	u *users.Directory,
	c *conversations.Directory,
	m *messages.Store,
	t *typing.Tracker,
	pr *presence.Tracker,
	rt *realtime.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *chat.Service {
	return chat.NewService(chat.Deps{
		Users:         u,
		Conversations: c,
		Messages:      m,
		Typing:        t,
		Presence:      pr,
		Realtime:      rt,
	}, chat.Options{AnnounceJoins: cfg.Chat.AnnounceJoins}, logger)
}

func provideChatService(p Params, m *status.Machine, svc *chat.Service, db *store.DB, rt *realtime.Store, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(p.ProfileName, m, svc, db, rt, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	rt *realtime.Store,
	svc *chat.Service,
	machine *status.Machine,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
					_ = machine.Transition(status.Error)
				}
			}()
			if err := machine.Transition(status.Ready); err != nil {
				return err
			}
			logger.Info("daemon ready")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Draining)
			// Sessions end their Connect streams, so the graceful stop does
			// not wait on them.
			svc.Close()
			srv.Stop(ctx)
			rt.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			_ = machine.Transition(status.Stopped)
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
