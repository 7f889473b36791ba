package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wadesk/internal/adapter"
	"github.com/matheus3301/wadesk/internal/api"
	"github.com/matheus3301/wadesk/internal/bus"
	"github.com/matheus3301/wadesk/internal/config"
	"github.com/matheus3301/wadesk/internal/lock"
	"github.com/matheus3301/wadesk/internal/logging"
	"github.com/matheus3301/wadesk/internal/manager"
	"github.com/matheus3301/wadesk/internal/outbox"
	"github.com/matheus3301/wadesk/internal/store"
	"github.com/matheus3301/wadesk/internal/syncengine"
)

// Params holds the flag-resolved startup options passed to the fx module.
type Params struct {
	ConfigPath string
	ListenAddr string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideAdapter,
			provideSyncEngine,
			provideManager,
			provideSender,
			provideAPI,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if p.ListenAddr != "" {
		cfg.ListenAddr = p.ListenAddr
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath(), cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired", zap.String("dir", cfg.DataDir))
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
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

	// Sessions left connecting/connected by a previous run are stale;
	// their workers died with the process.
	reset, err := db.ResetStaleStatuses(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if reset > 0 {
		logger.Info("reset stale session statuses", zap.Int64("count", reset))
	}
	logger.Info("store initialized", zap.String("path", cfg.DBPath()))
	return db, nil
}

func provideAdapter(cfg *config.Config, logger *zap.Logger) adapter.Adapter {
	return adapter.NewWhatsmeow(cfg, logger)
}

func provideSyncEngine(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *syncengine.Engine {
	return syncengine.New(db, b, logger, cfg.IngestAttempts, cfg.IngestBackoff())
}

func provideManager(cfg *config.Config, db *store.DB, a adapter.Adapter, engine *syncengine.Engine, b *bus.Bus, logger *zap.Logger) *manager.Manager {
	return manager.New(db, a, engine, b, logger, cfg.QRTimeout(), cfg.StopGrace())
}

func provideSender(cfg *config.Config, db *store.DB, mgr *manager.Manager, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, mgr, b, logger, cfg.OutboxPoll(), cfg.SendAttempts, cfg.SendBackoff())
}

func provideAPI(db *store.DB, mgr *manager.Manager, b *bus.Bus, logger *zap.Logger) *api.Server {
	return api.NewServer(db, mgr, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, mgr *manager.Manager, sender *outbox.Sender, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := srv.Start(ctx); err != nil {
				return err
			}
			sender.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			mgr.StopAll()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
