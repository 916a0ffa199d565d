// Package daemon wires the bridge components into an fx application.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/bayup/wabridge/internal/api"
	"github.com/bayup/wabridge/internal/bus"
	"github.com/bayup/wabridge/internal/config"
	"github.com/bayup/wabridge/internal/control"
	"github.com/bayup/wabridge/internal/lock"
	"github.com/bayup/wabridge/internal/logging"
	"github.com/bayup/wabridge/internal/outbox"
	"github.com/bayup/wabridge/internal/pairing"
	"github.com/bayup/wabridge/internal/relay"
	"github.com/bayup/wabridge/internal/session"
	"github.com/bayup/wabridge/internal/status"
	"github.com/bayup/wabridge/internal/store"
	intsync "github.com/bayup/wabridge/internal/sync"
	"github.com/bayup/wabridge/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ShutdownTimeout bounds the graceful HTTP shutdown.
const ShutdownTimeout = 5 * time.Second

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	SocketPath  string // optional override for testing; empty = use default
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return session.SocketPath(p.SessionName)
}

func (p Params) qrPath() string {
	if p.Config.QRFile != "" {
		return p.Config.QRFile
	}
	return session.QRPath(p.SessionName)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideTracker,
			provideLock,
			provideStore,
			provideAdapter,
			provideEventHandler,
			provideSupervisor,
			provideSyncEngine,
			provideSender,
			NewBackend,
			provideHub,
			provideAPIServer,
			provideControl,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Config.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideTracker(p Params, b *bus.Bus, logger *zap.Logger) *status.Tracker {
	return status.NewTracker(b, pairing.NewRenderer(pairing.DefaultSize), pairing.NewFileSink(p.qrPath()), logger)
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

// The lock parameters below only order construction after the lock.

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
	db, result, err := store.Open(dbPath)
	if err != nil {
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

func provideAdapter(p Params, _ *lock.Lock, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), session.SessionDBPath(p.SessionName), p.Config.DeviceName, logger)
}

func provideEventHandler(b *bus.Bus, tracker *status.Tracker, adapter *wa.Adapter, logger *zap.Logger) *wa.EventHandler {
	return wa.NewEventHandler(b, tracker, adapter, logger)
}

func provideSupervisor(p Params, adapter *wa.Adapter, tracker *status.Tracker, b *bus.Bus, logger *zap.Logger) *wa.Supervisor {
	return wa.NewSupervisor(adapter, tracker, b, p.Config.PairingRetry.Duration, logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger)
}

func provideSender(db *store.DB, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, adapter, b, logger)
}

func provideHub(b *bus.Bus, tracker *status.Tracker, logger *zap.Logger) *relay.Hub {
	return relay.NewHub(b, tracker, relay.DefaultQueueSize, logger)
}

func provideAPIServer(p Params, tracker *status.Tracker, backend *Backend, hub *relay.Hub, logger *zap.Logger) *api.Server {
	cfg := p.Config
	return api.NewServer(api.Options{
		Addr:            fmt.Sprintf(":%d", cfg.Port),
		SessionTimeout:  cfg.SessionTimeout.Duration,
		MessageLimit:    cfg.MessageLimit,
		MaxMessageLimit: cfg.MaxMessageLimit,
		AllowedOrigins:  cfg.AllowedOrigins,
	}, tracker, backend, hub.Handler(cfg.AllowedOrigins), logger)
}

func provideControl(p Params, _ *lock.Lock, tracker *status.Tracker, b *bus.Bus, logger *zap.Logger) (*control.Server, error) {
	return control.NewServer(p.socketPath(), tracker, b, logger)
}

type lifecycleParams struct {
	fx.In

	Lock       *lock.Lock
	DB         *store.DB
	Adapter    *wa.Adapter
	Handler    *wa.EventHandler
	Supervisor *wa.Supervisor
	Engine     *intsync.Engine
	Sender     *outbox.Sender
	Hub        *relay.Hub
	API        *api.Server
	Control    *control.Server
	Logger     *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleParams) {
	logger := d.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Consumers subscribe before the session can produce anything.
			d.Engine.Start(context.Background())
			d.Hub.Start(context.Background())
			d.Adapter.RegisterEventHandler(d.Handler.Handle)

			if err := d.Sender.RecoverStale(); err != nil {
				logger.Warn("outbox recovery failed", zap.Error(err))
			}

			if err := d.API.Start(); err != nil {
				return fmt.Errorf("start http server: %w", err)
			}
			d.Control.Start(context.Background())
			d.Supervisor.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Supervisor.Stop()

			shutdownCtx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
			defer cancel()
			if err := d.API.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}

			d.Control.Stop()
			d.Hub.Stop()
			d.Engine.Stop()
			d.Adapter.Disconnect()
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
