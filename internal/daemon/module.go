package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/api"
	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/config"
	"github.com/matheus3301/smsdesk/internal/gateway"
	"github.com/matheus3301/smsdesk/internal/ingest"
	"github.com/matheus3301/smsdesk/internal/lock"
	"github.com/matheus3301/smsdesk/internal/logging"
	"github.com/matheus3301/smsdesk/internal/outbox"
	"github.com/matheus3301/smsdesk/internal/profile"
	"github.com/matheus3301/smsdesk/internal/push"
	"github.com/matheus3301/smsdesk/internal/store"
)

// Params holds the resolved profile and configuration passed to the fx module.
type Params struct {
	Profile string
	Config  *config.Config
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
			provideLock,
			provideStore,
			provideGateway,
			provideIngestEngine,
			provideSender,
			provideHandler,
			providePushServer,
			provideBridge,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a
// second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
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
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideGateway(p Params, logger *zap.Logger) *gateway.Client {
	gw := p.Config.Gateway
	if gw.BaseURL == "" {
		logger.Warn("gateway.base_url is not set, sends will fail")
	}
	return gateway.New(gw.BaseURL, gw.APIKey, time.Duration(gw.TimeoutMS)*time.Millisecond)
}

func provideIngestEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, logger.Named("ingest"))
}

func provideSender(p Params, db *store.DB, gw *gateway.Client, engine *ingest.Engine, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	interval := time.Duration(p.Config.Server.OutboxIntervalMS) * time.Millisecond
	return outbox.NewSender(db, gw, engine, b, interval, logger.Named("outbox"))
}

func provideHandler(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.Handler {
	return api.NewHandler(db, b, api.Options{
		Profile:       p.Profile,
		AttachmentDir: profile.AttachmentDir(p.Profile),
		PublicURL:     p.Config.Server.PublicURL,
		Region:        p.Config.Console.DefaultRegion,
	}, logger.Named("api"))
}

func providePushServer(b *bus.Bus, logger *zap.Logger) *push.Server {
	return push.NewServer(b, logger.Named("push"))
}

// provideBridge returns nil unless the NATS transport is configured.
func provideBridge(p Params, b *bus.Bus, logger *zap.Logger) (*push.Bridge, error) {
	if p.Config.Push.Transport != config.TransportNATS {
		return nil, nil
	}
	nc, err := push.ConnectNATS(p.Config.Push.NATSURL, "smsdeskd-"+p.Profile, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	return push.NewBridge(nc, b, p.Config.Push.SubjectPrefix, logger.Named("nats")), nil
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, engine *ingest.Engine, sender *outbox.Sender, bridge *push.Bridge, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Ingestion must be subscribed before the webhook can publish.
			engine.Start(context.Background())
			if bridge != nil {
				bridge.Start(context.Background())
			}
			srv.Start()
			sender.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			sender.Stop()
			if bridge != nil {
				bridge.Stop()
			}
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
