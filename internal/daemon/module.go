package daemon

import (
	"context"
	"os"
	"time"

	"github.com/converse-chat/converse/internal/api"
	"github.com/converse-chat/converse/internal/bus"
	"github.com/converse-chat/converse/internal/cache"
	"github.com/converse-chat/converse/internal/config"
	"github.com/converse-chat/converse/internal/entitle"
	"github.com/converse-chat/converse/internal/fanout"
	"github.com/converse-chat/converse/internal/hub"
	"github.com/converse-chat/converse/internal/ledger"
	"github.com/converse-chat/converse/internal/lock"
	"github.com/converse-chat/converse/internal/logging"
	"github.com/converse-chat/converse/internal/membership"
	"github.com/converse-chat/converse/internal/notify"
	"github.com/converse-chat/converse/internal/store"
	"github.com/converse-chat/converse/internal/token"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// tokenTTL bounds how long an issued identity token stays valid.
const tokenTTL = 30 * 24 * time.Hour

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	*config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideRedisClient,
			provideCache,
			provideGuard,
			provideTokens,
			provideDirectory,
			provideLedger,
			provideHub,
			provideBridge,
			provideFanout,
			provideDispatcher,
			provideAPI,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := os.MkdirAll(p.LogDir(), 0700); err != nil {
		return nil, err
	}
	return logging.New(p.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := os.MkdirAll(p.DataDir, 0700); err != nil {
		return nil, err
	}
	logger.Info("acquiring data dir lock", zap.String("dir", p.DataDir))
	l, err := lock.Acquire(p.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(p.DBPath())
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
	logger.Info("store initialized", zap.String("path", p.DBPath()))
	return db, nil
}

// provideRedisClient returns nil when no redis address is configured; the
// cache and bridge degrade to single-instance in-memory behavior.
func provideRedisClient(p Params, logger *zap.Logger) (*redis.Client, error) {
	if p.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: p.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	logger.Info("redis connected", zap.String("addr", p.RedisAddr))
	return client, nil
}

func provideCache(client *redis.Client, logger *zap.Logger) cache.Cache {
	if client == nil {
		return cache.NewMemory()
	}
	return cache.NewRedisFromClient(client, logger)
}

func provideGuard(p Params) entitle.Guard {
	return entitle.NewStatic(p.AdminUserIDs)
}

func provideTokens(p Params, logger *zap.Logger) *token.Manager {
	secret := p.JWTSecret
	if secret == "" {
		// Tokens signed with an ephemeral secret die with the process.
		secret = uuid.NewString()
		logger.Warn("jwt_secret not configured, using an ephemeral signing key")
	}
	return token.NewManager(secret, tokenTTL)
}

func provideDirectory(db *store.DB, guard entitle.Guard, b *bus.Bus, c cache.Cache, logger *zap.Logger) *membership.Directory {
	return membership.NewDirectory(db, guard, b, c, logger)
}

func provideLedger(p Params, db *store.DB, directory *membership.Directory, guard entitle.Guard,
	b *bus.Bus, c cache.Cache, logger *zap.Logger) *ledger.Ledger {
	return ledger.New(db, directory, guard, b, c, logger, p.EditWindow(), p.CacheTTL())
}

func provideHub(b *bus.Bus, directory *membership.Directory, logger *zap.Logger) *hub.Hub {
	return hub.New(b, directory, logger)
}

// provideBridge returns nil without redis; single-instance deployments route
// everything through the in-process bus.
func provideBridge(client *redis.Client, b *bus.Bus, h *hub.Hub, logger *zap.Logger) *hub.Bridge {
	if client == nil {
		return nil
	}
	return hub.NewBridge(client, b, h, logger)
}

func provideFanout(db *store.DB, b *bus.Bus, logger *zap.Logger) *fanout.Engine {
	return fanout.NewEngine(db, b, logger)
}

func provideDispatcher(db *store.DB, logger *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(db, &notify.LogNotifier{Logger: logger}, logger)
}

func provideAPI(directory *membership.Directory, l *ledger.Ledger, h *hub.Hub,
	tokens *token.Manager, logger *zap.Logger) *api.Server {
	return api.NewServer(directory, l, h, tokens, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, h *hub.Hub,
	bridge *hub.Bridge, engine *fanout.Engine, dispatcher *notify.Dispatcher, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			h.Start(context.Background())
			engine.Start(context.Background())
			dispatcher.Start(context.Background())
			if bridge != nil {
				bridge.Start(context.Background())
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if bridge != nil {
				bridge.Stop()
			}
			dispatcher.Stop()
			engine.Stop()
			h.Stop()
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
