package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rooms/internal/config"
	"github.com/cory-johannsen/rooms/internal/frontend/handlers"
	"github.com/cory-johannsen/rooms/internal/frontend/ws"
	"github.com/cory-johannsen/rooms/internal/game/bridge"
	"github.com/cory-johannsen/rooms/internal/game/room"
	"github.com/cory-johannsen/rooms/internal/game/session"
	"github.com/cory-johannsen/rooms/internal/gameserver"
	"github.com/cory-johannsen/rooms/internal/server"
	"github.com/cory-johannsen/rooms/internal/storage/postgres"
)

const dbConnectTimeout = 15 * time.Second

// App is the assembled room server.
type App struct {
	Lifecycle *server.Lifecycle
}

// matchStore groups the match-history collaborators. Lister and Pool are nil
// when persistence is disabled.
type matchStore struct {
	Recorder gameserver.MatchRecorder
	Lister   handlers.MatchLister
	Pool     *postgres.Pool
}

func provideCreator(cfg config.Config) (bridge.GameCreator, error) {
	return bridge.NewCreator(cfg.Bridge)
}

func provideBridge(creator bridge.GameCreator, cfg config.Config, logger *zap.Logger) *bridge.Bridge {
	return bridge.New(creator, cfg.Bridge.Difficulty, cfg.Bridge.Timeout, logger.Named("bridge"))
}

func provideMatchStore(cfg config.Config, logger *zap.Logger) (matchStore, func(), error) {
	if !cfg.Database.Enabled {
		return matchStore{Recorder: gameserver.NopRecorder{}}, func() {}, nil
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), dbConnectTimeout)
	defer cancel()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return matchStore{}, nil, err
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(start)),
	)
	repo := postgres.NewMatchRepository(pool.DB())
	return matchStore{Recorder: repo, Lister: repo, Pool: pool}, pool.Close, nil
}

func provideRooms(conns *session.Registry, b *bridge.Bridge, cfg config.Config) *room.Registry {
	return room.NewRegistry(conns, b, cfg.Room.MinPlayers)
}

func provideCoordinator(rooms *room.Registry, conns *session.Registry, store matchStore, logger *zap.Logger) *gameserver.Coordinator {
	return gameserver.NewCoordinator(rooms, conns, store.Recorder, logger.Named("coordinator"))
}

func provideAcceptor(cfg config.Config, coord *gameserver.Coordinator, logger *zap.Logger) *ws.Acceptor {
	return ws.NewAcceptor(cfg.Room, cfg.Server.AllowedOrigins, coord, logger.Named("ws"))
}

func provideRouter(rooms *room.Registry, acc *ws.Acceptor, store matchStore, cfg config.Config, logger *zap.Logger) *handlers.Router {
	return handlers.NewRouter(rooms, acc, store.Lister, cfg.Server.AllowedOrigins, logger.Named("http"))
}

func provideApp(cfg config.Config, router *handlers.Router, acc *ws.Acceptor, rooms *room.Registry, conns *session.Registry, store matchStore, logger *zap.Logger) *App {
	lc := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)
	httpSvc := server.NewHTTPService(cfg.Server.Addr(), router, cfg.Server.ReadHeaderTimeout, logger.Named("http"))

	var health *server.HealthService
	if cfg.Server.HealthPort > 0 {
		health = server.NewHealthService(cfg.Server.HealthAddr(), logger.Named("health"))
		lc.Add("health", health)
		if store.Pool != nil {
			lc.Add("match-history-monitor", server.NewHealthMonitor(
				server.MatchHistoryService,
				cfg.Database.HealthInterval,
				store.Pool.Health,
				health,
				logger.Named("health"),
			))
		}
	}
	lc.Add("http", httpSvc)
	lc.Add("sessions", &server.FuncService{
		StartFn: func() error {
			<-httpSvc.Ready()
			if health != nil {
				health.SetServing(true)
			}
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if health != nil {
				health.SetServing(false)
			}
			logger.Info("draining sessions",
				zap.Int("rooms", rooms.Count()),
				zap.Int("players", conns.PlayerCount()),
				zap.Int("sessions", acc.ActiveSessions()),
			)
			return acc.Stop(ctx)
		},
	})
	return &App{Lifecycle: lc}
}
