//go:build wireinject

package main

import (
	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/cory-johannsen/rooms/internal/config"
	"github.com/cory-johannsen/rooms/internal/game/session"
)

func initializeApp(cfg config.Config, logger *zap.Logger) (*App, func(), error) {
	wire.Build(
		provideCreator,
		provideBridge,
		provideMatchStore,
		session.NewRegistry,
		provideRooms,
		provideCoordinator,
		provideAcceptor,
		provideRouter,
		provideApp,
	)
	return nil, nil, nil
}
