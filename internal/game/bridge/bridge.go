// Package bridge creates game sessions through the external narrative engine
// when a room starts.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Villager is a character the player can talk to in a generated world.
type Villager struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Game is the initial world payload handed to every room member on start.
type Game struct {
	ID                    string     `json:"game_id"`
	InaccessibleLocations []string   `json:"inaccessible_locations"`
	Villagers             []Villager `json:"villagers"`
}

// GameCreator is the collaborator that generates a new game world.
type GameCreator interface {
	CreateGame(ctx context.Context, difficulty string) (Game, error)
}

// ErrEmptyGameID is returned when a creator reports success without an id.
var ErrEmptyGameID = errors.New("game creator returned an empty game id")

// Bridge invokes a GameCreator on behalf of a starting room.
type Bridge struct {
	creator    GameCreator
	difficulty string
	timeout    time.Duration
	logger     *zap.Logger
}

// New creates a Bridge.
//
// Precondition: creator and logger must be non-nil; difficulty must be non-empty.
// A non-positive timeout means the caller's context is the only bound.
func New(creator GameCreator, difficulty string, timeout time.Duration, logger *zap.Logger) *Bridge {
	return &Bridge{
		creator:    creator,
		difficulty: difficulty,
		timeout:    timeout,
		logger:     logger,
	}
}

// StartGame creates the game for roomID.
//
// Postcondition: Returns a Game with a non-empty ID and non-nil slices, or a
// non-nil error. Nothing is retried.
func (b *Bridge) StartGame(ctx context.Context, roomID string) (Game, error) {
	start := time.Now()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	game, err := b.creator.CreateGame(ctx, b.difficulty)
	if err != nil {
		b.logger.Error("creating game",
			zap.String("room_id", roomID),
			zap.String("difficulty", b.difficulty),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return Game{}, fmt.Errorf("creating game for room %s: %w", roomID, err)
	}
	if game.ID == "" {
		return Game{}, fmt.Errorf("creating game for room %s: %w", roomID, ErrEmptyGameID)
	}
	if game.InaccessibleLocations == nil {
		game.InaccessibleLocations = []string{}
	}
	if game.Villagers == nil {
		game.Villagers = []Villager{}
	}

	b.logger.Info("game created",
		zap.String("room_id", roomID),
		zap.String("game_id", game.ID),
		zap.Int("villagers", len(game.Villagers)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return game, nil
}

// villagerID returns the id the narrative engine uses for the i-th villager.
func villagerID(i int) string {
	return fmt.Sprintf("villager_%d", i)
}
