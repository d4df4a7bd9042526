// Package room tracks room lifecycle: creation, the one-time game start and
// the first winner claim. Live membership is owned by the session registry.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cory-johannsen/rooms/internal/game/bridge"
	"github.com/cory-johannsen/rooms/internal/game/session"
)

var (
	// ErrRoomNotFound is returned for operations on an unknown room id.
	ErrRoomNotFound = errors.New("room not found")
	// ErrInsufficientPlayers is returned by TryStart when too few distinct
	// players are connected. The room stays unstarted.
	ErrInsufficientPlayers = errors.New("insufficient players")
	// ErrAlreadyStarted is returned by TryStart when the room has a game.
	ErrAlreadyStarted = errors.New("room already started")
)

// Roster reports live membership of a room.
type Roster interface {
	ListPlayers(roomID string) []session.PlayerInfo
	DistinctPlayers(roomID string) int
}

// GameStarter creates the game session for a room.
type GameStarter interface {
	StartGame(ctx context.Context, roomID string) (bridge.Game, error)
}

// Winner identifies the player whose claim was accepted.
type Winner struct {
	ID   string
	Name string
}

// Room is the lifecycle state of one room. Its fields are guarded by mu;
// startMu serializes TryStart and is the only lock held across the bridge call.
type Room struct {
	ID string

	startMu sync.Mutex
	mu      sync.Mutex
	started bool
	game    *bridge.Game
	winner  *Winner
}

// View is the public summary of a room.
type View struct {
	ID      string               `json:"id"`
	Players []session.PlayerInfo `json:"players"`
	Started bool                 `json:"started"`
	GameID  *string              `json:"game_id"`
	Winner  *string              `json:"winner"`
}

// Registry owns every room created since startup.
//
// Rooms are never removed; the registry lives for the process.
// All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	roster     Roster
	starter    GameStarter
	minPlayers int
	newID      func() string
}

// NewRegistry creates an empty room Registry.
//
// Precondition: roster and starter must be non-nil; minPlayers < 1 is
// treated as 2.
func NewRegistry(roster Roster, starter GameStarter, minPlayers int) *Registry {
	if minPlayers < 1 {
		minPlayers = 2
	}
	return &Registry{
		rooms:      make(map[string]*Room),
		roster:     roster,
		starter:    starter,
		minPlayers: minPlayers,
		newID:      shortID,
	}
}

func shortID() string {
	return uuid.NewString()[:8]
}

// Create allocates a new room with a fresh identifier.
//
// Postcondition: The returned id names an unstarted room with no game and no winner.
func (r *Registry) Create() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newID()
	for {
		if _, taken := r.rooms[id]; !taken {
			break
		}
		id = r.newID()
	}
	r.rooms[id] = &Room{ID: id}
	return id
}

// Exists reports whether roomID names a created room.
func (r *Registry) Exists(roomID string) bool {
	_, ok := r.room(roomID)
	return ok
}

// MinPlayers returns the distinct-player threshold for starting a room.
func (r *Registry) MinPlayers() int {
	return r.minPlayers
}

// Count returns the number of rooms created.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Get returns the current summary of roomID.
//
// Postcondition: Returns ErrRoomNotFound if roomID was never created.
func (r *Registry) Get(roomID string) (View, error) {
	rm, ok := r.room(roomID)
	if !ok {
		return View{}, ErrRoomNotFound
	}
	rm.mu.Lock()
	v := View{ID: rm.ID, Started: rm.started}
	if rm.game != nil {
		id := rm.game.ID
		v.GameID = &id
	}
	if rm.winner != nil {
		id := rm.winner.ID
		v.Winner = &id
	}
	rm.mu.Unlock()
	v.Players = r.roster.ListPlayers(roomID)
	return v, nil
}

// Started reports whether roomID has a game. Unknown rooms report false.
func (r *Registry) Started(roomID string) bool {
	rm, ok := r.room(roomID)
	if !ok {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.started
}

// TryStart starts the game for roomID exactly once.
//
// The started check, the bridge call and the flip to started happen under
// the room's start lock, so concurrent callers observe one start. onStarted,
// when non-nil, runs under the same lock after the flip.
//
// Postcondition: On success the room is started and holds the returned game.
// ErrAlreadyStarted and ErrInsufficientPlayers leave the room unchanged and
// do not call the bridge. A bridge error is returned wrapped and leaves the
// room unstarted.
func (r *Registry) TryStart(ctx context.Context, roomID string, onStarted func(bridge.Game)) (bridge.Game, error) {
	rm, ok := r.room(roomID)
	if !ok {
		return bridge.Game{}, ErrRoomNotFound
	}
	rm.startMu.Lock()
	defer rm.startMu.Unlock()

	rm.mu.Lock()
	started := rm.started
	rm.mu.Unlock()
	if started {
		return bridge.Game{}, ErrAlreadyStarted
	}
	if n := r.roster.DistinctPlayers(roomID); n < r.minPlayers {
		return bridge.Game{}, ErrInsufficientPlayers
	}

	game, err := r.starter.StartGame(ctx, roomID)
	if err != nil {
		return bridge.Game{}, fmt.Errorf("starting room %s: %w", roomID, err)
	}
	rm.mu.Lock()
	rm.game = &game
	rm.started = true
	rm.mu.Unlock()
	if onStarted != nil {
		onStarted(game)
	}
	return game, nil
}

// ClaimWinner records w as the winner of roomID if nobody has won yet.
// onAccepted, when non-nil, runs under the room's lock after an accepted claim.
//
// Postcondition: Returns true only for the call that set the winner.
func (r *Registry) ClaimWinner(roomID string, w Winner, onAccepted func()) (bool, error) {
	rm, ok := r.room(roomID)
	if !ok {
		return false, ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.winner != nil {
		return false, nil
	}
	rm.winner = &w
	if onAccepted != nil {
		onAccepted()
	}
	return true, nil
}

// Game returns the game of roomID, if it has started.
func (r *Registry) Game(roomID string) (bridge.Game, bool) {
	rm, ok := r.room(roomID)
	if !ok {
		return bridge.Game{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.game == nil {
		return bridge.Game{}, false
	}
	return *rm.game, true
}

func (r *Registry) room(roomID string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	return rm, ok
}
