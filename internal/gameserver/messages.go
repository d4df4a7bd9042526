package gameserver

import (
	"github.com/cory-johannsen/rooms/internal/game/bridge"
	"github.com/cory-johannsen/rooms/internal/game/room"
	"github.com/cory-johannsen/rooms/internal/game/session"
)

// Inbound message types.
const (
	TypeMove      = "move"
	TypeStartGame = "start_game"
	TypeGameWon   = "game_won"
)

// Outbound event types.
const (
	TypeRoomJoined  = "room_joined"
	TypePlayerMoved = "player_moved"
	TypeGameStarted = "game_started"
	TypeGameEnded   = "game_ended"
	TypePlayerLeft  = "player_left"
	TypeError       = "error"
)

// ClientMessage is any inbound message. X and Y are only read for move.
type ClientMessage struct {
	Type string   `json:"type"`
	X    *float64 `json:"x,omitempty"`
	Y    *float64 `json:"y,omitempty"`
}

// RoomJoinedEvent is sent to a connection right after it joins.
type RoomJoinedEvent struct {
	Type    string               `json:"type"`
	Players []session.PlayerInfo `json:"players"`
	Room    room.View            `json:"room"`
}

// PlayerMovedEvent announces a position change to the rest of the room.
type PlayerMovedEvent struct {
	Type     string  `json:"type"`
	PlayerID string  `json:"playerId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// GameStartedEvent carries the world every member plays in.
type GameStartedEvent struct {
	Type     string      `json:"type"`
	GameID   string      `json:"game_id"`
	GameData bridge.Game `json:"game_data"`
}

// GameEndedEvent announces the accepted winner.
type GameEndedEvent struct {
	Type       string `json:"type"`
	Winner     string `json:"winner"`
	WinnerName string `json:"winner_name"`
}

// PlayerLeftEvent announces a departure with the refreshed roster.
type PlayerLeftEvent struct {
	Type     string               `json:"type"`
	PlayerID string               `json:"playerId"`
	Players  []session.PlayerInfo `json:"players"`
}

// ErrorEvent is sent to a single connection.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorEvent(msg string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: msg}
}
