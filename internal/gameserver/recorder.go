package gameserver

import (
	"context"
	"time"
)

// MatchResult is the outcome of one finished room.
type MatchResult struct {
	RoomID     string    `json:"room_id"`
	GameID     string    `json:"game_id"`
	WinnerID   string    `json:"winner_id"`
	WinnerName string    `json:"winner_name"`
	Players    []string  `json:"players"`
	EndedAt    time.Time `json:"ended_at"`
}

// MatchRecorder persists finished matches.
//
// Precondition: result.RoomID and result.WinnerID must be non-empty.
// Postcondition: Returns nil on success or a non-nil error on failure.
type MatchRecorder interface {
	RecordResult(ctx context.Context, result MatchResult) error
}

// NopRecorder discards every result.
type NopRecorder struct{}

// RecordResult implements MatchRecorder.
func (NopRecorder) RecordResult(context.Context, MatchResult) error { return nil }
