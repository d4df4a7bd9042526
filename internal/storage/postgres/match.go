package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/rooms/internal/gameserver"
)

// ErrDuplicateResult is returned when a room already has a recorded result.
var ErrDuplicateResult = errors.New("match result already recorded")

// MatchRepository stores one result per finished room.
type MatchRepository struct {
	db *pgxpool.Pool
}

// NewMatchRepository creates a MatchRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMatchRepository(db *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{db: db}
}

// RecordResult inserts result.
//
// Precondition: result.RoomID and result.WinnerID must be non-empty.
// Postcondition: Returns ErrDuplicateResult if the room was already recorded.
func (r *MatchRepository) RecordResult(ctx context.Context, result gameserver.MatchResult) error {
	players := result.Players
	if players == nil {
		players = []string{}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO match_results (room_id, game_id, winner_id, winner_name, players, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		result.RoomID, result.GameID, result.WinnerID, result.WinnerName, players, result.EndedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("room %s: %w", result.RoomID, ErrDuplicateResult)
		}
		return fmt.Errorf("inserting match result: %w", err)
	}
	return nil
}

// ListRecent returns up to limit results, newest first.
//
// Precondition: limit must be > 0.
func (r *MatchRepository) ListRecent(ctx context.Context, limit int) ([]gameserver.MatchResult, error) {
	rows, err := r.db.Query(ctx,
		`SELECT room_id, game_id, winner_id, winner_name, players, ended_at
		 FROM match_results
		 ORDER BY ended_at DESC, room_id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying match results: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (gameserver.MatchResult, error) {
		var m gameserver.MatchResult
		err := row.Scan(&m.RoomID, &m.GameID, &m.WinnerID, &m.WinnerName, &m.Players, &m.EndedAt)
		m.EndedAt = m.EndedAt.UTC()
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning match results: %w", err)
	}
	return results, nil
}

// isDuplicateKeyError reports whether err is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
