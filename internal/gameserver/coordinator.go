// Package gameserver runs the per-connection session loop that turns inbound
// room messages into registry operations and broadcasts.
package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rooms/internal/game/bridge"
	"github.com/cory-johannsen/rooms/internal/game/room"
	"github.com/cory-johannsen/rooms/internal/game/session"
	"github.com/cory-johannsen/rooms/internal/observability"
)

const (
	msgInvalid     = "invalid message"
	msgMoveInvalid = "move requires numeric x and y"
	msgStartFailed = "Failed to start game"
	recordTimeout  = 5 * time.Second
)

// Coordinator serves room sessions. It holds no per-connection state; every
// call to HandleSession owns one connection.
type Coordinator struct {
	rooms    *room.Registry
	conns    *session.Registry
	recorder MatchRecorder
	logger   *zap.Logger
}

// NewCoordinator creates a Coordinator.
//
// Precondition: rooms, conns and logger must be non-nil. recorder may be nil
// (results are not persisted).
// Postcondition: Returns a ready Coordinator.
func NewCoordinator(rooms *room.Registry, conns *session.Registry, recorder MatchRecorder, logger *zap.Logger) *Coordinator {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Coordinator{
		rooms:    rooms,
		conns:    conns,
		recorder: recorder,
		logger:   logger,
	}
}

// DisplayName returns the name shown for playerID when the client sent none.
func DisplayName(playerID string) string {
	if len(playerID) > 8 {
		playerID = playerID[:8]
	}
	return "Player_" + playerID
}

// HandleSession runs one connection from join to close.
//
// Precondition: t must be an accepted transport; req.RoomID and req.PlayerID
// must be non-empty.
// Postcondition: The connection is unregistered and its outbox closed when
// HandleSession returns. An unknown room closes the outbox with
// session.CloseRoomNotFound and returns an error wrapping room.ErrRoomNotFound.
func (c *Coordinator) HandleSession(ctx context.Context, t session.Transport, req session.JoinRequest) error {
	out := t.Outbox()
	logger := observability.ForConnection(c.logger, req.RoomID, req.PlayerID)

	if !c.rooms.Exists(req.RoomID) {
		_ = out.Close(session.CloseRoomNotFound)
		logger.Info("join rejected: unknown room")
		return fmt.Errorf("joining room %s: %w", req.RoomID, room.ErrRoomNotFound)
	}
	if req.Name == "" {
		req.Name = DisplayName(req.PlayerID)
	}

	_, ev := c.conns.Register(req.RoomID, req.PlayerID, req.Name, out)
	defer c.cleanup(logger, req, out)
	logger.Info("player joined", zap.String("name", req.Name))

	if ev.Evicted() {
		logger.Info("superseded connection in another room", zap.String("old_room_id", ev.RoomID))
		c.broadcast(logger, ev.RoomID, PlayerLeftEvent{
			Type:     TypePlayerLeft,
			PlayerID: req.PlayerID,
			Players:  c.conns.ListPlayers(ev.RoomID),
		}, nil)
	}

	view, err := c.rooms.Get(req.RoomID)
	if err != nil {
		return fmt.Errorf("reading room %s: %w", req.RoomID, err)
	}
	if err := c.send(out, RoomJoinedEvent{Type: TypeRoomJoined, Players: view.Players, Room: view}); err != nil {
		return fmt.Errorf("sending room_joined: %w", err)
	}

	err = c.messageLoop(ctx, logger, t, req)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// messageLoop reads and dispatches inbound messages until the transport fails.
func (c *Coordinator) messageLoop(ctx context.Context, logger *zap.Logger, t session.Transport, req session.JoinRequest) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := t.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("receiving message: %w", err)
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			logger.Debug("malformed message", zap.Error(err))
			if err := c.send(t.Outbox(), errorEvent(msgInvalid)); err != nil {
				return fmt.Errorf("sending error: %w", err)
			}
			continue
		}
		if err := c.dispatch(ctx, logger, t.Outbox(), req, msg); err != nil {
			return err
		}
	}
}

// dispatch routes a ClientMessage to its handler. A returned error ends the
// session; errors meant for the client are sent as events instead.
func (c *Coordinator) dispatch(ctx context.Context, logger *zap.Logger, out *session.Outbox, req session.JoinRequest, msg ClientMessage) error {
	switch msg.Type {
	case TypeMove:
		return c.handleMove(logger, out, req, msg)
	case TypeStartGame:
		return c.handleStartGame(ctx, logger, out, req)
	case TypeGameWon:
		c.handleGameWon(logger, req)
		return nil
	default:
		logger.Debug("ignoring unknown message type", zap.String(observability.FieldEvent, msg.Type))
		return nil
	}
}

func (c *Coordinator) handleMove(logger *zap.Logger, out *session.Outbox, req session.JoinRequest, msg ClientMessage) error {
	if msg.X == nil || msg.Y == nil {
		if err := c.send(out, errorEvent(msgMoveInvalid)); err != nil {
			return fmt.Errorf("sending error: %w", err)
		}
		return nil
	}
	if !c.conns.UpdatePosition(req.RoomID, req.PlayerID, *msg.X, *msg.Y) {
		logger.Debug("move from unregistered connection")
		return nil
	}
	c.broadcast(logger, req.RoomID, PlayerMovedEvent{
		Type:     TypePlayerMoved,
		PlayerID: req.PlayerID,
		X:        *msg.X,
		Y:        *msg.Y,
	}, out)
	return nil
}

func (c *Coordinator) handleStartGame(ctx context.Context, logger *zap.Logger, out *session.Outbox, req session.JoinRequest) error {
	if c.rooms.Started(req.RoomID) {
		return nil
	}
	_, err := c.rooms.TryStart(ctx, req.RoomID, func(game bridge.Game) {
		logger.Info("game started", zap.String(observability.FieldGameID, game.ID))
		c.broadcast(logger, req.RoomID, GameStartedEvent{
			Type:     TypeGameStarted,
			GameID:   game.ID,
			GameData: game,
		}, nil)
	})
	switch {
	case err == nil, errors.Is(err, room.ErrAlreadyStarted):
		return nil
	case errors.Is(err, room.ErrInsufficientPlayers):
		msg := fmt.Sprintf("Need at least %d players to start the game", c.rooms.MinPlayers())
		if sendErr := c.send(out, errorEvent(msg)); sendErr != nil {
			return fmt.Errorf("sending error: %w", sendErr)
		}
		return nil
	default:
		logger.Error("starting game", zap.Error(err))
		if sendErr := c.send(out, errorEvent(msgStartFailed)); sendErr != nil {
			return fmt.Errorf("sending error: %w", sendErr)
		}
		return nil
	}
}

func (c *Coordinator) handleGameWon(logger *zap.Logger, req session.JoinRequest) {
	var players []session.PlayerInfo
	accepted, err := c.rooms.ClaimWinner(req.RoomID, room.Winner{ID: req.PlayerID, Name: req.Name}, func() {
		players = c.conns.ListPlayers(req.RoomID)
		c.broadcast(logger, req.RoomID, GameEndedEvent{
			Type:       TypeGameEnded,
			Winner:     req.PlayerID,
			WinnerName: req.Name,
		}, nil)
	})
	if err != nil {
		logger.Warn("claiming winner", zap.Error(err))
		return
	}
	if !accepted {
		logger.Debug("duplicate win claim dropped")
		return
	}
	logger.Info("game won")
	c.record(logger, req, players)
}

// record persists the finished match. Failures are logged only.
func (c *Coordinator) record(logger *zap.Logger, req session.JoinRequest, players []session.PlayerInfo) {
	ids := make([]string, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.ID)
	}
	result := MatchResult{
		RoomID:     req.RoomID,
		WinnerID:   req.PlayerID,
		WinnerName: req.Name,
		Players:    ids,
		EndedAt:    time.Now().UTC(),
	}
	if game, ok := c.rooms.Game(req.RoomID); ok {
		result.GameID = game.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.recorder.RecordResult(ctx, result); err != nil {
		logger.Warn("recording match result", zap.Error(err))
	}
}

// cleanup unregisters the connection and announces the departure unless the
// player is still present through a newer connection, a takeover already
// announced it, or the server is shutting down.
func (c *Coordinator) cleanup(logger *zap.Logger, req session.JoinRequest, out *session.Outbox) {
	var announce func([]session.PlayerInfo) []byte
	if out.Reason() != session.CloseShutdown {
		announce = func(remaining []session.PlayerInfo) []byte {
			data, err := json.Marshal(PlayerLeftEvent{
				Type:     TypePlayerLeft,
				PlayerID: req.PlayerID,
				Players:  remaining,
			})
			if err != nil {
				logger.Error("marshaling player_left", zap.Error(err))
				return nil
			}
			return data
		}
	}

	announced, evicted := c.conns.Depart(req.RoomID, req.PlayerID, out, announce)
	logEvicted(logger, evicted)

	reason := zap.String("close_reason", out.Reason().String())
	switch {
	case announced:
		logger.Info("player left", reason)
	case out.Reason() == session.CloseSuperseded:
		logger.Info("connection superseded")
	default:
		if current, ok := c.conns.RoomOf(req.PlayerID); ok {
			logger.Info("connection closed, player still connected", reason, zap.String("current_room_id", current))
			return
		}
		logger.Info("connection closed", reason)
	}
}

// broadcast fans evt out to roomID, excluding the exclude handle when non-nil.
func (c *Coordinator) broadcast(logger *zap.Logger, roomID string, evt any, exclude session.Handle) {
	data, err := json.Marshal(evt)
	if err != nil {
		logger.Error("marshaling broadcast event", zap.Error(err))
		return
	}
	logEvicted(logger, c.conns.Broadcast(roomID, data, exclude))
}

func logEvicted(logger *zap.Logger, evicted []*session.Connection) {
	for _, conn := range evicted {
		logger.Warn("evicted connection after failed delivery",
			zap.String("evicted_player_id", conn.PlayerID),
		)
	}
}

// send delivers evt to a single connection.
func (c *Coordinator) send(out *session.Outbox, evt any) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return out.Send(data)
}
