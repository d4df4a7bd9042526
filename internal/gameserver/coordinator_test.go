package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/rooms/internal/game/bridge"
	"github.com/cory-johannsen/rooms/internal/game/room"
	"github.com/cory-johannsen/rooms/internal/game/session"
)

type stubStarter struct {
	calls atomic.Int32
	err   error
}

func (s *stubStarter) StartGame(_ context.Context, roomID string) (bridge.Game, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return bridge.Game{}, s.err
	}
	return bridge.Game{
		ID:                    fmt.Sprintf("game-%s-%d", roomID, n),
		InaccessibleLocations: []string{"mill"},
		Villagers:             []bridge.Villager{{ID: "villager_0", Title: "the baker"}},
	}, nil
}

type memRecorder struct {
	mu      sync.Mutex
	results []MatchResult
	err     error
}

func (m *memRecorder) RecordResult(_ context.Context, r MatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return m.err
}

func (m *memRecorder) all() []MatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MatchResult(nil), m.results...)
}

type fakeTransport struct {
	in  chan []byte
	out *session.Outbox
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	data, ok := <-f.in
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (f *fakeTransport) Outbox() *session.Outbox { return f.out }

type client struct {
	t        *testing.T
	playerID string
	tr       *fakeTransport
	done     chan error
	closed   bool
}

func (c *client) send(msg string) {
	c.tr.in <- []byte(msg)
}

func (c *client) next() map[string]any {
	c.t.Helper()
	select {
	case data, ok := <-c.tr.out.Events():
		require.True(c.t, ok, "outbox of %s closed", c.playerID)
		var evt map[string]any
		require.NoError(c.t, json.Unmarshal(data, &evt))
		return evt
	case <-time.After(2 * time.Second):
		c.t.Fatalf("timed out waiting for event for %s", c.playerID)
		return nil
	}
}

func (c *client) pending() int {
	return len(c.tr.out.Events())
}

func (c *client) leave() error {
	c.t.Helper()
	if !c.closed {
		close(c.tr.in)
		c.closed = true
	}
	select {
	case err := <-c.done:
		return err
	case <-time.After(2 * time.Second):
		c.t.Fatalf("session of %s did not end", c.playerID)
		return nil
	}
}

type harness struct {
	t        *testing.T
	rooms    *room.Registry
	conns    *session.Registry
	starter  *stubStarter
	recorder *memRecorder
	coord    *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conns := session.NewRegistry()
	starter := &stubStarter{}
	rooms := room.NewRegistry(conns, starter, 2)
	rec := &memRecorder{}
	return &harness{
		t:        t,
		rooms:    rooms,
		conns:    conns,
		starter:  starter,
		recorder: rec,
		coord:    NewCoordinator(rooms, conns, rec, zaptest.NewLogger(t)),
	}
}

func (h *harness) start(roomID, playerID, name string) *client {
	return h.startWithOutbox(roomID, playerID, name, 16)
}

func (h *harness) startWithOutbox(roomID, playerID, name string, size int) *client {
	tr := &fakeTransport{in: make(chan []byte), out: session.NewOutbox(playerID, size)}
	c := &client{t: h.t, playerID: playerID, tr: tr, done: make(chan error, 1)}
	go func() {
		c.done <- h.coord.HandleSession(context.Background(), tr, session.JoinRequest{
			RoomID: roomID, PlayerID: playerID, Name: name,
		})
	}()
	return c
}

// connect joins and consumes the room_joined event.
func (h *harness) connect(roomID, playerID string) (*client, map[string]any) {
	h.t.Helper()
	c := h.start(roomID, playerID, "")
	evt := c.next()
	require.Equal(h.t, TypeRoomJoined, evt["type"])
	h.t.Cleanup(func() {
		if !c.closed {
			close(c.tr.in)
			c.closed = true
		}
	})
	return c, evt
}

func inRoom(conns *session.Registry, roomID, playerID string) bool {
	for _, p := range conns.ListPlayers(roomID) {
		if p.ID == playerID {
			return true
		}
	}
	return false
}

func playerIDs(t *testing.T, raw any) []string {
	t.Helper()
	list, ok := raw.([]any)
	require.True(t, ok, "players is %T", raw)
	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.(map[string]any)["id"].(string))
	}
	return ids
}

func TestHandleSession_UnknownRoom(t *testing.T) {
	h := newHarness(t)
	c := h.start("missing", "p1", "")

	err := c.leave()
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
	assert.Equal(t, session.CloseRoomNotFound, c.tr.out.Reason())
	assert.Equal(t, 0, h.conns.PlayerCount())
}

func TestHandleSession_RoomJoined(t *testing.T) {
	h := newHarness(t)
	id := h.rooms.Create()

	_, evt := h.connect(id, "alice-123456789")
	assert.Equal(t, []string{"alice-123456789"}, playerIDs(t, evt["players"]))

	players := evt["players"].([]any)
	first := players[0].(map[string]any)
	assert.Equal(t, "Player_alice-12", first["name"])
	assert.Equal(t, map[string]any{"x": 48.0, "y": 160.0}, first["position"])

	summary := evt["room"].(map[string]any)
	assert.Equal(t, id, summary["id"])
	assert.Equal(t, false, summary["started"])
	assert.Nil(t, summary["game_id"])
	assert.Nil(t, summary["winner"])
}

func TestHandleSession_ExplicitName(t *testing.T) {
	h := newHarness(t)
	id := h.rooms.Create()

	c := h.start(id, "p1", "Alice")
	evt := c.next()
	players := evt["players"].([]any)
	assert.Equal(t, "Alice", players[0].(map[string]any)["name"])
	require.NoError(t, c.leave())
}

func TestHandleSession_MoveBroadcastExcludesSender(t *testing.T) {
	h := newHarness(t)
	id := h.rooms.Create()
	a, _ := h.connect(id, "a")
	b, _ := h.connect(id, "b")

	a.send(`{"type":"move","x":10.5,"y":20}`)
	evt := b.next()
	assert.Equal(t, TypePlayerMoved, evt["type"])
	assert.Equal(t, "a", evt["playerId"])
	assert.Equal(t, 10.5, evt["x"])
	assert.Equal(t, 20.0, evt["y"])
	assert.Equal(t, 0, a.pending())

	v, err := h.rooms.Get(id)
	require.NoError(t, err)
	assert.Equal(t, session.Position{X: 10.5, Y: 20}, v.Players[0].Position)
}

func TestHandleSession_MoveWithoutCoordinates(t *testing.T) {
	h := newHarness(t)
	id := h.rooms.Create()
	a, _ := h.connect(id, "a")

	a.send(`{"type":"move","x":1}`)
	evt := a.next()
	assert.Equal(t, TypeError, evt["type"])
	assert.Equal(t, msgMoveInvalid, evt["message"])
}

func TestHandleSession_MalformedAndUnknownMessages(t *testing.T) {
	h := newHarness(t)
	id := h.rooms.Create()
	a, _ := h.connect(id, "a")
	b, _ := h.connect(id, "b")

	a.send(`not json`)
	evt := a.next()
	assert.Equal(t, TypeError, evt["type"])
	assert.Equal(t, "invalid message", evt["message"])

	a.send(`{"type":"dance"}`)
	a.send(`{"type":"move","x":1,"y":2}`)
	assert.Equal(t, TypePlayerMoved, b.next()["type"])
	assert.Equal(t, 0, a.pending())
}

func TestHandleSession_StartGameInsufficientPlayers(t *testing.T) {
	h := newHarness(t)
	id := h.rooms.Create()
	a, _ := h.connect(id, "a")

	a.send(`{"type":"start_game"}`)
	evt := a.next()
	assert.Equal(t, TypeError, evt["type"])
	assert.Equal(t, "Need at least 2 players to start the game", evt["message"])
	assert.False(t, h.rooms.Started(id))
	assert.Equal(t, int32(0), h.starter.calls.Load())
}

func TestHandleSession_StartGameOnce(t *testing.T) {
	h := newHarness(t)
	id := h.rooms.Create()
	a, _ := h.connect(id, "a")
	b, _ := h.connect(id, "b")

	a.send(`{"type":"start_game"}`)
	ea := a.next()
	eb := b.next()
	assert.Equal(t, TypeGameStarted, ea["type"])
	assert.Equal(t, ea, eb)
	assert.Equal(t, ea["game_id"], ea["game_data"].(map[string]any)["game_id"])

	b.send(`{"type":"start_game"}`)
	b.send(`{"type":"move","x":1,"y":1}`)
	assert.Equal(t, TypePlayerMoved, a.next()["type"])
	assert.Equal(t, int32(1), h.starter.calls.Load())
}

func TestHandleSession_StartGameBridgeFailure(t *testing.T) {
	h := newHarness(t)
	h.starter.err = errors.New("engine down")
	id := h.rooms.Create()
	a, _ := h.connect(id, "a")
	b, _ := h.connect(id, "b")

	a.send(`{"type":"start_game"}`)
	evt := a.next()
	assert.Equal(t, TypeError, evt["type"])
	assert.Equal(t, msgStartFailed, evt["message"])
	assert.Equal(t, 0, b.pending())
	assert.False(t, h.rooms.Started(id))
}

func TestHandleSession_GameWonFirstClaimWins(t *testing.T) {
	h := newHarness(t)
	id := h.rooms.Create()
	a, _ := h.connect(id, "a")
	b, _ := h.connect(id, "b")

	a.send(`{"type":"start_game"}`)
	a.next()
	b.next()

	a.send(`{"type":"game_won"}`)
	ea := a.next()
	eb := b.next()
	assert.Equal(t, map[string]any{"type": TypeGameEnded, "winner": "a", "winner_name": "Player_a"}, ea)
	assert.Equal(t, ea, eb)

	b.send(`{"type":"game_won"}`)
	b.send(`{"type":"move","x":3,"y":4}`)
	assert.Equal(t, TypePlayerMoved, a.next()["type"])
	assert.Equal(t, 0, b.pending())

	v, err := h.rooms.Get(id)
	require.NoError(t, err)
	require.NotNil(t, v.Winner)
	assert.Equal(t, "a", *v.Winner)

	require.Eventually(t, func() bool { return len(h.recorder.all()) == 1 }, time.Second, 10*time.Millisecond)
	res := h.recorder.all()[0]
	assert.Equal(t, id, res.RoomID)
	assert.Equal(t, "a", res.WinnerID)
	assert.Equal(t, "Player_a", res.WinnerName)
	assert.Equal(t, "game-"+id+"-1", res.GameID)
	assert.ElementsMatch(t, []string{"a", "b"}, res.Players)
}

func TestHandleSession_RecorderFailureIsNotSurfaced(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = errors.New("db down")
	id := h.rooms.Create()
	a, _ := h.connect(id, "a")

	a.send(`{"type":"game_won"}`)
	assert.Equal(t, TypeGameEnded, a.next()["type"])
	a.send(`{"type":"move","x":1,"y":1}`)
	require.NoError(t, a.leave())
}

func TestHandleSession_LeaveBroadcastsPlayerLeft(t *testing.T) {
	h := newHarness(t)
	id := h.rooms.Create()
	a, _ := h.connect(id, "a")
	b, _ := h.connect(id, "b")

	require.NoError(t, b.leave())
	evt := a.next()
	assert.Equal(t, TypePlayerLeft, evt["type"])
	assert.Equal(t, "b", evt["playerId"])
	assert.Equal(t, []string{"a"}, playerIDs(t, evt["players"]))
	assert.True(t, b.tr.out.IsClosed())
	assert.False(t, inRoom(h.conns, id, "b"))
}

func TestHandleSession_ReconnectSameRoom(t *testing.T) {
	h := newHarness(t)
	id := h.rooms.Create()
	a1, _ := h.connect(id, "a")
	b, _ := h.connect(id, "b")
	a2, evt := h.connect(id, "a")

	assert.ElementsMatch(t, []string{"a", "b"}, playerIDs(t, evt["players"]))
	assert.Equal(t, session.CloseSuperseded, a1.tr.out.Reason())

	require.NoError(t, a1.leave())
	assert.True(t, inRoom(h.conns, id, "a"))

	a2.send(`{"type":"move","x":5,"y":5}`)
	moved := b.next()
	assert.Equal(t, TypePlayerMoved, moved["type"])
	assert.Equal(t, "a", moved["playerId"])
}

func TestHandleSession_ReconnectOtherRoom(t *testing.T) {
	h := newHarness(t)
	room1 := h.rooms.Create()
	room2 := h.rooms.Create()
	a1, _ := h.connect(room1, "a")
	b, _ := h.connect(room1, "b")

	h.connect(room2, "a")
	evt := b.next()
	assert.Equal(t, TypePlayerLeft, evt["type"])
	assert.Equal(t, "a", evt["playerId"])
	assert.Equal(t, []string{"b"}, playerIDs(t, evt["players"]))
	assert.Equal(t, session.CloseSuperseded, a1.tr.out.Reason())

	require.NoError(t, a1.leave())
	assert.Equal(t, 0, b.pending())
	got, ok := h.conns.RoomOf("a")
	require.True(t, ok)
	assert.Equal(t, room2, got)
}

func TestHandleSession_ReconnectOtherRoomAfterWriterFailure(t *testing.T) {
	h := newHarness(t)
	room1 := h.rooms.Create()
	room2 := h.rooms.Create()
	a1, _ := h.connect(room1, "a")
	b, _ := h.connect(room1, "b")

	// The old writer failed before any broadcast noticed.
	require.NoError(t, a1.tr.out.Close(session.CloseDeliveryFailed))

	h.connect(room2, "a")
	evt := b.next()
	assert.Equal(t, TypePlayerLeft, evt["type"])
	assert.Equal(t, "a", evt["playerId"])

	require.NoError(t, a1.leave())
	assert.Equal(t, 0, b.pending(), "departure announced once")
}

func TestHandleSession_SlowReceiverEvictedAndAnnounced(t *testing.T) {
	h := newHarness(t)
	id := h.rooms.Create()
	a, _ := h.connect(id, "a")
	b, _ := h.connect(id, "b")

	// room_joined fills the single slot and is never drained.
	slow := h.startWithOutbox(id, "slow", "", 1)
	require.Eventually(t, func() bool { return slow.pending() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, inRoom(h.conns, id, "slow"))

	a.send(`{"type":"move","x":7,"y":8}`)
	moved := b.next()
	assert.Equal(t, TypePlayerMoved, moved["type"])
	assert.Equal(t, session.CloseDeliveryFailed, slow.tr.out.Reason())
	assert.False(t, inRoom(h.conns, id, "slow"))

	// The transport notices the closed outbox and ends the session.
	require.NoError(t, slow.leave())

	for _, c := range []*client{a, b} {
		left := c.next()
		assert.Equal(t, TypePlayerLeft, left["type"])
		assert.Equal(t, "slow", left["playerId"])
		assert.Equal(t, []string{"a", "b"}, playerIDs(t, left["players"]))
		assert.Equal(t, 0, c.pending())
	}
}

func TestHandleSession_ShutdownSkipsDepartureBroadcast(t *testing.T) {
	h := newHarness(t)
	core, logs := observer.New(zapcore.DebugLevel)
	h.coord = NewCoordinator(h.rooms, h.conns, h.recorder, zap.New(core))
	id := h.rooms.Create()
	a, _ := h.connect(id, "a")
	b, _ := h.connect(id, "b")

	require.NoError(t, a.tr.out.Close(session.CloseShutdown))
	require.NoError(t, b.tr.out.Close(session.CloseShutdown))
	require.NoError(t, a.leave())
	require.NoError(t, b.leave())

	assert.Zero(t, logs.FilterMessage("evicted connection after failed delivery").Len())
	assert.Zero(t, logs.FilterMessage("player left").Len())
	assert.Equal(t, 0, h.conns.PlayerCount())
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Player_abcdefgh", DisplayName("abcdefghijkl"))
	assert.Equal(t, "Player_abc", DisplayName("abc"))
}
