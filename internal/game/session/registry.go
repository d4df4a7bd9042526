package session

import (
	"sync"
)

// DefaultSpawn is the position every connection starts at.
var DefaultSpawn = Position{X: 1*32 + 16, Y: 4.5*32 + 16}

// Position is a point on the shared map.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlayerInfo is the public view of one connected player.
type PlayerInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position Position `json:"position"`
}

// Connection is one live transport session bound to a player in a room.
// Its position is guarded by the owning Registry.
type Connection struct {
	// PlayerID is the player identity this connection speaks for.
	PlayerID string
	// Name is the display name shown to other players.
	Name string
	// Handle delivers events to the transport.
	Handle Handle

	position Position
}

// Eviction describes a connection removed from another room because its
// player registered somewhere else.
type Eviction struct {
	// RoomID is the room the connection was removed from.
	RoomID string
	// Connection is the superseded connection.
	Connection *Connection
}

// Evicted reports whether the eviction refers to a real connection.
func (e Eviction) Evicted() bool {
	return e.Connection != nil
}

// Registry owns the live connections of every room and the index from
// player to the room they are connected to.
//
// One mutex guards all rooms so a cross-room takeover is atomic. Nothing
// under the lock blocks: handles only enqueue.
// All methods are safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	rooms map[string][]*Connection // roomID → connections in join order
	index map[string]string        // playerID → roomID
	spawn Position

	// unannounced holds connections pruned by a failed Broadcast whose
	// departure no Depart or Register has reported yet, keyed by player.
	unannounced map[string]pruned
}

type pruned struct {
	roomID string
	conn   *Connection
}

// NewRegistry creates an empty connection Registry whose connections start
// at DefaultSpawn.
func NewRegistry() *Registry {
	return NewRegistryWithSpawn(DefaultSpawn)
}

// NewRegistryWithSpawn creates an empty connection Registry whose
// connections start at spawn.
func NewRegistryWithSpawn(spawn Position) *Registry {
	return &Registry{
		rooms:       make(map[string][]*Connection),
		index:       make(map[string]string),
		spawn:       spawn,
		unannounced: make(map[string]pruned),
	}
}

// Register binds handle to playerID in roomID.
//
// A live connection for the same player in another room is closed as
// superseded and removed first; the returned Eviction describes it. The
// same holds for a connection a failed Broadcast pruned from another room
// before its departure was reported. A stale entry for the player in roomID
// itself is replaced without an Eviction.
//
// Precondition: roomID and playerID must be non-empty; handle must be non-nil.
// Postcondition: playerID has exactly one connection, in roomID, and the
// index maps playerID to roomID.
func (r *Registry) Register(roomID, playerID, name string, handle Handle) (*Connection, Eviction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ev Eviction
	if prev, ok := r.index[playerID]; ok && prev != roomID {
		if old := r.removeLocked(prev, func(c *Connection) bool { return c.PlayerID == playerID }); len(old) > 0 {
			for _, c := range old {
				_ = c.Handle.Close(CloseSuperseded)
			}
			ev = Eviction{RoomID: prev, Connection: old[0]}
		}
		delete(r.index, playerID)
	}
	if p, ok := r.unannounced[playerID]; ok {
		delete(r.unannounced, playerID)
		if p.roomID != roomID && !ev.Evicted() {
			ev = Eviction{RoomID: p.roomID, Connection: p.conn}
		}
	}

	for _, c := range r.removeLocked(roomID, func(c *Connection) bool { return c.PlayerID == playerID }) {
		if c.Handle != handle {
			_ = c.Handle.Close(CloseSuperseded)
		}
	}

	conn := &Connection{
		PlayerID: playerID,
		Name:     name,
		Handle:   handle,
		position: r.spawn,
	}
	r.rooms[roomID] = append(r.rooms[roomID], conn)
	r.index[playerID] = roomID
	return conn, ev
}

// Unregister removes the player's connection from roomID and closes it.
//
// Postcondition: Returns true if a connection was removed. Absent players
// are a no-op.
func (r *Registry) Unregister(roomID, playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.removeLocked(roomID, func(c *Connection) bool { return c.PlayerID == playerID })
	for _, c := range removed {
		_ = c.Handle.Close(CloseNormal)
	}
	if len(removed) > 0 && r.index[playerID] == roomID {
		delete(r.index, playerID)
	}
	if p, ok := r.unannounced[playerID]; ok && p.roomID == roomID {
		delete(r.unannounced, playerID)
	}
	return len(removed) > 0
}

// Depart ends the connection owning handle in roomID and, when that leaves
// playerID absent from the room, enqueues the payload built by announce on
// the remaining connections. Removal, the presence check and the fan-out
// happen under one lock, so a reconnect cannot interleave with them.
//
// A connection already taken over by Register is not announced again: the
// takeover reported it. A connection pruned by a failed Broadcast is
// announced once, by whichever of Depart or Register sees it first. A nil
// announce removes without announcing.
//
// Precondition: handle must be the handle playerID registered in roomID.
// Postcondition: handle is closed and no longer registered. Returns whether
// an announcement was enqueued and the connections evicted while enqueuing it.
func (r *Registry) Depart(roomID, playerID string, handle Handle, announce func(remaining []PlayerInfo) []byte) (bool, []*Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = handle.Close(CloseNormal)
	removed := r.removeLocked(roomID, func(c *Connection) bool { return c.Handle == handle })
	p, pending := r.unannounced[playerID]
	pending = pending && p.roomID == roomID && p.conn.Handle == handle
	if pending {
		delete(r.unannounced, playerID)
	}
	if len(removed) == 0 && !pending {
		return false, nil
	}
	if r.index[playerID] == roomID && !r.hasPlayerLocked(roomID, playerID) {
		delete(r.index, playerID)
	}

	if announce == nil || r.hasPlayerLocked(roomID, playerID) {
		return false, nil
	}
	payload := announce(r.listLocked(roomID))
	if payload == nil {
		return false, nil
	}
	return true, r.broadcastLocked(roomID, payload, nil)
}

// ListPlayers returns the players connected to roomID in join order.
//
// Postcondition: Returns a non-nil slice with no duplicate player IDs.
func (r *Registry) ListPlayers(roomID string) []PlayerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(roomID)
}

// DistinctPlayers returns the number of distinct players connected to roomID.
func (r *Registry) DistinctPlayers(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listLocked(roomID))
}

// RoomOf returns the room playerID is connected to.
//
// Postcondition: Returns (roomID, true) if connected, or ("", false) otherwise.
func (r *Registry) RoomOf(playerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.index[playerID]
	return roomID, ok
}

// PlayerCount returns the number of connected players across all rooms.
func (r *Registry) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.index)
}

// UpdatePosition moves the player's connection in roomID to (x, y).
//
// Postcondition: Returns false and changes nothing if the player is not in roomID.
func (r *Registry) UpdatePosition(roomID, playerID string, x, y float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.rooms[roomID] {
		if c.PlayerID == playerID {
			c.position = Position{X: x, Y: y}
			return true
		}
	}
	return false
}

// Broadcast enqueues payload on every connection in roomID except the one
// owning exclude, which may be nil. Connections that cannot accept the
// payload are collected during the pass and removed after it, closed with
// CloseDeliveryFailed. Their departures are left for Depart or Register to
// report.
//
// Postcondition: Returns the connections evicted by this call.
func (r *Registry) Broadcast(roomID string, payload []byte, exclude Handle) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(roomID, payload, exclude)
}

func (r *Registry) broadcastLocked(roomID string, payload []byte, exclude Handle) []*Connection {
	var failed []*Connection
	for _, c := range r.rooms[roomID] {
		if exclude != nil && c.Handle == exclude {
			continue
		}
		if err := c.Handle.Send(payload); err != nil {
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	dead := make(map[*Connection]bool, len(failed))
	for _, c := range failed {
		dead[c] = true
	}
	r.removeLocked(roomID, func(c *Connection) bool { return dead[c] })
	for _, c := range failed {
		_ = c.Handle.Close(CloseDeliveryFailed)
		if r.hasPlayerLocked(roomID, c.PlayerID) {
			continue
		}
		if r.index[c.PlayerID] == roomID {
			delete(r.index, c.PlayerID)
		}
		r.unannounced[c.PlayerID] = pruned{roomID: roomID, conn: c}
	}
	return failed
}

// removeLocked drops every connection in roomID matching match and returns
// them. Empty rooms are deleted from the map.
func (r *Registry) removeLocked(roomID string, match func(*Connection) bool) []*Connection {
	conns, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	var removed []*Connection
	kept := conns[:0]
	for _, c := range conns {
		if match(c) {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(conns); i++ {
		conns[i] = nil
	}
	if len(kept) == 0 {
		delete(r.rooms, roomID)
	} else {
		r.rooms[roomID] = kept
	}
	return removed
}

func (r *Registry) hasPlayerLocked(roomID, playerID string) bool {
	for _, c := range r.rooms[roomID] {
		if c.PlayerID == playerID {
			return true
		}
	}
	return false
}

func (r *Registry) listLocked(roomID string) []PlayerInfo {
	conns := r.rooms[roomID]
	players := make([]PlayerInfo, 0, len(conns))
	seen := make(map[string]bool, len(conns))
	for _, c := range conns {
		if seen[c.PlayerID] {
			continue
		}
		seen[c.PlayerID] = true
		players = append(players, PlayerInfo{ID: c.PlayerID, Name: c.Name, Position: c.position})
	}
	return players
}
