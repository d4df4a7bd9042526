package session

// JoinRequest identifies who is connecting to which room.
type JoinRequest struct {
	RoomID   string
	PlayerID string
	Name     string
}

// Transport is one accepted bidirectional session as seen by the game
// layer: a blocking inbound reader plus the Outbox its writer drains.
type Transport interface {
	// ReadMessage blocks for the next inbound message. Any error ends the session.
	ReadMessage() ([]byte, error)
	// Outbox returns the handle outbound events are enqueued on.
	Outbox() *Outbox
}
