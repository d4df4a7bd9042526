// Package session tracks live player connections per room and fans events
// out to them.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// CloseReason records why a connection's outbox was closed. The transport
// maps it to a close code when it tears the socket down.
type CloseReason int

const (
	// CloseNone means the outbox is still open.
	CloseNone CloseReason = iota
	// CloseNormal is a regular disconnect or server-side cleanup.
	CloseNormal
	// CloseSuperseded means the player reconnected elsewhere.
	CloseSuperseded
	// CloseDeliveryFailed means a fan-out could not enqueue to this connection.
	CloseDeliveryFailed
	// CloseRoomNotFound means the requested room does not exist.
	CloseRoomNotFound
	// CloseShutdown means the server is stopping.
	CloseShutdown
)

// String returns the reason in lower snake case, for logs.
func (r CloseReason) String() string {
	switch r {
	case CloseNone:
		return "none"
	case CloseNormal:
		return "normal"
	case CloseSuperseded:
		return "superseded"
	case CloseDeliveryFailed:
		return "delivery_failed"
	case CloseRoomNotFound:
		return "room_not_found"
	case CloseShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

var (
	// ErrOutboxClosed is returned by Send after Close.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrOutboxFull is returned by Send when the receiver has fallen behind.
	ErrOutboxFull = errors.New("outbox buffer full")
)

// Handle is the send side of one live transport session.
type Handle interface {
	// Send enqueues data for delivery without blocking.
	Send(data []byte) error
	// Close stops delivery. Only the first reason is kept.
	Close(reason CloseReason) error
}

// Outbox routes outbound events to a bounded channel drained by the
// transport's writer goroutine.
type Outbox struct {
	playerID string
	events   chan []byte
	mu       sync.Mutex
	reason   CloseReason
}

// NewOutbox creates an Outbox for the given player.
//
// Precondition: playerID must be non-empty.
// Postcondition: Returns an open Outbox holding at most bufferSize events.
func NewOutbox(playerID string, bufferSize int) *Outbox {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Outbox{
		playerID: playerID,
		events:   make(chan []byte, bufferSize),
	}
}

// PlayerID returns the player this outbox delivers to.
func (o *Outbox) PlayerID() string {
	return o.playerID
}

// Send enqueues data to the events channel.
//
// Postcondition: data is enqueued, or ErrOutboxClosed / ErrOutboxFull is returned.
func (o *Outbox) Send(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.reason != CloseNone {
		return fmt.Errorf("player %s: %w", o.playerID, ErrOutboxClosed)
	}
	select {
	case o.events <- data:
		return nil
	default:
		return fmt.Errorf("player %s: %w", o.playerID, ErrOutboxFull)
	}
}

// Events returns the read-only events channel. It is closed by Close once
// every queued event has been handed over.
func (o *Outbox) Events() <-chan []byte {
	return o.events
}

// Close marks the outbox closed and closes the events channel.
//
// Postcondition: The events channel is closed. Further Send calls fail.
// Calling Close again is a no-op and keeps the first reason.
func (o *Outbox) Close(reason CloseReason) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.reason == CloseNone {
		if reason == CloseNone {
			reason = CloseNormal
		}
		o.reason = reason
		close(o.events)
	}
	return nil
}

// Reason returns why the outbox was closed, or CloseNone while it is open.
func (o *Outbox) Reason() CloseReason {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reason
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	return o.Reason() != CloseNone
}
