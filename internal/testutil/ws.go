package testutil

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// RoomClient is a websocket test client speaking the room protocol.
type RoomClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// DialRoom connects to /ws/{roomID}/{playerID} on the server at httpURL.
// query, when non-empty, is appended as the raw query string.
//
// Precondition: httpURL must be the http:// base URL of a running server.
// Postcondition: Returns a connected RoomClient or fails the test.
func DialRoom(t *testing.T, httpURL, roomID, playerID, query string) *RoomClient {
	t.Helper()
	start := time.Now()

	url := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws/" + roomID + "/" + playerID
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v [%s]", url, err, time.Since(start))
	}
	t.Cleanup(func() {
		conn.Close()
	})
	return &RoomClient{conn: conn, t: t}
}

// Send writes msg as a text frame.
func (c *RoomClient) Send(msg string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		c.t.Fatalf("sending %q: %v", msg, err)
	}
}

// ReadEvent reads the next event as a generic JSON object.
//
// Postcondition: Returns the decoded event or fails the test on timeout.
func (c *RoomClient) ReadEvent(timeout time.Duration) map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading event: %v", err)
	}
	var evt map[string]any
	if err := json.Unmarshal(data, &evt); err != nil {
		c.t.Fatalf("decoding event %q: %v", data, err)
	}
	return evt
}

// ReadUntilType discards events until one of the given type arrives.
func (c *RoomClient) ReadUntilType(eventType string, timeout time.Duration) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no %q event within %s", eventType, timeout)
		}
		evt := c.ReadEvent(remaining)
		if evt["type"] == eventType {
			return evt
		}
	}
}

// CloseCode waits for the server to close the connection and returns the
// close code it sent.
func (c *RoomClient) CloseCode(timeout time.Duration) int {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, _, err := c.conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			c.t.Fatalf("expected close frame, got %v", err)
		}
		return ce.Code
	}
}

// Leave sends a normal close frame.
func (c *RoomClient) Leave() {
	c.t.Helper()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		c.t.Fatalf("sending close: %v", err)
	}
}
