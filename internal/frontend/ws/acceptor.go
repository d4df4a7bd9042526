// Package ws accepts websocket connections and hands each one to a
// SessionHandler as a session.Transport.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/rooms/internal/config"
	"github.com/cory-johannsen/rooms/internal/game/session"
)

// SessionHandler processes one accepted websocket session.
type SessionHandler interface {
	HandleSession(ctx context.Context, t session.Transport, req session.JoinRequest) error
}

// Acceptor upgrades HTTP requests and runs each connection's session to
// completion on the request goroutine.
type Acceptor struct {
	cfg      config.RoomConfig
	handler  SessionHandler
	logger   *zap.Logger
	upgrader websocket.Upgrader

	wg      sync.WaitGroup
	quit    chan struct{}
	mu      sync.Mutex
	conns   map[*Conn]struct{}
	stopped bool
}

// NewAcceptor creates a websocket Acceptor.
//
// Precondition: handler and logger must be non-nil. An origin of "*" in
// allowedOrigins accepts every origin.
// Postcondition: Returns an Acceptor ready to Serve.
func NewAcceptor(cfg config.RoomConfig, allowedOrigins []string, handler SessionHandler, logger *zap.Logger) *Acceptor {
	a := &Acceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		quit:    make(chan struct{}),
		conns:   make(map[*Conn]struct{}),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return a
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Serve upgrades the request and blocks until the session ends.
//
// Precondition: req.RoomID and req.PlayerID must be non-empty.
// Postcondition: The websocket is closed when Serve returns.
func (a *Acceptor) Serve(w http.ResponseWriter, r *http.Request, req session.JoinRequest) {
	start := time.Now()
	logger := a.logger.With(
		zap.String("room_id", req.RoomID),
		zap.String("player_id", req.PlayerID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	raw, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConn(raw, session.NewOutbox(req.PlayerID, a.cfg.OutboxSize), a.cfg.ReadLimit, a.cfg.WriteTimeout)
	if !a.track(conn) {
		conn.Shutdown()
		conn.Close()
		return
	}
	defer a.untrack(conn)
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("client connected")
	if err := a.handler.HandleSession(ctx, conn, req); err != nil {
		logger.Debug("session ended",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		logger.Info("session ended cleanly",
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (a *Acceptor) track(c *Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.conns[c] = struct{}{}
	a.wg.Add(1)
	return true
}

func (a *Acceptor) untrack(c *Conn) {
	a.mu.Lock()
	delete(a.conns, c)
	a.mu.Unlock()
	a.wg.Done()
}

// ActiveSessions returns the number of sessions currently being served.
func (a *Acceptor) ActiveSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

// Stop closes every open connection with a going-away frame and waits for
// their sessions to finish or ctx to expire.
//
// Postcondition: No new sessions are accepted.
func (a *Acceptor) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	close(a.quit)
	for c := range a.conns {
		c.Shutdown()
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("websocket acceptor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
