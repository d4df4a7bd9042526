package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HTTPService runs an http.Server as a lifecycle Service.
type HTTPService struct {
	srv    *http.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewHTTPService creates an HTTPService serving handler on addr.
//
// Precondition: handler and logger must be non-nil.
func NewHTTPService(addr string, handler http.Handler, readHeaderTimeout time.Duration, logger *zap.Logger) *HTTPService {
	return &HTTPService{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			ErrorLog:          zap.NewStdLog(logger),
		},
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Start listens and serves until Stop.
//
// Postcondition: Returns nil after a graceful Stop.
func (s *HTTPService) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully. Hijacked connections such as
// websockets are not waited for.
func (s *HTTPService) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Ready is closed once the listener is bound.
func (s *HTTPService) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or "" before Start has listened.
func (s *HTTPService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
