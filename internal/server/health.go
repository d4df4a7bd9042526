package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service names reported by the health endpoint in addition to the overall
// "" status.
const (
	HealthServiceName   = "rooms.RoomServer"
	MatchHistoryService = "rooms.MatchHistory"
)

// HealthService serves the standard gRPC health protocol.
type HealthService struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewHealthService creates a HealthService on addr. Status starts NOT_SERVING.
//
// Precondition: logger must be non-nil.
func NewHealthService(addr string, logger *zap.Logger) *HealthService {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &HealthService{
		addr:   addr,
		grpc:   gs,
		health: hs,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// SetServing flips the reported status of both service names.
func (h *HealthService) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthServiceName, status)
}

// SetServiceStatus reports the status of a single named dependency. It does
// not affect the overall status.
func (h *HealthService) SetServiceStatus(name string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(name, status)
}

// Start listens and serves health checks until Stop.
func (h *HealthService) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}
	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()
	close(h.ready)

	h.logger.Info("health server listening", zap.String("addr", ln.Addr().String()))
	return h.grpc.Serve(ln)
}

// Stop reports NOT_SERVING to watchers and drains in-flight checks.
func (h *HealthService) Stop(ctx context.Context) error {
	h.health.Shutdown()
	done := make(chan struct{})
	go func() {
		h.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.grpc.Stop()
		return ctx.Err()
	}
}

// Ready is closed once the listener is bound.
func (h *HealthService) Ready() <-chan struct{} {
	return h.ready
}

// Addr returns the bound address, or "" before Start has listened.
func (h *HealthService) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}
