package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHTTPService_ServeAndStop(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	svc := NewHTTPService("127.0.0.1:0", handler, time.Second, zaptest.NewLogger(t))
	assert.Empty(t, svc.Addr())

	done := make(chan error, 1)
	go func() { done <- svc.Start() }()
	select {
	case <-svc.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("http service did not start")
	}

	resp, err := http.Get("http://" + svc.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
	assert.NoError(t, <-done)
}

func TestHTTPService_BindFailure(t *testing.T) {
	svc := NewHTTPService("127.0.0.1:99999", http.NotFoundHandler(), time.Second, zaptest.NewLogger(t))
	assert.Error(t, svc.Start())
}

func TestHealthService(t *testing.T) {
	svc := NewHealthService("127.0.0.1:0", zaptest.NewLogger(t))
	done := make(chan error, 1)
	go func() { done <- svc.Start() }()
	select {
	case <-svc.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("health service did not start")
	}

	conn, err := grpc.NewClient(svc.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))
	svc.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(HealthServiceName))

	svc.SetServiceStatus(MatchHistoryService, false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(MatchHistoryService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""), "dependency status leaves the overall status alone")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
	assert.NoError(t, <-done)
}
