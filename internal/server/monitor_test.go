package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedStatus struct {
	mu      sync.Mutex
	history []bool
}

func (r *recordedStatus) SetServiceStatus(name string, serving bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, serving)
}

func (r *recordedStatus) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.history...)
}

func TestHealthMonitor_ReportsTransitions(t *testing.T) {
	status := &recordedStatus{}
	var calls atomic.Int32
	down := errors.New("connection refused")
	check := func(context.Context) error {
		// healthy, healthy, down, down, healthy, ...
		switch calls.Add(1) {
		case 3, 4:
			return down
		}
		return nil
	}

	monitor := NewHealthMonitor(MatchHistoryService, 5*time.Millisecond, check, status, zaptest.NewLogger(t))
	assert.Equal(t, []bool{false}, status.snapshot(), "not serving before the first check")

	done := make(chan error, 1)
	go func() { done <- monitor.Start() }()
	require.Eventually(t, func() bool { return calls.Load() >= 6 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, monitor.Stop(ctx))
	require.NoError(t, <-done)

	assert.Equal(t, []bool{false, true, false, true}, status.snapshot())
}

func TestHealthMonitor_StopCancelsCheck(t *testing.T) {
	status := &recordedStatus{}
	started := make(chan struct{})
	check := func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	monitor := NewHealthMonitor(MatchHistoryService, time.Hour, check, status, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- monitor.Start() }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, monitor.Stop(ctx))
	require.NoError(t, <-done)
	require.NoError(t, monitor.Stop(ctx), "Stop is idempotent")
	assert.Equal(t, []bool{false}, status.snapshot(), "a cancelled check is not reported")
}
