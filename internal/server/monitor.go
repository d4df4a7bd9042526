package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StatusSetter receives the result of each monitor.
type StatusSetter interface {
	SetServiceStatus(name string, serving bool)
}

// HealthMonitor runs a check on an interval and reports the outcome as the
// serving status of one named service.
type HealthMonitor struct {
	name     string
	interval time.Duration
	check    func(ctx context.Context) error
	status   StatusSetter
	logger   *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewHealthMonitor creates a HealthMonitor. The service reports NOT_SERVING until
// the first check passes.
//
// Precondition: interval must be positive; check, status and logger must be
// non-nil.
func NewHealthMonitor(name string, interval time.Duration, check func(ctx context.Context) error, status StatusSetter, logger *zap.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	status.SetServiceStatus(name, false)
	return &HealthMonitor{
		name:     name,
		interval: interval,
		check:    check,
		status:   status,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start checks immediately and then on every tick until Stop.
func (m *HealthMonitor) Start() error {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	healthy := false
	first := true
	for {
		err := m.check(m.ctx)
		if m.ctx.Err() != nil {
			return nil
		}
		ok := err == nil
		if first || ok != healthy {
			m.status.SetServiceStatus(m.name, ok)
			if ok {
				m.logger.Info("dependency healthy", zap.String("service", m.name))
			} else {
				m.logger.Warn("dependency unhealthy", zap.String("service", m.name), zap.Error(err))
			}
		}
		healthy, first = ok, false

		select {
		case <-m.ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Stop cancels the in-flight check and waits for Start to return.
func (m *HealthMonitor) Stop(ctx context.Context) error {
	m.stopOnce.Do(m.cancel)
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
