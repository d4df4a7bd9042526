// Package postgres stores finished matches in PostgreSQL through a pgx pool
// and owns the match-history schema migrations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/rooms/internal/config"
)

// Pool is the match-history connection pool.
type Pool struct {
	db            *pgxpool.Pool
	healthTimeout time.Duration
}

// NewPool connects to the match-history database described by cfg and
// checks that it answers.
//
// Precondition: cfg must pass config validation.
// Postcondition: Returns a Pool whose database answered a ping, or a non-nil
// error with nothing left open.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing match history DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening match history pool: %w", err)
	}
	p := &Pool{db: db, healthTimeout: cfg.HealthTimeout}
	if err := p.Health(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Health pings the database. A positive health timeout from the pool's
// configuration bounds the ping in addition to ctx.
func (p *Pool) Health(ctx context.Context) error {
	if p.healthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.healthTimeout)
		defer cancel()
	}
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("pinging match history database: %w", err)
	}
	return nil
}

// Close releases every connection. The Pool is unusable afterwards.
func (p *Pool) Close() {
	p.db.Close()
}

// DB returns the pgx pool repositories query through.
func (p *Pool) DB() *pgxpool.Pool {
	return p.db
}
