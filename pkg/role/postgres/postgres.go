package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clusterbits/groupmon/pkg/role"
)

// Prober asks the local PostgreSQL instance whether it is in recovery. It
// holds a small pgx pool so the per-iteration probe reuses a warm connection.
type Prober struct {
	db *pgxpool.Pool
}

// New connects to the local instance described by connString (keyword/value
// or URL form). The pool is capped at two connections; the probe is a single
// scalar query.
func New(ctx context.Context, connString string) (*Prober, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgx config: %w", err)
	}
	cfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &Prober{db: pool}, nil
}

// Probe returns the recovery predicate backed by pg_is_in_recovery().
func (p *Prober) Probe() role.Probe {
	return func(ctx context.Context) (bool, error) {
		var inRecovery bool
		if err := p.db.QueryRow(ctx, "select pg_is_in_recovery()").Scan(&inRecovery); err != nil {
			return false, fmt.Errorf("pg_is_in_recovery: %w", err)
		}
		return inRecovery, nil
	}
}

// Close releases the connection pool.
func (p *Prober) Close() { p.db.Close() }
