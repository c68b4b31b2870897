package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skydish/api/internal/platform/config"
)

const (
	defaultConnectAttempts = 5
	defaultPingTimeout     = 5 * time.Second
	defaultMaxConnIdleTime = 30 * time.Minute
)

// PoolOption customises pool construction.
type PoolOption func(*poolOptions)

type poolOptions struct {
	attempts int
	backoff  func(attempt int) time.Duration
	logf     func(format string, args ...any)
}

// WithConnectAttempts overrides how many times Connect dials before giving up.
func WithConnectAttempts(n int) PoolOption {
	return func(o *poolOptions) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// WithBackoff overrides the wait between failed attempts.
func WithBackoff(fn func(attempt int) time.Duration) PoolOption {
	return func(o *poolOptions) {
		if fn != nil {
			o.backoff = fn
		}
	}
}

// WithLogf receives a line for every failed attempt.
func WithLogf(fn func(format string, args ...any)) PoolOption {
	return func(o *poolOptions) {
		if fn != nil {
			o.logf = fn
		}
	}
}

// Connect opens a pgx pool and pings it, retrying with linear backoff while the database starts.
func Connect(ctx context.Context, cfg config.DatabaseConfig, opts ...PoolOption) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: database url is required")
	}

	options := poolOptions{
		attempts: defaultConnectAttempts,
		backoff:  func(attempt int) time.Duration { return time.Duration(attempt) * 2 * time.Second },
		logf:     func(string, ...any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.MaxConnIdleTime = defaultMaxConnIdleTime

	var lastErr error
	for attempt := 1; attempt <= options.attempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
			err = pool.Ping(pingCtx)
			cancel()
			if err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err

		if attempt == options.attempts {
			break
		}
		wait := options.backoff(attempt)
		options.logf("postgres: connect attempt %d failed, retrying in %s: %v", attempt, wait, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("postgres: connect after %d attempts: %w", options.attempts, lastErr)
}
