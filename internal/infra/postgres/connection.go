// Package postgres holds the PostgreSQL repositories for invitations, their
// audit trail and the tenant directory (tenants, users and roles).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/openctemio/invitations/internal/config"
	"github.com/openctemio/invitations/pkg/logger"
)

const pingTimeout = 5 * time.Second

// DB is the connection pool shared by every repository in this package.
type DB struct {
	*sql.DB
}

type connectOptions struct {
	attempts int
	backoff  time.Duration
	log      *logger.Logger
}

// ConnectOption tunes Connect.
type ConnectOption func(*connectOptions)

// WithStartupRetry pings up to attempts times, sleeping backoff between
// tries, so the server and invitectl can start alongside Postgres.
func WithStartupRetry(attempts int, backoff time.Duration) ConnectOption {
	return func(o *connectOptions) {
		o.attempts = max(attempts, 1)
		o.backoff = backoff
	}
}

// WithConnectLogger reports failed startup pings on log.
func WithConnectLogger(log *logger.Logger) ConnectOption {
	return func(o *connectOptions) {
		o.log = log
	}
}

// Connect opens the pool described by cfg and returns once Postgres answers
// a ping. Without WithStartupRetry a single failed ping is fatal.
func Connect(ctx context.Context, cfg *config.DatabaseConfig, opts ...ConnectOption) (*DB, error) {
	o := connectOptions{attempts: 1, log: logger.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	db := &DB{DB: pool}
	err = db.Ping(ctx)
	for attempt := 1; err != nil && attempt < o.attempts; attempt++ {
		o.log.Warn("database not ready, retrying",
			"attempt", attempt,
			"max_attempts", o.attempts,
			"error", err,
		)
		select {
		case <-ctx.Done():
			_ = pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", ctx.Err())
		case <-time.After(o.backoff):
		}
		err = db.Ping(ctx)
	}
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Wrap adapts an already open pool, such as one created by sqlmock.
func Wrap(pool *sql.DB) *DB {
	return &DB{DB: pool}
}

// Ping checks the pool with a bounded timeout. The readiness probe uses it.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}

// InTx runs fn in one transaction, committing when fn succeeds and rolling
// back otherwise. Writes that span an invitation and its role snapshot, or a
// user and its role grants, go through it.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (after: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
