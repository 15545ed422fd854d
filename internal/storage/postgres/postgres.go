// Package postgres is the PostgreSQL adapter of the storage port.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/olehkaliuzhnyi/certwallet/internal/storage"
)

//go:embed schema.sql
var schema string

const defaultTxTimeout = 5 * time.Second

// PostgreSQL error codes translated into storage sentinels.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNumericOutOfRange   = "22003"
)

var errPositionOverflow = errors.New("section position exceeds the derivation range")

var _ storage.Tx = (*DB)(nil)

// DB runs store operations inside PostgreSQL transactions.
type DB struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// Option configures a DB.
type Option func(*DB)

// WithTxTimeout bounds transactions whose context carries no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(db *DB) {
		if d > 0 {
			db.timeout = d
		}
	}
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *DB {
	db := &DB{pool: pool, timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Connect opens a pool for databaseURL and verifies it.
func Connect(ctx context.Context, databaseURL string, opts ...Option) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool, opts...), nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// EnsureSchema creates missing tables and indexes.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (db *DB) RunInTx(ctx context.Context, fn func(storage.Store) error) error {
	return db.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (db *DB) View(ctx context.Context, fn func(storage.Store) error) error {
	return db.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (db *DB) run(ctx context.Context, opts pgx.TxOptions, fn func(storage.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, db.timeout)
		defer cancel()
	}

	tx, err := db.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return translate(err, "commit")
	}
	return nil
}

// translate maps driver errors onto storage sentinels, keeping the driver
// error as the cause.
func translate(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w", op, errors.Join(storage.ErrConflict, err))
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, errors.Join(storage.ErrNotFound, err))
		case codeNumericOutOfRange:
			return fmt.Errorf("%s: %w", op, errors.Join(storage.ErrOutOfRange, err))
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
