package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the unit of work handed to store operations. Both *pgxpool.Pool
// and pgx.Tx satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Transactor opens scoped units of work. fn's Querier must not outlive fn.
type Transactor interface {
	InTx(ctx context.Context, fn func(q Querier) error) error
	InReadTx(ctx context.Context, fn func(q Querier) error) error
}

// InTx runs fn in a read-write transaction, committing when fn returns nil
// and rolling back on error or panic.
func (d *Database) InTx(ctx context.Context, fn func(q Querier) error) error {
	return d.inTx(ctx, pgx.TxOptions{}, fn)
}

// InReadTx runs fn in a read-only transaction.
func (d *Database) InReadTx(ctx context.Context, fn func(q Querier) error) error {
	return d.inTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func (d *Database) inTx(ctx context.Context, opts pgx.TxOptions, fn func(q Querier) error) error {
	// BeginTx includes waiting for a pool connection.
	beginCtx, cancel := Bounded(ctx, d.timeout)
	tx, err := d.Pool.BeginTx(beginCtx, opts)
	cancel()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	// Rollback must run even when ctx is already done.
	rollback := func() error {
		rbCtx, cancel := Bounded(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		return tx.Rollback(rbCtx)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := rollback(); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	commitCtx, cancel := Bounded(ctx, d.timeout)
	defer cancel()
	if err := tx.Commit(commitCtx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Bounded derives a context that expires after timeout. A non-positive
// timeout leaves ctx unchanged.
func Bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
