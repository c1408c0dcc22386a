package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func TestBounded(t *testing.T) {
	ctx, cancel := Bounded(context.Background(), 0)
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("non-positive timeout must not set a deadline")
	}

	ctx, cancel = Bounded(context.Background(), time.Second)
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > time.Second {
		t.Fatalf("deadline = %v, %v", deadline, ok)
	}
}

// testDatabase opens a single-connection pool on ANAGRAMD_TEST_DATABASE_URL.
func testDatabase(t *testing.T, timeout time.Duration) *Database {
	t.Helper()
	url := os.Getenv("ANAGRAMD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ANAGRAMD_TEST_DATABASE_URL not set")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg.MaxConns = 1
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return &Database{Pool: pool, log: zerolog.Nop(), timeout: timeout}
}

func TestInTxBeginIsBoundedOnExhaustedPool(t *testing.T) {
	db := testDatabase(t, 200*time.Millisecond)
	ctx := context.Background()

	held, err := db.Pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	start := time.Now()
	err = db.InTx(ctx, func(Querier) error {
		t.Fatal("fn must not run without a connection")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if waited := time.Since(start); waited > 2*time.Second {
		t.Fatalf("begin waited %v", waited)
	}
}

func TestInTxCommitsAndRollsBack(t *testing.T) {
	db := testDatabase(t, time.Second)
	ctx := context.Background()
	boom := errors.New("boom")

	if err := db.InTx(ctx, func(q Querier) error {
		_, err := q.Exec(ctx, `SELECT 1`)
		return err
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := db.InReadTx(ctx, func(Querier) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("rollback: %v", err)
	}
	if stat := db.Pool.Stat(); stat.AcquiredConns() != 0 {
		t.Fatalf("%d connections still acquired", stat.AcquiredConns())
	}
}
