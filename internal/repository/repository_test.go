package repository

import (
	"context"
	"errors"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/apperr"
	"github.com/similarwords/anagramd/internal/database"
	"github.com/similarwords/anagramd/internal/model"
	"github.com/similarwords/anagramd/internal/signature"
)

// testPool connects to ANAGRAMD_TEST_DATABASE_URL, migrates it and empties
// every table. Tests are skipped when the variable is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("ANAGRAMD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ANAGRAMD_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	if err := database.RunMigrations(ctx, url, zerolog.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `TRUNCATE words, request_log, meta RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func word(w string) model.Word {
	return model.Word{Word: w, Signature: signature.Sorted(w)}
}

func TestWordRepositoryInsertAndFind(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewWordRepository(time.Second)

	for _, w := range []string{"listen", "silent", "enlist", "apple"} {
		if err := repo.Insert(ctx, pool, word(w)); err != nil {
			t.Fatalf("insert %s: %v", w, err)
		}
	}

	got, err := repo.FindBySignature(ctx, pool, signature.Sorted("tinsel"), "enlist")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "listen" || got[1] != "silent" {
		t.Fatalf("got %v", got)
	}

	n, err := repo.Count(ctx, pool)
	if err != nil || n != 4 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func TestWordRepositoryDuplicate(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewWordRepository(time.Second)

	if err := repo.Insert(ctx, pool, word("apple")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := repo.Insert(ctx, pool, word("apple"))
	if !errors.Is(err, apperr.ErrDuplicateWord) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if n, _ := repo.Count(ctx, pool); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestWordRepositoryInsertBatchSkipsExisting(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewWordRepository(time.Second)

	if err := repo.Insert(ctx, pool, word("cloud")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	n, err := repo.InsertBatch(ctx, pool, []model.Word{word("cloud"), word("could"), word("chip")})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted = %d", n)
	}
	all, err := repo.All(ctx, pool)
	if err != nil || len(all) != 3 {
		t.Fatalf("all = %v, %v", all, err)
	}
}

func TestRequestLogRepositoryStats(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewRequestLogRepository(time.Second)

	avg, err := repo.AvgProcessingTime(ctx, pool, nil, nil)
	if err != nil || avg != 0 {
		t.Fatalf("empty avg = %v, %v", avg, err)
	}

	w := "listen"
	for _, e := range []model.RequestLogEntry{
		{Endpoint: "/api/v1/similar", ProcessingTimeUs: 100, Word: &w},
		{Endpoint: "/api/v1/similar", ProcessingTimeUs: 300, Word: &w},
		{Endpoint: "/api/v1/add-word", ProcessingTimeUs: 200, Word: &w},
	} {
		if err := repo.Append(ctx, pool, &e); err != nil {
			t.Fatalf("append: %v", err)
		}
		if e.ID == 0 || e.Timestamp.IsZero() {
			t.Fatalf("append did not set id/timestamp: %+v", e)
		}
	}

	n, err := repo.CountEndpoint(ctx, pool, "/api/v1/similar", nil, nil)
	if err != nil || n != 2 {
		t.Fatalf("count = %d, %v", n, err)
	}
	avg, err = repo.AvgProcessingTime(ctx, pool, nil, nil)
	if err != nil || avg != 200 {
		t.Fatalf("avg = %v, %v", avg, err)
	}

	future := time.Now().Add(time.Hour)
	n, err = repo.CountEndpoint(ctx, pool, "/api/v1/similar", &future, nil)
	if err != nil || n != 0 {
		t.Fatalf("windowed count = %d, %v", n, err)
	}

	entries, err := repo.List(ctx, pool, nil, nil, 2)
	if err != nil || len(entries) != 2 || entries[0].ID >= entries[1].ID {
		t.Fatalf("list = %+v, %v", entries, err)
	}
}

func TestMetaRepositoryStrategyMismatch(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	repo := NewMetaRepository(time.Second)

	if err := repo.EnsureSignatureStrategy(ctx, pool, "sorted"); err != nil {
		t.Fatalf("first pin: %v", err)
	}
	if err := repo.EnsureSignatureStrategy(ctx, pool, "sorted"); err != nil {
		t.Fatalf("same strategy: %v", err)
	}
	if err := repo.EnsureSignatureStrategy(ctx, pool, "frequency"); err == nil {
		t.Fatal("expected mismatch error")
	}
}
