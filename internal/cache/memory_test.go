package cache

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/config"
	"github.com/similarwords/anagramd/internal/model"
)

func loader(words []string, calls *int) func(context.Context) ([]string, error) {
	return func(context.Context) ([]string, error) {
		*calls++
		return words, nil
	}
}

func TestMemoryLoadCachesMisses(t *testing.T) {
	m := NewMemory(zerolog.Nop())
	ctx := context.Background()
	calls := 0

	for i := 0; i < 3; i++ {
		got, err := m.Load(ctx, "eilnst", loader([]string{"listen", "silent"}, &calls))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %v", got)
		}
	}
	if calls != 1 {
		t.Fatalf("loader called %d times", calls)
	}
	if hits, misses := m.Stats(); hits != 2 || misses != 1 {
		t.Fatalf("hits=%d misses=%d", hits, misses)
	}
}

func TestMemoryLoadErrorIsNotCached(t *testing.T) {
	m := NewMemory(zerolog.Nop())
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := m.Load(ctx, "abc", func(context.Context) ([]string, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("failed load was cached")
	}
}

func TestMemoryRebuildAndAdd(t *testing.T) {
	m := NewMemory(zerolog.Nop())
	ctx := context.Background()
	err := m.Rebuild(ctx, func(context.Context) ([]model.Word, error) {
		return []model.Word{
			{Word: "listen", Signature: "eilnst"},
			{Word: "silent", Signature: "eilnst"},
			{Word: "apple", Signature: "aelpp"},
		}, nil
	})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("len = %d", m.Len())
	}

	before, _ := m.Load(ctx, "eilnst", nil)
	m.Add(ctx, "eilnst", "enlist")
	m.Add(ctx, "eilnst", "enlist")

	after, _ := m.Load(ctx, "eilnst", nil)
	sort.Strings(after)
	if len(after) != 3 || after[0] != "enlist" {
		t.Fatalf("after add = %v", after)
	}
	if len(before) != 2 {
		t.Fatalf("earlier result was mutated: %v", before)
	}
}

func TestMemoryEmptySignature(t *testing.T) {
	m := NewMemory(zerolog.Nop())
	ctx := context.Background()
	m.Add(ctx, "", "123")
	got, err := m.Load(ctx, "", nil)
	if err != nil || len(got) != 1 || got[0] != "123" {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestNewBackends(t *testing.T) {
	c, err := New(config.CacheConfig{Backend: BackendNone}, zerolog.Nop())
	if err != nil || c != nil {
		t.Fatalf("none backend = %v, %v", c, err)
	}
	c, err = New(config.CacheConfig{Backend: BackendMemory}, zerolog.Nop())
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := c.(*Memory); !ok {
		t.Fatalf("memory backend returned %T", c)
	}
	if _, err := New(config.CacheConfig{Backend: "memcached"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestMemoryLoadMergesConcurrentAdd(t *testing.T) {
	m := NewMemory(zerolog.Nop())
	ctx := context.Background()

	// "tinsel" was committed before the load's snapshot but its Add has not
	// run yet; "enlist" is added while the load is in flight.
	got, err := m.Load(ctx, "eilnst", func(ctx context.Context) ([]string, error) {
		m.Add(ctx, "eilnst", "enlist")
		return []string{"listen", "tinsel"}, nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sorted := append([]string(nil), got...)
	sort.Strings(sorted)
	if len(sorted) != 3 || sorted[0] != "enlist" || sorted[1] != "listen" || sorted[2] != "tinsel" {
		t.Fatalf("got %v", got)
	}

	cached, err := m.Load(ctx, "eilnst", func(context.Context) ([]string, error) {
		t.Fatal("merged class must be cached")
		return nil, nil
	})
	if err != nil || len(cached) != 3 {
		t.Fatalf("cached = %v, %v", cached, err)
	}
}
