package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/similarwords/anagramd/internal/model"
)

// Memory keeps every class in a patricia trie keyed by signature. Stored
// slices are never modified in place, so callers may keep what Load returns.
type Memory struct {
	mu     sync.RWMutex
	trie   *patricia.Trie
	log    zerolog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func NewMemory(log zerolog.Logger) *Memory {
	return &Memory{
		trie: patricia.NewTrie(),
		log:  log.With().Str("component", "memory-cache").Logger(),
	}
}

// trieKey prefixes signature so the empty signature still maps to a
// non-root node.
func trieKey(signature string) patricia.Prefix {
	return patricia.Prefix("#" + signature)
}

func (m *Memory) get(signature string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item := m.trie.Get(trieKey(signature))
	if item == nil {
		return nil, false
	}
	return item.([]string), true
}

func (m *Memory) Load(ctx context.Context, signature string, load func(ctx context.Context) ([]string, error)) ([]string, error) {
	if words, ok := m.get(signature); ok {
		m.hits.Add(1)
		return words, nil
	}
	m.misses.Add(1)

	words, err := load(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// An Add may have landed while loading. Keep its words and the loaded
	// ones, since either side can hold a word the other has not seen yet.
	key := trieKey(signature)
	if item := m.trie.Get(key); item != nil {
		class := item.([]string)
		merged := slices.Clone(class)
		for _, w := range words {
			if !slices.Contains(merged, w) {
				merged = append(merged, w)
			}
		}
		if len(merged) != len(class) {
			m.trie.Set(key, merged)
		}
		return merged, nil
	}
	if words == nil {
		words = []string{}
	}
	m.trie.Set(key, words)
	return words, nil
}

func (m *Memory) Add(_ context.Context, signature, word string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := trieKey(signature)
	var class []string
	if item := m.trie.Get(key); item != nil {
		class = item.([]string)
	}
	if slices.Contains(class, word) {
		return
	}
	m.trie.Set(key, append(slices.Clone(class), word))
}

// Rebuild loads every stored word and replaces the trie with the resulting
// classes.
func (m *Memory) Rebuild(ctx context.Context, all func(ctx context.Context) ([]model.Word, error)) error {
	words, err := all(ctx)
	if err != nil {
		return fmt.Errorf("loading words for cache: %w", err)
	}
	m.Warm(words)
	return nil
}

// Warm replaces the contents with the classes formed by words.
func (m *Memory) Warm(words []model.Word) {
	classes := make(map[string][]string)
	for _, w := range words {
		classes[w.Signature] = append(classes[w.Signature], w.Word)
	}
	trie := patricia.NewTrie()
	for sig, class := range classes {
		trie.Set(trieKey(sig), class)
	}

	m.mu.Lock()
	m.trie = trie
	m.mu.Unlock()

	m.log.Info().Int("words", len(words)).Int("classes", len(classes)).Msg("cache warmed")
}

// Len returns the number of cached classes.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	_ = m.trie.Visit(func(_ patricia.Prefix, _ patricia.Item) error {
		n++
		return nil
	})
	return n
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Stats() (hits, misses int64) {
	return m.hits.Load(), m.misses.Load()
}

func (m *Memory) Close() error { return nil }
