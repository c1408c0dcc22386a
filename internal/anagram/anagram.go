// Package anagram implements the lookup and insertion engines over a word
// store keyed by signature.
package anagram

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/apperr"
	"github.com/similarwords/anagramd/internal/database"
	"github.com/similarwords/anagramd/internal/model"
	"github.com/similarwords/anagramd/internal/signature"
)

// WordStore is the persistence the engines need.
type WordStore interface {
	Insert(ctx context.Context, q database.Querier, w model.Word) error
	FindBySignature(ctx context.Context, q database.Querier, signature, excluding string) ([]string, error)
}

// Cache returns the whole class for a signature, calling load on a miss.
// Implementations must be safe for concurrent use.
type Cache interface {
	Load(ctx context.Context, signature string, load func(ctx context.Context) ([]string, error)) ([]string, error)
}

// Lookup is the outcome of LookupSimilar. Words may be empty.
type Lookup struct {
	Words   []string
	Elapsed time.Duration
}

// Confirmation is the outcome of AddWord. Word is the text as the caller
// supplied it; Stored is the normalized form that was written.
type Confirmation struct {
	Word    string
	Stored  model.Word
	Elapsed time.Duration
}

// Engine normalizes, validates and signs words before handing them to the
// store.
type Engine struct {
	store     WordStore
	sign      signature.Func
	cache     Cache
	maxLength int
	log       zerolog.Logger
}

type Option func(*Engine)

// WithCache makes lookups read through c.
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func NewEngine(store WordStore, sign signature.Func, maxLength int, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		sign:      sign,
		maxLength: maxLength,
		log:       log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Normalize trims surrounding whitespace and lower-cases word.
func Normalize(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

// Validate rejects input that is not UTF-8, is empty after trimming, is
// longer than the configured maximum or has no letter a-z. Length is counted
// in runes on the raw input.
func (e *Engine) Validate(raw string) error {
	if !utf8.ValidString(raw) {
		return apperr.Validation("word must be valid UTF-8")
	}
	if strings.TrimSpace(raw) == "" {
		return apperr.Validation("word must not be empty")
	}
	if e.maxLength > 0 && utf8.RuneCountInString(raw) > e.maxLength {
		return apperr.Validation("word must be at most %d characters", e.maxLength)
	}
	if !signature.HasLetter(raw) {
		return apperr.Validation("word must contain at least one letter a-z")
	}
	return nil
}

// Signature returns the key the engine would store raw under. It is taken
// from raw rather than its normalized form, since Unicode lower-casing maps a
// few non-ASCII runes onto a-z.
func (e *Engine) Signature(raw string) string {
	return e.sign(raw)
}

// LookupSimilar returns the stored words sharing raw's signature. raw itself,
// exactly as given, is never part of the result.
func (e *Engine) LookupSimilar(ctx context.Context, q database.Querier, raw string) (Lookup, error) {
	if err := e.Validate(raw); err != nil {
		return Lookup{}, err
	}
	sig := e.Signature(raw)

	start := time.Now()
	words, err := e.find(ctx, q, sig, raw)
	elapsed := time.Since(start)
	if err != nil {
		return Lookup{Elapsed: elapsed}, err
	}
	return Lookup{Words: words, Elapsed: elapsed}, nil
}

func (e *Engine) find(ctx context.Context, q database.Querier, sig, raw string) ([]string, error) {
	if e.cache == nil {
		return e.store.FindBySignature(ctx, q, sig, raw)
	}

	class, err := e.cache.Load(ctx, sig, func(ctx context.Context) ([]string, error) {
		return e.store.FindBySignature(ctx, q, sig, "")
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(class))
	for _, w := range class {
		if w != raw {
			out = append(out, w)
		}
	}
	return out, nil
}

// AddWord validates, normalizes and stores raw. Elapsed is set on success and
// on apperr.ErrDuplicateWord so the attempt can be logged either way.
func (e *Engine) AddWord(ctx context.Context, q database.Querier, raw string) (Confirmation, error) {
	if err := e.Validate(raw); err != nil {
		return Confirmation{}, err
	}
	normalized := Normalize(raw)
	w := model.Word{Word: normalized, Signature: e.Signature(raw)}

	start := time.Now()
	err := e.store.Insert(ctx, q, w)
	conf := Confirmation{Word: raw, Stored: w, Elapsed: time.Since(start)}
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicateWord) {
			e.log.Info().Str("word", normalized).Msg("duplicate word rejected")
			return conf, err
		}
		return conf, apperr.StoreFailure("add word", err)
	}
	return conf, nil
}
