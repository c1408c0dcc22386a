// Package service runs each request as a sequence of units of work: the
// primary operation first, then the request-log entry that records it.
package service

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/anagram"
	"github.com/similarwords/anagramd/internal/apperr"
	"github.com/similarwords/anagramd/internal/database"
	"github.com/similarwords/anagramd/internal/metrics"
	"github.com/similarwords/anagramd/internal/model"
	"github.com/similarwords/anagramd/internal/requestlog"
	"github.com/similarwords/anagramd/internal/storage"
)

// Endpoint identifiers written to the request log.
func SimilarEndpoint(prefix string) string { return prefix + "/similar" }
func AddWordEndpoint(prefix string) string { return prefix + "/add-word" }

// ClassUpdater receives every committed word.
type ClassUpdater interface {
	Add(ctx context.Context, signature, word string)
}

// Publisher receives every recorded request-log entry.
type Publisher interface {
	Publish(e model.RequestLogEntry)
}

// Archiver stores and lists request-log archives.
type Archiver interface {
	Put(ctx context.Context, entries []model.RequestLogEntry) (string, error)
	List(ctx context.Context) ([]storage.ObjectInfo, error)
	Get(ctx context.Context, key string) ([]model.RequestLogEntry, error)
}

// Deps wires a Words service. Cache, Events, Archive and Metrics are
// optional.
type Deps struct {
	Tx      database.Transactor
	Engine  *anagram.Engine
	Log     *requestlog.Log
	Cache   ClassUpdater
	Events  Publisher
	Archive Archiver
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	// Prefix is the versioned API prefix, e.g. /api/v1.
	Prefix string
}

type Words struct {
	tx      database.Transactor
	engine  *anagram.Engine
	log     *requestlog.Log
	cache   ClassUpdater
	events  Publisher
	archive Archiver
	metrics *metrics.Metrics
	logger  zerolog.Logger

	similarEndpoint string
	addEndpoint     string
}

func New(d Deps) *Words {
	return &Words{
		tx:              d.Tx,
		engine:          d.Engine,
		log:             d.Log,
		cache:           d.Cache,
		events:          d.Events,
		archive:         d.Archive,
		metrics:         d.Metrics,
		logger:          d.Logger.With().Str("component", "words").Logger(),
		similarEndpoint: SimilarEndpoint(d.Prefix),
		addEndpoint:     AddWordEndpoint(d.Prefix),
	}
}

// Similar returns the anagrams of raw sorted lexicographically. An empty
// class is apperr.ErrNotFound. The lookup is logged once it has completed,
// whether or not it found anything.
func (s *Words) Similar(ctx context.Context, raw string) ([]string, error) {
	if err := s.engine.Validate(raw); err != nil {
		s.countLookup(metrics.OutcomeInvalid)
		return nil, err
	}

	var res anagram.Lookup
	err := s.tx.InReadTx(ctx, func(q database.Querier) error {
		var err error
		res, err = s.engine.LookupSimilar(ctx, q, raw)
		return err
	})
	if err != nil {
		s.countLookup(metrics.OutcomeError)
		return nil, apperr.StoreFailure("similar", err)
	}

	s.record(ctx, s.similarEndpoint, res.Elapsed, raw)

	if s.metrics != nil {
		s.metrics.LookupResults.Observe(float64(len(res.Words)))
	}
	if len(res.Words) == 0 {
		s.countLookup(metrics.OutcomeEmpty)
		return nil, apperr.New(apperr.ErrNotFound, http.StatusNotFound, "Similar words not found")
	}
	s.countLookup(metrics.OutcomeFound)

	words := append([]string(nil), res.Words...)
	sort.Strings(words)
	return words, nil
}

// AddWord stores raw. Successful and duplicate attempts are both logged,
// after the insert has committed or rolled back.
func (s *Words) AddWord(ctx context.Context, raw string) (anagram.Confirmation, error) {
	if err := s.engine.Validate(raw); err != nil {
		s.countInsert(metrics.OutcomeInvalid)
		return anagram.Confirmation{}, err
	}

	var conf anagram.Confirmation
	err := s.tx.InTx(ctx, func(q database.Querier) error {
		var err error
		conf, err = s.engine.AddWord(ctx, q, raw)
		return err
	})

	switch {
	case err == nil:
		s.countInsert(metrics.OutcomeAdded)
		if s.cache != nil {
			s.cache.Add(ctx, conf.Stored.Signature, conf.Stored.Word)
		}
		s.record(ctx, s.addEndpoint, conf.Elapsed, conf.Stored.Word)
		return conf, nil
	case errors.Is(err, apperr.ErrDuplicateWord):
		s.countInsert(metrics.OutcomeDuplicate)
		s.record(ctx, s.addEndpoint, conf.Elapsed, conf.Stored.Word)
		return conf, err
	default:
		s.countInsert(metrics.OutcomeError)
		return conf, apperr.StoreFailure("add word", err)
	}
}

// record writes the request-log entry in its own unit of work. A failure is
// logged and counted; it never changes the outcome of the request.
func (s *Words) record(ctx context.Context, endpoint string, elapsed time.Duration, word string) {
	var entry model.RequestLogEntry
	err := s.tx.InTx(ctx, func(q database.Querier) error {
		var err error
		entry, err = s.log.Record(ctx, q, endpoint, elapsed, &word)
		return err
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RequestLogFailures.Inc()
		}
		s.logger.Error().Err(err).Str("endpoint", endpoint).Str("word", word).Msg("failed to record request")
		return
	}
	if s.events != nil {
		s.events.Publish(entry)
	}
}

func (s *Words) countLookup(outcome string) {
	if s.metrics != nil {
		s.metrics.LookupsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Words) countInsert(outcome string) {
	if s.metrics != nil {
		s.metrics.InsertsTotal.WithLabelValues(outcome).Inc()
	}
}
