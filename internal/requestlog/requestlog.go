// Package requestlog records every lookup and insertion attempt and derives
// aggregate statistics from the records.
package requestlog

import (
	"context"
	"time"

	"github.com/similarwords/anagramd/internal/apperr"
	"github.com/similarwords/anagramd/internal/database"
	"github.com/similarwords/anagramd/internal/model"
)

// Store is the request_log persistence.
type Store interface {
	Append(ctx context.Context, q database.Querier, e *model.RequestLogEntry) error
	List(ctx context.Context, q database.Querier, from, to *time.Time, limit int) ([]model.RequestLogEntry, error)
	CountEndpoint(ctx context.Context, q database.Querier, endpoint string, from, to *time.Time) (int64, error)
	AvgProcessingTime(ctx context.Context, q database.Querier, from, to *time.Time) (float64, error)
}

// WordCounter reports the number of stored words.
type WordCounter interface {
	Count(ctx context.Context, q database.Querier) (int64, error)
}

// Window is an inclusive time range. A nil bound is open.
type Window struct {
	From *time.Time
	To   *time.Time
}

// Validate rejects a window whose start lies after its end.
func (w Window) Validate() error {
	if w.From != nil && w.To != nil && w.From.After(*w.To) {
		return apperr.Validation("'from' timestamp must be before or equal to 'to' timestamp")
	}
	return nil
}

// Stats aggregates the log over a window. AvgProcessingTimeUs is in
// microseconds and is 0 when no entry matches.
type Stats struct {
	TotalWords          int64
	TotalRequests       int64
	AvgProcessingTimeUs float64
}

// Log owns the request_log. lookupEndpoint is the endpoint id counted as a
// lookup request in Stats.
type Log struct {
	store          Store
	words          WordCounter
	lookupEndpoint string
}

func New(store Store, words WordCounter, lookupEndpoint string) *Log {
	return &Log{store: store, words: words, lookupEndpoint: lookupEndpoint}
}

// LookupEndpoint returns the endpoint id Stats counts.
func (l *Log) LookupEndpoint() string {
	return l.lookupEndpoint
}

// Record appends one entry. elapsed is stored in microseconds.
func (l *Log) Record(ctx context.Context, q database.Querier, endpoint string, elapsed time.Duration, word *string) (model.RequestLogEntry, error) {
	e := model.RequestLogEntry{
		Endpoint:         endpoint,
		ProcessingTimeUs: Microseconds(elapsed),
		Word:             word,
	}
	if err := l.store.Append(ctx, q, &e); err != nil {
		return e, apperr.StoreFailure("record request", err)
	}
	return e, nil
}

// Stats computes the aggregates over w. An inverted window is rejected
// before any query runs.
func (l *Log) Stats(ctx context.Context, q database.Querier, w Window) (Stats, error) {
	if err := w.Validate(); err != nil {
		return Stats{}, err
	}

	total, err := l.words.Count(ctx, q)
	if err != nil {
		return Stats{}, apperr.StoreFailure("stats", err)
	}
	requests, err := l.store.CountEndpoint(ctx, q, l.lookupEndpoint, w.From, w.To)
	if err != nil {
		return Stats{}, apperr.StoreFailure("stats", err)
	}
	avg, err := l.store.AvgProcessingTime(ctx, q, w.From, w.To)
	if err != nil {
		return Stats{}, apperr.StoreFailure("stats", err)
	}
	return Stats{TotalWords: total, TotalRequests: requests, AvgProcessingTimeUs: avg}, nil
}

// List returns the entries inside w ordered by id, at most limit when
// limit > 0.
func (l *Log) List(ctx context.Context, q database.Querier, w Window, limit int) ([]model.RequestLogEntry, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	entries, err := l.store.List(ctx, q, w.From, w.To, limit)
	if err != nil {
		return nil, apperr.StoreFailure("list requests", err)
	}
	if entries == nil {
		entries = []model.RequestLogEntry{}
	}
	return entries, nil
}

// Microseconds converts d to fractional microseconds.
func Microseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}
