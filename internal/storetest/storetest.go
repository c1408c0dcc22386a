// Package storetest provides in-memory stores and a transactor for tests that
// must not need Postgres.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/similarwords/anagramd/internal/apperr"
	"github.com/similarwords/anagramd/internal/database"
	"github.com/similarwords/anagramd/internal/model"
)

// Words is an in-memory word store. Set a Fail* field to make the matching
// call return that error.
type Words struct {
	mu    sync.Mutex
	rows  []model.Word
	index map[string]int

	FailInsert error
	FailFind   error
	FailCount  error
	FailBatch  func(batch []model.Word) error

	Finds int
}

func NewWords() *Words {
	return &Words{index: make(map[string]int)}
}

func (s *Words) Insert(_ context.Context, _ database.Querier, w model.Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert != nil {
		return s.FailInsert
	}
	if _, ok := s.index[w.Word]; ok {
		return apperr.ErrDuplicateWord
	}
	s.add(w)
	return nil
}

func (s *Words) add(w model.Word) {
	w.ID = int64(len(s.rows) + 1)
	w.CreatedAt = time.Now()
	s.index[w.Word] = len(s.rows)
	s.rows = append(s.rows, w)
}

func (s *Words) FindBySignature(_ context.Context, _ database.Querier, sig, excluding string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Finds++
	if s.FailFind != nil {
		return nil, s.FailFind
	}
	var out []string
	for _, w := range s.rows {
		if w.Signature == sig && w.Word != excluding {
			out = append(out, w.Word)
		}
	}
	return out, nil
}

func (s *Words) Count(_ context.Context, _ database.Querier) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCount != nil {
		return 0, s.FailCount
	}
	return int64(len(s.rows)), nil
}

func (s *Words) InsertBatch(_ context.Context, _ database.Querier, batch []model.Word) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailBatch != nil {
		if err := s.FailBatch(batch); err != nil {
			return 0, err
		}
	}
	var n int64
	for _, w := range batch {
		if _, ok := s.index[w.Word]; ok {
			continue
		}
		s.add(w)
		n++
	}
	return n, nil
}

func (s *Words) All(_ context.Context, _ database.Querier) ([]model.Word, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Word(nil), s.rows...), nil
}

// RequestLog is an in-memory request_log store.
type RequestLog struct {
	mu      sync.Mutex
	entries []model.RequestLogEntry

	FailAppend error
	// Queries counts read calls, so tests can assert nothing was queried.
	Queries int
}

func NewRequestLog() *RequestLog {
	return &RequestLog{}
}

func (s *RequestLog) Append(_ context.Context, _ database.Querier, e *model.RequestLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend != nil {
		return s.FailAppend
	}
	e.ID = int64(len(s.entries) + 1)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.entries = append(s.entries, *e)
	return nil
}

// Entries returns a copy of every appended entry.
func (s *RequestLog) Entries() []model.RequestLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RequestLogEntry(nil), s.entries...)
}

func inWindow(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func (s *RequestLog) List(_ context.Context, _ database.Querier, from, to *time.Time, limit int) ([]model.RequestLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries++
	var out []model.RequestLogEntry
	for _, e := range s.entries {
		if !inWindow(e.Timestamp, from, to) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *RequestLog) CountEndpoint(_ context.Context, _ database.Querier, endpoint string, from, to *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries++
	var n int64
	for _, e := range s.entries {
		if e.Endpoint == endpoint && inWindow(e.Timestamp, from, to) {
			n++
		}
	}
	return n, nil
}

func (s *RequestLog) AvgProcessingTime(_ context.Context, _ database.Querier, from, to *time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries++
	var sum float64
	var n int
	for _, e := range s.entries {
		if inWindow(e.Timestamp, from, to) {
			sum += e.ProcessingTimeUs
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// Transactor runs fn directly with a nil Querier and counts outcomes.
// FailBegin, when set, is returned before fn runs.
type Transactor struct {
	mu        sync.Mutex
	FailBegin error
	Commits   int
	Rollbacks int
	Open      int
}

func (t *Transactor) InTx(ctx context.Context, fn func(q database.Querier) error) error {
	return t.run(fn)
}

func (t *Transactor) InReadTx(ctx context.Context, fn func(q database.Querier) error) error {
	return t.run(fn)
}

func (t *Transactor) run(fn func(q database.Querier) error) error {
	t.mu.Lock()
	if t.FailBegin != nil {
		t.mu.Unlock()
		return t.FailBegin
	}
	t.Open++
	t.mu.Unlock()

	committed := false
	defer func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.Open--
		if committed {
			t.Commits++
		} else {
			t.Rollbacks++
		}
	}()

	if err := fn(nil); err != nil {
		return err
	}
	committed = true
	return nil
}
