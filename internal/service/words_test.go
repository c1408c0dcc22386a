package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/anagram"
	"github.com/similarwords/anagramd/internal/apperr"
	"github.com/similarwords/anagramd/internal/metrics"
	"github.com/similarwords/anagramd/internal/model"
	"github.com/similarwords/anagramd/internal/requestlog"
	"github.com/similarwords/anagramd/internal/signature"
	"github.com/similarwords/anagramd/internal/storage"
	"github.com/similarwords/anagramd/internal/storetest"
)

const prefix = "/api/v1"

type fixture struct {
	svc   *Words
	words *storetest.Words
	logs  *storetest.RequestLog
	tx    *storetest.Transactor
	cache *recordingCache
	pub   *recordingPublisher
}

type recordingCache struct {
	mu    sync.Mutex
	added []string
}

func (c *recordingCache) Add(_ context.Context, sig, word string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added = append(c.added, sig+":"+word)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.RequestLogEntry
}

func (p *recordingPublisher) Publish(e model.RequestLogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func newFixture(t *testing.T, archive Archiver) *fixture {
	t.Helper()
	f := &fixture{
		words: storetest.NewWords(),
		logs:  storetest.NewRequestLog(),
		tx:    &storetest.Transactor{},
		cache: &recordingCache{},
		pub:   &recordingPublisher{},
	}
	engine := anagram.NewEngine(f.words, signature.Sorted, 200, zerolog.Nop())
	f.svc = New(Deps{
		Tx:      f.tx,
		Engine:  engine,
		Log:     requestlog.New(f.logs, f.words, SimilarEndpoint(prefix)),
		Cache:   f.cache,
		Events:  f.pub,
		Archive: archive,
		Metrics: metrics.New(),
		Logger:  zerolog.Nop(),
		Prefix:  prefix,
	})
	t.Cleanup(func() {
		if f.tx.Open != 0 {
			t.Errorf("%d units of work left open", f.tx.Open)
		}
	})
	return f
}

func TestSimilarScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, w := range []string{"listen", "silent"} {
		if _, err := f.svc.AddWord(ctx, w); err != nil {
			t.Fatalf("add %s: %v", w, err)
		}
	}
	for i := 0; i < 2; i++ {
		got, err := f.svc.Similar(ctx, "enlist")
		if err != nil {
			t.Fatalf("similar: %v", err)
		}
		if strings.Join(got, ",") != "listen,silent" {
			t.Fatalf("got %v", got)
		}
	}

	if n, _ := f.words.Count(ctx, nil); n != 2 {
		t.Fatalf("lookups changed the store: %d words", n)
	}
	entries := f.logs.Entries()
	if len(entries) != 4 {
		t.Fatalf("logged %d entries, want 4", len(entries))
	}
	last := entries[3]
	if last.Endpoint != "/api/v1/similar" || last.Word == nil || *last.Word != "enlist" {
		t.Fatalf("last entry = %+v", last)
	}
	if len(f.pub.events) != 4 {
		t.Fatalf("published %d events", len(f.pub.events))
	}
	if len(f.cache.added) != 2 || f.cache.added[0] != "eilnst:listen" {
		t.Fatalf("cache updates = %v", f.cache.added)
	}
}

func TestSimilarNotFoundIsStillLogged(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Similar(context.Background(), "zebra")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(f.logs.Entries()) != 1 {
		t.Fatalf("empty lookup not logged")
	}
}

func TestSimilarStoreFailureIsNotNotFound(t *testing.T) {
	f := newFixture(t, nil)
	f.words.FailFind = errors.New("connection reset by peer")

	_, err := f.svc.Similar(context.Background(), "listen")
	if !errors.Is(err, apperr.ErrStoreFailure) || errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected store failure, got %v", err)
	}
	if f.tx.Rollbacks != 1 {
		t.Fatalf("rollbacks = %d", f.tx.Rollbacks)
	}
}

func TestStoreTimeoutIsStoreFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.tx.FailBegin = fmt.Errorf("beginning transaction: %w", context.DeadlineExceeded)
	ctx := context.Background()

	_, err := f.svc.Similar(ctx, "listen")
	if !errors.Is(err, apperr.ErrStoreFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("similar: %v", err)
	}
	if apperr.HTTPStatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("status = %d", apperr.HTTPStatusCode(err))
	}
	if _, err := f.svc.AddWord(ctx, "listen"); !errors.Is(err, apperr.ErrStoreFailure) {
		t.Fatalf("add: %v", err)
	}
	if len(f.logs.Entries()) != 0 {
		t.Fatal("failed requests must not be logged")
	}
}

func TestAddWordDuplicateIsLogged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.AddWord(ctx, "apple"); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := f.svc.AddWord(ctx, "Apple")
	if !errors.Is(err, apperr.ErrDuplicateWord) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	entries := f.logs.Entries()
	if len(entries) != 2 {
		t.Fatalf("logged %d entries", len(entries))
	}
	for _, e := range entries {
		if e.Endpoint != "/api/v1/add-word" || *e.Word != "apple" {
			t.Fatalf("entry = %+v", e)
		}
	}
	if n, _ := f.words.Count(ctx, nil); n != 1 {
		t.Fatalf("count = %d", n)
	}
	if len(f.cache.added) != 1 {
		t.Fatalf("duplicate touched the cache: %v", f.cache.added)
	}
}

func TestAddWordValidationIsNotLogged(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.AddWord(context.Background(), "   ")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.logs.Entries()) != 0 || f.tx.Commits+f.tx.Rollbacks != 0 {
		t.Fatal("validation failure reached the store")
	}
}

func TestRecordFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t, nil)
	f.logs.FailAppend = errors.New("request_log is locked")
	ctx := context.Background()

	conf, err := f.svc.AddWord(ctx, "Cloud")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if conf.Word != "Cloud" {
		t.Fatalf("confirmation = %+v", conf)
	}
	if n, _ := f.words.Count(ctx, nil); n != 1 {
		t.Fatal("word insert was undone by the log failure")
	}
	if _, err := f.svc.AddWord(ctx, "could"); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := f.svc.Similar(ctx, "cloud")
	if err != nil || len(got) != 1 || got[0] != "could" {
		t.Fatalf("similar = %v, %v", got, err)
	}
	if len(f.pub.events) != 0 {
		t.Fatal("events published for unrecorded entries")
	}
}

func TestStatsRejectsInvertedWindowBeforeQuery(t *testing.T) {
	f := newFixture(t, nil)
	t0 := time.Now()
	t1 := t0.Add(time.Minute)

	_, err := f.svc.Stats(context.Background(), requestlog.Window{From: &t1, To: &t0})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.logs.Queries != 0 || f.tx.Commits+f.tx.Rollbacks != 0 {
		t.Fatal("query ran for an inverted window")
	}
}

func TestStatsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	s, err := f.svc.Stats(context.Background(), requestlog.Window{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.TotalRequests != 0 || s.AvgProcessingTimeUs != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

type memArchive struct {
	objects map[string][]model.RequestLogEntry
}

func (a *memArchive) Put(_ context.Context, entries []model.RequestLogEntry) (string, error) {
	key := storage.KeyForBatch(time.Now(), "batch")
	a.objects[key] = entries
	return key, nil
}

func (a *memArchive) List(context.Context) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for k := range a.objects {
		out = append(out, storage.ObjectInfo{Key: k})
	}
	return out, nil
}

func (a *memArchive) Get(_ context.Context, key string) ([]model.RequestLogEntry, error) {
	e, ok := a.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return e, nil
}

func TestArchive(t *testing.T) {
	archive := &memArchive{objects: make(map[string][]model.RequestLogEntry)}
	f := newFixture(t, archive)
	ctx := context.Background()

	if _, err := f.svc.Archive(ctx, requestlog.Window{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("empty archive: %v", err)
	}

	if _, err := f.svc.AddWord(ctx, "chip"); err != nil {
		t.Fatalf("add: %v", err)
	}
	res, err := f.svc.Archive(ctx, requestlog.Window{})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if res.Count != 1 {
		t.Fatalf("result = %+v", res)
	}
	objs, err := f.svc.Archives(ctx)
	if err != nil || len(objs) != 1 {
		t.Fatalf("archives = %v, %v", objs, err)
	}
	got, err := f.svc.ArchivedLogs(ctx, res.Key)
	if err != nil || len(got) != 1 {
		t.Fatalf("archived logs = %v, %v", got, err)
	}
	if _, err := f.svc.ArchivedLogs(ctx, "secrets/passwd"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("foreign key: %v", err)
	}
	_, err = f.svc.ArchivedLogs(ctx, storage.Prefix+"2020/01/01/gone.json.gz")
	if !errors.Is(err, apperr.ErrNotFound) || apperr.HTTPStatusCode(err) != http.StatusNotFound {
		t.Fatalf("missing archive: %v", err)
	}
}

func TestArchiveDisabled(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Archives(context.Background()); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
