// Package seed loads the base word list into an empty or partially filled
// store at startup.
package seed

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/similarwords/anagramd/internal/anagram"
	"github.com/similarwords/anagramd/internal/database"
	"github.com/similarwords/anagramd/internal/model"
	"github.com/similarwords/anagramd/internal/signature"
)

// Store is the persistence seeding needs.
type Store interface {
	Count(ctx context.Context, q database.Querier) (int64, error)
	InsertBatch(ctx context.Context, q database.Querier, words []model.Word) (int64, error)
}

// Report summarizes one Run.
type Report struct {
	Lines         int
	Inserted      int64
	FailedBatches int
	Skipped       bool
}

type Seeder struct {
	tx        database.Transactor
	store     Store
	sign      signature.Func
	batchSize int
	workers   int
	log       zerolog.Logger
}

func New(tx database.Transactor, store Store, sign signature.Func, batchSize, workers int, log zerolog.Logger) *Seeder {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if workers <= 0 {
		workers = 1
	}
	return &Seeder{
		tx:        tx,
		store:     store,
		sign:      sign,
		batchSize: batchSize,
		workers:   workers,
		log:       log.With().Str("component", "seed").Logger(),
	}
}

// Run seeds the store from the newline-delimited file at path. It does
// nothing when the store already holds at least as many words as the file
// has non-empty lines. A batch that fails is rolled back and counted; it
// never fails the run. Only reading the file or counting the store can.
func (s *Seeder) Run(ctx context.Context, path string) (Report, error) {
	words, lines, err := s.readWords(path)
	if err != nil {
		return Report{}, err
	}
	report := Report{Lines: lines}

	var count int64
	err = s.tx.InReadTx(ctx, func(q database.Querier) error {
		var err error
		count, err = s.store.Count(ctx, q)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("counting words: %w", err)
	}
	if count >= int64(lines) {
		report.Skipped = true
		s.log.Info().Int64("stored", count).Int("lines", lines).Msg("dataset already loaded, skipping seed")
		return report, nil
	}

	var inserted atomic.Int64
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for start := 0; start < len(words); start += s.batchSize {
		batch := words[start:min(start+s.batchSize, len(words))]
		g.Go(func() error {
			var n int64
			err := s.tx.InTx(gctx, func(q database.Querier) error {
				var err error
				n, err = s.store.InsertBatch(gctx, q, batch)
				return err
			})
			if err != nil {
				failed.Add(1)
				s.log.Warn().Err(err).Str("first_word", batch[0].Word).Int("size", len(batch)).Msg("seed batch rolled back")
				return nil
			}
			inserted.Add(n)
			return nil
		})
	}
	_ = g.Wait()

	report.Inserted = inserted.Load()
	report.FailedBatches = int(failed.Load())
	s.log.Info().
		Int("lines", report.Lines).
		Int64("inserted", report.Inserted).
		Int("failed_batches", report.FailedBatches).
		Msg("dataset seeded")
	return report, nil
}

// readWords returns the distinct normalized words of the file and the number
// of lines holding a word. Lines without a letter a-z are skipped, as the
// insert path rejects them.
func (s *Seeder) readWords(path string) ([]model.Word, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var words []model.Word
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		raw := sc.Text()
		w := anagram.Normalize(raw)
		if w == "" || !signature.HasLetter(raw) {
			continue
		}
		lines++
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, model.Word{Word: w, Signature: s.sign(raw)})
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("reading dataset: %w", err)
	}
	return words, lines, nil
}
