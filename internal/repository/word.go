package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/similarwords/anagramd/internal/apperr"
	"github.com/similarwords/anagramd/internal/database"
	"github.com/similarwords/anagramd/internal/model"
)

// uniqueViolation is the SQLSTATE Postgres reports for a unique constraint.
const uniqueViolation = "23505"

// WordRepository persists and reads words. Every method runs against the
// unit of work it is given and bounds the round trip by timeout.
type WordRepository struct {
	timeout time.Duration
}

// NewWordRepository returns a WordRepository whose calls expire after timeout.
func NewWordRepository(timeout time.Duration) *WordRepository {
	return &WordRepository{timeout: timeout}
}

// Insert stores w. A word that already exists yields apperr.ErrDuplicateWord.
func (r *WordRepository) Insert(ctx context.Context, q database.Querier, w model.Word) error {
	ctx, cancel := database.Bounded(ctx, r.timeout)
	defer cancel()

	_, err := q.Exec(ctx, `INSERT INTO words (word, signature) VALUES ($1, $2)`, w.Word, w.Signature)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrDuplicateWord
		}
		return apperr.StoreFailure("insert word", err)
	}
	return nil
}

// FindBySignature returns the words sharing signature, minus excluding.
// Order is unspecified.
func (r *WordRepository) FindBySignature(ctx context.Context, q database.Querier, signature, excluding string) ([]string, error) {
	ctx, cancel := database.Bounded(ctx, r.timeout)
	defer cancel()

	rows, err := q.Query(ctx, `
		SELECT word FROM words
		WHERE signature = $1 AND word <> $2`, signature, excluding)
	if err != nil {
		return nil, apperr.StoreFailure("find by signature", err)
	}
	words, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperr.StoreFailure("find by signature", err)
	}
	return words, nil
}

// Count returns the number of stored words.
func (r *WordRepository) Count(ctx context.Context, q database.Querier) (int64, error) {
	ctx, cancel := database.Bounded(ctx, r.timeout)
	defer cancel()

	var n int64
	if err := q.QueryRow(ctx, `SELECT count(*) FROM words`).Scan(&n); err != nil {
		return 0, apperr.StoreFailure("count words", err)
	}
	return n, nil
}

// InsertBatch inserts words in one statement, skipping any that already
// exist, and returns the number of rows written.
func (r *WordRepository) InsertBatch(ctx context.Context, q database.Querier, words []model.Word) (int64, error) {
	if len(words) == 0 {
		return 0, nil
	}
	ctx, cancel := database.Bounded(ctx, r.timeout)
	defer cancel()

	texts := make([]string, len(words))
	sigs := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Word
		sigs[i] = w.Signature
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO words (word, signature)
		SELECT * FROM unnest($1::text[], $2::text[])
		ON CONFLICT (word) DO NOTHING`, texts, sigs)
	if err != nil {
		return 0, apperr.StoreFailure("insert word batch", err)
	}
	return tag.RowsAffected(), nil
}

// All returns every stored word ordered by id.
func (r *WordRepository) All(ctx context.Context, q database.Querier) ([]model.Word, error) {
	ctx, cancel := database.Bounded(ctx, r.timeout)
	defer cancel()

	rows, err := q.Query(ctx, `SELECT id, word, signature, created_at FROM words ORDER BY id`)
	if err != nil {
		return nil, apperr.StoreFailure("list words", err)
	}
	words, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Word])
	if err != nil {
		return nil, apperr.StoreFailure("list words", err)
	}
	return words, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
