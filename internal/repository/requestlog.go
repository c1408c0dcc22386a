package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/similarwords/anagramd/internal/apperr"
	"github.com/similarwords/anagramd/internal/database"
	"github.com/similarwords/anagramd/internal/model"
)

// windowClause restricts "timestamp" to an inclusive range; a NULL bound is
// open.
const windowClause = `($1::timestamptz IS NULL OR "timestamp" >= $1)
		AND ($2::timestamptz IS NULL OR "timestamp" <= $2)`

// RequestLogRepository appends and aggregates request_log rows.
type RequestLogRepository struct {
	timeout time.Duration
}

func NewRequestLogRepository(timeout time.Duration) *RequestLogRepository {
	return &RequestLogRepository{timeout: timeout}
}

// Append inserts e and sets its ID and Timestamp from the database.
func (r *RequestLogRepository) Append(ctx context.Context, q database.Querier, e *model.RequestLogEntry) error {
	ctx, cancel := database.Bounded(ctx, r.timeout)
	defer cancel()

	err := q.QueryRow(ctx, `
		INSERT INTO request_log (endpoint, processing_time_us, word)
		VALUES ($1, $2, $3)
		RETURNING id, "timestamp"`,
		e.Endpoint, e.ProcessingTimeUs, e.Word,
	).Scan(&e.ID, &e.Timestamp)
	if err != nil {
		return apperr.StoreFailure("append request log", err)
	}
	return nil
}

// List returns entries inside [from, to] ordered by id. A limit of zero or
// less returns every matching row.
func (r *RequestLogRepository) List(ctx context.Context, q database.Querier, from, to *time.Time, limit int) ([]model.RequestLogEntry, error) {
	ctx, cancel := database.Bounded(ctx, r.timeout)
	defer cancel()

	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := q.Query(ctx, `
		SELECT id, endpoint, "timestamp", processing_time_us, word
		FROM request_log
		WHERE `+windowClause+`
		ORDER BY id
		LIMIT $3`, from, to, lim)
	if err != nil {
		return nil, apperr.StoreFailure("list request log", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.RequestLogEntry])
	if err != nil {
		return nil, apperr.StoreFailure("list request log", err)
	}
	return entries, nil
}

// CountEndpoint counts entries for endpoint inside [from, to].
func (r *RequestLogRepository) CountEndpoint(ctx context.Context, q database.Querier, endpoint string, from, to *time.Time) (int64, error) {
	ctx, cancel := database.Bounded(ctx, r.timeout)
	defer cancel()

	var n int64
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM request_log
		WHERE `+windowClause+` AND endpoint = $3`, from, to, endpoint).Scan(&n)
	if err != nil {
		return 0, apperr.StoreFailure("count requests", err)
	}
	return n, nil
}

// AvgProcessingTime returns the mean processing time in microseconds over
// every entry inside [from, to], or 0 when none match.
func (r *RequestLogRepository) AvgProcessingTime(ctx context.Context, q database.Querier, from, to *time.Time) (float64, error) {
	ctx, cancel := database.Bounded(ctx, r.timeout)
	defer cancel()

	var avg float64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(avg(processing_time_us), 0)::double precision FROM request_log
		WHERE `+windowClause, from, to).Scan(&avg)
	if err != nil {
		return 0, apperr.StoreFailure("average processing time", err)
	}
	return avg, nil
}
