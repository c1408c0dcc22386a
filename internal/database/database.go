package database

import (
	"context"
	"fmt"
	"time"

	zerologadapter "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/multitracer"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/newrelic/go-agent/v3/integrations/nrpgx5"
	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/config"
)

// Database owns the connection pool shared by every request.
type Database struct {
	Pool    *pgxpool.Pool
	log     zerolog.Logger
	timeout time.Duration
}

// Options tune pool construction.
type Options struct {
	// NewRelic adds the nrpgx5 tracer so queries show up as datastore
	// segments.
	NewRelic bool
	// Timeout bounds transaction begin, commit and rollback. Queries are
	// bounded by the repositories.
	Timeout time.Duration
}

// New opens the pool described by cfg and pings it, retrying with backoff
// while the database comes up.
func New(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger, opts Options) (*Database, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolCfg.ConnConfig.Tracer = newTracer(log, opts)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	db := &Database{Pool: pool, log: log, timeout: opts.Timeout}
	if err := db.pingWithRetry(ctx, cfg.ConnectRetries); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Str("host", cfg.Host).Str("database", cfg.Name).Msg("connected to database")
	return db, nil
}

func newTracer(log zerolog.Logger, opts Options) pgx.QueryTracer {
	queryLog := &tracelog.TraceLog{
		Logger:   zerologadapter.NewLogger(log.With().Str("component", "pgx").Logger()),
		LogLevel: tracelog.LogLevelWarn,
	}
	if log.GetLevel() <= zerolog.DebugLevel {
		queryLog.LogLevel = tracelog.LogLevelDebug
	}
	if !opts.NewRelic {
		return queryLog
	}
	return multitracer.New(queryLog, nrpgx5.NewTracer())
}

func (d *Database) pingWithRetry(ctx context.Context, retries int) error {
	delay := 250 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = d.Pool.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt == retries {
			break
		}
		d.log.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("next_delay", delay).Msg("database not ready, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("pinging database: %w", ctx.Err())
		}
		delay *= 2
		if delay > 5*time.Second {
			delay = 5 * time.Second
		}
	}
	return fmt.Errorf("pinging database after %d attempts: %w", retries+1, lastErr)
}

// Ping reports whether the database is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

func (d *Database) Close() {
	d.Pool.Close()
}
