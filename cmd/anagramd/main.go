package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/similarwords/anagramd/internal/anagram"
	"github.com/similarwords/anagramd/internal/cache"
	"github.com/similarwords/anagramd/internal/config"
	"github.com/similarwords/anagramd/internal/database"
	"github.com/similarwords/anagramd/internal/events"
	"github.com/similarwords/anagramd/internal/handler"
	"github.com/similarwords/anagramd/internal/logger"
	"github.com/similarwords/anagramd/internal/metrics"
	"github.com/similarwords/anagramd/internal/model"
	"github.com/similarwords/anagramd/internal/repository"
	"github.com/similarwords/anagramd/internal/requestlog"
	"github.com/similarwords/anagramd/internal/seed"
	"github.com/similarwords/anagramd/internal/server"
	"github.com/similarwords/anagramd/internal/service"
	"github.com/similarwords/anagramd/internal/signature"
	"github.com/similarwords/anagramd/internal/storage"
)

func main() {
	configPath := flag.String("config", "anagramd.yaml", "path to an optional YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Observability)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("anagramd exited")
	}
	log.Info().Msg("anagramd stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	sign, err := signature.ForStrategy(cfg.Words.SignatureStrategy)
	if err != nil {
		return err
	}

	nrApp, err := logger.NewRelic(cfg.Observability)
	if err != nil {
		return fmt.Errorf("new relic: %w", err)
	}
	if nrApp != nil {
		defer nrApp.Shutdown(5 * time.Second)
	}

	if err := database.RunMigrations(ctx, cfg.Database.URL(), logger.Component(log, "migrate")); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	db, err := database.New(ctx, cfg.Database, logger.Component(log, "database"), database.Options{
		NewRelic: nrApp != nil,
		Timeout:  cfg.Store.Timeout,
	})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	timeout := cfg.Store.Timeout
	wordRepo := repository.NewWordRepository(timeout)
	logRepo := repository.NewRequestLogRepository(timeout)
	metaRepo := repository.NewMetaRepository(timeout)

	err = db.InTx(ctx, func(q database.Querier) error {
		return metaRepo.EnsureSignatureStrategy(ctx, q, cfg.Words.SignatureStrategy)
	})
	if err != nil {
		return err
	}

	m := metrics.New()

	if cfg.Seed.Enabled && cfg.Words.DatasetPath != "" {
		seeder := seed.New(db, wordRepo, sign, cfg.Seed.BatchSize, cfg.Seed.Workers, log)
		report, err := seeder.Run(ctx, cfg.Words.DatasetPath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Words.DatasetPath).Msg("dataset not seeded")
		}
		m.SeededWordsTotal.Add(float64(report.Inserted))
		m.SeedBatchFailures.Add(float64(report.FailedBatches))
	}

	var engineOpts []anagram.Option
	var classUpdater service.ClassUpdater
	checks := map[string]handler.Pinger{"database": db}

	c, err := cache.New(cfg.Cache, log)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if c != nil {
		defer c.Close()
		err := c.Rebuild(ctx, func(ctx context.Context) ([]model.Word, error) {
			var words []model.Word
			err := db.InReadTx(ctx, func(q database.Querier) error {
				var err error
				words, err = wordRepo.All(ctx, q)
				return err
			})
			return words, err
		})
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		engineOpts = append(engineOpts, anagram.WithCache(c))
		classUpdater = c
		checks["cache"] = c
		m.RegisterCache(c.Stats)
	}

	var publisher service.Publisher
	if cfg.Events.Enabled() {
		collector := events.NewCollector(events.NewKafkaWriter(cfg.Events), cfg.Events.BufferSize, log)
		collector.Start(ctx)
		defer func() {
			if err := collector.Close(); err != nil {
				log.Error().Err(err).Msg("closing event writer")
			}
		}()
		publisher = collector
		m.RegisterEvents(collector.Stats)
	}

	var archiver service.Archiver
	if archive := storage.NewArchive(cfg.O3()); archive != nil {
		if err := archive.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Msg("archive bucket check failed, uploads may fail")
		}
		archiver = archive
	}

	prefix := cfg.API.Prefix()
	engine := anagram.NewEngine(wordRepo, sign, cfg.Words.MaxLength, logger.Component(log, "anagram"), engineOpts...)
	words := service.New(service.Deps{
		Tx:      db,
		Engine:  engine,
		Log:     requestlog.New(logRepo, wordRepo, service.SimilarEndpoint(prefix)),
		Cache:   classUpdater,
		Events:  publisher,
		Archive: archiver,
		Metrics: m,
		Logger:  log,
		Prefix:  prefix,
	})

	srv := server.New(cfg, server.Deps{
		Words:    words,
		Metrics:  m,
		NewRelic: nrApp,
		Checks:   checks,
		Log:      log,
	})
	return srv.Start(ctx)
}
