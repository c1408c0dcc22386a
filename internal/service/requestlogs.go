package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/similarwords/anagramd/internal/apperr"
	"github.com/similarwords/anagramd/internal/database"
	"github.com/similarwords/anagramd/internal/model"
	"github.com/similarwords/anagramd/internal/requestlog"
	"github.com/similarwords/anagramd/internal/storage"
)

// Stats aggregates the request log over w.
func (s *Words) Stats(ctx context.Context, w requestlog.Window) (requestlog.Stats, error) {
	if err := w.Validate(); err != nil {
		return requestlog.Stats{}, err
	}
	var stats requestlog.Stats
	err := s.tx.InReadTx(ctx, func(q database.Querier) error {
		var err error
		stats, err = s.log.Stats(ctx, q, w)
		return err
	})
	return stats, err
}

// RequestLogs lists request-log entries inside w, oldest first.
func (s *Words) RequestLogs(ctx context.Context, w requestlog.Window, limit int) ([]model.RequestLogEntry, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	var entries []model.RequestLogEntry
	err := s.tx.InReadTx(ctx, func(q database.Querier) error {
		var err error
		entries, err = s.log.List(ctx, q, w, limit)
		return err
	})
	return entries, err
}

// ArchiveResult describes one uploaded archive.
type ArchiveResult struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

var errArchiveDisabled = apperr.New(apperr.ErrUnavailable, http.StatusServiceUnavailable, "request-log archive is not configured")

// Archive uploads the entries inside w as one object.
func (s *Words) Archive(ctx context.Context, w requestlog.Window) (ArchiveResult, error) {
	if s.archive == nil {
		return ArchiveResult{}, errArchiveDisabled
	}
	entries, err := s.RequestLogs(ctx, w, 0)
	if err != nil {
		return ArchiveResult{}, err
	}
	if len(entries) == 0 {
		return ArchiveResult{}, apperr.New(apperr.ErrNotFound, http.StatusNotFound, "no request logs in the given window")
	}
	key, err := s.archive.Put(ctx, entries)
	if err != nil {
		return ArchiveResult{}, apperr.StoreFailure("archive request logs", err)
	}
	s.logger.Info().Str("key", key).Int("entries", len(entries)).Msg("request logs archived")
	return ArchiveResult{Key: key, Count: len(entries)}, nil
}

// Archives lists the uploaded archives.
func (s *Words) Archives(ctx context.Context) ([]storage.ObjectInfo, error) {
	if s.archive == nil {
		return nil, errArchiveDisabled
	}
	objs, err := s.archive.List(ctx)
	if err != nil {
		return nil, apperr.StoreFailure("list archives", err)
	}
	return objs, nil
}

// ArchivedLogs returns the entries stored in the archive under key.
func (s *Words) ArchivedLogs(ctx context.Context, key string) ([]model.RequestLogEntry, error) {
	if s.archive == nil {
		return nil, errArchiveDisabled
	}
	if !strings.HasPrefix(key, storage.Prefix) {
		return nil, apperr.Validation("key must start with %q", storage.Prefix)
	}
	entries, err := s.archive.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Newf(apperr.ErrNotFound, http.StatusNotFound, "archive %s not found", key)
	}
	if err != nil {
		return nil, apperr.StoreFailure("read archive", err)
	}
	return entries, nil
}
