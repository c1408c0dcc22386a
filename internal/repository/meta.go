package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/similarwords/anagramd/internal/apperr"
	"github.com/similarwords/anagramd/internal/database"
)

const signatureStrategyKey = "signature_strategy"

// MetaRepository reads and writes deployment-wide settings kept in the
// database.
type MetaRepository struct {
	timeout time.Duration
}

func NewMetaRepository(timeout time.Duration) *MetaRepository {
	return &MetaRepository{timeout: timeout}
}

// EnsureSignatureStrategy records strategy on first use and fails when the
// database was populated under a different one.
func (r *MetaRepository) EnsureSignatureStrategy(ctx context.Context, q database.Querier, strategy string) error {
	ctx, cancel := database.Bounded(ctx, r.timeout)
	defer cancel()

	_, err := q.Exec(ctx, `
		INSERT INTO meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING`, signatureStrategyKey, strategy)
	if err != nil {
		return apperr.StoreFailure("pin signature strategy", err)
	}

	var stored string
	if err := q.QueryRow(ctx, `SELECT value FROM meta WHERE key = $1`, signatureStrategyKey).Scan(&stored); err != nil {
		return apperr.StoreFailure("read signature strategy", err)
	}
	if stored != strategy {
		return fmt.Errorf("signature strategy mismatch: database uses %q, configured %q", stored, strategy)
	}
	return nil
}
