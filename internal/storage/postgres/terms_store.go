// Package postgres provides the Postgres-backed glossifier terms store.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/multierr"

	"github.com/JakeFAU/glossifier-terms/internal/refresh"
)

const (
	advisoryLockSQL = `SELECT pg_advisory_xact_lock($1)`

	updateTermsSQL = `UPDATE terms
   SET loaded = NOW(),
       terms_dict = $1
 WHERE terms_id = 1`

	clearRegexCacheSQL = `DELETE FROM term_regex`
)

// ErrTermsRowMissing reports that the single terms row does not exist. The
// refresher only ever overwrites it.
var ErrTermsRowMissing = errors.New("terms row 1 not found")

type txPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// TermsStore replaces the cached terms dictionary and invalidates the regex cache.
type TermsStore struct {
	pool    txPool
	lockKey *int64
}

// NewTermsStoreWithPool constructs a store from an existing pool (primarily for testing).
// A non-nil lockKey serialises writers with a transaction-scoped advisory lock.
func NewTermsStoreWithPool(pool txPool, lockKey *int64) (*TermsStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TermsStore{pool: pool, lockKey: lockKey}, nil
}

// Close releases the underlying pool resources.
func (s *TermsStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// ReplaceTerms stores payload verbatim in terms row 1 and empties term_regex in
// one transaction. Nothing is visible to other sessions unless every statement
// and the commit succeed.
func (s *TermsStore) ReplaceTerms(ctx context.Context, payload []byte) (rep refresh.Replacement, err error) {
	if s == nil || s.pool == nil {
		return refresh.Replacement{}, fmt.Errorf("terms store is not configured")
	}
	if payload == nil {
		payload = []byte{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return refresh.Replacement{}, fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = multierr.Append(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if s.lockKey != nil {
		if _, err = tx.Exec(ctx, advisoryLockSQL, *s.lockKey); err != nil {
			return refresh.Replacement{}, fmt.Errorf("acquire refresh lock: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, updateTermsSQL, payload)
	if err != nil {
		return refresh.Replacement{}, fmt.Errorf("update terms: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = ErrTermsRowMissing
		return refresh.Replacement{}, err
	}

	tag, err = tx.Exec(ctx, clearRegexCacheSQL)
	if err != nil {
		return refresh.Replacement{}, fmt.Errorf("clear term_regex: %w", err)
	}
	cleared := tag.RowsAffected()

	if err = tx.Commit(ctx); err != nil {
		return refresh.Replacement{}, fmt.Errorf("commit: %w", err)
	}
	committed = true

	return refresh.Replacement{BytesStored: len(payload), RegexRowsCleared: cleared}, nil
}
