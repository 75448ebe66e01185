package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/glossifier-terms/internal/refresh"
)

func newMockStore(t *testing.T, lockKey *int64) (*TermsStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewTermsStoreWithPool(mock, lockKey)
	require.NoError(t, err)
	return store, mock
}

func int64Ptr(v int64) *int64 { return &v }

func TestReplaceTermsCommits(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, int64Ptr(42))
	payload := []byte("<GlossaryTerms><Term>tumor</Term></GlossaryTerms>")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(advisoryLockSQL)).
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("UPDATE terms").
		WithArgs(payload).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM term_regex").
		WillReturnResult(pgxmock.NewResult("DELETE", 17))
	mock.ExpectCommit()

	rep, err := store.ReplaceTerms(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, refresh.Replacement{BytesStored: len(payload), RegexRowsCleared: 17}, rep)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTermsWithoutLock(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)
	payload := []byte("x")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE terms").
		WithArgs(payload).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM term_regex").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	rep, err := store.ReplaceTerms(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.BytesStored)
	assert.Zero(t, rep.RegexRowsCleared)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTermsEmptyPayloadIsNotNull(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE terms").
		WithArgs([]byte{}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM term_regex").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	rep, err := store.ReplaceTerms(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, rep.BytesStored)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTermsIdempotent(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)
	payload := []byte("same document")

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE terms").
			WithArgs(payload).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec("DELETE FROM term_regex").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectCommit()
	}

	for i := 0; i < 2; i++ {
		rep, err := store.ReplaceTerms(context.Background(), payload)
		require.NoError(t, err)
		assert.Equal(t, len(payload), rep.BytesStored)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTermsRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	payload := []byte("doc")
	boom := errors.New("boom")

	tests := []struct {
		name   string
		expect func(mock pgxmock.PgxPoolIface)
		want   string
		is     error
	}{
		{
			name: "lock fails",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(advisoryLockSQL)).WithArgs(int64(7)).WillReturnError(boom)
				mock.ExpectRollback()
			},
			want: "acquire refresh lock",
			is:   boom,
		},
		{
			name: "update fails",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(advisoryLockSQL)).WithArgs(int64(7)).
					WillReturnResult(pgxmock.NewResult("SELECT", 1))
				mock.ExpectExec("UPDATE terms").WithArgs(payload).WillReturnError(boom)
				mock.ExpectRollback()
			},
			want: "update terms",
			is:   boom,
		},
		{
			name: "terms row missing",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(advisoryLockSQL)).WithArgs(int64(7)).
					WillReturnResult(pgxmock.NewResult("SELECT", 1))
				mock.ExpectExec("UPDATE terms").WithArgs(payload).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectRollback()
			},
			want: "terms row 1 not found",
			is:   ErrTermsRowMissing,
		},
		{
			name: "delete fails after update",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(advisoryLockSQL)).WithArgs(int64(7)).
					WillReturnResult(pgxmock.NewResult("SELECT", 1))
				mock.ExpectExec("UPDATE terms").WithArgs(payload).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectExec("DELETE FROM term_regex").WillReturnError(boom)
				mock.ExpectRollback()
			},
			want: "clear term_regex",
			is:   boom,
		},
		{
			name: "commit fails",
			expect: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(advisoryLockSQL)).WithArgs(int64(7)).
					WillReturnResult(pgxmock.NewResult("SELECT", 1))
				mock.ExpectExec("UPDATE terms").WithArgs(payload).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectExec("DELETE FROM term_regex").
					WillReturnResult(pgxmock.NewResult("DELETE", 2))
				mock.ExpectCommit().WillReturnError(boom)
				mock.ExpectRollback()
			},
			want: "commit",
			is:   boom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, mock := newMockStore(t, int64Ptr(7))
			tt.expect(mock)

			_, err := store.ReplaceTerms(context.Background(), payload)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.ErrorIs(t, err, tt.is)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReplaceTermsBeginFails(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	_, err := store.ReplaceTerms(context.Background(), []byte("doc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin transaction")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTermsRollbackErrorIsJoined(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, nil)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE terms").WithArgs([]byte("doc")).WillReturnError(errors.New("update failed"))
	mock.ExpectRollback().WillReturnError(errors.New("connection lost"))

	_, err := store.ReplaceTerms(context.Background(), []byte("doc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update failed")
	assert.Contains(t, err.Error(), "rollback: connection lost")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewTermsStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewTermsStoreWithPool(nil, nil)
	require.Error(t, err)
}

func TestUnconfiguredStore(t *testing.T) {
	t.Parallel()

	var store *TermsStore
	_, err := store.ReplaceTerms(context.Background(), []byte("doc"))
	require.Error(t, err)
	require.NoError(t, store.Close())
}
