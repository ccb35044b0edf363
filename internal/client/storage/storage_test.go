package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/declaro/internal/client/repositories/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MigratesFileDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Metadata.Set(ctx, "auth/session", []byte(`{"userId":"u1"}`)))
	require.NoError(t, s.Close())

	// reopening is idempotent and keeps data
	s, err = Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	v, err := s.Metadata.Get(ctx, "auth/session")
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":"u1"}`, string(v))
}

func TestInTx_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	err = s.InTx(ctx, func(ctx context.Context, r Repos) error {
		if err := r.Metadata.Set(ctx, "declarations/list", []byte(`[]`)); err != nil {
			return err
		}
		_, err := r.Outbox.Enqueue(ctx, outbox.Entry{Kind: "declaration.create", RecordID: "d1", IdempotencyKey: "d1"})
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(ctx context.Context, r Repos) error {
		require.NoError(t, r.Metadata.Set(ctx, "declarations/list", []byte(`[1]`)))
		_, err := r.Outbox.Enqueue(ctx, outbox.Entry{Kind: "declaration.create", RecordID: "d2"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, err := s.Metadata.Get(ctx, "declarations/list")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(v))

	n, err := s.Outbox.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
