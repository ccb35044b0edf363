package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/declaro/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/declaro/internal/client/storage"
	"github.com/dmitrijs2005/declaro/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) outbox.Repository {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s.Outbox
}

func TestSQLiteRepository_FIFOByKind(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	at := time.Date(2026, 5, 1, 10, 0, 0, 123000000, time.UTC)

	for _, e := range []outbox.Entry{
		{Kind: "declaration.create", RecordID: "d1", IdempotencyKey: "d1", Payload: []byte(`{"n":1}`), CreatedAt: at},
		{Kind: "log.create", RecordID: "l1", IdempotencyKey: "l1"},
		{Kind: "tip.create", RecordID: "d1", IdempotencyKey: "t1"},
		{Kind: "declaration.create", RecordID: "d2", IdempotencyKey: "d2"},
	} {
		_, err := r.Enqueue(ctx, e)
		require.NoError(t, err)
	}

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Seq, all[i].Seq)
	}
	assert.True(t, at.Equal(all[0].CreatedAt))
	assert.Equal(t, []byte(`{"n":1}`), all[0].Payload)

	decl, err := r.List(ctx, "declaration.create", "tip.create")
	require.NoError(t, err)
	require.Len(t, decl, 3)
	assert.Equal(t, []string{"d1", "d1", "d2"}, []string{decl[0].RecordID, decl[1].RecordID, decl[2].RecordID})

	n, err := r.Count(ctx, "log.create")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteRepository_MarkFailedAndDelete(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	seq, err := r.Enqueue(ctx, outbox.Entry{Kind: "message.create", RecordID: "d1"})
	require.NoError(t, err)

	attempts, err := r.MarkFailed(ctx, seq, "timeout")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	attempts, err = r.MarkFailed(ctx, seq, "HTTP 503")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "HTTP 503", list[0].LastError)

	require.NoError(t, r.Delete(ctx, seq))
	_, err = r.MarkFailed(ctx, seq, "x")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSQLiteRepository_RetargetAndClear(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	for _, k := range []string{"declaration.status", "tip.create"} {
		_, err := r.Enqueue(ctx, outbox.Entry{Kind: k, RecordID: "tmp-1"})
		require.NoError(t, err)
	}
	_, err := r.Enqueue(ctx, outbox.Entry{Kind: "log.create", RecordID: "l1"})
	require.NoError(t, err)

	require.NoError(t, r.Retarget(ctx, "tmp-1", "srv-9"))
	list, err := r.List(ctx, "declaration.status", "tip.create")
	require.NoError(t, err)
	for _, e := range list {
		assert.Equal(t, "srv-9", e.RecordID)
	}

	require.NoError(t, r.Clear(ctx, "log.create"))
	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, r.Clear(ctx))
	n, err = r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
