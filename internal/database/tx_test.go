package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertDealer(ctx context.Context, conn DBTX, code string) error {
	now := time.Now().UTC()
	_, err := conn.ExecContext(ctx,
		`INSERT INTO dealers (code, name, status, created_at, updated_at) VALUES (?, ?, 'active', ?, ?)`,
		code, code, now, now)
	return err
}

func countDealers(t *testing.T, ctx context.Context, conn DBTX) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM dealers`).Scan(&n))
	return n
}

func TestWithinTx_CommitRunsHooks(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	txm := NewTxManager(db)

	hookRan := false
	err := txm.WithinTx(ctx, func(ctx context.Context) error {
		assert.True(t, InTx(ctx))
		AfterCommit(ctx, func() { hookRan = true })
		require.NoError(t, insertDealer(ctx, Conn(ctx, db), "D001"))
		assert.False(t, hookRan, "hook must wait for commit")
		return nil
	})

	require.NoError(t, err)
	assert.True(t, hookRan)
	assert.Equal(t, 1, countDealers(t, ctx, db))
}

func TestWithinTx_RollbackDropsWritesAndHooks(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	txm := NewTxManager(db)
	boom := errors.New("boom")

	hookRan := false
	err := txm.WithinTx(ctx, func(ctx context.Context) error {
		AfterCommit(ctx, func() { hookRan = true })
		require.NoError(t, insertDealer(ctx, Conn(ctx, db), "D001"))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, hookRan)
	assert.Equal(t, 0, countDealers(t, ctx, db))
}

func TestWithinTx_NestedJoinsOuter(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	txm := NewTxManager(db)

	err := txm.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, insertDealer(ctx, Conn(ctx, db), "D001"))
		inner := txm.WithinTx(ctx, func(ctx context.Context) error {
			return insertDealer(ctx, Conn(ctx, db), "D002")
		})
		require.NoError(t, inner)
		return errors.New("outer fails")
	})

	require.Error(t, err)
	assert.Equal(t, 0, countDealers(t, ctx, db), "inner writes roll back with the outer transaction")
}

func TestAfterCommit_OutsideTxRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	assert.True(t, ran)
}
