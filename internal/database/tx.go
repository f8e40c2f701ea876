package database

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX 是 *sql.DB 与 *sql.Tx 的公共子集，仓储通过它执行语句
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

type txState struct {
	tx          *sql.Tx
	afterCommit []func()
}

// Conn 若 ctx 携带事务则返回事务，否则返回 db
func Conn(ctx context.Context, db *sql.DB) DBTX {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		return st.tx
	}
	return db
}

// InTx 判断 ctx 是否处于事务中
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*txState)
	return ok
}

// AfterCommit 注册在最外层事务提交成功后执行的回调；不在事务中则立即执行。
// 回滚时回调被丢弃。
func AfterCommit(ctx context.Context, fn func()) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		st.afterCommit = append(st.afterCommit, fn)
		return
	}
	fn()
}

// TxManager 开启并管理事务
type TxManager struct {
	db *sql.DB
}

// NewTxManager 创建事务管理器
func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTx 在事务中执行 fn。ctx 已处于事务时直接加入外层事务，
// 由最外层负责提交或回滚。
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTx(ctx) {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	st := &txState{tx: tx}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, hook := range st.afterCommit {
		hook()
	}
	return nil
}
