package testutil

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// FakeTx satisfies pgx.Tx for service-level tests that only care about
// commit/rollback bookkeeping. Query methods panic unless a delegate is
// set: fakes at the repository layer are expected to intercept calls
// before any SQL is issued.
type FakeTx struct {
	CommitErr error

	// Optional delegates for code that queries through the transaction
	// handle directly (e.g. the dedup checkpoint repository).
	QueryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	ExecFunc     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)

	Committed  bool
	RolledBack bool
}

func (tx *FakeTx) Commit(ctx context.Context) error {
	if tx.CommitErr != nil {
		return tx.CommitErr
	}
	if tx.RolledBack {
		return errors.New("commit after rollback")
	}
	tx.Committed = true
	return nil
}

func (tx *FakeTx) Rollback(ctx context.Context) error {
	if !tx.Committed {
		tx.RolledBack = true
	}
	return nil
}

func (tx *FakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions not supported by FakeTx")
}

func (tx *FakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (tx *FakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (tx *FakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (tx *FakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (tx *FakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if tx.ExecFunc != nil {
		return tx.ExecFunc(ctx, sql, arguments...)
	}
	panic("not implemented")
}

func (tx *FakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (tx *FakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx.QueryRowFunc != nil {
		return tx.QueryRowFunc(ctx, sql, args...)
	}
	panic("not implemented")
}

func (tx *FakeTx) Conn() *pgx.Conn {
	return nil
}
