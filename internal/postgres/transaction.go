package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eka-ai/billing/internal/types"
)

type txKey struct{}

// GetTx returns the transaction stored in the context, if any
func GetTx(ctx context.Context) (*sqlxTx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sqlxTx)
	return tx, ok
}

// WithTx runs fn inside a transaction. The transaction travels in the
// context, so repository calls inside fn that go through GetQuerier share
// it. A nested WithTx joins the outer transaction instead of opening a new
// one; its error still rolls the whole transaction back.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := GetTx(ctx); ok {
		return fn(ctx)
	}

	raw, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	tx := &sqlxTx{Tx: raw, id: types.GenerateUUID()}
	ctx = context.WithValue(ctx, txKey{}, tx)
	db.logger.Debugw("transaction started", "tx_id", tx.id)

	defer func() {
		if r := recover(); r != nil {
			db.logger.Errorw("panic inside transaction", "tx_id", tx.id, "panic", r)
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Errorw("transaction rollback failed", "tx_id", tx.id, "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	db.logger.Debugw("transaction committed", "tx_id", tx.id)
	return nil
}
