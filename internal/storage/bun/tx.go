package bunrepo

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
)

// TransactionManager runs callbacks inside a bun transaction.
type TransactionManager struct {
	db *bun.DB
}

var _ store.TransactionManager = (*TransactionManager)(nil)

func NewTransactionManager(db *bun.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

func (m *TransactionManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return m.db.RunInTx(ctx, nil, func(txCtx context.Context, _ bun.Tx) error {
		return fn(txCtx)
	})
}
