package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record cannot be located.
var ErrNotFound = errors.New("store: not found")

// ListOptions capture pagination and filtering knobs common to repositories.
type ListOptions struct {
	Limit              int
	Offset             int
	Since              time.Time
	Until              time.Time
	IncludeSoftDeleted bool
}

// ListResult bundles records and totals.
type ListResult[T any] struct {
	Items []T
	Total int
}

// TransactionManager coordinates repository work inside a single transaction.
type TransactionManager interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// NopTransactionManager executes callbacks immediately without persistence.
type NopTransactionManager struct{}

var _ TransactionManager = (*NopTransactionManager)(nil)

func (n *NopTransactionManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}
