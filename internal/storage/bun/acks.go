package bunrepo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
)

// ClientAckRepository persists per-client replay floors. The conditional
// upsert keeps the floor monotonic even when acks arrive out of order.
type ClientAckRepository struct {
	db *bun.DB
}

var _ store.ClientAckRepository = (*ClientAckRepository)(nil)

func NewClientAckRepository(db *bun.DB) *ClientAckRepository {
	return &ClientAckRepository{db: db}
}

func (r *ClientAckRepository) Upsert(ctx context.Context, ack *domain.ClientAck) error {
	if ack.AckedAt.IsZero() {
		ack.AckedAt = time.Now().UTC()
	}
	_, err := r.db.NewInsert().
		Model(ack).
		On("CONFLICT (identity, topic) DO UPDATE").
		Set("sequence = EXCLUDED.sequence, acked_at = EXCLUDED.acked_at").
		Where("EXCLUDED.sequence > client_ack.sequence").
		Exec(ctx)
	return err
}

func (r *ClientAckRepository) Get(ctx context.Context, identity, topic string) (uint64, error) {
	var seq uint64
	err := r.db.NewSelect().
		Model((*domain.ClientAck)(nil)).
		Column("sequence").
		Where("identity = ?", identity).
		Where("topic = ?", topic).
		Scan(ctx, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *ClientAckRepository) LowestOutstanding(ctx context.Context, topic string) (uint64, bool, error) {
	var lowest sql.NullInt64
	err := r.db.NewSelect().
		Model((*domain.ClientAck)(nil)).
		ColumnExpr("MIN(sequence)").
		Where("topic = ?", topic).
		Scan(ctx, &lowest)
	if err != nil {
		return 0, false, err
	}
	if !lowest.Valid {
		return 0, false, nil
	}
	return uint64(lowest.Int64), true, nil
}
