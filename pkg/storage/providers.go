package storage

import (
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	bunrepo "github.com/nhtrieuvy/PlanPalApp-sub002/internal/storage/bun"
	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/storage/memory"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/store"
)

// Providers exposes all repositories needed by the engine services.
type Providers struct {
	Events      store.EventRepository
	Jobs        store.DeliveryJobRepository
	DeadLetters store.DeadLetterRepository
	Acks        store.ClientAckRepository
	Transaction store.TransactionManager
}

// NewMemoryProviders returns repositories backed by in-memory maps.
func NewMemoryProviders() Providers {
	return Providers{
		Events:      memory.NewEventRepository(),
		Jobs:        memory.NewDeliveryJobRepository(),
		DeadLetters: memory.NewDeadLetterRepository(),
		Acks:        memory.NewClientAckRepository(),
		Transaction: &store.NopTransactionManager{},
	}
}

// NewBunProviders wires Bun-backed repositories using go-repository-bun.
// The caller owns the *bun.DB instance and its lifecycle.
func NewBunProviders(db *bun.DB) Providers {
	if db == nil {
		panic("storage: bun DB is required")
	}

	// Register models so go-persistence-bun migrations can pick them up.
	persistence.RegisterModel(
		(*domain.Event)(nil),
		(*domain.TopicSequence)(nil),
		(*domain.DeliveryJob)(nil),
		(*domain.DeadLetter)(nil),
		(*domain.ClientAck)(nil),
	)

	return Providers{
		Events:      bunrepo.NewEventRepository(db),
		Jobs:        bunrepo.NewDeliveryJobRepository(db),
		DeadLetters: bunrepo.NewDeadLetterRepository(db),
		Acks:        bunrepo.NewClientAckRepository(db),
		Transaction: bunrepo.NewTransactionManager(db),
	}
}
