package store

import (
	"context"
	"errors"
	"sync"

	"partyledger/internal/currency"
	"partyledger/internal/inventory"
	"partyledger/internal/models"
)

var ErrNotFound = errors.New("not found")

// ContainerLocks hands out one mutex per container. Every path that
// mutates a container's inventory or ledger must hold that container's
// lock across its read-plan-write sequence, so all such paths share one
// registry.
type ContainerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewContainerLocks() *ContainerLocks {
	return &ContainerLocks{locks: make(map[string]*sync.Mutex)}
}

func (c *ContainerLocks) For(containerID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[containerID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[containerID] = lock
	}
	return lock
}

// Store is the persistence boundary for ledgers and inventories. Holder
// ids cover both containers and player actors. Ledgers are persisted as
// whole-unit amounts; callers smooth before writing.
type Store interface {
	ReadLedger(ctx context.Context, holderID string) (currency.Ledger, error)
	WriteLedger(ctx context.Context, holderID string, l currency.Ledger) error
	ReadInventory(ctx context.Context, holderID string) ([]inventory.Stack, error)
	ApplyInventoryOps(ctx context.Context, holderID string, plan inventory.Plan) error
	Container(ctx context.Context, containerID string) (*models.Container, error)
}

// AuthStore resolves participant credentials for token issuing.
type AuthStore interface {
	ParticipantAuth(ctx context.Context, username string) (models.Participant, string, error)
}
