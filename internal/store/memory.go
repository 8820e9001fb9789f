package store

import (
	"context"
	"fmt"
	"sync"

	"partyledger/internal/currency"
	"partyledger/internal/inventory"
	"partyledger/internal/models"
)

// MemoryStore keeps all shared state in process behind one mutex. It is
// the default backend for single-node play and the store the tests run
// against.
type MemoryStore struct {
	mu         sync.Mutex
	ledgers    map[string]currency.Ledger
	stacks     map[string][]inventory.Stack
	containers map[string]*models.Container
	auth       map[string]memoryAuth
}

type memoryAuth struct {
	participant models.Participant
	hash        string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledgers:    make(map[string]currency.Ledger),
		stacks:     make(map[string][]inventory.Stack),
		containers: make(map[string]*models.Container),
		auth:       make(map[string]memoryAuth),
	}
}

func (s *MemoryStore) PutLedger(holderID string, l currency.Ledger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers[holderID] = l.Normalize()
}

func (s *MemoryStore) PutStacks(holderID string, stacks []inventory.Stack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stacks[holderID] = append([]inventory.Stack(nil), stacks...)
}

func (s *MemoryStore) PutContainer(c *models.Container) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers[c.ID] = c
}

func (s *MemoryStore) PutParticipant(p models.Participant, passwordHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth[p.Name] = memoryAuth{participant: p, hash: passwordHash}
}

func (s *MemoryStore) ReadLedger(ctx context.Context, holderID string) (currency.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledgers[holderID]
	if !ok {
		return currency.New(), nil
	}
	return l.Normalize(), nil
}

func (s *MemoryStore) WriteLedger(ctx context.Context, holderID string, l currency.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers[holderID] = l.Normalize()
	return nil
}

func (s *MemoryStore) ReadInventory(ctx context.Context, holderID string) ([]inventory.Stack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Stack(nil), s.stacks[holderID]...), nil
}

func (s *MemoryStore) ApplyInventoryOps(ctx context.Context, holderID string, plan inventory.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stacks := s.stacks[holderID]

	for _, id := range plan.Deletes {
		for i := range stacks {
			if stacks[i].ID == id {
				stacks = append(stacks[:i], stacks[i+1:]...)
				break
			}
		}
	}
	for _, u := range plan.Updates {
		for i := range stacks {
			if stacks[i].ID == u.ID {
				stacks[i].Quantity = u.Quantity
				break
			}
		}
	}
	for _, st := range plan.Creates {
		merged := false
		for i := range stacks {
			if stacks[i].Name == st.Name {
				stacks[i].Quantity += st.Quantity
				merged = true
				break
			}
		}
		if !merged {
			stacks = append(stacks, st)
		}
	}

	s.stacks[holderID] = stacks
	return nil
}

func (s *MemoryStore) Container(ctx context.Context, containerID string) (*models.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[containerID]
	if !ok {
		return nil, fmt.Errorf("container %q: %w", containerID, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) ParticipantAuth(ctx context.Context, username string) (models.Participant, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auth[username]
	if !ok {
		return models.Participant{}, "", fmt.Errorf("participant %q: %w", username, ErrNotFound)
	}
	return a.participant, a.hash, nil
}
