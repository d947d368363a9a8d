package account

import (
	"context"
	"strings"
	"sync"

	"github.com/fixpoint/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory Store implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	byID    map[ledger.AccountID]Account
	byEmail map[string]ledger.AccountID
}

func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[ledger.AccountID]Account),
		byEmail: make(map[string]ledger.AccountID),
	}
}

func (m *Memory) FindByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	a := m.byID[id]
	return &a, nil
}

func (m *Memory) Create(_ context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(a.Email)
	if _, exists := m.byEmail[key]; exists {
		return ErrEmailTaken
	}
	m.byEmail[key] = a.ID
	m.byID[a.ID] = a
	return nil
}

func (m *Memory) Get(_ context.Context, id ledger.AccountID) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}
