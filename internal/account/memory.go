package account

import (
	"context"
	"sync"
)

// MemoryStore keeps agent accounts in process memory. It backs the demo mode
// (no database configured) and the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Agent
	byWallet map[string]string
}

// NewMemoryStore creates an empty in-memory agent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Agent),
		byWallet: make(map[string]string),
	}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byWallet[a.WalletAddress]; ok {
		return ErrDuplicateWallet
	}
	m.byID[a.ID] = cloneAgent(a)
	m.byWallet[a.WalletAddress] = a.ID
	return nil
}

// GetByID implements Store.
func (m *MemoryStore) GetByID(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(a), nil
}

// GetByWallet implements Store.
func (m *MemoryStore) GetByWallet(_ context.Context, walletAddress string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byWallet[walletAddress]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(m.byID[id]), nil
}

func cloneAgent(a *Agent) *Agent {
	clone := *a
	if a.Metadata != nil {
		clone.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

var _ Store = (*MemoryStore)(nil)
