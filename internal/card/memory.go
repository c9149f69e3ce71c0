package card

import (
	"context"
	"sync"
)

// MemoryStore keeps virtual cards in process memory, guarded by a single
// mutex so AddSpent's check-and-adjust is atomic.
type MemoryStore struct {
	mu    sync.RWMutex
	cards map[string]*Card
}

// NewMemoryStore creates an empty in-memory card store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cards: make(map[string]*Card)}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, c *Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *c
	m.cards[c.ID] = &clone
	return nil
}

// GetByID implements Store.
func (m *MemoryStore) GetByID(_ context.Context, id string) (*Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *c
	return &clone, nil
}

// ActiveByAgent implements Store.
func (m *MemoryStore) ActiveByAgent(_ context.Context, agentID string) (*Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.cards {
		if c.AgentID == agentID && c.Status == StatusActive {
			clone := *c
			return &clone, nil
		}
	}
	return nil, ErrNoActiveCard
}

// UpdateStatus implements Store.
func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	return nil
}

// AddSpent implements Store.
func (m *MemoryStore) AddSpent(_ context.Context, id string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return ErrNotFound
	}
	next := c.Spent + delta
	if delta > 0 && (c.Status != StatusActive || next > c.SpendLimit) {
		return ErrInsufficientLimit
	}
	if next < 0 {
		next = 0
	}
	c.Spent = next
	return nil
}

var _ Store = (*MemoryStore)(nil)
