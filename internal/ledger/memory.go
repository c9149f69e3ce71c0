package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps transactions in process memory. It backs the demo mode
// and the tests.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
}

// NewMemoryStore creates an empty in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]*Transaction)}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.ID] = cloneTx(tx)
	return nil
}

// GetByID implements Store.
func (m *MemoryStore) GetByID(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTx(tx), nil
}

// SetProviderRef implements Store.
func (m *MemoryStore) SetProviderRef(_ context.Context, id, providerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return ErrNotFound
	}
	tx.ProviderRef = providerRef
	return nil
}

// MarkTerminal implements Store.
func (m *MemoryStore) MarkTerminal(_ context.Context, id string, status Status, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return false, ErrNotFound
	}
	if tx.Status != StatusPending {
		return false, nil
	}
	tx.Status = status
	tx.FailureReason = reason
	terminal := at
	tx.TerminalAt = &terminal
	return true, nil
}

// ListByAgent implements Store. Results are ordered by creation time
// descending, ties broken by id for a stable order, and capped at limit.
func (m *MemoryStore) ListByAgent(_ context.Context, agentID string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Transaction, 0)
	for _, tx := range m.txs {
		if tx.AgentID == agentID {
			results = append(results, cloneTx(tx))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID > results[j].ID
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListPending implements Store.
func (m *MemoryStore) ListPending(_ context.Context) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Transaction, 0)
	for _, tx := range m.txs {
		if tx.Status == StatusPending {
			results = append(results, cloneTx(tx))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

func cloneTx(tx *Transaction) *Transaction {
	clone := *tx
	if tx.TerminalAt != nil {
		t := *tx.TerminalAt
		clone.TerminalAt = &t
	}
	if tx.Metadata != nil {
		clone.Metadata = make(map[string]string, len(tx.Metadata))
		for k, v := range tx.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

var _ Store = (*MemoryStore)(nil)
