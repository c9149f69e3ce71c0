package ledger

import (
	"context"
	"time"
)

// Store abstracts persistence of transactions. MarkTerminal is a
// compare-and-set against the pending status: it reports whether the
// transition was applied, and an already-terminal record is left untouched.
// That single primitive is what makes duplicate terminal deliveries safe.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByID(ctx context.Context, id string) (*Transaction, error)
	SetProviderRef(ctx context.Context, id, providerRef string) error
	MarkTerminal(ctx context.Context, id string, status Status, reason string, at time.Time) (bool, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*Transaction, error)
	ListPending(ctx context.Context) ([]*Transaction, error)
}
