package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Registry owns agent accounts: registration and lookup by id. Accounts are
// never deleted; the wallet address is immutable once set.
type Registry struct {
	store Store
	now   func() time.Time // injectable clock for testing
}

// NewRegistry creates a Registry backed by the given store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store: store,
		now:   time.Now,
	}
}

// Register creates a new agent account with a freshly generated id. It fails
// with ErrValidation when name or wallet address is empty and with
// ErrDuplicateWallet when the wallet address is already registered.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*Agent, error) {
	name := strings.TrimSpace(in.Name)
	wallet := strings.TrimSpace(in.WalletAddress)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if wallet == "" {
		return nil, fmt.Errorf("%w: wallet_address is required", ErrValidation)
	}

	if _, err := r.store.GetByWallet(ctx, wallet); err == nil {
		return nil, ErrDuplicateWallet
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("checking wallet address: %w", err)
	}

	a := &Agent{
		ID:            uuid.NewString(),
		Name:          name,
		WalletAddress: wallet,
		Metadata:      in.Metadata,
		CreatedAt:     r.now().UTC(),
	}
	if err := r.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	return a, nil
}

// Get returns the agent with the given id.
func (r *Registry) Get(ctx context.Context, id string) (*Agent, error) {
	return r.store.GetByID(ctx, id)
}
