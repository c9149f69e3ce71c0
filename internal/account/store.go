package account

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the requested agent does not exist.
	ErrNotFound = errors.New("agent not found")
	// ErrDuplicateWallet indicates the wallet address is already registered.
	ErrDuplicateWallet = errors.New("wallet address already registered")
	// ErrValidation indicates malformed or missing registration input.
	ErrValidation = errors.New("invalid agent input")
)

// Store abstracts persistence of agent accounts. Implementations must
// return ErrNotFound for unknown ids and ErrDuplicateWallet when inserting
// an already-registered wallet address.
type Store interface {
	Create(ctx context.Context, a *Agent) error
	GetByID(ctx context.Context, id string) (*Agent, error)
	GetByWallet(ctx context.Context, walletAddress string) (*Agent, error)
}
