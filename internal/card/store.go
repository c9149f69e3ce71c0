package card

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the requested card does not exist.
	ErrNotFound = errors.New("card not found")
	// ErrNoActiveCard indicates the agent has no card in active status.
	ErrNoActiveCard = errors.New("no active card for agent")
	// ErrInsufficientLimit indicates a reservation would exceed the spend limit.
	ErrInsufficientLimit = errors.New("insufficient card limit")
	// ErrInvalidState indicates an illegal status transition was attempted.
	ErrInvalidState = errors.New("invalid card state transition")
	// ErrValidation indicates malformed card input.
	ErrValidation = errors.New("invalid card input")
)

// Store abstracts persistence of virtual cards. AddSpent must be atomic:
// the headroom check and the adjustment happen as one operation, and a
// positive delta that would push spent past the limit of an active card
// fails with ErrInsufficientLimit without any change.
type Store interface {
	Create(ctx context.Context, c *Card) error
	GetByID(ctx context.Context, id string) (*Card, error)
	ActiveByAgent(ctx context.Context, agentID string) (*Card, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	AddSpent(ctx context.Context, id string, delta float64) error
}
