package rail

import (
	"context"
	"errors"
)

// Rail identifies a settlement channel.
type Rail string

const (
	Crypto   Rail = "crypto"
	Card     Rail = "card"
	GiftCard Rail = "giftcard"
	Bank     Rail = "bank"
	Other    Rail = "other"
)

// Valid reports whether r is one of the fixed set of supported rails.
func (r Rail) Valid() bool {
	switch r {
	case Crypto, Card, GiftCard, Bank, Other:
		return true
	default:
		return false
	}
}

// Outcome is a settlement result as reported by a rail.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Terminal reports whether the outcome is final.
func (o Outcome) Terminal() bool {
	return o == OutcomeCompleted || o == OutcomeFailed
}

var (
	// ErrUnsupportedRail indicates no adapter is bound to the requested rail.
	ErrUnsupportedRail = errors.New("unsupported rail")
	// ErrConfirmUnsupported indicates the rail settles synchronously and has
	// no confirmation endpoint.
	ErrConfirmUnsupported = errors.New("rail does not support confirmation")
)

// Request carries the settlement parameters handed to an adapter.
type Request struct {
	TransactionID string
	AgentID       string
	Amount        float64
	Merchant      string
	Description   string
	Metadata      map[string]string
}

// Result is what an adapter reports back from initiation. ProviderRef is an
// opaque reference into the provider's system; for pending outcomes it is
// the handle later confirmation uses.
type Result struct {
	ProviderRef string
	Outcome     Outcome
	Reason      string
}

// Adapter is the narrow contract a settlement provider integration must
// satisfy. Confirm may return ErrConfirmUnsupported for synchronous rails.
type Adapter interface {
	Initiate(ctx context.Context, req Request) (Result, error)
	Confirm(ctx context.Context, providerRef string) (Outcome, error)
}
