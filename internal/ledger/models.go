package ledger

import (
	"errors"
	"time"

	"github.com/agentpay/agentpay/internal/rail"
)

// Kind distinguishes the direction of a transaction.
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindSpend    Kind = "spend"
	KindTransfer Kind = "transfer"
)

// Status is the state of a transaction. Transitions are monotonic:
// pending -> completed | failed, and terminal states are immutable.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrNotFound indicates the requested transaction does not exist.
	ErrNotFound = errors.New("transaction not found")
	// ErrValidation indicates malformed spend/deposit/transfer input.
	ErrValidation = errors.New("invalid transaction input")
	// ErrInvalidState indicates an illegal state transition was attempted.
	ErrInvalidState = errors.New("invalid transaction state transition")
)

// Transaction is an auditable record of a single movement of value. Amount
// is fixed at creation; the status is mutated exactly once, when the
// settlement outcome is observed. Records are never deleted.
type Transaction struct {
	ID            string            `json:"id"`
	AgentID       string            `json:"agent_id"`
	Kind          Kind              `json:"kind"`
	Amount        float64           `json:"amount"`
	Rail          rail.Rail         `json:"rail"`
	Status        Status            `json:"status"`
	Merchant      string            `json:"merchant,omitempty"`
	Description   string            `json:"description,omitempty"`
	CardID        string            `json:"card_id,omitempty"`
	ProviderRef   string            `json:"provider_ref,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	TerminalAt    *time.Time        `json:"terminal_at,omitempty"`
}
