package card

import "time"

// Status is the lifecycle state of a virtual card. Transitions are
// one-directional: active -> frozen -> cancelled; cancelled is terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusFrozen    Status = "frozen"
	StatusCancelled Status = "cancelled"
)

// Card represents a virtual card bound to a single agent. Spent never
// exceeds SpendLimit while the card is active.
type Card struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Last4      string    `json:"last4"`
	Expiry     string    `json:"expiry"`
	Status     Status    `json:"status"`
	SpendLimit float64   `json:"spend_limit"`
	Spent      float64   `json:"spent"`
	CreatedAt  time.Time `json:"created_at"`
}

// Available returns the remaining headroom under the spend limit.
func (c *Card) Available() float64 {
	return c.SpendLimit - c.Spent
}

// Reservation is a provisional hold against a card's spend limit. It is
// committed once settlement succeeds or released to restore headroom.
type Reservation struct {
	CardID  string
	AgentID string
	Amount  float64
}
