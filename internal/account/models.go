package account

import "time"

// Agent represents a registered agent with a custodial wallet.
type Agent struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	WalletAddress string            `json:"wallet_address"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// RegisterInput holds the fields required to register a new agent.
type RegisterInput struct {
	Name          string            `json:"name"`
	WalletAddress string            `json:"wallet_address"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
