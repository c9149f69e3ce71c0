// Package balance exposes the read-only on-chain balance lookup the ledger
// delegates to. The oracle is an external collaborator: failures surface as
// ErrProvider and degrade the balance response, never the ledger itself.
package balance

import (
	"context"
	"errors"
	"math/big"
	"strings"
)

// ErrProvider indicates the balance provider (RPC node or token contract)
// failed to answer.
var ErrProvider = errors.New("balance provider error")

// Balance is a token balance in raw contract units plus a decimal rendering.
type Balance struct {
	Raw       *big.Int `json:"raw"`
	Decimals  uint8    `json:"decimals"`
	Formatted string   `json:"formatted"`
}

// Oracle answers balance queries for a wallet address.
type Oracle interface {
	Balance(ctx context.Context, walletAddress string) (Balance, error)
}

// FormatUnits renders a raw token amount with the given number of decimals,
// trimming trailing zeros ("1500000" with 6 decimals becomes "1.5").
func FormatUnits(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	s := raw.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	d := int(decimals)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	whole := s[:len(s)-d]
	frac := ""
	if d > 0 {
		frac = strings.TrimRight(s[len(s)-d:], "0")
	}
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}
