// Package onchain implements the crypto rail: settlement is a pre-signed
// transaction broadcast to an EVM chain, confirmed by its receipt.
package onchain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/agentpay/agentpay/internal/rail"
)

// ChainBackend is the slice of ethclient.Client the adapter uses; tests
// substitute a fake.
type ChainBackend interface {
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Adapter broadcasts caller-signed transfers. The ledger is custodial of
// the accounting only; transaction signing stays with the agent's wallet,
// which supplies the raw transaction in the request metadata.
type Adapter struct {
	backend ChainBackend
}

// New dials the RPC endpoint and returns the crypto rail adapter.
func New(ctx context.Context, rpcURL string) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing rpc endpoint: %w", err)
	}
	return NewWithBackend(client), nil
}

// NewWithBackend builds the adapter over an existing chain backend.
func NewWithBackend(backend ChainBackend) *Adapter {
	return &Adapter{backend: backend}
}

// Initiate implements rail.Adapter. The request metadata must carry the
// RLP-encoded signed transaction hex under "raw_tx". The outcome is always
// pending; block confirmation arrives through Confirm.
func (a *Adapter) Initiate(ctx context.Context, req rail.Request) (rail.Result, error) {
	rawHex := strings.TrimPrefix(req.Metadata["raw_tx"], "0x")
	if rawHex == "" {
		return rail.Result{}, fmt.Errorf("crypto rail requires a signed raw_tx in metadata")
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return rail.Result{}, fmt.Errorf("decoding raw_tx hex: %w", err)
	}

	tx := new(coretypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return rail.Result{}, fmt.Errorf("parsing raw transaction: %w", err)
	}
	if err := a.backend.SendTransaction(ctx, tx); err != nil {
		return rail.Result{}, fmt.Errorf("broadcasting transaction: %w", err)
	}

	return rail.Result{
		ProviderRef: tx.Hash().Hex(),
		Outcome:     rail.OutcomePending,
	}, nil
}

// Confirm implements rail.Adapter. A missing receipt means the transfer is
// still in flight; a mined receipt maps its status to the outcome.
func (a *Adapter) Confirm(ctx context.Context, providerRef string) (rail.Outcome, error) {
	receipt, err := a.backend.TransactionReceipt(ctx, common.HexToHash(providerRef))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return rail.OutcomePending, nil
		}
		return "", fmt.Errorf("fetching receipt: %w", err)
	}
	if receipt == nil || receipt.BlockNumber == nil || receipt.BlockNumber.Cmp(big.NewInt(0)) < 0 {
		return rail.OutcomePending, nil
	}
	if receipt.Status == coretypes.ReceiptStatusSuccessful {
		return rail.OutcomeCompleted, nil
	}
	return rail.OutcomeFailed, nil
}

var _ rail.Adapter = (*Adapter)(nil)
