package balance

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// erc20ABI covers the two view functions the oracle needs.
const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"decimals","type":"function","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// ContractCaller is the slice of ethclient.Client the oracle uses; tests
// substitute a fake.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ERC20Oracle reads token balances straight from an ERC-20 contract over
// JSON-RPC.
type ERC20Oracle struct {
	caller ContractCaller
	token  common.Address
	parsed abi.ABI

	mu       sync.Mutex
	decimals uint8
	resolved bool
}

// NewERC20Oracle dials the RPC endpoint and binds the oracle to the given
// token contract address.
func NewERC20Oracle(ctx context.Context, rpcURL, tokenAddress string) (*ERC20Oracle, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing rpc endpoint: %w", err)
	}
	return NewERC20OracleWithCaller(client, tokenAddress)
}

// NewERC20OracleWithCaller builds the oracle over an existing contract
// caller.
func NewERC20OracleWithCaller(caller ContractCaller, tokenAddress string) (*ERC20Oracle, error) {
	if !common.IsHexAddress(tokenAddress) {
		return nil, fmt.Errorf("invalid token contract address %q", tokenAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parsing erc20 abi: %w", err)
	}
	return &ERC20Oracle{
		caller: caller,
		token:  common.HexToAddress(tokenAddress),
		parsed: parsed,
	}, nil
}

// Balance implements Oracle.
func (o *ERC20Oracle) Balance(ctx context.Context, walletAddress string) (Balance, error) {
	if !common.IsHexAddress(walletAddress) {
		return Balance{}, fmt.Errorf("%w: invalid wallet address %q", ErrProvider, walletAddress)
	}

	decimals, err := o.tokenDecimals(ctx)
	if err != nil {
		return Balance{}, err
	}

	data, err := o.parsed.Pack("balanceOf", common.HexToAddress(walletAddress))
	if err != nil {
		return Balance{}, fmt.Errorf("%w: packing balanceOf: %v", ErrProvider, err)
	}
	out, err := o.caller.CallContract(ctx, ethereum.CallMsg{To: &o.token, Data: data}, nil)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	vals, err := o.parsed.Unpack("balanceOf", out)
	if err != nil || len(vals) != 1 {
		return Balance{}, fmt.Errorf("%w: unpacking balanceOf result", ErrProvider)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return Balance{}, fmt.Errorf("%w: unexpected balanceOf result type", ErrProvider)
	}

	return Balance{
		Raw:       raw,
		Decimals:  decimals,
		Formatted: FormatUnits(raw, decimals),
	}, nil
}

// tokenDecimals fetches and caches the token's decimals.
func (o *ERC20Oracle) tokenDecimals(ctx context.Context) (uint8, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.resolved {
		return o.decimals, nil
	}

	data, err := o.parsed.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("%w: packing decimals: %v", ErrProvider, err)
	}
	out, err := o.caller.CallContract(ctx, ethereum.CallMsg{To: &o.token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	vals, err := o.parsed.Unpack("decimals", out)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("%w: unpacking decimals result", ErrProvider)
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected decimals result type", ErrProvider)
	}

	o.decimals = d
	o.resolved = true
	return d, nil
}

var _ Oracle = (*ERC20Oracle)(nil)
