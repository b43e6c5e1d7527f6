// Package provider declares the blockchain provider capability consumed by
// the account management core. The concrete transport is injected by the
// embedding application; this package only fixes the call surface.
package provider

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallRequest is the input for gas estimation.
type CallRequest struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Provider is the minimal read capability the core depends on. All methods
// are blocking until the context is cancelled or the round trip completes;
// any returned error is treated as a transient network failure by callers.
type Provider interface {
	GetBalance(ctx context.Context, addr common.Address) (*big.Int, error)

	GetChainID(ctx context.Context) (*big.Int, error)

	GetBlockNumber(ctx context.Context) (uint64, error)

	EstimateGas(ctx context.Context, req CallRequest) (uint64, error)
}

// BalanceBatcher is an optional capability: providers that can resolve many
// balances in a single round trip implement it in addition to Provider.
// The batch processor detects it and issues chunked multi-address calls.
type BalanceBatcher interface {
	GetBalances(ctx context.Context, addrs []common.Address) (map[common.Address]*big.Int, error)
}
