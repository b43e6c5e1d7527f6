package provider

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthClient adapts an RPC connection to the Provider capability.
type EthClient struct {
	c *ethclient.Client
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(rawurl string) (*EthClient, error) {
	c, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, err
	}
	return &EthClient{c: c}, nil
}

func (e *EthClient) Close() {
	e.c.Close()
}

func (e *EthClient) GetBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return e.c.BalanceAt(ctx, addr, nil)
}

func (e *EthClient) GetChainID(ctx context.Context) (*big.Int, error) {
	return e.c.ChainID(ctx)
}

func (e *EthClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	header, err := e.c.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	return header.Number.Uint64(), nil
}

func (e *EthClient) EstimateGas(ctx context.Context, req CallRequest) (uint64, error) {
	return e.c.EstimateGas(ctx, ethereum.CallMsg{
		From:  req.From,
		To:    &req.To,
		Value: req.Value,
		Data:  req.Data,
	})
}
