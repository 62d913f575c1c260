package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"rewardscope/internal/chain"
)

// PoolTokens is the pool's reported asset ordering.
type PoolTokens struct {
	Token0 common.Address
	Token1 common.Address
}

// FetchPoolTokens reads token0/token1 from the pool contract.
func FetchPoolTokens(ctx context.Context, chainClient *chain.Client, pool common.Address) (PoolTokens, error) {
	if chainClient == nil {
		return PoolTokens{}, fmt.Errorf("chain client is nil")
	}

	poolABI, err := V3PoolABI()
	if err != nil {
		return PoolTokens{}, fmt.Errorf("parse pool abi: %w", err)
	}

	values, err := callPoolMethod(ctx, chainClient, pool, poolABI, "token0")
	if err != nil {
		return PoolTokens{}, err
	}
	token0, err := asAddress(values[0])
	if err != nil {
		return PoolTokens{}, fmt.Errorf("token0: %w", err)
	}

	values, err = callPoolMethod(ctx, chainClient, pool, poolABI, "token1")
	if err != nil {
		return PoolTokens{}, err
	}
	token1, err := asAddress(values[0])
	if err != nil {
		return PoolTokens{}, fmt.Errorf("token1: %w", err)
	}

	return PoolTokens{Token0: token0, Token1: token1}, nil
}

// ResolveTrackedSide reports whether the tracked token is the pool's token0.
// A token that is neither pool asset is a configuration error.
func (p PoolTokens) ResolveTrackedSide(tracked common.Address) (bool, error) {
	switch tracked {
	case p.Token0:
		return true, nil
	case p.Token1:
		return false, nil
	default:
		return false, fmt.Errorf("tracked token %s is neither pool token0 %s nor token1 %s",
			tracked.Hex(), p.Token0.Hex(), p.Token1.Hex())
	}
}

func callPoolMethod(ctx context.Context, chainClient *chain.Client, pool common.Address, poolABI abi.ABI, method string) ([]interface{}, error) {
	data, err := poolABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &pool, Data: data}
	resp, err := chainClient.CallContract(ctx, msg, (*big.Int)(nil))
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := poolABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty response for %s", method)
	}
	return values, nil
}
