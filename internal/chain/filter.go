package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BoundFilter binds a client to one contract address and event signature, so
// callers can query ranges without re-stating the filter.
type BoundFilter struct {
	Client  *Client
	Address common.Address
	Topic0  common.Hash
}

// FilterLogs returns the bound contract's matching logs in [fromBlock, toBlock].
func (f BoundFilter) FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	return f.Client.FilterLogs(ctx, fromBlock, toBlock,
		[]common.Address{f.Address}, []common.Hash{f.Topic0})
}
