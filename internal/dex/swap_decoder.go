package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"rewardscope/internal/model"
)

// SwapDecoder decodes V3 pool Swap events into SwapRecords.
type SwapDecoder struct {
	event abi.Event
}

// NewSwapDecoder builds a decoder for the pool Swap event.
func NewSwapDecoder() (*SwapDecoder, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, err
	}
	return &SwapDecoder{event: poolABI.Events["Swap"]}, nil
}

// Topic0 returns the Swap event signature hash.
func (d *SwapDecoder) Topic0() common.Hash {
	return d.event.ID
}

// CanDecode checks whether the log carries a Swap event.
func (d *SwapDecoder) CanDecode(log types.Log) bool {
	return len(log.Topics) > 0 && log.Topics[0] == d.event.ID
}

// Decode converts a raw Swap log into a SwapRecord. Addresses are
// case-normalized to lowercase hex, matching the wallet ledger keys.
func (d *SwapDecoder) Decode(log types.Log) (model.SwapRecord, error) {
	if !d.CanDecode(log) {
		return model.SwapRecord{}, fmt.Errorf("not a swap log: %s", topic0Hex(log))
	}

	var indexed struct {
		Sender    common.Address
		Recipient common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(d.event.Inputs), log.Topics[1:]); err != nil {
		return model.SwapRecord{}, fmt.Errorf("parse topics: %w", err)
	}

	values, err := d.event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.SwapRecord{}, fmt.Errorf("unpack swap: %w", err)
	}
	if len(values) != 5 {
		return model.SwapRecord{}, fmt.Errorf("unexpected swap values: %d", len(values))
	}

	amount0, err := asBigInt(values[0])
	if err != nil {
		return model.SwapRecord{}, err
	}
	amount1, err := asBigInt(values[1])
	if err != nil {
		return model.SwapRecord{}, err
	}
	sqrtPrice, err := asBigInt(values[2])
	if err != nil {
		return model.SwapRecord{}, err
	}
	liquidity, err := asBigInt(values[3])
	if err != nil {
		return model.SwapRecord{}, err
	}
	tickInt, err := asBigInt(values[4])
	if err != nil {
		return model.SwapRecord{}, err
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return model.SwapRecord{}, err
	}

	return model.SwapRecord{
		BlockNumber:  log.BlockNumber,
		TxHash:       log.TxHash.Hex(),
		LogIndex:     uint64(log.Index),
		Sender:       lowerHex(indexed.Sender),
		Recipient:    lowerHex(indexed.Recipient),
		Amount0:      amount0.String(),
		Amount1:      amount1.String(),
		SqrtPriceX96: sqrtPrice.String(),
		Liquidity:    liquidity.String(),
		Tick:         tick,
	}, nil
}

// MintDecoder decodes reward NFT issuances (ERC-721 Transfer from the zero
// address) into MintRecords.
type MintDecoder struct {
	event abi.Event
}

// NewMintDecoder builds a decoder for the reward NFT Transfer event.
func NewMintDecoder() (*MintDecoder, error) {
	nftABI, err := RewardNFTABI()
	if err != nil {
		return nil, err
	}
	return &MintDecoder{event: nftABI.Events["Transfer"]}, nil
}

// Topic0 returns the Transfer event signature hash.
func (d *MintDecoder) Topic0() common.Hash {
	return d.event.ID
}

// Decode converts a raw Transfer log into a MintRecord. Transfers that are not
// mints (non-zero sender) return ok=false.
func (d *MintDecoder) Decode(log types.Log) (model.MintRecord, bool, error) {
	if len(log.Topics) != 4 || log.Topics[0] != d.event.ID {
		return model.MintRecord{}, false, fmt.Errorf("not an erc721 transfer log: %s", topic0Hex(log))
	}

	from := common.BytesToAddress(log.Topics[1].Bytes())
	if from != (common.Address{}) {
		return model.MintRecord{}, false, nil
	}

	to := common.BytesToAddress(log.Topics[2].Bytes())
	tokenID := new(big.Int).SetBytes(log.Topics[3].Bytes())

	return model.MintRecord{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Recipient:   lowerHex(to),
		TokenID:     tokenID.String(),
	}, true, nil
}

func topic0Hex(log types.Log) string {
	if len(log.Topics) == 0 {
		return ""
	}
	return log.Topics[0].Hex()
}

func lowerHex(addr common.Address) string {
	return "0x" + common.Bytes2Hex(addr.Bytes())
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch typed := value.(type) {
	case *big.Int:
		return typed, nil
	case big.Int:
		return &typed, nil
	default:
		return nil, fmt.Errorf("unexpected value type %T", value)
	}
}

func asAddress(value interface{}) (common.Address, error) {
	addr, ok := value.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected address type %T", value)
	}
	return addr, nil
}

func int24FromBig(value *big.Int) (int32, error) {
	if value == nil {
		return 0, fmt.Errorf("nil tick value")
	}
	if !value.IsInt64() {
		return 0, fmt.Errorf("tick out of range: %s", value)
	}
	v := value.Int64()
	if v < -8388608 || v > 8388607 {
		return 0, fmt.Errorf("tick out of int24 range: %d", v)
	}
	return int32(v), nil
}
