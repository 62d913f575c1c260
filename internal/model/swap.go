package model

// SwapRecord is a decoded pool Swap event. Big integer amounts are kept as
// base-10 strings so the record survives JSON round trips without precision
// loss. (BlockNumber, TxHash, LogIndex) is the uniqueness key.
type SwapRecord struct {
	BlockNumber  uint64 `json:"block_number"`
	TxHash       string `json:"tx_hash"`
	LogIndex     uint64 `json:"log_index"`
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Amount0      string `json:"amount0"`
	Amount1      string `json:"amount1"`
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Liquidity    string `json:"liquidity"`
	Tick         int32  `json:"tick"`
}

// MintRecord is a reward NFT issuance observed on chain (ERC-721 Transfer
// from the zero address). (TxHash, LogIndex) is the uniqueness key.
type MintRecord struct {
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Recipient   string `json:"recipient"`
	TokenID     string `json:"token_id"`
}
