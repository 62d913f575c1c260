package reward

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"rewardscope/internal/chain"
	"rewardscope/internal/dex"
)

const receiptPollInterval = 2 * time.Second

// ERC721Minter issues one-shot reward NFTs and answers the authoritative
// "already rewarded" question via the contract's hasMinted view.
type ERC721Minter struct {
	client       *chain.Client
	contract     common.Address
	contractABI  abi.ABI
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	logger       *zap.Logger
	mintTimeout  time.Duration
	transferHash common.Hash
}

// NewERC721Minter builds a minter bound to the reward NFT contract. The
// private key authorizes issuance; the chain ID pins the tx signature.
func NewERC721Minter(ctx context.Context, client *chain.Client, contract common.Address, privateKeyHex string, mintTimeout time.Duration, logger *zap.Logger) (*ERC721Minter, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	key, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("parse minter key: %w", err)
	}

	contractABI, err := dex.RewardNFTABI()
	if err != nil {
		return nil, fmt.Errorf("parse reward nft abi: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}

	if mintTimeout <= 0 {
		mintTimeout = time.Minute
	}

	return &ERC721Minter{
		client:       client,
		contract:     contract,
		contractABI:  contractABI,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		logger:       logger,
		mintTimeout:  mintTimeout,
		transferHash: contractABI.Events["Transfer"].ID,
	}, nil
}

// HasIssued queries the contract for a wallet's issuance status.
func (m *ERC721Minter) HasIssued(ctx context.Context, wallet string) (bool, error) {
	if !common.IsHexAddress(wallet) {
		return false, fmt.Errorf("invalid wallet address: %s", wallet)
	}

	data, err := m.contractABI.Pack("hasMinted", common.HexToAddress(wallet))
	if err != nil {
		return false, fmt.Errorf("pack hasMinted: %w", err)
	}

	resp, err := m.client.CallContract(ctx, ethereum.CallMsg{To: &m.contract, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("call hasMinted: %w", err)
	}

	values, err := m.contractABI.Unpack("hasMinted", resp)
	if err != nil {
		return false, fmt.Errorf("unpack hasMinted: %w", err)
	}
	issued, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected hasMinted result type %T", values[0])
	}
	return issued, nil
}

// Issue mints the reward NFT to a wallet and returns the minted token id. The
// contract itself rejects a second mint for an already-rewarded wallet; under
// normal operation the gate's authoritative pre-check prevents ever reaching
// that revert.
func (m *ERC721Minter) Issue(ctx context.Context, wallet string) (string, error) {
	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("invalid wallet address: %s", wallet)
	}
	recipient := common.HexToAddress(wallet)

	data, err := m.contractABI.Pack("mintTo", recipient)
	if err != nil {
		return "", fmt.Errorf("pack mintTo: %w", err)
	}

	tx, err := m.buildTx(ctx, data)
	if err != nil {
		return "", err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(m.chainID), m.key)
	if err != nil {
		return "", fmt.Errorf("sign mint tx: %w", err)
	}
	if err := m.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send mint tx: %w", err)
	}

	m.logger.Info("mint submitted",
		zap.String("wallet", wallet),
		zap.String("tx_hash", signed.Hash().Hex()),
	)

	receipt, err := m.waitMined(ctx, signed.Hash())
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("mint tx %s reverted", signed.Hash().Hex())
	}

	return m.tokenIDFromReceipt(receipt), nil
}

// buildTx assembles an EIP-1559 dynamic fee transaction, falling back to a
// legacy tx when the chain does not report a base fee.
func (m *ERC721Minter) buildTx(ctx context.Context, data []byte) (*types.Transaction, error) {
	nonce, err := m.client.PendingNonceAt(ctx, m.from)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	gas, err := m.client.EstimateGas(ctx, ethereum.CallMsg{
		From: m.from,
		To:   &m.contract,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	head, err := m.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get head: %w", err)
	}

	if head.BaseFee == nil {
		gasPrice, err := m.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &m.contract,
			Gas:      gas,
			GasPrice: gasPrice,
			Data:     data,
		}), nil
	}

	tip, err := m.client.SuggestGasTipCap(ctx)
	if err != nil {
		tip = big.NewInt(1_000_000_000) // 1 gwei fallback for local nodes
	}
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   m.chainID,
		Nonce:     nonce,
		To:        &m.contract,
		Gas:       gas,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
	}), nil
}

func (m *ERC721Minter) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.mintTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := m.client.TransactionReceipt(waitCtx, txHash)
		if err == nil {
			return receipt, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("wait for mint tx %s: %w", txHash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// tokenIDFromReceipt extracts the minted token id from the ERC-721 Transfer
// log. A missing log is not an error; the tx hash still identifies the mint.
func (m *ERC721Minter) tokenIDFromReceipt(receipt *types.Receipt) string {
	for _, log := range receipt.Logs {
		if log == nil || log.Address != m.contract {
			continue
		}
		if len(log.Topics) == 4 && log.Topics[0] == m.transferHash {
			return new(big.Int).SetBytes(log.Topics[3].Bytes()).String()
		}
	}
	return receipt.TxHash.Hex()
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
