package ledger

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"rewardscope/internal/model"
)

// Ledger is the in-memory view of wallet state: cumulative bought volume, the
// non-authoritative minted cache, and mint failure markers. All mutation runs
// on the single backfill path, so no locking is needed; durability comes from
// flushing the underlying ControllerState through a Store.
type Ledger struct {
	state *model.ControllerState
}

// NewLedger wraps a controller state. A nil state starts empty.
func NewLedger(state *model.ControllerState) *Ledger {
	if state == nil {
		state = model.NewControllerState()
	}
	state.EnsureMaps()
	return &Ledger{state: state}
}

// State returns the backing state for persistence.
func (l *Ledger) State() *model.ControllerState {
	return l.state
}

// NormalizeWallet lowercases a wallet address for use as a ledger key.
func NormalizeWallet(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Credit adds a purchased amount to the wallet's cumulative bought volume and
// returns the new total. Amounts are unsigned and monotonically increasing.
func (l *Ledger) Credit(wallet string, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("credit amount must be non-negative, got %v", amount)
	}
	wallet = NormalizeWallet(wallet)

	total := l.CumulativeVolume(wallet)
	total.Add(total, amount)
	l.state.CumulativeBuys[wallet] = total.String()
	return total, nil
}

// CumulativeVolume returns the wallet's cumulative bought volume. Unknown
// wallets and unparseable entries read as zero.
func (l *Ledger) CumulativeVolume(wallet string) *big.Int {
	raw, ok := l.state.CumulativeBuys[NormalizeWallet(wallet)]
	if !ok {
		return new(big.Int)
	}
	total, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return new(big.Int)
	}
	return total
}

// CachedMinted reports the minted-cache hint for a wallet. The cache is a
// performance hint only; it must never justify an issuance, and a skip based
// on it has to be confirmed against the authoritative ledger first.
func (l *Ledger) CachedMinted(wallet string) bool {
	return l.state.MintedCache[NormalizeWallet(wallet)]
}

// SetMinted records a confirmed issuance in the cache and clears any prior
// failure marker.
func (l *Ledger) SetMinted(wallet string) {
	wallet = NormalizeWallet(wallet)
	l.state.MintedCache[wallet] = true
	delete(l.state.MintFailures, wallet)
}

// DiscardMinted drops a stale cache entry that disagreed with the
// authoritative ledger.
func (l *Ledger) DiscardMinted(wallet string) {
	delete(l.state.MintedCache, NormalizeWallet(wallet))
}

// LastMintFailure returns the wallet's recorded mint failure time, if any.
func (l *Ledger) LastMintFailure(wallet string) (time.Time, bool) {
	ts, ok := l.state.MintFailures[NormalizeWallet(wallet)]
	return ts, ok
}

// RecordMintFailure marks a failed issuance attempt for cooldown tracking.
func (l *Ledger) RecordMintFailure(wallet string, at time.Time) {
	l.state.MintFailures[NormalizeWallet(wallet)] = at.UTC()
}

// SwapCursor returns the swap-event cursor.
func (l *Ledger) SwapCursor() uint64 {
	return l.state.SwapCursor
}

// AdvanceSwapCursor moves the swap cursor forward. Rewinding is a programming
// error and is ignored.
func (l *Ledger) AdvanceSwapCursor(block uint64) {
	if block > l.state.SwapCursor {
		l.state.SwapCursor = block
	}
}

// TransferCursor returns the secondary transfer-event cursor.
func (l *Ledger) TransferCursor() uint64 {
	return l.state.TransferCursor
}

// AdvanceTransferCursor moves the transfer cursor forward.
func (l *Ledger) AdvanceTransferCursor(block uint64) {
	if block > l.state.TransferCursor {
		l.state.TransferCursor = block
	}
}
