package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"rewardscope/internal/dex"
	"rewardscope/internal/fetch"
	"rewardscope/internal/ledger"
	"rewardscope/internal/metrics"
	"rewardscope/internal/model"
	"rewardscope/internal/storage"
)

// HeadSource reports chain height and streams new-head notifications.
type HeadSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Evaluator is invoked synchronously for a wallet after its cumulative volume
// changed.
type Evaluator interface {
	Evaluate(ctx context.Context, wallet string) error
}

// Config holds engine scheduling settings.
type Config struct {
	// ConfirmationDepth keeps the cursor this many blocks behind the head, so
	// processed blocks are final and folded state never needs retracting.
	ConfirmationDepth uint64
	// ChunkSize bounds how many blocks one fetch-fold-persist unit covers.
	ChunkSize uint64
	// TrackedIsToken0 fixes which pool asset side is the tracked token,
	// resolved once at startup against the pool's reported ordering.
	TrackedIsToken0 bool
	// TrackTransfers enables the secondary transfer cursor feeding reward NFT
	// mints into the analytic index.
	TrackTransfers bool
	// MinTriggerInterval throttles backfill passes under notification bursts.
	MinTriggerInterval time.Duration
	// PollInterval drives the fallback scheduler when the provider does not
	// support head subscriptions.
	PollInterval time.Duration
	// MaxRetries and RetryBackoff govern chain height queries.
	MaxRetries   int
	RetryBackoff time.Duration
	// Strict escalates backfill pass errors as fatal instead of retrying on
	// the next trigger.
	Strict bool
}

// Engine is the central scheduling loop: it advances persisted block cursors
// in bounded chunks, folding swap events through the wallet ledger and mint
// gate, and persisting state after every chunk so a crash resumes at chunk
// granularity.
type Engine struct {
	cfg           Config
	heads         HeadSource
	swapFetch     *fetch.Fetcher
	transferFetch *fetch.Fetcher
	swapDecoder   *dex.SwapDecoder
	mintDecoder   *dex.MintDecoder
	walletLedger  *ledger.Ledger
	store         ledger.Store
	gate          Evaluator
	sink          storage.AnalyticSink
	logger        *zap.Logger
	metrics       *metrics.Metrics
	seen          map[string]struct{}
}

// NewEngine builds an Engine. The transfer fetcher and mint decoder may be nil
// when auxiliary transfer indexing is disabled.
func NewEngine(
	cfg Config,
	heads HeadSource,
	swapFetch *fetch.Fetcher,
	transferFetch *fetch.Fetcher,
	swapDecoder *dex.SwapDecoder,
	mintDecoder *dex.MintDecoder,
	walletLedger *ledger.Ledger,
	store ledger.Store,
	gate Evaluator,
	sink storage.AnalyticSink,
	logger *zap.Logger,
	m *metrics.Metrics,
) (*Engine, error) {
	if cfg.ChunkSize == 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}
	if heads == nil {
		return nil, fmt.Errorf("head source is nil")
	}
	if swapFetch == nil {
		return nil, fmt.Errorf("swap fetcher is nil")
	}
	if swapDecoder == nil {
		return nil, fmt.Errorf("swap decoder is nil")
	}
	if walletLedger == nil {
		return nil, fmt.Errorf("wallet ledger is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("state store is nil")
	}
	if gate == nil {
		return nil, fmt.Errorf("mint gate is nil")
	}
	if cfg.TrackTransfers && (transferFetch == nil || mintDecoder == nil) {
		return nil, fmt.Errorf("transfer tracking enabled without transfer fetcher or mint decoder")
	}
	if sink == nil {
		sink = storage.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:           cfg,
		heads:         heads,
		swapFetch:     swapFetch,
		transferFetch: transferFetch,
		swapDecoder:   swapDecoder,
		mintDecoder:   mintDecoder,
		walletLedger:  walletLedger,
		store:         store,
		gate:          gate,
		sink:          sink,
		logger:        logger,
		metrics:       m,
		seen:          make(map[string]struct{}),
	}, nil
}

// Advance runs one backfill pass: it computes the newest confirmed block and
// folds everything between the persisted cursors and that target. Errors leave
// the cursors at the last durably completed chunk; the pass is simply retried
// on the next trigger.
func (e *Engine) Advance(ctx context.Context) error {
	var head uint64
	err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		head, err = e.heads.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}
	if head < e.cfg.ConfirmationDepth {
		return nil
	}
	target := head - e.cfg.ConfirmationDepth

	if err := e.advanceSwaps(ctx, target); err != nil {
		return err
	}
	if e.cfg.TrackTransfers {
		if err := e.advanceTransfers(ctx, target); err != nil {
			return err
		}
	}

	e.metrics.IncBackfillPasses()
	return nil
}

func (e *Engine) advanceSwaps(ctx context.Context, target uint64) error {
	cursor := e.walletLedger.SwapCursor()
	if target <= cursor {
		e.logger.Debug("nothing newly confirmed",
			zap.Uint64("cursor", cursor),
			zap.Uint64("target", target),
		)
		return nil
	}

	ranges, err := SplitRange(cursor+1, target, e.cfg.ChunkSize)
	if err != nil {
		return err
	}

	for _, chunk := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		logs, err := e.swapFetch.FetchRange(ctx, chunk.From, chunk.To)
		if err != nil {
			return fmt.Errorf("fetch swap logs [%d,%d]: %w", chunk.From, chunk.To, err)
		}

		records := make([]model.SwapRecord, 0, len(logs))
		for _, log := range logs {
			record, err := e.swapDecoder.Decode(log)
			if err != nil {
				e.logger.Warn("skipping undecodable log",
					zap.Uint64("block", log.BlockNumber),
					zap.String("tx_hash", log.TxHash.Hex()),
					zap.Uint("log_index", log.Index),
					zap.Error(err),
				)
				e.metrics.IncDecodeFailures()
				continue
			}

			// A chunk whose state persist failed is re-fetched on the next
			// pass; the seen set keeps its events from folding twice within
			// this process. Across restarts the cursor and volumes persist
			// atomically together, so replay starts from consistent state.
			if e.isDuplicate(record) {
				continue
			}
			records = append(records, record)

			if err := e.foldSwap(ctx, record); err != nil {
				return err
			}
		}

		// Fire-and-log: a failing analytic sink never blocks ledger progress.
		if err := e.sink.PutSwapBatch(ctx, records); err != nil {
			e.logger.Error("analytic sink write failed",
				zap.Int("swaps", len(records)),
				zap.Error(err),
			)
		}

		e.walletLedger.AdvanceSwapCursor(chunk.To)
		if err := e.store.Save(e.walletLedger.State()); err != nil {
			return fmt.Errorf("persist state after chunk [%d,%d]: %w", chunk.From, chunk.To, err)
		}
		e.metrics.SetSwapCursor(chunk.To)

		e.logger.Info("swap chunk complete",
			zap.Uint64("from", chunk.From),
			zap.Uint64("to", chunk.To),
			zap.Int("swaps", len(records)),
		)
	}

	return nil
}

// foldSwap attributes purchased volume to the swap recipient and runs the mint
// gate. The recipient, not the tx sender, is the economic buyer: settlement
// intermediaries execute on behalf of a distinct principal and are deployed
// one per paying wallet.
func (e *Engine) foldSwap(ctx context.Context, record model.SwapRecord) error {
	delta, err := trackedDelta(record, e.cfg.TrackedIsToken0)
	if err != nil {
		e.logger.Warn("skipping swap with malformed amount",
			zap.String("tx_hash", record.TxHash),
			zap.Uint64("log_index", record.LogIndex),
			zap.Error(err),
		)
		e.metrics.IncDecodeFailures()
		return nil
	}

	e.logger.Info("swap observed",
		zap.Uint64("block", record.BlockNumber),
		zap.String("tx_hash", record.TxHash),
		zap.Uint64("log_index", record.LogIndex),
		zap.String("recipient", record.Recipient),
		zap.String("tracked_delta", delta.String()),
	)
	e.metrics.IncSwapsFolded()

	// A negative tracked delta is the pool paying the asset out to the
	// recipient, i.e. a purchase. Anything else contributes no volume.
	if delta.Sign() >= 0 {
		return nil
	}

	bought := new(big.Int).Neg(delta)
	total, err := e.walletLedger.Credit(record.Recipient, bought)
	if err != nil {
		return fmt.Errorf("credit wallet %s: %w", record.Recipient, err)
	}

	e.logger.Info("volume attributed",
		zap.String("wallet", record.Recipient),
		zap.String("bought", bought.String()),
		zap.String("cumulative", total.String()),
	)

	return e.gate.Evaluate(ctx, record.Recipient)
}

func (e *Engine) advanceTransfers(ctx context.Context, target uint64) error {
	cursor := e.walletLedger.TransferCursor()
	if target <= cursor {
		return nil
	}

	ranges, err := SplitRange(cursor+1, target, e.cfg.ChunkSize)
	if err != nil {
		return err
	}

	for _, chunk := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		logs, err := e.transferFetch.FetchRange(ctx, chunk.From, chunk.To)
		if err != nil {
			return fmt.Errorf("fetch transfer logs [%d,%d]: %w", chunk.From, chunk.To, err)
		}

		mints := make([]model.MintRecord, 0, len(logs))
		for _, log := range logs {
			mint, ok, err := e.mintDecoder.Decode(log)
			if err != nil {
				e.logger.Warn("skipping undecodable transfer log",
					zap.Uint64("block", log.BlockNumber),
					zap.String("tx_hash", log.TxHash.Hex()),
					zap.Error(err),
				)
				e.metrics.IncDecodeFailures()
				continue
			}
			if !ok {
				continue
			}
			mints = append(mints, mint)
		}

		if err := e.sink.PutMintBatch(ctx, mints); err != nil {
			e.logger.Error("analytic sink write failed",
				zap.Int("mints", len(mints)),
				zap.Error(err),
			)
		}

		e.walletLedger.AdvanceTransferCursor(chunk.To)
		if err := e.store.Save(e.walletLedger.State()); err != nil {
			return fmt.Errorf("persist state after transfer chunk [%d,%d]: %w", chunk.From, chunk.To, err)
		}
		e.metrics.SetTransferCursor(chunk.To)

		e.logger.Info("transfer chunk complete",
			zap.Uint64("from", chunk.From),
			zap.Uint64("to", chunk.To),
			zap.Int("mints", len(mints)),
		)
	}

	return nil
}

// Run executes the initial backfill and then re-triggers bounded backfill on
// every new-head notification, throttled to one pass per minimum interval.
// Loss of the notification stream is fatal; the supervisor restart resumes
// safely from the persisted cursors.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.pass(ctx); err != nil {
		return err
	}

	heads := make(chan *types.Header, 16)
	sub, err := e.heads.SubscribeNewHeads(ctx, heads)
	if err != nil {
		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			e.logger.Warn("head subscriptions unsupported, polling instead",
				zap.Duration("interval", e.cfg.PollInterval),
			)
			return e.runPolling(ctx)
		}
		return fmt.Errorf("subscribe new heads: %w", err)
	}
	defer sub.Unsubscribe()

	var lastPass time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("head subscription lost: %w", err)
		case head := <-heads:
			if time.Since(lastPass) < e.cfg.MinTriggerInterval {
				e.logger.Debug("trigger throttled", zap.Uint64("head", head.Number.Uint64()))
				continue
			}
			lastPass = time.Now()
			e.logger.Debug("new head trigger", zap.Uint64("head", head.Number.Uint64()))
			if err := e.pass(ctx); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) runPolling(ctx context.Context) error {
	interval := e.cfg.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.pass(ctx); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) pass(ctx context.Context) error {
	err := e.Advance(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || e.cfg.Strict {
		return err
	}
	e.logger.Error("backfill pass failed, cursor unchanged, retrying on next trigger", zap.Error(err))
	return nil
}

func (e *Engine) isDuplicate(record model.SwapRecord) bool {
	id := fmt.Sprintf("%d:%s:%d", record.BlockNumber, record.TxHash, record.LogIndex)
	if _, ok := e.seen[id]; ok {
		return true
	}
	e.seen[id] = struct{}{}
	return false
}

func trackedDelta(record model.SwapRecord, trackedIsToken0 bool) (*big.Int, error) {
	raw := record.Amount1
	if trackedIsToken0 {
		raw = record.Amount0
	}
	delta, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", raw)
	}
	return delta, nil
}
