package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"rewardscope/internal/metrics"
)

// LogSource is the read-only capability to query logs for a block range.
type LogSource interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
}

// Config holds fetcher retry settings.
type Config struct {
	RateLimitBackoff time.Duration
	SingleBlockDelay time.Duration
}

// Fetcher queries log ranges, absorbing transient provider failures by
// bisecting failing ranges and backing off on rate limits. It trades latency
// for robustness against providers that fail on large ranges but not small
// ones.
type Fetcher struct {
	source  LogSource
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewFetcher builds a Fetcher over a log source.
func NewFetcher(source LogSource, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = 5 * time.Second
	}
	if cfg.SingleBlockDelay <= 0 {
		cfg.SingleBlockDelay = time.Second
	}
	return &Fetcher{source: source, cfg: cfg, logger: logger, metrics: m}
}

// FetchRange returns all logs in [fromBlock, toBlock] in on-chain order
// (ascending block, then log index). Rate-limited requests are retried on the
// identical range until they succeed; other failures bisect the range until
// sub-ranges succeed or collapse to single blocks.
func (f *Fetcher) FetchRange(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	if toBlock < fromBlock {
		return nil, fmt.Errorf("to block %d < from block %d", toBlock, fromBlock)
	}

	retriedSingle := false
	for {
		logs, err := f.source.FilterLogs(ctx, fromBlock, toBlock)
		if err == nil {
			return logs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if IsRateLimited(err) {
			f.logger.Warn("provider rate limited, backing off",
				zap.Uint64("from", fromBlock),
				zap.Uint64("to", toBlock),
				zap.Duration("backoff", f.cfg.RateLimitBackoff),
				zap.Error(err),
			)
			f.metrics.IncFetchRetries()
			if err := sleep(ctx, f.cfg.RateLimitBackoff); err != nil {
				return nil, err
			}
			continue
		}

		if fromBlock == toBlock {
			if retriedSingle {
				return nil, fmt.Errorf("fetch logs for block %d: %w", fromBlock, err)
			}
			f.logger.Warn("single block fetch failed, retrying once",
				zap.Uint64("block", fromBlock),
				zap.Error(err),
			)
			f.metrics.IncFetchRetries()
			retriedSingle = true
			if err := sleep(ctx, f.cfg.SingleBlockDelay); err != nil {
				return nil, err
			}
			continue
		}

		mid := fromBlock + (toBlock-fromBlock)/2
		f.logger.Warn("range fetch failed, bisecting",
			zap.Uint64("from", fromBlock),
			zap.Uint64("to", toBlock),
			zap.Uint64("mid", mid),
			zap.Error(err),
		)
		f.metrics.IncFetchBisections()

		lower, err := f.FetchRange(ctx, fromBlock, mid)
		if err != nil {
			return nil, err
		}
		upper, err := f.FetchRange(ctx, mid+1, toBlock)
		if err != nil {
			return nil, err
		}
		return append(lower, upper...), nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
