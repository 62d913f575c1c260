package mintgate

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"rewardscope/internal/cohort"
	"rewardscope/internal/ledger"
	"rewardscope/internal/metrics"
)

// RewardLedger is the external issuance contract. HasIssued is the sole
// source of truth for whether a wallet already received its reward.
type RewardLedger interface {
	HasIssued(ctx context.Context, wallet string) (bool, error)
	Issue(ctx context.Context, wallet string) (string, error)
}

// Config holds gate thresholds and failure policy.
type Config struct {
	// Threshold is the cumulative bought volume, in base units, at which a
	// wallet becomes eligible.
	Threshold *big.Int
	// Cooldown suppresses re-evaluation of a wallet after a failed issuance.
	Cooldown time.Duration
	// Strict escalates issuance failures as fatal instead of cooling down.
	Strict bool
}

// Gate decides, per wallet, whether to issue the one-shot reward, and guards
// against duplicate issuance with a cached hint reconciled against the
// authoritative ledger.
type Gate struct {
	cfg     Config
	ledger  *ledger.Ledger
	cohorts *cohort.Assignor
	rewards RewardLedger
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewGate builds a Gate.
func NewGate(cfg Config, walletLedger *ledger.Ledger, cohorts *cohort.Assignor, rewards RewardLedger, logger *zap.Logger, m *metrics.Metrics) (*Gate, error) {
	if cfg.Threshold == nil || cfg.Threshold.Sign() <= 0 {
		return nil, fmt.Errorf("volume threshold must be positive")
	}
	if walletLedger == nil {
		return nil, fmt.Errorf("wallet ledger is nil")
	}
	if cohorts == nil {
		return nil, fmt.Errorf("cohort assignor is nil")
	}
	if rewards == nil {
		return nil, fmt.Errorf("reward ledger is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		cfg:     cfg,
		ledger:  walletLedger,
		cohorts: cohorts,
		rewards: rewards,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}, nil
}

// Evaluate runs the gate for one wallet after its cumulative volume changed.
// It returns an error only in strict mode; otherwise issuance failures are
// logged, recorded for cooldown, and never abort the surrounding backfill.
func (g *Gate) Evaluate(ctx context.Context, wallet string) error {
	wallet = ledger.NormalizeWallet(wallet)

	if failedAt, ok := g.ledger.LastMintFailure(wallet); ok {
		elapsed := g.now().Sub(failedAt)
		if elapsed < g.cfg.Cooldown {
			g.logger.Debug("wallet in mint cooldown, skipping",
				zap.String("wallet", wallet),
				zap.Duration("elapsed", elapsed),
				zap.Duration("cooldown", g.cfg.Cooldown),
			)
			return nil
		}
	}

	if !g.cohorts.Eligible(wallet) {
		g.logger.Debug("wallet not in eligible cohort",
			zap.String("wallet", wallet),
			zap.Int("bucket", g.cohorts.BucketOf(wallet)),
		)
		return nil
	}

	volume := g.ledger.CumulativeVolume(wallet)
	if volume.Cmp(g.cfg.Threshold) < 0 {
		return nil
	}

	status, err := g.resolveMinted(ctx, wallet)
	if err != nil {
		// Authoritative check unreachable. Do not issue, do not cool down;
		// the wallet is re-evaluated on its next swap.
		g.logger.Warn("authoritative mint check failed, deferring",
			zap.String("wallet", wallet),
			zap.Error(err),
		)
		return nil
	}
	if status == StatusMinted {
		return nil
	}

	g.logger.Info("wallet eligible, issuing reward",
		zap.String("wallet", wallet),
		zap.String("volume", volume.String()),
		zap.String("threshold", g.cfg.Threshold.String()),
	)
	g.metrics.IncIssueAttempts()

	issuedID, err := g.rewards.Issue(ctx, wallet)
	if err != nil {
		g.ledger.RecordMintFailure(wallet, g.now())
		g.metrics.IncIssueFailures()
		if g.cfg.Strict {
			return fmt.Errorf("issue reward to %s: %w", wallet, err)
		}
		g.logger.Error("reward issuance failed, entering cooldown",
			zap.String("wallet", wallet),
			zap.Duration("cooldown", g.cfg.Cooldown),
			zap.Error(err),
		)
		return nil
	}

	g.ledger.SetMinted(wallet)
	g.metrics.IncIssueSuccesses()
	g.logger.Info("reward issued",
		zap.String("wallet", wallet),
		zap.String("issued_id", issuedID),
	)
	return nil
}

// resolveMinted reconciles the minted cache against the authoritative ledger.
// The cache may only ever justify skipping, never issuing, and is discarded
// when the authoritative source disagrees with it.
func (g *Gate) resolveMinted(ctx context.Context, wallet string) (MintStatus, error) {
	cached := g.ledger.CachedMinted(wallet)

	issued, err := g.rewards.HasIssued(ctx, wallet)
	if err != nil {
		return StatusUnknown, err
	}

	if issued {
		if !cached {
			g.ledger.SetMinted(wallet)
		}
		return StatusMinted, nil
	}

	if cached {
		g.logger.Warn("minted cache disagrees with authoritative ledger, discarding entry",
			zap.String("wallet", wallet),
		)
		g.ledger.DiscardMinted(wallet)
	}
	return StatusNotMinted, nil
}
