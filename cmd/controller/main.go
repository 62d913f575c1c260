package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"rewardscope/internal/chain"
	"rewardscope/internal/cohort"
	"rewardscope/internal/config"
	"rewardscope/internal/dex"
	"rewardscope/internal/engine"
	"rewardscope/internal/fetch"
	"rewardscope/internal/ledger"
	"rewardscope/internal/metrics"
	"rewardscope/internal/mintgate"
	"rewardscope/internal/model"
	"rewardscope/internal/reward"
	"rewardscope/internal/storage"
	"rewardscope/internal/storage/postgres"
)

func main() {
	// Deployment keeps addresses and keys in .env; absence is fine.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "controller",
		Short:        "Swap-driven reward controller",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller (backfill + live head notifications)",
		RunE:  runController,
	}
	addControllerFlags(runCmd.Flags())
	root.AddCommand(runCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Run a single bounded backfill pass and exit",
		RunE:  runBackfill,
	}
	addControllerFlags(backfillCmd.Flags())
	root.AddCommand(backfillCmd)

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Print the persisted controller state as JSON",
		RunE:  runState,
	}
	stateCmd.Flags().String("state", "./data/reward_state.json", "state file path")
	root.AddCommand(stateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addControllerFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "chain RPC URL (websocket endpoint enables head subscriptions)")
	flags.String("pool", "", "pool contract address")
	flags.String("token", "", "tracked token address")
	flags.String("reward-nft", "", "reward NFT contract address")
	flags.String("minter-key", "", "minter private key (hex)")
	flags.Uint64("confirmation-depth", 5, "blocks behind head treated as final")
	flags.Uint64("chunk-size", 2000, "blocks per backfill chunk")
	flags.Duration("min-trigger-interval", 10*time.Second, "minimum interval between backfill passes")
	flags.Duration("poll-interval", 15*time.Second, "height poll interval when subscriptions are unsupported")
	flags.Duration("rate-limit-backoff", 5*time.Second, "sleep before retrying a rate-limited range")
	flags.Duration("single-block-delay", time.Second, "delay before retrying a failed single-block range")
	flags.Int("max-retries", 5, "maximum height query retries")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial height query retry backoff")
	flags.String("threshold", "", "cumulative volume threshold in base units")
	flags.Bool("cohort-enabled", true, "enable cohort gating")
	flags.String("cohort-salt", "", "cohort hashing salt")
	flags.Int("cohort-percent", 50, "eligible cohort percent [0,100]")
	flags.Duration("mint-cooldown", 10*time.Minute, "cooldown after a failed issuance")
	flags.Duration("mint-timeout", time.Minute, "issuance confirmation timeout")
	flags.Bool("strict", false, "escalate issuance and pass failures as fatal")
	flags.Bool("track-transfers", false, "index reward NFT transfers into the analytic sink")
	flags.String("state", "./data/reward_state.json", "controller state file path")
	flags.String("swap-log", "./data/swaps.jsonl", "analytic swap JSONL path (empty disables)")
	flags.String("mint-log", "./data/mints.jsonl", "analytic mint JSONL path (empty disables)")
	flags.String("pg-dsn", "", "optional Postgres DSN for the analytic index")
	flags.String("metrics-addr", "", "prometheus listen address (empty disables)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func runController(cmd *cobra.Command, _ []string) error {
	return withController(cmd, func(ctx context.Context, eng *engine.Engine, cfg config.Config, logger *zap.Logger) error {
		group, ctx := errgroup.WithContext(ctx)

		if cfg.MetricsAddr != "" {
			server := metrics.Server(cfg.MetricsAddr)
			group.Go(func() error {
				logger.Info("metrics listener start", zap.String("addr", cfg.MetricsAddr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return fmt.Errorf("metrics listener: %w", err)
				}
				return nil
			})
			group.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
		}

		group.Go(func() error {
			return eng.Run(ctx)
		})

		return group.Wait()
	})
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	return withController(cmd, func(ctx context.Context, eng *engine.Engine, _ config.Config, _ *zap.Logger) error {
		return eng.Advance(ctx)
	})
}

func runState(cmd *cobra.Command, _ []string) error {
	statePath, _ := cmd.Flags().GetString("state")
	state, found, err := ledger.NewFileStore(statePath).Load()
	if err != nil {
		return err
	}
	if !found {
		state = model.NewControllerState()
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func withController(cmd *cobra.Command, fn func(context.Context, *engine.Engine, config.Config, *zap.Logger) error) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("controller start",
		zap.String("pool", cfg.PoolAddress),
		zap.String("token", cfg.TokenAddress),
		zap.String("reward_nft", cfg.RewardNFTAddress),
		zap.Uint64("confirmation_depth", cfg.ConfirmationDepth),
		zap.Uint64("chunk_size", cfg.ChunkSize),
		zap.String("threshold", cfg.Threshold),
		zap.Bool("cohort_enabled", cfg.CohortEnabled),
		zap.Int("cohort_percent", cfg.CohortPercent),
		zap.Bool("strict", cfg.Strict),
		zap.String("state", cfg.StatePath),
	)

	return fn(ctx, eng, cfg, logger)
}

func buildEngine(ctx context.Context, cfg config.Config, logger *zap.Logger) (*engine.Engine, func(), error) {
	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rpc: %w", err)
	}
	cleanups := []func(){chainClient.Close}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	pool := common.HexToAddress(cfg.PoolAddress)
	tracked := common.HexToAddress(cfg.TokenAddress)
	rewardNFT := common.HexToAddress(cfg.RewardNFTAddress)

	// Validate the configured ordering against the pool before touching any
	// state. A mismatch here is a configuration error, not a per-event one.
	poolTokens, err := dex.FetchPoolTokens(ctx, chainClient, pool)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("fetch pool tokens: %w", err)
	}
	trackedIsToken0, err := poolTokens.ResolveTrackedSide(tracked)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	logger.Info("pool ordering validated",
		zap.String("token0", poolTokens.Token0.Hex()),
		zap.String("token1", poolTokens.Token1.Hex()),
		zap.Bool("tracked_is_token0", trackedIsToken0),
	)

	swapDecoder, err := dex.NewSwapDecoder()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	mintDecoder, err := dex.NewMintDecoder()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var controllerMetrics *metrics.Metrics
	if cfg.MetricsAddr != "" {
		controllerMetrics = metrics.New(prometheus.DefaultRegisterer)
	}

	fetchCfg := fetch.Config{
		RateLimitBackoff: cfg.RateLimitBackoff,
		SingleBlockDelay: cfg.SingleBlockDelay,
	}
	swapFetch := fetch.NewFetcher(chain.BoundFilter{
		Client:  chainClient,
		Address: pool,
		Topic0:  swapDecoder.Topic0(),
	}, fetchCfg, logger, controllerMetrics)

	var transferFetch *fetch.Fetcher
	if cfg.TrackTransfers {
		transferFetch = fetch.NewFetcher(chain.BoundFilter{
			Client:  chainClient,
			Address: rewardNFT,
			Topic0:  mintDecoder.Topic0(),
		}, fetchCfg, logger, controllerMetrics)
	}

	store := ledger.NewFileStore(cfg.StatePath)
	state, found, err := store.Load()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if found {
		logger.Info("resume from persisted state",
			zap.Uint64("swap_cursor", state.SwapCursor),
			zap.Uint64("transfer_cursor", state.TransferCursor),
			zap.Int("wallets", len(state.CumulativeBuys)),
		)
	}
	walletLedger := ledger.NewLedger(state)

	cohorts, err := cohort.NewAssignor(cfg.CohortEnabled, cfg.CohortPercent, cfg.CohortSalt)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	minter, err := reward.NewERC721Minter(ctx, chainClient, rewardNFT, cfg.MinterKey, cfg.MintTimeout, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	threshold, err := cfg.ThresholdBaseUnits()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	gate, err := mintgate.NewGate(mintgate.Config{
		Threshold: threshold,
		Cooldown:  cfg.MintCooldown,
		Strict:    cfg.Strict,
	}, walletLedger, cohorts, minter, logger, controllerMetrics)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	sinks := storage.MultiSink{}
	if cfg.SwapLogPath != "" || cfg.MintLogPath != "" {
		sinks = append(sinks, storage.NewJsonlSink(cfg.SwapLogPath, cfg.MintLogPath))
	}
	if cfg.PGDSN != "" {
		pgStore, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		cleanups = append(cleanups, pgStore.Close)
		sinks = append(sinks, pgStore)
	}
	var sink storage.AnalyticSink = storage.NopSink{}
	if len(sinks) > 0 {
		sink = sinks
	}

	eng, err := engine.NewEngine(engine.Config{
		ConfirmationDepth:  cfg.ConfirmationDepth,
		ChunkSize:          cfg.ChunkSize,
		TrackedIsToken0:    trackedIsToken0,
		TrackTransfers:     cfg.TrackTransfers,
		MinTriggerInterval: cfg.MinTriggerInterval,
		PollInterval:       cfg.PollInterval,
		MaxRetries:         cfg.MaxRetries,
		RetryBackoff:       cfg.RetryBackoff,
		Strict:             cfg.Strict,
	}, chainClient, swapFetch, transferFetch, swapDecoder, mintDecoder,
		walletLedger, store, gate, sink, logger, controllerMetrics)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return eng, cleanup, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
