package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds controller settings loaded from flags, env, or config file.
type Config struct {
	RPCURL           string
	PoolAddress      string
	TokenAddress     string
	RewardNFTAddress string
	MinterKey        string

	ConfirmationDepth  uint64
	ChunkSize          uint64
	MinTriggerInterval time.Duration
	PollInterval       time.Duration

	RateLimitBackoff time.Duration
	SingleBlockDelay time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration

	// Threshold is the cumulative bought volume, in the tracked token's base
	// units, at which a wallet becomes mint-eligible.
	Threshold string

	CohortEnabled bool
	CohortSalt    string
	CohortPercent int

	MintCooldown time.Duration
	MintTimeout  time.Duration
	Strict       bool

	TrackTransfers bool

	StatePath   string
	SwapLogPath string
	MintLogPath string
	PGDSN       string

	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONTROLLER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("confirmation-depth", uint64(5))
	v.SetDefault("chunk-size", uint64(2000))
	v.SetDefault("min-trigger-interval", 10*time.Second)
	v.SetDefault("poll-interval", 15*time.Second)
	v.SetDefault("rate-limit-backoff", 5*time.Second)
	v.SetDefault("single-block-delay", time.Second)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("cohort-enabled", true)
	v.SetDefault("cohort-percent", 50)
	v.SetDefault("mint-cooldown", 10*time.Minute)
	v.SetDefault("mint-timeout", time.Minute)
	v.SetDefault("state", "./data/reward_state.json")
	v.SetDefault("swap-log", "./data/swaps.jsonl")
	v.SetDefault("mint-log", "./data/mints.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:             v.GetString("rpc"),
		PoolAddress:        v.GetString("pool"),
		TokenAddress:       v.GetString("token"),
		RewardNFTAddress:   v.GetString("reward-nft"),
		MinterKey:          v.GetString("minter-key"),
		ConfirmationDepth:  v.GetUint64("confirmation-depth"),
		ChunkSize:          v.GetUint64("chunk-size"),
		MinTriggerInterval: v.GetDuration("min-trigger-interval"),
		PollInterval:       v.GetDuration("poll-interval"),
		RateLimitBackoff:   v.GetDuration("rate-limit-backoff"),
		SingleBlockDelay:   v.GetDuration("single-block-delay"),
		MaxRetries:         v.GetInt("max-retries"),
		RetryBackoff:       v.GetDuration("retry-backoff"),
		Threshold:          v.GetString("threshold"),
		CohortEnabled:      v.GetBool("cohort-enabled"),
		CohortSalt:         v.GetString("cohort-salt"),
		CohortPercent:      v.GetInt("cohort-percent"),
		MintCooldown:       v.GetDuration("mint-cooldown"),
		MintTimeout:        v.GetDuration("mint-timeout"),
		Strict:             v.GetBool("strict"),
		TrackTransfers:     v.GetBool("track-transfers"),
		StatePath:          v.GetString("state"),
		SwapLogPath:        v.GetString("swap-log"),
		MintLogPath:        v.GetString("mint-log"),
		PGDSN:              v.GetString("pg-dsn"),
		MetricsAddr:        v.GetString("metrics-addr"),
		LogLevel:           v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks settings that are fatal at startup when wrong.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(c.PoolAddress) {
		return fmt.Errorf("invalid pool address: %q", c.PoolAddress)
	}
	if !common.IsHexAddress(c.TokenAddress) {
		return fmt.Errorf("invalid token address: %q", c.TokenAddress)
	}
	if !common.IsHexAddress(c.RewardNFTAddress) {
		return fmt.Errorf("invalid reward nft address: %q", c.RewardNFTAddress)
	}
	if c.MinterKey == "" {
		return fmt.Errorf("minter key is required")
	}
	if c.ChunkSize == 0 {
		return fmt.Errorf("chunk size must be greater than zero")
	}
	if _, err := c.ThresholdBaseUnits(); err != nil {
		return err
	}
	if c.CohortEnabled && strings.TrimSpace(c.CohortSalt) == "" {
		return fmt.Errorf("cohort salt is required when cohort gating is enabled")
	}
	return nil
}

// ThresholdBaseUnits parses the volume threshold as a positive base-unit
// integer.
func (c Config) ThresholdBaseUnits() (*big.Int, error) {
	raw := strings.TrimSpace(c.Threshold)
	if raw == "" {
		return nil, fmt.Errorf("volume threshold is required")
	}
	threshold, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid volume threshold: %q", raw)
	}
	if threshold.Sign() <= 0 {
		return nil, fmt.Errorf("volume threshold must be positive: %q", raw)
	}
	return threshold, nil
}
