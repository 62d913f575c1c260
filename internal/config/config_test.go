package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		RPCURL:           "wss://example.invalid/ws",
		PoolAddress:      "0x1111111111111111111111111111111111111111",
		TokenAddress:     "0x2222222222222222222222222222222222222222",
		RewardNFTAddress: "0x3333333333333333333333333333333333333333",
		MinterKey:        "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		ChunkSize:        2000,
		Threshold:        "1000000000000000000",
		CohortEnabled:    true,
		CohortSalt:       "salt-1",
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing rpc", func(c *Config) { c.RPCURL = "" }},
		{"bad pool address", func(c *Config) { c.PoolAddress = "not-an-address" }},
		{"bad token address", func(c *Config) { c.TokenAddress = "0x123" }},
		{"bad nft address", func(c *Config) { c.RewardNFTAddress = "" }},
		{"missing minter key", func(c *Config) { c.MinterKey = "" }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"missing threshold", func(c *Config) { c.Threshold = "" }},
		{"salt required with cohort", func(c *Config) { c.CohortSalt = "   " }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateSaltOptionalWhenCohortDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.CohortEnabled = false
	cfg.CohortSalt = ""
	assert.NoError(t, cfg.Validate())
}

func TestThresholdBaseUnits(t *testing.T) {
	cfg := validConfig()

	threshold, err := cfg.ThresholdBaseUnits()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", threshold.String())

	cfg.Threshold = "  42 "
	threshold, err = cfg.ThresholdBaseUnits()
	require.NoError(t, err)
	assert.Equal(t, "42", threshold.String())

	for _, bad := range []string{"", "0", "-5", "1.5", "1e18", "0x10"} {
		cfg.Threshold = bad
		_, err := cfg.ThresholdBaseUnits()
		assert.Error(t, err, "threshold %q", bad)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), cfg.ConfirmationDepth)
	assert.Equal(t, uint64(2000), cfg.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.MinTriggerInterval)
	assert.Equal(t, 10*time.Minute, cfg.MintCooldown)
	assert.True(t, cfg.CohortEnabled)
	assert.Equal(t, 50, cfg.CohortPercent)
	assert.Equal(t, "./data/reward_state.json", cfg.StatePath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Uint64("chunk-size", 2000, "")
	flags.String("rpc", "", "")
	require.NoError(t, flags.Parse([]string{"--chunk-size=500", "--rpc=wss://node.example/ws"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), cfg.ChunkSize)
	assert.Equal(t, "wss://node.example/ws", cfg.RPCURL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONTROLLER_LOG_LEVEL", "debug")
	t.Setenv("CONTROLLER_COHORT_SALT", "env-salt")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "env-salt", cfg.CohortSalt)
}
