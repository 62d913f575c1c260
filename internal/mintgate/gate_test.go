package mintgate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardscope/internal/cohort"
	"rewardscope/internal/ledger"
	"rewardscope/internal/model"
)

// fakeRewards plays the on-chain reward ledger. Issued wallets move to the
// issued set so HasIssued stays consistent with Issue across evaluations.
type fakeRewards struct {
	issued       map[string]bool
	issueErr     error
	hasIssuedErr error
	issueCalls   []string
	checkCalls   int
}

func newFakeRewards() *fakeRewards {
	return &fakeRewards{issued: make(map[string]bool)}
}

func (f *fakeRewards) HasIssued(ctx context.Context, wallet string) (bool, error) {
	f.checkCalls++
	if f.hasIssuedErr != nil {
		return false, f.hasIssuedErr
	}
	return f.issued[wallet], nil
}

func (f *fakeRewards) Issue(ctx context.Context, wallet string) (string, error) {
	f.issueCalls = append(f.issueCalls, wallet)
	if f.issueErr != nil {
		return "", f.issueErr
	}
	f.issued[wallet] = true
	return fmt.Sprintf("0x%040x", len(f.issueCalls)), nil
}

const (
	// salt-1 buckets: eligibleWallet is 41, excludedWallet is 85.
	eligibleWallet = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	excludedWallet = "0xcccccccccccccccccccccccccccccccccccccccc"
)

type gateFixture struct {
	gate    *Gate
	ledger  *ledger.Ledger
	rewards *fakeRewards
	clock   time.Time
}

func newGateFixture(t *testing.T, cfg Config) *gateFixture {
	t.Helper()
	if cfg.Threshold == nil {
		cfg.Threshold = big.NewInt(1000)
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 10 * time.Minute
	}

	walletLedger := ledger.NewLedger(model.NewControllerState())
	assignor, err := cohort.NewAssignor(true, 50, "salt-1")
	require.NoError(t, err)
	rewards := newFakeRewards()

	gate, err := NewGate(cfg, walletLedger, assignor, rewards, nil, nil)
	require.NoError(t, err)

	f := &gateFixture{gate: gate, ledger: walletLedger, rewards: rewards, clock: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	gate.now = func() time.Time { return f.clock }
	return f
}

func (f *gateFixture) credit(t *testing.T, wallet string, amount int64) {
	t.Helper()
	_, err := f.ledger.Credit(wallet, big.NewInt(amount))
	require.NoError(t, err)
}

func TestEvaluateIssuesAtThreshold(t *testing.T) {
	f := newGateFixture(t, Config{})

	f.credit(t, eligibleWallet, 600)
	require.NoError(t, f.gate.Evaluate(context.Background(), eligibleWallet))
	assert.Empty(t, f.rewards.issueCalls, "below threshold, nothing should issue")

	f.credit(t, eligibleWallet, 500)
	require.NoError(t, f.gate.Evaluate(context.Background(), eligibleWallet))
	assert.Equal(t, []string{eligibleWallet}, f.rewards.issueCalls)
	assert.True(t, f.ledger.CachedMinted(eligibleWallet))
}

func TestEvaluateIssuesAtMostOnce(t *testing.T) {
	f := newGateFixture(t, Config{})
	f.credit(t, eligibleWallet, 5000)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.gate.Evaluate(context.Background(), eligibleWallet))
	}
	assert.Len(t, f.rewards.issueCalls, 1)
}

func TestEvaluateSkipsExcludedCohort(t *testing.T) {
	f := newGateFixture(t, Config{})
	f.credit(t, excludedWallet, 1000000)

	require.NoError(t, f.gate.Evaluate(context.Background(), excludedWallet))
	assert.Empty(t, f.rewards.issueCalls)
	assert.Zero(t, f.rewards.checkCalls, "excluded wallets never reach the authoritative check")
}

func TestEvaluateAdoptsAuthoritativeMint(t *testing.T) {
	// The wallet already holds the reward on chain but the local cache lost
	// track of it, e.g. after a state file reset.
	f := newGateFixture(t, Config{})
	f.rewards.issued[eligibleWallet] = true
	f.credit(t, eligibleWallet, 2000)

	require.NoError(t, f.gate.Evaluate(context.Background(), eligibleWallet))
	assert.Empty(t, f.rewards.issueCalls)
	assert.True(t, f.ledger.CachedMinted(eligibleWallet), "authoritative mint should backfill the cache")
}

func TestEvaluateDiscardsStaleCache(t *testing.T) {
	// Cache claims minted, authority says not. The cache may justify a skip
	// only when the authority confirms it; here it must be discarded and the
	// reward issued.
	f := newGateFixture(t, Config{})
	f.ledger.SetMinted(eligibleWallet)
	f.credit(t, eligibleWallet, 2000)

	require.NoError(t, f.gate.Evaluate(context.Background(), eligibleWallet))
	assert.Equal(t, []string{eligibleWallet}, f.rewards.issueCalls)
}

func TestEvaluateDefersWhenAuthorityUnreachable(t *testing.T) {
	f := newGateFixture(t, Config{})
	f.credit(t, eligibleWallet, 2000)
	f.rewards.hasIssuedErr = errors.New("connection refused")

	require.NoError(t, f.gate.Evaluate(context.Background(), eligibleWallet))
	assert.Empty(t, f.rewards.issueCalls)

	// No cooldown marker either: the next evaluation retries immediately.
	_, failed := f.ledger.LastMintFailure(eligibleWallet)
	assert.False(t, failed)

	f.rewards.hasIssuedErr = nil
	require.NoError(t, f.gate.Evaluate(context.Background(), eligibleWallet))
	assert.Equal(t, []string{eligibleWallet}, f.rewards.issueCalls)
}

func TestEvaluateCooldownAfterFailure(t *testing.T) {
	f := newGateFixture(t, Config{Cooldown: 10 * time.Minute})
	f.credit(t, eligibleWallet, 2000)
	f.rewards.issueErr = errors.New("nonce too low")

	require.NoError(t, f.gate.Evaluate(context.Background(), eligibleWallet))
	require.Len(t, f.rewards.issueCalls, 1)

	// Inside the cooldown window nothing happens, not even the
	// authoritative check.
	checksBefore := f.rewards.checkCalls
	f.clock = f.clock.Add(5 * time.Minute)
	require.NoError(t, f.gate.Evaluate(context.Background(), eligibleWallet))
	assert.Len(t, f.rewards.issueCalls, 1)
	assert.Equal(t, checksBefore, f.rewards.checkCalls)

	// Past the window the issuance is retried and succeeds.
	f.rewards.issueErr = nil
	f.clock = f.clock.Add(6 * time.Minute)
	require.NoError(t, f.gate.Evaluate(context.Background(), eligibleWallet))
	assert.Len(t, f.rewards.issueCalls, 2)
	assert.True(t, f.ledger.CachedMinted(eligibleWallet))
}

func TestEvaluateStrictModePropagatesFailure(t *testing.T) {
	f := newGateFixture(t, Config{Strict: true})
	f.credit(t, eligibleWallet, 2000)
	failure := errors.New("insufficient funds for gas")
	f.rewards.issueErr = failure

	err := f.gate.Evaluate(context.Background(), eligibleWallet)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure)

	// The failure marker is still recorded so a restart in tolerant mode
	// honors the cooldown.
	_, failed := f.ledger.LastMintFailure(eligibleWallet)
	assert.True(t, failed)
}

func TestEvaluateNormalizesWallet(t *testing.T) {
	f := newGateFixture(t, Config{})
	f.credit(t, eligibleWallet, 2000)

	require.NoError(t, f.gate.Evaluate(context.Background(), "0xBBBBbbbbBBBBbbbbBBBBbbbbBBBBbbbbBBBBbbbb"))
	assert.Equal(t, []string{eligibleWallet}, f.rewards.issueCalls)
}

func TestNewGateValidation(t *testing.T) {
	walletLedger := ledger.NewLedger(nil)
	assignor, err := cohort.NewAssignor(false, 0, "")
	require.NoError(t, err)

	_, err = NewGate(Config{Threshold: big.NewInt(0)}, walletLedger, assignor, newFakeRewards(), nil, nil)
	assert.Error(t, err)

	_, err = NewGate(Config{Threshold: big.NewInt(1)}, nil, assignor, newFakeRewards(), nil, nil)
	assert.Error(t, err)

	_, err = NewGate(Config{Threshold: big.NewInt(1)}, walletLedger, assignor, nil, nil, nil)
	assert.Error(t, err)
}

func TestMintStatusString(t *testing.T) {
	assert.Equal(t, "unknown", StatusUnknown.String())
	assert.Equal(t, "minted", StatusMinted.String())
	assert.Equal(t, "not_minted", StatusNotMinted.String())
}
