package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rangeCall struct {
	from, to uint64
}

// scriptedSource replies per-range from a script and records every call.
type scriptedSource struct {
	calls   []rangeCall
	replies map[string][]reply
}

type reply struct {
	logs []types.Log
	err  error
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{replies: make(map[string][]reply)}
}

func (s *scriptedSource) on(from, to uint64, logs []types.Log, err error) {
	key := fmt.Sprintf("%d-%d", from, to)
	s.replies[key] = append(s.replies[key], reply{logs: logs, err: err})
}

func (s *scriptedSource) FilterLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	s.calls = append(s.calls, rangeCall{from: from, to: to})
	key := fmt.Sprintf("%d-%d", from, to)
	queue := s.replies[key]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unscripted range %s", key)
	}
	next := queue[0]
	if len(queue) > 1 {
		s.replies[key] = queue[1:]
	}
	return next.logs, next.err
}

func logAt(block uint64, index uint) types.Log {
	return types.Log{
		BlockNumber: block,
		Index:       index,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%064x", block*1000+uint64(index))),
	}
}

func testConfig() Config {
	return Config{RateLimitBackoff: time.Millisecond, SingleBlockDelay: time.Millisecond}
}

func TestFetchRangeSuccess(t *testing.T) {
	source := newScriptedSource()
	want := []types.Log{logAt(100, 0), logAt(150, 2)}
	source.on(100, 200, want, nil)

	fetcher := NewFetcher(source, testConfig(), nil, nil)
	logs, err := fetcher.FetchRange(context.Background(), 100, 200)
	require.NoError(t, err)
	assert.Equal(t, want, logs)
	assert.Equal(t, []rangeCall{{100, 200}}, source.calls)
}

func TestFetchRangeRetriesRateLimitOnSameRange(t *testing.T) {
	source := newScriptedSource()
	source.on(100, 200, nil, errors.New("429 Too Many Requests"))
	source.on(100, 200, nil, errors.New("rate limit exceeded"))
	source.on(100, 200, []types.Log{logAt(120, 0)}, nil)

	fetcher := NewFetcher(source, testConfig(), nil, nil)
	logs, err := fetcher.FetchRange(context.Background(), 100, 200)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	// Rate limits never shrink the range.
	assert.Equal(t, []rangeCall{{100, 200}, {100, 200}, {100, 200}}, source.calls)
}

func TestFetchRangeBisectsOnFailure(t *testing.T) {
	source := newScriptedSource()
	source.on(100, 200, nil, errors.New("query returned more than 10000 results"))
	source.on(100, 150, []types.Log{logAt(110, 0)}, nil)
	source.on(151, 200, []types.Log{logAt(180, 1)}, nil)

	fetcher := NewFetcher(source, testConfig(), nil, nil)
	logs, err := fetcher.FetchRange(context.Background(), 100, 200)
	require.NoError(t, err)

	require.Len(t, logs, 2)
	assert.Equal(t, uint64(110), logs[0].BlockNumber)
	assert.Equal(t, uint64(180), logs[1].BlockNumber)
	assert.Equal(t, []rangeCall{{100, 200}, {100, 150}, {151, 200}}, source.calls)
}

func TestFetchRangeSingleBlockRetriesOnceThenFails(t *testing.T) {
	source := newScriptedSource()
	failure := errors.New("internal server error")
	source.on(42, 42, nil, failure)
	source.on(42, 42, nil, failure)

	fetcher := NewFetcher(source, testConfig(), nil, nil)
	_, err := fetcher.FetchRange(context.Background(), 42, 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, []rangeCall{{42, 42}, {42, 42}}, source.calls)
}

func TestFetchRangeSingleBlockRecoversOnRetry(t *testing.T) {
	source := newScriptedSource()
	source.on(42, 42, nil, errors.New("internal server error"))
	source.on(42, 42, []types.Log{logAt(42, 3)}, nil)

	fetcher := NewFetcher(source, testConfig(), nil, nil)
	logs, err := fetcher.FetchRange(context.Background(), 42, 42)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestFetchRangeDeepBisection(t *testing.T) {
	// Every multi-block range fails until the ranges collapse far enough
	// for single blocks to answer.
	source := newScriptedSource()
	source.on(1, 4, nil, errors.New("boom"))
	source.on(1, 2, nil, errors.New("boom"))
	source.on(3, 4, nil, errors.New("boom"))
	source.on(1, 1, []types.Log{logAt(1, 0)}, nil)
	source.on(2, 2, nil, nil)
	source.on(3, 3, []types.Log{logAt(3, 0)}, nil)
	source.on(4, 4, []types.Log{logAt(4, 0)}, nil)

	fetcher := NewFetcher(source, testConfig(), nil, nil)
	logs, err := fetcher.FetchRange(context.Background(), 1, 4)
	require.NoError(t, err)

	require.Len(t, logs, 3)
	assert.Equal(t, uint64(1), logs[0].BlockNumber)
	assert.Equal(t, uint64(3), logs[1].BlockNumber)
	assert.Equal(t, uint64(4), logs[2].BlockNumber)
}

func TestFetchRangeInvalidBounds(t *testing.T) {
	fetcher := NewFetcher(newScriptedSource(), testConfig(), nil, nil)
	_, err := fetcher.FetchRange(context.Background(), 10, 5)
	assert.Error(t, err)
}

func TestFetchRangeHonorsContextDuringBackoff(t *testing.T) {
	source := newScriptedSource()
	source.on(1, 2, nil, errors.New("429 Too Many Requests"))

	fetcher := NewFetcher(source, Config{RateLimitBackoff: time.Minute, SingleBlockDelay: time.Millisecond}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := fetcher.FetchRange(ctx, 1, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(errors.New("429 Too Many Requests")))
	assert.True(t, IsRateLimited(errors.New("Rate Limit exceeded")))
	assert.True(t, IsRateLimited(errors.New("request limit reached")))
	assert.False(t, IsRateLimited(errors.New("connection refused")))
	assert.False(t, IsRateLimited(nil))
}
