package storage

import (
	"context"

	"rewardscope/internal/model"
)

// AnalyticSink receives a copy of every folded swap and observed mint for
// offline analysis. Sinks are write-only from the controller's perspective and
// must be idempotent on (tx hash, log index); a failing sink never blocks the
// core ledger.
type AnalyticSink interface {
	PutSwapBatch(ctx context.Context, swaps []model.SwapRecord) error
	PutMintBatch(ctx context.Context, mints []model.MintRecord) error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) PutSwapBatch(context.Context, []model.SwapRecord) error { return nil }
func (NopSink) PutMintBatch(context.Context, []model.MintRecord) error { return nil }

// MultiSink fans records out to several sinks, returning the first error.
type MultiSink []AnalyticSink

func (m MultiSink) PutSwapBatch(ctx context.Context, swaps []model.SwapRecord) error {
	for _, sink := range m {
		if err := sink.PutSwapBatch(ctx, swaps); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) PutMintBatch(ctx context.Context, mints []model.MintRecord) error {
	for _, sink := range m {
		if err := sink.PutMintBatch(ctx, mints); err != nil {
			return err
		}
	}
	return nil
}
