package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rewardscope/internal/model"
)

// Store provides Postgres persistence for the analytic index. Inserts are
// keyed on (tx_hash, log_index) so re-running a chunk after a crash is a
// no-op.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// PutSwapBatch inserts swap records idempotently.
func (s *Store) PutSwapBatch(ctx context.Context, swaps []model.SwapRecord) error {
	if len(swaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, swap := range swaps {
		batch.Queue(`
			INSERT INTO swaps (
				block_number, tx_hash, log_index, sender, recipient,
				amount0, amount1, sqrt_price_x96, liquidity, tick, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			int64(swap.BlockNumber),
			swap.TxHash,
			int64(swap.LogIndex),
			swap.Sender,
			swap.Recipient,
			swap.Amount0,
			swap.Amount1,
			swap.SqrtPriceX96,
			swap.Liquidity,
			swap.Tick,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range swaps {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// PutMintBatch inserts mint records idempotently.
func (s *Store) PutMintBatch(ctx context.Context, mints []model.MintRecord) error {
	if len(mints) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, mint := range mints {
		batch.Queue(`
			INSERT INTO nft_mints (
				block_number, tx_hash, log_index, recipient, token_id, created_at
			) VALUES ($1,$2,$3,$4,$5,now())
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			int64(mint.BlockNumber),
			mint.TxHash,
			int64(mint.LogIndex),
			mint.Recipient,
			mint.TokenID,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range mints {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
