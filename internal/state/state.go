// Package state owns the single-row pipeline checkpoint: the last wasm
// block height the ingestion driver has fully flushed, and the latest
// block height/time observed from the source. An upsert-on-conflict
// singleton row, since this domain has no multi-chain axis.
package state

import (
	"context"
	"fmt"

	"github.com/sascha1337/wasmd-indexer/internal/model"
	"github.com/sascha1337/wasmd-indexer/pkg/db/postgres"
)

// singletonID is the fixed primary key of the one state row this table holds.
const singletonID = 1

// Store owns the state table.
type Store struct {
	db *postgres.Client
}

// New creates a Store over an already-connected Postgres client.
func New(db *postgres.Client) *Store {
	return &Store{db: db}
}

// InitSchema creates the state table and seeds its single row if absent.
func (s *Store) InitSchema(ctx context.Context) error {
	if err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS state (
			id BIGINT PRIMARY KEY,
			last_wasm_block_height_exported BIGINT NOT NULL DEFAULT 0,
			latest_block_height BIGINT NOT NULL DEFAULT 0,
			latest_block_time_unix_ms BIGINT NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("init state table: %w", err)
	}

	return s.db.Exec(ctx, `
		INSERT INTO state (id, last_wasm_block_height_exported, latest_block_height, latest_block_time_unix_ms)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (id) DO NOTHING
	`, singletonID)
}

// Get returns the current checkpoint.
func (s *Store) Get(ctx context.Context) (model.State, error) {
	var st model.State
	err := s.db.QueryRow(ctx, `
		SELECT last_wasm_block_height_exported, latest_block_height, latest_block_time_unix_ms
		FROM state WHERE id = $1
	`, singletonID).Scan(&st.LastWasmBlockHeightExported, &st.LatestBlockHeight, &st.LatestBlockTimeUnixMs)
	if err != nil {
		return model.State{}, fmt.Errorf("get state: %w", err)
	}
	return st, nil
}

// AdvanceExported raises last_wasm_block_height_exported to height if
// height is greater than the current value — the flush checkpoint update,
// monotonic so a retried or out-of-order flush can never move it backward.
func (s *Store) AdvanceExported(ctx context.Context, height uint64) error {
	return s.db.Exec(ctx, `
		UPDATE state SET last_wasm_block_height_exported = GREATEST(last_wasm_block_height_exported, $1)
		WHERE id = $2
	`, height, singletonID)
}

// AdviseLatest raises latest_block_height/latest_block_time_unix_ms to the
// given values if greater than current. The ingestion driver calls it at
// the end of each flush with the flushed batch's highest block, right
// after AdvanceExported.
func (s *Store) AdviseLatest(ctx context.Context, height, timeUnixMs uint64) error {
	return s.db.Exec(ctx, `
		UPDATE state SET
			latest_block_height = GREATEST(latest_block_height, $1),
			latest_block_time_unix_ms = GREATEST(latest_block_time_unix_ms, $2)
		WHERE id = $3
	`, height, timeUnixMs, singletonID)
}
