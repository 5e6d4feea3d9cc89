// Package eventstore owns the WasmEvent and Contract tables: idempotent
// upsert of a batch of parsed events, and the point/range reads the
// formula runtime issues against pinned-block state.
package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/sascha1337/wasmd-indexer/internal/apperr"
	"github.com/sascha1337/wasmd-indexer/internal/model"
	"github.com/sascha1337/wasmd-indexer/pkg/db/postgres"
	"go.uber.org/zap"
)

// maxContractUpsertRetries bounds the retry loop for transient conflicts
// on the contract bulk insert.
const maxContractUpsertRetries = 3

// Store is the Event Store: owner of WasmEvent and Contract rows.
type Store struct {
	db     *postgres.Client
	logger *zap.Logger
}

// New creates a Store over an already-connected Postgres client.
func New(db *postgres.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// InitSchema creates the events and contracts tables if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS contracts (
			address TEXT PRIMARY KEY,
			code_id BIGINT NOT NULL,
			instantiated_at_block BIGINT NOT NULL,
			instantiated_at TIMESTAMPTZ NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("init contracts table: %w", err)
	}

	if err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS wasm_events (
			block_height BIGINT NOT NULL,
			contract_address TEXT NOT NULL REFERENCES contracts(address),
			key TEXT NOT NULL,
			value TEXT,
			value_json JSONB,
			delete BOOLEAN NOT NULL DEFAULT false,
			block_time TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (block_height, contract_address, key)
		);
		CREATE INDEX IF NOT EXISTS idx_wasm_events_contract_key_height
			ON wasm_events (contract_address, key, block_height DESC);
	`); err != nil {
		return fmt.Errorf("init wasm_events table: %w", err)
	}

	return nil
}

// contractInfo accumulates the fields UpsertContracts needs per address:
// the code ID to (re)apply, and the earliest block/time seen for the
// write-once instantiated_at* columns.
type contractInfo struct {
	codeID uint64
	height uint64
	at     time.Time
}

// UpsertContracts extracts the unique contract addresses from batch and
// bulk-inserts them, updating code_id on conflict while leaving
// instantiated_at* write-once. Makes up to maxContractUpsertRetries
// attempts in total, retrying immediately on a transient conflict/deadlock.
func (s *Store) UpsertContracts(ctx context.Context, batch []model.WasmEvent) error {
	seen := map[string]contractInfo{}
	order := make([]string, 0, len(batch))
	for _, e := range batch {
		cur, ok := seen[e.ContractAddress]
		if !ok {
			order = append(order, e.ContractAddress)
			cur.height = e.BlockHeight
			cur.at = e.BlockTime
		} else if e.BlockHeight < cur.height {
			cur.height = e.BlockHeight
			cur.at = e.BlockTime
		}
		if e.Contract != nil {
			cur.codeID = e.Contract.CodeID
		}
		seen[e.ContractAddress] = cur
	}

	if len(order) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < maxContractUpsertRetries; attempt++ {
		lastErr = s.upsertContractsOnce(ctx, order, seen)
		if lastErr == nil {
			return nil
		}
		if !postgres.IsTransientConflict(lastErr) {
			return fmt.Errorf("%w: %v", apperr.ErrFatalDB, lastErr)
		}
		s.logger.Warn("contract upsert transient conflict, retrying",
			zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}
	return fmt.Errorf("%w: contract upsert exhausted retries: %v", apperr.ErrFatalDB, lastErr)
}

func (s *Store) upsertContractsOnce(ctx context.Context, order []string, seen map[string]contractInfo) error {
	pgBatch := s.db.PrepareBatch(ctx)
	for _, addr := range order {
		info := seen[addr]
		pgBatch.Queue(`
			INSERT INTO contracts (address, code_id, instantiated_at_block, instantiated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (address) DO UPDATE SET code_id = EXCLUDED.code_id
		`, addr, info.codeID, info.height, info.at)
	}

	br := s.db.SendBatch(ctx, pgBatch)
	defer br.Close()
	for range order {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertEvents bulk-inserts the deduplicated batch of WasmEvent rows,
// updating (value, value_json, delete) on a (block_height,
// contract_address, key) conflict. Returns the final rows with their
// contract attached.
func (s *Store) UpsertEvents(ctx context.Context, batch []model.WasmEvent) ([]model.WasmEvent, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	pgBatch := s.db.PrepareBatch(ctx)
	for _, e := range batch {
		pgBatch.Queue(`
			INSERT INTO wasm_events (block_height, contract_address, key, value, value_json, delete, block_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (block_height, contract_address, key) DO UPDATE SET
				value = EXCLUDED.value,
				value_json = EXCLUDED.value_json,
				delete = EXCLUDED.delete
		`, e.BlockHeight, e.ContractAddress, e.Key, e.Value, e.ValueJSON, e.Delete, e.BlockTime)
	}

	br := s.db.SendBatch(ctx, pgBatch)
	defer br.Close()
	for range batch {
		if _, err := br.Exec(); err != nil {
			return nil, fmt.Errorf("%w: upsert events: %v", apperr.ErrFatalDB, err)
		}
	}

	contracts, err := s.contractsByAddress(ctx, addressesOf(batch))
	if err != nil {
		return nil, err
	}

	out := make([]model.WasmEvent, len(batch))
	for i, e := range batch {
		e.Contract = contracts[e.ContractAddress]
		out[i] = e
	}
	return out, nil
}

func addressesOf(batch []model.WasmEvent) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range batch {
		if !seen[e.ContractAddress] {
			seen[e.ContractAddress] = true
			out = append(out, e.ContractAddress)
		}
	}
	return out
}

func (s *Store) contractsByAddress(ctx context.Context, addresses []string) (map[string]*model.Contract, error) {
	out := map[string]*model.Contract{}
	if len(addresses) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT address, code_id, instantiated_at_block, instantiated_at
		FROM contracts WHERE address = ANY($1)
	`, addresses)
	if err != nil {
		return nil, fmt.Errorf("query contracts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Contract
		if err := rows.Scan(&c.Address, &c.CodeID, &c.InstantiatedAtBlock, &c.InstantiatedAt); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		out[c.Address] = &c
	}
	return out, rows.Err()
}

// GetAtOrBefore returns the latest WasmEvent for (contract, key) at or
// before height, or nil if the key has never been set by that height.
func (s *Store) GetAtOrBefore(ctx context.Context, contract, key string, height uint64) (*model.WasmEvent, error) {
	var e model.WasmEvent
	err := s.db.QueryRow(ctx, `
		SELECT block_height, contract_address, key, value, value_json, delete, block_time
		FROM wasm_events
		WHERE contract_address = $1 AND key = $2 AND block_height <= $3
		ORDER BY block_height DESC
		LIMIT 1
	`, contract, key, height).Scan(&e.BlockHeight, &e.ContractAddress, &e.Key, &e.Value, &e.ValueJSON, &e.Delete, &e.BlockTime)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event at or before: %w", err)
	}
	return &e, nil
}

// GetStrictlyBefore returns the latest WasmEvent for (contract, key)
// strictly below height — used by the webhook dispatcher's getPrevious().
func (s *Store) GetStrictlyBefore(ctx context.Context, contract, key string, height uint64) (*model.WasmEvent, error) {
	if height == 0 {
		return nil, nil
	}
	return s.GetAtOrBefore(ctx, contract, key, height-1)
}

// GetMap returns the latest non-tombstoned value for every key under
// prefix at or before height — one row per distinct key, most recent wins.
func (s *Store) GetMap(ctx context.Context, contract, prefix string, height uint64) ([]model.WasmEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (key) block_height, contract_address, key, value, value_json, delete, block_time
		FROM wasm_events
		WHERE contract_address = $1
		  AND (key = $2 OR key LIKE $2 || ',%')
		  AND block_height <= $3
		ORDER BY key, block_height DESC
	`, contract, prefix, height)
	if err != nil {
		return nil, fmt.Errorf("get map: %w", err)
	}
	defer rows.Close()

	var out []model.WasmEvent
	for rows.Next() {
		var e model.WasmEvent
		if err := rows.Scan(&e.BlockHeight, &e.ContractAddress, &e.Key, &e.Value, &e.ValueJSON, &e.Delete, &e.BlockTime); err != nil {
			return nil, fmt.Errorf("scan map row: %w", err)
		}
		if e.Delete {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetCreatedAt returns the block time of the earliest write ever recorded
// for (contract, key), or nil if the key has never been set.
func (s *Store) GetCreatedAt(ctx context.Context, contract, key string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(ctx, `
		SELECT block_time FROM wasm_events
		WHERE contract_address = $1 AND key = $2
		ORDER BY block_height ASC LIMIT 1
	`, contract, key).Scan(&t)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get created at: %w", err)
	}
	return &t, nil
}

// DistinctHeights returns the distinct block heights in [from, to] at
// which contract wrote or deleted any key, ascending. Used by
// ComputeContractRange to know which blocks are worth re-evaluating.
func (s *Store) DistinctHeights(ctx context.Context, contract string, from, to uint64) ([]uint64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT block_height FROM wasm_events
		WHERE contract_address = $1 AND block_height BETWEEN $2 AND $3
		ORDER BY block_height ASC
	`, contract, from, to)
	if err != nil {
		return nil, fmt.Errorf("distinct heights: %w", err)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var h uint64
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan height: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ContractExists reports whether address has ever been observed.
func (s *Store) ContractExists(ctx context.Context, address string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM contracts WHERE address = $1)`, address).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check contract exists: %w", err)
	}
	return exists, nil
}

// HasEventsAtOrBefore reports whether contract wrote or deleted any key
// at or before height. A known contract can still fail this check when
// queried at a block before its first event — distinct from the
// contract never having been observed at all.
func (s *Store) HasEventsAtOrBefore(ctx context.Context, contract string, height uint64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM wasm_events WHERE contract_address = $1 AND block_height <= $2)
	`, contract, height).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check contract has events: %w", err)
	}
	return exists, nil
}
