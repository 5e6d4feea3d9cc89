// Package computation implements the computation cache: stores past
// formula outputs keyed by (formula, contract, args, blockRange), serves
// reads through the formula runtime on a cache miss, and
// invalidates/truncates cached rows when new events or transformations
// land in their dependency set.
package computation

import (
	"context"
	"encoding/json"
	"fmt"

	joseJSON "github.com/go-jose/go-jose/v4/json"

	"github.com/sascha1337/wasmd-indexer/internal/apperr"
	"github.com/sascha1337/wasmd-indexer/internal/formula"
	"github.com/sascha1337/wasmd-indexer/internal/model"
	"github.com/sascha1337/wasmd-indexer/pkg/db/postgres"
	"go.uber.org/zap"
)

// Cache owns the Computation and ComputationDependency tables.
type Cache struct {
	db      *postgres.Client
	runtime *formula.Runtime
	logger  *zap.Logger
}

// New creates a Cache backed by db, evaluating misses through runtime.
func New(db *postgres.Client, runtime *formula.Runtime, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{db: db, runtime: runtime, logger: logger}
}

// InitSchema creates the computations and computation_dependencies tables.
func (c *Cache) InitSchema(ctx context.Context) error {
	if err := c.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS computations (
			id BIGSERIAL PRIMARY KEY,
			formula TEXT NOT NULL,
			target_contract TEXT NOT NULL,
			args_hash TEXT NOT NULL,
			args TEXT NOT NULL,
			block_height_valid BIGINT NOT NULL,
			block_height_latest BIGINT NOT NULL,
			output JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_computations_identity
			ON computations (formula, target_contract, args_hash, block_height_valid, block_height_latest);
	`); err != nil {
		return fmt.Errorf("init computations table: %w", err)
	}

	if err := c.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS computation_dependencies (
			computation_id BIGINT NOT NULL REFERENCES computations(id) ON DELETE CASCADE,
			contract TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			kind SMALLINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_computation_dependencies_lookup
			ON computation_dependencies (contract, key_prefix);
	`); err != nil {
		return fmt.Errorf("init computation_dependencies table: %w", err)
	}

	return nil
}

// Canonicalize produces the key-sorted JSON encoding of args used as part
// of a computation's identity. Both encoding/json and go-jose's json
// (which the rest of this package uses for API bodies) sort map keys when
// marshaling a map[string]string, so this is a direct encode.
func Canonicalize(args formula.Args) (string, error) {
	b, err := joseJSON.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("canonicalize args: %w", err)
	}
	return string(b), nil
}

// Query implements the read path (§4.4): return a cached row covering
// atBlock if one exists; otherwise evaluate and cache if atBlock is
// within the indexed range; otherwise fail NotYetIndexed.
func (c *Cache) Query(ctx context.Context, formulaName, contract string, args formula.Args, atBlock, latestIndexedHeight uint64) (json.RawMessage, error) {
	argsHash, err := Canonicalize(args)
	if err != nil {
		return nil, err
	}

	row, err := c.findCovering(ctx, formulaName, contract, argsHash, atBlock)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return row.Output, nil
	}

	if atBlock > latestIndexedHeight {
		return nil, fmt.Errorf("%w: block %d > latest indexed %d", apperr.ErrNotYetIndexed, atBlock, latestIndexedHeight)
	}

	result, err := c.runtime.Evaluate(ctx, formulaName, contract, args, atBlock, 0)
	if err != nil {
		return nil, err
	}

	if err := c.createFromIntervals(ctx, formulaName, contract, argsHash, argsHash, []formula.Interval{{
		BlockValid:   atBlock,
		BlockLatest:  atBlock,
		Output:       result.Output,
		Dependencies: result.Dependencies,
	}}); err != nil {
		c.logger.Warn("computation cache write failed after evaluate", zap.Error(err))
	}

	return result.Output, nil
}

func (c *Cache) findCovering(ctx context.Context, formulaName, contract, argsHash string, atBlock uint64) (*model.Computation, error) {
	var row model.Computation
	err := c.db.QueryRow(ctx, `
		SELECT id, formula, target_contract, args_hash, args, block_height_valid, block_height_latest, output
		FROM computations
		WHERE formula = $1 AND target_contract = $2 AND args_hash = $3
		  AND block_height_valid <= $4 AND $4 <= block_height_latest
		LIMIT 1
	`, formulaName, contract, argsHash, atBlock).Scan(
		&row.ID, &row.Formula, &row.TargetContract, &row.ArgsHash, &row.Args,
		&row.BlockHeightValid, &row.BlockHeightLatest, &row.Output,
	)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find covering computation: %w", err)
	}
	return &row, nil
}
