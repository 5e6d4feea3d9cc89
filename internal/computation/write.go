package computation

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sascha1337/wasmd-indexer/internal/formula"
	"github.com/sascha1337/wasmd-indexer/internal/model"
	"github.com/sascha1337/wasmd-indexer/pkg/db/postgres"
)

// CreateFromComputationOutputs upserts the intervals produced by
// ComputeContractRange for (formulaName, contract, args). Each interval
// either extends an existing row with equal output whose
// block_height_latest is the interval's BlockValid-1, or is inserted as a
// new row. Stored rows that overlap an interval are left as they are; no
// overlap check is made, so the stored ranges are not forced to be
// pairwise disjoint.
func (c *Cache) CreateFromComputationOutputs(ctx context.Context, formulaName, contract string, args formula.Args, intervals []formula.Interval) error {
	if len(intervals) == 0 {
		return nil
	}
	argsHash, err := Canonicalize(args)
	if err != nil {
		return err
	}
	return c.createFromIntervals(ctx, formulaName, contract, argsHash, argsHash, intervals)
}

func (c *Cache) createFromIntervals(ctx context.Context, formulaName, contract, argsHash, argsJSON string, intervals []formula.Interval) error {
	for _, iv := range intervals {
		if err := c.upsertInterval(ctx, formulaName, contract, argsHash, argsJSON, iv); err != nil {
			return err
		}
	}
	return nil
}

// upsertInterval inserts iv, first trying to extend a rightward-adjacent
// row with equal output (so ranges don't fragment on every new block),
// otherwise inserting a fresh row.
func (c *Cache) upsertInterval(ctx context.Context, formulaName, contract, argsHash, argsJSON string, iv formula.Interval) error {
	var extendID int64
	err := c.db.QueryRow(ctx, `
		SELECT id FROM computations
		WHERE formula = $1 AND target_contract = $2 AND args_hash = $3
		  AND block_height_latest = $4 - 1
		  AND output = $5::jsonb
		LIMIT 1
	`, formulaName, contract, argsHash, iv.BlockValid, string(iv.Output)).Scan(&extendID)

	if err == nil {
		if execErr := c.db.Exec(ctx, `
			UPDATE computations SET block_height_latest = $2 WHERE id = $1
		`, extendID, iv.BlockLatest); execErr != nil {
			return fmt.Errorf("extend computation %d: %w", extendID, execErr)
		}
		return c.replaceDependencies(ctx, extendID, iv.Dependencies)
	}
	if !postgres.IsNoRows(err) {
		return fmt.Errorf("find adjacent computation: %w", err)
	}

	var id int64
	if err := c.db.QueryRow(ctx, `
		INSERT INTO computations (formula, target_contract, args_hash, args, block_height_valid, block_height_latest, output)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING id
	`, formulaName, contract, argsHash, argsJSON, iv.BlockValid, iv.BlockLatest, string(iv.Output)).Scan(&id); err != nil {
		return fmt.Errorf("insert computation: %w", err)
	}

	return c.replaceDependencies(ctx, id, iv.Dependencies)
}

// replaceDependencies atomically swaps a computation's dependency rows
// for the union of its per-block dependency sets, collapsed by
// (contract, keyOrPrefix).
func (c *Cache) replaceDependencies(ctx context.Context, computationID int64, deps []model.Dependency) error {
	return c.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM computation_dependencies WHERE computation_id = $1`, computationID); err != nil {
			return fmt.Errorf("clear dependencies: %w", err)
		}
		if len(deps) == 0 {
			return nil
		}

		seen := map[model.Dependency]bool{}
		batch := &pgx.Batch{}
		for _, d := range deps {
			if seen[d] {
				continue
			}
			seen[d] = true
			batch.Queue(`
				INSERT INTO computation_dependencies (computation_id, contract, key_prefix, kind)
				VALUES ($1, $2, $3, $4)
			`, computationID, d.Contract, d.KeyOrPfx, int(d.Kind))
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range seen {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("insert dependency: %w", err)
			}
		}
		return nil
	})
}

// InvalidationCounts reports how many computations were truncated or
// destroyed by a single invalidation pass.
type InvalidationCounts struct {
	Updated   int
	Destroyed int
}

// UpdateComputationValidityDependentOnChanges runs the invalidation
// algorithm: for every computation whose dependency set intersects
// changes, either leave it untouched (change strictly after its bound),
// destroy it (change at or before its valid bound), or truncate its
// latest bound to hmin-1.
func (c *Cache) UpdateComputationValidityDependentOnChanges(ctx context.Context, changes []model.ChangeKey) (InvalidationCounts, error) {
	var counts InvalidationCounts
	if len(changes) == 0 {
		return counts, nil
	}

	affected, err := c.findAffected(ctx, changes)
	if err != nil {
		return counts, err
	}

	for id, hmin := range affected {
		var valid, latest uint64
		err := c.db.QueryRow(ctx, `SELECT block_height_valid, block_height_latest FROM computations WHERE id = $1`, id).Scan(&valid, &latest)
		if err != nil {
			if postgres.IsNoRows(err) {
				continue // already removed by a concurrent invalidation pass
			}
			return counts, fmt.Errorf("load computation %d: %w", id, err)
		}

		switch {
		case hmin > latest:
			// still valid through its existing bound; recompute lazily on next read
			continue
		case hmin <= valid:
			if err := c.db.Exec(ctx, `DELETE FROM computations WHERE id = $1`, id); err != nil {
				return counts, fmt.Errorf("destroy computation %d: %w", id, err)
			}
			counts.Destroyed++
		default:
			if err := c.db.Exec(ctx, `UPDATE computations SET block_height_latest = $2 WHERE id = $1`, id, hmin-1); err != nil {
				return counts, fmt.Errorf("truncate computation %d: %w", id, err)
			}
			counts.Updated++
		}
	}

	return counts, nil
}

// findAffected returns, for every computation whose dependency index
// intersects one of changes, the minimum block height among the
// intersecting changes (hmin).
func (c *Cache) findAffected(ctx context.Context, changes []model.ChangeKey) (map[int64]uint64, error) {
	affected := map[int64]uint64{}

	// The dependency index stores keys/prefixes; a change (c,k) intersects
	// a Point dependency iff key_prefix = k, and a Prefix dependency iff
	// k = key_prefix or k starts with key_prefix + ",". We express that
	// as a single LIKE-based predicate per change, since keys are
	// comma-separated decimal byte strings rather than bytea ranges.
	for _, ch := range changes {
		rows, err := c.db.Query(ctx, `
			SELECT computation_id FROM computation_dependencies
			WHERE contract = $1
			  AND (
				(kind = 0 AND key_prefix = $2)
				OR (kind = 1 AND ($2 = key_prefix OR $2 LIKE key_prefix || ',%'))
			  )
		`, ch.Contract, ch.Key)
		if err != nil {
			return nil, fmt.Errorf("query affected computations: %w", err)
		}

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan affected computation: %w", err)
			}
			if cur, ok := affected[id]; !ok || ch.BlockHeight < cur {
				affected[id] = ch.BlockHeight
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return affected, nil
}
