package formula

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sascha1337/wasmd-indexer/internal/apperr"
	"github.com/sascha1337/wasmd-indexer/internal/eventstore"
	"github.com/sascha1337/wasmd-indexer/internal/model"
)

// Runtime evaluates registered formulas against pinned-block state.
type Runtime struct {
	store    *eventstore.Store
	registry *Registry
	chainID  string
}

// NewRuntime creates a Runtime over store and registry.
func NewRuntime(store *eventstore.Store, registry *Registry, chainID string) *Runtime {
	return &Runtime{store: store, registry: registry, chainID: chainID}
}

// Result is a formula's output plus the dependency set recorded while
// producing it.
type Result struct {
	Output       json.RawMessage
	Dependencies []model.Dependency
}

// Evaluate runs formula name against contract at block h with args,
// returning its JSON-encoded output and recorded dependencies.
func (r *Runtime) Evaluate(ctx context.Context, name, contract string, args Args, h uint64, blockTimeUnixMs uint64) (Result, error) {
	f, err := r.registry.Lookup(name)
	if err != nil {
		return Result{}, err
	}

	exists, err := r.store.ContractExists(ctx, contract)
	if err != nil {
		return Result{}, fmt.Errorf("check contract: %w", err)
	}
	if !exists {
		return Result{}, fmt.Errorf("%w: %s", apperr.ErrContractNotFound, contract)
	}

	hasEvents, err := r.store.HasEventsAtOrBefore(ctx, contract, h)
	if err != nil {
		return Result{}, fmt.Errorf("check contract events: %w", err)
	}
	if !hasEvents {
		return Result{}, fmt.Errorf("%w: %s has no events at or before block %d", apperr.ErrNoEvents, contract, h)
	}

	env := NewEnvironment(r.store, r.registry, contract, EnvInfo{
		BlockHeight:     h,
		BlockTimeUnixMs: blockTimeUnixMs,
		ChainID:         r.chainID,
	})

	out, err := f(ctx, env, args)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", apperr.ErrFormula, name, err)
	}

	b, err := json.Marshal(out)
	if err != nil {
		return Result{}, fmt.Errorf("%w: marshal output: %v", apperr.ErrFormula, err)
	}

	return Result{Output: b, Dependencies: env.Dependencies()}, nil
}

// Interval is one run of constant formula output over a contiguous block range.
type Interval struct {
	BlockValid   uint64
	BlockLatest  uint64
	Output       json.RawMessage
	Dependencies []model.Dependency
}

// ComputeContractRange evaluates f at every distinct block in
// [fromBlock, toBlock] at which any event relevant to the formula's
// target contract occurred, run-length-compressing adjacent blocks with
// equal output into a single Interval.
func (r *Runtime) ComputeContractRange(ctx context.Context, name, contract string, args Args, fromBlock, toBlock uint64) ([]Interval, error) {
	heights, err := r.relevantHeights(ctx, contract, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	if len(heights) == 0 {
		return nil, nil
	}

	var intervals []Interval
	for _, h := range heights {
		res, err := r.Evaluate(ctx, name, contract, args, h, 0)
		if err != nil {
			return nil, err
		}

		if n := len(intervals); n > 0 && jsonEqual(intervals[n-1].Output, res.Output) {
			intervals[n-1].BlockLatest = h
			intervals[n-1].Dependencies = mergeDeps(intervals[n-1].Dependencies, res.Dependencies)
			continue
		}

		intervals = append(intervals, Interval{
			BlockValid:   h,
			BlockLatest:  h,
			Output:       res.Output,
			Dependencies: res.Dependencies,
		})
	}

	// Extend the final interval's validity forward to toBlock: the formula
	// hasn't changed since its last relevant height, so its output still
	// holds through the end of the requested range.
	if n := len(intervals); n > 0 {
		intervals[n-1].BlockLatest = toBlock
	}

	return intervals, nil
}

// relevantHeights returns the distinct block heights in [from, to] at
// which contract has any event, ascending.
func (r *Runtime) relevantHeights(ctx context.Context, contract string, from, to uint64) ([]uint64, error) {
	return r.store.DistinctHeights(ctx, contract, from, to)
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return string(a) == string(b)
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return string(ab) == string(bb)
}

func mergeDeps(a, b []model.Dependency) []model.Dependency {
	seen := map[model.Dependency]bool{}
	var out []model.Dependency
	for _, d := range append(append([]model.Dependency{}, a...), b...) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
