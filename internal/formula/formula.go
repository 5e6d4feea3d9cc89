// Package formula implements a read-through, block-scoped evaluation
// environment: formulas are uniform function values over an
// Environment, dependency accumulation is carried explicitly on the
// Environment (not ambient), and nested formula calls merge the
// callee's dependencies into the caller's.
package formula

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sascha1337/wasmd-indexer/internal/apperr"
	"github.com/sascha1337/wasmd-indexer/internal/eventstore"
	"github.com/sascha1337/wasmd-indexer/internal/model"
)

// Args is the string-to-string argument mapping a formula is invoked with.
type Args map[string]string

// Formula is a deterministic async function of an Environment and Args.
// The runtime is not required to detect non-determinism; it is the
// formula author's responsibility.
type Formula func(ctx context.Context, env *Environment, args Args) (any, error)

// Registry maps formula names to implementations. The contract-dispatch
// tables of polymorphic formulas like voting_power/total_power live inside
// the Formula that ContractDispatch builds, not in the Registry.
type Registry struct {
	byName map[string]Formula
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Formula{}}
}

// Register adds or replaces the formula under name.
func (r *Registry) Register(name string, f Formula) {
	r.byName[name] = f
}

// Lookup returns the formula registered under name, or
// (nil, apperr.ErrUnknownFormula).
func (r *Registry) Lookup(name string) (Formula, error) {
	f, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnknownFormula, name)
	}
	return f, nil
}

// ContractDispatch builds a Formula that dispatches on the target
// contract's contract_info.contract field to a sub-formula, the pattern
// voting_power/total_power use.
func ContractDispatch(byContractName map[string]Formula, fallback Formula) Formula {
	return func(ctx context.Context, env *Environment, args Args) (any, error) {
		info, err := env.getFirstJSON(ctx, env.contract, "contract_info_contract", "contract_info")
		name := ""
		if err == nil && info != nil {
			var parsed struct {
				Contract string `json:"contract"`
			}
			if jsonErr := json.Unmarshal(info, &parsed); jsonErr == nil {
				name = parsed.Contract
			}
		}
		if sub, ok := byContractName[name]; ok {
			return sub(ctx, env, args)
		}
		if fallback != nil {
			return fallback(ctx, env, args)
		}
		return nil, fmt.Errorf("%w: no sub-formula for contract_info.contract=%q", apperr.ErrFormula, name)
	}
}

// EnvInfo is the static context a formula can read via env.GetEnv().
type EnvInfo struct {
	BlockHeight     uint64
	BlockTimeUnixMs uint64
	ChainID         string
	KnownContracts  []string
}

// Environment is the read-through view over contract state pinned to a
// single block, with an accumulator tracking every (contract, key) or
// (contract, prefix) read performed during the current evaluation —
// including reads performed by nested formula calls.
type Environment struct {
	store    *eventstore.Store
	registry *Registry
	block    uint64
	info     EnvInfo
	contract string // the formula's own target contract, for dispatch helpers

	deps []model.Dependency
}

// NewEnvironment pins a new evaluation environment to block info.BlockHeight for contract target.
func NewEnvironment(store *eventstore.Store, registry *Registry, target string, info EnvInfo) *Environment {
	info.BlockHeight = info.BlockHeight // no-op, documents that info.BlockHeight must equal h
	return &Environment{store: store, registry: registry, block: info.BlockHeight, contract: target, info: info}
}

// Dependencies returns the accumulated dependency set for this evaluation.
func (e *Environment) Dependencies() []model.Dependency {
	return dedupDeps(e.deps)
}

func dedupDeps(in []model.Dependency) []model.Dependency {
	seen := map[model.Dependency]bool{}
	var out []model.Dependency
	for _, d := range in {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// Get reads the current value at the pinned block for (contract, key) and
// records a point dependency. Returns nil if unset or tombstoned.
func (e *Environment) Get(ctx context.Context, contract, key string) (json.RawMessage, error) {
	e.deps = append(e.deps, model.Dependency{Kind: model.DependencyPoint, Contract: contract, KeyOrPfx: key})

	ev, err := e.store.GetAtOrBefore(ctx, contract, key, e.block)
	if err != nil {
		return nil, fmt.Errorf("%w: get(%s,%s): %v", apperr.ErrFormula, contract, key, err)
	}
	if ev == nil || ev.Delete {
		return nil, nil
	}
	if ev.ValueJSON != nil {
		return json.RawMessage(ev.ValueJSON), nil
	}
	if ev.Value != nil {
		b, err := json.Marshal(*ev.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal raw value: %v", apperr.ErrFormula, err)
		}
		return b, nil
	}
	return nil, nil
}

// getFirstJSON tries get(contract,key) across key variants in order,
// returning the first defined value — a version-polymorphism helper for
// reading either of two schema versions ("config_v2" then "config").
func (e *Environment) getFirstJSON(ctx context.Context, contract string, keys ...string) (json.RawMessage, error) {
	for _, k := range keys {
		v, err := e.Get(ctx, contract, k)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

// GetFirst is the exported form of getFirstJSON for use by registered formulas.
func (e *Environment) GetFirst(ctx context.Context, contract string, keys ...string) (json.RawMessage, error) {
	return e.getFirstJSON(ctx, contract, keys...)
}

// MapEntry is one key/value pair returned by GetMap.
type MapEntry struct {
	Key   string
	Value json.RawMessage
}

// GetMap performs a range read over every key under prefix and records a
// prefix dependency.
func (e *Environment) GetMap(ctx context.Context, contract, prefix string) ([]MapEntry, error) {
	e.deps = append(e.deps, model.Dependency{Kind: model.DependencyPrefix, Contract: contract, KeyOrPfx: prefix})

	rows, err := e.store.GetMap(ctx, contract, prefix, e.block)
	if err != nil {
		return nil, fmt.Errorf("%w: getMap(%s,%s): %v", apperr.ErrFormula, contract, prefix, err)
	}

	out := make([]MapEntry, 0, len(rows))
	for _, ev := range rows {
		var v json.RawMessage
		if ev.ValueJSON != nil {
			v = json.RawMessage(ev.ValueJSON)
		} else if ev.Value != nil {
			b, mErr := json.Marshal(*ev.Value)
			if mErr != nil {
				return nil, fmt.Errorf("%w: marshal map value: %v", apperr.ErrFormula, mErr)
			}
			v = b
		}
		out = append(out, MapEntry{Key: ev.Key, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// GetCreatedAt returns the first-set time of (contract, key), recording a
// point dependency (its presence is itself a function of the write history).
func (e *Environment) GetCreatedAt(ctx context.Context, contract, key string) (*time.Time, error) {
	e.deps = append(e.deps, model.Dependency{Kind: model.DependencyPoint, Contract: contract, KeyOrPfx: key})
	t, err := e.store.GetCreatedAt(ctx, contract, key)
	if err != nil {
		return nil, fmt.Errorf("%w: getCreatedAt(%s,%s): %v", apperr.ErrFormula, contract, key, err)
	}
	return t, nil
}

// GetEnv returns the static block/chain context.
func (e *Environment) GetEnv() EnvInfo { return e.info }

// Contract returns the contract this evaluation targets.
func (e *Environment) Contract() string { return e.contract }

// Compute invokes another formula by name against the same pinned block,
// merging its dependency set into this evaluation's accumulator so
// dependency tracking transits nested calls.
func (e *Environment) Compute(ctx context.Context, name, contract string, args Args) (any, error) {
	f, err := e.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	nested := NewEnvironment(e.store, e.registry, contract, e.info)
	out, err := f(ctx, nested, args)
	e.deps = append(e.deps, nested.deps...)
	if err != nil {
		return nil, err
	}
	return out, nil
}
