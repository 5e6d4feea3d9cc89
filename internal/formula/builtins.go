package formula

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// RegisterBuiltins installs the stock cw20/cw4 formulas — balance,
// token_info, and the voting_power/total_power contract-dispatch pair.
// Deployments register their own formulas alongside these through the
// same Registry.
func RegisterBuiltins(r *Registry) {
	r.Register("balance", balanceFormula)
	r.Register("token_info", tokenInfoFormula)
	r.Register("voting_power", ContractDispatch(map[string]Formula{
		"cw4-group": cw4VotingPowerFormula,
	}, defaultVotingPowerFormula))
	r.Register("total_power", ContractDispatch(map[string]Formula{
		"cw4-group": cw4TotalPowerFormula,
	}, defaultTotalPowerFormula))
}

// balanceFormula reads a cw20 holder's balance from the canonical
// "balance" map key (decimal-prefix "0"). args["address"] selects the holder.
func balanceFormula(ctx context.Context, env *Environment, args Args) (any, error) {
	addr := args["address"]
	key := "0," + addressKeySegments(addr)
	v, err := env.Get(ctx, env.Contract(), key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return "0", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	return json.RawMessage(v), nil
}

// tokenInfoFormula reads the cw20 token_info singleton, falling back from
// a hypothetical v2 layout to the v1 layout.
func tokenInfoFormula(ctx context.Context, env *Environment, args Args) (any, error) {
	v, err := env.GetFirst(ctx, env.Contract(), "token_info_v2", "1")
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return json.RawMessage(v), nil
}

// cw4VotingPowerFormula reads a single member's weight from a cw4-group contract.
func cw4VotingPowerFormula(ctx context.Context, env *Environment, args Args) (any, error) {
	addr := args["address"]
	v, err := env.Get(ctx, env.Contract(), "members,"+addressKeySegments(addr))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return 0, nil
	}
	var weight int64
	if err := json.Unmarshal(v, &weight); err != nil {
		return 0, nil
	}
	return weight, nil
}

// cw4TotalPowerFormula sums every member's weight from a cw4-group contract.
func cw4TotalPowerFormula(ctx context.Context, env *Environment, args Args) (any, error) {
	entries, err := env.GetMap(ctx, env.Contract(), "members")
	if err != nil {
		return nil, err
	}
	var total int64
	for _, e := range entries {
		var weight int64
		if json.Unmarshal(e.Value, &weight) == nil {
			total += weight
		}
	}
	return total, nil
}

// defaultVotingPowerFormula and defaultTotalPowerFormula are the
// fallback sub-formulas ContractDispatch uses when a contract's
// contract_info.contract name isn't in the dispatch table.
func defaultVotingPowerFormula(ctx context.Context, env *Environment, args Args) (any, error) {
	return 0, nil
}

func defaultTotalPowerFormula(ctx context.Context, env *Environment, args Args) (any, error) {
	return 0, nil
}

// addressKeySegments renders a bech32-ish address string as the decimal
// byte segments a stored map key uses for that address's raw bytes. Real
// deployments key by the address's canonical byte encoding; this treats
// the address string's bytes directly, matching how test fixtures and
// the Transformer's rule table (internal/transform) key derived rows.
func addressKeySegments(addr string) string {
	parts := make([]string, len(addr))
	for i := 0; i < len(addr); i++ {
		parts[i] = strconv.Itoa(int(addr[i]))
	}
	return strings.Join(parts, ",")
}
