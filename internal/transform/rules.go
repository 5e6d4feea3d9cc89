package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sascha1337/wasmd-indexer/internal/model"
)

// DefaultRules is the built-in rule set for common CosmWasm storage
// layouts: cw20 balances and token_info, cw721 token owners and DAO
// proposal status, projected out of their raw composite storage keys into
// flat transformation rows.
func DefaultRules() []Rule {
	return []Rule{
		balanceRule(),
		tokenInfoRule(),
		cw721OwnerRule(),
		daoProposalStatusRule(),
	}
}

// balanceRule projects cw20 "balance" map entries (key prefix byte 0x00,
// i.e. decimal "0", followed by the holder address bytes) into a
// transformation named "balance:<holder>".
func balanceRule() Rule {
	return Rule{
		Name: "cw20_balance",
		KeyFilter: func(segs []string) bool {
			return len(segs) > 1 && segs[0] == "0"
		},
		NameTemplate: func(e model.WasmEvent, segs []string) string {
			return fmt.Sprintf("balance:%s", strings.Join(segs[1:], ","))
		},
		Project: func(e model.WasmEvent, segs []string) (any, bool) {
			if e.Value == nil {
				return nil, false
			}
			return *e.Value, true
		},
		PropagateDelete: true,
	}
}

// tokenInfoRule projects the cw20 "token_info" singleton key (decimal "1").
func tokenInfoRule() Rule {
	return Rule{
		Name: "cw20_token_info",
		KeyFilter: func(segs []string) bool {
			return len(segs) == 1 && segs[0] == "1"
		},
		NameTemplate: func(e model.WasmEvent, segs []string) string { return "token_info" },
		Project: func(e model.WasmEvent, segs []string) (any, bool) {
			if e.ValueJSON != nil {
				return rawJSON(e.ValueJSON), true
			}
			if e.Value != nil {
				return *e.Value, true
			}
			return nil, false
		},
	}
}

// cw721OwnerRule projects cw721 "tokens" map entries (key prefix byte
// 0x02, decimal "2", followed by token-id bytes) into "owner:<tokenId>".
func cw721OwnerRule() Rule {
	return Rule{
		Name: "cw721_owner",
		KeyFilter: func(segs []string) bool {
			return len(segs) > 1 && segs[0] == "2"
		},
		NameTemplate: func(e model.WasmEvent, segs []string) string {
			return fmt.Sprintf("owner:%s", strings.Join(segs[1:], ","))
		},
		Project: func(e model.WasmEvent, segs []string) (any, bool) {
			if e.ValueJSON == nil {
				return nil, false
			}
			return rawJSON(e.ValueJSON), true
		},
		PropagateDelete: true,
	}
}

// daoProposalStatusRule projects a DAO proposal's status field out of its
// stored JSON blob (key prefix byte 0x03, decimal "3", plus proposal id).
func daoProposalStatusRule() Rule {
	return Rule{
		Name: "dao_proposal_status",
		KeyFilter: func(segs []string) bool {
			return len(segs) > 1 && segs[0] == "3"
		},
		NameTemplate: func(e model.WasmEvent, segs []string) string {
			return fmt.Sprintf("proposal_status:%s", strings.Join(segs[1:], ","))
		},
		Project: func(e model.WasmEvent, segs []string) (any, bool) {
			status, ok := extractJSONField(e.ValueJSON, "status")
			if !ok {
				return nil, false
			}
			return status, true
		},
		PropagateDelete: true,
	}
}

// rawJSON wraps already-encoded JSON bytes so json.Marshal re-emits them verbatim.
type rawJSONValue struct{ b []byte }

func rawJSON(b []byte) rawJSONValue { return rawJSONValue{b: b} }

func (r rawJSONValue) MarshalJSON() ([]byte, error) { return r.b, nil }

func extractJSONField(doc []byte, field string) (any, bool) {
	if doc == nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, false
	}
	v, ok := m[field]
	return v, ok
}
