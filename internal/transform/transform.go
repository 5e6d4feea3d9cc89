// Package transform implements the transformer: pattern-matching parsed
// events against a declarative rule table and writing derived
// WasmEventTransformation rows. Rules are a table of definitions the
// code walks, applied to event projection rather than column schemas.
package transform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sascha1337/wasmd-indexer/internal/keycodec"
	"github.com/sascha1337/wasmd-indexer/internal/model"
	"github.com/sascha1337/wasmd-indexer/pkg/db/postgres"
)

// Rule describes one named projection of raw events into a transformation row.
type Rule struct {
	// Name identifies the rule for logging; NameTemplate produces the stored row name.
	Name string
	// ContractFilter, if non-nil, restricts the rule to matching contract addresses.
	ContractFilter func(contract string) bool
	// KeyFilter restricts the rule to events whose decoded key matches.
	KeyFilter func(keySegments []string) bool
	// NameTemplate builds the transformation's stored name from the event and its key segments.
	NameTemplate func(e model.WasmEvent, keySegments []string) string
	// Project computes the stored value, or returns (nil, false) to skip this event.
	Project func(e model.WasmEvent, keySegments []string) (any, bool)
	// PropagateDelete controls whether a tombstone event still produces a
	// transformation row (value null) or is dropped entirely.
	PropagateDelete bool
}

func keySegments(e model.WasmEvent) []string {
	raw, err := keycodec.EventKeyToBytes(e.Key)
	if err != nil || len(raw) == 0 {
		return nil
	}
	// Segments here are the decoded byte values rendered as strings for
	// rule matching/templating convenience — not a re-decode of any
	// length-prefix structure, since that structure is contract-specific.
	segs := make([]string, len(raw))
	for i, b := range raw {
		segs[i] = fmt.Sprintf("%d", b)
	}
	return segs
}

// Transformer evaluates the rule table against events and persists matches.
type Transformer struct {
	db    *postgres.Client
	rules []Rule
}

// New creates a Transformer with the given rule set appended after the
// built-in rules (DefaultRules).
func New(db *postgres.Client, extra ...Rule) *Transformer {
	return &Transformer{db: db, rules: append(append([]Rule{}, DefaultRules()...), extra...)}
}

// InitSchema creates the wasm_event_transformations table if absent.
func (t *Transformer) InitSchema(ctx context.Context) error {
	return t.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS wasm_event_transformations (
			block_height BIGINT NOT NULL,
			contract_address TEXT NOT NULL,
			name TEXT NOT NULL,
			value JSONB,
			PRIMARY KEY (block_height, contract_address, name)
		);
		CREATE INDEX IF NOT EXISTS idx_wasm_event_transformations_contract_name
			ON wasm_event_transformations (contract_address, name, block_height DESC);
	`)
}

// Apply evaluates every rule against every event, upserts the resulting
// rows, and returns them for use as additional cache-invalidation keys.
func (t *Transformer) Apply(ctx context.Context, events []model.WasmEvent) ([]model.WasmEventTransformation, error) {
	// Last-write-wins per (block, contract, name) within this call, same as
	// the event store's own per-key dedup.
	byKey := map[[3]string]model.WasmEventTransformation{}

	for _, e := range events {
		segs := keySegments(e)
		for _, r := range t.rules {
			if r.ContractFilter != nil && !r.ContractFilter(e.ContractAddress) {
				continue
			}
			if r.KeyFilter != nil && !r.KeyFilter(segs) {
				continue
			}

			if e.Delete && !r.PropagateDelete {
				continue
			}

			var valueJSON []byte
			if e.Delete {
				valueJSON = nil // explicit null, propagated per rule policy
			} else {
				out, ok := r.Project(e, segs)
				if !ok {
					continue
				}
				b, err := json.Marshal(out)
				if err != nil {
					return nil, fmt.Errorf("marshal transformation %s: %w", r.Name, err)
				}
				valueJSON = b
			}

			name := r.NameTemplate(e, segs)
			row := model.WasmEventTransformation{
				BlockHeight:     e.BlockHeight,
				ContractAddress: e.ContractAddress,
				Name:            name,
				Value:           valueJSON,
			}
			key := [3]string{fmt.Sprintf("%d", row.BlockHeight), row.ContractAddress, row.Name}
			byKey[key] = row
		}
	}

	if len(byKey) == 0 {
		return nil, nil
	}

	rows := make([]model.WasmEventTransformation, 0, len(byKey))
	for _, row := range byKey {
		rows = append(rows, row)
	}

	batch := t.db.PrepareBatch(ctx)
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO wasm_event_transformations (block_height, contract_address, name, value)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (block_height, contract_address, name) DO UPDATE SET value = EXCLUDED.value
		`, row.BlockHeight, row.ContractAddress, row.Name, row.Value)
	}

	br := t.db.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return nil, fmt.Errorf("upsert transformations: %w", err)
		}
	}

	return rows, nil
}
