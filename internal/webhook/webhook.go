// Package webhook implements the webhook dispatcher: subscription
// matching against newly persisted events, enqueue with a resolved
// value, and retryable delivery. Subscriptions are evaluated in-process
// against statically configured rules (internal/config); PendingWebhook
// rows are the source of truth for delivery, decoupling enqueue from the
// actual HTTP/Soketi call.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sascha1337/wasmd-indexer/internal/apperr"
	"github.com/sascha1337/wasmd-indexer/internal/config"
	"github.com/sascha1337/wasmd-indexer/internal/eventstore"
	"github.com/sascha1337/wasmd-indexer/internal/model"
	"github.com/sascha1337/wasmd-indexer/pkg/db/postgres"
	"go.uber.org/zap"
)

// EndpointKind distinguishes the two delivery protocols a subscription
// can resolve to.
type EndpointKind int

const (
	// EndpointURL delivers over plain HTTP.
	EndpointURL EndpointKind = iota
	// EndpointSoketi publishes on a Pusher-compatible channel/event pair.
	EndpointSoketi
)

// Endpoint is the resolved delivery target for one matched event.
type Endpoint struct {
	Kind          EndpointKind
	URL           string
	Method        string
	SoketiChannel string
	SoketiEvent   string
}

// Previous is the thunk getValue uses to read the prior value for the
// same (contract, key) — first the current batch, then the Event Store.
type Previous func(ctx context.Context) (json.RawMessage, error)

// Subscription is one statically configured rule: filter, resolve a
// delivery value, resolve an endpoint.
type Subscription struct {
	Name     string
	Filter   func(e model.WasmEvent) bool
	GetValue func(ctx context.Context, e model.WasmEvent, prev Previous) (any, error)
	Endpoint func(e model.WasmEvent) (Endpoint, error)
}

// FromConfig builds the static subscription list from config, matching
// on the configured canonical key prefix and optional contract address.
func FromConfig(subs []config.WebhookSubscriptionConfig) []Subscription {
	out := make([]Subscription, 0, len(subs))
	for _, c := range subs {
		c := c
		out = append(out, Subscription{
			Name: c.Name,
			Filter: func(e model.WasmEvent) bool {
				if c.ContractAddr != "" && e.ContractAddress != c.ContractAddr {
					return false
				}
				return c.KeyPrefix == "" || strings.HasPrefix(e.Key, c.KeyPrefix)
			},
			GetValue: func(ctx context.Context, e model.WasmEvent, prev Previous) (any, error) {
				from, err := prev(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"from": json.RawMessage(from),
					"to":   currentValue(e),
				}, nil
			},
			Endpoint: func(e model.WasmEvent) (Endpoint, error) {
				if c.EndpointURL != "" {
					method := c.EndpointMethod
					if method == "" {
						method = "POST"
					}
					return Endpoint{Kind: EndpointURL, URL: c.EndpointURL, Method: method}, nil
				}
				if c.SoketiChannel != "" {
					return Endpoint{Kind: EndpointSoketi, SoketiChannel: c.SoketiChannel, SoketiEvent: c.SoketiEvent}, nil
				}
				return Endpoint{}, fmt.Errorf("subscription %s: no endpoint configured", c.Name)
			},
		})
	}
	return out
}

func currentValue(e model.WasmEvent) any {
	if e.Delete {
		return nil
	}
	if e.ValueJSON != nil {
		return json.RawMessage(e.ValueJSON)
	}
	if e.Value != nil {
		return *e.Value
	}
	return nil
}

// Dispatcher evaluates subscriptions against newly persisted events and
// owns the PendingWebhook table.
type Dispatcher struct {
	db            *postgres.Client
	store         *eventstore.Store
	subscriptions []Subscription
	soketi        *SoketiClient
	logger        *zap.Logger
}

// New creates a Dispatcher over an already-connected Postgres client.
// soketi may be nil if no subscription targets a Soketi endpoint.
func New(db *postgres.Client, store *eventstore.Store, subs []Subscription, soketi *SoketiClient, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{db: db, store: store, subscriptions: subs, soketi: soketi, logger: logger}
}

// InitSchema creates the pending_webhooks table.
func (d *Dispatcher) InitSchema(ctx context.Context) error {
	return d.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pending_webhooks (
			id BIGSERIAL PRIMARY KEY,
			event_id BIGINT NOT NULL,
			endpoint JSONB NOT NULL,
			value JSONB NOT NULL,
			failures INT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_pending_webhooks_failures ON pending_webhooks (failures);
	`)
}

// Enqueue evaluates every subscription against every event in batch,
// inserting a PendingWebhook row for each match. getPrevious consults
// the batch itself before falling back to the Event Store, per §4.6.
func (d *Dispatcher) Enqueue(ctx context.Context, batch []model.WasmEvent) (int, error) {
	if len(d.subscriptions) == 0 {
		return 0, nil
	}

	type pending struct {
		eventID  int64
		endpoint Endpoint
		value    json.RawMessage
	}
	var rows []pending

	for i, e := range batch {
		for _, sub := range d.subscriptions {
			if !sub.Filter(e) {
				continue
			}

			prev := d.previousOf(batch[:i], e)
			value, err := sub.GetValue(ctx, e, prev)
			if err != nil {
				d.logger.Warn("webhook getValue failed, skipping",
					zap.String("subscription", sub.Name),
					zap.String("contract", e.ContractAddress),
					zap.String("key", e.Key),
					zap.Error(fmt.Errorf("%w: %v", apperr.ErrWebhookEval, err)))
				continue
			}
			if value == nil {
				continue
			}

			endpoint, err := sub.Endpoint(e)
			if err != nil {
				d.logger.Warn("webhook endpoint resolution failed, skipping",
					zap.String("subscription", sub.Name), zap.Error(err))
				continue
			}

			valueJSON, err := json.Marshal(value)
			if err != nil {
				d.logger.Warn("webhook value marshal failed, skipping", zap.Error(err))
				continue
			}

			rows = append(rows, pending{
				eventID:  eventIdentity(e),
				endpoint: endpoint,
				value:    valueJSON,
			})
		}
	}

	if len(rows) == 0 {
		return 0, nil
	}

	batchq := d.db.PrepareBatch(ctx)
	for _, r := range rows {
		endpointJSON, err := json.Marshal(r.endpoint)
		if err != nil {
			return 0, fmt.Errorf("marshal endpoint: %w", err)
		}
		batchq.Queue(`
			INSERT INTO pending_webhooks (event_id, endpoint, value, failures)
			VALUES ($1, $2, $3, 0)
		`, r.eventID, endpointJSON, r.value)
	}

	br := d.db.SendBatch(ctx, batchq)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return 0, fmt.Errorf("insert pending webhook: %w", err)
		}
	}

	return len(rows), nil
}

// previousOf returns a Previous thunk that scans already-seen events in
// the current batch first, falling back to the Event Store for a write
// strictly before the current event's block.
func (d *Dispatcher) previousOf(seenSoFar []model.WasmEvent, current model.WasmEvent) Previous {
	return func(ctx context.Context) (json.RawMessage, error) {
		for i := len(seenSoFar) - 1; i >= 0; i-- {
			other := seenSoFar[i]
			// Open Question (a): compare other.Key against current.Key, not
			// other.Key against itself.
			if other.ContractAddress == current.ContractAddress && other.Key == current.Key {
				return json.RawMessage(currentValueJSON(other)), nil
			}
		}

		prevEvent, err := d.store.GetStrictlyBefore(ctx, current.ContractAddress, current.Key, current.BlockHeight)
		if err != nil {
			return nil, err
		}
		if prevEvent == nil {
			return nil, nil
		}
		return json.RawMessage(currentValueJSON(*prevEvent)), nil
	}
}

func currentValueJSON(e model.WasmEvent) []byte {
	b, _ := json.Marshal(currentValue(e))
	return b
}

// eventIdentity derives the PendingWebhook.event_id column. WasmEvent has
// no surrogate id (it's keyed by its natural composite key), so this
// records the triggering block height; delivery and retry only need it
// for operational traceability, not for re-deriving the event.
func eventIdentity(e model.WasmEvent) int64 {
	return int64(e.BlockHeight)
}
