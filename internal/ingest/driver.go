package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sascha1337/wasmd-indexer/internal/apperr"
	"github.com/sascha1337/wasmd-indexer/internal/computation"
	"github.com/sascha1337/wasmd-indexer/internal/eventstore"
	"github.com/sascha1337/wasmd-indexer/internal/keycodec"
	"github.com/sascha1337/wasmd-indexer/internal/model"
	"github.com/sascha1337/wasmd-indexer/internal/search"
	"github.com/sascha1337/wasmd-indexer/internal/state"
	"github.com/sascha1337/wasmd-indexer/internal/transform"
	"github.com/sascha1337/wasmd-indexer/internal/webhook"
)

// Config tunes the driver's batching and which optional steps of the
// flush procedure run.
type Config struct {
	BatchSize                 int
	InitialBlockHeightOverride uint64 // 0 means "unset", fall back to state checkpoint
	CacheUpdatesEnabled       bool
	WebhooksEnabled           bool
}

// Driver is the ingestion driver: single-threaded per source, buffering
// records and flushing on block boundaries.
type Driver struct {
	source EventSource
	cfg    Config

	store       *eventstore.Store
	transformer *transform.Transformer
	cache       *computation.Cache
	state       *state.Store
	dispatcher  *webhook.Dispatcher
	notifier    *webhook.Notifier // may be nil when webhooks are disabled
	reindexer   search.Reindexer

	pending             []model.WasmEvent
	lastBlockHeightSeen uint64
	initialBlock        uint64
	caughtUp            bool
}

// New creates a Driver over its already-connected dependencies. state
// must already have its singleton row initialized (state.InitSchema).
func New(source EventSource, cfg Config, store *eventstore.Store, transformer *transform.Transformer, cache *computation.Cache, st *state.Store, dispatcher *webhook.Dispatcher, notifier *webhook.Notifier, reindexer search.Reindexer) *Driver {
	if reindexer == nil {
		reindexer = search.Noop{}
	}
	return &Driver{
		source:      source,
		cfg:         cfg,
		store:       store,
		transformer: transformer,
		cache:       cache,
		state:       st,
		dispatcher:  dispatcher,
		notifier:    notifier,
		reindexer:   reindexer,
	}
}

// Run resolves initialBlock from cfg or the state checkpoint, then reads
// the source until it ends or ctx is cancelled, flushing on block
// boundaries and once more at the end, per §4.5 and §5's shutdown rule.
func (d *Driver) Run(ctx context.Context) error {
	if d.cfg.InitialBlockHeightOverride > 0 {
		d.initialBlock = d.cfg.InitialBlockHeightOverride
	} else {
		st, err := d.state.Get(ctx)
		if err != nil {
			return fmt.Errorf("resolve initial block: %w", err)
		}
		d.initialBlock = st.LastWasmBlockHeightExported + 1
	}

	runErr := d.source.Run(ctx, d.handleLine)

	// The final flush must still reach the database after ctx is cancelled.
	if flushErr := d.Flush(context.WithoutCancel(ctx)); flushErr != nil {
		if runErr != nil {
			return fmt.Errorf("source error %v, then flush error: %w", runErr, flushErr)
		}
		return flushErr
	}

	return runErr
}

// handleLine parses one raw record, applies the initialBlock skip rule,
// and appends it to the pending buffer, triggering a flush first if the
// buffer is at capacity and this record starts a new block.
func (d *Driver) handleLine(ctx context.Context, line string) error {
	rec, err := parseRecord(line)
	if err != nil {
		slog.Warn("ingest: skipping malformed record", "err", err)
		return nil
	}

	if rec.BlockHeight < d.initialBlock {
		return nil
	}
	if !d.caughtUp {
		d.caughtUp = true
		slog.Info("ingest: caught up", "block_height", rec.BlockHeight, "initial_block", d.initialBlock)
	}

	if len(d.pending) >= d.cfg.BatchSize && rec.BlockHeight > d.lastBlockHeightSeen {
		if err := d.Flush(ctx); err != nil {
			return err
		}
	}

	d.pending = append(d.pending, rec)
	if rec.BlockHeight > d.lastBlockHeightSeen {
		d.lastBlockHeightSeen = rec.BlockHeight
	}
	return nil
}

// rawRecord mirrors the per-line wire schema the event stream emits.
type rawRecord struct {
	BlockHeight     uint64 `json:"blockHeight"`
	BlockTimeUnixMs uint64 `json:"blockTimeUnixMs"`
	ContractAddress string `json:"contractAddress"`
	CodeID          uint64 `json:"codeId"`
	Key             string `json:"key"`
	Value           string `json:"value"`
	Delete          bool   `json:"delete"`
}

// parseRecord decodes and normalizes one line into a model.WasmEvent,
// step (2) of the flush procedure run eagerly per record so dedup (step
// 1) can key on the canonical form directly.
func parseRecord(line string) (model.WasmEvent, error) {
	var raw rawRecord
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return model.WasmEvent{}, fmt.Errorf("%w: %v", apperr.ErrParse, err)
	}
	if raw.ContractAddress == "" || raw.Key == "" {
		return model.WasmEvent{}, fmt.Errorf("%w: missing contractAddress or key", apperr.ErrSchemaMismatch)
	}

	canonicalKey, err := keycodec.Base64ToEventKey(raw.Key)
	if err != nil {
		return model.WasmEvent{}, fmt.Errorf("%w: decode key: %v", apperr.ErrParse, err)
	}

	e := model.WasmEvent{
		BlockHeight:     raw.BlockHeight,
		ContractAddress: raw.ContractAddress,
		Key:             canonicalKey,
		Delete:          raw.Delete,
		BlockTime:       time.UnixMilli(int64(raw.BlockTimeUnixMs)).UTC(),
		Contract:        &model.Contract{Address: raw.ContractAddress, CodeID: raw.CodeID},
	}

	if !raw.Delete {
		decoded, decErr := base64.StdEncoding.DecodeString(raw.Value)
		if decErr != nil {
			return model.WasmEvent{}, fmt.Errorf("%w: decode value: %v", apperr.ErrParse, decErr)
		}
		value := string(decoded)
		e.Value = &value

		var probe json.RawMessage
		if json.Unmarshal(decoded, &probe) == nil {
			e.ValueJSON = probe
		}
	}

	return e, nil
}

// Flush drains the pending buffer through dedup, the event store, the
// transformer, the computation cache and the webhook dispatcher, in that
// order. A no-op (not an error) when the buffer is empty, so a second
// concurrent invocation simply observes an empty buffer.
func (d *Driver) Flush(ctx context.Context) error {
	if len(d.pending) == 0 {
		return nil
	}
	batch := dedupWithinBatch(d.pending)
	d.pending = nil

	if err := d.store.UpsertContracts(ctx, batch); err != nil {
		return err
	}
	events, err := d.store.UpsertEvents(ctx, batch)
	if err != nil {
		return err
	}

	transformations, err := d.transformer.Apply(ctx, events)
	if err != nil {
		return fmt.Errorf("apply transformations: %w", err)
	}

	if d.cfg.CacheUpdatesEnabled {
		changes := changeKeysOf(events, transformations)
		counts, err := d.cache.UpdateComputationValidityDependentOnChanges(ctx, changes)
		if err != nil {
			return fmt.Errorf("invalidate computations: %w", err)
		}
		slog.Info("ingest: flush invalidation", "updated", counts.Updated, "destroyed", counts.Destroyed)
	}

	if d.cfg.WebhooksEnabled && d.dispatcher != nil {
		enqueued, err := d.dispatcher.Enqueue(ctx, events)
		if err != nil {
			return fmt.Errorf("enqueue webhooks: %w", err)
		}
		if enqueued > 0 && d.notifier != nil {
			if err := d.notifier.Notify(); err != nil {
				slog.Warn("ingest: webhook notify failed", "err", err)
			}
		}
	}

	maxHeight, maxTimeMs := maxBlock(events)
	if err := d.state.AdvanceExported(ctx, maxHeight); err != nil {
		return fmt.Errorf("advance state: %w", err)
	}
	if err := d.state.AdviseLatest(ctx, maxHeight, maxTimeMs); err != nil {
		return fmt.Errorf("advise state: %w", err)
	}

	if err := d.reindexer.Reindex(ctx, distinctContracts(events)); err != nil {
		slog.Warn("ingest: reindex failed", "err", err)
	}

	slog.Info("ingest: flush complete", "events", len(events), "transformations", len(transformations))
	return nil
}

// dedupWithinBatch keeps the last record for each (blockHeight,
// contractAddress, key), step (1) of the flush procedure.
func dedupWithinBatch(batch []model.WasmEvent) []model.WasmEvent {
	type identity struct {
		height  uint64
		address string
		key     string
	}
	order := make([]identity, 0, len(batch))
	byKey := map[identity]model.WasmEvent{}
	for _, e := range batch {
		id := identity{e.BlockHeight, e.ContractAddress, e.Key}
		if _, seen := byKey[id]; !seen {
			order = append(order, id)
		}
		byKey[id] = e
	}

	out := make([]model.WasmEvent, 0, len(order))
	for _, id := range order {
		out = append(out, byKey[id])
	}
	return out
}

func changeKeysOf(events []model.WasmEvent, transformations []model.WasmEventTransformation) []model.ChangeKey {
	changes := make([]model.ChangeKey, 0, len(events)+len(transformations))
	for _, e := range events {
		changes = append(changes, model.ChangeKey{Contract: e.ContractAddress, Key: e.Key, BlockHeight: e.BlockHeight})
	}
	for _, t := range transformations {
		changes = append(changes, model.ChangeKey{Contract: t.ContractAddress, Key: t.Name, BlockHeight: t.BlockHeight})
	}
	return changes
}

func maxBlock(events []model.WasmEvent) (height uint64, timeUnixMs uint64) {
	for _, e := range events {
		if e.BlockHeight > height {
			height = e.BlockHeight
			timeUnixMs = uint64(e.BlockTime.UnixMilli())
		}
	}
	return height, timeUnixMs
}

func distinctContracts(events []model.WasmEvent) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range events {
		if !seen[e.ContractAddress] {
			seen[e.ContractAddress] = true
			out = append(out, e.ContractAddress)
		}
	}
	return out
}
