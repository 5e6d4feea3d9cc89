package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sascha1337/wasmd-indexer/internal/apperr"
	"go.uber.org/zap"
)

// deliveryTimeout bounds a single fire() attempt.
const deliveryTimeout = 15 * time.Second

// pendingRow mirrors one pending_webhooks row.
type pendingRow struct {
	id       int64
	endpoint Endpoint
	value    json.RawMessage
	failures int
}

// DrainOnce loads up to limit pending rows (fewest failures first) and
// attempts delivery of each once, one after another, returning the count
// delivered. Rows that fail remain with an incremented failures counter
// for the next drain pass. The drain runs per batch of pending rows rather
// than per queued message, since delivery is keyed on DB rows, not on
// the Redis Stream notification payload itself (the notification only
// wakes the drain loop — see Notifier in queue.go).
func (d *Dispatcher) DrainOnce(ctx context.Context, limit int) (delivered int, err error) {
	rows, err := d.loadPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	for _, row := range rows {
		attemptCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		fireErr := d.fire(attemptCtx, row)
		cancel()

		if fireErr == nil {
			if delErr := d.db.Exec(ctx, `DELETE FROM pending_webhooks WHERE id = $1`, row.id); delErr != nil {
				return delivered, fmt.Errorf("delete delivered webhook %d: %w", row.id, delErr)
			}
			delivered++
			continue
		}

		if errors.Is(fireErr, apperr.ErrPermanentDelivery) {
			d.logger.Error("webhook delivery failed permanently, dropping",
				zap.Int64("pending_id", row.id),
				zap.Error(fireErr))
			if delErr := d.db.Exec(ctx, `DELETE FROM pending_webhooks WHERE id = $1`, row.id); delErr != nil {
				return delivered, fmt.Errorf("drop permanently failed webhook %d: %w", row.id, delErr)
			}
			continue
		}

		d.logger.Warn("webhook delivery failed",
			zap.Int64("pending_id", row.id),
			zap.Int("failures", row.failures+1),
			zap.Error(fmt.Errorf("%w: %v", apperr.ErrDelivery, fireErr)))

		if updErr := d.db.Exec(ctx, `UPDATE pending_webhooks SET failures = failures + 1 WHERE id = $1`, row.id); updErr != nil {
			return delivered, fmt.Errorf("persist webhook failure %d: %w", row.id, updErr)
		}
	}

	return delivered, nil
}

func (d *Dispatcher) loadPending(ctx context.Context, limit int) ([]pendingRow, error) {
	rows, err := d.db.Query(ctx, `
		SELECT id, endpoint, value, failures FROM pending_webhooks
		ORDER BY failures ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load pending webhooks: %w", err)
	}
	defer rows.Close()

	var out []pendingRow
	for rows.Next() {
		var r pendingRow
		var endpointJSON []byte
		if err := rows.Scan(&r.id, &endpointJSON, &r.value, &r.failures); err != nil {
			return nil, fmt.Errorf("scan pending webhook: %w", err)
		}
		if err := json.Unmarshal(endpointJSON, &r.endpoint); err != nil {
			return nil, fmt.Errorf("unmarshal endpoint for pending webhook %d: %w", r.id, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// fire dispatches one pending row to its endpoint. Every case returns
// explicitly; none falls through to another, resolving Open Question (b).
func (d *Dispatcher) fire(ctx context.Context, row pendingRow) error {
	switch row.endpoint.Kind {
	case EndpointURL:
		return d.fireURL(ctx, row)
	case EndpointSoketi:
		return d.fireSoketi(ctx, row)
	default:
		return fmt.Errorf("%w: unknown endpoint kind %d", apperr.ErrPermanentDelivery, row.endpoint.Kind)
	}
}

func (d *Dispatcher) fireURL(ctx context.Context, row pendingRow) error {
	method := row.endpoint.Method
	if method == "" {
		method = "POST"
	}

	req, err := http.NewRequestWithContext(ctx, method, row.endpoint.URL, bytes.NewReader(row.value))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip,deflate,compress")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) fireSoketi(ctx context.Context, row pendingRow) error {
	if d.soketi == nil {
		return fmt.Errorf("soketi endpoint configured but no soketi client wired")
	}
	return d.soketi.Trigger(ctx, row.endpoint.SoketiChannel, row.endpoint.SoketiEvent, row.value)
}
