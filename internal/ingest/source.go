// Package ingest implements the ingestion driver: reads a line-oriented
// event stream, buffers and deduplicates within a block, and flushes
// through the event store, transformer, computation cache and webhook
// dispatcher in a fixed order.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// LineHandler processes one raw line from the event stream. Returning a
// non-nil error halts the source's Run loop (reserved for fatal errors;
// per-record parse errors are handled by the caller, not raised here).
type LineHandler func(ctx context.Context, line string) error

// EventSource is anything that produces a sequence of JSON lines and
// calls handle once per line until ctx is cancelled or the source is
// exhausted.
type EventSource interface {
	Run(ctx context.Context, handle LineHandler) error
}

// FileSource reads newline-delimited event records from a local file or
// any io.Reader opened from path. Reaching EOF ends Run normally so the
// caller's final flush still runs.
type FileSource struct {
	Path string
}

// NewFileSource creates a FileSource over path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Run reads path line by line, calling handle for each non-empty line.
func (f *FileSource) Run(ctx context.Context, handle LineHandler) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open source %s: %w", f.Path, err)
	}
	defer file.Close()

	return scanLines(ctx, file, handle)
}

func scanLines(ctx context.Context, r io.Reader, handle LineHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := handle(ctx, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// WebSocketSource tails a node's WASM event stream live, one JSON record
// per text message, reconnecting with linear backoff on disconnect.
type WebSocketSource struct {
	URL            string
	MaxRetries     int
	ReconnectDelay time.Duration
}

// NewWebSocketSource creates a WebSocketSource, applying defaults for
// any zero-valued field.
func NewWebSocketSource(rawURL string, maxRetries int, reconnectDelay time.Duration) *WebSocketSource {
	if maxRetries <= 0 {
		maxRetries = 25
	}
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	return &WebSocketSource{URL: rawURL, MaxRetries: maxRetries, ReconnectDelay: reconnectDelay}
}

// Run connects to s.URL and calls handle for every text message received,
// reconnecting on disconnect until ctx is cancelled or MaxRetries
// consecutive failed connection attempts are exhausted.
func (s *WebSocketSource) Run(ctx context.Context, handle LineHandler) error {
	wsURL, err := s.buildURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}

	for attempt := 0; attempt < s.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		slog.Info("ingest: connecting to event stream", "attempt", attempt+1, "url", wsURL)

		conn, _, dialErr := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if dialErr != nil {
			slog.Warn("ingest: websocket connect failed", "attempt", attempt+1, "err", dialErr)
			delay := time.Duration(attempt+1) * s.ReconnectDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		slog.Info("ingest: websocket connected", "url", wsURL)
		listenErr := s.listen(ctx, conn, handle)
		_ = conn.Close()

		if listenErr == context.Canceled {
			return listenErr
		}
		slog.Warn("ingest: websocket disconnected", "err", listenErr)
		attempt = -1 // reset backoff after a connection that succeeded before dropping; the loop increment brings it to 0
		continue
	}

	return fmt.Errorf("websocket source: max retries (%d) reached", s.MaxRetries)
}

func (s *WebSocketSource) listen(ctx context.Context, conn *websocket.Conn, handle LineHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		if err := handle(ctx, string(data)); err != nil {
			return err
		}
	}
}

func (s *WebSocketSource) buildURL() (string, error) {
	parsed, err := url.Parse(s.URL)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if parsed.Scheme == "https" || parsed.Scheme == "wss" {
		scheme = "wss"
	}
	out := *parsed
	out.Scheme = scheme
	return out.String(), nil
}
