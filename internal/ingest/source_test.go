package ingest

import (
	"context"
	"strings"
	"testing"
)

func TestScanLinesSkipsEmptyLines(t *testing.T) {
	r := strings.NewReader("line1\n\nline2\n")
	var got []string
	err := scanLines(context.Background(), r, func(ctx context.Context, line string) error {
		got = append(got, line)
		return nil
	})
	if err != nil {
		t.Fatalf("scanLines: %v", err)
	}
	if len(got) != 2 || got[0] != "line1" || got[1] != "line2" {
		t.Errorf("got %v, want [line1 line2]", got)
	}
}

func TestScanLinesPropagatesHandlerError(t *testing.T) {
	r := strings.NewReader("line1\nline2\n")
	wantErr := context.DeadlineExceeded
	err := scanLines(context.Background(), r, func(ctx context.Context, line string) error {
		return wantErr
	})
	if err != wantErr {
		t.Errorf("scanLines err = %v, want %v", err, wantErr)
	}
}

func TestScanLinesRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := strings.NewReader("line1\nline2\n")
	err := scanLines(ctx, r, func(ctx context.Context, line string) error {
		t.Fatal("handler should not run once ctx is cancelled")
		return nil
	})
	if err != context.Canceled {
		t.Errorf("scanLines err = %v, want context.Canceled", err)
	}
}

func TestBuildURLUpgradesHTTPSToWSS(t *testing.T) {
	s := &WebSocketSource{URL: "https://example.com/stream"}
	got, err := s.buildURL()
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	if got != "wss://example.com/stream" {
		t.Errorf("buildURL = %q, want wss://example.com/stream", got)
	}
}

func TestBuildURLDefaultsPlainHTTPToWS(t *testing.T) {
	s := &WebSocketSource{URL: "http://example.com/stream"}
	got, err := s.buildURL()
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	if got != "ws://example.com/stream" {
		t.Errorf("buildURL = %q, want ws://example.com/stream", got)
	}
}

func TestNewWebSocketSourceAppliesDefaults(t *testing.T) {
	s := NewWebSocketSource("ws://example.com", 0, 0)
	if s.MaxRetries != 25 {
		t.Errorf("MaxRetries = %d, want 25", s.MaxRetries)
	}
	if s.ReconnectDelay <= 0 {
		t.Errorf("ReconnectDelay = %v, want > 0", s.ReconnectDelay)
	}
}
