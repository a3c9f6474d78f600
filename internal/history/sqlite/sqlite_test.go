package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hollowtree/veild/internal/history"
)

func TestSink_SendAndQuery(t *testing.T) {
	sink, err := New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	events := []history.Event{
		{Type: history.EventStart, OccurredAt: time.Now(), Record: history.Record{Role: "tor-proxy", PID: 100}},
		{Type: history.EventRestart, OccurredAt: time.Now(), Record: history.Record{Role: "crawl-worker", PID: 200, Restarts: 1, Detail: "process died"}},
		{Type: history.EventShutdown, OccurredAt: time.Now(), Record: history.Record{Role: "web-worker", PID: 300}},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Send(%s): %v", e.Type, err)
		}
	}

	var n int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fleet_history").Scan(&n); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if n != len(events) {
		t.Fatalf("rows = %d, want %d", n, len(events))
	}

	var role string
	err = sink.db.QueryRowContext(ctx,
		"SELECT role FROM fleet_history WHERE event = ?", string(history.EventRestart)).Scan(&role)
	if err != nil {
		t.Fatalf("restart row query: %v", err)
	}
	if role != "crawl-worker" {
		t.Fatalf("restart role = %q, want crawl-worker", role)
	}
}

func TestNew_InvalidDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("empty DSN must error")
	}
}

func TestNew_MemoryDSN(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("New memory: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.Send(context.Background(), history.Event{
		Type: history.EventStart, OccurredAt: time.Now(),
		Record: history.Record{Role: "i2p-proxy", PID: 1},
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
