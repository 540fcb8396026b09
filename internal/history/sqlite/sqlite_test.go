package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/previewd/internal/history"
)

func sampleRecord() history.Record {
	return history.Record{
		Key:       "/srv/web",
		RunID:     "run-1",
		PID:       12345,
		Command:   "pnpm run dev",
		Cwd:       "/srv/web/apps/site",
		Port:      5173,
		StartedAt: time.Now().Add(-time.Minute).UTC(),
	}
}

func TestSQLiteSinkIntegration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	rec := sampleRecord()
	for _, typ := range []history.EventType{history.EventStart, history.EventStop} {
		if err := sink.Send(ctx, history.Event{Type: typ, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
			t.Fatalf("Failed to send %s event: %v", typ, err)
		}
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM preview_history WHERE project = ?", rec.Key).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events in history, got %d", count)
	}
}

func TestSQLiteSinkSpawnFailure(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	rec := sampleRecord()
	rec.PID = 0
	rec.Reason = "CommandFailed"
	rec.Message = "exec: \"pnpm\": executable file not found in $PATH"
	if err := sink.Send(ctx, history.Event{Type: history.EventSpawnFailed, OccurredAt: time.Now(), Record: rec}); err != nil {
		t.Fatalf("send: %v", err)
	}

	var event, reason string
	if err := sink.db.QueryRowContext(ctx, "SELECT event, reason FROM preview_history").Scan(&event, &reason); err != nil {
		t.Fatalf("query: %v", err)
	}
	if event != "spawn_failed" || reason != "CommandFailed" {
		t.Fatalf("row = %s %s", event, reason)
	}
}

func TestSQLiteSinkEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
