package db

import (
	"context"
	"testing"
)

func TestNewRejectsEmptyPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPingSucceedsOnOpenDatabase(t *testing.T) {
	d := newTestDB(t)
	if err := d.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestPingFailsAfterClose(t *testing.T) {
	d, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Ping(context.Background()); err == nil {
		t.Fatal("expected Ping to fail on a closed database")
	}
}

func TestPoolStatsReflectsSingleWriterConfig(t *testing.T) {
	d := newTestDB(t)
	stats := d.PoolStats()
	if stats.MaxOpenConnections != 1 {
		t.Fatalf("expected MaxOpenConnections 1, got %d", stats.MaxOpenConnections)
	}
}

func TestPoolStatsOnNilDatabaseIsZeroValue(t *testing.T) {
	var d *Database
	stats := d.PoolStats()
	if stats.MaxOpenConnections != 0 {
		t.Fatalf("expected zero-value stats for nil database, got %+v", stats)
	}
	if err := d.Ping(context.Background()); err == nil {
		t.Fatal("expected Ping to error on a nil database")
	}
}
