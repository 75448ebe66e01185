// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockSince checks elapsed time is non-negative and grows.
func TestClockSince(t *testing.T) {
	t.Parallel()

	clk := New()
	start := clk.Now()
	first := clk.Since(start)
	if first < 0 {
		t.Fatalf("expected non-negative duration, got %v", first)
	}
	time.Sleep(2 * time.Millisecond)
	if second := clk.Since(start); second < first {
		t.Fatalf("expected %v to be >= %v", second, first)
	}
}
