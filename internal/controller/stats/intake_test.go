package stats

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestParseTimestamp_ValidRFC3339(t *testing.T) {
	got := parseTimestamp("2026-01-01T00:00:00Z", zap.NewNop())
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("parseTimestamp() = %v, want %v", got, want)
	}
}

func TestParseTimestamp_InvalidDefaultsToNow(t *testing.T) {
	before := time.Now().UTC()
	got := parseTimestamp("not-a-timestamp", zap.NewNop())
	after := time.Now().UTC()

	if got.Before(before) || got.After(after) {
		t.Fatalf("parseTimestamp() = %v, want between %v and %v", got, before, after)
	}
}

func TestParseTimestamp_EmptyDefaultsToNow(t *testing.T) {
	before := time.Now().UTC()
	got := parseTimestamp("", zap.NewNop())
	after := time.Now().UTC()

	if got.Before(before) || got.After(after) {
		t.Fatalf("parseTimestamp() = %v, want between %v and %v", got, before, after)
	}
}
