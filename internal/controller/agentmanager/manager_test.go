package agentmanager

import (
	"testing"
	"time"
)

func TestComputeVersion_EmptyFallsBackToCount(t *testing.T) {
	got := ComputeVersion(versionInputs{totalCount: 4})
	want := int64(1 + 4)
	if got != want {
		t.Fatalf("ComputeVersion() = %d, want %d", got, want)
	}
}

func TestComputeVersion_UsesLatestTimestampAndCounts(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := ts.Add(-time.Hour)

	got := ComputeVersion(versionInputs{
		maxTimestamps:   []time.Time{older, ts},
		firewallCount:   2,
		assignmentCount: 3,
		blocklistCount:  1,
	})

	wantCountTerm := int64(2*100 + 3*10 + 1)
	want := ts.Unix()*10_000 + wantCountTerm
	if got != want {
		t.Fatalf("ComputeVersion() = %d, want %d", got, want)
	}
}

func TestComputeVersion_DeletionAdvancesVersionViaCountTerm(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	before := ComputeVersion(versionInputs{
		maxTimestamps:   []time.Time{ts},
		firewallCount:   1,
		assignmentCount: 1,
		blocklistCount:  1,
	})
	// A deletion with no surviving record to bump the timestamp still
	// changes the count term, so the version must differ even though
	// maxTimestamps is unchanged.
	after := ComputeVersion(versionInputs{
		maxTimestamps:   []time.Time{ts},
		firewallCount:   0,
		assignmentCount: 1,
		blocklistCount:  1,
	})

	if before == after {
		t.Fatalf("expected version to change after deletion, both were %d", before)
	}
}

func TestComputeVersion_CountTermWraps(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := ComputeVersion(versionInputs{
		maxTimestamps:   []time.Time{ts},
		firewallCount:   1000, // 1000*100 = 100_000, wraps mod 10_000 to 0
		assignmentCount: 0,
		blocklistCount:  0,
	})

	want := ts.Unix() * 10_000
	if got != want {
		t.Fatalf("ComputeVersion() = %d, want %d (count term should wrap mod 10_000)", got, want)
	}
}
