package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/agent/client"
	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

func TestReporter_FlushesBatch(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wire.StatsIntakeRequest
		json.NewDecoder(r.Body).Decode(&req)
		received.Add(int64(len(req.Connections)))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"status":"accepted"}}`))
	}))
	defer srv.Close()

	c := client.New(srv.URL)
	r := New(1, c, 10, 20*time.Millisecond, zap.NewNop())

	r.Record(ConnectionStatFrom(1, "1.2.3.4", wire.StatusCompleted, 0.5, 100, 200))
	r.Record(ConnectionStatFrom(1, "1.2.3.5", wire.StatusCompleted, 0.3, 50, 60))

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if received.Load() == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected 2 stats reported, got %d", received.Load())
}

func TestReporter_OverflowDropsOldest(t *testing.T) {
	r := New(1, client.New("http://127.0.0.1:0"), 10, time.Hour, zap.NewNop())

	for i := 0; i < queueCap+5; i++ {
		r.Record(ConnectionStatFrom(uint64(i), "1.2.3.4", wire.StatusCompleted, 0, 0, 0))
	}

	if got := r.queueLen(); got != queueCap {
		t.Fatalf("queue length = %d, want %d", got, queueCap)
	}
	// The 5 oldest entries (service ids 0..4) must have been evicted, so the
	// queue now starts at service id 5.
	front := r.queue.Front().Value.(wire.ConnectionStat)
	if front.ServiceID != 5 {
		t.Fatalf("front service id = %d, want 5 (oldest dropped first)", front.ServiceID)
	}
}

func TestReporter_PutBackPreservesOrder(t *testing.T) {
	r := New(1, client.New("http://127.0.0.1:0"), 10, time.Hour, zap.NewNop())

	r.Record(ConnectionStatFrom(10, "1.2.3.4", wire.StatusCompleted, 0, 0, 0))
	batch := r.takeBatch()
	if len(batch) != 1 {
		t.Fatalf("batch length = %d, want 1", len(batch))
	}

	r.Record(ConnectionStatFrom(11, "1.2.3.5", wire.StatusCompleted, 0, 0, 0))
	r.putBack(batch)

	// The failed batch goes back to the head, ahead of anything recorded
	// while the flush was in flight.
	next := r.takeBatch()
	if next[0].ServiceID != 10 || next[1].ServiceID != 11 {
		t.Fatalf("order after putBack = [%d %d], want [10 11]", next[0].ServiceID, next[1].ServiceID)
	}
}

func TestReporter_PutBackOverflowEvictsOldestQueued(t *testing.T) {
	r := New(1, client.New("http://127.0.0.1:0"), 10, time.Hour, zap.NewNop())

	r.Record(ConnectionStatFrom(100, "1.2.3.4", wire.StatusCompleted, 0, 0, 0))
	batch := r.takeBatch()

	// Fill the queue to capacity while the batch is "in flight".
	for i := 0; i < queueCap; i++ {
		r.Record(ConnectionStatFrom(uint64(i), "1.2.3.4", wire.StatusCompleted, 0, 0, 0))
	}

	r.putBack(batch)

	if got := r.queueLen(); got != queueCap {
		t.Fatalf("queue length = %d, want %d", got, queueCap)
	}
	// The retried batch survives at the head; the eviction came out of the
	// oldest queued entry (service id 0), never the newest.
	front := r.queue.Front().Value.(wire.ConnectionStat)
	if front.ServiceID != 100 {
		t.Fatalf("front service id = %d, want 100 (retried batch at head)", front.ServiceID)
	}
	back := r.queue.Back().Value.(wire.ConnectionStat)
	if back.ServiceID != queueCap-1 {
		t.Fatalf("back service id = %d, want %d (newest must survive)", back.ServiceID, queueCap-1)
	}
}

func TestReporter_RetriesOnFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"boom","code":"internal"}}`))
			return
		}
		w.Write([]byte(`{"data":{"status":"accepted"}}`))
	}))
	defer srv.Close()

	c := client.New(srv.URL)
	r := New(1, c, 10, 20*time.Millisecond, zap.NewNop())
	r.Record(ConnectionStatFrom(1, "1.2.3.4", wire.StatusCompleted, 0.5, 100, 200))

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls.Load() >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected at least 2 attempts (1 failure + 1 retry), got %d", calls.Load())
}
