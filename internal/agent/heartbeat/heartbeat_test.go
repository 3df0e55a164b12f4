package heartbeat

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

func TestSender_SendsHeartbeatImmediatelyAndOnInterval(t *testing.T) {
	var calls atomic.Int64
	var lastActive atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req wire.HeartbeatRequest
		json.NewDecoder(r.Body).Decode(&req)
		lastActive.Store(int64(req.ActiveConnections))

		status := wire.AgentStatus{ID: 1, Status: wire.AgentHealthy}
		b, _ := json.Marshal(status)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":`))
		w.Write(b)
		w.Write([]byte(`}`))
	}))
	defer srv.Close()

	c := client.New(srv.URL)
	s := New(1, c, func() int { return 3 }, nil, 30*time.Millisecond, zap.NewNop())
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if calls.Load() >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := calls.Load(); got < 2 {
		t.Fatalf("expected at least 2 heartbeats (immediate + interval), got %d", got)
	}
	if got := lastActive.Load(); got != 3 {
		t.Fatalf("active_connections = %d, want 3", got)
	}
}

func TestSender_ReregistersOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"resource not found","code":"not_found"}}`))
	}))
	defer srv.Close()

	var reregistered atomic.Int64
	c := client.New(srv.URL)
	s := New(1, c, func() int { return 0 }, func(ctx context.Context) (uint64, error) {
		reregistered.Add(1)
		return 2, nil
	}, 20*time.Millisecond, zap.NewNop())
	s.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && reregistered.Load() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()

	if reregistered.Load() == 0 {
		t.Fatal("expected re-registration after heartbeat 404")
	}
	if got := s.agentID; got != 2 {
		t.Fatalf("agentID after re-register = %d, want 2", got)
	}
}
