package pushsync

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
)

type fakeAgentRepository struct {
	repositories.AgentRepository
	agents []db.Agent
}

func (f *fakeAgentRepository) ListHealthy(ctx context.Context) ([]db.Agent, error) {
	return f.agents, nil
}

func TestNotifier_NudgesEveryHealthyAgent(t *testing.T) {
	var triggered atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/trigger-sync" {
			triggered.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split server addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	repo := &fakeAgentRepository{agents: []db.Agent{
		{Hostname: "a1", WireguardIP: "127.0.0.1", Status: "healthy"},
		{Hostname: "a2", WireguardIP: "127.0.0.1", Status: "healthy"},
	}}

	n := New(repo, port, zap.NewNop())
	n.NotifyAll(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if triggered.Load() == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected 2 trigger-sync calls, got %d", triggered.Load())
}
