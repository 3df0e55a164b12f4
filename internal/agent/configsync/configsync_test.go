package configsync

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

func newConfigServer(t *testing.T, version *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := wire.AgentConfig{AgentID: 1, ConfigVersion: version.Load(), HeartbeatInterval: 30}
		b, _ := json.Marshal(cfg)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":`))
		w.Write(b)
		w.Write([]byte(`}`))
	}))
}

func TestSyncer_AppliesUnconditionallyOnStart(t *testing.T) {
	var version atomic.Int64
	version.Store(5)
	srv := newConfigServer(t, &version)
	defer srv.Close()

	var applied atomic.Int64
	c := client.New(srv.URL)
	s := New(1, c, func(ctx context.Context, cfg wire.AgentConfig) {
		applied.Store(cfg.ConfigVersion)
	}, time.Hour, zap.NewNop())

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	if got := applied.Load(); got != 5 {
		t.Fatalf("applied version = %d, want 5", got)
	}
}

func TestSyncer_SkipsApplyWhenVersionUnchanged(t *testing.T) {
	var version atomic.Int64
	version.Store(1)
	srv := newConfigServer(t, &version)
	defer srv.Close()

	var applyCount atomic.Int64
	c := client.New(srv.URL)
	s := New(1, c, func(ctx context.Context, cfg wire.AgentConfig) {
		applyCount.Add(1)
	}, 20*time.Millisecond, zap.NewNop())

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(120 * time.Millisecond)
	if got := applyCount.Load(); got != 1 {
		t.Fatalf("apply count = %d, want 1 (unchanged version should not reapply)", got)
	}
}

func TestSyncer_ForceSyncBypassesVersionCheck(t *testing.T) {
	var version atomic.Int64
	version.Store(1)
	srv := newConfigServer(t, &version)
	defer srv.Close()

	var applyCount atomic.Int64
	c := client.New(srv.URL)
	s := New(1, c, func(ctx context.Context, cfg wire.AgentConfig) {
		applyCount.Add(1)
	}, time.Hour, zap.NewNop())

	s.Start(context.Background())
	defer s.Stop()
	time.Sleep(20 * time.Millisecond)

	if err := s.ForceSync(context.Background()); err != nil {
		t.Fatalf("force sync: %v", err)
	}
	if got := applyCount.Load(); got != 2 {
		t.Fatalf("apply count = %d, want 2 (initial + force)", got)
	}
}

func TestTriggerServer_InvokesForceSync(t *testing.T) {
	var version atomic.Int64
	version.Store(7)
	cfgSrv := newConfigServer(t, &version)
	defer cfgSrv.Close()

	var applied atomic.Int64
	c := client.New(cfgSrv.URL)
	s := New(1, c, func(ctx context.Context, cfg wire.AgentConfig) {
		applied.Store(cfg.ConfigVersion)
	}, time.Hour, zap.NewNop())
	s.Start(context.Background())
	defer s.Stop()
	time.Sleep(20 * time.Millisecond)

	ts := NewTriggerServer("127.0.0.1:0", s, zap.NewNop())
	ts.srv.Addr = "127.0.0.1:18732"
	ts.Start()
	defer ts.Shutdown(context.Background())
	time.Sleep(20 * time.Millisecond)

	version.Store(9)
	resp, err := http.Post("http://127.0.0.1:18732/trigger-sync", "application/json", nil)
	if err != nil {
		t.Fatalf("post trigger: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	time.Sleep(20 * time.Millisecond)
	if got := applied.Load(); got != 9 {
		t.Fatalf("applied version = %d, want 9", got)
	}
}
