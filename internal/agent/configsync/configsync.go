// Package configsync keeps an Agent's data plane coherent with the
// Controller's desired state: a pull loop polls for a new config_version
// on a fixed cadence, and a small HTTP server lets the Controller trigger
// an immediate, version-check-bypassing re-fetch after a mutation.
package configsync

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/agent/client"
	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// defaultSyncInterval is used when the caller does not override it.
const defaultSyncInterval = 30 * time.Second

// ApplyFunc is invoked with a newly fetched configuration. It must be safe
// to call repeatedly and should itself be idempotent — sync serializes
// calls, but the function may still race with other mutators.
type ApplyFunc func(ctx context.Context, cfg wire.AgentConfig)

// Syncer polls the Controller for configuration and applies it through a
// single-threaded critical section, ensuring the pull loop and the
// push-trigger endpoint never apply concurrently.
type Syncer struct {
	agentID  uint64
	client   *client.Client
	apply    ApplyFunc
	interval time.Duration
	logger   *zap.Logger

	mu             sync.Mutex
	currentVersion int64

	stop chan struct{}
	done chan struct{}
}

// New constructs a Syncer. interval <= 0 uses the documented default.
func New(agentID uint64, c *client.Client, apply ApplyFunc, interval time.Duration, logger *zap.Logger) *Syncer {
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	return &Syncer{
		agentID:  agentID,
		client:   c,
		apply:    apply,
		interval: interval,
		logger:   logger.Named("configsync"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start fetches and applies the configuration once, unconditionally, then
// begins the periodic version-checked poll loop in the background.
func (s *Syncer) Start(ctx context.Context) {
	cfg, err := s.client.GetConfig(ctx, s.agentID)
	if err != nil {
		s.logger.Error("initial config fetch failed", zap.Error(err))
	} else {
		s.applyLocked(ctx, *cfg)
	}

	go s.loop(ctx)
	s.logger.Info("config sync started", zap.Duration("interval", s.interval))
}

func (s *Syncer) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Syncer) poll(ctx context.Context) {
	cfg, err := s.client.GetConfig(ctx, s.agentID)
	if err != nil {
		s.logger.Warn("config fetch failed, will retry next interval", zap.Error(err))
		return
	}

	s.mu.Lock()
	unchanged := cfg.ConfigVersion == s.currentVersion
	s.mu.Unlock()
	if unchanged {
		return
	}

	s.logger.Info("config version changed", zap.Int64("from", s.currentVersion), zap.Int64("to", cfg.ConfigVersion))
	s.applyLocked(ctx, *cfg)
}

// ForceSync bypasses the version check and applies whatever the Controller
// currently reports. Called by the trigger-sync HTTP handler.
func (s *Syncer) ForceSync(ctx context.Context) error {
	cfg, err := s.client.GetConfig(ctx, s.agentID)
	if err != nil {
		s.logger.Error("force sync: fetch failed", zap.Error(err))
		return err
	}
	s.logger.Info("forcing immediate config sync", zap.Int64("version", cfg.ConfigVersion))
	s.applyLocked(ctx, *cfg)
	return nil
}

// applyLocked serializes Apply calls so the pull loop and a concurrent
// push-trigger never reconcile the data plane at the same time.
func (s *Syncer) applyLocked(ctx context.Context, cfg wire.AgentConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(ctx, cfg)
	s.currentVersion = cfg.ConfigVersion
}

// Stop halts the poll loop.
func (s *Syncer) Stop() {
	close(s.stop)
	<-s.done
	s.logger.Info("config sync stopped")
}

// TriggerServer is the small HTTP server bound to the overlay IP that lets
// the Controller request an immediate force-sync after a mutation.
type TriggerServer struct {
	srv    *http.Server
	syncer *Syncer
	logger *zap.Logger
}

// NewTriggerServer builds a server listening on addr (overlay_ip:port).
func NewTriggerServer(addr string, syncer *Syncer, logger *zap.Logger) *TriggerServer {
	t := &TriggerServer{syncer: syncer, logger: logger.Named("configsync.trigger")}
	mux := http.NewServeMux()
	mux.HandleFunc("/trigger-sync", t.handleTrigger)
	mux.HandleFunc("/health", t.handleHealth)
	t.srv = &http.Server{Addr: addr, Handler: mux}
	return t
}

func (t *TriggerServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (t *TriggerServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := t.syncer.ForceSync(r.Context()); err != nil {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"status":"error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// Start begins serving in the background. Listen errors after shutdown are
// not reported — ListenAndServe always returns a non-nil error on Shutdown.
func (t *TriggerServer) Start() {
	go func() {
		if err := t.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("trigger server stopped unexpectedly", zap.Error(err))
		}
	}()
	t.logger.Info("trigger-sync server listening", zap.String("addr", t.srv.Addr))
}

// Shutdown gracefully stops the trigger server.
func (t *TriggerServer) Shutdown(ctx context.Context) error {
	return t.srv.Shutdown(ctx)
}
