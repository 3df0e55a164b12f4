// Package heartbeat sends periodic health reports to the Controller so the
// Health Monitor can tell a live Agent from a dead one.
package heartbeat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/agent/client"
	"github.com/m0nnnna/nekoproxy/internal/agent/metrics"
	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// ActiveConnectionsFunc reports the current in-flight connection count
// across both proxy managers.
type ActiveConnectionsFunc func() int

// ReregisterFunc re-registers the Agent with the Controller and returns the
// (possibly unchanged) agent id. Invoked when a heartbeat comes back 404 —
// the Controller no longer knows this agent, typically after its record was
// deleted or the database was rebuilt.
type ReregisterFunc func(ctx context.Context) (uint64, error)

// Sender ticks on interval, gathering metrics and posting a heartbeat.
type Sender struct {
	agentID           uint64
	client            *client.Client
	activeConnections ActiveConnectionsFunc
	reregister        ReregisterFunc
	interval          time.Duration
	logger            *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// New constructs a Sender. reregister may be nil, in which case a 404 is
// treated like any other transient failure.
func New(agentID uint64, c *client.Client, activeConnections ActiveConnectionsFunc, reregister ReregisterFunc, interval time.Duration, logger *zap.Logger) *Sender {
	return &Sender{
		agentID:           agentID,
		client:            c,
		activeConnections: activeConnections,
		reregister:        reregister,
		interval:          interval,
		logger:            logger.Named("heartbeat"),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Start begins the background heartbeat loop.
func (s *Sender) Start(ctx context.Context) {
	go s.loop(ctx)
	s.logger.Info("heartbeat sender started", zap.Duration("interval", s.interval))
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.send(ctx); err != nil {
			s.logger.Warn("heartbeat failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *Sender) send(ctx context.Context) error {
	sample, err := metrics.Collect()
	if err != nil {
		s.logger.Warn("metrics collection failed", zap.Error(err))
	}

	req := wire.HeartbeatRequest{
		ActiveConnections: s.activeConnections(),
		CPUPercent:        sample.CPUPercent,
		MemoryPercent:     sample.MemoryPercent,
	}

	_, err = s.client.Heartbeat(ctx, s.agentID, req)
	if err != nil {
		if client.IsNotFound(err) && s.reregister != nil {
			s.logger.Warn("controller no longer knows this agent, re-registering", zap.Uint64("agent_id", s.agentID))
			id, regErr := s.reregister(ctx)
			if regErr != nil {
				return fmt.Errorf("re-register after 404: %w", regErr)
			}
			s.agentID = id
		}
		return err
	}
	s.logger.Debug("heartbeat sent", zap.Int("active_connections", req.ActiveConnections))
	return nil
}

// Stop halts the heartbeat loop.
func (s *Sender) Stop() {
	close(s.stop)
	<-s.done
	s.logger.Info("heartbeat sender stopped")
}
