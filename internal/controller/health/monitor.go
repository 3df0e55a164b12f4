// Package health runs the Controller's single background loop: demoting
// agents that have gone silent and, at most once per hour, pruning old
// connection stats.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/alerts"
	"github.com/m0nnnna/nekoproxy/internal/controller/metrics"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
)

// Monitor ticks every 30s, demoting silent agents and, at most once per
// hour, pruning stats past the retention window. The zero value is not
// usable — create instances with New.
type Monitor struct {
	cron gocron.Scheduler

	agents  repositories.AgentRepository
	stats   repositories.StatsRepository
	alerts  *alerts.Service
	metrics *metrics.Registry

	heartbeatTimeout time.Duration
	retentionDays    int

	lastPrune time.Time
	logger    *zap.Logger
}

// New constructs a Monitor. heartbeatTimeout and retentionDays come from
// Controller configuration (--heartbeat-timeout, --stats-retention-days).
// alertsSvc and metricsReg may be nil — demotion alerts and metric sampling
// are then skipped.
func New(
	agents repositories.AgentRepository,
	stats repositories.StatsRepository,
	alertsSvc *alerts.Service,
	metricsReg *metrics.Registry,
	heartbeatTimeout time.Duration,
	retentionDays int,
	logger *zap.Logger,
) (*Monitor, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("health: new scheduler: %w", err)
	}

	return &Monitor{
		cron:             s,
		agents:           agents,
		stats:            stats,
		alerts:           alertsSvc,
		metrics:          metricsReg,
		heartbeatTimeout: heartbeatTimeout,
		retentionDays:    retentionDays,
		logger:           logger.Named("health"),
	}, nil
}

// Start schedules the tick job (singleton mode — a slow tick never overlaps
// with the next) and starts the underlying gocron scheduler.
func (m *Monitor) Start(ctx context.Context) error {
	_, err := m.cron.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() { m.tick(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("health: schedule tick: %w", err)
	}

	m.cron.Start()
	m.logger.Info("health monitor started",
		zap.Duration("heartbeat_timeout", m.heartbeatTimeout),
		zap.Int("retention_days", m.retentionDays),
	)
	return nil
}

// Stop shuts down the underlying scheduler, waiting for an in-flight tick
// to finish.
func (m *Monitor) Stop() error {
	if err := m.cron.Shutdown(); err != nil {
		return fmt.Errorf("health: shutdown: %w", err)
	}
	m.logger.Info("health monitor stopped")
	return nil
}

// tick performs one health-check pass: demotion is always attempted;
// retention pruning is attempted only if an hour has passed since the last
// successful prune.
func (m *Monitor) tick(ctx context.Context) {
	if err := m.demoteStale(ctx); err != nil {
		m.logger.Error("demote pass failed", zap.Error(err))
	}

	if m.metrics != nil {
		m.metrics.Sample(ctx)
	}

	if time.Since(m.lastPrune) < time.Hour {
		return
	}
	if err := m.pruneStats(ctx); err != nil {
		m.logger.Error("stats prune failed", zap.Error(err))
		return
	}
	m.lastPrune = time.Now().UTC()
}

// demoteStale scans healthy agents and demotes any whose last_heartbeat is
// older than heartbeatTimeout, or absent. Demotion is stateless: a
// subsequent heartbeat re-promotes the agent immediately, no backoff.
func (m *Monitor) demoteStale(ctx context.Context) error {
	healthy, err := m.agents.ListHealthy(ctx)
	if err != nil {
		return fmt.Errorf("list healthy: %w", err)
	}

	now := time.Now().UTC()
	for i := range healthy {
		agent := &healthy[i]
		stale := agent.LastHeartbeat == nil || now.Sub(*agent.LastHeartbeat) > m.heartbeatTimeout
		if !stale {
			continue
		}

		agent.Status = "unhealthy"
		if err := m.agents.Update(ctx, agent); err != nil {
			m.logger.Error("failed to demote agent",
				zap.Uint64("agent_id", agent.ID),
				zap.Error(err),
			)
			continue
		}
		m.logger.Warn("agent demoted to unhealthy",
			zap.Uint64("agent_id", agent.ID),
			zap.String("hostname", agent.Hostname),
		)
		if m.alerts != nil {
			agentID := agent.ID
			msg := fmt.Sprintf("agent %q (id %d) demoted to unhealthy: no heartbeat in over %s", agent.Hostname, agent.ID, m.heartbeatTimeout)
			if err := m.alerts.Raise(ctx, alerts.KindAgentUnhealthy, msg, &agentID); err != nil {
				m.logger.Error("failed to raise agent-unhealthy alert", zap.Uint64("agent_id", agent.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// pruneStats removes connection stats older than retentionDays.
func (m *Monitor) pruneStats(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -m.retentionDays)
	deleted, err := m.stats.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete older than: %w", err)
	}
	if deleted > 0 {
		m.logger.Info("pruned old connection stats",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}
