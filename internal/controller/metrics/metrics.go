// Package metrics defines the Controller's Prometheus instrumentation:
// agent fleet gauges, stats-intake counters, and a pending-alerts gauge
// exposed on GET /metrics alongside the Go process collectors.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
)

// Registry groups every Controller-side metric and the periodic sampler
// that keeps the fleet gauges current. The zero value is not usable —
// construct with New, which registers every collector against the default
// Prometheus registry.
type Registry struct {
	agentsTotal   prometheus.Gauge
	agentsHealthy prometheus.Gauge
	pendingAlerts prometheus.Gauge

	statsIntakeBatches prometheus.Counter
	statsIntakeRecords prometheus.Counter

	agents repositories.AgentRepository
	alerts repositories.AlertRepository
	logger *zap.Logger
}

// New constructs and registers the Controller's metric collectors.
func New(agents repositories.AgentRepository, alerts repositories.AlertRepository, logger *zap.Logger) *Registry {
	r := &Registry{
		agentsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nekoproxy_agents_total",
			Help: "Total number of registered agents.",
		}),
		agentsHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nekoproxy_agents_healthy",
			Help: "Number of agents currently marked healthy.",
		}),
		pendingAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nekoproxy_pending_alerts",
			Help: "Number of unacknowledged operator alerts.",
		}),
		statsIntakeBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nekoproxy_stats_intake_batches_total",
			Help: "Total number of connection-stat batches accepted from agents.",
		}),
		statsIntakeRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nekoproxy_stats_intake_records_total",
			Help: "Total number of connection-stat records accepted from agents.",
		}),
		agents: agents,
		alerts: alerts,
		logger: logger.Named("metrics"),
	}

	prometheus.MustRegister(r.agentsTotal, r.agentsHealthy, r.pendingAlerts, r.statsIntakeBatches, r.statsIntakeRecords)
	return r
}

// ObserveIntake records one accepted stats batch and its record count. Called
// by the stats service on every successful Intake.
func (r *Registry) ObserveIntake(recordCount int) {
	r.statsIntakeBatches.Inc()
	r.statsIntakeRecords.Add(float64(recordCount))
}

// Sample refreshes the fleet and alert gauges from the record store. Called
// on the same cadence as the Health Monitor's tick so the exposed gauges
// never drift far from reality.
func (r *Registry) Sample(ctx context.Context) {
	_, total, err := r.agents.List(ctx, repositories.ListOptions{Limit: 1})
	if err != nil {
		r.logger.Warn("failed to sample agent total", zap.Error(err))
	} else {
		r.agentsTotal.Set(float64(total))
	}

	healthy, err := r.agents.ListHealthy(ctx)
	if err != nil {
		r.logger.Warn("failed to sample healthy agents", zap.Error(err))
	} else {
		r.agentsHealthy.Set(float64(len(healthy)))
	}

	pending, err := r.alerts.CountUnacknowledged(ctx)
	if err != nil {
		r.logger.Warn("failed to sample pending alerts", zap.Error(err))
	} else {
		r.pendingAlerts.Set(float64(pending))
	}
}
