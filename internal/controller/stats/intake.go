// Package stats orchestrates connection-stat ingestion and aggregation,
// sitting between the HTTP handlers and the StatsRepository: timestamp
// coercion, defaulting, and batch assembly live here rather than in the
// repository or the API layer.
package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/metrics"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// Service bulk-inserts reported connection stats and answers summary
// queries. The zero value is not usable — create instances with New.
type Service struct {
	repo    repositories.StatsRepository
	metrics *metrics.Registry
	logger  *zap.Logger
}

// New constructs a Service. metricsReg may be nil, in which case intake
// counters are not recorded.
func New(repo repositories.StatsRepository, metricsReg *metrics.Registry, logger *zap.Logger) *Service {
	return &Service{repo: repo, metrics: metricsReg, logger: logger.Named("stats")}
}

// Intake coerces and bulk-inserts one agent's batch of connection stats in
// a single transaction (delegated to the repository's CreateInBatches).
// Any ISO-string timestamp that fails to parse falls back to "now" rather
// than rejecting the whole batch.
func (s *Service) Intake(ctx context.Context, req wire.StatsIntakeRequest) (int, error) {
	records := make([]db.ConnectionStat, 0, len(req.Connections))
	for _, c := range req.Connections {
		records = append(records, db.ConnectionStat{
			AgentID:       req.AgentID,
			ServiceID:     c.ServiceID,
			ClientIP:      c.ClientIP,
			Status:        c.Status,
			Duration:      c.Duration,
			BytesSent:     c.BytesSent,
			BytesReceived: c.BytesReceived,
			Timestamp:     parseTimestamp(c.Timestamp, s.logger),
		})
	}

	if err := s.repo.BulkCreate(ctx, records); err != nil {
		return 0, fmt.Errorf("stats: intake: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveIntake(len(records))
	}
	return len(records), nil
}

// Summary returns the aggregate over the trailing window of hours.
func (s *Service) Summary(ctx context.Context, hours int) (wire.StatsSummary, error) {
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	summary, err := s.repo.Summary(ctx, since)
	if err != nil {
		return wire.StatsSummary{}, fmt.Errorf("stats: summary: %w", err)
	}
	return wire.StatsSummary{
		TotalConnections:   summary.TotalConnections,
		BlockedConnections: summary.BlockedConnections,
		TotalBytesSent:     summary.TotalBytesSent,
		TotalBytesReceived: summary.TotalBytesReceived,
	}, nil
}

// parseTimestamp coerces an ISO-8601 timestamp string into a time.Time,
// defaulting to now on a missing or unparseable value.
func parseTimestamp(raw string, logger *zap.Logger) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("failed to parse connection stat timestamp, defaulting to now",
			zap.String("raw", raw),
			zap.Error(err),
		)
		return time.Now().UTC()
	}
	return t
}
