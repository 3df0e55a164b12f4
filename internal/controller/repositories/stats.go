package repositories

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
)

type gormStatsRepository struct {
	db *gorm.DB
}

// NewStatsRepository returns a StatsRepository backed by the provided
// *gorm.DB.
func NewStatsRepository(gdb *gorm.DB) StatsRepository {
	return &gormStatsRepository{db: gdb}
}

func (r *gormStatsRepository) BulkCreate(ctx context.Context, stats []db.ConnectionStat) error {
	if len(stats) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(stats, 500).Error; err != nil {
		return fmt.Errorf("stats: bulk create: %w", err)
	}
	return nil
}

func (r *gormStatsRepository) Summary(ctx context.Context, since time.Time) (StatsSummary, error) {
	var summary StatsSummary

	if err := r.db.WithContext(ctx).Model(&db.ConnectionStat{}).
		Where("timestamp >= ?", since).
		Count(&summary.TotalConnections).Error; err != nil {
		return StatsSummary{}, fmt.Errorf("stats: summary total: %w", err)
	}

	if err := r.db.WithContext(ctx).Model(&db.ConnectionStat{}).
		Where("timestamp >= ? AND status = ?", since, "blocked").
		Count(&summary.BlockedConnections).Error; err != nil {
		return StatsSummary{}, fmt.Errorf("stats: summary blocked: %w", err)
	}

	row := r.db.WithContext(ctx).Model(&db.ConnectionStat{}).
		Where("timestamp >= ?", since).
		Select("COALESCE(SUM(bytes_sent), 0) AS sent, COALESCE(SUM(bytes_received), 0) AS received")
	var agg struct {
		Sent     int64
		Received int64
	}
	if err := row.Scan(&agg).Error; err != nil {
		return StatsSummary{}, fmt.Errorf("stats: summary bytes: %w", err)
	}
	summary.TotalBytesSent = agg.Sent
	summary.TotalBytesReceived = agg.Received

	return summary, nil
}

func (r *gormStatsRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&db.ConnectionStat{})
	if result.Error != nil {
		return 0, fmt.Errorf("stats: delete older than: %w", result.Error)
	}
	return result.RowsAffected, nil
}
