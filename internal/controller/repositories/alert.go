package repositories

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
)

type gormAlertRepository struct {
	db *gorm.DB
}

// NewAlertRepository returns an AlertRepository backed by the provided
// *gorm.DB.
func NewAlertRepository(gdb *gorm.DB) AlertRepository {
	return &gormAlertRepository{db: gdb}
}

func (r *gormAlertRepository) Create(ctx context.Context, a *db.Alert) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("alerts: create: %w", err)
	}
	return nil
}

func (r *gormAlertRepository) List(ctx context.Context, opts ListOptions) ([]db.Alert, int64, error) {
	var alerts []db.Alert
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Alert{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("alerts: list count: %w", err)
	}

	q := r.db.WithContext(ctx).Order("created_at DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}
	if err := q.Find(&alerts).Error; err != nil {
		return nil, 0, fmt.Errorf("alerts: list: %w", err)
	}

	return alerts, total, nil
}

func (r *gormAlertRepository) CountUnacknowledged(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&db.Alert{}).Where("acknowledged = ?", false).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("alerts: count unacknowledged: %w", err)
	}
	return count, nil
}

func (r *gormAlertRepository) Acknowledge(ctx context.Context, id uint64) error {
	result := r.db.WithContext(ctx).Model(&db.Alert{}).Where("id = ?", id).Update("acknowledged", true)
	if result.Error != nil {
		return fmt.Errorf("alerts: acknowledge: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
