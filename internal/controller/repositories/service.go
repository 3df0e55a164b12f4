package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
)

type gormServiceRepository struct {
	db *gorm.DB
}

// NewServiceRepository returns a ServiceRepository backed by the provided *gorm.DB.
func NewServiceRepository(gdb *gorm.DB) ServiceRepository {
	return &gormServiceRepository{db: gdb}
}

func (r *gormServiceRepository) Create(ctx context.Context, svc *db.Service) error {
	if err := r.db.WithContext(ctx).Create(svc).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("services: create: %w", ErrConflict)
		}
		return fmt.Errorf("services: create: %w", err)
	}
	return nil
}

func (r *gormServiceRepository) GetByID(ctx context.Context, id uint64) (*db.Service, error) {
	var svc db.Service
	if err := r.db.WithContext(ctx).First(&svc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("services: get by id: %w", err)
	}
	return &svc, nil
}

func (r *gormServiceRepository) Update(ctx context.Context, svc *db.Service) error {
	result := r.db.WithContext(ctx).Save(svc)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return fmt.Errorf("services: update: %w", ErrConflict)
		}
		return fmt.Errorf("services: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormServiceRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&db.Service{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("services: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		// Cascade: assignments and stats referencing this service are
		// meaningless once it is gone.
		if err := tx.Where("service_id = ?", id).Delete(&db.ServiceAssignment{}).Error; err != nil {
			return fmt.Errorf("services: cascade delete assignments: %w", err)
		}
		if err := tx.Where("service_id = ?", id).Delete(&db.ConnectionStat{}).Error; err != nil {
			return fmt.Errorf("services: cascade delete stats: %w", err)
		}
		return nil
	})
}

func (r *gormServiceRepository) List(ctx context.Context, opts ListOptions) ([]db.Service, int64, error) {
	var services []db.Service
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Service{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("services: list count: %w", err)
	}

	q := r.db.WithContext(ctx).Order("created_at ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}
	if err := q.Find(&services).Error; err != nil {
		return nil, 0, fmt.Errorf("services: list: %w", err)
	}

	return services, total, nil
}

func (r *gormServiceRepository) GetByIDs(ctx context.Context, ids []uint64) ([]db.Service, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var services []db.Service
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&services).Error; err != nil {
		return nil, fmt.Errorf("services: get by ids: %w", err)
	}
	return services, nil
}

func (r *gormServiceRepository) MaxUpdatedAt(ctx context.Context) (time.Time, int64, error) {
	return maxUpdatedAtAndCount(ctx, r.db, &db.Service{})
}
