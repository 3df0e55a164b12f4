package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
)

type gormFirewallRepository struct {
	db *gorm.DB
}

// NewFirewallRepository returns a FirewallRepository backed by the provided
// *gorm.DB.
func NewFirewallRepository(gdb *gorm.DB) FirewallRepository {
	return &gormFirewallRepository{db: gdb}
}

func (r *gormFirewallRepository) Create(ctx context.Context, rule *db.FirewallRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("firewall: create: %w", ErrConflict)
		}
		return fmt.Errorf("firewall: create: %w", err)
	}
	return nil
}

func (r *gormFirewallRepository) GetByID(ctx context.Context, id uint64) (*db.FirewallRule, error) {
	var rule db.FirewallRule
	if err := r.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firewall: get by id: %w", err)
	}
	return &rule, nil
}

func (r *gormFirewallRepository) Update(ctx context.Context, rule *db.FirewallRule) error {
	result := r.db.WithContext(ctx).Save(rule)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return fmt.Errorf("firewall: update: %w", ErrConflict)
		}
		return fmt.Errorf("firewall: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormFirewallRepository) Delete(ctx context.Context, id uint64) error {
	result := r.db.WithContext(ctx).Delete(&db.FirewallRule{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("firewall: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormFirewallRepository) List(ctx context.Context, opts ListOptions) ([]db.FirewallRule, int64, error) {
	var rules []db.FirewallRule
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.FirewallRule{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("firewall: list count: %w", err)
	}

	q := r.db.WithContext(ctx).Order("created_at ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}
	if err := q.Find(&rules).Error; err != nil {
		return nil, 0, fmt.Errorf("firewall: list: %w", err)
	}

	return rules, total, nil
}

func (r *gormFirewallRepository) ListVisibleTo(ctx context.Context, agentID uint64) ([]db.FirewallRule, error) {
	var rules []db.FirewallRule
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Where("agent_id IS NULL OR agent_id = ?", agentID).
		Order("id ASC").
		Find(&rules).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("firewall: list visible to: %w", err)
	}
	return rules, nil
}

func (r *gormFirewallRepository) MaxUpdatedAt(ctx context.Context) (time.Time, int64, error) {
	return maxUpdatedAtAndCount(ctx, r.db, &db.FirewallRule{})
}
