package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
)

type gormBlocklistRepository struct {
	db *gorm.DB
}

// NewBlocklistRepository returns a BlocklistRepository backed by the
// provided *gorm.DB.
func NewBlocklistRepository(gdb *gorm.DB) BlocklistRepository {
	return &gormBlocklistRepository{db: gdb}
}

func (r *gormBlocklistRepository) Create(ctx context.Context, e *db.BlocklistEntry) error {
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("blocklist: create: %w", ErrConflict)
		}
		return fmt.Errorf("blocklist: create: %w", err)
	}
	return nil
}

func (r *gormBlocklistRepository) Delete(ctx context.Context, id uint64) error {
	result := r.db.WithContext(ctx).Delete(&db.BlocklistEntry{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("blocklist: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormBlocklistRepository) DeleteByIP(ctx context.Context, ip string) error {
	result := r.db.WithContext(ctx).Delete(&db.BlocklistEntry{}, "ip = ?", ip)
	if result.Error != nil {
		return fmt.Errorf("blocklist: delete by ip: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormBlocklistRepository) List(ctx context.Context, opts ListOptions) ([]db.BlocklistEntry, int64, error) {
	var entries []db.BlocklistEntry
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.BlocklistEntry{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("blocklist: list count: %w", err)
	}

	q := r.db.WithContext(ctx).Order("created_at ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("blocklist: list: %w", err)
	}

	return entries, total, nil
}

func (r *gormBlocklistRepository) AllIPs(ctx context.Context) ([]string, error) {
	var ips []string
	err := r.db.WithContext(ctx).Model(&db.BlocklistEntry{}).Order("ip ASC").Pluck("ip", &ips).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("blocklist: all ips: %w", err)
	}
	return ips, nil
}

func (r *gormBlocklistRepository) MaxUpdatedAt(ctx context.Context) (time.Time, int64, error) {
	return maxUpdatedAtAndCount(ctx, r.db, &db.BlocklistEntry{})
}
