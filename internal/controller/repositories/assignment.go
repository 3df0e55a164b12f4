package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
)

type gormAssignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository returns an AssignmentRepository backed by the
// provided *gorm.DB.
func NewAssignmentRepository(gdb *gorm.DB) AssignmentRepository {
	return &gormAssignmentRepository{db: gdb}
}

// duplicateAssignment reports whether an assignment (enabled or not) already exists
// for (serviceID, agentID). A database-level unique index cannot express
// this on its own: SQL treats every NULL agent_id as distinct from every
// other NULL, so two "all agents" assignments for the same service would
// both pass a (service_id, agent_id) unique constraint. The check is done
// here instead, inside the same transaction as the insert.
func duplicateAssignment(tx *gorm.DB, serviceID uint64, agentID *uint64, excludeID uint64) (bool, error) {
	q := tx.Model(&db.ServiceAssignment{}).Where("service_id = ?", serviceID)
	if agentID == nil {
		q = q.Where("agent_id IS NULL")
	} else {
		q = q.Where("agent_id = ?", *agentID)
	}
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormAssignmentRepository) Create(ctx context.Context, a *db.ServiceAssignment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dup, err := duplicateAssignment(tx, a.ServiceID, a.AgentID, 0)
		if err != nil {
			return fmt.Errorf("assignments: create: %w", err)
		}
		if dup {
			return fmt.Errorf("assignments: create: %w", ErrConflict)
		}
		if err := tx.Create(a).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("assignments: create: %w", ErrConflict)
			}
			return fmt.Errorf("assignments: create: %w", err)
		}
		return nil
	})
}

func (r *gormAssignmentRepository) GetByID(ctx context.Context, id uint64) (*db.ServiceAssignment, error) {
	var a db.ServiceAssignment
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("assignments: get by id: %w", err)
	}
	return &a, nil
}

func (r *gormAssignmentRepository) Update(ctx context.Context, a *db.ServiceAssignment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dup, err := duplicateAssignment(tx, a.ServiceID, a.AgentID, a.ID)
		if err != nil {
			return fmt.Errorf("assignments: update: %w", err)
		}
		if dup {
			return fmt.Errorf("assignments: update: %w", ErrConflict)
		}
		result := tx.Save(a)
		if result.Error != nil {
			return fmt.Errorf("assignments: update: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *gormAssignmentRepository) Delete(ctx context.Context, id uint64) error {
	result := r.db.WithContext(ctx).Delete(&db.ServiceAssignment{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("assignments: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormAssignmentRepository) List(ctx context.Context, opts ListOptions) ([]db.ServiceAssignment, int64, error) {
	var assignments []db.ServiceAssignment
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.ServiceAssignment{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("assignments: list count: %w", err)
	}

	q := r.db.WithContext(ctx).Order("created_at ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}
	if err := q.Find(&assignments).Error; err != nil {
		return nil, 0, fmt.Errorf("assignments: list: %w", err)
	}

	return assignments, total, nil
}

func (r *gormAssignmentRepository) ListVisibleTo(ctx context.Context, agentID uint64) ([]db.ServiceAssignment, error) {
	var assignments []db.ServiceAssignment
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Where("agent_id IS NULL OR agent_id = ?", agentID).
		Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("assignments: list visible to: %w", err)
	}
	return assignments, nil
}

func (r *gormAssignmentRepository) MaxUpdatedAt(ctx context.Context) (time.Time, int64, error) {
	return maxUpdatedAtAndCount(ctx, r.db, &db.ServiceAssignment{})
}
