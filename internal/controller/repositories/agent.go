package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
)

type gormAgentRepository struct {
	db *gorm.DB
}

// NewAgentRepository returns an AgentRepository backed by the provided *gorm.DB.
func NewAgentRepository(gdb *gorm.DB) AgentRepository {
	return &gormAgentRepository{db: gdb}
}

func (r *gormAgentRepository) Create(ctx context.Context, agent *db.Agent) error {
	if err := r.db.WithContext(ctx).Create(agent).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("agents: create: %w", ErrConflict)
		}
		return fmt.Errorf("agents: create: %w", err)
	}
	return nil
}

func (r *gormAgentRepository) GetByID(ctx context.Context, id uint64) (*db.Agent, error) {
	var agent db.Agent
	if err := r.db.WithContext(ctx).First(&agent, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("agents: get by id: %w", err)
	}
	return &agent, nil
}

func (r *gormAgentRepository) GetByWireguardIP(ctx context.Context, ip string) (*db.Agent, error) {
	var agent db.Agent
	if err := r.db.WithContext(ctx).First(&agent, "wireguard_ip = ?", ip).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("agents: get by wireguard ip: %w", err)
	}
	return &agent, nil
}

func (r *gormAgentRepository) Update(ctx context.Context, agent *db.Agent) error {
	result := r.db.WithContext(ctx).Save(agent)
	if result.Error != nil {
		return fmt.Errorf("agents: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormAgentRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&db.Agent{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("agents: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		// Cascade: an Agent's assignments and stats are meaningless once the
		// Agent itself is gone.
		if err := tx.Where("agent_id = ?", id).Delete(&db.ServiceAssignment{}).Error; err != nil {
			return fmt.Errorf("agents: cascade delete assignments: %w", err)
		}
		if err := tx.Where("agent_id = ?", id).Delete(&db.ConnectionStat{}).Error; err != nil {
			return fmt.Errorf("agents: cascade delete stats: %w", err)
		}
		return nil
	})
}

func (r *gormAgentRepository) List(ctx context.Context, opts ListOptions) ([]db.Agent, int64, error) {
	var agents []db.Agent
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Agent{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("agents: list count: %w", err)
	}

	q := r.db.WithContext(ctx).Order("created_at ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}
	if err := q.Find(&agents).Error; err != nil {
		return nil, 0, fmt.Errorf("agents: list: %w", err)
	}

	return agents, total, nil
}

func (r *gormAgentRepository) ListHealthy(ctx context.Context) ([]db.Agent, error) {
	var agents []db.Agent
	if err := r.db.WithContext(ctx).Where("status = ?", "healthy").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("agents: list healthy: %w", err)
	}
	return agents, nil
}

func (r *gormAgentRepository) MaxUpdatedAt(ctx context.Context) (time.Time, int64, error) {
	return maxUpdatedAtAndCount(ctx, r.db, &db.Agent{})
}
