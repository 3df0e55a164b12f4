// Package repositories is the Record Store Gateway: the only code in the
// Controller allowed to issue GORM queries. Everything above this layer
// (agentmanager, health, stats, api) talks to these interfaces so the
// backing store can be swapped or mocked without touching business logic.
package repositories

import (
	"context"
	"time"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
)

// ListOptions contains common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// AgentRepository persists Agent identity and liveness state.
type AgentRepository interface {
	Create(ctx context.Context, agent *db.Agent) error
	GetByID(ctx context.Context, id uint64) (*db.Agent, error)
	GetByWireguardIP(ctx context.Context, ip string) (*db.Agent, error)
	Update(ctx context.Context, agent *db.Agent) error
	Delete(ctx context.Context, id uint64) error
	List(ctx context.Context, opts ListOptions) ([]db.Agent, int64, error)
	// ListHealthy returns every agent currently marked healthy — used by the
	// Health Monitor to scan for silent agents without loading the full table.
	ListHealthy(ctx context.Context) ([]db.Agent, error)
	// MaxUpdatedAt returns the newest UpdatedAt among all rows and the total
	// row count. The agents table is not an input to
	// agentmanager.ComputeVersion.
	MaxUpdatedAt(ctx context.Context) (time.Time, int64, error)
}

// ServiceRepository persists forwarding definitions.
type ServiceRepository interface {
	Create(ctx context.Context, svc *db.Service) error
	GetByID(ctx context.Context, id uint64) (*db.Service, error)
	Update(ctx context.Context, svc *db.Service) error
	Delete(ctx context.Context, id uint64) error
	List(ctx context.Context, opts ListOptions) ([]db.Service, int64, error)
	GetByIDs(ctx context.Context, ids []uint64) ([]db.Service, error)
	MaxUpdatedAt(ctx context.Context) (time.Time, int64, error)
}

// AssignmentRepository persists (agent, service) bindings.
type AssignmentRepository interface {
	Create(ctx context.Context, a *db.ServiceAssignment) error
	GetByID(ctx context.Context, id uint64) (*db.ServiceAssignment, error)
	Update(ctx context.Context, a *db.ServiceAssignment) error
	Delete(ctx context.Context, id uint64) error
	List(ctx context.Context, opts ListOptions) ([]db.ServiceAssignment, int64, error)
	// ListVisibleTo returns every enabled assignment whose AgentID is nil or
	// equal to agentID — the set that feeds get_agent_config's service list.
	ListVisibleTo(ctx context.Context, agentID uint64) ([]db.ServiceAssignment, error)
	MaxUpdatedAt(ctx context.Context) (time.Time, int64, error)
}

// BlocklistRepository persists blocked source IPs.
type BlocklistRepository interface {
	Create(ctx context.Context, e *db.BlocklistEntry) error
	Delete(ctx context.Context, id uint64) error
	DeleteByIP(ctx context.Context, ip string) error
	List(ctx context.Context, opts ListOptions) ([]db.BlocklistEntry, int64, error)
	// AllIPs returns every blocked IP — the full set sent to every Agent.
	AllIPs(ctx context.Context) ([]string, error)
	MaxUpdatedAt(ctx context.Context) (time.Time, int64, error)
}

// FirewallRepository persists host packet-filter rules.
type FirewallRepository interface {
	Create(ctx context.Context, r *db.FirewallRule) error
	GetByID(ctx context.Context, id uint64) (*db.FirewallRule, error)
	Update(ctx context.Context, r *db.FirewallRule) error
	Delete(ctx context.Context, id uint64) error
	List(ctx context.Context, opts ListOptions) ([]db.FirewallRule, int64, error)
	// ListVisibleTo returns every enabled rule whose AgentID is nil or equal
	// to agentID.
	ListVisibleTo(ctx context.Context, agentID uint64) ([]db.FirewallRule, error)
	MaxUpdatedAt(ctx context.Context) (time.Time, int64, error)
}

// StatsRepository persists and aggregates ConnectionStat records.
type StatsRepository interface {
	BulkCreate(ctx context.Context, stats []db.ConnectionStat) error
	Summary(ctx context.Context, since time.Time) (StatsSummary, error)
	// DeleteOlderThan bulk-prunes records past the retention window. Returns
	// the number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// StatsSummary is the aggregate result of StatsRepository.Summary.
type StatsSummary struct {
	TotalConnections   int64
	BlockedConnections int64
	TotalBytesSent     int64
	TotalBytesReceived int64
}

// AlertRepository persists operator-facing observability alerts.
type AlertRepository interface {
	Create(ctx context.Context, a *db.Alert) error
	List(ctx context.Context, opts ListOptions) ([]db.Alert, int64, error)
	Acknowledge(ctx context.Context, id uint64) error
	// CountUnacknowledged returns the number of alerts still awaiting
	// operator acknowledgement — the figure exposed on the pending-alerts
	// metrics gauge.
	CountUnacknowledged(ctx context.Context) (int64, error)
}
