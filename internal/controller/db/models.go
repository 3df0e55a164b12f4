package db

import "time"

// base contains the fields shared by every GORM model. ID is a plain
// auto-incrementing integer: every entity the Controller owns (agents,
// services, assignments, …) is surfaced to operators and Agents as a
// numeric id, not an opaque token.
type base struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Agent is the identity record for one proxy host. Attributes mutated by
// registration and by heartbeat live here; everything else an Agent needs to
// run (services, blocklist, firewall rules) is assembled on demand into an
// AgentConfig by the agentmanager package.
type Agent struct {
	base
	Hostname          string `gorm:"not null"`
	WireguardIP       string `gorm:"uniqueIndex;not null"` // identity key on re-registration
	PublicIP          string `gorm:"default:''"`
	Version           string `gorm:"default:''"`
	LastHeartbeat     *time.Time
	Status            string  `gorm:"not null;default:'unknown'"` // healthy, unhealthy, unknown
	ActiveConnections int     `gorm:"not null;default:0"`
	CPUPercent        float64 `gorm:"not null;default:0"`
	MemoryPercent     float64 `gorm:"not null;default:0"`
}

// Service is a forwarding definition: one externally visible listener
// mapped to one backend. (ListenPort, Protocol) is unique across all
// services — enforced by a DB unique index; the repository turns a
// violation of it into ErrConflict (HTTP 409).
type Service struct {
	base
	Name        string `gorm:"uniqueIndex;not null"`
	ListenPort  int    `gorm:"not null;uniqueIndex:idx_service_listen"`
	Protocol    string `gorm:"not null;uniqueIndex:idx_service_listen"` // tcp, udp
	BackendHost string `gorm:"not null"`
	BackendPort int    `gorm:"not null"`
	Description string `gorm:"default:''"`
}

// ServiceAssignment binds a Service to an Agent (or, with AgentID nil, to
// every Agent). (ServiceID, AgentID) is unique with null treated as its own
// distinct value — a service may have at most one "all agents" assignment
// in addition to any number of single-agent assignments.
type ServiceAssignment struct {
	base
	ServiceID uint64  `gorm:"not null;index"`
	AgentID   *uint64 `gorm:"index"` // nil == all agents
	Enabled   bool    `gorm:"not null;default:true"`
}

// BlocklistEntry is one blocked source IP. Blocklist membership is global —
// it applies to every Agent and every Service.
type BlocklistEntry struct {
	base
	IP          string `gorm:"uniqueIndex;not null"`
	Description string `gorm:"default:''"`
}

// FirewallRule is one host packet-filter rule. (Port, Protocol, Interface)
// is unique — the same (port, protocol) may have independent rules per
// interface (e.g. allow on wireguard, block on public).
type FirewallRule struct {
	base
	Port        int     `gorm:"not null;uniqueIndex:idx_firewall_rule"`
	Protocol    string  `gorm:"not null;uniqueIndex:idx_firewall_rule"` // tcp, udp
	Interface   string  `gorm:"not null;uniqueIndex:idx_firewall_rule"` // symbolic or literal device
	Action      string  `gorm:"not null"`                               // allow, block
	Description string  `gorm:"default:''"`
	Enabled     bool    `gorm:"not null;default:true"`
	AgentID     *uint64 `gorm:"index"` // nil == all agents
}

// ConnectionStat is an append-only record of one completed (or terminally
// classified) flow, reported by an Agent's TCP or UDP proxy.
type ConnectionStat struct {
	base
	AgentID       uint64 `gorm:"not null;index"`
	ServiceID     uint64 `gorm:"not null;index"`
	ClientIP      string `gorm:"not null"`
	Status        string `gorm:"not null;index"` // completed, timeout, refused, error, blocked, ...
	Duration      *float64
	BytesSent     int64     `gorm:"not null;default:0"`
	BytesReceived int64     `gorm:"not null;default:0"`
	Timestamp     time.Time `gorm:"not null;index"`
}

// Alert is a small observability record surfaced to the dashboard for
// conditions that are not data-plane errors but still deserve operator
// attention — an unresolved firewall interface, an agent demoted to
// unhealthy.
type Alert struct {
	base
	Kind         string  `gorm:"not null"` // "firewall_interface_unresolved", "agent_unhealthy", ...
	Message      string  `gorm:"not null"`
	AgentID      *uint64 `gorm:"index"`
	Acknowledged bool    `gorm:"not null;default:false"`
}
