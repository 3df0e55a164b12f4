// Package wire defines the JSON payloads exchanged between the Controller
// and the Agent fleet. Both sides import this package so the wire shape
// never drifts between the two binaries.
package wire

// AgentConfig is the coherent configuration view delivered to one Agent.
// It is computed fresh on every request — the Controller never persists it.
type AgentConfig struct {
	AgentID           uint64         `json:"agent_id"`
	ConfigVersion     int64          `json:"config_version"`
	Services          []Service      `json:"services"`
	Blocklist         []string       `json:"blocklist"`
	FirewallRules     []FirewallRule `json:"firewall_rules"`
	HeartbeatInterval int            `json:"heartbeat_interval"`
}

// Service is the forwarding definition an Agent needs to open a listener.
type Service struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	ListenPort  int    `json:"listen_port"`
	BackendHost string `json:"backend_host"`
	BackendPort int    `json:"backend_port"`
	Protocol    string `json:"protocol"`
}

// FirewallRule is one host packet-filter rule an Agent must reconcile.
type FirewallRule struct {
	ID        uint64  `json:"id"`
	Port      int     `json:"port"`
	Protocol  string  `json:"protocol"`
	Interface string  `json:"interface"`
	Action    string  `json:"action"`
	Enabled   bool    `json:"enabled"`
	AgentID   *uint64 `json:"agent_id"`
}

// ConnectionStat is one completed (or terminally-classified) flow, as
// reported by an Agent's TCP or UDP proxy.
type ConnectionStat struct {
	ServiceID     uint64   `json:"service_id"`
	ClientIP      string   `json:"client_ip"`
	Status        string   `json:"status"`
	Duration      *float64 `json:"duration"`
	BytesSent     int64    `json:"bytes_sent"`
	BytesReceived int64    `json:"bytes_received"`
	Timestamp     string   `json:"timestamp"`
}

// RegisterRequest is the body of POST /api/v1/agents/register.
type RegisterRequest struct {
	Hostname    string `json:"hostname"`
	WireguardIP string `json:"wireguard_ip"`
	PublicIP    string `json:"public_ip,omitempty"`
	Version     string `json:"version"`
}

// AgentStatus is returned by registration and by the agent listing endpoint.
type AgentStatus struct {
	ID                uint64  `json:"id"`
	Hostname          string  `json:"hostname"`
	WireguardIP       string  `json:"wireguard_ip"`
	PublicIP          string  `json:"public_ip,omitempty"`
	Version           string  `json:"version"`
	Status            string  `json:"status"`
	LastHeartbeat     *string `json:"last_heartbeat"`
	ActiveConnections int     `json:"active_connections"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryPercent     float64 `json:"memory_percent"`
}

// HeartbeatRequest is the body of POST /api/v1/agents/{id}/heartbeat.
type HeartbeatRequest struct {
	ActiveConnections int     `json:"active_connections"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryPercent     float64 `json:"memory_percent"`
}

// StatsIntakeRequest is the body of POST /api/v1/stats/connections.
type StatsIntakeRequest struct {
	AgentID     uint64           `json:"agent_id"`
	Connections []ConnectionStat `json:"connections"`
}

// CreateAlertRequest is the body of POST /api/v1/alerts.
type CreateAlertRequest struct {
	Kind    string  `json:"kind"`
	Message string  `json:"message"`
	AgentID *uint64 `json:"agent_id"`
}

// StatsSummary is returned by GET /api/v1/stats/summary.
type StatsSummary struct {
	TotalConnections   int64 `json:"total_connections"`
	BlockedConnections int64 `json:"blocked_connections"`
	TotalBytesSent     int64 `json:"total_bytes_sent"`
	TotalBytesReceived int64 `json:"total_bytes_received"`
}

// Connection status values used on ConnectionStat.Status.
const (
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusRefused   = "refused"
	StatusError     = "error"
	StatusBlocked   = "blocked"
	StatusClosed    = "closed"
	StatusDeferred  = "deferred"
	StatusBounced   = "bounced"
)

// Protocols.
const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
)

// Firewall rule actions.
const (
	ActionAllow = "allow"
	ActionBlock = "block"
)

// Agent health states.
const (
	AgentHealthy   = "healthy"
	AgentUnhealthy = "unhealthy"
	AgentUnknown   = "unknown"
)
