// Package agentmanager implements agent registration, heartbeat processing,
// per-agent configuration assembly, and the round-robin selector used by
// load-balancing queries. It sits directly on top of the repositories
// package and holds no state of its own beyond the selector cache.
package agentmanager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// Manager assembles AgentConfig views and owns agent lifecycle transitions.
// The zero value is not usable — construct with New.
type Manager struct {
	agents      repositories.AgentRepository
	services    repositories.ServiceRepository
	assignments repositories.AssignmentRepository
	blocklist   repositories.BlocklistRepository
	firewall    repositories.FirewallRepository

	heartbeatInterval int
	logger            *zap.Logger

	mu           sync.Mutex
	cycle        []db.Agent
	cyclePos     int
	lastHealthyN int
}

// New constructs a Manager. heartbeatInterval is echoed back to Agents in
// every AgentConfig so they know how often to send heartbeats.
func New(
	agents repositories.AgentRepository,
	services repositories.ServiceRepository,
	assignments repositories.AssignmentRepository,
	blocklist repositories.BlocklistRepository,
	firewall repositories.FirewallRepository,
	heartbeatInterval int,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		agents:            agents,
		services:          services,
		assignments:       assignments,
		blocklist:         blocklist,
		firewall:          firewall,
		heartbeatInterval: heartbeatInterval,
		logger:            logger.Named("agentmanager"),
	}
}

// Register creates a new Agent or, if one already exists for this overlay
// IP, updates it in place and returns the existing id. New agents start
// healthy with last_heartbeat set to now.
func (m *Manager) Register(ctx context.Context, req wire.RegisterRequest) (*db.Agent, error) {
	existing, err := m.agents.GetByWireguardIP(ctx, req.WireguardIP)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("agentmanager: register: %w", err)
	}

	if existing != nil {
		existing.Hostname = req.Hostname
		existing.PublicIP = req.PublicIP
		existing.Version = req.Version
		if err := m.agents.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("agentmanager: register: update existing: %w", err)
		}
		m.logger.Info("agent re-registered",
			zap.Uint64("agent_id", existing.ID),
			zap.String("hostname", existing.Hostname),
			zap.String("wireguard_ip", existing.WireguardIP),
		)
		return existing, nil
	}

	now := time.Now().UTC()
	agent := &db.Agent{
		Hostname:      req.Hostname,
		WireguardIP:   req.WireguardIP,
		PublicIP:      req.PublicIP,
		Version:       req.Version,
		Status:        wire.AgentHealthy,
		LastHeartbeat: &now,
	}
	if err := m.agents.Create(ctx, agent); err != nil {
		return nil, fmt.Errorf("agentmanager: register: create: %w", err)
	}
	m.invalidateCycle()

	m.logger.Info("new agent registered",
		zap.Uint64("agent_id", agent.ID),
		zap.String("hostname", agent.Hostname),
		zap.String("wireguard_ip", agent.WireguardIP),
	)
	return agent, nil
}

// Heartbeat updates last_heartbeat, promotes status to healthy, and records
// the reported counters. Returns repositories.ErrNotFound if the agent id is
// unknown — the caller translates that into a 404 so the Agent re-registers.
func (m *Manager) Heartbeat(ctx context.Context, agentID uint64, req wire.HeartbeatRequest) (*db.Agent, error) {
	agent, err := m.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	agent.LastHeartbeat = &now
	agent.Status = wire.AgentHealthy
	agent.ActiveConnections = req.ActiveConnections
	agent.CPUPercent = req.CPUPercent
	agent.MemoryPercent = req.MemoryPercent

	if err := m.agents.Update(ctx, agent); err != nil {
		return nil, fmt.Errorf("agentmanager: heartbeat: %w", err)
	}
	return agent, nil
}

// GetAgentConfig assembles the coherent AgentConfig view for one agent:
// every service reachable via an enabled, visible assignment (deduplicated),
// every enabled visible firewall rule, the full blocklist, and the computed
// config_version.
func (m *Manager) GetAgentConfig(ctx context.Context, agentID uint64) (*wire.AgentConfig, error) {
	if _, err := m.agents.GetByID(ctx, agentID); err != nil {
		return nil, err
	}

	assignments, err := m.assignments.ListVisibleTo(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("agentmanager: get config: assignments: %w", err)
	}

	serviceIDs := make([]uint64, 0, len(assignments))
	seen := make(map[uint64]bool, len(assignments))
	var assignmentMaxUpdated time.Time
	for _, a := range assignments {
		if !seen[a.ServiceID] {
			seen[a.ServiceID] = true
			serviceIDs = append(serviceIDs, a.ServiceID)
		}
		if a.UpdatedAt.After(assignmentMaxUpdated) {
			assignmentMaxUpdated = a.UpdatedAt
		}
	}

	services, err := m.services.GetByIDs(ctx, serviceIDs)
	if err != nil {
		return nil, fmt.Errorf("agentmanager: get config: services: %w", err)
	}
	var serviceMaxUpdated time.Time
	wireServices := make([]wire.Service, 0, len(services))
	for _, s := range services {
		wireServices = append(wireServices, wire.Service{
			ID:          s.ID,
			Name:        s.Name,
			ListenPort:  s.ListenPort,
			BackendHost: s.BackendHost,
			BackendPort: s.BackendPort,
			Protocol:    s.Protocol,
		})
		if s.UpdatedAt.After(serviceMaxUpdated) {
			serviceMaxUpdated = s.UpdatedAt
		}
	}

	rules, err := m.firewall.ListVisibleTo(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("agentmanager: get config: firewall: %w", err)
	}
	var firewallMaxUpdated time.Time
	wireRules := make([]wire.FirewallRule, 0, len(rules))
	for _, r := range rules {
		wireRules = append(wireRules, wire.FirewallRule{
			ID:        r.ID,
			Port:      r.Port,
			Protocol:  r.Protocol,
			Interface: r.Interface,
			Action:    r.Action,
			Enabled:   r.Enabled,
			AgentID:   r.AgentID,
		})
		if r.UpdatedAt.After(firewallMaxUpdated) {
			firewallMaxUpdated = r.UpdatedAt
		}
	}

	blocklistIPs, err := m.blocklist.AllIPs(ctx)
	if err != nil {
		return nil, fmt.Errorf("agentmanager: get config: blocklist: %w", err)
	}
	blocklistMaxUpdated, blocklistCount, err := m.blocklist.MaxUpdatedAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("agentmanager: get config: blocklist version: %w", err)
	}

	version := ComputeVersion(versionInputs{
		maxTimestamps:   []time.Time{assignmentMaxUpdated, serviceMaxUpdated, firewallMaxUpdated, blocklistMaxUpdated},
		firewallCount:   int64(len(rules)),
		assignmentCount: int64(len(assignments)),
		blocklistCount:  blocklistCount,
		totalCount:      int64(len(rules)) + int64(len(assignments)) + int64(len(services)) + blocklistCount,
	})

	return &wire.AgentConfig{
		AgentID:           agentID,
		ConfigVersion:     version,
		Services:          wireServices,
		Blocklist:         blocklistIPs,
		FirewallRules:     wireRules,
		HeartbeatInterval: m.heartbeatInterval,
	}, nil
}

// versionInputs carries the raw ingredients ComputeVersion needs: the
// per-table maximum updated_at values visible to the agent, the three
// counts the formula weighs, and the total record count used by the
// empty-store fallback.
type versionInputs struct {
	maxTimestamps   []time.Time
	firewallCount   int64
	assignmentCount int64
	blocklistCount  int64
	totalCount      int64
}

// ComputeVersion derives config_version from the maximum updated_at across
// the agent-visible FirewallRule, ServiceAssignment, Service, and
// BlocklistEntry records, combined with the FirewallRule, ServiceAssignment
// and BlocklistEntry counts:
//
//	version = floor(max_timestamp_seconds)*10_000 + (firewall*100 + assignment*10 + blocklist) mod 10_000
//
// When no visible records exist at all, it falls back to 1 + totalCount so a
// brand-new agent still observes a version that advances as records appear.
func ComputeVersion(in versionInputs) int64 {
	var maxTS time.Time
	for _, t := range in.maxTimestamps {
		if t.After(maxTS) {
			maxTS = t
		}
	}

	if maxTS.IsZero() {
		return 1 + in.totalCount
	}

	countTerm := (in.firewallCount*100 + in.assignmentCount*10 + in.blocklistCount) % 10_000
	return int64(math.Floor(float64(maxTS.Unix())))*10_000 + countTerm
}

// ListHealthy returns every agent currently marked healthy.
func (m *Manager) ListHealthy(ctx context.Context) ([]db.Agent, error) {
	return m.agents.ListHealthy(ctx)
}

// ListAll returns a paginated view of every agent.
func (m *Manager) ListAll(ctx context.Context, opts repositories.ListOptions) ([]db.Agent, int64, error) {
	return m.agents.List(ctx, opts)
}

// Delete removes an agent, cascading to its assignments and stats.
func (m *Manager) Delete(ctx context.Context, agentID uint64) error {
	if err := m.agents.Delete(ctx, agentID); err != nil {
		return err
	}
	m.invalidateCycle()
	return nil
}

// NextAgent returns the next healthy agent using round-robin selection,
// rebuilding the cycle whenever the healthy-agent count changes. Returns
// nil, nil if there are currently no healthy agents.
func (m *Manager) NextAgent(ctx context.Context) (*db.Agent, error) {
	healthy, err := m.agents.ListHealthy(ctx)
	if err != nil {
		return nil, fmt.Errorf("agentmanager: next agent: %w", err)
	}
	if len(healthy) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(healthy) != m.lastHealthyN {
		m.cycle = healthy
		m.cyclePos = 0
		m.lastHealthyN = len(healthy)
	}

	agent := m.cycle[m.cyclePos%len(m.cycle)]
	m.cyclePos++
	return &agent, nil
}

func (m *Manager) invalidateCycle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycle = nil
	m.cyclePos = 0
	m.lastHealthyN = 0
}
