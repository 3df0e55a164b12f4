package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/agentmanager"
	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// AgentHandler groups every agent-lifecycle HTTP handler.
type AgentHandler struct {
	manager *agentmanager.Manager
	logger  *zap.Logger
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(manager *agentmanager.Manager, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{manager: manager, logger: logger.Named("agent_handler")}
}

func agentToStatus(a *db.Agent) wire.AgentStatus {
	status := wire.AgentStatus{
		ID:                a.ID,
		Hostname:          a.Hostname,
		WireguardIP:       a.WireguardIP,
		PublicIP:          a.PublicIP,
		Version:           a.Version,
		Status:            a.Status,
		ActiveConnections: a.ActiveConnections,
		CPUPercent:        a.CPUPercent,
		MemoryPercent:     a.MemoryPercent,
	}
	if a.LastHeartbeat != nil {
		s := a.LastHeartbeat.UTC().Format("2006-01-02T15:04:05Z07:00")
		status.LastHeartbeat = &s
	}
	return status
}

// Register handles POST /api/v1/agents/register.
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req wire.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Hostname == "" || req.WireguardIP == "" {
		ErrBadRequest(w, "hostname and wireguard_ip are required")
		return
	}

	agent, err := h.manager.Register(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to register agent", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, agentToStatus(agent))
}

// Heartbeat handles POST /api/v1/agents/{id}/heartbeat.
func (h *AgentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	var req wire.HeartbeatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	agent, err := h.manager.Heartbeat(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to process heartbeat", zap.Uint64("agent_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, agentToStatus(agent))
}

// GetConfig handles GET /api/v1/agents/{id}/config.
func (h *AgentHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	cfg, err := h.manager.GetAgentConfig(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to assemble agent config", zap.Uint64("agent_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, cfg)
}

type listAgentsResponse struct {
	Items []wire.AgentStatus `json:"items"`
}

// List handles GET /api/v1/agents.
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, _, err := h.manager.ListAll(r.Context(), paginationOpts(r).toRepo())
	if err != nil {
		h.logger.Error("failed to list agents", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]wire.AgentStatus, len(agents))
	for i := range agents {
		items[i] = agentToStatus(&agents[i])
	}
	Ok(w, listAgentsResponse{Items: items})
}

// Delete handles DELETE /api/v1/agents/{id}.
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	if err := h.manager.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete agent", zap.Uint64("agent_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}
