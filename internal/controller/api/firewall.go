package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/pushsync"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
)

// FirewallHandler groups FirewallRule CRUD HTTP handlers.
type FirewallHandler struct {
	repo   repositories.FirewallRepository
	notify *pushsync.Notifier
	logger *zap.Logger
}

// NewFirewallHandler creates a new FirewallHandler. notify may be nil; when
// set, every successful mutation nudges the agent fleet to re-sync.
func NewFirewallHandler(repo repositories.FirewallRepository, notify *pushsync.Notifier, logger *zap.Logger) *FirewallHandler {
	return &FirewallHandler{repo: repo, notify: notify, logger: logger.Named("firewall_handler")}
}

func (h *FirewallHandler) pushSync(r *http.Request) {
	if h.notify != nil {
		h.notify.NotifyAll(r.Context())
	}
}

type firewallRequest struct {
	Port        int     `json:"port"`
	Protocol    string  `json:"protocol"`
	Interface   string  `json:"interface"`
	Action      string  `json:"action"`
	Description string  `json:"description"`
	Enabled     *bool   `json:"enabled"`
	AgentID     *uint64 `json:"agent_id"`
}

type listFirewallResponse struct {
	Items []db.FirewallRule `json:"items"`
	Total int64             `json:"total"`
}

// List handles GET /api/v1/firewall.
func (h *FirewallHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, total, err := h.repo.List(r.Context(), paginationOpts(r).toRepo())
	if err != nil {
		h.logger.Error("failed to list firewall rules", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, listFirewallResponse{Items: rules, Total: total})
}

// Create handles POST /api/v1/firewall.
func (h *FirewallHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req firewallRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Protocol == "" || req.Interface == "" || req.Action == "" {
		ErrBadRequest(w, "protocol, interface, and action are required")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule := &db.FirewallRule{
		Port:        req.Port,
		Protocol:    req.Protocol,
		Interface:   req.Interface,
		Action:      req.Action,
		Description: req.Description,
		Enabled:     enabled,
		AgentID:     req.AgentID,
	}
	if err := h.repo.Create(r.Context(), rule); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			ErrConflict(w, "a rule for this (port, protocol, interface) already exists")
			return
		}
		h.logger.Error("failed to create firewall rule", zap.Error(err))
		ErrInternal(w)
		return
	}
	h.pushSync(r)
	Created(w, rule)
}

// GetByID handles GET /api/v1/firewall/{id}.
func (h *FirewallHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	rule, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get firewall rule", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, rule)
}

// Update handles PUT /api/v1/firewall/{id}.
func (h *FirewallHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req firewallRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get firewall rule for update", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}

	rule.Port = req.Port
	rule.Protocol = req.Protocol
	rule.Interface = req.Interface
	rule.Action = req.Action
	rule.Description = req.Description
	rule.AgentID = req.AgentID
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := h.repo.Update(r.Context(), rule); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			ErrConflict(w, "a rule for this (port, protocol, interface) already exists")
			return
		}
		h.logger.Error("failed to update firewall rule", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	h.pushSync(r)
	Ok(w, rule)
}

// Delete handles DELETE /api/v1/firewall/{id}.
func (h *FirewallHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete firewall rule", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	h.pushSync(r)
	NoContent(w)
}
