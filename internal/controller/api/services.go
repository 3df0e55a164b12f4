package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/pushsync"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
)

// ServiceHandler groups Service CRUD HTTP handlers.
type ServiceHandler struct {
	repo   repositories.ServiceRepository
	notify *pushsync.Notifier
	logger *zap.Logger
}

// NewServiceHandler creates a new ServiceHandler. notify may be nil; when
// set, every successful mutation nudges the agent fleet to re-sync.
func NewServiceHandler(repo repositories.ServiceRepository, notify *pushsync.Notifier, logger *zap.Logger) *ServiceHandler {
	return &ServiceHandler{repo: repo, notify: notify, logger: logger.Named("service_handler")}
}

func (h *ServiceHandler) pushSync(r *http.Request) {
	if h.notify != nil {
		h.notify.NotifyAll(r.Context())
	}
}

type serviceRequest struct {
	Name        string `json:"name"`
	ListenPort  int    `json:"listen_port"`
	Protocol    string `json:"protocol"`
	BackendHost string `json:"backend_host"`
	BackendPort int    `json:"backend_port"`
	Description string `json:"description"`
}

type listServicesResponse struct {
	Items []db.Service `json:"items"`
	Total int64        `json:"total"`
}

// List handles GET /api/v1/services.
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	services, total, err := h.repo.List(r.Context(), paginationOpts(r).toRepo())
	if err != nil {
		h.logger.Error("failed to list services", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, listServicesResponse{Items: services, Total: total})
}

// Create handles POST /api/v1/services.
func (h *ServiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.Protocol == "" || req.BackendHost == "" {
		ErrBadRequest(w, "name, protocol, and backend_host are required")
		return
	}

	svc := &db.Service{
		Name:        req.Name,
		ListenPort:  req.ListenPort,
		Protocol:    req.Protocol,
		BackendHost: req.BackendHost,
		BackendPort: req.BackendPort,
		Description: req.Description,
	}
	if err := h.repo.Create(r.Context(), svc); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			ErrConflict(w, "a service with this name or (listen_port, protocol) already exists")
			return
		}
		h.logger.Error("failed to create service", zap.Error(err))
		ErrInternal(w)
		return
	}
	h.pushSync(r)
	Created(w, svc)
}

// GetByID handles GET /api/v1/services/{id}.
func (h *ServiceHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	svc, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get service", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, svc)
}

// Update handles PUT /api/v1/services/{id}.
func (h *ServiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req serviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	svc, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get service for update", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}

	svc.Name = req.Name
	svc.ListenPort = req.ListenPort
	svc.Protocol = req.Protocol
	svc.BackendHost = req.BackendHost
	svc.BackendPort = req.BackendPort
	svc.Description = req.Description

	if err := h.repo.Update(r.Context(), svc); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			ErrConflict(w, "a service with this name or (listen_port, protocol) already exists")
			return
		}
		h.logger.Error("failed to update service", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	h.pushSync(r)
	Ok(w, svc)
}

// Delete handles DELETE /api/v1/services/{id}. Cascades to assignments and
// stats referencing this service.
func (h *ServiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete service", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	h.pushSync(r)
	NoContent(w)
}
