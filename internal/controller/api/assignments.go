package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/pushsync"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
)

// AssignmentHandler groups ServiceAssignment CRUD HTTP handlers.
type AssignmentHandler struct {
	repo   repositories.AssignmentRepository
	notify *pushsync.Notifier
	logger *zap.Logger
}

// NewAssignmentHandler creates a new AssignmentHandler. notify may be nil;
// when set, every successful mutation nudges the agent fleet to re-sync.
func NewAssignmentHandler(repo repositories.AssignmentRepository, notify *pushsync.Notifier, logger *zap.Logger) *AssignmentHandler {
	return &AssignmentHandler{repo: repo, notify: notify, logger: logger.Named("assignment_handler")}
}

func (h *AssignmentHandler) pushSync(r *http.Request) {
	if h.notify != nil {
		h.notify.NotifyAll(r.Context())
	}
}

type assignmentRequest struct {
	ServiceID uint64  `json:"service_id"`
	AgentID   *uint64 `json:"agent_id"`
	Enabled   *bool   `json:"enabled"`
}

type listAssignmentsResponse struct {
	Items []db.ServiceAssignment `json:"items"`
	Total int64                  `json:"total"`
}

// List handles GET /api/v1/assignments.
func (h *AssignmentHandler) List(w http.ResponseWriter, r *http.Request) {
	assignments, total, err := h.repo.List(r.Context(), paginationOpts(r).toRepo())
	if err != nil {
		h.logger.Error("failed to list assignments", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, listAssignmentsResponse{Items: assignments, Total: total})
}

// Create handles POST /api/v1/assignments.
func (h *AssignmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ServiceID == 0 {
		ErrBadRequest(w, "service_id is required")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	a := &db.ServiceAssignment{ServiceID: req.ServiceID, AgentID: req.AgentID, Enabled: enabled}
	if err := h.repo.Create(r.Context(), a); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			ErrConflict(w, "an assignment for this (service_id, agent_id) already exists")
			return
		}
		h.logger.Error("failed to create assignment", zap.Error(err))
		ErrInternal(w)
		return
	}
	h.pushSync(r)
	Created(w, a)
}

// GetByID handles GET /api/v1/assignments/{id}.
func (h *AssignmentHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get assignment", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, a)
}

// Update handles PUT /api/v1/assignments/{id}.
func (h *AssignmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req assignmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get assignment for update", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}

	a.ServiceID = req.ServiceID
	a.AgentID = req.AgentID
	if req.Enabled != nil {
		a.Enabled = *req.Enabled
	}

	if err := h.repo.Update(r.Context(), a); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			ErrConflict(w, "an assignment for this (service_id, agent_id) already exists")
			return
		}
		h.logger.Error("failed to update assignment", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	h.pushSync(r)
	Ok(w, a)
}

// Delete handles DELETE /api/v1/assignments/{id}.
func (h *AssignmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete assignment", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	h.pushSync(r)
	NoContent(w)
}
