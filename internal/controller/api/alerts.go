package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/alerts"
	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// AlertHandler groups Alert HTTP handlers — a supplemented surface, not
// part of the original endpoint table, exposed for dashboard consumption.
type AlertHandler struct {
	svc    *alerts.Service
	logger *zap.Logger
}

// NewAlertHandler creates a new AlertHandler.
func NewAlertHandler(svc *alerts.Service, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{svc: svc, logger: logger.Named("alert_handler")}
}

type listAlertsResponse struct {
	Items []db.Alert `json:"items"`
	Total int64      `json:"total"`
}

// Create handles POST /api/v1/alerts. Used by Agents to surface conditions
// detected locally — an unresolvable firewall interface, for instance —
// that belong in the operator-visible alert stream.
func (h *AlertHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req wire.CreateAlertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Kind == "" || req.Message == "" {
		ErrBadRequest(w, "kind and message are required")
		return
	}
	if err := h.svc.Raise(r.Context(), req.Kind, req.Message, req.AgentID); err != nil {
		h.logger.Error("failed to raise alert", zap.Error(err))
		ErrInternal(w)
		return
	}
	Created(w, map[string]string{"status": "recorded"})
}

// List handles GET /api/v1/alerts.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	items, total, err := h.svc.List(r.Context(), paginationOpts(r).toRepo())
	if err != nil {
		h.logger.Error("failed to list alerts", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, listAlertsResponse{Items: items, Total: total})
}

// Acknowledge handles POST /api/v1/alerts/{id}/ack.
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Acknowledge(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to acknowledge alert", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}
