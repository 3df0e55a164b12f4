package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/stats"
	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// StatsHandler groups connection-stats intake and summary HTTP handlers.
type StatsHandler struct {
	svc    *stats.Service
	logger *zap.Logger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(svc *stats.Service, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{svc: svc, logger: logger.Named("stats_handler")}
}

// Intake handles POST /api/v1/stats/connections.
func (h *StatsHandler) Intake(w http.ResponseWriter, r *http.Request) {
	var req wire.StatsIntakeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AgentID == 0 {
		ErrBadRequest(w, "agent_id is required")
		return
	}

	count, err := h.svc.Intake(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to intake connection stats", zap.Uint64("agent_id", req.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, map[string]any{"status": "accepted", "count": count})
}

// Summary handles GET /api/v1/stats/summary?hours=….
func (h *StatsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = n
		}
	}

	summary, err := h.svc.Summary(r.Context(), hours)
	if err != nil {
		h.logger.Error("failed to compute stats summary", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, summary)
}
