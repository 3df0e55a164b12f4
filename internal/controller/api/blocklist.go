package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/pushsync"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
)

// BlocklistHandler groups BlocklistEntry HTTP handlers.
type BlocklistHandler struct {
	repo   repositories.BlocklistRepository
	notify *pushsync.Notifier
	logger *zap.Logger
}

// NewBlocklistHandler creates a new BlocklistHandler. notify may be nil;
// when set, every successful mutation nudges the agent fleet to re-sync —
// a freshly blocked IP takes effect fleet-wide without waiting on a poll.
func NewBlocklistHandler(repo repositories.BlocklistRepository, notify *pushsync.Notifier, logger *zap.Logger) *BlocklistHandler {
	return &BlocklistHandler{repo: repo, notify: notify, logger: logger.Named("blocklist_handler")}
}

func (h *BlocklistHandler) pushSync(r *http.Request) {
	if h.notify != nil {
		h.notify.NotifyAll(r.Context())
	}
}

type blocklistRequest struct {
	IP          string `json:"ip"`
	Description string `json:"description"`
}

type listBlocklistResponse struct {
	Items []db.BlocklistEntry `json:"items"`
	Total int64               `json:"total"`
}

// List handles GET /api/v1/blocklist.
func (h *BlocklistHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, total, err := h.repo.List(r.Context(), paginationOpts(r).toRepo())
	if err != nil {
		h.logger.Error("failed to list blocklist", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, listBlocklistResponse{Items: entries, Total: total})
}

// Create handles POST /api/v1/blocklist.
func (h *BlocklistHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req blocklistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IP == "" {
		ErrBadRequest(w, "ip is required")
		return
	}

	e := &db.BlocklistEntry{IP: req.IP, Description: req.Description}
	if err := h.repo.Create(r.Context(), e); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			ErrConflict(w, "this ip is already blocked")
			return
		}
		h.logger.Error("failed to create blocklist entry", zap.Error(err))
		ErrInternal(w)
		return
	}
	h.pushSync(r)
	Created(w, e)
}

// Delete handles DELETE /api/v1/blocklist/{id}.
func (h *BlocklistHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete blocklist entry", zap.Uint64("id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	h.pushSync(r)
	NoContent(w)
}
