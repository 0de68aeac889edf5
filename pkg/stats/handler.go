package stats

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/httpx"
)

// Handler serves GET /stats.
type Handler struct {
	engine *Engine
}

// NewHandler creates a stats handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// HandleStats returns the current snapshot. ?recent=N overrides the number of recent events.
// When the engine has a cache the snapshot may be up to one TTL old (1s by
// default), so an event persisted since the last request can be missing.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	limit := config.DefaultRecentLimit
	if raw := r.URL.Query().Get("recent"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.RespondErrorString(w, http.StatusBadRequest, httpx.CodeValidation,
				fmt.Sprintf("recent must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
	defer cancel()

	snap, err := h.engine.Compute(ctx, limit)
	if err != nil {
		h.engine.log.Error("stats request failed", zap.Error(err))
		httpx.RespondErrorString(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to compute stats")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	httpx.RespondJSON(w, http.StatusOK, snap)
}
