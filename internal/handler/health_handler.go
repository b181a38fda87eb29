package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"calculator-api/internal/model"
)

type pinger interface {
	Health(ctx context.Context) error
}

type HealthHandler struct {
	db pinger
}

// NewHealthHandler reports database reachability. db may be nil when the
// service runs without a store.
func NewHealthHandler(db pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeSuccess(w, http.StatusOK, model.HealthResponse{Status: "ok", Database: "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Health(ctx); err != nil {
		slog.Warn("health check failed", "error", err)
		writeSuccess(w, http.StatusServiceUnavailable, model.HealthResponse{Status: "degraded", Database: "unreachable"})
		return
	}

	writeSuccess(w, http.StatusOK, model.HealthResponse{Status: "ok", Database: "ok"})
}
