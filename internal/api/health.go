package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 5 * time.Second

type configResponse struct {
	AIEnabled bool   `json:"ai_enabled"`
	Model     string `json:"model"`
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok"}
	status := map[string]interface{}{
		"status":    "healthy",
		"checks":    checks,
		"companies": h.catalog.Len(),
		"sessions":  h.chats.Len(),
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}

	JSON(w, statusCode, status)
}

// GetConfig reports whether the assistant can answer questions.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, configResponse{
		AIEnabled: h.opts.AIEnabled,
		Model:     h.opts.Model,
	})
}
