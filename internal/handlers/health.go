package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/bantay/pkg/http"
)

// HealthCheckFunc pings one backing store
type HealthCheckFunc func(ctx context.Context) error

type HealthHandler struct {
	database HealthCheckFunc
	redis    HealthCheckFunc
	logger   *slog.Logger
}

func NewHealthHandler(database, redis HealthCheckFunc, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{database: database, redis: redis, logger: logger}
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// Health
// @Router /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Database: "up", Redis: "up"}
	status := http.StatusOK

	if err := h.database(ctx); err != nil {
		h.logger.Error("database health check failed", slog.Any("error", err))
		resp.Database = "down"
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	if err := h.redis(ctx); err != nil {
		h.logger.Error("redis health check failed", slog.Any("error", err))
		resp.Redis = "down"
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	pkghttp.WriteJSON(w, status, resp)
}
