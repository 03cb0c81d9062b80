package handlers_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/bantay/internal/handlers"
	"github.com/stretchr/testify/assert"
)

func TestHealth(t *testing.T) {
	up := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("dial tcp: connection refused") }

	tests := []struct {
		name         string
		database     handlers.HealthCheckFunc
		redis        handlers.HealthCheckFunc
		expectStatus int
		expect       handlers.HealthResponse
	}{
		{"all up", up, up, http.StatusOK, handlers.HealthResponse{Status: "healthy", Database: "up", Redis: "up"}},
		{"database down", down, up, http.StatusServiceUnavailable, handlers.HealthResponse{Status: "unhealthy", Database: "down", Redis: "up"}},
		{"redis down", up, down, http.StatusServiceUnavailable, handlers.HealthResponse{Status: "unhealthy", Database: "up", Redis: "down"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := handlers.NewHealthHandler(tt.database, tt.redis, slog.Default())

			w := httptest.NewRecorder()
			handler.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			var resp handlers.HealthResponse
			handlers.AssertJSONResponse(t, w, tt.expectStatus, &resp)
			assert.Equal(t, tt.expect, resp)
		})
	}
}
