package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	pkghttp "github.com/BradenHooton/tokenwarden/pkg/http"
)

// HealthCheck reports whether one backend is reachable
type HealthCheck func(ctx context.Context) error

// HealthHandler serves /health
type HealthHandler struct {
	checks map[string]HealthCheck
	logger *slog.Logger
}

// HealthResponse lists the state of every backend
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func NewHealthHandler(checks map[string]HealthCheck, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// Health pings every backend with a short timeout. Failed backends are named
// in a 503 error body; their errors only go to the log.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	var failed []string
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", slog.String("backend", name), slog.Any("error", err))
			failed = append(failed, name)
			continue
		}
		resp.Checks[name] = "ok"
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		pkghttp.WriteServiceUnavailable(w, "Backends unavailable: "+strings.Join(failed, ", "))
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
