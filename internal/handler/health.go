package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	// Checks are probed by Ready; a nil entry is skipped.
	Checks  map[string]Pinger
	Timeout time.Duration
}

type componentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

type readyResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Health always reports healthy while the process serves requests
// (GET /health).
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready pings every dependency and returns 503 if any is down
// (GET /health/ready).
func (h *HealthHandler) Ready(c echo.Context) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	report := readyResponse{
		Status:     "up",
		Components: make(map[string]componentHealth, len(h.Checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for name, p := range h.Checks {
		if p == nil {
			continue
		}
		start := time.Now()
		err := p.Ping(ctx)
		ch := componentHealth{Status: "up", Latency: time.Since(start).String()}
		if err != nil {
			ch.Status = "down"
			ch.Message = err.Error()
			report.Status = "down"
		}
		report.Components[name] = ch
	}

	status := http.StatusOK
	if report.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}
