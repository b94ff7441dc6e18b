package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"panierfacile-pricing/internal/api/middleware"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/pkg/models"
	"panierfacile-pricing/pkg/utils"
)

// HealthHandler handles health check requests
func HealthHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		logging.GetGlobalLogger().Debug("Health check requested", map[string]interface{}{
			"request_id": middleware.RequestID(c),
		})

		return c.JSON(http.StatusOK, models.HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now(),
			Version:   d.Version,
			Uptime:    time.Since(startTime),
			Checks: map[string]string{
				"api": "ok",
			},
		})
	}
}

// ReadinessHandler reports ready once the store answers and the task
// manager runs. A cache failure degrades but does not fail readiness.
func ReadinessHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{"api": "ok"}
		ready := true

		if err := d.Store.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			ready = false
		} else {
			checks["database"] = "ok"
		}

		if d.Cache != nil {
			if err := d.Cache.Ping(ctx); err != nil {
				checks["cache"] = "degraded: " + err.Error()
			} else {
				checks["cache"] = "ok"
			}
		}

		if d.Tasks != nil && d.Tasks.IsHealthy() {
			checks["tasks"] = "ok"
		} else {
			checks["tasks"] = "not running"
			ready = false
		}

		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		return c.JSON(code, models.HealthResponse{
			Status:    status,
			Timestamp: time.Now(),
			Version:   d.Version,
			Uptime:    time.Since(startTime),
			Checks:    checks,
		})
	}
}

// LivenessHandler handles liveness probe requests
func LivenessHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, models.HealthResponse{
			Status:    "alive",
			Timestamp: time.Now(),
			Version:   d.Version,
			Uptime:    time.Since(startTime),
		})
	}
}

// StatusHandler reports store counts, task queue, blocked retailers,
// circuit breakers and the refresh schedule
func StatusHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		requestID := middleware.RequestID(c)

		status := map[string]interface{}{
			"status":     "operational",
			"timestamp":  time.Now(),
			"version":    d.Version,
			"uptime":     utils.FormatDuration(time.Since(startTime)),
			"request_id": requestID,
			"retailers":  d.Scrapers.Enabled(),
		}

		if stats, err := d.Store.Stats(ctx); err != nil {
			status["status"] = "degraded"
			status["database"] = map[string]interface{}{"error": err.Error()}
		} else {
			status["database"] = stats
		}
		if d.Tasks != nil {
			status["tasks"] = d.Tasks.Stats(ctx)
		}
		if blocked := d.Scrapers.Blocked(); blocked != nil {
			status["blocked_retailers"] = blocked.Snapshot()
		}
		if d.Limiter != nil {
			circuits := make(map[string]interface{})
			for retailer, stats := range d.Limiter.GetAllStats() {
				if state, ok := stats["circuit_state"]; ok {
					circuits[retailer] = state
				}
			}
			status["circuits"] = circuits
		}
		if d.Scheduler != nil {
			status["scheduler"] = d.Scheduler.Status()
		}

		return c.JSON(http.StatusOK, status)
	}
}
