package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"panierfacile-pricing/internal/api/handlers"
	"panierfacile-pricing/internal/api/middleware"
	"panierfacile-pricing/internal/logging"
)

// SetupRoutes configures all API routes
func SetupRoutes(e *echo.Echo, d *handlers.Deps) {
	// Global middleware
	e.Use(echomiddleware.RequestLoggerWithConfig(requestLoggerConfig()))
	e.Use(echomiddleware.Recover())
	e.Use(middleware.CORSConfig())
	e.Use(middleware.RequestValidation())

	// Health check routes
	health := e.Group("/health")
	{
		health.GET("", handlers.HealthHandler(d))
		health.GET("/ready", handlers.ReadinessHandler(d))
		health.GET("/live", handlers.LivenessHandler(d))
	}

	// Status route
	e.GET("/status", handlers.StatusHandler(d))

	// API v1 routes
	v1 := e.Group("/api/v1")
	{
		v1.GET("/retailers", handlers.ListRetailersHandler(d))
		v1.GET("/retailers/stats", handlers.RetailerStatsHandler(d))

		// Searches drive a browser inline, everything else is queued
		v1.POST("/search", handlers.SearchHandler(d), middleware.TimeoutConfig(d.Config.Server.RequestTimeout))
		v1.POST("/match", handlers.MatchHandler(d))
		v1.POST("/compare", handlers.CompareHandler(d))
		v1.POST("/refresh", handlers.RefreshHandler(d))

		v1.GET("/tasks", handlers.ListTasksHandler(d))
		v1.GET("/tasks/:id", handlers.TaskStatusHandler(d))
		v1.GET("/comparisons/:id", handlers.ComparisonHandler(d))

		admin := v1.Group("/admin")
		{
			admin.POST("/cache/reset", handlers.ResetCacheHandler(d))
		}
	}

	// Root route
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"service": "PanierFacile Pricing",
			"version": d.Version,
			"status":  "running",
		})
	})
}

func requestLoggerConfig() echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := map[string]interface{}{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"request_id": v.RequestID,
			}
			logger := logging.GetGlobalLogger()
			if v.Error != nil {
				fields["error"] = v.Error.Error()
				logger.Error("Request failed", fields)
				return nil
			}
			logger.Info("Request handled", fields)
			return nil
		},
	}
}
