package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"panierfacile-pricing/internal/api/middleware"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/pkg/utils"
)

// ResetCacheHandler drops every cached match pointer. Stored matches are
// kept and refill the cache on their next lookup.
func ResetCacheHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := middleware.RequestID(c)
		logger := logging.LogWithRequestID(requestID)

		if err := d.Matcher.ResetCache(c.Request().Context()); err != nil {
			logger.Error("Cache reset failed", map[string]interface{}{"error": err.Error()})
			return fail(c, requestID, utils.NewInternalServerError("Cache reset failed: "+err.Error()))
		}

		logger.Info("Match cache reset")
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "reset",
			"timestamp": time.Now(),
		})
	}
}
