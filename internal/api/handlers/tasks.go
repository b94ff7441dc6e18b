package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"panierfacile-pricing/internal/api/middleware"
	"panierfacile-pricing/internal/background"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/store"
	"panierfacile-pricing/pkg/utils"
)

// TaskStatusHandler returns the state of a queued task, with its progress
// while it runs and its data once it succeeded
func TaskStatusHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := middleware.RequestID(c)
		processID := c.Param("id")
		if processID == "" {
			return fail(c, requestID, utils.NewBadRequestError("Process id is required"))
		}

		result, err := d.Tasks.GetTaskResult(c.Request().Context(), processID)
		if err != nil {
			if errors.Is(err, background.ErrTaskNotFound) {
				return fail(c, requestID, utils.NewNotFoundError("Task not found: "+processID))
			}
			logging.GetGlobalLogger().Error("Failed to read task", map[string]interface{}{
				"request_id": requestID,
				"process_id": processID,
				"error":      err.Error(),
			})
			return fail(c, requestID, utils.NewInternalServerError("Failed to read task"))
		}

		return c.JSON(http.StatusOK, result.ToResponse())
	}
}

// ListTasksHandler lists known tasks, newest first
func ListTasksHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		results, err := d.Tasks.ListTasks(c.Request().Context())
		if err != nil {
			return fail(c, middleware.RequestID(c), utils.NewInternalServerError("Failed to list tasks"))
		}
		out := make([]interface{}, 0, len(results))
		for _, r := range results {
			out = append(out, r.ToResponse())
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"tasks": out,
			"count": len(out),
		})
	}
}

// ComparisonHandler returns a stored comparison by id
func ComparisonHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := middleware.RequestID(c)
		id := c.Param("id")

		cmp, err := d.Store.GetComparison(c.Request().Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fail(c, requestID, utils.NewNotFoundError("Comparison not found: "+id))
			}
			logging.GetGlobalLogger().Error("Failed to read comparison", map[string]interface{}{
				"request_id":    requestID,
				"comparison_id": id,
				"error":         err.Error(),
			})
			return fail(c, requestID, utils.NewInternalServerError("Failed to read comparison"))
		}
		return c.JSON(http.StatusOK, cmp)
	}
}
