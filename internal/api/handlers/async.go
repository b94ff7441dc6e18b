package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"panierfacile-pricing/internal/api/middleware"
	"panierfacile-pricing/internal/background"
	"panierfacile-pricing/internal/comparison"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/matcher"
	"panierfacile-pricing/pkg/models"
	"panierfacile-pricing/pkg/utils"
)

// MatchHandler queues the matching of a shopping list at one retailer
// and answers 202 with the process id to poll
func MatchHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := middleware.RequestID(c)
		logger := logging.LogWithRequestID(requestID)

		var req models.MatchRequest
		if verr := bindAndValidate(c, &req); verr != nil {
			logger.Warn("Match request rejected", map[string]interface{}{"error": verr.Error()})
			return fail(c, requestID, verr)
		}
		retailer := normalizeRetailers([]string{req.Retailer})[0]
		if !utils.Contains(d.Scrapers.Enabled(), retailer) {
			return fail(c, requestID, utils.NewBadRequestError("Retailer is disabled: "+retailer))
		}

		ctx := c.Request().Context()
		ingredients, err := d.ingredients(ctx, req.Ingredients)
		if err != nil {
			logger.Error("Failed to store ingredients", map[string]interface{}{"error": err.Error()})
			return fail(c, requestID, utils.NewInternalServerError("Failed to store ingredients"))
		}

		opts := matcher.DefaultOptions()
		if req.UseCache != nil {
			opts.UseCache = *req.UseCache
		}
		opts.StoreID = req.StoreID

		processID := utils.GenerateProcessID("match")
		task := background.MatchTask{Retailer: retailer, Ingredients: ingredients, Options: opts}
		if err := d.Tasks.SubmitMatchTask(ctx, processID, task); err != nil {
			logger.Error("Failed to submit match task", map[string]interface{}{"error": err.Error()})
			return fail(c, requestID, submitError(err))
		}

		logger.Info("Match task accepted", map[string]interface{}{
			"process_id":  processID,
			"retailer":    retailer,
			"ingredients": len(ingredients),
		})
		return c.JSON(http.StatusAccepted, models.NewAsyncAcceptedResponse(processID,
			"Matching queued. Poll /api/v1/tasks/"+processID+" for the result."))
	}
}

// CompareHandler queues a two-retailer price comparison
func CompareHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := middleware.RequestID(c)
		logger := logging.LogWithRequestID(requestID)

		var req models.CompareRequest
		if verr := bindAndValidate(c, &req); verr != nil {
			logger.Warn("Compare request rejected", map[string]interface{}{"error": verr.Error()})
			return fail(c, requestID, verr)
		}

		var pair [2]string
		if len(req.Retailers) == 2 {
			names := normalizeRetailers(req.Retailers)
			if names[0] == names[1] {
				return fail(c, requestID, utils.NewBadRequestError("Two different retailers are required"))
			}
			copy(pair[:], names)
		}

		ctx := c.Request().Context()
		ingredients, err := d.ingredients(ctx, req.Ingredients)
		if err != nil {
			logger.Error("Failed to store ingredients", map[string]interface{}{"error": err.Error()})
			return fail(c, requestID, utils.NewInternalServerError("Failed to store ingredients"))
		}

		processID := utils.GenerateProcessID("cmp")
		creq := comparison.Request{
			Ingredients: ingredients,
			Retailers:   pair,
			Latitude:    req.Latitude,
			Longitude:   req.Longitude,
		}
		if err := d.Tasks.SubmitComparisonTask(ctx, processID, creq); err != nil {
			logger.Error("Failed to submit comparison task", map[string]interface{}{"error": err.Error()})
			return fail(c, requestID, submitError(err))
		}

		logger.Info("Comparison task accepted", map[string]interface{}{
			"process_id":  processID,
			"retailers":   pair[:],
			"ingredients": len(ingredients),
		})
		return c.JSON(http.StatusAccepted, models.NewAsyncAcceptedResponse(processID,
			"Comparison queued. Poll /api/v1/tasks/"+processID+" for progress."))
	}
}

// RefreshHandler queues a proactive scrape of the given ingredients, or
// of the popular ones when popular is set
func RefreshHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := middleware.RequestID(c)
		logger := logging.LogWithRequestID(requestID)

		var req models.RefreshRequest
		if verr := bindAndValidate(c, &req); verr != nil {
			logger.Warn("Refresh request rejected", map[string]interface{}{"error": verr.Error()})
			return fail(c, requestID, verr)
		}
		if !req.Popular && len(req.Ingredients) == 0 {
			return fail(c, requestID, utils.NewBadRequestError("Ingredients are required unless popular is set"))
		}

		ctx := c.Request().Context()
		task := background.RefreshTask{Popular: req.Popular}
		if len(req.Retailers) > 0 {
			task.Retailers = normalizeRetailers(req.Retailers)
		}
		if !req.Popular {
			ingredients, err := d.ingredients(ctx, req.Ingredients)
			if err != nil {
				logger.Error("Failed to store ingredients", map[string]interface{}{"error": err.Error()})
				return fail(c, requestID, utils.NewInternalServerError("Failed to store ingredients"))
			}
			task.Ingredients = ingredients
		}

		processID := utils.GenerateProcessID("refresh")
		if err := d.Tasks.SubmitRefreshTask(ctx, processID, task); err != nil {
			logger.Error("Failed to submit refresh task", map[string]interface{}{"error": err.Error()})
			return fail(c, requestID, submitError(err))
		}

		logger.Info("Refresh task accepted", map[string]interface{}{
			"process_id":  processID,
			"popular":     req.Popular,
			"ingredients": len(task.Ingredients),
		})
		return c.JSON(http.StatusAccepted, models.NewAsyncAcceptedResponse(processID, "Refresh queued."))
	}
}
