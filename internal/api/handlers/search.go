package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"panierfacile-pricing/internal/api/middleware"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/scraper"
	"panierfacile-pricing/pkg/models"
	"panierfacile-pricing/pkg/utils"
)

// SearchHandler runs one retailer search synchronously and returns the
// products found
func SearchHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		requestID := middleware.RequestID(c)
		logger := logging.LogWithRequestID(requestID)

		var req models.SearchRequest
		if verr := bindAndValidate(c, &req); verr != nil {
			logger.Warn("Search request rejected", map[string]interface{}{"error": verr.Error()})
			return fail(c, requestID, verr)
		}
		retailer := normalizeRetailers([]string{req.Retailer})[0]

		logger.Info("Processing search request", map[string]interface{}{
			"retailer": retailer,
			"query":    req.Query,
		})

		result, err := d.Scrapers.Search(c.Request().Context(), retailer, req.Query)
		if err != nil {
			logger.Error("Search failed", map[string]interface{}{
				"retailer": retailer,
				"error":    err.Error(),
			})
			switch {
			case scraper.IsUnknownRetailer(err):
				return fail(c, requestID, utils.NewUnknownRetailerError(retailer))
			case errors.Is(err, scraper.ErrRetailerDisabled):
				return fail(c, requestID, utils.NewBadRequestError(err.Error()))
			default:
				return fail(c, requestID, utils.NewScrapingError(err.Error()))
			}
		}

		products := result.Products
		if products == nil {
			products = []models.ProductRecord{}
		}

		logger.Info("Search request completed", map[string]interface{}{
			"retailer":        retailer,
			"outcome":         string(result.Outcome),
			"products":        len(products),
			"processing_time": time.Since(start).String(),
		})

		return c.JSON(http.StatusOK, models.SearchResponse{
			Success:        result.Outcome == scraper.OutcomeSuccess,
			Retailer:       retailer,
			Query:          req.Query,
			Outcome:        string(result.Outcome),
			Reason:         result.Reason,
			Products:       products,
			ProcessingTime: time.Since(start),
			RequestID:      requestID,
		})
	}
}
