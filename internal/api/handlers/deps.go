package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"panierfacile-pricing/internal/api/validation"
	"panierfacile-pricing/internal/background"
	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/scraper"
	"panierfacile-pricing/pkg/models"
	"panierfacile-pricing/pkg/utils"
)

var validate = validation.New()

var startTime = time.Now()

// Searcher is the scraper factory as the API sees it
type Searcher interface {
	Search(ctx context.Context, retailer, query string) (scraper.SearchResult, error)
	Available() []string
	Enabled() []string
	Blocked() *scraper.BlockRegistry
}

// Store is the persistence the API reads and writes
type Store interface {
	GetOrCreateIngredient(ctx context.Context, name string, quantity float64, unit string) (*models.Ingredient, error)
	GetComparison(ctx context.Context, id string) (*models.PriceComparison, error)
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (map[string]int64, error)
}

// CacheResetter drops the match fast cache
type CacheResetter interface {
	ResetCache(ctx context.Context) error
}

// Pinger reports whether a backend answers
type Pinger interface {
	Ping(ctx context.Context) error
}

// LimiterStats exposes per-retailer rate limiter state
type LimiterStats interface {
	GetAllStats() map[string]map[string]interface{}
}

// SchedulerStatus exposes the popular refresh schedule
type SchedulerStatus interface {
	Status() map[string]interface{}
}

// Deps are the services handlers use. Limiter and Scheduler are optional.
type Deps struct {
	Config    *config.Config
	Version   string
	Scrapers  Searcher
	Store     Store
	Matcher   CacheResetter
	Cache     Pinger
	Tasks     background.TaskManager
	Limiter   LimiterStats
	Scheduler SchedulerStatus
}

// fail writes err as an ErrorResponse
func fail(c echo.Context, requestID string, err *utils.CustomError) error {
	return c.JSON(err.Code, models.ErrorResponse{
		Error:     err.Kind,
		Message:   err.Error(),
		RequestID: requestID,
		Timestamp: time.Now(),
	})
}

// bindAndValidate decodes the body into req and runs its validate tags
func bindAndValidate(c echo.Context, req interface{}) *utils.CustomError {
	if err := c.Bind(req); err != nil {
		return utils.NewBadRequestError("Invalid request body: " + err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return utils.NewValidationError(err.Error())
	}
	return nil
}

// ingredients stores the request lines and returns them with their ids.
// A missing quantity counts as one.
func (d *Deps) ingredients(ctx context.Context, inputs []models.IngredientInput) ([]models.Ingredient, error) {
	out := make([]models.Ingredient, 0, len(inputs))
	for _, in := range inputs {
		qty := in.Quantity
		if qty <= 0 {
			qty = 1
		}
		ing, err := d.Store.GetOrCreateIngredient(ctx, in.Name, qty, in.Unit)
		if err != nil {
			return nil, err
		}
		ing.Quantity = qty
		out = append(out, *ing)
	}
	return out, nil
}

func normalizeRetailers(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.ToLower(strings.TrimSpace(n)))
	}
	return out
}

// submitError maps a task submission failure to a response
func submitError(err error) *utils.CustomError {
	if errors.Is(err, background.ErrQueueFull) || errors.Is(err, background.ErrNotRunning) {
		return utils.NewServiceUnavailableError(err.Error())
	}
	return utils.NewInternalServerError("Failed to submit task: " + err.Error())
}
