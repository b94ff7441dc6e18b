// Package refresh keeps the match store warm by scraping ingredients
// ahead of comparisons.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
	"panierfacile-pricing/internal/matcher"
	"panierfacile-pricing/internal/scraper"
	"panierfacile-pricing/internal/store"
	"panierfacile-pricing/pkg/models"
)

// ScrapedMatchScore is stored for matches written by a proactive scrape
const ScrapedMatchScore = matcher.ScrapedMatchScore

// PopularWindow is how far back ingredient usage counts toward
// popularity
const PopularWindow = 30 * 24 * time.Hour

// Store is the persistence a refresh needs. *store.Store implements it.
type Store interface {
	FreshMatches(ctx context.Context, ingredientIDs []int64, retailer, storeID string, since time.Time) (map[int64]*models.ProductMatch, error)
	UpsertMatch(ctx context.Context, m *models.ProductMatch) (*models.ProductMatch, error)
	PopularIngredients(ctx context.Context, since time.Time, limit int) ([]models.Ingredient, error)
}

// Searcher opens retailer scraper sessions. *scraper.Factory implements it.
type Searcher interface {
	matcher.Sessions
	Enabled() []string
}

var (
	_ Store    = (*store.Store)(nil)
	_ Searcher = (*scraper.Factory)(nil)
)

// Refresher scrapes prices for ingredients that are not fresh
type Refresher struct {
	store        Store
	searcher     Searcher
	storeID      string
	freshness    time.Duration
	popularLimit int
	logger       types.Logger
	now          func() time.Time
}

// New creates a refresher using the comparison freshness window, so a
// refreshed ingredient is served from the store by the next comparison
func New(cfg *config.Config, st Store, searcher Searcher) *Refresher {
	r := &Refresher{
		store:        st,
		searcher:     searcher,
		storeID:      cfg.Matcher.StoreID,
		freshness:    cfg.Comparison.Freshness,
		popularLimit: cfg.Scheduler.PopularLimit,
		logger:       logging.GetGlobalLogger().WithField("component", "refresh"),
		now:          time.Now,
	}
	if r.storeID == "" {
		r.storeID = config.StoreContextScraping
	}
	if r.popularLimit <= 0 {
		r.popularLimit = 50
	}
	return r
}

// ScrapeIngredientPrices scrapes every ingredient that has no fresh match
// at one of retailers. Ingredients fresh everywhere are skipped. Nil
// retailers means every enabled retailer. Search failures are counted,
// store failures are returned.
func (r *Refresher) ScrapeIngredientPrices(ctx context.Context, ingredients []models.Ingredient, retailers []string) (*models.RefreshResult, error) {
	if len(retailers) == 0 {
		retailers = r.searcher.Enabled()
	}
	result := &models.RefreshResult{
		Total:   len(ingredients),
		Scraped: make(map[string]int, len(retailers)),
	}
	if len(ingredients) == 0 {
		return result, nil
	}

	ids := make([]int64, len(ingredients))
	for i, ing := range ingredients {
		ids[i] = ing.ID
	}

	since := r.now().Add(-r.freshness)
	need := make(map[string][]models.Ingredient, len(retailers))
	staleSomewhere := make(map[int64]bool, len(ingredients))
	for _, retailer := range retailers {
		retailer = strings.ToLower(retailer)
		result.Scraped[retailer] = 0

		fresh, err := r.store.FreshMatches(ctx, ids, retailer, r.storeID, since)
		if err != nil {
			return nil, err
		}
		for _, ing := range ingredients {
			if fresh[ing.ID] == nil {
				need[retailer] = append(need[retailer], ing)
				staleSomewhere[ing.ID] = true
			}
		}
	}
	result.AlreadyCached = len(ingredients) - len(staleSomewhere)

	if len(staleSomewhere) == 0 {
		r.logger.Info(fmt.Sprintf("All %d ingredients already cached", len(ingredients)))
		return result, nil
	}
	r.logger.Info(fmt.Sprintf("Scraping %d ingredients", len(staleSomewhere)), map[string]interface{}{
		"already_cached": result.AlreadyCached,
		"retailers":      retailers,
	})

	for _, retailer := range retailers {
		retailer = strings.ToLower(retailer)
		if err := r.scrapeAt(ctx, retailer, need[retailer], result); err != nil {
			return result, err
		}
	}

	r.logger.Info("Proactive scrape complete", map[string]interface{}{
		"scraped":        result.Scraped,
		"already_cached": result.AlreadyCached,
		"errors":         result.Errors,
	})
	return result, nil
}

// scrapeAt stores a match for every ingredient found at retailer, over
// one scraper session
func (r *Refresher) scrapeAt(ctx context.Context, retailer string, ingredients []models.Ingredient, result *models.RefreshResult) error {
	if len(ingredients) == 0 {
		return nil
	}
	lookup := matcher.NewLookup(r.searcher, r.store, retailer, r.storeID, ScrapedMatchScore)
	defer lookup.Close()

	for i := range ingredients {
		if err := ctx.Err(); err != nil {
			return err
		}
		ing := &ingredients[i]

		match, err := lookup.Find(ctx, ing)
		if err != nil {
			if !errors.Is(err, matcher.ErrSearchFailed) && !scraper.IsUnknownRetailer(err) {
				return err
			}
			r.logger.Error("Proactive search failed", map[string]interface{}{
				"retailer":   retailer,
				"ingredient": ing.Name,
				"error":      err.Error(),
			})
			result.Errors++
			continue
		}
		if match == nil {
			continue
		}

		result.Scraped[retailer]++
		r.logger.Debug("Proactive price stored", map[string]interface{}{
			"retailer":   retailer,
			"ingredient": ing.Name,
			"price":      match.Price,
		})
	}
	return nil
}

// RefreshPopular scrapes the most used recent ingredients at every
// enabled retailer
func (r *Refresher) RefreshPopular(ctx context.Context) (*models.RefreshResult, error) {
	popular, err := r.store.PopularIngredients(ctx, r.now().Add(-PopularWindow), r.popularLimit)
	if err != nil {
		return nil, err
	}
	if len(popular) == 0 {
		r.logger.Info("No popular ingredients to refresh")
		return &models.RefreshResult{Scraped: map[string]int{}}, nil
	}

	r.logger.Info(fmt.Sprintf("Refreshing %d popular ingredients", len(popular)))
	return r.ScrapeIngredientPrices(ctx, popular, nil)
}
