// Package comparison prices a shopping list at two retailers and
// records which one is cheaper.
package comparison

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
	"panierfacile-pricing/internal/matcher"
	"panierfacile-pricing/internal/scraper"
	"panierfacile-pricing/internal/scraper/price"
	"panierfacile-pricing/internal/store"
	"panierfacile-pricing/pkg/models"
	"panierfacile-pricing/pkg/utils"
)

// ScrapedMatchScore is stored for matches written by a comparison run
const ScrapedMatchScore = matcher.ScrapedMatchScore

// ErrNoIngredients is returned when a comparison has nothing to price
var ErrNoIngredients = errors.New("comparison needs at least one ingredient")

// Store is the persistence a comparison needs. *store.Store implements it.
type Store interface {
	FreshMatches(ctx context.Context, ingredientIDs []int64, retailer, storeID string, since time.Time) (map[int64]*models.ProductMatch, error)
	UpsertMatch(ctx context.Context, m *models.ProductMatch) (*models.ProductMatch, error)
	SaveComparison(ctx context.Context, c *models.PriceComparison) error
}

var _ Store = (*store.Store)(nil)

// Request describes one comparison run. Zero Retailers and Freshness
// fall back to the comparison config section.
type Request struct {
	Ingredients []models.Ingredient
	Retailers   [2]string
	Latitude    *float64
	Longitude   *float64
	Freshness   time.Duration
}

// ProgressFunc receives progress events while a comparison runs
type ProgressFunc func(models.ComparisonProgress)

// Comparator runs price comparisons
type Comparator struct {
	store     Store
	searcher  matcher.Searcher
	storeID   string
	freshness time.Duration
	retailers [2]string
	logger    types.Logger
	now       func() time.Time
}

// New creates a comparator
func New(cfg *config.Config, st Store, searcher matcher.Searcher) *Comparator {
	c := &Comparator{
		store:     st,
		searcher:  searcher,
		storeID:   cfg.Matcher.StoreID,
		freshness: cfg.Comparison.Freshness,
		logger:    logging.GetGlobalLogger().WithField("component", "comparison"),
		now:       time.Now,
	}
	if c.storeID == "" {
		c.storeID = config.StoreContextScraping
	}
	copy(c.retailers[:], cfg.Comparison.Retailers)
	return c
}

func (c *Comparator) resolve(req Request) (Request, error) {
	if len(req.Ingredients) == 0 {
		return req, ErrNoIngredients
	}
	if req.Freshness <= 0 {
		req.Freshness = c.freshness
	}
	if req.Retailers[0] == "" && req.Retailers[1] == "" {
		req.Retailers = c.retailers
	}

	available := c.searcher.Available()
	for i, r := range req.Retailers {
		name := strings.ToLower(strings.TrimSpace(r))
		if !utils.Contains(available, name) {
			return req, &scraper.UnknownRetailerError{Name: r, Available: available}
		}
		req.Retailers[i] = name
	}
	if req.Retailers[0] == req.Retailers[1] {
		return req, fmt.Errorf("cannot compare %s with itself", req.Retailers[0])
	}
	return req, nil
}

// retailerRun accumulates one retailer's side of a comparison
type retailerRun struct {
	retailer string
	prices   map[int64]*models.ProductMatch
	sum      float64
	found    int
}

func (r *retailerRun) add(ingredientID int64, m *models.ProductMatch) {
	r.prices[ingredientID] = m
	r.sum += *m.Price
	r.found++
}

func (r *retailerRun) total() models.RetailerTotal {
	t := models.RetailerTotal{Retailer: r.retailer, Found: r.found}
	if r.found > 0 {
		t.Total = models.Float64(price.Round2(r.sum))
	}
	return t
}

// Compare prices every ingredient at both retailers, reusing matches
// fresher than the request's window and scraping the rest, then saves
// the resulting snapshot. Search failures leave the ingredient unpriced;
// only invalid input or a store failure is returned as an error.
func (c *Comparator) Compare(ctx context.Context, req Request, progress ProgressFunc) (*models.PriceComparison, error) {
	req, err := c.resolve(req)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(models.ComparisonProgress) {}
	}

	n := len(req.Ingredients)
	total := n * 2
	c.logger.Info(fmt.Sprintf("Comparing %d ingredients", n), map[string]interface{}{
		"retailers": req.Retailers[:],
		"freshness": req.Freshness.String(),
	})
	progress(models.ComparisonProgress{Current: 0, Total: total, Retailer: "initialisation", Message: "Preparing comparison"})

	runs := make([]*retailerRun, 0, len(req.Retailers))
	for i, retailer := range req.Retailers {
		run, err := c.priceAt(ctx, req, retailer, i*n, progress)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	result := &models.PriceComparison{
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		TotalIngredients: n,
	}
	for _, run := range runs {
		result.Retailers = append(result.Retailers, run.total())
	}
	for _, ing := range req.Ingredients {
		line := models.IngredientPrice{
			IngredientID: ing.ID,
			Name:         ing.Name,
			Prices:       make(map[string]*float64, len(runs)),
			Products:     make(map[string]string, len(runs)),
		}
		for _, run := range runs {
			if m := run.prices[ing.ID]; m != nil {
				line.Prices[run.retailer] = m.Price
				line.Products[run.retailer] = m.ProductName
			} else {
				line.Prices[run.retailer] = nil
			}
		}
		line.Cheapest = CheapestRetailer(line.Prices)
		result.Ingredients = append(result.Ingredients, line)
	}

	totals := result.Totals()
	result.Cheapest = CheapestRetailer(totals)
	result.Savings = Savings(totals)

	if err := c.store.SaveComparison(ctx, result); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"comparison_id": result.ID,
		"cheapest":      result.Cheapest,
	}
	for _, t := range result.Retailers {
		fields[t.Retailer+"_found"] = t.Found
		if t.Total != nil {
			fields[t.Retailer+"_total"] = *t.Total
		}
	}
	c.logger.Info("Comparison complete", fields)
	progress(models.ComparisonProgress{Current: total, Total: total, Retailer: result.Cheapest, Message: "Comparison complete"})

	return result, nil
}

// priceAt resolves every ingredient at one retailer. offset is the
// progress position of the retailer's first ingredient.
func (c *Comparator) priceAt(ctx context.Context, req Request, retailer string, offset int, progress ProgressFunc) (*retailerRun, error) {
	n := len(req.Ingredients)
	total := n * 2
	logger := c.logger.WithField("retailer", retailer)

	ids := make([]int64, n)
	for i, ing := range req.Ingredients {
		ids[i] = ing.ID
	}
	fresh, err := c.store.FreshMatches(ctx, ids, retailer, c.storeID, c.now().Add(-req.Freshness))
	if err != nil {
		return nil, err
	}

	run := &retailerRun{retailer: retailer, prices: make(map[int64]*models.ProductMatch, n)}
	var toScrape []models.Ingredient
	for _, ing := range req.Ingredients {
		if m := fresh[ing.ID]; m != nil && m.Usable() {
			run.add(ing.ID, m)
			continue
		}
		toScrape = append(toScrape, ing)
	}

	cached := run.found
	if len(toScrape) == 0 {
		logger.Info("All prices cached", map[string]interface{}{"found": cached})
		progress(models.ComparisonProgress{Current: offset + n, Total: total, Retailer: retailer, Message: fmt.Sprintf("%s: all prices cached", retailer)})
		return run, nil
	}

	logger.Info(fmt.Sprintf("Scraping %d products", len(toScrape)), map[string]interface{}{"cached": cached})
	lookup := matcher.NewLookup(c.searcher, c.store, retailer, c.storeID, ScrapedMatchScore)
	defer lookup.Close()
	progress(models.ComparisonProgress{
		Current:  offset + cached,
		Total:    total,
		Retailer: retailer,
		Message:  fmt.Sprintf("Searching %s (%d products)", retailer, len(toScrape)),
	})

	for idx, ing := range toScrape {
		if ctx.Err() != nil {
			logger.Warn("Comparison cancelled", map[string]interface{}{"remaining": len(toScrape) - idx})
			break
		}

		m, err := c.scrape(ctx, lookup, ing)
		if err != nil {
			return nil, err
		}
		if m != nil && m.Usable() {
			run.add(ing.ID, m)
		}

		progress(models.ComparisonProgress{
			Current:    offset + cached + idx + 1,
			Total:      total,
			Retailer:   retailer,
			Ingredient: ing.Name,
			Message:    fmt.Sprintf("%s: %s", retailer, ing.Name),
		})
	}
	return run, nil
}

// scrape searches one ingredient and stores the product found. Search
// failures are logged and give no match.
func (c *Comparator) scrape(ctx context.Context, lookup *matcher.Lookup, ing models.Ingredient) (*models.ProductMatch, error) {
	m, err := lookup.Find(ctx, &ing)
	if err != nil && (errors.Is(err, matcher.ErrSearchFailed) || scraper.IsUnknownRetailer(err)) {
		c.logger.Error("Search failed during comparison", map[string]interface{}{
			"retailer":   lookup.Retailer(),
			"ingredient": ing.Name,
			"error":      err.Error(),
		})
		return nil, nil
	}
	return m, err
}

// CheapestRetailer returns the retailer with the strictly smallest
// non-nil total. Ties go to the alphabetically first retailer. It
// returns "" when every total is nil.
func CheapestRetailer(totals map[string]*float64) string {
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)

	cheapest := ""
	var best float64
	for _, name := range names {
		t := totals[name]
		if t == nil {
			continue
		}
		if cheapest == "" || *t < best {
			cheapest, best = name, *t
		}
	}
	return cheapest
}

// Savings is the gap between the most and least expensive non-nil
// totals, or nil when fewer than two retailers have a total
func Savings(totals map[string]*float64) *float64 {
	var lo, hi float64
	count := 0
	for _, t := range totals {
		if t == nil {
			continue
		}
		if count == 0 || *t < lo {
			lo = *t
		}
		if count == 0 || *t > hi {
			hi = *t
		}
		count++
	}
	if count < 2 {
		return nil
	}
	return models.Float64(price.Round2(hi - lo))
}
