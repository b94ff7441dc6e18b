// Package matcher resolves shopping-list ingredients to retailer
// products through a fast cache, the persisted match store and, as a
// last resort, a live retailer search.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"panierfacile-pricing/internal/cache"
	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
	"panierfacile-pricing/internal/scraper"
	"panierfacile-pricing/internal/store"
	"panierfacile-pricing/pkg/models"
	"panierfacile-pricing/pkg/utils"
)

// LiveMatchScore is the score stored for a match taken from a live
// search, whose first result is already the retailer's best guess
const LiveMatchScore = 1.0

// ScrapedMatchScore is stored for matches written while pricing or
// refreshing a whole list
const ScrapedMatchScore = 0.8

// CartCatalog tags exported cart lines
const CartCatalog = "PDV"

// Searcher opens retailer scraper sessions. *scraper.Factory implements it.
type Searcher interface {
	Sessions
	Available() []string
}

// Store is the persistence the matcher needs. *store.Store implements it.
type Store interface {
	GetMatch(ctx context.Context, id int64) (*models.ProductMatch, error)
	FindFresh(ctx context.Context, ingredientID int64, retailer, storeID string, since time.Time) (*models.ProductMatch, error)
	UpsertMatch(ctx context.Context, m *models.ProductMatch) (*models.ProductMatch, error)
}

var (
	_ Searcher = (*scraper.Factory)(nil)
	_ Store    = (*store.Store)(nil)
)

// MatchOptions tunes a single Match call. Zero values use the
// configured defaults.
type MatchOptions struct {
	UseCache  bool
	StoreID   string
	Freshness time.Duration
}

// DefaultOptions enables every cache tier
func DefaultOptions() MatchOptions {
	return MatchOptions{UseCache: true}
}

// Matcher resolves ingredients to product matches
type Matcher struct {
	store     Store
	cache     cache.Cache
	searcher  Searcher
	storeID   string
	freshness time.Duration
	cacheTTL  time.Duration
	logger    types.Logger
	now       func() time.Time
	locks     keyLocks
}

// New creates a matcher with the matcher config section's windows
func New(cfg *config.Config, st Store, c cache.Cache, searcher Searcher) *Matcher {
	storeID := cfg.Matcher.StoreID
	if storeID == "" {
		storeID = config.StoreContextScraping
	}
	return &Matcher{
		store:     st,
		cache:     c,
		searcher:  searcher,
		storeID:   storeID,
		freshness: cfg.Matcher.Freshness,
		cacheTTL:  cfg.Matcher.CacheTTL,
		logger:    logging.GetGlobalLogger().WithField("component", "matcher"),
		now:       time.Now,
		locks:     keyLocks{locks: make(map[string]*keyLock)},
	}
}

// CacheKey is the fast-cache key of a match
func CacheKey(retailer, storeID string, ingredientID int64) string {
	return fmt.Sprintf("%s_match_%s_%d", retailer, storeID, ingredientID)
}

func (m *Matcher) resolve(opts MatchOptions) MatchOptions {
	if opts.StoreID == "" {
		opts.StoreID = m.storeID
	}
	if opts.Freshness <= 0 {
		opts.Freshness = m.freshness
	}
	return opts
}

// checkRetailer fails with *scraper.UnknownRetailerError for
// unregistered identifiers
func (m *Matcher) checkRetailer(retailer string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(retailer))
	available := m.searcher.Available()
	if utils.Contains(available, name) {
		return name, nil
	}
	return "", &scraper.UnknownRetailerError{Name: retailer, Available: available}
}

// Match returns the best known product for ing at retailer, or nil when
// no product could be found. Only an unknown retailer or a store
// failure is returned as an error.
func (m *Matcher) Match(ctx context.Context, ing *models.Ingredient, retailer string, opts MatchOptions) (*models.ProductMatch, error) {
	name, err := m.checkRetailer(retailer)
	if err != nil {
		return nil, err
	}
	opts = m.resolve(opts)

	lookup := NewLookup(m.searcher, m.store, name, opts.StoreID, LiveMatchScore)
	defer lookup.Close()
	return m.match(ctx, ing, name, opts, lookup)
}

func (m *Matcher) match(ctx context.Context, ing *models.Ingredient, retailer string, opts MatchOptions, lookup *Lookup) (*models.ProductMatch, error) {
	key := CacheKey(retailer, opts.StoreID, ing.ID)
	unlock := m.locks.lock(key)
	defer unlock()

	logger := m.logger.WithFields(map[string]interface{}{
		"retailer":      retailer,
		"ingredient_id": ing.ID,
		"ingredient":    ing.Name,
	})

	if opts.UseCache {
		if match, err := m.fromCache(ctx, key, logger); err != nil || match != nil {
			return match, err
		}

		match, err := m.store.FindFresh(ctx, ing.ID, retailer, opts.StoreID, m.now().Add(-opts.Freshness))
		switch {
		case err == nil:
			logger.Debug("Store cache hit")
			m.remember(ctx, key, match.ID, logger)
			return match, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	logger.Info("Searching products", map[string]interface{}{"keyword": SearchKeyword(ing.Name)})

	match, err := lookup.Find(ctx, ing)
	if err != nil {
		if errors.Is(err, ErrSearchFailed) {
			logger.Error("Search failed while matching ingredient", map[string]interface{}{"error": err.Error()})
			return nil, nil
		}
		return nil, err
	}
	if match == nil {
		return nil, nil
	}
	m.remember(ctx, key, match.ID, logger)

	logger.Info("Match saved", map[string]interface{}{
		"product": match.ProductName,
		"price":   match.Price,
	})
	return match, nil
}

// fromCache resolves a cached match id. A dangling id is evicted. Cache
// errors are logged and treated as misses.
func (m *Matcher) fromCache(ctx context.Context, key string, logger types.Logger) (*models.ProductMatch, error) {
	if m.cache == nil {
		return nil, nil
	}
	val, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("Cache lookup failed", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err == nil {
		match, getErr := m.store.GetMatch(ctx, id)
		if getErr == nil {
			logger.Debug("Fast cache hit")
			return match, nil
		}
		if !errors.Is(getErr, store.ErrNotFound) {
			return nil, getErr
		}
	}

	if err := m.cache.Delete(ctx, key); err != nil {
		logger.Warn("Failed to evict stale cache entry", map[string]interface{}{"error": err.Error()})
	}
	return nil, nil
}

func (m *Matcher) remember(ctx context.Context, key string, matchID int64, logger types.Logger) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Set(ctx, key, strconv.FormatInt(matchID, 10), m.cacheTTL); err != nil {
		logger.Warn("Failed to populate cache", map[string]interface{}{"error": err.Error()})
	}
}

// BatchResult holds the outcome of matching a shopping list
type BatchResult struct {
	Retailer string                         `json:"retailer"`
	StoreID  string                         `json:"store_id"`
	Matches  map[int64]*models.ProductMatch `json:"matches"`
	Errors   map[int64]string               `json:"errors,omitempty"`
	Matched  int                            `json:"matched"`
	Total    int                            `json:"total"`
}

// HitRate is the share of ingredients that found a match
func (r *BatchResult) HitRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Matched) / float64(r.Total)
}

// ProgressFunc receives the number of ingredients processed so far
type ProgressFunc func(done, total int, ingredient string)

// MatchBatch matches every ingredient in order. An unknown retailer
// fails the batch; per-ingredient store failures are recorded in
// Errors and count as misses.
func (m *Matcher) MatchBatch(ctx context.Context, ingredients []models.Ingredient, retailer string, opts MatchOptions, progress ProgressFunc) (*BatchResult, error) {
	name, err := m.checkRetailer(retailer)
	if err != nil {
		return nil, err
	}
	opts = m.resolve(opts)

	result := &BatchResult{
		Retailer: name,
		StoreID:  opts.StoreID,
		Matches:  make(map[int64]*models.ProductMatch, len(ingredients)),
		Errors:   make(map[int64]string),
		Total:    len(ingredients),
	}

	lookup := NewLookup(m.searcher, m.store, name, opts.StoreID, LiveMatchScore)
	defer lookup.Close()

	for i := range ingredients {
		ing := &ingredients[i]
		if err := ctx.Err(); err != nil {
			result.Errors[ing.ID] = err.Error()
			result.Matches[ing.ID] = nil
			continue
		}

		match, err := m.match(ctx, ing, name, opts, lookup)
		if err != nil {
			m.logger.Error("Failed to match ingredient", map[string]interface{}{
				"retailer":      name,
				"ingredient_id": ing.ID,
				"error":         err.Error(),
			})
			result.Errors[ing.ID] = err.Error()
		}
		result.Matches[ing.ID] = match
		if match != nil {
			result.Matched++
		}
		if progress != nil {
			progress(i+1, len(ingredients), ing.Name)
		}
	}

	m.logger.Info(fmt.Sprintf("Matched %d/%d ingredients", result.Matched, result.Total), map[string]interface{}{
		"retailer": name,
		"store_id": opts.StoreID,
		"hit_rate": result.HitRate(),
	})
	return result, nil
}

// RefreshMatches re-matches every ingredient with a live search
func (m *Matcher) RefreshMatches(ctx context.Context, ingredients []models.Ingredient, retailer string) (*BatchResult, error) {
	m.logger.Info("Refreshing matches", map[string]interface{}{
		"retailer": retailer,
		"count":    len(ingredients),
	})
	return m.MatchBatch(ctx, ingredients, retailer, MatchOptions{UseCache: false}, nil)
}

// ResetCache drops every fast-cache entry
func (m *Matcher) ResetCache(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	return m.cache.Reset(ctx)
}

// ToCartItems turns matched ingredients into cart lines, in ingredient
// order. Unmatched ingredients are skipped and quantities below one
// become one.
func ToCartItems(matches map[int64]*models.ProductMatch, ingredients []models.Ingredient) []models.CartItem {
	items := make([]models.CartItem, 0, len(ingredients))
	for _, ing := range ingredients {
		match := matches[ing.ID]
		if match == nil {
			continue
		}
		quantity := int(ing.Quantity)
		if quantity < 1 {
			quantity = 1
		}
		items = append(items, models.CartItem{
			ItemID:   ExternalID(match),
			Quantity: quantity,
			Catalog:  CartCatalog,
		})
	}
	return items
}

// ExternalID is the retailer-side identifier of a matched product: the
// last segment of its product URL, or the match id when there is none
func ExternalID(m *models.ProductMatch) string {
	if u, err := url.Parse(m.ProductURL); err == nil && u.Path != "" {
		if seg := path.Base(strings.TrimRight(u.Path, "/")); seg != "." && seg != "/" && seg != "" {
			return seg
		}
	}
	return strconv.FormatInt(m.ID, 10)
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyLocks serializes work per key and forgets idle keys
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
