package matcher

import (
	"context"
	"errors"
	"fmt"

	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
	"panierfacile-pricing/internal/scraper"
	"panierfacile-pricing/pkg/models"
)

// ErrSearchFailed wraps retailer search failures reported by Lookup.Find
var ErrSearchFailed = errors.New("search failed")

// Sessions opens retailer scrapers that stay open across searches.
// *scraper.Factory implements it.
type Sessions interface {
	Session(retailer string) (scraper.Session, error)
}

// MatchWriter persists matches. *store.Store implements it.
type MatchWriter interface {
	UpsertMatch(ctx context.Context, m *models.ProductMatch) (*models.ProductMatch, error)
}

var _ Sessions = (*scraper.Factory)(nil)

// Lookup searches one retailer for ingredients and stores the product
// picked for each. The scraper session is opened by the first Find and
// kept until Close. A Lookup is not safe for concurrent use.
type Lookup struct {
	sessions Sessions
	store    MatchWriter
	retailer string
	storeID  string
	score    float64
	logger   types.Logger

	session scraper.Session
}

// NewLookup creates a lookup storing matches under storeID with score
func NewLookup(sessions Sessions, st MatchWriter, retailer, storeID string, score float64) *Lookup {
	return &Lookup{
		sessions: sessions,
		store:    st,
		retailer: retailer,
		storeID:  storeID,
		score:    score,
		logger: logging.GetGlobalLogger().WithFields(map[string]interface{}{
			"component": "lookup",
			"retailer":  retailer,
		}),
	}
}

// Retailer returns the retailer searched
func (l *Lookup) Retailer() string {
	return l.retailer
}

// SearchKeyword is the query sent to retailers for an ingredient name
func SearchKeyword(name string) string {
	if keyword := NormalizeKeyword(name); keyword != "" {
		return keyword
	}
	return name
}

// Find searches for ing and upserts the picked product. It returns nil
// without error when the search found nothing. Search failures wrap
// ErrSearchFailed, an unknown retailer comes back as
// *scraper.UnknownRetailerError and anything else is a store failure.
func (l *Lookup) Find(ctx context.Context, ing *models.Ingredient) (*models.ProductMatch, error) {
	if l.session == nil {
		session, err := l.sessions.Session(l.retailer)
		if err != nil {
			if scraper.IsUnknownRetailer(err) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
		}
		l.session = session
	}

	keyword := SearchKeyword(ing.Name)
	result, err := l.session.Search(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}
	if len(result.Products) == 0 {
		l.logger.Warn("No products found for ingredient", map[string]interface{}{
			"ingredient": ing.Name,
			"keyword":    keyword,
			"outcome":    string(result.Outcome),
			"reason":     result.Reason,
		})
		return nil, nil
	}

	best := PickProduct(ing.Name, result.Products)
	return l.store.UpsertMatch(ctx, models.MatchFromRecord(ing.ID, l.retailer, l.storeID, best, l.score))
}

// Close releases the scraper session, if one was opened
func (l *Lookup) Close() {
	if l.session == nil {
		return
	}
	if err := l.session.Close(); err != nil {
		l.logger.Debug("Failed to close scraper session", map[string]interface{}{"error": err.Error()})
	}
	l.session = nil
}

// PickProduct takes the retailer's first product, unless it shares no
// word with the ingredient while a later one does: then the best ranked
// candidate wins. products must not be empty.
func PickProduct(ingredient string, products []models.ProductRecord) models.ProductRecord {
	first := products[0]
	if Score(ingredient, first.ProductName) > 0 {
		return first
	}
	if ranked := RankCandidates(ingredient, products); ranked[0].Score > 0 {
		return ranked[0].Product
	}
	return first
}
