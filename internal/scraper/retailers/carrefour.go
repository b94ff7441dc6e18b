package retailers

import (
	"context"
	"time"

	"panierfacile-pricing/internal/scraper/browser"
)

// Carrefour searches by typing into the site's own search box, which
// DataDome scores better than deep links. The homepage visit also
// collects the DataDome cookies.
type Carrefour struct {
	retailer
	inputs []string
}

// NewCarrefour creates the carrefour.fr strategy
func NewCarrefour() *Carrefour {
	r := newRetailer("carrefour", "https://www.carrefour.fr")
	r.searchPath = "/s?q="
	r.plan.ScrollOnLanding = true
	r.patterns = patterns(`/api/v\d+/search`, `/api/products`, `search.*products`, `graphql`)
	r.waitSelectors = []string{"article.product-list-card-plp-grid-new", `[data-testid="product-card"]`}
	r.waitTimeout = 15 * time.Second
	r.cards = []CardSchema{{
		Cards:         []string{"article.product-list-card-plp-grid-new", `[data-testid="product-card"]`},
		Name:          []string{"h3.product-card-title__text", "h3", "h2"},
		Price:         []string{`[data-testid="product-price__amount--main"]`, `[class*="price"]`},
		Link:          []string{"a.product-list-card-plp-grid-new__title-container", "a[href]"},
		Image:         []string{"img.product-card-image-new__content", "img"},
		Brand:         []string{"a.c-link--tone-accent"},
		PriceFromText: true,
	}}

	return &Carrefour{
		retailer: r,
		inputs: []string{
			`input[name="q"]`,
			`input[type="search"]`,
			`input[placeholder*="Rechercher"]`,
			`[data-testid="search-bar"] input`,
		},
	}
}

// PerformSearch types the query when a search box is visible and falls
// back to the direct search URL otherwise.
func (c *Carrefour) PerformSearch(ctx context.Context, page browser.Page, query string) error {
	typed, err := page.TypeInto(ctx, c.inputs, query)
	if err != nil {
		c.logger.Warn("Typed search failed, using search URL", map[string]interface{}{
			"query": query,
			"error": err.Error(),
		})
	}
	if !typed || err != nil {
		return c.retailer.PerformSearch(ctx, page, query)
	}

	c.logger.Info("Searching retailer", map[string]interface{}{
		"query": query,
		"mode":  "typed",
	})
	c.awaitResults(ctx, page, query)
	return nil
}
