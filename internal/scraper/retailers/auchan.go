package retailers

import "time"

// NewAuchan creates the auchan.fr strategy
func NewAuchan() Strategy {
	r := newRetailer("auchan", "https://www.auchan.fr")
	r.searchPath = "/recherche?text="
	r.plan.SkipHomepage = true
	r.patterns = patterns(`/api/v\d+/search`, `/api/products`, `search.*products`, `graphql`, `/search\?`, `algolia`)
	r.waitSelectors = []string{`[data-test-id="product-card"]`, ".product-item", "article[data-product-id]"}
	r.waitTimeout = 15 * time.Second
	r.cards = []CardSchema{{
		Cards: []string{
			`[data-test-id="product-card"]`,
			".product-item",
			".productListItem",
			`[class*="ProductCard"]`,
			"article[data-product-id]",
			".product-card",
		},
		Name:          []string{"h2", "h3", `[data-test-id="product-name"]`, ".product-name", ".product-title"},
		Price:         []string{`[data-test-id="product-price"]`, ".product-price", `[class*="price"]`, ".price"},
		Link:          []string{"a"},
		Image:         []string{"img"},
		PriceFromText: true,
	}}
	r.schema.Price = Keys(AsPrice, "price", "prix", "unitPrice")
	r.schema.Available = Keys(AsBool, "availability", "disponibilite", "available", "inStock", "disponible")
	return &r
}
