package retailers

import "time"

// NewLidl creates the lidl.fr strategy. Results are rendered client-side
// and no JSON API is intercepted.
func NewLidl() Strategy {
	r := newRetailer("lidl", "https://www.lidl.fr")
	r.searchPath = "/q/search?q="
	r.plan.SkipHomepage = true
	r.waitSelectors = []string{
		".product-grid-box",
		".product-item",
		"[data-grid-box]",
		"article",
		`.ods-grid__item a[href*="/p/"]`,
	}
	r.waitTimeout = 25 * time.Second
	r.live = true
	r.cards = []CardSchema{
		{
			Cards: []string{`.product-grid-box, [class*="product"], article, [data-grid-box]`},
			Name: []string{
				"h2", "h3", "h4",
				`[class*="name"]`, `[class*="title"]`, `[class*="Name"]`, `[class*="Title"]`,
				".product-grid-box__title", ".product-title",
			},
			Price: []string{`[class*="price"]`, `[class*="Price"]`, ".m-price", ".tag__label--price", "[data-price]"},
			Link:  []string{"a[href]"},
			Image: []string{"img"},
			Brand: []string{`[class*="brand"]`, `[class*="Brand"]`, ".product-brand"},
		},
		{
			Anchor:    `a[href*="/p/"]`,
			Container: "div, article, section",
			Name:      []string{"h2", "h3", "h4"},
			Price:     []string{`[class*="price"]`},
		},
	}
	return &r
}
