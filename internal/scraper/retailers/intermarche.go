package retailers

// NewIntermarche creates the intermarche.com drive strategy
func NewIntermarche() Strategy {
	r := newRetailer("intermarche", "https://www.intermarche.com")
	r.searchPath = "/drive/recherche?search="
	r.plan.SkipHomepage = true
	r.patterns = patterns(`/api/.*search`, `/api/.*product`)
	r.waitSelectors = []string{".product-item"}
	r.cards = []CardSchema{{
		Cards:         []string{".product-item", ".product-card", ".item-product"},
		Name:          []string{".product-title", ".product-name"},
		Price:         []string{".product-price"},
		Link:          []string{"a"},
		Image:         []string{"img"},
		Unavailable:   []string{".out-of-stock"},
		PriceFromText: true,
	}}
	return &r
}
