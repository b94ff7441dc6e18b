package retailers

// NewAldi creates the aldi.fr strategy. The homepage tends to serve a
// bot challenge while the search page does not, so the session goes
// straight to search results.
func NewAldi() Strategy {
	r := newRetailer("aldi", "https://www.aldi.fr")
	r.searchPath = "/recherche.html?query="
	r.plan.SkipHomepage = true
	r.waitSelectors = []string{"div.product-tile"}
	r.cards = []CardSchema{{
		Cards: []string{"div.product-tile"},
		Name:  []string{".product-tile__content__upper__product-name"},
		Price: []string{".tag__label--price"},
		Link:  []string{"a.product-tile__action"},
		Image: []string{"img.product-tile__image-section__picture"},
		Brand: []string{".product-tile__content__upper__brand-name"},
	}}
	return &r
}
