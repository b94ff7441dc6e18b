package retailers

import (
	"strings"
	"time"

	"panierfacile-pricing/pkg/models"
)

// Leclerc renders results client-side and serves a product catalogue
// API whose prices, when present, sit inside variants and offers.
type Leclerc struct {
	retailer
}

// NewLeclerc creates the e.leclerc strategy
func NewLeclerc() *Leclerc {
	r := newRetailer("leclerc", "https://www.e.leclerc")
	r.searchPath = "/recherche?q="
	r.plan.SkipHomepage = true
	r.waitSelectors = []string{`a[href*="/fp/"]`}
	r.waitTimeout = 15 * time.Second
	r.patterns = patterns(`/api.*search`, `/api.*product`, `algolia`, `elasticsearch`, `search.*query`)
	r.containers = []string{"products", "results", "hits", "items", "data"}
	r.live = true
	r.cards = []CardSchema{
		{
			Anchor:    `a[href*="/fp/"]`,
			Container: `article, [class*="product"], [class*="Product"], [data-testid*="product"]`,
			Name:      []string{"h2", "h3", "h4", `[class*="name"]`, `[class*="title"]`, `[class*="Name"]`, `[class*="Title"]`},
			Price:     []string{`[class*="price"]`, `[class*="Price"]`, `[data-testid*="price"]`},
			Image:     []string{"img"},
			Brand:     []string{`[class*="brand"]`, `[class*="Brand"]`},
		},
		{
			Cards: []string{`[class*="product"], [class*="Product"], article`},
			Name:  []string{"h2", "h3", "h4", `[class*="name"]`, `[class*="title"]`},
			Price: []string{`[class*="price"]`, `[class*="Price"]`},
			Link:  []string{"a[href]"},
			Image: []string{"img"},
		},
	}

	base := r.baseURL
	r.schema = ProductSchema{
		Name: Keys(AsString, "name", "title", "product_name", "label"),
		Price: Rules{
			Key("price").With(leclercPrice),
			Key("currentPrice").With(leclercPrice),
			Key("unitPrice").With(leclercPrice),
			Key("selling_price").With(leclercPrice),
			Key("salePrice").With(leclercPrice),
			Key("variants").With(deepPrice),
		},
		URL: append(Rules{Key("slug").With(leclercSlug(base))},
			Keys(AsString, "url", "href", "link", "productUrl")...),
		Image: append(Rules{Key("variants").With(deepImage), Key("medias").With(deepImage)},
			Keys(AsString, "image", "imageUrl", "thumbnail", "img")...),
		Brand:      Keys(AsNamed, "brand", "brandName", "manufacturer"),
		ResolveURL: func(raw string) string { return absoluteURL(base, raw) },
	}

	return &Leclerc{retailer: r}
}

// ExtractImmediately is true: the catalogue API carries no store
// prices and the results page is replaced by a bot check a few seconds
// after it renders.
func (l *Leclerc) ExtractImmediately() bool { return true }

// leclercPrice accepts top-level numbers as they are and searches
// nested objects
func leclercPrice(v interface{}) interface{} {
	switch p := v.(type) {
	case float64:
		return p
	case map[string]interface{}:
		return deepPrice(p)
	}
	return nil
}

// leclercSlug maps a product slug to its /fp/ product page
func leclercSlug(baseURL string) Transform {
	return func(v interface{}) interface{} {
		slug, ok := AsString(v).(string)
		if !ok {
			return nil
		}
		if strings.HasPrefix(slug, "http") {
			return slug
		}
		return strings.TrimRight(baseURL, "/") + "/fp/" + strings.TrimLeft(slug, "/")
	}
}

var priceKeys = []string{"price", "currentPrice", "unitPrice", "value", "amount", "sellingPrice", "salePrice"}

func plausiblePrice(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok && f > 0.01 && f < 10000
}

// deepPrice searches a nested structure for the first plausible price,
// at most four levels deep and three elements wide
func deepPrice(v interface{}) interface{} {
	if p, ok := findPrice(v, 0); ok {
		return p
	}
	return nil
}

func findPrice(v interface{}, depth int) (float64, bool) {
	if depth > 4 {
		return 0, false
	}
	switch obj := v.(type) {
	case float64:
		return plausiblePrice(obj)
	case map[string]interface{}:
		for _, key := range priceKeys {
			val, ok := obj[key]
			if !ok {
				continue
			}
			if p, ok := plausiblePrice(val); ok {
				return p, true
			}
			if nested, ok := val.(map[string]interface{}); ok {
				if p, ok := findPrice(nested, depth+1); ok {
					return p, true
				}
			}
		}
		if offers, ok := obj["offers"].([]interface{}); ok {
			return findPrice(offers, depth+1)
		}
	case []interface{}:
		for i, item := range obj {
			if i == 3 {
				break
			}
			if p, ok := findPrice(item, depth+1); ok {
				return p, true
			}
		}
	}
	return 0, false
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// deepImage searches a nested structure for an absolute image URL
func deepImage(v interface{}) interface{} {
	if img := findImage(v, 0); img != "" {
		return img
	}
	return nil
}

func findImage(v interface{}, depth int) string {
	if depth > 3 {
		return ""
	}
	switch obj := v.(type) {
	case string:
		lower := strings.ToLower(obj)
		if !strings.Contains(lower, "http") {
			return ""
		}
		for _, ext := range imageExtensions {
			if strings.Contains(lower, ext) {
				return obj
			}
		}
	case map[string]interface{}:
		for _, key := range []string{"image", "url", "src", "href", "thumbnail", "media", "medias"} {
			if val, ok := obj[key]; ok {
				if img := findImage(val, depth+1); img != "" {
					return img
				}
			}
		}
	case []interface{}:
		for i, item := range obj {
			if i == 3 {
				break
			}
			if img := findImage(item, depth+1); img != "" {
				return img
			}
		}
	}
	return ""
}

// ExtractFromAPIPayload additionally probes result groups such as
// {"results": [{"hits": [...]}]} when no flat list is present.
func (l *Leclerc) ExtractFromAPIPayload(body interface{}) []models.ProductRecord {
	products := extractPayload(body, l.containers, l.schema)
	if len(products) > 0 {
		return products
	}
	m, ok := body.(map[string]interface{})
	if !ok {
		return nil
	}
	groups, ok := m["results"].([]interface{})
	if !ok {
		return nil
	}
	for _, g := range groups {
		group, ok := g.(map[string]interface{})
		if !ok {
			continue
		}
		if _, ok := group["hits"]; ok {
			return extractPayload(group, []string{"hits"}, l.schema)
		}
	}
	return nil
}
