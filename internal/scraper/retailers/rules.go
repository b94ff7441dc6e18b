package retailers

import (
	"encoding/json"
	"strconv"
	"strings"

	"panierfacile-pricing/internal/scraper/price"
	"panierfacile-pricing/pkg/models"
)

// Transform converts a raw JSON value into a field value, returning nil
// when the value is unusable
type Transform func(interface{}) interface{}

// FieldRule reads the value at Path and passes it through Transform
type FieldRule struct {
	Path      []string
	Transform Transform
}

// Rules are tried in order; the first non-nil result wins
type Rules []FieldRule

// Key is a rule reading a dotted path with the default string transform
func Key(path string) FieldRule {
	return FieldRule{Path: strings.Split(path, "."), Transform: AsString}
}

// With returns a copy of r using t
func (r FieldRule) With(t Transform) FieldRule {
	r.Transform = t
	return r
}

// Keys builds one rule per path, all with transform t
func Keys(t Transform, paths ...string) Rules {
	rules := make(Rules, 0, len(paths))
	for _, p := range paths {
		rules = append(rules, Key(p).With(t))
	}
	return rules
}

// First applies the rules to item and returns the first non-nil value
func (rs Rules) First(item map[string]interface{}) interface{} {
	for _, rule := range rs {
		v := lookup(item, rule.Path)
		if v == nil {
			continue
		}
		if rule.Transform != nil {
			v = rule.Transform(v)
		}
		if v != nil {
			return v
		}
	}
	return nil
}

// String is First narrowed to string, "" when nothing matched
func (rs Rules) String(item map[string]interface{}) string {
	s, _ := rs.First(item).(string)
	return s
}

func lookup(v interface{}, path []string) interface{} {
	cur := v
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

// AsString accepts non-empty strings, with whitespace collapsed, and
// numbers rendered as text
func AsString(v interface{}) interface{} {
	switch s := v.(type) {
	case string:
		s = strings.Join(strings.Fields(s), " ")
		if s == "" {
			return nil
		}
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	}
	return nil
}

// AsNamed accepts a string or an object carrying a name/label/value
func AsNamed(v interface{}) interface{} {
	if s := AsString(v); s != nil {
		return s
	}
	if m, ok := v.(map[string]interface{}); ok {
		return Keys(AsString, "name", "label", "value", "title").First(m)
	}
	return nil
}

// nestedPrice reads price objects such as {"value": 1.05}
func nestedPrice(m map[string]interface{}) interface{} {
	return Rules{
		Key("value").With(scalarPrice),
		Key("amount").With(scalarPrice),
		Key("unitPrice").With(scalarPrice),
		Key("selling").With(AsPrice),
		Key("current").With(AsPrice),
		Key("price").With(scalarPrice),
		Key("formatted").With(scalarPrice),
		Key("centAmount").With(centsPrice),
	}.First(m)
}

func scalarPrice(v interface{}) interface{} {
	if p := price.ParseAny(v); p != nil {
		return *p
	}
	return nil
}

func centsPrice(v interface{}) interface{} {
	if p := price.ParseAny(v); p != nil {
		return price.Round2(*p / 100)
	}
	return nil
}

// AsPrice accepts a number, a price string or a nested price object and
// returns a float64
func AsPrice(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return nestedPrice(m)
	}
	if list, ok := v.([]interface{}); ok && len(list) > 0 {
		return AsPrice(list[0])
	}
	return scalarPrice(v)
}

// AsBool accepts booleans, "true"/"false" strings and availability
// objects such as {"is_available": false}
func AsBool(v interface{}) interface{} {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(b) {
		case "true", "instock", "in_stock", "available", "1":
			return true
		case "false", "outofstock", "out_of_stock", "unavailable", "0":
			return false
		}
	case map[string]interface{}:
		return Keys(AsBool, "is_available", "isAvailable", "available", "status").First(b)
	}
	return nil
}

// AsImage accepts a URL string, a list of URLs, or objects carrying one
func AsImage(v interface{}) interface{} {
	switch img := v.(type) {
	case string:
		return AsString(img)
	case []interface{}:
		for _, item := range img {
			if s := AsImage(item); s != nil {
				return s
			}
		}
	case map[string]interface{}:
		return Keys(AsImage, "url", "src", "href", "large", "medium", "thumbnail", "images").First(img)
	}
	return nil
}

// ProductSchema maps one JSON product object to a ProductRecord
type ProductSchema struct {
	Name      Rules
	Price     Rules
	URL       Rules
	Image     Rules
	Brand     Rules
	Available Rules
	// ResolveURL turns a raw url or slug into an absolute URL
	ResolveURL func(raw string) string
}

// DefaultProductSchema covers the field-name variants seen across
// retailer search APIs
func DefaultProductSchema(baseURL string) ProductSchema {
	return ProductSchema{
		Name:  Keys(AsString, "name", "title", "productName", "label", "libelle", "product.name"),
		Price: Keys(AsPrice, "price", "currentPrice", "unitPrice", "prix", "pricing", "prices", "offers"),
		URL:   Keys(AsString, "url", "productUrl", "link", "href", "slug"),
		Image: Keys(AsImage, "image", "imageUrl", "image_url", "images", "media", "thumbnail"),
		Brand: Keys(AsNamed, "brand", "brandName", "marque"),
		Available: Keys(AsBool,
			"availability", "is_available", "isAvailable", "available", "inStock", "disponible"),
		ResolveURL: func(raw string) string { return absoluteURL(baseURL, raw) },
	}
}

// Map converts item; ok is false when no name could be found
func (s ProductSchema) Map(item map[string]interface{}) (models.ProductRecord, bool) {
	if attrs, ok := item["attributes"].(map[string]interface{}); ok {
		merged := make(map[string]interface{}, len(item)+len(attrs))
		for k, v := range item {
			merged[k] = v
		}
		for k, v := range attrs {
			merged[k] = v
		}
		item = merged
	}

	rec := models.ProductRecord{IsAvailable: true}
	rec.ProductName = s.Name.String(item)
	if rec.ProductName == "" {
		return rec, false
	}
	if p, ok := s.Price.First(item).(float64); ok {
		rec.Price = models.Float64(p)
	}
	rec.ProductURL = s.URL.String(item)
	if rec.ProductURL != "" && s.ResolveURL != nil {
		rec.ProductURL = s.ResolveURL(rec.ProductURL)
	}
	rec.ImageURL = s.Image.String(item)
	rec.Brand = s.Brand.String(item)
	if available, ok := s.Available.First(item).(bool); ok {
		rec.IsAvailable = available
	}
	return rec, true
}

// DefaultContainers lists the keys under which search APIs return their
// product arrays, in probing order
var DefaultContainers = []string{
	"products",
	"hits",
	"results",
	"result.products",
	"results.products",
	"items",
	"data",
	"data.products",
	"data.search.products",
	"content.products",
}

// FindItems collects the objects of every list found under containers.
// A top-level array is treated as the item list itself.
func FindItems(body interface{}, containers []string) []map[string]interface{} {
	if list, ok := body.([]interface{}); ok {
		return objects(list)
	}

	var items []map[string]interface{}
	for _, c := range containers {
		if list, ok := lookup(body, strings.Split(c, ".")).([]interface{}); ok {
			items = append(items, objects(list)...)
		}
	}
	return items
}

func objects(list []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// extractPayload maps every recognisable item, skipping malformed ones,
// and stops at MaxResults
func extractPayload(body interface{}, containers []string, schema ProductSchema) []models.ProductRecord {
	var out []models.ProductRecord
	for _, item := range FindItems(body, containers) {
		rec, ok := schema.Map(item)
		if !ok {
			continue
		}
		out = append(out, rec)
		if len(out) == MaxResults {
			break
		}
	}
	return out
}

func absoluteURL(baseURL, raw string) string {
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "/"):
		return strings.TrimRight(baseURL, "/") + raw
	default:
		return strings.TrimRight(baseURL, "/") + "/" + raw
	}
}
