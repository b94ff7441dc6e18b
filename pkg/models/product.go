package models

// ProductRecord is one product listing returned by a retailer search
type ProductRecord struct {
	ProductName string   `json:"product_name"`
	Price       *float64 `json:"price"`
	ProductURL  string   `json:"product_url"`
	ImageURL    string   `json:"image_url"`
	Brand       string   `json:"brand"`
	IsAvailable bool     `json:"is_available"`
}

// HasPrice reports whether the record carries a parsed price
func (p ProductRecord) HasPrice() bool {
	return p.Price != nil
}

// PricedOnly returns the records that carry a price, preserving order
func PricedOnly(records []ProductRecord) []ProductRecord {
	out := make([]ProductRecord, 0, len(records))
	for _, r := range records {
		if r.HasPrice() {
			out = append(out, r)
		}
	}
	return out
}

// Float64 returns a pointer to v
func Float64(v float64) *float64 {
	return &v
}
