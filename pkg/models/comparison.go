package models

import "time"

// RetailerTotal is one retailer's side of a comparison. Total is nil
// when no ingredient was found at that retailer.
type RetailerTotal struct {
	Retailer string   `json:"retailer"`
	Total    *float64 `json:"total"`
	Found    int      `json:"found"`
}

// IngredientPrice is one ingredient's price at every compared retailer
type IngredientPrice struct {
	IngredientID int64               `json:"ingredient_id"`
	Name         string              `json:"name"`
	Prices       map[string]*float64 `json:"prices"`
	Products     map[string]string   `json:"products,omitempty"`
	Cheapest     string              `json:"cheapest,omitempty"`
}

// PriceComparison is an immutable snapshot of one comparison run
type PriceComparison struct {
	ID               string            `json:"id"`
	Latitude         *float64          `json:"latitude,omitempty"`
	Longitude        *float64          `json:"longitude,omitempty"`
	Retailers        []RetailerTotal   `json:"retailers"`
	Ingredients      []IngredientPrice `json:"ingredients"`
	TotalIngredients int               `json:"total_ingredients"`
	Cheapest         string            `json:"cheapest,omitempty"`
	Savings          *float64          `json:"savings,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Totals returns the per-retailer totals keyed by retailer
func (p *PriceComparison) Totals() map[string]*float64 {
	out := make(map[string]*float64, len(p.Retailers))
	for _, r := range p.Retailers {
		out[r.Retailer] = r.Total
	}
	return out
}

// ComparisonProgress is emitted while a comparison runs
type ComparisonProgress struct {
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	Retailer   string `json:"supermarket"`
	Ingredient string `json:"ingredient"`
	Message    string `json:"message"`
}
