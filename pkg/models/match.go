package models

import "time"

// Ingredient is a shopping-list line the matcher keys its caches on
type Ingredient struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Quantity  float64   `json:"quantity"`
	Unit      string    `json:"unit,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ProductMatch is the persisted best-known product for an ingredient at
// one retailer and store context. At most one row exists per
// (IngredientID, Retailer, StoreID).
type ProductMatch struct {
	ID           int64     `json:"id"`
	IngredientID int64     `json:"ingredient_id"`
	Retailer     string    `json:"retailer"`
	StoreID      string    `json:"store_id"`
	ProductName  string    `json:"product_name"`
	Price        *float64  `json:"price"`
	ProductURL   string    `json:"product_url"`
	ImageURL     string    `json:"image_url"`
	Brand        string    `json:"brand"`
	IsAvailable  bool      `json:"is_available"`
	MatchScore   float64   `json:"match_score"`
	LastUpdated  time.Time `json:"last_updated"`
	CreatedAt    time.Time `json:"created_at"`
}

// FreshAt reports whether the match was updated within window of now
func (m *ProductMatch) FreshAt(now time.Time, window time.Duration) bool {
	return !m.LastUpdated.Before(now.Add(-window))
}

// Usable reports whether the match can stand in for a live price
func (m *ProductMatch) Usable() bool {
	return m.ProductName != "" && m.Price != nil
}

// MatchFromRecord builds an unsaved match from a scraped record
func MatchFromRecord(ingredientID int64, retailer, storeID string, rec ProductRecord, score float64) *ProductMatch {
	return &ProductMatch{
		IngredientID: ingredientID,
		Retailer:     retailer,
		StoreID:      storeID,
		ProductName:  rec.ProductName,
		Price:        rec.Price,
		ProductURL:   rec.ProductURL,
		ImageURL:     rec.ImageURL,
		Brand:        rec.Brand,
		IsAvailable:  rec.IsAvailable,
		MatchScore:   score,
	}
}

// CartItem is a generic line item exported to a retailer cart
type CartItem struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
	Catalog  string `json:"catalog"`
}
