package models

// IngredientInput is one requested shopping-list line
type IngredientInput struct {
	Name     string  `json:"name" validate:"required,min=1,max=200"`
	Quantity float64 `json:"quantity" validate:"gte=0"`
	Unit     string  `json:"unit" validate:"max=20"`
}

// SearchRequest runs one synchronous retailer search
type SearchRequest struct {
	Retailer string `json:"retailer" validate:"required,retailer"`
	Query    string `json:"query" validate:"required,min=1,max=200"`
}

// MatchRequest resolves a list of ingredients at one retailer
type MatchRequest struct {
	Retailer    string            `json:"retailer" validate:"required,retailer"`
	Ingredients []IngredientInput `json:"ingredients" validate:"required,min=1,max=100,dive"`
	UseCache    *bool             `json:"use_cache"`
	StoreID     string            `json:"store_id" validate:"omitempty,max=64"`
}

// CompareRequest compares a list of ingredients across two retailers
type CompareRequest struct {
	Retailers   []string          `json:"retailers" validate:"omitempty,len=2,dive,retailer"`
	Ingredients []IngredientInput `json:"ingredients" validate:"required,min=1,max=100,dive"`
	Latitude    *float64          `json:"latitude" validate:"omitempty,latitude"`
	Longitude   *float64          `json:"longitude" validate:"omitempty,longitude"`
}

// RefreshRequest triggers a proactive scrape for a list of ingredients
type RefreshRequest struct {
	Retailers   []string          `json:"retailers" validate:"omitempty,dive,retailer"`
	Ingredients []IngredientInput `json:"ingredients" validate:"omitempty,max=200,dive"`
	Popular     bool              `json:"popular"`
}
