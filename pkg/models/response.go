package models

import "time"

// SearchResponse is returned by the synchronous search endpoint
type SearchResponse struct {
	Success        bool            `json:"success"`
	Retailer       string          `json:"retailer"`
	Query          string          `json:"query"`
	Outcome        string          `json:"outcome"`
	Reason         string          `json:"reason,omitempty"`
	Products       []ProductRecord `json:"products"`
	ProcessingTime time.Duration   `json:"processing_time"`
	RequestID      string          `json:"request_id"`
}

// MatchBatchResult is the payload of a finished match task
type MatchBatchResult struct {
	Retailer  string                   `json:"retailer"`
	Matched   int                      `json:"matched"`
	Total     int                      `json:"total"`
	HitRate   float64                  `json:"hit_rate"`
	Matches   map[string]*ProductMatch `json:"matches"`
	CartItems []CartItem               `json:"cart_items"`
}

// RefreshResult summarizes a proactive scrape. Scraped counts stored
// matches per retailer.
type RefreshResult struct {
	Total         int            `json:"total"`
	AlreadyCached int            `json:"already_cached"`
	Scraped       map[string]int `json:"scraped"`
	Errors        int            `json:"errors"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    time.Duration     `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ErrorResponse represents error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
