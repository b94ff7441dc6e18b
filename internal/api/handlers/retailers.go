package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"panierfacile-pricing/internal/scraper/retailers"
	"panierfacile-pricing/pkg/utils"
)

// RetailerInfo describes one registered retailer
type RetailerInfo struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Enabled bool   `json:"enabled"`
	Blocked bool   `json:"blocked"`
}

// ListRetailersHandler lists every registered retailer with its state
func ListRetailersHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		enabled := d.Scrapers.Enabled()
		strategies := retailers.All()
		blocked := d.Scrapers.Blocked()

		out := make([]RetailerInfo, 0, len(d.Scrapers.Available()))
		for _, name := range d.Scrapers.Available() {
			info := RetailerInfo{
				Name:    name,
				Enabled: utils.Contains(enabled, name),
				Blocked: blocked != nil && blocked.IsBlocked(name),
			}
			if constructor, ok := strategies[name]; ok {
				info.BaseURL = constructor().BaseURL()
			}
			out = append(out, info)
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"retailers": out,
			"count":     len(out),
			"timestamp": time.Now(),
		})
	}
}

// RetailerStatsHandler reports rate limiter and circuit breaker state
// per retailer
func RetailerStatsHandler(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		stats := map[string]map[string]interface{}{}
		if d.Limiter != nil {
			stats = d.Limiter.GetAllStats()
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"retailers": stats,
			"timestamp": time.Now(),
		})
	}
}
