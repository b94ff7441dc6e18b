// Package retailers holds one extraction strategy per supported grocery
// retailer. Strategies know how to search a site and how to turn its
// API payloads or rendered pages into product records; the shared
// orchestration lives in the scraper package.
package retailers

import (
	"context"
	"net/url"
	"regexp"
	"time"

	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
	"panierfacile-pricing/internal/scraper/browser"
	"panierfacile-pricing/pkg/models"
)

// Strategy is the retailer-specific half of a search
type Strategy interface {
	// Name is the lowercase registry identifier, e.g. "leclerc"
	Name() string
	BaseURL() string
	SessionPlan() browser.SessionPlan
	// APIPatterns select the network responses worth decoding. Empty
	// for retailers without a usable JSON API.
	APIPatterns() []*regexp.Regexp
	// PerformSearch drives the page to the results for query
	PerformSearch(ctx context.Context, page browser.Page, query string) error
	// ExtractFromAPIPayload maps a decoded JSON body. Unknown shapes
	// yield an empty slice.
	ExtractFromAPIPayload(body interface{}) []models.ProductRecord
	// ExtractFromDOM reads at most MaxResults products from the page
	ExtractFromDOM(ctx context.Context, page browser.Page) []models.ProductRecord
}

// DOMFirst is implemented by strategies whose rendered results must be
// read as soon as the search lands, before the page is scrolled or left
// idle.
type DOMFirst interface {
	ExtractImmediately() bool
}

// ExtractsImmediately reports whether s reads the page right after the
// search
func ExtractsImmediately(s Strategy) bool {
	d, ok := s.(DOMFirst)
	return ok && d.ExtractImmediately()
}

// retailer implements Strategy from declarative tables. Retailers with
// special behaviour embed it and override single methods.
type retailer struct {
	name    string
	baseURL string
	// searchPath is appended to baseURL, followed by the escaped query
	searchPath    string
	waitSelectors []string
	waitTimeout   time.Duration
	patterns      []*regexp.Regexp
	plan          browser.SessionPlan
	containers    []string
	schema        ProductSchema
	// cards are tried in order; the first schema yielding products wins
	cards []CardSchema
	// live evaluates cards inside the page before falling back to the
	// serialized HTML
	live bool

	logger types.Logger
}

func newRetailer(name, baseURL string) retailer {
	return retailer{
		name:        name,
		baseURL:     baseURL,
		waitTimeout: 10 * time.Second,
		containers:  DefaultContainers,
		schema:      DefaultProductSchema(baseURL),
		plan: browser.SessionPlan{
			LandingURL:    baseURL,
			CookieTargets: browser.DefaultCookieTargets,
			PopupTargets:  browser.DefaultPopupTargets,
		},
		logger: logging.GetGlobalLogger().WithField("retailer", name),
	}
}

func (r *retailer) Name() string { return r.name }
func (r *retailer) BaseURL() string { return r.baseURL }
func (r *retailer) SessionPlan() browser.SessionPlan { return r.plan }
func (r *retailer) APIPatterns() []*regexp.Regexp { return r.patterns }
func (r *retailer) SearchURL(query string) string { return r.baseURL + r.searchPath + url.QueryEscape(query) }

// PerformSearch navigates straight to the search URL and waits for the
// first result selector that shows up. A missing selector is not an
// error: extraction will simply find nothing.
func (r *retailer) PerformSearch(ctx context.Context, page browser.Page, query string) error {
	target := r.SearchURL(query)
	r.logger.Info("Searching retailer", map[string]interface{}{
		"query": query,
		"url":   target,
	})
	if err := page.Navigate(ctx, target); err != nil {
		return err
	}
	r.acceptDeferredCookies(ctx, page)
	r.awaitResults(ctx, page, query)
	return nil
}

// acceptDeferredCookies handles consent for retailers whose session
// skips the landing page, so the banner first appears on the results.
func (r *retailer) acceptDeferredCookies(ctx context.Context, page browser.Page) {
	if !r.plan.SkipHomepage {
		return
	}
	if page.ClickFirst(ctx, r.plan.CookieTargets) {
		_ = page.Pause(ctx, 500*time.Millisecond, time.Second)
	}
}

func (r *retailer) awaitResults(ctx context.Context, page browser.Page, query string) {
	if len(r.waitSelectors) == 0 {
		return
	}
	timeout := r.waitTimeout
	if n := len(r.waitSelectors); n > 1 {
		timeout = r.waitTimeout / time.Duration(n)
		if timeout < 5*time.Second {
			timeout = 5 * time.Second
		}
	}
	for _, selector := range r.waitSelectors {
		if err := page.WaitForSelector(ctx, selector, timeout); err == nil {
			r.logger.Debug("Results rendered", map[string]interface{}{"selector": selector})
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
	r.logger.Warn("No product selector appeared", map[string]interface{}{"query": query})
}

func (r *retailer) ExtractFromAPIPayload(body interface{}) []models.ProductRecord {
	return extractPayload(body, r.containers, r.schema)
}

func (r *retailer) ExtractFromDOM(ctx context.Context, page browser.Page) []models.ProductRecord {
	if r.live {
		for _, schema := range r.cards {
			products, err := schema.ExtractLive(ctx, page, r.baseURL)
			if err != nil {
				r.logger.Debug("In-page extraction failed, parsing HTML", map[string]interface{}{
					"error": err.Error(),
				})
				break
			}
			if len(products) > 0 {
				return products
			}
		}
	}

	html, err := page.HTML(ctx)
	if err != nil {
		r.logger.Warn("Could not read page HTML", map[string]interface{}{"error": err.Error()})
		return nil
	}
	for _, schema := range r.cards {
		if products := schema.ExtractHTML(html, r.baseURL); len(products) > 0 {
			return products
		}
	}
	r.logger.Warn("No product cards found in page", nil)
	return nil
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile("(?i)"+e))
	}
	return out
}
