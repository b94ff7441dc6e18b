// Package scraper runs one retailer search end to end: it gates the
// search on the retailer's rate limiter, opens a browser session,
// captures the retailer's own search API traffic while the search page
// loads and falls back to reading the rendered page.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"panierfacile-pricing/internal/logging/types"
	"panierfacile-pricing/internal/scraper/browser"
	"panierfacile-pricing/internal/scraper/captcha"
	"panierfacile-pricing/internal/scraper/retailers"
	"panierfacile-pricing/internal/scraper/workers"
	"panierfacile-pricing/pkg/models"
)

// Outcome classifies how a search ended
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeBlocked Outcome = "blocked"
	OutcomeTimeout Outcome = "timeout"
	OutcomeEmpty   Outcome = "empty"
)

// Result sources
const (
	SourceAPI = "api"
	SourceDOM = "dom"
)

// minAPIPriced is the number of priced API products that makes the DOM
// pass unnecessary
const minAPIPriced = 3

// SearchResult is the outcome of one retailer search. Products is never
// longer than retailers.MaxResults.
type SearchResult struct {
	Retailer string                 `json:"retailer"`
	Query    string                 `json:"query"`
	Outcome  Outcome                `json:"outcome"`
	Products []models.ProductRecord `json:"products"`
	Reason   string                 `json:"reason,omitempty"`
	Source   string                 `json:"source,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// PageSession is a browser page owned by one RetailerScraper
type PageSession interface {
	browser.Page
	Establish(ctx context.Context, plan browser.SessionPlan) bool
	Close() error
}

// Opener acquires browser sessions
type Opener interface {
	Open(ctx context.Context) (PageSession, error)
}

// Gate throttles searches per retailer and tracks their failures.
// workers.RateLimiter implements it.
type Gate interface {
	Wait(ctx context.Context, retailer string) error
	RecordSuccess(retailer string)
	RecordFailure(retailer string, reason string)
}

var _ Gate = (*workers.RateLimiter)(nil)

// LauncherOpener adapts a browser.Launcher to Opener
type LauncherOpener struct {
	Launcher *browser.Launcher
}

func (o LauncherOpener) Open(ctx context.Context) (PageSession, error) {
	session, err := o.Launcher.Open(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Session is a retailer scraper held open across several searches.
// *RetailerScraper implements it.
type Session interface {
	Search(ctx context.Context, query string) (SearchResult, error)
	Close() error
}

var _ Session = (*RetailerScraper)(nil)

// RetailerScraper searches one retailer. The browser session is opened
// by the first Search and reused by the following ones until Close, or
// until a search ends blocked or timed out. Searches on one scraper are
// serialized.
type RetailerScraper struct {
	strategy retailers.Strategy
	opener   Opener
	gate     Gate
	solver   captcha.Solver
	sink     ArtifactSink
	blocked  *BlockRegistry
	timeout  time.Duration
	logger   types.Logger
	now      func() time.Time

	mu          sync.Mutex
	session     PageSession
	established bool
}

// Retailer returns the retailer identifier
func (s *RetailerScraper) Retailer() string {
	return s.strategy.Name()
}

// Search runs the full search flow for query. Blocks, timeouts, empty
// pages and malformed payloads are reported through the result's
// Outcome; only a browser launch failure is returned as an error.
func (s *RetailerScraper) Search(ctx context.Context, query string) (SearchResult, error) {
	start := s.now()
	name := s.strategy.Name()
	result := SearchResult{Retailer: name, Query: query, Products: []models.ProductRecord{}}
	finish := func() (SearchResult, error) {
		result.Duration = s.now().Sub(start)
		return result, nil
	}

	if s.gate != nil {
		if err := s.gate.Wait(ctx, name); err != nil {
			if errors.Is(err, workers.ErrCircuitOpen) {
				result.Outcome, result.Reason = OutcomeBlocked, "circuit_open"
			} else {
				result.Outcome, result.Reason = OutcomeTimeout, "rate_limited"
			}
			s.logger.Warn("Search not started", map[string]interface{}{
				"query":  query,
				"reason": result.Reason,
				"error":  err.Error(),
			})
			return finish()
		}
	}

	searchCtx, cancel := context.WithTimeout(ctx, 2*s.timeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.page(searchCtx)
	if err != nil {
		s.logger.Error("Failed to launch browser", map[string]interface{}{
			"query": query,
			"error": err.Error(),
		})
		return result, fmt.Errorf("failed to launch browser for %s: %w", name, err)
	}

	s.logger.Info("Starting search", map[string]interface{}{"query": query})

	products, source := s.attempt(searchCtx, session, query)

	if len(products) == 0 {
		outcome, reason := s.diagnose(ctx, searchCtx, session)
		if outcome == OutcomeBlocked && s.solver != nil {
			if solved, err := captcha.Resolve(searchCtx, session, s.solver); err != nil {
				s.logger.Warn("Captcha could not be solved", map[string]interface{}{"error": err.Error()})
			} else if solved {
				s.logger.Info("Captcha solved, retrying search", map[string]interface{}{"query": query})
				products, source = s.attempt(searchCtx, session, query)
				if len(products) == 0 {
					outcome, reason = s.diagnose(ctx, searchCtx, session)
				}
			}
		}

		if len(products) == 0 {
			result.Outcome, result.Reason = outcome, reason
			s.saveArtifacts(ctx, session, reason, query)
			switch outcome {
			case OutcomeBlocked, OutcomeTimeout:
				if s.gate != nil {
					s.gate.RecordFailure(name, reason)
				}
				if outcome == OutcomeBlocked && s.blocked != nil {
					s.blocked.Record(name, s.strategy.BaseURL(), reason)
				}
				s.drop()
			}
			s.logger.Warn("Search returned no products", map[string]interface{}{
				"query":   query,
				"outcome": string(outcome),
				"reason":  reason,
			})
			return finish()
		}
	}

	if len(products) > retailers.MaxResults {
		products = products[:retailers.MaxResults]
	}
	result.Outcome, result.Products, result.Source = OutcomeSuccess, products, source
	if s.gate != nil {
		s.gate.RecordSuccess(name)
	}
	if s.blocked != nil {
		s.blocked.Clear(name)
	}

	s.logger.Info("Search completed", map[string]interface{}{
		"query":    query,
		"products": len(products),
		"source":   source,
	})
	return finish()
}

// page returns the open browser session, opening one if needed.
// Callers hold s.mu.
func (s *RetailerScraper) page(ctx context.Context) (PageSession, error) {
	if s.session != nil {
		return s.session, nil
	}
	session, err := s.opener.Open(ctx)
	if err != nil {
		return nil, err
	}
	s.session, s.established = session, false
	return session, nil
}

// drop closes the browser session so the next search starts a fresh
// one. Callers hold s.mu.
func (s *RetailerScraper) drop() {
	if s.session == nil {
		return
	}
	if err := s.session.Close(); err != nil {
		s.logger.Debug("Failed to close browser session", map[string]interface{}{"error": err.Error()})
	}
	s.session, s.established = nil, false
}

// Close releases the browser session, if one is open. The scraper stays
// usable; the next Search opens a new session.
func (s *RetailerScraper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop()
	return nil
}

// attempt runs one pass of establish, search and extraction on page
func (s *RetailerScraper) attempt(ctx context.Context, page PageSession, query string) ([]models.ProductRecord, string) {
	if !s.established {
		s.established = page.Establish(ctx, s.strategy.SessionPlan())
		if !s.established {
			s.logger.Warn("Session not established, searching anyway", nil)
		}
	}

	capture := &apiCapture{strategy: s.strategy, logger: s.logger}
	detach := page.OnJSONResponse(s.matchesAPI, capture.handle)
	detached := false
	defer func() {
		if !detached {
			detach()
		}
	}()

	steps := []func() error{
		func() error { return page.Pause(ctx, 800*time.Millisecond, 1500*time.Millisecond) },
		func() error {
			if err := s.strategy.PerformSearch(ctx, page, query); err != nil {
				s.logger.Warn("Search navigation failed", map[string]interface{}{
					"query": query,
					"error": err.Error(),
				})
			}
			return nil
		},
	}
	if retailers.ExtractsImmediately(s.strategy) {
		steps = append(steps,
			func() error { return page.Pause(ctx, 500*time.Millisecond, 1000*time.Millisecond) },
		)
		if !runSteps(steps, s.logger) {
			return nil, ""
		}
		domProducts := s.extractDOM(ctx, page)
		detach()
		detached = true
		return pickDOMFirst(domProducts, capture.products())
	}

	steps = append(steps,
		func() error { return page.Pause(ctx, 2500*time.Millisecond, 4000*time.Millisecond) },
		func() error { return page.ScrollTo(ctx, 1.0/3.0) },
		func() error { return page.Pause(ctx, 500*time.Millisecond, 1000*time.Millisecond) },
		func() error { return page.ScrollTo(ctx, 0.5) },
		func() error { return page.Pause(ctx, 1500*time.Millisecond, 2500*time.Millisecond) },
	)
	runSteps(steps, s.logger)
	detach()
	detached = true

	apiProducts := capture.products()
	apiPriced := models.PricedOnly(apiProducts)
	if len(apiPriced) >= minAPIPriced {
		return apiPriced, SourceAPI
	}

	domProducts := s.extractDOM(ctx, page)
	if domPriced := models.PricedOnly(domProducts); len(domPriced) > 0 {
		return domPriced, SourceDOM
	}
	if len(apiPriced) > 0 {
		return apiPriced, SourceAPI
	}
	if len(apiProducts) > 0 {
		return apiProducts, SourceAPI
	}
	if len(domProducts) > 0 {
		return domProducts, SourceDOM
	}
	return nil, ""
}

// runSteps runs steps in order and reports whether all of them ran
func runSteps(steps []func() error, logger types.Logger) bool {
	for _, step := range steps {
		if err := step(); err != nil {
			logger.Debug("Search step interrupted", map[string]interface{}{"error": err.Error()})
			return false
		}
	}
	return true
}

// pickDOMFirst prefers priced products read from the page, then priced
// API products. Unpriced products are never returned.
func pickDOMFirst(domProducts, apiProducts []models.ProductRecord) ([]models.ProductRecord, string) {
	if priced := models.PricedOnly(domProducts); len(priced) > 0 {
		return priced, SourceDOM
	}
	if priced := models.PricedOnly(apiProducts); len(priced) > 0 {
		return priced, SourceAPI
	}
	return nil, ""
}

func (s *RetailerScraper) matchesAPI(url string) bool {
	for _, pattern := range s.strategy.APIPatterns() {
		if pattern.MatchString(url) {
			return true
		}
	}
	return false
}

// extractDOM runs the strategy's DOM extraction and treats a panic as
// no data
func (s *RetailerScraper) extractDOM(ctx context.Context, page browser.Page) (products []models.ProductRecord) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("DOM extraction panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			products = nil
		}
	}()

	return s.strategy.ExtractFromDOM(ctx, page)
}

// diagnose classifies an empty search from the page it left behind
func (s *RetailerScraper) diagnose(parent, searchCtx context.Context, page browser.Page) (Outcome, string) {
	diagCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), 15*time.Second)
	defer cancel()

	html, err := page.HTML(diagCtx)
	if err == nil {
		if indicator := browser.BlockIndicator(html); indicator != "" {
			s.logger.Warn("Bot protection detected", map[string]interface{}{
				"indicator": indicator,
				"url":       page.URL(),
			})
			return OutcomeBlocked, "blocked"
		}
	}
	if errors.Is(searchCtx.Err(), context.DeadlineExceeded) {
		return OutcomeTimeout, "timeout"
	}
	return OutcomeEmpty, "no_products"
}

func (s *RetailerScraper) saveArtifacts(parent context.Context, page browser.Page, reason, query string) {
	if s.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 15*time.Second)
	defer cancel()

	var screenshot []byte
	var html string
	if img, err := page.Screenshot(ctx); err == nil {
		screenshot = img
	} else {
		s.logger.Debug("Could not capture screenshot", map[string]interface{}{"error": err.Error()})
	}
	if content, err := page.HTML(ctx); err == nil {
		html = content
	}

	name := ArtifactName(s.strategy.Name(), reason, query, s.now())
	if err := s.sink.Save(ctx, name, screenshot, html); err != nil {
		s.logger.Warn("Failed to save debug artifacts", map[string]interface{}{
			"name":  name,
			"error": err.Error(),
		})
		return
	}
	s.logger.Info("Saved debug artifacts", map[string]interface{}{"name": name})
}

// apiCapture accumulates products decoded from intercepted responses
type apiCapture struct {
	strategy retailers.Strategy
	logger   types.Logger

	mu    sync.Mutex
	items []models.ProductRecord
}

func (c *apiCapture) handle(resp browser.Response) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("API payload extraction panicked", map[string]interface{}{
				"url":   resp.URL,
				"panic": fmt.Sprint(r),
			})
		}
	}()

	if resp.Status != 200 || !browser.IsJSONContentType(resp.ContentType) {
		return
	}

	var body interface{}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		c.logger.Debug("Skipping undecodable API response", map[string]interface{}{
			"url":   resp.URL,
			"error": err.Error(),
		})
		return
	}

	products := c.strategy.ExtractFromAPIPayload(body)
	if len(products) == 0 {
		return
	}

	c.mu.Lock()
	c.items = append(c.items, products...)
	c.mu.Unlock()

	c.logger.Debug("Captured products from API response", map[string]interface{}{
		"url":      resp.URL,
		"products": len(products),
	})
}

func (c *apiCapture) products() []models.ProductRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ProductRecord(nil), c.items...)
}
