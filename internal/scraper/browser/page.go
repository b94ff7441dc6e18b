// Package browser runs Chromium sessions that try to look like a
// French desktop visitor, and exposes the page operations retailer
// strategies need.
package browser

import (
	"context"
	"time"
)

// Target identifies an element either by CSS selector alone or by a
// selector plus a regular expression its text must match.
type Target struct {
	Selector string
	Text     string
}

// CSS is a selector-only target
func CSS(selector string) Target {
	return Target{Selector: selector}
}

// TextMatch is a target whose visible text must match pattern
func TextMatch(selector, pattern string) Target {
	return Target{Selector: selector, Text: pattern}
}

// Response is a network response captured while a listener is attached
type Response struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

// Page is the set of page operations used by retailer strategies and
// the search orchestrator. Session implements it on top of go-rod.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	// EvalJSON evaluates a function expression and decodes its JSON
	// result into out.
	EvalJSON(ctx context.Context, js string, out interface{}) error
	// TypeInto types text into the first matching input, one key at a
	// time, then presses Enter. Returns false when no input was found.
	TypeInto(ctx context.Context, selectors []string, text string) (bool, error)
	// ClickFirst clicks the first visible target and reports whether
	// anything was clicked.
	ClickFirst(ctx context.Context, targets []Target) bool
	// ScrollTo scrolls to a fraction of the document height
	ScrollTo(ctx context.Context, fraction float64) error
	// Pause sleeps for a random duration in [min, max]
	Pause(ctx context.Context, min, max time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
	URL() string
	// OnJSONResponse delivers every finished response whose URL passes
	// match. The returned function detaches the listener and waits for
	// in-flight deliveries.
	OnJSONResponse(match func(url string) bool, handle func(Response)) (detach func())
}

// SessionPlan describes how to warm up a retailer session
type SessionPlan struct {
	LandingURL string
	// SkipHomepage marks the session established without visiting the
	// landing page. Used where the homepage triggers a bot challenge
	// more readily than deep links.
	SkipHomepage    bool
	CookieTargets   []Target
	PopupTargets    []Target
	ScrollOnLanding bool
}
