package browser

import (
	"context"
	"time"

	"panierfacile-pricing/internal/logging/types"
)

// DefaultCookieTargets covers the consent managers seen on French
// retail sites (Didomi, OneTrust) and plain "accept" buttons.
var DefaultCookieTargets = []Target{
	CSS("#didomi-notice-agree-button"),
	CSS("#onetrust-accept-btn-handler"),
	CSS(`button[id*="accept"]`),
	CSS(`button[id*="cookie"]`),
	TextMatch("button", `/^\s*(tout accepter|accepter|j'accepte)/i`),
}

// DefaultPopupTargets dismisses newsletter and store-picker modals
var DefaultPopupTargets = []Target{
	TextMatch("button", `/^\s*(plus tard|ignorer|non merci|fermer)\s*$/i`),
	CSS(`[data-testid="close-modal"]`),
	CSS(`[aria-label="Fermer"]`),
	CSS(".modal-close"),
	CSS("button.close"),
}

// Establish warms up a session according to plan and reports whether
// the session can be considered established. Navigation failures and
// block pages are logged and return false; they are never errors.
func Establish(ctx context.Context, p Page, plan SessionPlan, logger types.Logger) bool {
	if plan.SkipHomepage || plan.LandingURL == "" {
		logger.Debug("Skipping landing page for session", map[string]interface{}{
			"landing_url": plan.LandingURL,
		})
		return true
	}

	if err := p.Navigate(ctx, plan.LandingURL); err != nil {
		logger.Warn("Session landing navigation failed", map[string]interface{}{
			"url":   plan.LandingURL,
			"error": err.Error(),
		})
		return false
	}
	if err := p.Pause(ctx, 2*time.Second, 4*time.Second); err != nil {
		return false
	}

	if html, err := p.HTML(ctx); err == nil {
		if indicator := BlockIndicator(html); indicator != "" {
			logger.Warn("Landing page is a bot challenge", map[string]interface{}{
				"url":       plan.LandingURL,
				"indicator": indicator,
			})
			return false
		}
	}

	if p.ClickFirst(ctx, plan.CookieTargets) {
		logger.Debug("Cookie consent accepted", nil)
		_ = p.Pause(ctx, 500*time.Millisecond, 1500*time.Millisecond)
	}

	if plan.ScrollOnLanding {
		_ = p.ScrollTo(ctx, 0.15)
		_ = p.Pause(ctx, 800*time.Millisecond, 1500*time.Millisecond)
		p.ClickFirst(ctx, plan.PopupTargets)
		_ = p.ScrollTo(ctx, 0)
	} else {
		p.ClickFirst(ctx, plan.PopupTargets)
	}

	_ = p.Pause(ctx, time.Second, 2*time.Second)
	logger.Info("Retailer session established", map[string]interface{}{
		"landing_url": plan.LandingURL,
	})
	return true
}
