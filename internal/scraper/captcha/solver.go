// Package captcha detects reCAPTCHA and Turnstile challenges on retailer
// pages and clears them through 2captcha.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	api2captcha "github.com/2captcha/2captcha-go"

	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
	"panierfacile-pricing/internal/scraper/browser"
)

// Solver is implemented by captcha solving services
type Solver interface {
	SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (string, error)
	SolveTurnstile(ctx context.Context, siteKey, pageURL string) (string, error)
	IsHealthy() bool
}

// TwoCaptchaSolver implements Solver with the 2captcha API
type TwoCaptchaSolver struct {
	apiKey    string
	autoSolve bool
	client    *api2captcha.Client
	logger    types.Logger
}

// NewTwoCaptchaSolver creates a new 2captcha solver instance
func NewTwoCaptchaSolver(cfg *config.Config) *TwoCaptchaSolver {
	logger := logging.GetGlobalLogger().WithField("component", "2captcha")

	if cfg.Captcha.APIKey == "" {
		logger.Warn("2captcha API key not configured, captcha solving disabled")
	}

	client := api2captcha.NewClient(cfg.Captcha.APIKey)
	client.DefaultTimeout = int(cfg.Captcha.Timeout.Seconds())
	client.RecaptchaTimeout = int(cfg.Captcha.Timeout.Seconds())
	client.PollingInterval = 5

	logger.Info("2captcha client configured", map[string]interface{}{
		"default_timeout":   client.DefaultTimeout,
		"polling_interval":  client.PollingInterval,
		"enable_auto_solve": cfg.Captcha.EnableAutoSolve,
	})

	return &TwoCaptchaSolver{
		apiKey:    cfg.Captcha.APIKey,
		autoSolve: cfg.Captcha.EnableAutoSolve,
		client:    client,
		logger:    logger,
	}
}

func (s *TwoCaptchaSolver) ready() error {
	if !s.autoSolve {
		return fmt.Errorf("captcha auto-solve is disabled")
	}
	if s.apiKey == "" {
		return fmt.Errorf("2captcha API key not configured")
	}
	return nil
}

// solve runs the blocking 2captcha round trip and gives up when ctx ends
func (s *TwoCaptchaSolver) solve(ctx context.Context, kind string, req api2captcha.Request, fields map[string]interface{}) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}

	s.logger.Info("Solving "+kind, fields)
	start := time.Now()

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, _, err := s.client.Solve(req)
		done <- result{code, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("solving %s: %w", kind, ctx.Err())
	case r := <-done:
		if r.err != nil {
			s.logger.Error("Failed to solve "+kind, map[string]interface{}{"error": r.err.Error()})
			return "", fmt.Errorf("failed to solve %s: %w", kind, r.err)
		}
		s.logger.Info("Solved "+kind, map[string]interface{}{"solving_time": time.Since(start).String()})
		return r.code, nil
	}
}

// SolveRecaptcha solves a reCAPTCHA v2 challenge
func (s *TwoCaptchaSolver) SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (string, error) {
	c := api2captcha.ReCaptcha{SiteKey: siteKey, Url: pageURL}
	return s.solve(ctx, "reCAPTCHA", c.ToRequest(), map[string]interface{}{
		"site_key": siteKey,
		"page_url": pageURL,
	})
}

// SolveTurnstile solves a Cloudflare Turnstile challenge
func (s *TwoCaptchaSolver) SolveTurnstile(ctx context.Context, siteKey, pageURL string) (string, error) {
	c := api2captcha.CloudflareTurnstile{SiteKey: siteKey, Url: pageURL}
	return s.solve(ctx, "Turnstile", c.ToRequest(), map[string]interface{}{
		"site_key": siteKey,
		"page_url": pageURL,
	})
}

// IsHealthy checks the API key by reading the account balance
func (s *TwoCaptchaSolver) IsHealthy() bool {
	if s.apiKey == "" {
		return false
	}
	balance, err := s.client.GetBalance()
	if err != nil {
		s.logger.Error("2captcha health check failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return balance >= 0
}

// Kind of challenge found on a page
type Kind string

const (
	Recaptcha Kind = "recaptcha"
	Turnstile Kind = "turnstile"
)

// Challenge is a solvable captcha found on a page
type Challenge struct {
	Kind    Kind
	SiteKey string
}

var (
	recaptchaKeyPatterns = compile(
		`class="[^"]*g-recaptcha[^"]*"[^>]*data-sitekey="([^"]+)"`,
		`data-sitekey="([^"]+)"[^>]*class="[^"]*g-recaptcha`,
		`recaptcha/api2?/(?:anchor|bframe)\?[^"']*k=([0-9A-Za-z_-]{20,})`,
		`grecaptcha\.render\([^)]*sitekey['"]?\s*:\s*['"]([^'"]+)['"]`,
	)
	turnstileKeyPatterns = compile(
		`class="[^"]*cf-turnstile[^"]*"[^>]*data-sitekey="([^"]+)"`,
		`data-sitekey="([^"]+)"[^>]*class="[^"]*cf-turnstile`,
		`turnstile\.render\([^)]*sitekey['"]?\s*:\s*['"]([^'"]+)['"]`,
		`challenges\.cloudflare\.com/cdn-cgi/challenge-platform/[^"]*/(0x[0-9A-Za-z_-]{10,})/`,
	)
	genericKeyPattern = regexp.MustCompile(`data-sitekey=['"]([^'"]+)['"]`)
)

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?is)`+e))
	}
	return out
}

func firstSubmatch(patterns []*regexp.Regexp, html string) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(html); len(m) > 1 {
			if key := strings.TrimSpace(m[1]); len(key) > 10 {
				return key
			}
		}
	}
	return ""
}

// Detect looks for a captcha whose site key can be extracted. DataDome
// and other interstitials without a site key are not solvable here.
func Detect(html string) (Challenge, bool) {
	lower := strings.ToLower(html)

	if strings.Contains(lower, "turnstile") {
		if key := firstSubmatch(turnstileKeyPatterns, html); key != "" {
			return Challenge{Kind: Turnstile, SiteKey: key}, true
		}
	}
	if strings.Contains(lower, "recaptcha") {
		if key := firstSubmatch(recaptchaKeyPatterns, html); key != "" {
			return Challenge{Kind: Recaptcha, SiteKey: key}, true
		}
		if m := genericKeyPattern.FindStringSubmatch(html); len(m) > 1 {
			return Challenge{Kind: Recaptcha, SiteKey: m[1]}, true
		}
	}
	return Challenge{}, false
}

// injectScript writes the token into the response fields the widgets
// read and fires the registered callback, if any
const injectScript = `() => {
	const token = __TOKEN__;
	const kind = __KIND__;
	const names = kind === 'turnstile'
		? ['cf-turnstile-response', 'g-recaptcha-response']
		: ['g-recaptcha-response'];
	let written = 0;
	for (const name of names) {
		for (const el of document.querySelectorAll('[name="' + name + '"], #' + name)) {
			el.value = token;
			el.innerHTML = token;
			written++;
		}
	}
	const widget = document.querySelector(kind === 'turnstile' ? '.cf-turnstile' : '.g-recaptcha');
	const cb = widget && widget.getAttribute('data-callback');
	if (cb && typeof window[cb] === 'function') {
		window[cb](token);
	} else {
		const form = widget && widget.closest('form');
		if (form) form.submit();
	}
	return written;
}`

// InjectToken places a solved token into the page
func InjectToken(ctx context.Context, page browser.Page, ch Challenge, token string) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return err
	}
	kindJSON, _ := json.Marshal(string(ch.Kind))
	script := strings.NewReplacer("__TOKEN__", string(tokenJSON), "__KIND__", string(kindJSON)).Replace(injectScript)

	var written int
	if err := page.EvalJSON(ctx, script, &written); err != nil {
		return fmt.Errorf("failed to inject captcha token: %w", err)
	}
	if written == 0 {
		return fmt.Errorf("no %s response field found on page", ch.Kind)
	}
	return nil
}

// Resolve detects a challenge on the current page, solves it and
// injects the token. It reports whether a token was injected.
func Resolve(ctx context.Context, page browser.Page, solver Solver) (bool, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return false, err
	}
	ch, ok := Detect(html)
	if !ok {
		return false, nil
	}

	var token string
	switch ch.Kind {
	case Turnstile:
		token, err = solver.SolveTurnstile(ctx, ch.SiteKey, page.URL())
	default:
		token, err = solver.SolveRecaptcha(ctx, ch.SiteKey, page.URL())
	}
	if err != nil {
		return false, err
	}

	if err := InjectToken(ctx, page, ch, token); err != nil {
		return false, err
	}
	_ = page.Pause(ctx, 2*time.Second, 4*time.Second)
	return true, nil
}
