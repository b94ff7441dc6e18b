package captcha_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/scraper/browser/browsertest"
	"panierfacile-pricing/internal/scraper/captcha"
)

type stubSolver struct {
	token string
	err   error
	calls []string
}

func (s *stubSolver) SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (string, error) {
	s.calls = append(s.calls, "recaptcha:"+siteKey)
	return s.token, s.err
}

func (s *stubSolver) SolveTurnstile(ctx context.Context, siteKey, pageURL string) (string, error) {
	s.calls = append(s.calls, "turnstile:"+siteKey)
	return s.token, s.err
}

func (s *stubSolver) IsHealthy() bool { return true }

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		html string
		want captcha.Challenge
		ok   bool
	}{
		{
			name: "recaptcha widget",
			html: `<form><div class="g-recaptcha" data-sitekey="6LcR_abcdefghijklmnop"></div></form><script src="https://www.google.com/recaptcha/api.js"></script>`,
			want: captcha.Challenge{Kind: captcha.Recaptcha, SiteKey: "6LcR_abcdefghijklmnop"},
			ok:   true,
		},
		{
			name: "turnstile widget",
			html: `<div class="cf-turnstile" data-sitekey="0x4AAAAAAABkMYinukE8nzY"></div><script src="https://challenges.cloudflare.com/turnstile/v0/api.js"></script>`,
			want: captcha.Challenge{Kind: captcha.Turnstile, SiteKey: "0x4AAAAAAABkMYinukE8nzY"},
			ok:   true,
		},
		{
			name: "datadome interstitial has no site key",
			html: `<html><body><iframe src="https://geo.captcha-delivery.com/captcha/?initialCid=x"></iframe>DataDome</body></html>`,
		},
		{
			name: "regular results page",
			html: `<div class="product-tile">Lait</div>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := captcha.Detect(tt.html)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	page := browsertest.NewFakePage()
	require.NoError(t, page.Navigate(context.Background(), "https://www.auchan.fr/recherche?text=lait"))
	page.Pages["https://www.auchan.fr/recherche?text=lait"] = `<div class="g-recaptcha" data-sitekey="6LcR_abcdefghijklmnop"></div>`
	page.EvalResult = 1

	solver := &stubSolver{token: "03AGdBq25-token"}
	solved, err := captcha.Resolve(context.Background(), page, solver)

	require.NoError(t, err)
	assert.True(t, solved)
	assert.Equal(t, []string{"recaptcha:6LcR_abcdefghijklmnop"}, solver.calls)
	require.Len(t, page.Scripts, 1)
	assert.Contains(t, page.Scripts[0], `"03AGdBq25-token"`)
	assert.Contains(t, page.Scripts[0], `"recaptcha"`)
}

func TestResolve_NothingToSolve(t *testing.T) {
	page := browsertest.NewFakePage()
	page.Pages[""] = "<html>ok</html>"
	solver := &stubSolver{}

	solved, err := captcha.Resolve(context.Background(), page, solver)
	require.NoError(t, err)
	assert.False(t, solved)
	assert.Empty(t, solver.calls)
}

func TestResolve_SolverFailure(t *testing.T) {
	page := browsertest.NewFakePage()
	page.Pages[""] = `<div class="cf-turnstile" data-sitekey="0x4AAAAAAABkMYinukE8nzY"></div>`
	solver := &stubSolver{err: errors.New("ERROR_ZERO_BALANCE")}

	solved, err := captcha.Resolve(context.Background(), page, solver)
	assert.Error(t, err)
	assert.False(t, solved)
	assert.Empty(t, page.Scripts)
}

func TestInjectToken_NoField(t *testing.T) {
	page := browsertest.NewFakePage()
	page.EvalResult = 0

	err := captcha.InjectToken(context.Background(), page, captcha.Challenge{Kind: captcha.Turnstile, SiteKey: "k"}, "tok")
	assert.Error(t, err)
}

func TestTwoCaptchaSolver_Disabled(t *testing.T) {
	cfg := config.Default()
	cfg.Captcha.Timeout = 10 * time.Second
	solver := captcha.NewTwoCaptchaSolver(cfg)

	_, err := solver.SolveRecaptcha(context.Background(), "key", "https://www.carrefour.fr")
	assert.Error(t, err)
	assert.False(t, solver.IsHealthy())
}
