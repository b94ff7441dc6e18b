package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"panierfacile-pricing/internal/logging/types"
)

// Session owns one browser process and its single page for the lifetime
// of one retailer scraper. It implements Page.
type Session struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	release  func()
	logger   types.Logger

	established bool
	closeOnce   sync.Once
}

var _ Page = (*Session)(nil)

// Established reports whether Establish already succeeded
func (s *Session) Established() bool {
	return s.established
}

// Establish runs the warm-up plan once; later calls are no-ops after a
// success. A failure leaves the session usable and retryable.
func (s *Session) Establish(ctx context.Context, plan SessionPlan) bool {
	if s.established {
		return true
	}
	s.established = Establish(ctx, s, plan, s.logger)
	return s.established
}

// Close releases the page, the browser and the process. Safe to call
// more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.page != nil {
			_ = rod.Try(func() { s.page.MustClose() })
		}
		if s.browser != nil {
			err = s.browser.Close()
		}
		if s.launcher != nil {
			s.launcher.Kill()
			s.launcher.Cleanup()
		}
		if s.release != nil {
			s.release()
		}
		s.logger.Debug("Browser session closed", nil)
	})
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	err := rod.Try(func() {
		s.page.Context(ctx).MustNavigate(url).MustWaitLoad()
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := s.page.Context(waitCtx).Element(selector); err != nil {
		return fmt.Errorf("selector %q not found within %s: %w", selector, timeout, err)
	}
	return nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("failed to get page HTML: %w", err)
	}
	return html, nil
}

func (s *Session) EvalJSON(ctx context.Context, js string, out interface{}) error {
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode script result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode script result: %w", err)
	}
	return nil
}

func (s *Session) TypeInto(ctx context.Context, selectors []string, text string) (bool, error) {
	page := s.page.Context(ctx)

	var field *rod.Element
	for _, selector := range selectors {
		found, el, err := page.Has(selector)
		if err != nil || !found {
			continue
		}
		if visible, _ := el.Visible(); visible {
			field = el
			break
		}
	}
	if field == nil {
		return false, nil
	}

	if err := field.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return true, fmt.Errorf("failed to focus search input: %w", err)
	}
	_ = field.SelectAllText()
	if err := s.Pause(ctx, 300*time.Millisecond, 700*time.Millisecond); err != nil {
		return true, err
	}

	for _, r := range text {
		if err := page.InsertText(string(r)); err != nil {
			return true, fmt.Errorf("failed to type into search input: %w", err)
		}
		if err := s.Pause(ctx, 50*time.Millisecond, 150*time.Millisecond); err != nil {
			return true, err
		}
	}

	if err := s.Pause(ctx, 300*time.Millisecond, 800*time.Millisecond); err != nil {
		return true, err
	}
	if err := page.Keyboard.Type(input.Enter); err != nil {
		return true, fmt.Errorf("failed to submit search: %w", err)
	}
	return true, nil
}

func (s *Session) ClickFirst(ctx context.Context, targets []Target) bool {
	page := s.page.Context(ctx)
	for _, target := range targets {
		var (
			found bool
			el    *rod.Element
			err   error
		)
		if target.Text != "" {
			found, el, err = page.HasR(target.Selector, target.Text)
		} else {
			found, el, err = page.Has(target.Selector)
		}
		if err != nil || !found {
			continue
		}
		if visible, _ := el.Visible(); !visible {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			s.logger.Debug("Click failed", map[string]interface{}{
				"selector": target.Selector,
				"error":    err.Error(),
			})
			continue
		}
		return true
	}
	return false
}

func (s *Session) ScrollTo(ctx context.Context, fraction float64) error {
	_, err := s.page.Context(ctx).Eval(`(f) => window.scrollTo(0, Math.floor(document.body.scrollHeight * f))`, fraction)
	return err
}

func (s *Session) Pause(ctx context.Context, min, max time.Duration) error {
	return Sleep(ctx, RandomDuration(min, max))
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (s *Session) URL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// OnJSONResponse records matching responses when they are received and
// fetches their bodies once loading finishes.
func (s *Session) OnJSONResponse(match func(url string) bool, handle func(Response)) func() {
	listenCtx, cancel := context.WithCancel(context.Background())
	page := s.page.Context(listenCtx)

	var mu sync.Mutex
	var inFlight sync.WaitGroup
	pending := map[proto.NetworkRequestID]Response{}

	wait := page.EachEvent(
		func(e *proto.NetworkResponseReceived) {
			if e.Response == nil || !match(e.Response.URL) {
				return
			}
			mu.Lock()
			pending[e.RequestID] = Response{
				URL:         e.Response.URL,
				Status:      e.Response.Status,
				ContentType: e.Response.MIMEType,
			}
			mu.Unlock()
		},
		func(e *proto.NetworkLoadingFinished) {
			mu.Lock()
			resp, ok := pending[e.RequestID]
			delete(pending, e.RequestID)
			mu.Unlock()
			if !ok {
				return
			}

			inFlight.Add(1)
			go func(id proto.NetworkRequestID, resp Response) {
				defer inFlight.Done()
				body, err := proto.NetworkGetResponseBody{RequestID: id}.Call(s.page)
				if err != nil {
					s.logger.Debug("Could not read intercepted response body", map[string]interface{}{
						"url":   resp.URL,
						"error": err.Error(),
					})
					return
				}
				resp.Body = decodeBody(body)
				handle(resp)
			}(e.RequestID, resp)
		},
	)

	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	return func() {
		cancel()
		<-done
		inFlight.Wait()
	}
}

func decodeBody(res *proto.NetworkGetResponseBodyResult) []byte {
	if !res.Base64Encoded {
		return []byte(res.Body)
	}
	data, err := base64.StdEncoding.DecodeString(res.Body)
	if err != nil {
		return nil
	}
	return data
}

// IsJSONContentType reports whether a MIME type denotes JSON
func IsJSONContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "json")
}
