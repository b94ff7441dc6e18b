// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"panierfacile-pricing/internal/scraper/browser"
)

// FakePage serves canned HTML per URL and replays canned network
// responses to attached listeners when the matching URL is loaded.
type FakePage struct {
	mu sync.Mutex

	// Pages maps a URL to the HTML served after navigating to it
	Pages map[string]string
	// Responses maps a URL to the network traffic its load produces
	Responses map[string][]browser.Response
	// NavigateErr fails navigation to the given URLs
	NavigateErr map[string]error
	// SearchInputs are the selectors TypeInto can find; a successful
	// typed search loads TypedURL + url-encoded text
	SearchInputs map[string]bool
	TypedURL     string
	// Clickable holds "selector" or "selector|text" keys ClickFirst hits
	Clickable map[string]bool
	// EvalResult is returned by EvalJSON unless EvalErr is set
	EvalResult interface{}
	EvalErr    error
	Image      []byte

	current   string
	listeners []listener
	nextID    int

	Visited  []string
	Typed    []string
	Clicked  []string
	Scrolls  []float64
	Pauses   int
	Scripts  []string
	Captures int
}

type listener struct {
	id     int
	match  func(string) bool
	handle func(browser.Response)
}

var _ browser.Page = (*FakePage)(nil)

// NewFakePage creates an empty fake page
func NewFakePage() *FakePage {
	return &FakePage{
		Pages:        map[string]string{},
		Responses:    map[string][]browser.Response{},
		NavigateErr:  map[string]error{},
		SearchInputs: map[string]bool{},
		Clickable:    map[string]bool{},
	}
}

func (f *FakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.Visited = append(f.Visited, url)
	err := f.NavigateErr[url]
	if err == nil {
		f.current = url
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.replay(url)
	return nil
}

func (f *FakePage) replay(url string) {
	f.mu.Lock()
	responses := f.Responses[url]
	listeners := append([]listener(nil), f.listeners...)
	f.mu.Unlock()

	for _, resp := range responses {
		for _, l := range listeners {
			if l.match(resp.URL) {
				l.handle(resp)
			}
		}
	}
}

func (f *FakePage) document() (*goquery.Document, error) {
	f.mu.Lock()
	html := f.Pages[f.current]
	f.mu.Unlock()
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (f *FakePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := f.document()
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("selector %q not found within %s", selector, timeout)
	}
	return nil
}

func (f *FakePage) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Pages[f.current], nil
}

func (f *FakePage) EvalJSON(ctx context.Context, js string, out interface{}) error {
	f.mu.Lock()
	f.Scripts = append(f.Scripts, js)
	result, evalErr := f.EvalResult, f.EvalErr
	f.mu.Unlock()

	if evalErr != nil {
		return evalErr
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *FakePage) TypeInto(ctx context.Context, selectors []string, text string) (bool, error) {
	f.mu.Lock()
	found := false
	for _, s := range selectors {
		if f.SearchInputs[s] {
			found = true
			break
		}
	}
	if found {
		f.Typed = append(f.Typed, text)
	}
	typedURL := f.TypedURL
	f.mu.Unlock()

	if !found {
		return false, nil
	}
	if typedURL != "" {
		return true, f.Navigate(ctx, typedURL+text)
	}
	return true, nil
}

func (f *FakePage) ClickFirst(ctx context.Context, targets []browser.Target) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range targets {
		key := t.Selector
		if t.Text != "" {
			key += "|" + t.Text
		}
		if f.Clickable[key] {
			f.Clicked = append(f.Clicked, key)
			return true
		}
	}
	return false
}

func (f *FakePage) ScrollTo(ctx context.Context, fraction float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Scrolls = append(f.Scrolls, fraction)
	return nil
}

func (f *FakePage) Pause(ctx context.Context, min, max time.Duration) error {
	f.mu.Lock()
	f.Pauses++
	f.mu.Unlock()
	return ctx.Err()
}

func (f *FakePage) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Captures++
	if f.Image == nil {
		return []byte("\x89PNG"), nil
	}
	return f.Image, nil
}

func (f *FakePage) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FakePage) OnJSONResponse(match func(string) bool, handle func(browser.Response)) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners = append(f.listeners, listener{id: id, match: match, handle: handle})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, l := range f.listeners {
			if l.id == id {
				f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
				return
			}
		}
	}
}

// Listeners returns the number of attached response listeners
func (f *FakePage) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// JSONResponse builds a 200 application/json response for url
func JSONResponse(url, body string) browser.Response {
	return browser.Response{
		URL:         url,
		Status:      200,
		ContentType: "application/json",
		Body:        []byte(body),
	}
}
