package retailers

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"panierfacile-pricing/internal/scraper/browser"
	"panierfacile-pricing/internal/scraper/price"
	"panierfacile-pricing/pkg/models"
)

// MaxResults caps the number of products one search returns
const MaxResults = 10

// CardSchema describes where product cards and their fields live in a
// rendered results page. Each field lists selectors in priority order;
// the first one yielding a non-empty value wins.
type CardSchema struct {
	// Cards are card selectors; the first selector with any match wins
	Cards []string `json:"cards"`
	// Anchor, when set, replaces Cards: every matching link becomes a
	// card, widened to its closest Container ancestor
	Anchor    string `json:"anchor"`
	Container string `json:"container"`

	Name        []string `json:"name"`
	Price       []string `json:"price"`
	Link        []string `json:"link"`
	Image       []string `json:"image"`
	Brand       []string `json:"brand"`
	Unavailable []string `json:"unavailable"`
	// PriceFromText falls back to the first "1,99 €" pattern in the
	// card text when no price selector matches
	PriceFromText bool `json:"price_from_text"`
	Limit         int  `json:"limit"`
}

var cardPricePattern = regexp.MustCompile(`(\d+[,.]\d{2})\s*€`)

func (s CardSchema) limit() int {
	if s.Limit <= 0 || s.Limit > MaxResults {
		return MaxResults
	}
	return s.Limit
}

type card struct {
	node   *goquery.Selection
	anchor *goquery.Selection
}

// ExtractHTML parses a rendered page and extracts at most Limit cards
func (s CardSchema) ExtractHTML(markup, baseURL string) []models.ProductRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}

	var out []models.ProductRecord
	for _, c := range s.cards(doc) {
		if rec, ok := s.extractCard(c, baseURL); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (s CardSchema) cards(doc *goquery.Document) []card {
	var cards []card
	if s.Anchor != "" {
		seen := map[*html.Node]bool{}
		doc.Find(s.Anchor).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			node := a
			if s.Container != "" {
				if closest := a.Closest(s.Container); closest.Length() > 0 {
					node = closest
				}
			}
			key := node.Get(0)
			if seen[key] {
				return true
			}
			seen[key] = true
			cards = append(cards, card{node: node, anchor: a})
			return len(cards) < s.limit()
		})
		return cards
	}

	for _, selector := range s.Cards {
		found := doc.Find(selector)
		if found.Length() == 0 {
			continue
		}
		found.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			cards = append(cards, card{node: sel})
			return len(cards) < s.limit()
		})
		break
	}
	return cards
}

func (s CardSchema) extractCard(c card, baseURL string) (models.ProductRecord, bool) {
	rec := models.ProductRecord{IsAvailable: true}

	rec.ProductName = firstText(c.node, s.Name)
	if rec.ProductName == "" && c.anchor != nil {
		rec.ProductName = cleanText(c.anchor.AttrOr("title", c.anchor.Text()))
	}
	if rec.ProductName == "" {
		return rec, false
	}

	if raw := firstText(c.node, s.Price); raw != "" {
		rec.Price = price.Parse(raw)
	}
	if rec.Price == nil {
		if raw := firstAttr(c.node, s.Price, "content"); raw != "" {
			rec.Price = price.Parse(raw)
		}
	}
	if rec.Price == nil && s.PriceFromText {
		if m := cardPricePattern.FindStringSubmatch(cleanText(c.node.Text())); m != nil {
			rec.Price = price.Parse(m[1])
		}
	}

	var link string
	switch {
	case c.anchor != nil:
		link = c.anchor.AttrOr("href", "")
	default:
		link = firstAttr(c.node, s.Link, "href")
		if link == "" && goquery.NodeName(c.node) == "a" {
			link = c.node.AttrOr("href", "")
		}
	}
	rec.ProductURL = absoluteURL(baseURL, link)

	rec.ImageURL = absoluteURL(baseURL, firstSrcset(firstAttr(c.node, s.Image, "src", "data-src", "srcset")))
	rec.Brand = firstText(c.node, s.Brand)

	for _, selector := range s.Unavailable {
		if c.node.Find(selector).Length() > 0 {
			rec.IsAvailable = false
			break
		}
	}
	return rec, true
}

// matchSelf returns the first element matching selector, considering the
// card itself before its descendants
func matchSelf(root *goquery.Selection, selector string) *goquery.Selection {
	if root.Is(selector) {
		return root
	}
	return root.Find(selector).First()
}

func firstText(root *goquery.Selection, selectors []string) string {
	for _, selector := range selectors {
		if t := cleanText(root.Find(selector).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func firstAttr(root *goquery.Selection, selectors []string, attrs ...string) string {
	for _, selector := range selectors {
		el := matchSelf(root, selector)
		if el.Length() == 0 {
			continue
		}
		for _, attr := range attrs {
			if v := strings.TrimSpace(el.AttrOr(attr, "")); v != "" {
				return v
			}
		}
	}
	return ""
}

func firstSrcset(v string) string {
	if fields := strings.Fields(v); len(fields) > 0 {
		return strings.TrimSuffix(fields[0], ",")
	}
	return ""
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// domScript performs the CardSchema cascade inside the page. It is used
// for sites that render results client-side, where the serialized HTML
// may lag behind the live DOM.
const domScript = `() => {
	const s = __SCHEMA__;
	const clean = (t) => (t || '').replace(/\s+/g, ' ').trim();
	const pick = (root, sel) => (root.matches && root.matches(sel)) ? root : root.querySelector(sel);
	const firstText = (root, sels) => {
		for (const sel of sels || []) {
			const el = root.querySelector(sel);
			const t = el ? clean(el.innerText || el.textContent) : '';
			if (t) return t;
		}
		return '';
	};
	const firstAttr = (root, sels, attrs) => {
		for (const sel of sels || []) {
			const el = pick(root, sel);
			if (!el) continue;
			for (const a of attrs) {
				const v = el.getAttribute(a);
				if (v) return v.trim();
			}
		}
		return '';
	};

	let cards = [];
	if (s.anchor) {
		const seen = new Set();
		for (const a of document.querySelectorAll(s.anchor)) {
			const node = (s.container && a.closest(s.container)) || a;
			if (seen.has(node)) continue;
			seen.add(node);
			cards.push({ node, anchor: a });
			if (cards.length >= s.limit) break;
		}
	} else {
		for (const sel of s.cards || []) {
			const found = document.querySelectorAll(sel);
			if (found.length) {
				cards = Array.from(found).slice(0, s.limit).map((node) => ({ node, anchor: null }));
				break;
			}
		}
	}

	const out = [];
	for (const { node, anchor } of cards) {
		let name = firstText(node, s.name);
		if (!name && anchor) name = clean(anchor.getAttribute('title') || anchor.innerText);
		if (!name) continue;

		let price = firstText(node, s.price) || firstAttr(node, s.price, ['content']);
		if (!price && s.price_from_text) {
			const m = clean(node.innerText).match(/(\d+[,.]\d{2})\s*€/);
			if (m) price = m[1];
		}

		let url = anchor ? anchor.getAttribute('href') : firstAttr(node, s.link, ['href']);
		if (!url && node.tagName === 'A') url = node.getAttribute('href');

		out.push({
			name,
			price,
			url: url || '',
			image: firstAttr(node, s.image, ['src', 'data-src', 'srcset']),
			brand: firstText(node, s.brand),
			available: !(s.unavailable || []).some((sel) => node.querySelector(sel)),
		});
	}
	return out;
}`

// scriptCard is the shape domScript returns
type scriptCard struct {
	Name      string `json:"name"`
	Price     string `json:"price"`
	URL       string `json:"url"`
	Image     string `json:"image"`
	Brand     string `json:"brand"`
	Available bool   `json:"available"`
}

// Script renders the in-page version of the schema
func (s CardSchema) Script() string {
	s.Limit = s.limit()
	encoded, err := json.Marshal(s)
	if err != nil {
		encoded = []byte("{}")
	}
	return strings.Replace(domScript, "__SCHEMA__", string(encoded), 1)
}

// ExtractLive runs the schema inside the page
func (s CardSchema) ExtractLive(ctx context.Context, page browser.Page, baseURL string) ([]models.ProductRecord, error) {
	var cards []scriptCard
	if err := page.EvalJSON(ctx, s.Script(), &cards); err != nil {
		return nil, err
	}

	out := make([]models.ProductRecord, 0, len(cards))
	for _, c := range cards {
		name := cleanText(c.Name)
		if name == "" {
			continue
		}
		out = append(out, models.ProductRecord{
			ProductName: name,
			Price:       price.Parse(c.Price),
			ProductURL:  absoluteURL(baseURL, c.URL),
			ImageURL:    absoluteURL(baseURL, firstSrcset(c.Image)),
			Brand:       cleanText(c.Brand),
			IsAvailable: c.Available,
		})
		if len(out) == MaxResults {
			break
		}
	}
	return out, nil
}
