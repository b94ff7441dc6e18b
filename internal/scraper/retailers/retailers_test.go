package retailers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panierfacile-pricing/internal/scraper/browser/browsertest"
	"panierfacile-pricing/internal/scraper/retailers"
)

func decode(t *testing.T, body string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func strategy(t *testing.T, name string) retailers.Strategy {
	t.Helper()
	ctor, ok := retailers.All()[name]
	require.True(t, ok, name)
	return ctor()
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"aldi", "auchan", "carrefour", "intermarche", "leclerc", "lidl"}, retailers.Names())
	for name, ctor := range retailers.All() {
		s := ctor()
		assert.Equal(t, name, s.Name())
		assert.True(t, strings.HasPrefix(s.BaseURL(), "https://"), name)
		assert.True(t, retailers.Known(name))
	}
	assert.False(t, retailers.Known("monoprix"))
}

func TestExtractFromAPIPayload_HitsWithNestedPrice(t *testing.T) {
	body := `{"hits": [{"name": "Lait demi-écrémé 1L", "price": {"value": 1.05}}]}`

	for _, name := range []string{"leclerc", "carrefour", "auchan", "intermarche"} {
		t.Run(name, func(t *testing.T) {
			products := strategy(t, name).ExtractFromAPIPayload(decode(t, body))
			require.Len(t, products, 1)
			assert.Equal(t, "Lait demi-écrémé 1L", products[0].ProductName)
			require.NotNil(t, products[0].Price)
			assert.InDelta(t, 1.05, *products[0].Price, 1e-9)
			assert.True(t, products[0].IsAvailable)
		})
	}
}

func TestExtractFromAPIPayload_Shapes(t *testing.T) {
	s := strategy(t, "carrefour")

	t.Run("attributes wrapper and availability object", func(t *testing.T) {
		products := strategy(t, "auchan").ExtractFromAPIPayload(decode(t, `{"data": [{"id": "1", "attributes": {
			"libelle": "Pâtes coquillettes 500g",
			"prix": {"amount": "0,95"},
			"availability": {"is_available": false},
			"images": [{"url": "https://cdn.auchan.fr/p.jpg"}],
			"marque": "Panzani",
			"url": "/p/pates-coquillettes"
		}}]}`))
		require.Len(t, products, 1)
		p := products[0]
		assert.Equal(t, "Pâtes coquillettes 500g", p.ProductName)
		require.NotNil(t, p.Price)
		assert.InDelta(t, 0.95, *p.Price, 1e-9)
		assert.False(t, p.IsAvailable)
		assert.Equal(t, "https://cdn.auchan.fr/p.jpg", p.ImageURL)
		assert.Equal(t, "Panzani", p.Brand)
		assert.Equal(t, "https://www.auchan.fr/p/pates-coquillettes", p.ProductURL)
	})

	t.Run("cent amounts under result.products", func(t *testing.T) {
		products := s.ExtractFromAPIPayload(decode(t, `{"result": {"products": [{"productName": "Eau minérale", "price": {"centAmount": 59}}]}}`))
		require.Len(t, products, 1)
		assert.InDelta(t, 0.59, *products[0].Price, 1e-9)
	})

	t.Run("top level array", func(t *testing.T) {
		products := s.ExtractFromAPIPayload(decode(t, `[{"title": "Beurre doux", "currentPrice": "2,49€", "brand": {"label": "Président"}}]`))
		require.Len(t, products, 1)
		assert.InDelta(t, 2.49, *products[0].Price, 1e-9)
		assert.Equal(t, "Président", products[0].Brand)
	})

	t.Run("lists under several containers accumulate", func(t *testing.T) {
		products := s.ExtractFromAPIPayload(decode(t, `{
			"products": [{"name": "A", "price": 1}],
			"items": [{"name": "B", "price": 2}]
		}`))
		assert.Len(t, products, 2)
	})

	t.Run("malformed items are skipped", func(t *testing.T) {
		products := s.ExtractFromAPIPayload(decode(t, `{"hits": ["x", 3, {"price": 1.2}, {"name": "Riz basmati"}]}`))
		require.Len(t, products, 1)
		assert.Equal(t, "Riz basmati", products[0].ProductName)
		assert.Nil(t, products[0].Price)
		assert.True(t, products[0].IsAvailable)
	})

	t.Run("unknown shapes", func(t *testing.T) {
		for _, body := range []string{`"hello"`, `null`, `{"foo": 1}`, `{"products": {"name": "x"}}`, `42`} {
			assert.Empty(t, s.ExtractFromAPIPayload(decode(t, body)), body)
		}
	})

	t.Run("capped at ten", func(t *testing.T) {
		var items []string
		for i := 0; i < 15; i++ {
			items = append(items, fmt.Sprintf(`{"name": "Produit %d", "price": %d}`, i, i+1))
		}
		products := s.ExtractFromAPIPayload(decode(t, `{"hits": [`+strings.Join(items, ",")+`]}`))
		assert.Len(t, products, retailers.MaxResults)
	})
}

func TestLeclerc_DeepPriceAndSlug(t *testing.T) {
	s := strategy(t, "leclerc")

	products := s.ExtractFromAPIPayload(decode(t, `{"products": [{
		"name": "Tomates cerises 250g",
		"slug": "tomates-cerises-250g",
		"brand": {"name": "Marque Repère"},
		"variants": [{
			"image": "https://cdn.e.leclerc/tomates.webp",
			"offers": [{"price": {"value": 2.35}}]
		}]
	}]}`))
	require.Len(t, products, 1)
	p := products[0]
	require.NotNil(t, p.Price)
	assert.InDelta(t, 2.35, *p.Price, 1e-9)
	assert.Equal(t, "https://www.e.leclerc/fp/tomates-cerises-250g", p.ProductURL)
	assert.Equal(t, "https://cdn.e.leclerc/tomates.webp", p.ImageURL)
	assert.Equal(t, "Marque Repère", p.Brand)

	t.Run("implausible values are ignored", func(t *testing.T) {
		products := s.ExtractFromAPIPayload(decode(t, `{"products": [{"name": "Sel", "variants": [{"offers": [{"price": 0}, {"price": 99999}]}]}]}`))
		require.Len(t, products, 1)
		assert.Nil(t, products[0].Price)
	})

	t.Run("grouped results", func(t *testing.T) {
		products := s.ExtractFromAPIPayload(decode(t, `{"results": [{"index": "products", "hits": [{"title": "Beurre", "price": 2.1}]}]}`))
		require.Len(t, products, 1)
		assert.InDelta(t, 2.1, *products[0].Price, 1e-9)
	})
}

func TestAPIPatterns(t *testing.T) {
	matches := func(s retailers.Strategy, url string) bool {
		for _, p := range s.APIPatterns() {
			if p.MatchString(url) {
				return true
			}
		}
		return false
	}

	assert.True(t, matches(strategy(t, "leclerc"), "https://www.e.leclerc/api/rest/live-api/product-search?text=lait"))
	assert.True(t, matches(strategy(t, "carrefour"), "https://www.carrefour.fr/api/v2/search?q=lait"))
	assert.True(t, matches(strategy(t, "auchan"), "https://xyz-dsn.ALGOLIA.net/1/indexes/*/queries"))
	assert.False(t, matches(strategy(t, "carrefour"), "https://www.carrefour.fr/static/app.js"))
	assert.Empty(t, strategy(t, "lidl").APIPatterns())
	assert.Empty(t, strategy(t, "aldi").APIPatterns())
}

const aldiResults = `<html><body>
<div class="product-tile">
  <a class="product-tile__action" href="/fiches-produits/lait-demi-ecreme-1l">
    <img class="product-tile__image-section__picture" src="https://www.aldi.fr/img/lait.jpg">
    <p class="product-tile__content__upper__brand-name">MILSANI</p>
    <h2 class="product-tile__content__upper__product-name"> Lait demi-écrémé
      1L </h2>
    <span class="tag__label--price">1.05</span>
  </a>
</div>
<div class="product-tile">
  <h2 class="product-tile__content__upper__product-name"></h2>
</div>
<div class="product-tile">
  <h2 class="product-tile__content__upper__product-name">Lait entier</h2>
</div>
</body></html>`

func TestAldi_SearchAndDOM(t *testing.T) {
	ctx := context.Background()
	s := strategy(t, "aldi")
	page := browsertest.NewFakePage()
	searchURL := "https://www.aldi.fr/recherche.html?query=lait+demi"
	page.Pages[searchURL] = aldiResults

	require.NoError(t, s.PerformSearch(ctx, page, "lait demi"))
	assert.Equal(t, []string{searchURL}, page.Visited)

	products := s.ExtractFromDOM(ctx, page)
	require.Len(t, products, 2)

	first := products[0]
	assert.Equal(t, "Lait demi-écrémé 1L", first.ProductName)
	require.NotNil(t, first.Price)
	assert.InDelta(t, 1.05, *first.Price, 1e-9)
	assert.Equal(t, "https://www.aldi.fr/fiches-produits/lait-demi-ecreme-1l", first.ProductURL)
	assert.Equal(t, "https://www.aldi.fr/img/lait.jpg", first.ImageURL)
	assert.Equal(t, "MILSANI", first.Brand)

	assert.Equal(t, "Lait entier", products[1].ProductName)
	assert.Nil(t, products[1].Price)
}

func TestSearch_NavigationErrorPropagates(t *testing.T) {
	page := browsertest.NewFakePage()
	page.NavigateErr["https://www.aldi.fr/recherche.html?query=lait"] = errors.New("net::ERR_TIMED_OUT")

	err := strategy(t, "aldi").PerformSearch(context.Background(), page, "lait")
	assert.Error(t, err)
}

func TestSearch_DeferredCookieConsent(t *testing.T) {
	page := browsertest.NewFakePage()
	page.Clickable["#didomi-notice-agree-button"] = true

	require.NoError(t, strategy(t, "intermarche").PerformSearch(context.Background(), page, "pâtes"))
	assert.Equal(t, []string{"#didomi-notice-agree-button"}, page.Clicked)
	assert.Equal(t, []string{"https://www.intermarche.com/drive/recherche?search=p%C3%A2tes"}, page.Visited)
}

func TestIntermarche_UnavailableAndTextPrice(t *testing.T) {
	page := browsertest.NewFakePage()
	page.Pages[""] = `<html><body>
		<div class="product-item">
			<a href="/drive/produit/123"><span class="product-title">Pâtes torsades</span></a>
			<span class="product-price">0,89 €</span>
			<span class="out-of-stock">Rupture</span>
		</div>
		<div class="product-item">
			<span class="product-title">Riz long</span>
			<div>Prix au kilo 1,59 €</div>
		</div>
	</body></html>`

	products := strategy(t, "intermarche").ExtractFromDOM(context.Background(), page)
	require.Len(t, products, 2)
	assert.False(t, products[0].IsAvailable)
	assert.Equal(t, "https://www.intermarche.com/drive/produit/123", products[0].ProductURL)
	assert.InDelta(t, 0.89, *products[0].Price, 1e-9)
	assert.True(t, products[1].IsAvailable)
	assert.InDelta(t, 1.59, *products[1].Price, 1e-9)
}

func TestDOM_CappedAtTen(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, `<div class="product-tile"><h2 class="product-tile__content__upper__product-name">Produit %d</h2><span class="tag__label--price">%d,50</span></div>`, i, i)
	}
	b.WriteString("</body></html>")

	page := browsertest.NewFakePage()
	page.Pages[""] = b.String()

	products := strategy(t, "aldi").ExtractFromDOM(context.Background(), page)
	assert.Len(t, products, retailers.MaxResults)
	assert.Equal(t, "Produit 0", products[0].ProductName)
}

const leclercResults = `<html><body><div class="results">
<article class="product-card">
  <a href="/fp/lait-demi-ecreme-1l"><img src="https://cdn.e.leclerc/lait.jpg"></a>
  <h3 class="product-name">Lait demi-écrémé 1L</h3>
  <div class="price-box"><span>1,05 €</span></div>
  <a href="/fp/lait-demi-ecreme-1l">Voir le produit</a>
</article>
<article class="product-card">
  <a href="/fp/yaourt-nature"><h3>Yaourt nature x4</h3></a>
  <span class="product-price">2,10 €</span>
</article>
</div></body></html>`

func TestLeclerc_DOMFallsBackToHTML(t *testing.T) {
	page := browsertest.NewFakePage()
	page.Pages[""] = leclercResults

	products := strategy(t, "leclerc").ExtractFromDOM(context.Background(), page)
	require.Len(t, products, 2)
	assert.Equal(t, "Lait demi-écrémé 1L", products[0].ProductName)
	assert.InDelta(t, 1.05, *products[0].Price, 1e-9)
	assert.Equal(t, "https://www.e.leclerc/fp/lait-demi-ecreme-1l", products[0].ProductURL)
	assert.Equal(t, "https://cdn.e.leclerc/lait.jpg", products[0].ImageURL)
	assert.Equal(t, "Yaourt nature x4", products[1].ProductName)
	assert.InDelta(t, 2.10, *products[1].Price, 1e-9)

	// both in-page schemas were tried first and returned nothing
	assert.Len(t, page.Scripts, 2)
}

func TestLeclerc_DOMAfterScriptError(t *testing.T) {
	page := browsertest.NewFakePage()
	page.Pages[""] = leclercResults
	page.EvalErr = errors.New("execution context was destroyed")

	products := strategy(t, "leclerc").ExtractFromDOM(context.Background(), page)
	assert.Len(t, products, 2)
	assert.Len(t, page.Scripts, 1)
}

func TestLidl_LiveExtraction(t *testing.T) {
	page := browsertest.NewFakePage()
	page.EvalResult = []map[string]interface{}{
		{
			"name":      "  Beurre doux   250g ",
			"price":     "2,49 €",
			"url":       "/p/beurre-doux/p10012345",
			"image":     "https://www.lidl.fr/img/beurre-1x.jpg 1x, https://www.lidl.fr/img/beurre-2x.jpg 2x",
			"brand":     "Milbona",
			"available": true,
		},
		{"name": "", "price": "1,00"},
	}

	products := strategy(t, "lidl").ExtractFromDOM(context.Background(), page)
	require.Len(t, products, 1)
	p := products[0]
	assert.Equal(t, "Beurre doux 250g", p.ProductName)
	assert.InDelta(t, 2.49, *p.Price, 1e-9)
	assert.Equal(t, "https://www.lidl.fr/p/beurre-doux/p10012345", p.ProductURL)
	assert.Equal(t, "https://www.lidl.fr/img/beurre-1x.jpg", p.ImageURL)
	assert.Equal(t, "Milbona", p.Brand)

	require.Len(t, page.Scripts, 1)
	assert.Contains(t, page.Scripts[0], `"limit":10`)
	assert.NotContains(t, page.Scripts[0], "__SCHEMA__")
}

func TestCarrefour_TypedSearch(t *testing.T) {
	page := browsertest.NewFakePage()
	page.SearchInputs[`input[type="search"]`] = true
	page.TypedURL = "https://www.carrefour.fr/s?q="

	require.NoError(t, strategy(t, "carrefour").PerformSearch(context.Background(), page, "tomates cerises"))
	assert.Equal(t, []string{"tomates cerises"}, page.Typed)
	assert.Equal(t, []string{"https://www.carrefour.fr/s?q=tomates cerises"}, page.Visited)
}

func TestCarrefour_FallsBackToSearchURL(t *testing.T) {
	page := browsertest.NewFakePage()

	require.NoError(t, strategy(t, "carrefour").PerformSearch(context.Background(), page, "tomates cerises"))
	assert.Empty(t, page.Typed)
	assert.Equal(t, []string{"https://www.carrefour.fr/s?q=tomates+cerises"}, page.Visited)
}

func TestCarrefour_DOM(t *testing.T) {
	page := browsertest.NewFakePage()
	page.Pages[""] = `<html><body>
		<article class="product-list-card-plp-grid-new">
			<a class="product-list-card-plp-grid-new__title-container" href="/p/tomates-cerises-3276550123456">
				<h3 class="product-card-title__text">Tomates cerises barquette 250g</h3>
			</a>
			<a class="c-link--tone-accent" href="/marques/carrefour">CARREFOUR</a>
			<div data-testid="product-price__amount--main"><p>2</p><p>,</p><p>35</p><p>€</p></div>
			<img class="product-card-image-new__content" data-src="https://static.carrefour.fr/t.jpg">
		</article>
	</body></html>`

	products := strategy(t, "carrefour").ExtractFromDOM(context.Background(), page)
	require.Len(t, products, 1)
	p := products[0]
	assert.Equal(t, "Tomates cerises barquette 250g", p.ProductName)
	require.NotNil(t, p.Price)
	assert.InDelta(t, 2.35, *p.Price, 1e-9)
	assert.Equal(t, "https://www.carrefour.fr/p/tomates-cerises-3276550123456", p.ProductURL)
	assert.Equal(t, "https://static.carrefour.fr/t.jpg", p.ImageURL)
	assert.Equal(t, "CARREFOUR", p.Brand)
}

func TestSessionPlans(t *testing.T) {
	for _, name := range []string{"leclerc", "lidl", "aldi", "auchan", "intermarche"} {
		assert.True(t, strategy(t, name).SessionPlan().SkipHomepage, name)
	}
	plan := strategy(t, "carrefour").SessionPlan()
	assert.False(t, plan.SkipHomepage)
	assert.Equal(t, "https://www.carrefour.fr", plan.LandingURL)
	assert.NotEmpty(t, plan.CookieTargets)
}

func TestExtractsImmediately(t *testing.T) {
	assert.True(t, retailers.ExtractsImmediately(strategy(t, "leclerc")))
	for _, name := range []string{"aldi", "auchan", "carrefour", "intermarche", "lidl"} {
		assert.False(t, retailers.ExtractsImmediately(strategy(t, name)), name)
	}
}

func TestAsString(t *testing.T) {
	assert.Equal(t, "Lait demi-écrémé 1L", retailers.AsString("  Lait   demi-écrémé\n1L "))
	assert.Equal(t, "3250390000167", retailers.AsString(float64(3250390000167)))
	assert.Equal(t, "12.5", retailers.AsString(12.5))
	assert.Equal(t, "3228020000251", retailers.AsString(json.Number("3228020000251")))
	assert.Nil(t, retailers.AsString("   "))
	assert.Nil(t, retailers.AsString(true))
	assert.Nil(t, retailers.AsString(nil))
}
