package matcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panierfacile-pricing/internal/cache"
	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/scraper"
	"panierfacile-pricing/internal/store"
	"panierfacile-pricing/pkg/models"
)

type fakeSearcher struct {
	mu       sync.Mutex
	products map[string][]models.ProductRecord
	err      error
	queries  []string
	opened   []string
	closed   int
}

func (f *fakeSearcher) Search(ctx context.Context, retailer, query string) (scraper.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, retailer+":"+query)
	if f.err != nil {
		return scraper.SearchResult{}, f.err
	}
	products := f.products[query]
	outcome := scraper.OutcomeSuccess
	if len(products) == 0 {
		outcome = scraper.OutcomeEmpty
	}
	return scraper.SearchResult{Retailer: retailer, Query: query, Outcome: outcome, Products: products}, nil
}

// fakeSession runs searches on its searcher for one retailer
type fakeSession struct {
	searcher *fakeSearcher
	retailer string
}

func (s *fakeSession) Search(ctx context.Context, query string) (scraper.SearchResult, error) {
	return s.searcher.Search(ctx, s.retailer, query)
}

func (s *fakeSession) Close() error {
	s.searcher.mu.Lock()
	defer s.searcher.mu.Unlock()
	s.searcher.closed++
	return nil
}

func (f *fakeSearcher) Session(retailer string) (scraper.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, retailer)
	return &fakeSession{searcher: f, retailer: retailer}, nil
}

func (f *fakeSearcher) Available() []string {
	return []string{"aldi", "auchan", "carrefour", "intermarche", "leclerc", "lidl"}
}

func (f *fakeSearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fixture struct {
	matcher  *Matcher
	store    *store.Store
	cache    *cache.MemoryCache
	searcher *fakeSearcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenWith(store.DriverSQLite, filepath.Join(t.TempDir(), "match.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c := cache.NewMemoryCache(0)
	t.Cleanup(func() { c.Close() })

	searcher := &fakeSearcher{products: map[string][]models.ProductRecord{}}
	return &fixture{
		matcher:  New(config.Default(), st, c, searcher),
		store:    st,
		cache:    c,
		searcher: searcher,
	}
}

func (f *fixture) ingredient(t *testing.T, name string, qty float64) models.Ingredient {
	t.Helper()
	ing, err := f.store.GetOrCreateIngredient(context.Background(), name, qty, "")
	require.NoError(t, err)
	return *ing
}

func record(name string, price float64) models.ProductRecord {
	return models.ProductRecord{ProductName: name, Price: &price, ProductURL: "https://www.e.leclerc/fp/" + strconv.Itoa(int(price*100)), IsAvailable: true}
}

func TestNormalizeKeyword(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"500g de tomates cerises", "tomates cerises"},
		{"2 unités d'oeufs frais", "oeufs frais"},
		{"1,5 kg de pommes de terre", "pommes terre"},
		{"1 L du lait demi-écrémé", "lait demi-écrémé"},
		{"Une pincée de sel", "pincée sel"},
		{"3 pièces de l’avocat", "avocat"},
		{"2 lardons fumés", "2 lardons fumés"},
		{"Beurre doux", "Beurre doux"},
		{"de la", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKeyword(tt.in))
		})
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name       string
		ingredient string
		product    string
		want       float64
	}{
		{"verbatim phrase is capped", "tomates cerises", "Tomates cerises 250g", 1.0},
		{"half the words", "tomates cerises", "Tomates grappe", 0.5},
		{"accents are folded", "creme fraiche", "Crème fraîche épaisse", 1.0},
		{"long product names are penalised", "lait", "Lait demi-écrémé UHT bouteille 1L Lactel", 0.96},
		{"no overlap", "riz", "Pâtes coquillettes", 0},
		{"empty ingredient", "", "Lait", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.ingredient, tt.product)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestRankCandidates(t *testing.T) {
	ranked := RankCandidates("tomates cerises", []models.ProductRecord{
		{ProductName: "Sauce tomate"},
		{ProductName: "Tomates cerises bio"},
		{ProductName: "Cerises"},
		{ProductName: "Tomates"},
	})
	require.Len(t, ranked, 4)
	assert.Equal(t, "Tomates cerises bio", ranked[0].Product.ProductName)
	assert.Equal(t, "Cerises", ranked[1].Product.ProductName)
	assert.Equal(t, "Tomates", ranked[2].Product.ProductName)
	assert.Equal(t, "Sauce tomate", ranked[3].Product.ProductName)
}

func TestMatch_LiveSearchThenCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ing := f.ingredient(t, "500g de tomates cerises", 1)
	f.searcher.products["tomates cerises"] = []models.ProductRecord{
		record("Tomates cerises 250g", 1.99),
		record("Tomates cerises allongées", 2.49),
	}

	match, err := f.matcher.Match(ctx, &ing, "Leclerc", DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "Tomates cerises 250g", match.ProductName)
	assert.Equal(t, 1.0, match.MatchScore)
	assert.Equal(t, "leclerc", match.Retailer)
	assert.Equal(t, config.StoreContextScraping, match.StoreID)
	assert.Equal(t, []string{"leclerc:tomates cerises"}, f.searcher.queries)

	val, ok, err := f.cache.Get(ctx, "leclerc_match_scraping_"+strconv.FormatInt(ing.ID, 10))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, strconv.FormatInt(match.ID, 10), val)

	again, err := f.matcher.Match(ctx, &ing, "leclerc", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, match.ID, again.ID)
	assert.Equal(t, 1, f.searcher.calls())
}

func TestMatch_StoreTierRespectsFreshness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ing := f.ingredient(t, "beurre doux", 1)

	stored, err := f.store.UpsertMatch(ctx, models.MatchFromRecord(ing.ID, "lidl", config.StoreContextScraping, record("Beurre doux Milsani", 1.89), 0.8))
	require.NoError(t, err)

	f.matcher.now = func() time.Time { return stored.LastUpdated.Add(6 * 24 * time.Hour) }
	match, err := f.matcher.Match(ctx, &ing, "lidl", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, stored.ID, match.ID)
	assert.Equal(t, 0, f.searcher.calls())

	require.NoError(t, f.cache.Reset(ctx))
	f.matcher.now = func() time.Time { return stored.LastUpdated.Add(8 * 24 * time.Hour) }
	f.searcher.products["beurre doux"] = []models.ProductRecord{record("Beurre doux 250g", 2.05)}

	match, err = f.matcher.Match(ctx, &ing, "lidl", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, stored.ID, match.ID)
	assert.Equal(t, "Beurre doux 250g", match.ProductName)
	assert.Equal(t, 1, f.searcher.calls())
}

func TestMatch_DanglingCacheEntryIsEvicted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ing := f.ingredient(t, "riz basmati", 1)
	key := CacheKey("aldi", config.StoreContextScraping, ing.ID)
	require.NoError(t, f.cache.Set(ctx, key, "9999", time.Hour))

	match, err := f.matcher.Match(ctx, &ing, "aldi", DefaultOptions())
	require.NoError(t, err)
	assert.Nil(t, match)

	_, ok, _ := f.cache.Get(ctx, key)
	assert.False(t, ok)
}

func TestMatch_NoProductsIsNotAnError(t *testing.T) {
	f := newFixture(t)
	ing := f.ingredient(t, "fruit du dragon", 1)

	match, err := f.matcher.Match(context.Background(), &ing, "auchan", DefaultOptions())
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestMatch_SearchFailureIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.searcher.err = errors.New("failed to launch browser for auchan: exec: chromium not found")
	ing := f.ingredient(t, "lait", 1)

	match, err := f.matcher.Match(context.Background(), &ing, "auchan", DefaultOptions())
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestMatch_UnknownRetailer(t *testing.T) {
	f := newFixture(t)
	ing := f.ingredient(t, "lait", 1)

	_, err := f.matcher.Match(context.Background(), &ing, "monoprix", DefaultOptions())
	require.Error(t, err)
	assert.True(t, scraper.IsUnknownRetailer(err))
	assert.Equal(t, 0, f.searcher.calls())
}

func TestMatchBatch_HitRate(t *testing.T) {
	f := newFixture(t)
	var ingredients []models.Ingredient
	for _, name := range []string{"lait", "beurre", "farine", "safran", "truffe"} {
		ingredients = append(ingredients, f.ingredient(t, name, 1))
	}
	f.searcher.products["lait"] = []models.ProductRecord{record("Lait", 0.99)}
	f.searcher.products["beurre"] = []models.ProductRecord{record("Beurre", 2.1)}
	f.searcher.products["farine"] = []models.ProductRecord{record("Farine T45", 0.85)}

	var progress []int
	result, err := f.matcher.MatchBatch(context.Background(), ingredients, "intermarche", DefaultOptions(), func(done, total int, _ string) {
		progress = append(progress, done)
		assert.Equal(t, 5, total)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Matched)
	assert.Equal(t, 5, result.Total)
	assert.InDelta(t, 0.6, result.HitRate(), 1e-9)
	assert.Len(t, result.Matches, 5)
	assert.Nil(t, result.Matches[ingredients[3].ID])
	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress)
}

func TestMatchBatch_OneScraperSessionPerBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ingredients []models.Ingredient
	for _, name := range []string{"lait", "beurre", "farine", "safran"} {
		ingredients = append(ingredients, f.ingredient(t, name, 1))
	}
	for _, name := range []string{"lait", "beurre", "farine"} {
		f.searcher.products[name] = []models.ProductRecord{record(name, 1.5)}
	}

	result, err := f.matcher.MatchBatch(ctx, ingredients, "leclerc", DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Matched)
	assert.Equal(t, 4, f.searcher.calls())
	assert.Equal(t, []string{"leclerc"}, f.searcher.opened)
	assert.Equal(t, 1, f.searcher.closed)

	_, err = f.matcher.Match(ctx, &ingredients[0], "leclerc", DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, f.searcher.opened, 1)
}

func TestPickProduct(t *testing.T) {
	first := models.ProductRecord{ProductName: "Tomates cerises 250g"}
	assert.Equal(t, first, PickProduct("tomates cerises", []models.ProductRecord{first, {ProductName: "Tomates cerises bio"}}))

	offTopic := models.ProductRecord{ProductName: "Ketchup"}
	relevant := models.ProductRecord{ProductName: "Tomates grappe"}
	assert.Equal(t, relevant, PickProduct("500g de tomates", []models.ProductRecord{offTopic, {ProductName: "Sauce"}, relevant}))

	assert.Equal(t, offTopic, PickProduct("safran", []models.ProductRecord{offTopic, {ProductName: "Sauce"}}))
}

func TestLookup_SessionErrors(t *testing.T) {
	f := newFixture(t)
	ing := f.ingredient(t, "lait", 1)

	lookup := NewLookup(failingSessions{err: &scraper.UnknownRetailerError{Name: "monoprix"}}, f.store, "monoprix", config.StoreContextScraping, LiveMatchScore)
	_, err := lookup.Find(context.Background(), &ing)
	assert.True(t, scraper.IsUnknownRetailer(err))

	lookup = NewLookup(failingSessions{err: fmt.Errorf("aldi: %w", scraper.ErrRetailerDisabled)}, f.store, "aldi", config.StoreContextScraping, LiveMatchScore)
	_, err = lookup.Find(context.Background(), &ing)
	assert.ErrorIs(t, err, ErrSearchFailed)
	assert.ErrorIs(t, err, scraper.ErrRetailerDisabled)
	lookup.Close()
}

type failingSessions struct{ err error }

func (s failingSessions) Session(retailer string) (scraper.Session, error) { return nil, s.err }

func TestRefreshMatches_BypassesCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ing := f.ingredient(t, "lait", 1)
	f.searcher.products["lait"] = []models.ProductRecord{record("Lait entier", 1.15)}

	_, err := f.matcher.Match(ctx, &ing, "carrefour", DefaultOptions())
	require.NoError(t, err)

	f.searcher.products["lait"] = []models.ProductRecord{record("Lait demi-écrémé", 0.99)}
	result, err := f.matcher.RefreshMatches(ctx, []models.Ingredient{ing}, "carrefour")
	require.NoError(t, err)

	assert.Equal(t, 2, f.searcher.calls())
	assert.Equal(t, "Lait demi-écrémé", result.Matches[ing.ID].ProductName)
}

func TestMatch_ConcurrentCallsCollapse(t *testing.T) {
	f := newFixture(t)
	ing := f.ingredient(t, "pâtes", 1)
	f.searcher.products["pâtes"] = []models.ProductRecord{record("Pâtes coquillettes", 0.79)}

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			local := ing
			match, err := f.matcher.Match(context.Background(), &local, "lidl", DefaultOptions())
			if assert.NoError(t, err) && assert.NotNil(t, match) {
				ids[i] = match.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.searcher.calls())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestToCartItems(t *testing.T) {
	ingredients := []models.Ingredient{
		{ID: 1, Name: "lait", Quantity: 2},
		{ID: 2, Name: "safran", Quantity: 1},
		{ID: 3, Name: "beurre", Quantity: 0.25},
		{ID: 4, Name: "farine", Quantity: 0},
	}
	matches := map[int64]*models.ProductMatch{
		1: {ID: 10, ProductURL: "https://www.intermarche.com/produit/lait-demi-ecreme/3250390000167"},
		2: nil,
		3: {ID: 12, ProductURL: "https://www.intermarche.com/produit/beurre/3228020000251/"},
		4: {ID: 13},
	}

	items := ToCartItems(matches, ingredients)
	assert.Equal(t, []models.CartItem{
		{ItemID: "3250390000167", Quantity: 2, Catalog: "PDV"},
		{ItemID: "3228020000251", Quantity: 1, Catalog: "PDV"},
		{ItemID: "13", Quantity: 1, Catalog: "PDV"},
	}, items)
}
