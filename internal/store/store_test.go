package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panierfacile-pricing/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenWith(DriverSQLite, filepath.Join(t.TempDir(), "test.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func at(s *Store, ts time.Time) {
	s.now = func() time.Time { return ts }
}

func TestGetOrCreateIngredient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateIngredient(ctx, " tomates cerises ", 500, "G")
	require.NoError(t, err)
	second, err := s.GetOrCreateIngredient(ctx, "tomates cerises", 250, "g")
	require.NoError(t, err)
	other, err := s.GetOrCreateIngredient(ctx, "tomates cerises", 1, "barquette")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "tomates cerises", second.Name)
	assert.Equal(t, 500.0, second.Quantity)
	assert.NotEqual(t, first.ID, other.ID)

	got, err := s.GetIngredient(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "g", got.Unit)

	_, err = s.GetOrCreateIngredient(ctx, "  ", 1, "")
	assert.Error(t, err)
	_, err = s.GetIngredient(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPopularIngredients(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	at(s, base.Add(-30*24*time.Hour))
	_, err := s.GetOrCreateIngredient(ctx, "farine", 1, "kg")
	require.NoError(t, err)

	at(s, base)
	for i := 0; i < 3; i++ {
		_, err = s.GetOrCreateIngredient(ctx, "lait", 1, "l")
		require.NoError(t, err)
	}
	_, err = s.GetOrCreateIngredient(ctx, "beurre", 250, "g")
	require.NoError(t, err)

	popular, err := s.PopularIngredients(ctx, base.Add(-7*24*time.Hour), 50)
	require.NoError(t, err)
	require.Len(t, popular, 2)
	assert.Equal(t, "lait", popular[0].Name)
	assert.Equal(t, "beurre", popular[1].Name)

	limited, err := s.PopularIngredients(ctx, base.Add(-7*24*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpsertMatch_IsIdempotentPerKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ing, err := s.GetOrCreateIngredient(ctx, "lait demi-écrémé", 1, "l")
	require.NoError(t, err)

	at(s, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	first, err := s.UpsertMatch(ctx, &models.ProductMatch{
		IngredientID: ing.ID, Retailer: "Leclerc", StoreID: "scraping",
		ProductName: "Lait demi-écrémé UHT 1L", Price: models.Float64(0.95),
		IsAvailable: true, MatchScore: 1.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "leclerc", first.Retailer)

	at(s, time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC))
	second, err := s.UpsertMatch(ctx, &models.ProductMatch{
		IngredientID: ing.ID, Retailer: "leclerc", StoreID: "scraping",
		ProductName: "Lait demi-écrémé Lactel 1L", IsAvailable: false, MatchScore: 0.8,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Lait demi-écrémé Lactel 1L", second.ProductName)
	assert.Nil(t, second.Price)
	assert.False(t, second.IsAvailable)
	assert.True(t, second.LastUpdated.After(first.LastUpdated))
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["product_matches"])

	other, err := s.UpsertMatch(ctx, &models.ProductMatch{
		IngredientID: ing.ID, Retailer: "lidl", StoreID: "scraping", ProductName: "Lait Milbona",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestFindFresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ing, err := s.GetOrCreateIngredient(ctx, "beurre doux", 250, "g")
	require.NoError(t, err)

	updated := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	at(s, updated)
	saved, err := s.UpsertMatch(ctx, &models.ProductMatch{
		IngredientID: ing.ID, Retailer: "aldi", StoreID: "scraping",
		ProductName: "Beurre doux 250g", Price: models.Float64(2.19), IsAvailable: true, MatchScore: 1,
	})
	require.NoError(t, err)

	found, err := s.FindFresh(ctx, ing.ID, "aldi", "scraping", updated.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, saved.ID, found.ID)
	require.NotNil(t, found.Price)
	assert.Equal(t, 2.19, *found.Price)

	_, err = s.FindFresh(ctx, ing.ID, "aldi", "scraping", updated.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindFresh(ctx, ing.ID, "aldi", "store-42", updated.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetMatch(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Beurre doux 250g", got.ProductName)
	_, err = s.GetMatch(ctx, saved.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFreshMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []int64
	for _, name := range []string{"pâtes", "riz", "sucre"} {
		ing, err := s.GetOrCreateIngredient(ctx, name, 1, "")
		require.NoError(t, err)
		ids = append(ids, ing.ID)
	}

	at(s, now.Add(-48*time.Hour))
	_, err := s.UpsertMatch(ctx, &models.ProductMatch{IngredientID: ids[0], Retailer: "carrefour", StoreID: "scraping", ProductName: "Pâtes"})
	require.NoError(t, err)
	at(s, now.Add(-time.Hour))
	_, err = s.UpsertMatch(ctx, &models.ProductMatch{IngredientID: ids[1], Retailer: "carrefour", StoreID: "scraping", ProductName: "Riz"})
	require.NoError(t, err)

	fresh, err := s.FreshMatches(ctx, ids, "carrefour", "scraping", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
	assert.Equal(t, "Riz", fresh[ids[1]].ProductName)

	empty, err := s.FreshMatches(ctx, nil, "carrefour", "scraping", now)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestComparisons(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &models.PriceComparison{
		Retailers: []models.RetailerTotal{
			{Retailer: "auchan", Total: models.Float64(12.4), Found: 3},
			{Retailer: "carrefour", Total: models.Float64(13.1), Found: 3},
		},
		TotalIngredients: 3,
		Cheapest:         "auchan",
		Savings:          models.Float64(0.7),
	}
	require.NoError(t, s.SaveComparison(ctx, c))
	require.NotEmpty(t, c.ID)

	got, err := s.GetComparison(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "auchan", got.Cheapest)
	assert.Equal(t, 3, got.TotalIngredients)
	assert.Equal(t, c.Totals(), got.Totals())

	assert.Error(t, s.SaveComparison(ctx, c))

	_, err = s.GetComparison(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpenWith_UnknownDriver(t *testing.T) {
	_, err := OpenWith("mysql", "dsn", 1)
	assert.Error(t, err)
}
