package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"panierfacile-pricing/pkg/models"
)

const matchColumns = `id, ingredient_id, retailer, store_id, product_name, price, product_url,
	image_url, brand, is_available, match_score, last_updated, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*models.ProductMatch, error) {
	var m models.ProductMatch
	var price sql.NullFloat64
	err := row.Scan(
		&m.ID, &m.IngredientID, &m.Retailer, &m.StoreID, &m.ProductName, &price, &m.ProductURL,
		&m.ImageURL, &m.Brand, &m.IsAvailable, &m.MatchScore, &m.LastUpdated, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if price.Valid {
		m.Price = &price.Float64
	}
	return &m, nil
}

// UpsertMatch writes m as the match for its (ingredient, retailer,
// store) key, replacing any previous one, and returns the stored row.
// Concurrent writers are last-writer-wins.
func (s *Store) UpsertMatch(ctx context.Context, m *models.ProductMatch) (*models.ProductMatch, error) {
	now := s.timestamp()
	var price interface{}
	if m.Price != nil {
		price = *m.Price
	}

	query := s.rebind(`
		INSERT INTO product_matches (
			ingredient_id, retailer, store_id, product_name, price, product_url,
			image_url, brand, is_available, match_score, last_updated, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ingredient_id, retailer, store_id) DO UPDATE SET
			product_name = excluded.product_name,
			price = excluded.price,
			product_url = excluded.product_url,
			image_url = excluded.image_url,
			brand = excluded.brand,
			is_available = excluded.is_available,
			match_score = excluded.match_score,
			last_updated = excluded.last_updated
		RETURNING ` + matchColumns)

	stored, err := scanMatch(s.db.QueryRowContext(ctx, query,
		m.IngredientID, strings.ToLower(m.Retailer), m.StoreID, m.ProductName, price, m.ProductURL,
		m.ImageURL, m.Brand, m.IsAvailable, m.MatchScore, now, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert match for ingredient %d at %s: %w", m.IngredientID, m.Retailer, err)
	}
	return stored, nil
}

// GetMatch returns a match by id
func (s *Store) GetMatch(ctx context.Context, id int64) (*models.ProductMatch, error) {
	query := s.rebind(`SELECT ` + matchColumns + ` FROM product_matches WHERE id = ?`)

	m, err := scanMatch(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("match %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

// FindFresh returns the match for the key if it was updated at or
// after since
func (s *Store) FindFresh(ctx context.Context, ingredientID int64, retailer, storeID string, since time.Time) (*models.ProductMatch, error) {
	query := s.rebind(`
		SELECT ` + matchColumns + `
		FROM product_matches
		WHERE ingredient_id = ? AND retailer = ? AND store_id = ? AND last_updated >= ?
	`)

	m, err := scanMatch(s.db.QueryRowContext(ctx, query, ingredientID, strings.ToLower(retailer), storeID, since.UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find fresh match: %w", err)
	}
	return m, nil
}

// FreshMatches returns the matches updated at or after since for the
// given ingredients, keyed by ingredient id
func (s *Store) FreshMatches(ctx context.Context, ingredientIDs []int64, retailer, storeID string, since time.Time) (map[int64]*models.ProductMatch, error) {
	out := make(map[int64]*models.ProductMatch, len(ingredientIDs))
	if len(ingredientIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ingredientIDs)), ", ")
	query := s.rebind(`
		SELECT ` + matchColumns + `
		FROM product_matches
		WHERE retailer = ? AND store_id = ? AND last_updated >= ? AND ingredient_id IN (` + placeholders + `)
	`)

	args := make([]interface{}, 0, len(ingredientIDs)+3)
	args = append(args, strings.ToLower(retailer), storeID, since.UTC())
	for _, id := range ingredientIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get fresh matches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		out[m.IngredientID] = m
	}
	return out, rows.Err()
}
